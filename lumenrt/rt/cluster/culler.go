package cluster

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// Result is one frame's light assignment.
type Result struct {
	Grid    []gpu.LightGridBlock // one per cluster
	Indices []uint32             // flat bucket storage, len = used slots
	// Dropped counts light-cluster pairs cut off by the index capacity.
	Dropped int
}

// Culler assigns lights to clusters on a pool of reusable workers.
type Culler struct {
	pool     worker.DynamicWorkerPool
	workers  int
	capacity int

	grid    []gpu.LightGridBlock
	indices []uint32
	taskID  int
	closed  bool
}

// NewCuller creates a culler with the given worker count and index capacity.
// Non-positive values select max(NumCPU-1, 1) workers and
// GridSize*MaxLightsPerCluster indices.
func NewCuller(workers, capacity int) *Culler {
	if workers <= 0 {
		workers = max(runtime.NumCPU()-1, 1)
	}
	if capacity <= 0 {
		capacity = GridSize * MaxLightsPerCluster
	}
	return &Culler{
		pool:     worker.NewDynamicWorkerPool(workers, 256, 1*time.Second),
		workers:  workers,
		capacity: capacity,
		grid:     make([]gpu.LightGridBlock, GridSize),
		indices:  make([]uint32, capacity),
	}
}

func (c *Culler) Capacity() int { return c.capacity }

// Close stops the worker pool. Later calls to Cull run on the caller's
// goroutine.
func (c *Culler) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.pool.Stop()
}

type viewSphere struct {
	center mgl32.Vec3
	radius float32
	index  uint32
}

// Cull tests every light sphere against every cluster AABB in view space.
// proj is the non-reversed camera projection, used to drop lights outside
// the frustum before the per-cluster tests. Bucket order is unspecified.
// The returned slices are reused by the next call.
func (c *Culler) Cull(clusters []gpu.ClusterBlock, view, proj mgl32.Mat4, lights []core.LightPoint) Result {
	planes := core.ExtractFrustum(proj)
	spheres := make([]viewSphere, 0, len(lights))
	for i, l := range lights {
		center := view.Mul4x1(l.Position.Vec4(1)).Vec3()
		if !core.SphereInFrustum(center, l.Radius, planes) {
			continue
		}
		spheres = append(spheres, viewSphere{center: center, radius: l.Radius, index: uint32(i)})
	}

	if len(clusters) > len(c.grid) {
		c.grid = make([]gpu.LightGridBlock, len(clusters))
	}
	grid := c.grid[:len(clusters)]

	var next, dropped atomic.Int64
	capacity := int64(c.capacity)

	cullRange := func(from, to int) {
		hits := make([]uint32, 0, 64)
		for ci := from; ci < to; ci++ {
			hits = hits[:0]
			aabb := clusters[ci].AABB()
			for _, s := range spheres {
				if core.SphereIntersectsAABB(s.center, s.radius, aabb) {
					hits = append(hits, s.index)
				}
			}

			n := int64(len(hits))
			offset := next.Add(n) - n
			count := n
			if offset >= capacity {
				offset, count = capacity, 0
			} else if offset+count > capacity {
				count = capacity - offset
			}
			if count < n {
				dropped.Add(n - count)
			}
			copy(c.indices[offset:offset+count], hits[:count])
			grid[ci] = gpu.LightGridBlock{Count: uint32(count), Offset: uint32(offset)}
		}
	}

	chunks := min(c.workers*4, 256, len(clusters))
	if len(spheres) == 0 || chunks <= 1 || c.closed {
		cullRange(0, len(clusters))
	} else {
		per := (len(clusters) + chunks - 1) / chunks
		var wg sync.WaitGroup
		for from := 0; from < len(clusters); from += per {
			to := min(from+per, len(clusters))
			wg.Add(1)
			id := c.taskID
			c.taskID++
			c.pool.SubmitTask(worker.Task{
				ID: id,
				Do: func() (any, error) {
					defer wg.Done()
					cullRange(from, to)
					return nil, nil
				},
			})
		}
		wg.Wait()
	}

	used := min(next.Load(), capacity)
	return Result{Grid: grid, Indices: c.indices[:used], Dropped: int(dropped.Load())}
}
