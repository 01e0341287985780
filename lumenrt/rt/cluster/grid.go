// Package cluster partitions the view frustum into froxels and buckets
// point lights into them.
package cluster

import "math"

const (
	GridX    = 16
	GridY    = 8
	GridZ    = 24
	GridSize = GridX * GridY * GridZ

	// MaxLightsPerCluster sizes the light index list: GridSize*MaxLightsPerCluster.
	MaxLightsPerCluster = 256
)

// Index flattens a grid coordinate, x fastest.
func Index(x, y, z int) int {
	return x + y*GridX + z*GridX*GridY
}

// Coords is the inverse of Index.
func Coords(i int) (x, y, z int) {
	z = i / (GridX * GridY)
	i -= z * GridX * GridY
	y = i / GridX
	x = i - y*GridX
	return x, y, z
}

func sliceFactors64(near, far float64) (scale, bias float64) {
	l := math.Log2(far / near)
	scale = GridZ / l
	bias = -GridZ * math.Log2(near) / l
	return scale, bias
}

// SliceFactors returns the scale and bias mapping log2(z) to a depth slice.
func SliceFactors(near, far float32) (scale, bias float32) {
	s, b := sliceFactors64(float64(near), float64(far))
	return float32(s), float32(b)
}

// Slice maps a positive view-space depth to its slice in [0, GridZ-1].
func Slice(z, near, far float32) int {
	if z <= 0 {
		return 0
	}
	scale, bias := sliceFactors64(float64(near), float64(far))
	s := int(math.Floor(math.Log2(float64(z))*scale + bias))
	return min(max(s, 0), GridZ-1)
}

// SliceDepth is the view-space depth of slice boundary k; k=0 is near and
// k=GridZ is far.
func SliceDepth(k int, near, far float32) float32 {
	n, f := float64(near), float64(far)
	return float32(n * math.Pow(f/n, float64(k)/GridZ))
}
