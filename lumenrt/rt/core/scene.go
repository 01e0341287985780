package core

import (
	"github.com/google/uuid"
)

// Handle identifies a component in a Scene.
type Handle uuid.UUID

var NilHandle = Handle(uuid.Nil)

func NewHandle() Handle { return Handle(uuid.New()) }

func (h Handle) String() string { return uuid.UUID(h).String() }

func (h Handle) IsNil() bool { return h == NilHandle }

// Scene holds cameras and lights keyed by handle.
// The active camera and light environment are the ones a frame renders.
type Scene struct {
	cameras      map[Handle]*Camera
	environments map[Handle]*LightEnvironment
	points       map[Handle]*LightPoint
	pointOrder   []Handle

	activeCamera      Handle
	activeEnvironment Handle
}

func NewScene() *Scene {
	return &Scene{
		cameras:      make(map[Handle]*Camera),
		environments: make(map[Handle]*LightEnvironment),
		points:       make(map[Handle]*LightPoint),
	}
}

// AddCamera registers cam; the first camera added becomes active.
func (s *Scene) AddCamera(cam *Camera) Handle {
	h := NewHandle()
	s.cameras[h] = cam
	if s.activeCamera.IsNil() {
		s.activeCamera = h
	}
	return h
}

func (s *Scene) Camera(h Handle) (*Camera, bool) {
	c, ok := s.cameras[h]
	return c, ok
}

func (s *Scene) SetActiveCamera(h Handle) bool {
	if _, ok := s.cameras[h]; !ok {
		return false
	}
	s.activeCamera = h
	return true
}

func (s *Scene) ActiveCamera() (*Camera, bool) {
	return s.Camera(s.activeCamera)
}

func (s *Scene) RemoveCamera(h Handle) {
	delete(s.cameras, h)
	if s.activeCamera == h {
		s.activeCamera = NilHandle
	}
}

// AddLightEnvironment registers env; the first one added becomes active.
func (s *Scene) AddLightEnvironment(env *LightEnvironment) Handle {
	h := NewHandle()
	s.environments[h] = env
	if s.activeEnvironment.IsNil() {
		s.activeEnvironment = h
	}
	return h
}

func (s *Scene) LightEnvironment(h Handle) (*LightEnvironment, bool) {
	e, ok := s.environments[h]
	return e, ok
}

func (s *Scene) SetActiveLightEnvironment(h Handle) bool {
	if _, ok := s.environments[h]; !ok {
		return false
	}
	s.activeEnvironment = h
	return true
}

func (s *Scene) RemoveLightEnvironment(h Handle) {
	delete(s.environments, h)
	if s.activeEnvironment == h {
		s.activeEnvironment = NilHandle
	}
}

func (s *Scene) AddLightPoint(p LightPoint) Handle {
	h := NewHandle()
	lp := p
	s.points[h] = &lp
	s.pointOrder = append(s.pointOrder, h)
	return h
}

func (s *Scene) LightPoint(h Handle) (*LightPoint, bool) {
	p, ok := s.points[h]
	return p, ok
}

func (s *Scene) RemoveLightPoint(h Handle) {
	if _, ok := s.points[h]; !ok {
		return
	}
	delete(s.points, h)
	for i, o := range s.pointOrder {
		if o == h {
			s.pointOrder = append(s.pointOrder[:i], s.pointOrder[i+1:]...)
			break
		}
	}
}

// Remove deletes whichever component h refers to.
func (s *Scene) Remove(h Handle) {
	switch {
	case s.cameras[h] != nil:
		s.RemoveCamera(h)
	case s.environments[h] != nil:
		s.RemoveLightEnvironment(h)
	default:
		s.RemoveLightPoint(h)
	}
}

func (s *Scene) LightPointCount() int { return len(s.pointOrder) }

// Publish snapshots the scene for one frame. Point lights keep insertion
// order; lights with no radius are skipped and the list is capped at
// MaxLightPoints.
func (s *Scene) Publish(settings Settings) FrameContext {
	ctx := FrameContext{Settings: settings}

	if cam, ok := s.ActiveCamera(); ok {
		c := *cam
		c.Clamp()
		c.ReversedZ = settings.EnableReverseZ
		ctx.Camera = &c
	}
	if env, ok := s.environments[s.activeEnvironment]; ok {
		e := *env
		ctx.LightEnvironment = &e
	}

	ctx.LightPoints = make([]LightPoint, 0, min(len(s.pointOrder), MaxLightPoints))
	for _, h := range s.pointOrder {
		if len(ctx.LightPoints) == MaxLightPoints {
			break
		}
		p := s.points[h]
		if p.Radius <= 0 {
			continue
		}
		ctx.LightPoints = append(ctx.LightPoints, *p)
	}
	return ctx
}
