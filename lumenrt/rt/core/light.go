package core

import "github.com/go-gl/mathgl/mgl32"

// LightEnvironment is the scene-wide directional light plus ambient term.
type LightEnvironment struct {
	AmbientColor mgl32.Vec3
	BaseColor    mgl32.Vec3
	Pitch        float32 // degrees
	Yaw          float32 // degrees
}

func NewLightEnvironment() *LightEnvironment {
	return &LightEnvironment{
		AmbientColor: mgl32.Vec3{0.05, 0.05, 0.05},
		BaseColor:    mgl32.Vec3{1, 1, 1},
		Pitch:        -60,
		Yaw:          45,
	}
}

// Forward is the direction the light travels.
func (l *LightEnvironment) Forward() mgl32.Vec3 {
	return forwardFromAngles(l.Pitch, l.Yaw)
}

// LightPoint is an omnidirectional light. Radius bounds its influence.
type LightPoint struct {
	Position    mgl32.Vec3
	BaseColor   mgl32.Vec3
	Radius      float32
	CastShadows bool
}

func NewLightPoint(position, color mgl32.Vec3, radius float32) LightPoint {
	return LightPoint{Position: position, BaseColor: color, Radius: radius}
}
