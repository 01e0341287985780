package core

const MaxLightPoints = 1024

// DrawOutput selects the image shown by the screen composite.
type DrawOutput uint32

const (
	DrawAmbientOcclusion DrawOutput = 1 << 0
	DrawLighting         DrawOutput = 1 << 1
)

func (d DrawOutput) String() string {
	switch d {
	case DrawAmbientOcclusion:
		return "ao"
	case DrawLighting:
		return "lighting"
	default:
		return "unknown"
	}
}

// Settings are the user-tunable render toggles read once per frame.
type Settings struct {
	EnableAmbientOcclusion bool
	EnableReverseZ         bool
	EnableVSync            bool
	EnableWireframe        bool

	AORadius      float32
	AOFalloffNear float32
	AOFalloffFar  float32
	AOSamples     int32
	AOSlices      int32

	// Shadow maps store depth moments. The VarianceMax values are the
	// variance floor of the Chebyshev test, trading acne for light bleed.
	ShadowCsmFilterRadius  float32
	ShadowCsmVarianceMax   float32
	ShadowCubeFilterRadius float32
	ShadowCubeVarianceMax  float32

	DrawOutput DrawOutput
}

func DefaultSettings() Settings {
	return Settings{
		EnableAmbientOcclusion: true,
		EnableReverseZ:         true,
		AORadius:               4,
		AOFalloffNear:          1,
		AOFalloffFar:           2000,
		AOSamples:              4,
		AOSlices:               4,
		ShadowCsmFilterRadius:  2,
		ShadowCsmVarianceMax:   0.00008,
		ShadowCubeFilterRadius: 2,
		ShadowCubeVarianceMax:  0.00008,
		DrawOutput:             DrawLighting,
	}
}

// Sanitize clamps counts to at least one and radii to non-negative values.
// An unknown draw output falls back to the lit image.
func (s Settings) Sanitize() Settings {
	s.AOSamples = max(s.AOSamples, 1)
	s.AOSlices = max(s.AOSlices, 1)
	s.AORadius = max(s.AORadius, 0)
	s.AOFalloffNear = max(s.AOFalloffNear, 0)
	s.AOFalloffFar = max(s.AOFalloffFar, s.AOFalloffNear)
	s.ShadowCsmFilterRadius = max(s.ShadowCsmFilterRadius, 0)
	s.ShadowCubeFilterRadius = max(s.ShadowCubeFilterRadius, 0)
	s.ShadowCsmVarianceMax = max(s.ShadowCsmVarianceMax, 0)
	s.ShadowCubeVarianceMax = max(s.ShadowCubeVarianceMax, 0)
	if s.DrawOutput != DrawAmbientOcclusion && s.DrawOutput != DrawLighting {
		s.DrawOutput = DrawLighting
	}
	return s
}

// FrameContext is an immutable snapshot of everything a frame renders.
// Nil Camera or LightEnvironment means the scene has none active.
type FrameContext struct {
	Camera           *Camera
	LightEnvironment *LightEnvironment
	LightPoints      []LightPoint
	Settings         Settings
}
