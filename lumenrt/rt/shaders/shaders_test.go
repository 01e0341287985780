package shaders

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryPoints(t *testing.T) {
	sources := map[string]string{
		"depth":            DepthWGSL,
		"shadow_csm":       ShadowCsmWGSL,
		"shadow_cube":      ShadowCubeWGSL,
		"downsample_depth": DownsampleDepthWGSL,
		"gtao":             GtaoWGSL,
		"gtao_spatial":     GtaoSpatialWGSL,
		"gtao_temporal":    GtaoTemporalWGSL,
		"lighting":         LightingWGSL,
		"screen":           ScreenWGSL,
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			assert.True(t, strings.Contains(src, "@vertex"), "no vertex stage")
			assert.True(t, strings.Contains(src, "fn vs_main"))
			assert.True(t, strings.Contains(src, "@fragment"), "no fragment stage")
			assert.True(t, strings.Contains(src, "fn fs_main"))
			assert.True(t, strings.Contains(src, "@group(2) @binding(0)"), "uniform block missing")
		})
	}
}
