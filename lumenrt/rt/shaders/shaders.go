package shaders

import (
	_ "embed"
)

//go:embed depth.wgsl
var DepthWGSL string

//go:embed shadow_csm.wgsl
var ShadowCsmWGSL string

//go:embed shadow_cube.wgsl
var ShadowCubeWGSL string

//go:embed downsample_depth.wgsl
var DownsampleDepthWGSL string

//go:embed gtao.wgsl
var GtaoWGSL string

//go:embed gtao_spatial.wgsl
var GtaoSpatialWGSL string

//go:embed gtao_temporal.wgsl
var GtaoTemporalWGSL string

//go:embed lighting.wgsl
var LightingWGSL string

//go:embed screen.wgsl
var ScreenWGSL string
