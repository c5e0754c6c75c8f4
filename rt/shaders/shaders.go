package shaders

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/gogpu/naga"
)

//go:embed voxelize_triangles.wgsl
var VoxelizeTrianglesWGSL string

//go:embed voxelize_points.wgsl
var VoxelizePointsWGSL string

//go:embed mip_downsample.wgsl
var MipDownsampleWGSL string

//go:embed raymarch.wgsl
var RaymarchWGSL string

//go:embed denoise_reproject.wgsl
var DenoiseReprojectWGSL string

//go:embed denoise_blur.wgsl
var DenoiseBlurWGSL string

//go:embed clear_3d.wgsl
var Clear3DWGSL string

//go:embed clear_2d.wgsl
var Clear2DWGSL string

//go:embed blit.wgsl
var BlitWGSL string

// Compute kernels are keyed by kernel name and use "main" as entry point.
var compute = map[string]string{
	"voxelize_triangles": VoxelizeTrianglesWGSL,
	"voxelize_points":    VoxelizePointsWGSL,
	"mip_downsample":     MipDownsampleWGSL,
	"raymarch":           RaymarchWGSL,
	"denoise_reproject":  DenoiseReprojectWGSL,
	"denoise_blur":       DenoiseBlurWGSL,
	"clear_3d":           Clear3DWGSL,
	"clear_2d":           Clear2DWGSL,
}

const EntryPoint = "main"

// Source returns the WGSL module for a compute kernel.
func Source(kernel string) (string, bool) {
	src, ok := compute[kernel]
	return src, ok
}

// Kernels lists every compute kernel with a WGSL module.
func Kernels() []string {
	out := make([]string, 0, len(compute))
	for name := range compute {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate compiles a WGSL module to SPIR-V and discards the result, so
// syntax and type errors surface before a device is involved.
func Validate(name, src string) error {
	if _, err := naga.Compile(src); err != nil {
		return fmt.Errorf("shader %s: %w", name, err)
	}
	return nil
}
