// Package denoise accumulates ray-march output over frames: the current
// color is blended with last frame's result reprojected through the previous
// camera, then smoothed by an edge-avoiding blur.
package denoise

import (
	"math"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/frame"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	ReprojectKernel = gpu.Kernel{Name: "denoise_reproject", WorkgroupSize: [3]uint32{8, 8, 1}}
	BlurKernel      = gpu.Kernel{Name: "denoise_blur", WorkgroupSize: [3]uint32{8, 8, 1}}
)

const maxBlurRadius = 4

// BlurRadius is the kernel half-width for a Gaussian of the given sigma.
func BlurRadius(sigma float32) uint32 {
	if sigma <= 0 {
		return 0
	}
	return min(uint32(math.Ceil(float64(2*sigma))), maxBlurRadius)
}

type ReprojectParams struct {
	InversePastCamera mgl32.Mat4
	Width, Height     uint32
	Focal, Aspect     float32
	Percent           float32
	HistoryValid      bool
}

func (p ReprojectParams) Bytes() []byte {
	buf := make([]byte, 96)
	gpu.PutMat4(buf, 0, p.InversePastCamera)
	gpu.PutVec4(buf, 64, [4]float32{float32(p.Width), float32(p.Height), p.Focal, p.Aspect})
	valid := float32(0)
	if p.HistoryValid {
		valid = 1
	}
	gpu.PutVec4(buf, 80, [4]float32{p.Percent, valid, 0, 0})
	return buf
}

type BlurParams struct {
	Sigma         float32
	Radius        uint32
	Enabled       bool
	Width, Height uint32
}

func (p BlurParams) Bytes() []byte {
	buf := make([]byte, 32)
	enabled := float32(0)
	if p.Enabled {
		enabled = 1
	}
	gpu.PutVec4(buf, 0, [4]float32{p.Sigma, float32(p.Radius), enabled, 0})
	gpu.PutVec4(buf, 16, [4]float32{float32(p.Width), float32(p.Height), 0, 0})
	return buf
}

// Pass owns the previous camera matrix between frames. History is the
// post-blur color of the previous frame.
type Pass struct {
	logger       voxmarch.Logger
	pastCamera   mgl32.Mat4
	historyValid bool
}

func New(logger voxmarch.Logger) *Pass {
	return &Pass{logger: voxmarch.OrNop(logger)}
}

func (p *Pass) Name() string { return "denoise" }

func (p *Pass) Reads() []frame.ResourceRef {
	return []frame.ResourceRef{
		frame.Read(atlas.KeyRayColor),
		frame.Read(atlas.KeyRayPosition),
		frame.History(atlas.KeyDenoiseColor),
	}
}

func (p *Pass) Writes() []string {
	return []string{atlas.KeyDenoiseBlend, atlas.KeyDenoiseColor}
}

// Invalidate drops the history; the next frame uses the current color only.
// Called after a resize, when the history attachments are recreated.
func (p *Pass) Invalidate() { p.historyValid = false }

func (p *Pass) HistoryValid() bool { return p.historyValid }

// SeedHistory clears both halves of the history pair to transparent black.
func (p *Pass) SeedHistory(enc gpu.Encoder, a *atlas.Atlas) {
	read, err := a.GetForRead(atlas.KeyDenoiseColor)
	if err == nil {
		enc.ClearTexture(read, [4]float32{})
	}
	enc.ClearTexture(a.DenoiseTarget(), [4]float32{})
	p.historyValid = false
}

func (p *Pass) Encode(ctx *frame.Context) error {
	a := ctx.Atlas
	w, h := a.Size()
	s := ctx.Settings

	ctx.Encoder.Dispatch(ReprojectKernel, []gpu.Binding{
		gpu.UniformData(0, ReprojectParams{
			InversePastCamera: p.pastCamera.Inv(),
			Width:             w,
			Height:            h,
			Focal:             ctx.FocalLength,
			Aspect:            ctx.Aspect,
			Percent:           s.ReprojectionPercent,
			HistoryValid:      p.historyValid,
		}),
		gpu.TextureRead(1, a.RayColor()),
		gpu.TextureRead(2, a.RayPosition()),
		gpu.TextureRead(3, a.DenoiseHistory()),
		gpu.TextureWrite(4, a.DenoiseBlend()),
	}, ReprojectKernel.Groups(w, h, 1))

	ctx.Encoder.Dispatch(BlurKernel, []gpu.Binding{
		gpu.UniformData(0, BlurParams{
			Sigma:   s.BlurStrength,
			Radius:  BlurRadius(s.BlurStrength),
			Enabled: s.EnableFiltering,
			Width:   w,
			Height:  h,
		}),
		gpu.TextureRead(1, a.DenoiseBlend()),
		gpu.TextureRead(2, a.RayPosition()),
		gpu.TextureWrite(3, a.DenoiseTarget()),
	}, BlurKernel.Groups(w, h, 1))

	p.pastCamera = ctx.Snapshot.Camera
	p.historyValid = true
	return nil
}
