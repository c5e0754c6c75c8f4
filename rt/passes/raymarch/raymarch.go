// Package raymarch traces one primary ray per pixel through the voxel mip
// chain and writes color, normalized depth and world position.
package raymarch

import (
	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/frame"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

var Kernel = gpu.Kernel{Name: "raymarch", WorkgroupSize: [3]uint32{8, 8, 1}}

// DefaultSun points toward the light used when lighting is enabled.
var DefaultSun = mgl32.Vec3{0.3, 0.5, 0.8}.Normalize()

type Params struct {
	Camera     mgl32.Mat4
	VolumeSize [3]uint32
	Levels     uint32
	Width      uint32
	Height     uint32
	Focal      float32
	Aspect     float32
	MaxSteps   uint32
	Samples    uint32
	Lighting   bool
	Frame      uint32
	Sun        mgl32.Vec3
}

func (p Params) Bytes() []byte {
	buf := make([]byte, 128)
	gpu.PutMat4(buf, 0, p.Camera)
	gpu.PutU32(buf, 64, p.VolumeSize[0])
	gpu.PutU32(buf, 68, p.VolumeSize[1])
	gpu.PutU32(buf, 72, p.VolumeSize[2])
	gpu.PutU32(buf, 76, p.Levels)
	gpu.PutF32(buf, 80, float32(p.Width))
	gpu.PutF32(buf, 84, float32(p.Height))
	gpu.PutF32(buf, 88, p.Focal)
	gpu.PutF32(buf, 92, p.Aspect)
	gpu.PutU32(buf, 96, p.MaxSteps)
	gpu.PutU32(buf, 100, p.Samples)
	if p.Lighting {
		gpu.PutU32(buf, 104, 1)
	}
	gpu.PutU32(buf, 108, p.Frame)
	gpu.PutVec4(buf, 112, [4]float32{p.Sun.X(), p.Sun.Y(), p.Sun.Z(), 0})
	return buf
}

type Pass struct {
	logger voxmarch.Logger
	sun    mgl32.Vec3
}

func New(logger voxmarch.Logger) *Pass {
	return &Pass{logger: voxmarch.OrNop(logger), sun: DefaultSun}
}

// SetSun changes the light direction. A zero vector restores the default.
func (p *Pass) SetSun(dir mgl32.Vec3) {
	if dir.Len() == 0 {
		p.sun = DefaultSun
		return
	}
	p.sun = dir.Normalize()
}

func (p *Pass) Name() string { return "raymarch" }

func (p *Pass) Reads() []frame.ResourceRef {
	return []frame.ResourceRef{frame.Read(atlas.KeyVolume)}
}

func (p *Pass) Writes() []string {
	return []string{atlas.KeyRayColor, atlas.KeyRayDepth, atlas.KeyRayPosition}
}

func (p *Pass) Params(ctx *frame.Context) Params {
	info := ctx.Atlas.VolumeInfo()
	w, h := ctx.Atlas.Size()
	return Params{
		Camera:     ctx.Snapshot.Camera,
		VolumeSize: info.Size,
		Levels:     info.MipLevels,
		Width:      w,
		Height:     h,
		Focal:      ctx.FocalLength,
		Aspect:     ctx.Aspect,
		MaxSteps:   uint32(max(ctx.Settings.MaxSteps, 0)),
		Samples:    uint32(max(ctx.Settings.Samples, 0)),
		Lighting:   ctx.Settings.DoLighting,
		Frame:      uint32(ctx.Frame),
		Sun:        p.sun,
	}
}

func (p *Pass) Encode(ctx *frame.Context) error {
	a := ctx.Atlas
	params := p.Params(ctx)
	ctx.Encoder.Dispatch(Kernel, []gpu.Binding{
		gpu.UniformData(0, params),
		gpu.TextureRead(1, a.VolumeAll()),
		gpu.TextureWrite(2, a.RayColor()),
		gpu.TextureWrite(3, a.RayDepth()),
		gpu.TextureWrite(4, a.RayPosition()),
	}, Kernel.Groups(params.Width, params.Height, 1))
	return nil
}
