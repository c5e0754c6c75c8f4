package webgpu

import (
	"fmt"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/google/uuid"
)

type Texture struct {
	id       uuid.UUID
	desc     gpu.TextureDescriptor
	raw      *wgpu.Texture
	dev      *Device
	released atomic.Bool
}

func (t *Texture) ID() uuid.UUID                     { return t.id }
func (t *Texture) Descriptor() gpu.TextureDescriptor { return t.desc }
func (t *Texture) Raw() *wgpu.Texture                { return t.raw }

func (t *Texture) CreateView(v gpu.ViewDescriptor) (gpu.TextureView, error) {
	if t.released.Load() {
		return nil, fmt.Errorf("%w: texture %s", gpu.ErrReleased, t.desc.Label)
	}
	rv, err := gpu.ResolveView(t.desc, v)
	if err != nil {
		return nil, err
	}
	raw, err := t.raw.CreateView(&wgpu.TextureViewDescriptor{
		Label:           fmt.Sprintf("%s mip %d+%d", t.desc.Label, rv.BaseMipLevel, rv.MipLevelCount),
		Format:          textureFormat(t.desc.Format),
		Dimension:       viewDimension(t.desc.Dimension),
		BaseMipLevel:    rv.BaseMipLevel,
		MipLevelCount:   rv.MipLevelCount,
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: view of %s: %w", t.desc.Label, err)
	}
	return &TextureView{tex: t, raw: raw, base: rv.BaseMipLevel, count: rv.MipLevelCount}, nil
}

func (t *Texture) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.raw.Release()
		t.dev.live.Add(-1)
	}
}

type TextureView struct {
	tex         *Texture
	raw         *wgpu.TextureView
	base, count uint32
	released    atomic.Bool
}

func (v *TextureView) Texture() gpu.Texture   { return v.tex }
func (v *TextureView) BaseMipLevel() uint32   { return v.base }
func (v *TextureView) MipLevelCount() uint32  { return v.count }
func (v *TextureView) Raw() *wgpu.TextureView { return v.raw }

// extent is the size of the view's l-th level.
func (v *TextureView) extent(l uint32) gpu.Extent3D {
	return v.tex.desc.MipSize(v.base + l)
}

func (v *TextureView) Release() {
	if v.released.CompareAndSwap(false, true) {
		v.raw.Release()
	}
}

type Buffer struct {
	id       uuid.UUID
	desc     gpu.BufferDescriptor
	raw      *wgpu.Buffer
	dev      *Device
	released atomic.Bool
}

func (b *Buffer) ID() uuid.UUID                    { return b.id }
func (b *Buffer) Descriptor() gpu.BufferDescriptor { return b.desc }
func (b *Buffer) Raw() *wgpu.Buffer                { return b.raw }

func (b *Buffer) Release() {
	if b.released.CompareAndSwap(false, true) {
		b.raw.Release()
		b.dev.live.Add(-1)
	}
}

type Sampler struct {
	desc gpu.SamplerDescriptor
	raw  *wgpu.Sampler
}

func (s *Sampler) Descriptor() gpu.SamplerDescriptor { return s.desc }
func (s *Sampler) Release()                          { s.raw.Release() }

func textureFormat(f gpu.TextureFormat) wgpu.TextureFormat {
	switch f {
	case gpu.FormatRGBA8Unorm:
		return wgpu.TextureFormatRGBA8Unorm
	case gpu.FormatBGRA8Unorm:
		return wgpu.TextureFormatBGRA8Unorm
	}
	return wgpu.TextureFormatRGBA32Float
}

// surfaceFormat maps a presentable format back; sRGB variants report as
// their unorm counterparts.
func surfaceFormat(f wgpu.TextureFormat) (gpu.TextureFormat, bool) {
	switch f {
	case wgpu.TextureFormatRGBA8Unorm, wgpu.TextureFormatRGBA8UnormSrgb:
		return gpu.FormatRGBA8Unorm, true
	case wgpu.TextureFormatBGRA8Unorm, wgpu.TextureFormatBGRA8UnormSrgb:
		return gpu.FormatBGRA8Unorm, true
	}
	return 0, false
}

func textureDimension(d gpu.TextureDimension) wgpu.TextureDimension {
	if d == gpu.Dimension3D {
		return wgpu.TextureDimension3D
	}
	return wgpu.TextureDimension2D
}

func viewDimension(d gpu.TextureDimension) wgpu.TextureViewDimension {
	if d == gpu.Dimension3D {
		return wgpu.TextureViewDimension3D
	}
	return wgpu.TextureViewDimension2D
}

func textureUsage(u gpu.TextureUsage) wgpu.TextureUsage {
	var out wgpu.TextureUsage
	pairs := []struct {
		in  gpu.TextureUsage
		out wgpu.TextureUsage
	}{
		{gpu.UsageCopySrc, wgpu.TextureUsageCopySrc},
		{gpu.UsageCopyDst, wgpu.TextureUsageCopyDst},
		{gpu.UsageTextureBinding, wgpu.TextureUsageTextureBinding},
		{gpu.UsageStorageBinding, wgpu.TextureUsageStorageBinding},
		{gpu.UsageRenderAttachment, wgpu.TextureUsageRenderAttachment},
	}
	for _, p := range pairs {
		if u&p.in != 0 {
			out |= p.out
		}
	}
	return out
}

func bufferUsage(u gpu.BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	pairs := []struct {
		in  gpu.BufferUsage
		out wgpu.BufferUsage
	}{
		{gpu.BufferStorage, wgpu.BufferUsageStorage},
		{gpu.BufferUniform, wgpu.BufferUsageUniform},
		{gpu.BufferCopySrc, wgpu.BufferUsageCopySrc},
		{gpu.BufferCopyDst, wgpu.BufferUsageCopyDst},
		{gpu.BufferMapRead, wgpu.BufferUsageMapRead},
	}
	for _, p := range pairs {
		if u&p.in != 0 {
			out |= p.out
		}
	}
	return out
}
