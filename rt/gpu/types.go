// Package gpu is the device abstraction the render passes are written
// against. A backend supplies textures, buffers, samplers, a command encoder
// for compute dispatches and copies, and a presentable surface.
package gpu

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUnknownKernel = errors.New("gpu: unknown kernel")
	ErrReleased      = errors.New("gpu: resource released")
	ErrOutOfRange    = errors.New("gpu: range out of bounds")
)

type TextureFormat uint8

const (
	FormatRGBA32Float TextureFormat = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
)

func (f TextureFormat) String() string {
	switch f {
	case FormatRGBA32Float:
		return "rgba32float"
	case FormatRGBA8Unorm:
		return "rgba8unorm"
	case FormatBGRA8Unorm:
		return "bgra8unorm"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

func (f TextureFormat) BytesPerTexel() uint32 {
	if f == FormatRGBA32Float {
		return 16
	}
	return 4
}

type TextureDimension uint8

const (
	Dimension2D TextureDimension = iota
	Dimension3D
)

type TextureUsage uint32

const (
	UsageCopySrc TextureUsage = 1 << iota
	UsageCopyDst
	UsageTextureBinding
	UsageStorageBinding
	UsageRenderAttachment
)

type BufferUsage uint32

const (
	BufferStorage BufferUsage = 1 << iota
	BufferUniform
	BufferCopySrc
	BufferCopyDst
	BufferMapRead
)

type Extent3D struct {
	Width, Height, Depth uint32
}

func (e Extent3D) Texels() uint64 {
	return uint64(e.Width) * uint64(e.Height) * uint64(max(e.Depth, 1))
}

type TextureDescriptor struct {
	Label         string
	Size          Extent3D
	MipLevelCount uint32
	Dimension     TextureDimension
	Format        TextureFormat
	Usage         TextureUsage
}

// MipSize returns the extent of a mip level, never smaller than one texel.
// 2-D textures keep a depth of one.
func (d TextureDescriptor) MipSize(level uint32) Extent3D {
	e := Extent3D{
		Width:  max(d.Size.Width>>level, 1),
		Height: max(d.Size.Height>>level, 1),
		Depth:  1,
	}
	if d.Dimension == Dimension3D {
		e.Depth = max(d.Size.Depth>>level, 1)
	}
	return e
}

func (d TextureDescriptor) Levels() uint32 {
	return max(d.MipLevelCount, 1)
}

type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

type SamplerDescriptor struct {
	Label  string
	Linear bool
}

// ViewDescriptor selects a mip sub-range. MipLevelCount zero means every level
// from BaseMipLevel up.
type ViewDescriptor struct {
	BaseMipLevel  uint32
	MipLevelCount uint32
}

type Texture interface {
	ID() uuid.UUID
	Descriptor() TextureDescriptor
	CreateView(ViewDescriptor) (TextureView, error)
	Release()
}

type TextureView interface {
	Texture() Texture
	BaseMipLevel() uint32
	MipLevelCount() uint32
	Release()
}

type Buffer interface {
	ID() uuid.UUID
	Descriptor() BufferDescriptor
	Release()
}

type Sampler interface {
	Descriptor() SamplerDescriptor
	Release()
}

// ResolveView clamps a view descriptor against a texture's mip chain.
func ResolveView(d TextureDescriptor, v ViewDescriptor) (ViewDescriptor, error) {
	levels := d.Levels()
	if v.BaseMipLevel >= levels {
		return v, fmt.Errorf("%w: base mip %d of %d levels (%s)", ErrOutOfRange, v.BaseMipLevel, levels, d.Label)
	}
	if v.MipLevelCount == 0 {
		v.MipLevelCount = levels - v.BaseMipLevel
	}
	if v.BaseMipLevel+v.MipLevelCount > levels {
		return v, fmt.Errorf("%w: mips %d+%d of %d levels (%s)", ErrOutOfRange, v.BaseMipLevel, v.MipLevelCount, levels, d.Label)
	}
	return v, nil
}
