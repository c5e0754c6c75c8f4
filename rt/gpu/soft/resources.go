package soft

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/google/uuid"
)

// Texture keeps every mip level as RGBA float32 texels, x fastest then y then
// z. Unorm formats are quantized to 8 bits on write.
type Texture struct {
	id       uuid.UUID
	desc     gpu.TextureDescriptor
	levels   [][]float32
	dev      *Device
	released atomic.Bool
}

func newTexture(dev *Device, desc gpu.TextureDescriptor) *Texture {
	desc.MipLevelCount = desc.Levels()
	t := &Texture{id: uuid.New(), desc: desc, dev: dev}
	t.levels = make([][]float32, desc.MipLevelCount)
	for l := range t.levels {
		t.levels[l] = make([]float32, 4*desc.MipSize(uint32(l)).Texels())
	}
	return t
}

func (t *Texture) ID() uuid.UUID                     { return t.id }
func (t *Texture) Descriptor() gpu.TextureDescriptor { return t.desc }

func (t *Texture) CreateView(v gpu.ViewDescriptor) (gpu.TextureView, error) {
	if t.released.Load() {
		return nil, fmt.Errorf("%w: texture %s", gpu.ErrReleased, t.desc.Label)
	}
	rv, err := gpu.ResolveView(t.desc, v)
	if err != nil {
		return nil, err
	}
	return &TextureView{tex: t, base: rv.BaseMipLevel, count: rv.MipLevelCount}, nil
}

func (t *Texture) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.levels = nil
		t.dev.live.Add(-1)
	}
}

func (t *Texture) index(level uint32, x, y, z int32) (int, bool) {
	e := t.desc.MipSize(level)
	if x < 0 || y < 0 || z < 0 || uint32(x) >= e.Width || uint32(y) >= e.Height || uint32(z) >= e.Depth {
		return 0, false
	}
	return 4 * ((int(z)*int(e.Height)+int(y))*int(e.Width) + int(x)), true
}

func (t *Texture) load(level uint32, x, y, z int32) [4]float32 {
	i, ok := t.index(level, x, y, z)
	if !ok || t.levels == nil {
		return [4]float32{}
	}
	px := t.levels[level][i : i+4]
	return [4]float32{px[0], px[1], px[2], px[3]}
}

func (t *Texture) store(level uint32, x, y, z int32, v [4]float32) {
	i, ok := t.index(level, x, y, z)
	if !ok || t.levels == nil {
		return
	}
	if t.desc.Format != gpu.FormatRGBA32Float {
		for c := range v {
			v[c] = quantize(v[c])
		}
	}
	copy(t.levels[level][i:i+4], v[:])
}

func quantize(v float32) float32 {
	if v != v {
		return 0
	}
	v = min(max(v, 0), 1)
	return float32(math.Round(float64(v)*255)) / 255
}

type TextureView struct {
	tex   *Texture
	base  uint32
	count uint32
}

func (v *TextureView) Texture() gpu.Texture   { return v.tex }
func (v *TextureView) BaseMipLevel() uint32  { return v.base }
func (v *TextureView) MipLevelCount() uint32 { return v.count }
func (v *TextureView) Release()              {}

// Buffer is stored as 32-bit words so kernels can use atomics on it.
type Buffer struct {
	id       uuid.UUID
	desc     gpu.BufferDescriptor
	words    []uint32
	dev      *Device
	released atomic.Bool
}

func newBuffer(dev *Device, desc gpu.BufferDescriptor) *Buffer {
	return &Buffer{
		id:    uuid.New(),
		desc:  desc,
		words: make([]uint32, gpu.AlignUp(desc.Size, 4)/4),
		dev:   dev,
	}
}

func (b *Buffer) ID() uuid.UUID                    { return b.id }
func (b *Buffer) Descriptor() gpu.BufferDescriptor { return b.desc }

func (b *Buffer) Release() {
	if b.released.CompareAndSwap(false, true) {
		b.words = nil
		b.dev.live.Add(-1)
	}
}

func (b *Buffer) checkRange(offset, size uint64) error {
	if b.released.Load() {
		return fmt.Errorf("%w: buffer %s", gpu.ErrReleased, b.desc.Label)
	}
	if offset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("buffer %s: offset %d and size %d must be 4-byte aligned", b.desc.Label, offset, size)
	}
	if offset+size > b.desc.Size {
		return fmt.Errorf("%w: buffer %s [%d,%d) of %d", gpu.ErrOutOfRange, b.desc.Label, offset, offset+size, b.desc.Size)
	}
	return nil
}

type Sampler struct {
	desc gpu.SamplerDescriptor
}

func (s *Sampler) Descriptor() gpu.SamplerDescriptor { return s.desc }
func (s *Sampler) Release()                          {}

type commandBuffer struct {
	label string
	cmds  []func() error
	once  sync.Once
}

func (c *commandBuffer) Release() {
	c.once.Do(func() { c.cmds = nil })
}
