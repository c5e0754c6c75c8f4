package soft

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/gekko3d/voxmarch/rt/gpu"
	"golang.org/x/image/draw"
)

type Encoder struct {
	dev      *Device
	label    string
	cmds     []func() error
	err      error
	finished bool
}

var _ gpu.Encoder = (*Encoder)(nil)

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) record(fn func() error) {
	if e.finished {
		e.fail(errors.New("soft: encoder used after Finish"))
		return
	}
	e.cmds = append(e.cmds, fn)
}

func (e *Encoder) Dispatch(k gpu.Kernel, bindings []gpu.Binding, groups [3]uint32) {
	entry, ok := lookupKernel(k.Name)
	if !ok {
		e.fail(fmt.Errorf("%w: %s", gpu.ErrUnknownKernel, k.Name))
		return
	}
	set, err := bind(bindings)
	if err != nil {
		e.fail(fmt.Errorf("dispatch %s: %w", k.Name, err))
		return
	}
	wg := k.WorkgroupSize
	for i := range wg {
		wg[i] = max(wg[i], 1)
	}
	e.record(func() error {
		e.dev.run(entry, set, wg, groups)
		return nil
	})
}

func (e *Encoder) CopyTexture(src, dst gpu.TextureView, size gpu.Extent3D) {
	s, ok1 := src.(*TextureView)
	d, ok2 := dst.(*TextureView)
	if !ok1 || !ok2 {
		e.fail(fmt.Errorf("soft: copy between foreign views %T -> %T", src, dst))
		return
	}
	e.record(func() error {
		for z := int32(0); z < int32(max(size.Depth, 1)); z++ {
			for y := int32(0); y < int32(size.Height); y++ {
				for x := int32(0); x < int32(size.Width); x++ {
					d.tex.store(d.base, x, y, z, s.tex.load(s.base, x, y, z))
				}
			}
		}
		return nil
	})
}

func (e *Encoder) ClearBuffer(b gpu.Buffer, offset, size uint64) {
	buf, ok := b.(*Buffer)
	if !ok {
		e.fail(fmt.Errorf("soft: foreign buffer %T", b))
		return
	}
	e.record(func() error {
		if err := buf.checkRange(offset, size); err != nil {
			return err
		}
		clear(buf.words[offset/4 : (offset+size)/4])
		return nil
	})
}

func (e *Encoder) ClearTexture(v gpu.TextureView, c [4]float32) {
	tv, ok := v.(*TextureView)
	if !ok {
		e.fail(fmt.Errorf("soft: foreign texture view %T", v))
		return
	}
	e.record(func() error {
		if tv.tex.released.Load() {
			return fmt.Errorf("%w: %s", gpu.ErrReleased, tv.tex.desc.Label)
		}
		for l := tv.base; l < tv.base+tv.count; l++ {
			px := tv.tex.levels[l]
			for i := 0; i < len(px); i += 4 {
				copy(px[i:i+4], c[:])
			}
		}
		return nil
	})
}

// Blit converts the base mip of src to 8-bit and scales it onto the frame.
func (e *Encoder) Blit(src gpu.TextureView, s gpu.Sampler, dst gpu.SurfaceFrame) {
	tv, ok := src.(*TextureView)
	if !ok {
		e.fail(fmt.Errorf("soft: foreign texture view %T", src))
		return
	}
	f, ok := dst.(*Frame)
	if !ok {
		e.fail(fmt.Errorf("soft: foreign surface frame %T", dst))
		return
	}
	scaler := draw.Scaler(draw.NearestNeighbor)
	if s != nil && s.Descriptor().Linear {
		scaler = draw.BiLinear
	}
	e.record(func() error {
		img := toRGBA(tv.tex, tv.base)
		scaler.Scale(f.img, f.img.Bounds(), img, img.Bounds(), draw.Src, nil)
		return nil
	})
}

func (e *Encoder) Finish() (gpu.CommandBuffer, error) {
	e.finished = true
	if e.err != nil {
		return nil, e.err
	}
	return &commandBuffer{label: e.label, cmds: e.cmds}, nil
}

func toRGBA(t *Texture, level uint32) *image.RGBA {
	ext := t.desc.MipSize(level)
	img := image.NewRGBA(image.Rect(0, 0, int(ext.Width), int(ext.Height)))
	for y := 0; y < int(ext.Height); y++ {
		for x := 0; x < int(ext.Width); x++ {
			px := t.load(level, int32(x), int32(y), 0)
			img.SetRGBA(x, y, color.RGBA{
				R: unorm8(px[0]), G: unorm8(px[1]), B: unorm8(px[2]), A: unorm8(px[3]),
			})
		}
	}
	return img
}

func unorm8(v float32) uint8 {
	return uint8(quantize(v)*255 + 0.5)
}
