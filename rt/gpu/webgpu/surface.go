package webgpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/voxmarch/rt/gpu"
)

// Surface presents to a window surface with FIFO (vsync) presentation.
type Surface struct {
	dev       *Device
	raw       *wgpu.Surface
	format    wgpu.TextureFormat
	alphaMode wgpu.CompositeAlphaMode
	width     uint32
	height    uint32
	acquired  bool
}

var _ gpu.Surface = (*Surface)(nil)

// NewSurface picks the surface's preferred format. Configure must be called
// before the first Acquire.
func (d *Device) NewSurface(raw *wgpu.Surface) (*Surface, error) {
	caps := raw.GetCapabilities(d.adapter)
	if len(caps.Formats) == 0 {
		return nil, errors.New("webgpu: surface reports no formats")
	}
	s := &Surface{dev: d, raw: raw, format: caps.Formats[0]}
	if len(caps.AlphaModes) > 0 {
		s.alphaMode = caps.AlphaModes[0]
	}
	return s, nil
}

func (s *Surface) Configure(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("webgpu: surface size %dx%d", width, height)
	}
	s.raw.Configure(s.dev.adapter, s.dev.dev, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      s.format,
		Width:       width,
		Height:      height,
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   s.alphaMode,
	})
	s.width, s.height = width, height
	return nil
}

func (s *Surface) Acquire() (gpu.SurfaceFrame, error) {
	if s.width == 0 {
		return nil, errors.New("webgpu: surface not configured")
	}
	if s.acquired {
		return nil, errors.New("webgpu: surface frame already acquired")
	}
	tex, err := s.raw.GetCurrentTexture()
	if err != nil {
		return nil, fmt.Errorf("webgpu: acquire: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("webgpu: acquire view: %w", err)
	}
	s.acquired = true
	return &Frame{surface: s, tex: tex, view: view, format: s.format, width: s.width, height: s.height}, nil
}

func (s *Surface) Present(f gpu.SurfaceFrame) error {
	fr, ok := f.(*Frame)
	if !ok || fr.surface != s {
		return fmt.Errorf("webgpu: foreign surface frame %T", f)
	}
	if fr.done {
		return errors.New("webgpu: frame presented twice")
	}
	s.raw.Present()
	fr.Release()
	return nil
}

func (s *Surface) Format() gpu.TextureFormat {
	if f, ok := surfaceFormat(s.format); ok {
		return f
	}
	return gpu.FormatBGRA8Unorm
}

func (s *Surface) Size() (uint32, uint32) { return s.width, s.height }

func (s *Surface) Release() { s.raw.Release() }

type Frame struct {
	surface       *Surface
	tex           *wgpu.Texture
	view          *wgpu.TextureView
	format        wgpu.TextureFormat
	width, height uint32
	done          bool
}

func (f *Frame) Width() uint32  { return f.width }
func (f *Frame) Height() uint32 { return f.height }

// Release drops the frame without presenting; after Present it is a no-op.
func (f *Frame) Release() {
	if f.done {
		return
	}
	f.done = true
	f.view.Release()
	f.tex.Release()
	f.surface.acquired = false
}
