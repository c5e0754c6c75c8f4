package soft

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gekko3d/voxmarch/rt/gpu"
)

// Surface is an offscreen swapchain. The last presented frame is kept for
// inspection and headless output.
type Surface struct {
	mu        sync.Mutex
	width     uint32
	height    uint32
	acquired  bool
	presented *image.RGBA
	frames    int
}

var _ gpu.Surface = (*Surface)(nil)

func newSurface(w, h uint32) *Surface {
	return &Surface{width: max(w, 1), height: max(h, 1)}
}

func (s *Surface) Configure(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("soft surface: zero size %dx%d", width, height)
	}
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
	return nil
}

func (s *Surface) Size() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *Surface) Format() gpu.TextureFormat { return gpu.FormatRGBA8Unorm }

func (s *Surface) Acquire() (gpu.SurfaceFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return nil, errors.New("soft surface: previous frame not presented")
	}
	s.acquired = true
	return &Frame{surface: s, img: image.NewRGBA(image.Rect(0, 0, int(s.width), int(s.height)))}, nil
}

func (s *Surface) Present(f gpu.SurfaceFrame) error {
	fr, ok := f.(*Frame)
	if !ok {
		return fmt.Errorf("soft surface: foreign frame %T", f)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if fr.done {
		return errors.New("soft surface: frame already presented or released")
	}
	fr.done = true
	s.acquired = false
	s.presented = fr.img
	s.frames++
	return nil
}

// LastFrame returns the most recently presented image, or nil.
func (s *Surface) LastFrame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

func (s *Surface) Presented() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

type Frame struct {
	surface *Surface
	img     *image.RGBA
	done    bool
}

func (f *Frame) Width() uint32      { return uint32(f.img.Bounds().Dx()) }
func (f *Frame) Height() uint32     { return uint32(f.img.Bounds().Dy()) }
func (f *Frame) Image() *image.RGBA { return f.img }

// Release drops a frame without presenting it, freeing the surface for the
// next Acquire. Releasing a presented frame is a no-op.
func (f *Frame) Release() {
	f.surface.mu.Lock()
	defer f.surface.mu.Unlock()
	if f.done {
		return
	}
	f.done = true
	f.surface.acquired = false
}
