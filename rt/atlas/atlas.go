// Package atlas owns the named GPU resources shared between render passes.
package atlas

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"golang.org/x/image/draw"
)

var (
	ErrNotFound  = errors.New("atlas: resource not found")
	ErrWrongKind = errors.New("atlas: wrong resource kind")
)

type Kind uint8

const (
	// KindSingle is one window-sized texture, recreated on resize.
	KindSingle Kind = iota
	// KindSwap is a pair of window-sized textures alternating by frame parity.
	KindSwap
	// KindDescriptor is a texture with an explicit, window-independent shape.
	KindDescriptor
	// KindBuffer is a raw buffer.
	KindBuffer
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindSwap:
		return "swap"
	case KindDescriptor:
		return "descriptor"
	case KindBuffer:
		return "buffer"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) windowSized() bool { return k == KindSingle || k == KindSwap }

// Info describes a resource's shape. Buffers report their byte size in
// Size[0] and zero mip levels.
type Info struct {
	Size      [3]uint32
	MipLevels uint32
}

// Spec carries the creation parameters for Register. Only the fields for the
// given kind are read.
type Spec struct {
	Format  gpu.TextureFormat
	Usage   gpu.TextureUsage
	Texture gpu.TextureDescriptor
	Buffer  gpu.BufferDescriptor
}

const DefaultUsage = gpu.UsageTextureBinding | gpu.UsageStorageBinding | gpu.UsageCopySrc | gpu.UsageCopyDst

type entry struct {
	kind     Kind
	spec     Spec
	textures [2]gpu.Texture
	views    [2]gpu.TextureView
	buffer   gpu.Buffer
}

func (e *entry) release() {
	for i := range e.textures {
		if e.views[i] != nil {
			e.views[i].Release()
		}
		if e.textures[i] != nil {
			e.textures[i].Release()
		}
	}
	if e.buffer != nil {
		e.buffer.Release()
	}
}

type Atlas struct {
	mu      sync.RWMutex
	dev     gpu.Device
	clock   *FrameClock
	width   uint32
	height  uint32
	entries map[string]*entry
	sampler gpu.Sampler
	logger  voxmarch.Logger
}

func New(dev gpu.Device, clock *FrameClock, width, height uint32, logger voxmarch.Logger) (*Atlas, error) {
	if clock == nil {
		clock = &FrameClock{}
	}
	s, err := dev.CreateSampler(gpu.SamplerDescriptor{Label: "atlas_default", Linear: true})
	if err != nil {
		return nil, fmt.Errorf("atlas: default sampler: %w", err)
	}
	return &Atlas{
		dev:     dev,
		clock:   clock,
		width:   max(width, 1),
		height:  max(height, 1),
		entries: make(map[string]*entry),
		sampler: s,
		logger:  voxmarch.OrNop(logger),
	}, nil
}

func (a *Atlas) Clock() *FrameClock { return a.clock }

func (a *Atlas) DefaultSampler() gpu.Sampler { return a.sampler }

func (a *Atlas) Size() (uint32, uint32) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.width, a.height
}

// Register creates the resource for key, replacing (and releasing) whatever
// was registered under it before.
func (a *Atlas) Register(key string, kind Kind, spec Spec) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, err := a.build(key, kind, spec, a.width, a.height)
	if err != nil {
		return err
	}
	if old, ok := a.entries[key]; ok {
		old.release()
		a.logger.Debugf("atlas: replaced %s (%s -> %s)", key, old.kind, kind)
	}
	a.entries[key] = e
	return nil
}

// Unregister releases and forgets key. Unknown keys are ignored.
func (a *Atlas) Unregister(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[key]; ok {
		e.release()
		delete(a.entries, key)
	}
}

func (a *Atlas) RegisterSingle(key string, format gpu.TextureFormat) error {
	return a.Register(key, KindSingle, Spec{Format: format})
}

func (a *Atlas) RegisterSwap(key string, format gpu.TextureFormat) error {
	return a.Register(key, KindSwap, Spec{Format: format})
}

func (a *Atlas) RegisterDescriptor(key string, desc gpu.TextureDescriptor) error {
	return a.Register(key, KindDescriptor, Spec{Texture: desc})
}

func (a *Atlas) RegisterBuffer(key string, desc gpu.BufferDescriptor) error {
	return a.Register(key, KindBuffer, Spec{Buffer: desc})
}

// RegisterImage uploads a decoded image as an rgba8 Descriptor texture.
func (a *Atlas) RegisterImage(key string, img image.Image) error {
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("atlas: %s: empty image", key)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	size := gpu.Extent3D{Width: uint32(b.Dx()), Height: uint32(b.Dy()), Depth: 1}
	if err := a.RegisterDescriptor(key, gpu.TextureDescriptor{
		Label:         key,
		Size:          size,
		MipLevelCount: 1,
		Dimension:     gpu.Dimension2D,
		Format:        gpu.FormatRGBA8Unorm,
		Usage:         gpu.UsageTextureBinding | gpu.UsageCopyDst,
	}); err != nil {
		return err
	}
	view, err := a.GetForRead(key)
	if err != nil {
		return err
	}
	if err := a.dev.WriteTexture(view, [3]uint32{}, size, rgba.Pix); err != nil {
		return fmt.Errorf("atlas: upload %s: %w", key, err)
	}
	return nil
}

func (a *Atlas) build(key string, kind Kind, spec Spec, w, h uint32) (*entry, error) {
	e := &entry{kind: kind, spec: spec}
	switch kind {
	case KindSingle, KindSwap:
		usage := spec.Usage
		if usage == 0 {
			usage = DefaultUsage
		}
		n := 1
		if kind == KindSwap {
			n = 2
		}
		for i := 0; i < n; i++ {
			label := key
			if kind == KindSwap {
				label = fmt.Sprintf("%s_%d", key, i+1)
			}
			desc := gpu.TextureDescriptor{
				Label:         label,
				Size:          gpu.Extent3D{Width: w, Height: h, Depth: 1},
				MipLevelCount: 1,
				Dimension:     gpu.Dimension2D,
				Format:        spec.Format,
				Usage:         usage,
			}
			if err := e.addTexture(a.dev, i, desc); err != nil {
				e.release()
				return nil, err
			}
		}
	case KindDescriptor:
		desc := spec.Texture
		if desc.Label == "" {
			desc.Label = key
		}
		if desc.Usage == 0 {
			desc.Usage = DefaultUsage
		}
		if err := e.addTexture(a.dev, 0, desc); err != nil {
			return nil, err
		}
	case KindBuffer:
		desc := spec.Buffer
		if desc.Label == "" {
			desc.Label = key
		}
		b, err := a.dev.CreateBuffer(desc)
		if err != nil {
			return nil, fmt.Errorf("atlas: create buffer %s: %w", key, err)
		}
		e.buffer = b
	default:
		return nil, fmt.Errorf("atlas: %s: unknown kind %v", key, kind)
	}
	return e, nil
}

func (e *entry) addTexture(dev gpu.Device, i int, desc gpu.TextureDescriptor) error {
	t, err := dev.CreateTexture(desc)
	if err != nil {
		return fmt.Errorf("atlas: create texture %s: %w", desc.Label, err)
	}
	v, err := t.CreateView(gpu.ViewDescriptor{})
	if err != nil {
		t.Release()
		return fmt.Errorf("atlas: view %s: %w", desc.Label, err)
	}
	e.textures[i], e.views[i] = t, v
	return nil
}

func (a *Atlas) lookup(key string) (*entry, error) {
	e, ok := a.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return e, nil
}

// current is the index written this frame; the other half of a swap pair
// holds last frame's output.
func (a *Atlas) current() int {
	return int(a.clock.Parity())
}

// Get returns the physical texture. Swap entries resolve to the current
// (write) texture.
func (a *Atlas) Get(key string) (gpu.Texture, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, err := a.lookup(key)
	if err != nil {
		return nil, err
	}
	switch e.kind {
	case KindBuffer:
		return nil, fmt.Errorf("%w: %q is a buffer", ErrWrongKind, key)
	case KindSwap:
		return e.textures[a.current()], nil
	}
	return e.textures[0], nil
}

// GetForRead returns the view a pass samples from. For Swap entries that is
// the texture written during the previous frame.
func (a *Atlas) GetForRead(key string) (gpu.TextureView, error) {
	return a.view(key, false)
}

// GetForWrite returns the view a pass writes this frame.
func (a *Atlas) GetForWrite(key string) (gpu.TextureView, error) {
	return a.view(key, true)
}

func (a *Atlas) view(key string, write bool) (gpu.TextureView, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, err := a.lookup(key)
	if err != nil {
		return nil, err
	}
	switch e.kind {
	case KindBuffer:
		return nil, fmt.Errorf("%w: %q is a buffer", ErrWrongKind, key)
	case KindSwap:
		i := a.current()
		if !write {
			i = 1 - i
		}
		return e.views[i], nil
	}
	return e.views[0], nil
}

// GetView creates a view over a mip sub-range of the (current) texture. The
// caller owns the returned view.
func (a *Atlas) GetView(key string, desc gpu.ViewDescriptor) (gpu.TextureView, error) {
	t, err := a.Get(key)
	if err != nil {
		return nil, err
	}
	v, err := t.CreateView(desc)
	if err != nil {
		return nil, fmt.Errorf("atlas: view of %q: %w", key, err)
	}
	return v, nil
}

func (a *Atlas) GetBuffer(key string) (gpu.Buffer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, err := a.lookup(key)
	if err != nil {
		return nil, err
	}
	if e.kind != KindBuffer {
		return nil, fmt.Errorf("%w: %q is a %s texture", ErrWrongKind, key, e.kind)
	}
	return e.buffer, nil
}

func (a *Atlas) GetInfo(key string) (Info, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, err := a.lookup(key)
	if err != nil {
		return Info{}, err
	}
	switch e.kind {
	case KindSingle, KindSwap:
		return Info{Size: [3]uint32{a.width, a.height, 1}, MipLevels: 1}, nil
	case KindDescriptor:
		d := e.textures[0].Descriptor()
		return Info{Size: [3]uint32{d.Size.Width, d.Size.Height, max(d.Size.Depth, 1)}, MipLevels: d.Levels()}, nil
	default:
		return Info{Size: [3]uint32{uint32(e.buffer.Descriptor().Size), 1, 1}}, nil
	}
}

func (a *Atlas) Kind(key string) (Kind, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[key]
	if !ok {
		return 0, false
	}
	return e.kind, true
}

func (a *Atlas) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.entries))
	for k := range a.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resize recreates every Single and Swap entry at the new window size with
// its original format. Descriptor and Buffer entries are untouched. Either
// every entry is replaced or none is.
func (a *Atlas) Resize(width, height uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	width, height = max(width, 1), max(height, 1)

	fresh := make(map[string]*entry)
	for key, e := range a.entries {
		if !e.kind.windowSized() {
			continue
		}
		ne, err := a.build(key, e.kind, e.spec, width, height)
		if err != nil {
			for _, n := range fresh {
				n.release()
			}
			return fmt.Errorf("atlas: resize to %dx%d: %w", width, height, err)
		}
		fresh[key] = ne
	}
	for key, ne := range fresh {
		a.entries[key].release()
		a.entries[key] = ne
	}
	a.width, a.height = width, height
	a.logger.Debugf("atlas: resized %d window-sized resources to %dx%d", len(fresh), width, height)
	return nil
}

// Release frees every registered resource.
func (a *Atlas) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, e := range a.entries {
		e.release()
		delete(a.entries, key)
	}
	if a.sampler != nil {
		a.sampler.Release()
	}
}
