package soft

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gekko3d/voxmarch/rt/gpu"
)

// KernelFunc is the CPU body of one compute invocation.
type KernelFunc func(inv *Invocation)

type kernelEntry struct {
	fn     KernelFunc
	serial bool
}

var (
	registryMu sync.RWMutex
	registry   = map[string]kernelEntry{}
)

// RegisterKernel makes a CPU kernel available under the same name as its
// WGSL entry point. Serial kernels run on a single goroutine; use it for
// kernels whose invocations write overlapping texels. Registering a name
// twice panics.
func RegisterKernel(name string, serial bool, fn KernelFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if fn == nil {
		panic("soft: RegisterKernel fn is nil")
	}
	if _, dup := registry[name]; dup {
		panic("soft: RegisterKernel called twice for " + name)
	}
	registry[name] = kernelEntry{fn: fn, serial: serial}
}

func lookupKernel(name string) (kernelEntry, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k, ok := registry[name]
	return k, ok
}

// Kernels lists the registered kernel names.
func Kernels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type slot struct {
	tex     *Texture
	base    uint32
	count   uint32
	buf     *Buffer
	off     uint32
	words   uint32
	uniform gpu.Uniform
}

type bindSet []slot

func bind(bindings []gpu.Binding) (bindSet, error) {
	n := uint32(0)
	for _, b := range bindings {
		n = max(n, b.Slot+1)
	}
	set := make(bindSet, n)
	for _, b := range bindings {
		s := &set[b.Slot]
		switch {
		case b.View != nil:
			v, ok := b.View.(*TextureView)
			if !ok {
				return nil, fmt.Errorf("slot %d: foreign texture view %T", b.Slot, b.View)
			}
			if v.tex.released.Load() {
				return nil, fmt.Errorf("slot %d: %w: %s", b.Slot, gpu.ErrReleased, v.tex.desc.Label)
			}
			s.tex, s.base, s.count = v.tex, v.base, v.count
		case b.Buffer != nil:
			buf, ok := b.Buffer.(*Buffer)
			if !ok {
				return nil, fmt.Errorf("slot %d: foreign buffer %T", b.Slot, b.Buffer)
			}
			if err := buf.checkRange(b.Offset, gpu.AlignUp(b.Size, 4)); err != nil {
				return nil, fmt.Errorf("slot %d: %w", b.Slot, err)
			}
			s.buf, s.off, s.words = buf, uint32(b.Offset/4), uint32(gpu.AlignUp(b.Size, 4)/4)
		case b.Uniform != nil:
			s.uniform = b.Uniform
		}
	}
	return set, nil
}

// Invocation is the per-thread view of a dispatch. Texture coordinates and
// mip levels are relative to the bound view; out-of-range loads return zero
// and out-of-range stores are dropped.
type Invocation struct {
	GlobalID [3]uint32
	LocalID  [3]uint32
	set      bindSet
}

func (inv *Invocation) slot(i uint32) *slot {
	if int(i) >= len(inv.set) {
		panic(fmt.Sprintf("soft: nothing bound at slot %d", i))
	}
	return &inv.set[i]
}

func (inv *Invocation) Uniform(i uint32) gpu.Uniform {
	return inv.slot(i).uniform
}

// Dims returns the extent of a view-relative mip level.
func (inv *Invocation) Dims(i uint32, level uint32) [3]uint32 {
	s := inv.slot(i)
	e := s.tex.desc.MipSize(s.base + level)
	return [3]uint32{e.Width, e.Height, e.Depth}
}

// Levels returns the number of mip levels in the bound view.
func (inv *Invocation) Levels(i uint32) uint32 {
	return inv.slot(i).count
}

func (inv *Invocation) Load(i uint32, x, y, z int32, level uint32) [4]float32 {
	s := inv.slot(i)
	if level >= s.count {
		return [4]float32{}
	}
	return s.tex.load(s.base+level, x, y, z)
}

func (inv *Invocation) Store(i uint32, x, y, z int32, level uint32, v [4]float32) {
	s := inv.slot(i)
	if level >= s.count {
		return
	}
	s.tex.store(s.base+level, x, y, z, v)
}

// Len returns the bound buffer range in 32-bit words.
func (inv *Invocation) Len(i uint32) uint32 {
	return inv.slot(i).words
}

func (inv *Invocation) LoadU32(i uint32, idx uint32) uint32 {
	s := inv.slot(i)
	if idx >= s.words {
		return 0
	}
	return atomic.LoadUint32(&s.buf.words[s.off+idx])
}

func (inv *Invocation) StoreU32(i uint32, idx uint32, v uint32) {
	s := inv.slot(i)
	if idx >= s.words {
		return
	}
	atomic.StoreUint32(&s.buf.words[s.off+idx], v)
}

// AtomicAddU32 returns the value before the add.
func (inv *Invocation) AtomicAddU32(i uint32, idx uint32, delta uint32) uint32 {
	s := inv.slot(i)
	if idx >= s.words {
		return 0
	}
	return atomic.AddUint32(&s.buf.words[s.off+idx], delta) - delta
}

func (inv *Invocation) LoadF32(i uint32, idx uint32) float32 {
	return f32frombits(inv.LoadU32(i, idx))
}
