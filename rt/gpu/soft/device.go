// Package soft is a CPU implementation of the gpu device. Commands are
// recorded as closures and executed in order on Submit; compute dispatches
// fan out over a worker pool.
package soft

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/gpu"
)

type Options struct {
	// Workers bounds dispatch parallelism. Zero uses GOMAXPROCS.
	Workers int
	Width   uint32
	Height  uint32
	Logger  voxmarch.Logger
}

type Device struct {
	mu      sync.Mutex
	pool    worker.DynamicWorkerPool
	workers int
	taskID  atomic.Int64
	logger  voxmarch.Logger
	surface *Surface
	live    atomic.Int64
}

var _ gpu.Device = (*Device)(nil)

func New(opts Options) *Device {
	n := opts.Workers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	d := &Device{
		workers: n,
		logger:  voxmarch.OrNop(opts.Logger),
	}
	if n > 1 {
		d.pool = worker.NewDynamicWorkerPool(n, 4*n, time.Second)
	}
	d.surface = newSurface(opts.Width, opts.Height)
	d.logger.Debugf("soft device: %d workers, surface %dx%d", n, opts.Width, opts.Height)
	return d
}

func (d *Device) Name() string { return "soft" }

func (d *Device) Surface() *Surface { return d.surface }

// Live returns the number of textures and buffers not yet released.
func (d *Device) Live() int { return int(d.live.Load()) }

func (d *Device) CreateTexture(desc gpu.TextureDescriptor) (gpu.Texture, error) {
	if desc.Size.Width == 0 || desc.Size.Height == 0 {
		return nil, fmt.Errorf("soft: texture %s: zero size %v", desc.Label, desc.Size)
	}
	if desc.Dimension == gpu.Dimension3D && desc.Size.Depth == 0 {
		return nil, fmt.Errorf("soft: texture %s: zero depth", desc.Label)
	}
	d.live.Add(1)
	return newTexture(d, desc), nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("soft: buffer %s: zero size", desc.Label)
	}
	d.live.Add(1)
	return newBuffer(d, desc), nil
}

func (d *Device) CreateSampler(desc gpu.SamplerDescriptor) (gpu.Sampler, error) {
	return &Sampler{desc: desc}, nil
}

func (d *Device) WriteBuffer(b gpu.Buffer, offset uint64, data []byte) error {
	buf, ok := b.(*Buffer)
	if !ok {
		return fmt.Errorf("soft: foreign buffer %T", b)
	}
	if err := buf.checkRange(offset, gpu.AlignUp(uint64(len(data)), 4)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	padded := data
	if len(data)%4 != 0 {
		padded = make([]byte, gpu.AlignUp(uint64(len(data)), 4))
		copy(padded, data)
	}
	base := offset / 4
	for i := 0; i < len(padded)/4; i++ {
		buf.words[base+uint64(i)] = binary.LittleEndian.Uint32(padded[4*i:])
	}
	return nil
}

func (d *Device) WriteTexture(v gpu.TextureView, origin [3]uint32, size gpu.Extent3D, data []byte) error {
	tv, ok := v.(*TextureView)
	if !ok {
		return fmt.Errorf("soft: foreign texture view %T", v)
	}
	t := tv.tex
	if t.released.Load() {
		return fmt.Errorf("%w: texture %s", gpu.ErrReleased, t.desc.Label)
	}
	bpt := t.desc.Format.BytesPerTexel()
	depth := max(size.Depth, 1)
	need := uint64(size.Width) * uint64(size.Height) * uint64(depth) * uint64(bpt)
	if uint64(len(data)) < need {
		return fmt.Errorf("soft: texture %s: %d bytes for %v, need %d", t.desc.Label, len(data), size, need)
	}
	ext := t.desc.MipSize(tv.base)
	if origin[0]+size.Width > ext.Width || origin[1]+size.Height > ext.Height || origin[2]+depth > ext.Depth {
		return fmt.Errorf("%w: texture %s write %v at %v exceeds %v", gpu.ErrOutOfRange, t.desc.Label, size, origin, ext)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	off := 0
	for z := uint32(0); z < depth; z++ {
		for y := uint32(0); y < size.Height; y++ {
			for x := uint32(0); x < size.Width; x++ {
				var px [4]float32
				switch t.desc.Format {
				case gpu.FormatRGBA32Float:
					for c := 0; c < 4; c++ {
						px[c] = gpu.F32(data, off+4*c)
					}
				case gpu.FormatRGBA8Unorm:
					for c := 0; c < 4; c++ {
						px[c] = float32(data[off+c]) / 255
					}
				case gpu.FormatBGRA8Unorm:
					px = [4]float32{float32(data[off+2]) / 255, float32(data[off+1]) / 255, float32(data[off]) / 255, float32(data[off+3]) / 255}
				}
				off += int(bpt)
				t.store(tv.base, int32(origin[0]+x), int32(origin[1]+y), int32(origin[2]+z), px)
			}
		}
	}
	return nil
}

func (d *Device) ReadBuffer(b gpu.Buffer, offset, size uint64) ([]byte, error) {
	buf, ok := b.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("soft: foreign buffer %T", b)
	}
	if err := buf.checkRange(offset, size); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, size)
	base := offset / 4
	for i := uint64(0); i < size/4; i++ {
		binary.LittleEndian.PutUint32(out[4*i:], atomic.LoadUint32(&buf.words[base+i]))
	}
	return out, nil
}

func (d *Device) NewEncoder(label string) gpu.Encoder {
	return &Encoder{dev: d, label: label}
}

func (d *Device) Submit(cmds ...gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok {
			return fmt.Errorf("soft: foreign command buffer %T", c)
		}
		for i, cmd := range cb.cmds {
			if err := cmd(); err != nil {
				return fmt.Errorf("soft: %s: command %d: %w", cb.label, i, err)
			}
		}
	}
	return nil
}

// WaitIdle returns immediately; Submit executes synchronously.
func (d *Device) WaitIdle() error { return nil }

func (d *Device) Release() {
	if d.pool != nil {
		d.pool.Stop()
		d.pool = nil
	}
}

// run executes a dispatch. Workgroups are split into contiguous chunks and
// handed to the pool; a WaitGroup is the barrier.
func (d *Device) run(k kernelEntry, set bindSet, wgSize, groups [3]uint32) {
	total := int(groups[0]) * int(groups[1]) * int(groups[2])
	if total == 0 {
		return
	}
	runRange := func(from, to int) {
		inv := &Invocation{set: set}
		for g := from; g < to; g++ {
			gx := uint32(g) % groups[0]
			gy := (uint32(g) / groups[0]) % groups[1]
			gz := uint32(g) / (groups[0] * groups[1])
			for lz := uint32(0); lz < wgSize[2]; lz++ {
				for ly := uint32(0); ly < wgSize[1]; ly++ {
					for lx := uint32(0); lx < wgSize[0]; lx++ {
						inv.LocalID = [3]uint32{lx, ly, lz}
						inv.GlobalID = [3]uint32{gx*wgSize[0] + lx, gy*wgSize[1] + ly, gz*wgSize[2] + lz}
						k.fn(inv)
					}
				}
			}
		}
	}

	if k.serial || d.pool == nil || total == 1 {
		runRange(0, total)
		return
	}

	chunks := min(total, 4*d.workers)
	per := (total + chunks - 1) / chunks
	var wg sync.WaitGroup
	for from := 0; from < total; from += per {
		to := min(from+per, total)
		wg.Add(1)
		d.pool.SubmitTask(worker.Task{
			ID: int(d.taskID.Add(1)),
			Do: func() (any, error) {
				defer wg.Done()
				runRange(from, to)
				return nil, nil
			},
		})
	}
	wg.Wait()
}

func f32frombits(v uint32) float32 { return math.Float32frombits(v) }
