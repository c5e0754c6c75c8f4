// Package pipeline owns the atlas and the render passes and runs them once
// per frame: voxelize, mip regeneration, ray march, denoise, composite.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/core"
	"github.com/gekko3d/voxmarch/rt/frame"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/gekko3d/voxmarch/rt/passes/composite"
	"github.com/gekko3d/voxmarch/rt/passes/denoise"
	"github.com/gekko3d/voxmarch/rt/passes/mipgen"
	"github.com/gekko3d/voxmarch/rt/passes/raymarch"
	"github.com/gekko3d/voxmarch/rt/passes/voxelize"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	DefaultVolumeEdge    = 128
	DefaultDirtyCapacity = 1 << 18
	initialMipCellBytes  = 64 << 10
)

var ErrNoSnapshot = errors.New("pipeline: nil frame snapshot")

type Options struct {
	Width, Height uint32
	// VolumeSize defaults to 128 on every axis.
	VolumeSize [3]uint32
	// DirtyCapacity is the number of cells the dirty list holds per frame.
	DirtyCapacity uint32
	Logger        voxmarch.Logger
	Profiler      *voxmarch.Profiler
	Overlay       composite.Overlay
	// StatsEvery logs profiler stats at debug level every N frames; 0 disables.
	StatsEvery uint64
}

type Pipeline struct {
	dev        gpu.Device
	surface    gpu.Surface
	atlas      *atlas.Atlas
	clock      *atlas.FrameClock
	logger     voxmarch.Logger
	profiler   *voxmarch.Profiler
	statsEvery uint64

	voxelize  *voxelize.Pass
	mipgen    *mipgen.Pass
	raymarch  *raymarch.Pass
	denoise   *denoise.Pass
	composite *composite.Pass
}

// New registers every resource the passes use and seeds the volume and the
// denoiser history. surface may be nil for offscreen rendering.
func New(dev gpu.Device, surface gpu.Surface, opts Options) (*Pipeline, error) {
	if opts.VolumeSize == ([3]uint32{}) {
		opts.VolumeSize = [3]uint32{DefaultVolumeEdge, DefaultVolumeEdge, DefaultVolumeEdge}
	}
	for _, n := range opts.VolumeSize {
		if n == 0 || n > voxelize.MaxAxis {
			return nil, fmt.Errorf("pipeline: volume size %v outside 1..%d", opts.VolumeSize, voxelize.MaxAxis)
		}
	}
	if opts.DirtyCapacity == 0 {
		opts.DirtyCapacity = DefaultDirtyCapacity
	}
	opts.Width, opts.Height = max(opts.Width, 1), max(opts.Height, 1)
	logger := voxmarch.OrNop(opts.Logger)
	profiler := opts.Profiler
	if profiler == nil {
		profiler = voxmarch.NewProfiler()
	}

	clock := &atlas.FrameClock{}
	a, err := atlas.New(dev, clock, opts.Width, opts.Height, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p := &Pipeline{
		dev:        dev,
		surface:    surface,
		atlas:      a,
		clock:      clock,
		logger:     logger,
		profiler:   profiler,
		statsEvery: opts.StatsEvery,
		voxelize:   voxelize.New(logger),
		mipgen:     mipgen.New(logger),
		raymarch:   raymarch.New(logger),
		denoise:    denoise.New(logger),
		composite:  composite.New(opts.Overlay),
	}
	if err := p.register(opts); err != nil {
		a.Release()
		return nil, err
	}
	if surface != nil {
		if err := surface.Configure(opts.Width, opts.Height); err != nil {
			a.Release()
			return nil, fmt.Errorf("pipeline: configure surface: %w", err)
		}
	}
	if err := p.seed(true); err != nil {
		a.Release()
		return nil, err
	}
	logger.Infof("pipeline: %s device, %dx%d, volume %v (%d levels)",
		dev.Name(), opts.Width, opts.Height, opts.VolumeSize, a.VolumeInfo().MipLevels)
	return p, nil
}

func (p *Pipeline) register(opts Options) error {
	a := p.atlas
	vs := opts.VolumeSize
	levels := mipgen.RegenLevels(vs[0], vs[1], vs[2]) + 1
	storage := gpu.UsageTextureBinding | gpu.UsageStorageBinding

	steps := []struct {
		key string
		fn  func() error
	}{
		{atlas.KeyVolume, func() error {
			return a.RegisterDescriptor(atlas.KeyVolume, gpu.TextureDescriptor{
				Size:          gpu.Extent3D{Width: vs[0], Height: vs[1], Depth: vs[2]},
				MipLevelCount: levels,
				Dimension:     gpu.Dimension3D,
				Format:        gpu.FormatRGBA32Float,
				Usage:         storage | gpu.UsageCopyDst,
			})
		}},
		{atlas.KeyDirtyPositions, func() error {
			return a.RegisterBuffer(atlas.KeyDirtyPositions, gpu.BufferDescriptor{
				Size:  4 * uint64(opts.DirtyCapacity),
				Usage: gpu.BufferStorage | gpu.BufferCopySrc,
			})
		}},
		{atlas.KeyDirtyCount, func() error {
			return a.RegisterBuffer(atlas.KeyDirtyCount, gpu.BufferDescriptor{
				Size:  4,
				Usage: gpu.BufferStorage | gpu.BufferCopySrc | gpu.BufferCopyDst,
			})
		}},
		{atlas.KeyStaticPoints, func() error {
			return a.RegisterBuffer(atlas.KeyStaticPoints, gpu.BufferDescriptor{
				Size:  16,
				Usage: gpu.BufferStorage | gpu.BufferCopyDst,
			})
		}},
		{atlas.KeyMipCells, func() error {
			return a.RegisterBuffer(atlas.KeyMipCells, gpu.BufferDescriptor{
				Size:  initialMipCellBytes,
				Usage: gpu.BufferStorage | gpu.BufferCopyDst,
			})
		}},
		{atlas.KeyRayColor, func() error { return a.RegisterSingle(atlas.KeyRayColor, gpu.FormatRGBA32Float) }},
		{atlas.KeyRayDepth, func() error { return a.RegisterSingle(atlas.KeyRayDepth, gpu.FormatRGBA32Float) }},
		{atlas.KeyRayPosition, func() error { return a.RegisterSingle(atlas.KeyRayPosition, gpu.FormatRGBA32Float) }},
		{atlas.KeyDenoiseBlend, func() error { return a.RegisterSingle(atlas.KeyDenoiseBlend, gpu.FormatRGBA32Float) }},
		{atlas.KeyDenoiseColor, func() error { return a.RegisterSwap(atlas.KeyDenoiseColor, gpu.FormatRGBA32Float) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("pipeline: register %s: %w", s.key, err)
		}
	}
	return nil
}

// seed clears the denoiser history, and the volume and dirty counter when
// volume is set.
func (p *Pipeline) seed(volume bool) error {
	enc := p.dev.NewEncoder("seed")
	if volume {
		enc.ClearTexture(p.atlas.VolumeAll(), [4]float32{})
		enc.ClearBuffer(p.atlas.DirtyCount(), 0, 4)
	}
	p.denoise.SeedHistory(enc, p.atlas)
	cmd, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("pipeline: seed: %w", err)
	}
	defer cmd.Release()
	if err := p.dev.Submit(cmd); err != nil {
		return fmt.Errorf("pipeline: seed: %w", err)
	}
	return p.dev.WaitIdle()
}

// Passes returns this frame's pass list in execution order.
func (p *Pipeline) Passes() frame.PassList {
	return frame.NewPassList(p.voxelize, p.mipgen, p.raymarch, p.denoise, p.composite)
}

// Frame renders one snapshot. The snapshot's size wins over the current
// window size; a mismatch resizes first. The frame clock advances exactly
// once per successful frame.
func (p *Pipeline) Frame(snap *voxmarch.FrameSnapshot) error {
	if snap == nil {
		return ErrNoSnapshot
	}
	if w, h := p.atlas.Size(); snap.Width != 0 && snap.Height != 0 && (snap.Width != w || snap.Height != h) {
		if err := p.Resize(snap.Width, snap.Height); err != nil {
			return err
		}
	}

	passes := p.Passes()
	if err := passes.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	var target gpu.SurfaceFrame
	if p.surface != nil {
		t, err := p.surface.Acquire()
		if err != nil {
			return fmt.Errorf("pipeline: acquire: %w", err)
		}
		target = t
	}

	w, h := p.atlas.Size()
	ctx := &frame.Context{
		Device:      p.dev,
		Atlas:       p.atlas,
		Snapshot:    snap,
		Settings:    snap.Settings,
		FocalLength: core.FocalLength(snap.FOV),
		Aspect:      float32(w) / float32(h),
		Frame:       p.clock.Frame(),
		Encoder:     p.dev.NewEncoder(fmt.Sprintf("frame_%d", p.clock.Frame())),
		Target:      target,
		Logger:      p.logger,
		Profiler:    p.profiler,
	}
	defer ctx.RunDeferred()

	if err := p.encode(ctx, passes); err != nil {
		if target != nil {
			target.Release()
		}
		// Part of the frame may never have reached the device.
		p.voxelize.Invalidate()
		p.denoise.Invalidate()
		return err
	}
	if target != nil {
		if err := p.surface.Present(target); err != nil {
			// The frame ran but the clock stays, so the denoiser's camera no
			// longer matches the history half it will read next.
			p.denoise.Invalidate()
			return fmt.Errorf("pipeline: present: %w", err)
		}
	}

	n := p.clock.Advance()
	if p.statsEvery > 0 && n%p.statsEvery == 0 && p.logger.DebugEnabled() {
		p.logger.Debugf("pipeline: frame %d\n%s", n, p.profiler.StatsString())
	}
	return nil
}

func (p *Pipeline) encode(ctx *frame.Context, passes frame.PassList) error {
	p.profiler.BeginScope("frame")
	defer p.profiler.EndScope("frame")
	if err := passes.Execute(ctx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	cmd, err := ctx.Encoder.Finish()
	if err != nil {
		return fmt.Errorf("pipeline: finish: %w", err)
	}
	defer cmd.Release()
	if err := p.dev.Submit(cmd); err != nil {
		return fmt.Errorf("pipeline: submit: %w", err)
	}
	return nil
}

// Resize recreates the window-sized attachments and drops the denoiser
// history, which no longer lines up with the new pixels.
func (p *Pipeline) Resize(width, height uint32) error {
	if err := p.atlas.Resize(width, height); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	w, h := p.atlas.Size()
	if p.surface != nil {
		if err := p.surface.Configure(w, h); err != nil {
			return fmt.Errorf("pipeline: configure surface: %w", err)
		}
	}
	p.denoise.Invalidate()
	if err := p.seed(false); err != nil {
		return err
	}
	p.logger.Infof("pipeline: resized to %dx%d", w, h)
	return nil
}

// FinalColor is the denoised color of the last rendered frame.
func (p *Pipeline) FinalColor() gpu.TextureView { return p.atlas.DenoiseHistory() }

// UploadVoxels stamps a voxel grid into the volume on every rebuild, starting
// with the next frame.
func (p *Pipeline) UploadVoxels(grid *core.VoxelGrid) error {
	info := p.atlas.VolumeInfo()
	for i := 0; i < 3; i++ {
		if grid.Size[i] > info.Size[i] {
			return fmt.Errorf("pipeline: voxel grid %v does not fit volume %v", grid.Size, info.Size)
		}
	}
	if err := p.voxelize.UploadPoints(p.dev, p.atlas, grid.Voxels); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.logger.Debugf("pipeline: uploaded %d voxels", len(grid.Voxels))
	return nil
}

// InvalidateVolume forces the next frame to rebuild the volume.
func (p *Pipeline) InvalidateVolume() { p.voxelize.Invalidate() }

// SetSun sets the light direction used when lighting is enabled.
func (p *Pipeline) SetSun(dir mgl32.Vec3) { p.raymarch.SetSun(dir) }

func (p *Pipeline) SetOverlay(o composite.Overlay) { p.composite.SetOverlay(o) }

func (p *Pipeline) Atlas() *atlas.Atlas          { return p.atlas }
func (p *Pipeline) Clock() *atlas.FrameClock     { return p.clock }
func (p *Pipeline) Profiler() *voxmarch.Profiler { return p.profiler }
func (p *Pipeline) Device() gpu.Device           { return p.dev }
func (p *Pipeline) Surface() gpu.Surface         { return p.surface }

// Release frees every GPU resource the pipeline registered. The device is
// owned by the caller.
func (p *Pipeline) Release() {
	p.atlas.Release()
}
