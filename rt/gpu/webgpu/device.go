// Package webgpu runs the render passes on a real GPU through wgpu-native.
// Compute kernels are the WGSL modules in rt/shaders; pipelines are built on
// first use with an auto layout and cached by kernel name.
package webgpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/gekko3d/voxmarch/rt/shaders"
	"github.com/google/uuid"
)

type Options struct {
	// Instance and CompatibleSurface are optional. Without an instance the
	// device owns one; without a surface the adapter is picked headless.
	Instance          *wgpu.Instance
	CompatibleSurface *wgpu.Surface
	Logger            voxmarch.Logger
}

type Device struct {
	instance     *wgpu.Instance
	ownsInstance bool
	adapter      *wgpu.Adapter
	dev          *wgpu.Device
	queue        *wgpu.Queue
	logger       voxmarch.Logger
	live         atomic.Int64

	mu        sync.Mutex
	modules   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	blits     map[wgpu.TextureFormat]*wgpu.RenderPipeline
}

var _ gpu.Device = (*Device)(nil)

func New(opts Options) (*Device, error) {
	d := &Device{
		instance:  opts.Instance,
		logger:    voxmarch.OrNop(opts.Logger),
		modules:   make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
		blits:     make(map[wgpu.TextureFormat]*wgpu.RenderPipeline),
	}
	if d.instance == nil {
		d.instance = wgpu.CreateInstance(nil)
		d.ownsInstance = true
	}
	adapter, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: opts.CompatibleSurface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		d.releaseInstance()
		return nil, fmt.Errorf("webgpu: request adapter: %w", err)
	}
	d.adapter = adapter
	d.dev, err = adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		d.releaseInstance()
		return nil, fmt.Errorf("webgpu: request device: %w", err)
	}
	d.queue = d.dev.GetQueue()
	d.logger.Infof("webgpu: device ready")
	return d, nil
}

func (d *Device) releaseInstance() {
	if d.ownsInstance && d.instance != nil {
		d.instance.Release()
	}
}

func (d *Device) Name() string { return "webgpu" }

func (d *Device) Adapter() *wgpu.Adapter { return d.adapter }
func (d *Device) Raw() *wgpu.Device      { return d.dev }

// Live returns the number of textures and buffers not yet released.
func (d *Device) Live() int { return int(d.live.Load()) }

func (d *Device) CreateTexture(desc gpu.TextureDescriptor) (gpu.Texture, error) {
	desc.MipLevelCount = desc.Levels()
	depth := uint32(1)
	if desc.Dimension == gpu.Dimension3D {
		depth = desc.Size.Depth
	}
	raw, err := d.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          wgpu.Extent3D{Width: desc.Size.Width, Height: desc.Size.Height, DepthOrArrayLayers: depth},
		MipLevelCount: desc.MipLevelCount,
		SampleCount:   1,
		Dimension:     textureDimension(desc.Dimension),
		Format:        textureFormat(desc.Format),
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: texture %s: %w", desc.Label, err)
	}
	d.live.Add(1)
	return &Texture{id: uuid.New(), desc: desc, raw: raw, dev: d}, nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDescriptor) (gpu.Buffer, error) {
	raw, err := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  gpu.AlignUp(desc.Size, 4),
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: buffer %s: %w", desc.Label, err)
	}
	d.live.Add(1)
	return &Buffer{id: uuid.New(), desc: desc, raw: raw, dev: d}, nil
}

func (d *Device) CreateSampler(desc gpu.SamplerDescriptor) (gpu.Sampler, error) {
	filter := wgpu.FilterModeNearest
	if desc.Linear {
		filter = wgpu.FilterModeLinear
	}
	raw, err := d.dev.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         desc.Label,
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MinFilter:     filter,
		MagFilter:     filter,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: sampler %s: %w", desc.Label, err)
	}
	return &Sampler{desc: desc, raw: raw}, nil
}

func (d *Device) WriteBuffer(b gpu.Buffer, offset uint64, data []byte) error {
	buf, ok := b.(*Buffer)
	if !ok {
		return fmt.Errorf("webgpu: foreign buffer %T", b)
	}
	if offset%4 != 0 {
		return fmt.Errorf("%w: unaligned write at %d into %s", gpu.ErrOutOfRange, offset, buf.desc.Label)
	}
	if len(data)%4 != 0 {
		padded := make([]byte, gpu.AlignUp(uint64(len(data)), 4))
		copy(padded, data)
		data = padded
	}
	if offset+uint64(len(data)) > gpu.AlignUp(buf.desc.Size, 4) {
		return fmt.Errorf("%w: write %d+%d into %s (%d bytes)", gpu.ErrOutOfRange, offset, len(data), buf.desc.Label, buf.desc.Size)
	}
	if err := d.queue.WriteBuffer(buf.raw, offset, data); err != nil {
		return fmt.Errorf("webgpu: write %s: %w", buf.desc.Label, err)
	}
	return nil
}

func (d *Device) WriteTexture(v gpu.TextureView, origin [3]uint32, size gpu.Extent3D, data []byte) error {
	tv, ok := v.(*TextureView)
	if !ok {
		return fmt.Errorf("webgpu: foreign texture view %T", v)
	}
	bpt := tv.tex.desc.Format.BytesPerTexel()
	depth := max(size.Depth, 1)
	need := uint64(size.Width) * uint64(size.Height) * uint64(depth) * uint64(bpt)
	if uint64(len(data)) < need {
		return fmt.Errorf("%w: %d bytes for %v texels of %s", gpu.ErrOutOfRange, len(data), size, tv.tex.desc.Label)
	}
	err := d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tv.tex.raw,
			MipLevel: tv.base,
			Origin:   wgpu.Origin3D{X: origin[0], Y: origin[1], Z: origin[2]},
			Aspect:   wgpu.TextureAspectAll,
		},
		data[:need],
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  size.Width * bpt,
			RowsPerImage: size.Height,
		},
		&wgpu.Extent3D{Width: size.Width, Height: size.Height, DepthOrArrayLayers: depth},
	)
	if err != nil {
		return fmt.Errorf("webgpu: write %s: %w", tv.tex.desc.Label, err)
	}
	return nil
}

// ReadBuffer copies the range into a mappable staging buffer and blocks on
// the map callback.
func (d *Device) ReadBuffer(b gpu.Buffer, offset, size uint64) ([]byte, error) {
	buf, ok := b.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("webgpu: foreign buffer %T", b)
	}
	if offset%4 != 0 || offset+size > buf.desc.Size {
		return nil, fmt.Errorf("%w: read %d+%d from %s (%d bytes)", gpu.ErrOutOfRange, offset, size, buf.desc.Label, buf.desc.Size)
	}
	if size == 0 {
		return []byte{}, nil
	}
	n := gpu.AlignUp(size, 4)
	staging, err := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: buf.desc.Label + " readback",
		Size:  n,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: readback %s: %w", buf.desc.Label, err)
	}
	defer staging.Release()

	enc, err := d.dev.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("webgpu: readback %s: %w", buf.desc.Label, err)
	}
	if err := enc.CopyBufferToBuffer(buf.raw, offset, staging, 0, n); err != nil {
		enc.Release()
		return nil, fmt.Errorf("webgpu: readback %s: %w", buf.desc.Label, err)
	}
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, fmt.Errorf("webgpu: readback %s: %w", buf.desc.Label, err)
	}
	d.queue.Submit(cmd)
	cmd.Release()

	var status wgpu.BufferMapAsyncStatus
	done := false
	if err := staging.MapAsync(wgpu.MapModeRead, 0, n, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	}); err != nil {
		return nil, fmt.Errorf("webgpu: map %s: %w", buf.desc.Label, err)
	}
	for !done {
		d.dev.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("webgpu: map %s: status %v", buf.desc.Label, status)
	}
	out := make([]byte, size)
	copy(out, staging.GetMappedRange(0, uint(n)))
	staging.Unmap()
	return out, nil
}

func (d *Device) NewEncoder(label string) gpu.Encoder {
	e := &Encoder{dev: d, label: label}
	raw, err := d.dev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		e.fail(fmt.Errorf("webgpu: encoder %s: %w", label, err))
		return e
	}
	e.raw = raw
	return e
}

func (d *Device) Submit(cmds ...gpu.CommandBuffer) error {
	raw := make([]*wgpu.CommandBuffer, 0, len(cmds))
	for _, c := range cmds {
		cb, ok := c.(*CommandBuffer)
		if !ok {
			return fmt.Errorf("webgpu: foreign command buffer %T", c)
		}
		if cb.raw == nil {
			return errors.New("webgpu: command buffer already submitted")
		}
		raw = append(raw, cb.raw)
	}
	d.queue.Submit(raw...)
	for _, c := range cmds {
		c.(*CommandBuffer).submitted()
	}
	return nil
}

func (d *Device) WaitIdle() error {
	d.dev.Poll(true, nil)
	return nil
}

// computePipeline builds, or returns the cached, pipeline for a kernel.
func (d *Device) computePipeline(name string) (*wgpu.ComputePipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pipelines[name]; ok {
		return p, nil
	}
	src, ok := shaders.Source(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", gpu.ErrUnknownKernel, name)
	}
	mod, err := d.module(name, src)
	if err != nil {
		return nil, err
	}
	p, err := d.dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: name,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     mod,
			EntryPoint: shaders.EntryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: pipeline %s: %w", name, err)
	}
	d.pipelines[name] = p
	d.logger.Debugf("webgpu: built pipeline %s", name)
	return p, nil
}

// blitPipeline returns the fullscreen blit pipeline for a target format.
func (d *Device) blitPipeline(format wgpu.TextureFormat) (*wgpu.RenderPipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.blits[format]; ok {
		return p, nil
	}
	mod, err := d.module("blit", shaders.BlitWGSL)
	if err != nil {
		return nil, err
	}
	p, err := d.dev.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "blit",
		Vertex: wgpu.VertexState{
			Module:     mod,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     mod,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    format,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: blit pipeline: %w", err)
	}
	d.blits[format] = p
	return p, nil
}

// module must be called with mu held.
func (d *Device) module(name, src string) (*wgpu.ShaderModule, error) {
	if m, ok := d.modules[name]; ok {
		return m, nil
	}
	// naga lags wgpu-native on some features, so a failure here only warns.
	if d.logger.DebugEnabled() {
		if err := shaders.Validate(name, src); err != nil {
			d.logger.Warnf("webgpu: %v", err)
		}
	}
	m, err := d.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: src},
	})
	if err != nil {
		return nil, fmt.Errorf("webgpu: shader %s: %w", name, err)
	}
	d.modules[name] = m
	return m, nil
}

func (d *Device) Release() {
	d.mu.Lock()
	for _, p := range d.pipelines {
		p.Release()
	}
	for _, p := range d.blits {
		p.Release()
	}
	for _, m := range d.modules {
		m.Release()
	}
	d.pipelines, d.blits, d.modules = nil, nil, nil
	d.mu.Unlock()
	if n := d.live.Load(); n != 0 {
		d.logger.Warnf("webgpu: releasing device with %d live resources", n)
	}
	d.queue.Release()
	d.dev.Release()
	d.adapter.Release()
	d.releaseInstance()
}
