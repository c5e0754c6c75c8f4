package webgpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/voxmarch/rt/gpu"
)

var (
	clear3D = gpu.Kernel{Name: "clear_3d", WorkgroupSize: [3]uint32{4, 4, 4}}
	clear2D = gpu.Kernel{Name: "clear_2d", WorkgroupSize: [3]uint32{8, 8, 1}}
)

// Encoder records straight into a wgpu command encoder. Uniform buffers, bind
// groups and level views made while recording live until the command buffer
// is released.
type Encoder struct {
	dev      *Device
	label    string
	raw      *wgpu.CommandEncoder
	temps    []func()
	err      error
	finished bool
}

var _ gpu.Encoder = (*Encoder)(nil)

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) ready() bool {
	if e.finished {
		e.fail(errors.New("webgpu: encoder used after Finish"))
	}
	return e.err == nil
}

func (e *Encoder) keep(release func()) { e.temps = append(e.temps, release) }

func (e *Encoder) Dispatch(k gpu.Kernel, bindings []gpu.Binding, groups [3]uint32) {
	if !e.ready() {
		return
	}
	if groups[0] == 0 || groups[1] == 0 || groups[2] == 0 {
		return
	}
	pipeline, err := e.dev.computePipeline(k.Name)
	if err != nil {
		e.fail(err)
		return
	}
	layout := pipeline.GetBindGroupLayout(0)
	if layout == nil {
		e.fail(fmt.Errorf("webgpu: %s: no bind group layout", k.Name))
		return
	}
	entries, err := e.entries(k.Name, bindings)
	if err != nil {
		e.fail(err)
		return
	}
	bg, err := e.dev.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   k.Name,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		e.fail(fmt.Errorf("webgpu: %s bind group: %w", k.Name, err))
		return
	}
	e.keep(bg.Release)

	pass := e.raw.BeginComputePass(&wgpu.ComputePassDescriptor{Label: k.Name})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(groups[0], groups[1], groups[2])
	if err := pass.End(); err != nil {
		e.fail(fmt.Errorf("webgpu: %s: %w", k.Name, err))
	}
	pass.Release()
}

func (e *Encoder) entries(kernel string, bindings []gpu.Binding) ([]wgpu.BindGroupEntry, error) {
	out := make([]wgpu.BindGroupEntry, 0, len(bindings))
	for _, b := range bindings {
		entry := wgpu.BindGroupEntry{Binding: b.Slot}
		switch {
		case b.View != nil:
			v, ok := b.View.(*TextureView)
			if !ok {
				return nil, fmt.Errorf("webgpu: %s slot %d: foreign view %T", kernel, b.Slot, b.View)
			}
			entry.TextureView = v.raw
		case b.Buffer != nil:
			buf, ok := b.Buffer.(*Buffer)
			if !ok {
				return nil, fmt.Errorf("webgpu: %s slot %d: foreign buffer %T", kernel, b.Slot, b.Buffer)
			}
			entry.Buffer = buf.raw
			entry.Offset = b.Offset
			entry.Size = gpu.AlignUp(b.Size, 4)
		case b.Uniform != nil:
			data := b.Uniform.Bytes()
			ub, err := e.dev.dev.CreateBufferInit(&wgpu.BufferInitDescriptor{
				Label:    fmt.Sprintf("%s params", kernel),
				Contents: data,
				Usage:    wgpu.BufferUsageUniform,
			})
			if err != nil {
				return nil, fmt.Errorf("webgpu: %s uniform: %w", kernel, err)
			}
			e.keep(ub.Release)
			entry.Buffer = ub
			entry.Size = uint64(len(data))
		case b.Sampler != nil:
			s, ok := b.Sampler.(*Sampler)
			if !ok {
				return nil, fmt.Errorf("webgpu: %s slot %d: foreign sampler %T", kernel, b.Slot, b.Sampler)
			}
			entry.Sampler = s.raw
		default:
			return nil, fmt.Errorf("webgpu: %s slot %d: empty binding", kernel, b.Slot)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (e *Encoder) CopyTexture(src, dst gpu.TextureView, size gpu.Extent3D) {
	if !e.ready() {
		return
	}
	s, ok1 := src.(*TextureView)
	d, ok2 := dst.(*TextureView)
	if !ok1 || !ok2 {
		e.fail(fmt.Errorf("webgpu: foreign views %T, %T", src, dst))
		return
	}
	err := e.raw.CopyTextureToTexture(
		&wgpu.ImageCopyTexture{Texture: s.tex.raw, MipLevel: s.base, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyTexture{Texture: d.tex.raw, MipLevel: d.base, Aspect: wgpu.TextureAspectAll},
		&wgpu.Extent3D{Width: size.Width, Height: size.Height, DepthOrArrayLayers: max(size.Depth, 1)},
	)
	if err != nil {
		e.fail(fmt.Errorf("webgpu: copy %s -> %s: %w", s.tex.desc.Label, d.tex.desc.Label, err))
	}
}

func (e *Encoder) ClearBuffer(b gpu.Buffer, offset, size uint64) {
	if !e.ready() {
		return
	}
	buf, ok := b.(*Buffer)
	if !ok {
		e.fail(fmt.Errorf("webgpu: foreign buffer %T", b))
		return
	}
	if err := e.raw.ClearBuffer(buf.raw, offset, gpu.AlignUp(size, 4)); err != nil {
		e.fail(fmt.Errorf("webgpu: clear %s: %w", buf.desc.Label, err))
	}
}

type clearParams struct{ color [4]float32 }

func (p clearParams) Bytes() []byte {
	buf := make([]byte, 16)
	gpu.PutVec4(buf, 0, p.color)
	return buf
}

// ClearTexture runs a clear kernel over every level of the view. Storage
// bindings need single-level views, so one is made per level.
func (e *Encoder) ClearTexture(v gpu.TextureView, color [4]float32) {
	if !e.ready() {
		return
	}
	tv, ok := v.(*TextureView)
	if !ok {
		e.fail(fmt.Errorf("webgpu: foreign texture view %T", v))
		return
	}
	k := clear2D
	if tv.tex.desc.Dimension == gpu.Dimension3D {
		k = clear3D
	}
	for l := uint32(0); l < tv.count; l++ {
		lv, err := tv.tex.CreateView(gpu.ViewDescriptor{BaseMipLevel: tv.base + l, MipLevelCount: 1})
		if err != nil {
			e.fail(err)
			return
		}
		e.keep(lv.Release)
		size := tv.extent(l)
		e.Dispatch(k, []gpu.Binding{
			gpu.UniformData(0, clearParams{color: color}),
			gpu.TextureWrite(1, lv),
		}, k.Groups(size.Width, size.Height, size.Depth))
	}
}

type blitParams struct {
	srcW, srcH uint32
	linear     bool
	dstW, dstH uint32
}

func (p blitParams) Bytes() []byte {
	buf := make([]byte, 32)
	gpu.PutF32(buf, 0, float32(p.srcW))
	gpu.PutF32(buf, 4, float32(p.srcH))
	if p.linear {
		gpu.PutF32(buf, 8, 1)
	}
	gpu.PutF32(buf, 16, float32(p.dstW))
	gpu.PutF32(buf, 20, float32(p.dstH))
	return buf
}

func (e *Encoder) Blit(src gpu.TextureView, s gpu.Sampler, dst gpu.SurfaceFrame) {
	if !e.ready() {
		return
	}
	sv, ok := src.(*TextureView)
	if !ok {
		e.fail(fmt.Errorf("webgpu: foreign texture view %T", src))
		return
	}
	fr, ok := dst.(*Frame)
	if !ok {
		e.fail(fmt.Errorf("webgpu: foreign surface frame %T", dst))
		return
	}
	pipeline, err := e.dev.blitPipeline(fr.format)
	if err != nil {
		e.fail(err)
		return
	}
	size := sv.extent(0)
	params := blitParams{
		srcW:   size.Width,
		srcH:   size.Height,
		linear: s != nil && s.Descriptor().Linear,
		dstW:   fr.width,
		dstH:   fr.height,
	}
	entries, err := e.entries("blit", []gpu.Binding{
		gpu.UniformData(0, params),
		gpu.TextureRead(1, sv),
	})
	if err != nil {
		e.fail(err)
		return
	}
	bg, err := e.dev.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   "blit",
		Layout:  pipeline.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		e.fail(fmt.Errorf("webgpu: blit bind group: %w", err))
		return
	}
	e.keep(bg.Release)

	pass := e.raw.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "blit",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       fr.view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Draw(3, 1, 0, 0)
	if err := pass.End(); err != nil {
		e.fail(fmt.Errorf("webgpu: blit: %w", err))
	}
	pass.Release()
}

func (e *Encoder) Finish() (gpu.CommandBuffer, error) {
	if e.finished {
		return nil, errors.New("webgpu: encoder finished twice")
	}
	e.finished = true
	if e.err != nil {
		e.releaseTemps()
		if e.raw != nil {
			e.raw.Release()
		}
		return nil, e.err
	}
	cmd, err := e.raw.Finish(&wgpu.CommandBufferDescriptor{Label: e.label})
	e.raw.Release()
	if err != nil {
		e.releaseTemps()
		return nil, fmt.Errorf("webgpu: finish %s: %w", e.label, err)
	}
	return &CommandBuffer{raw: cmd, temps: e.temps}, nil
}

func (e *Encoder) releaseTemps() {
	for _, fn := range e.temps {
		fn()
	}
	e.temps = nil
}

type CommandBuffer struct {
	raw   *wgpu.CommandBuffer
	temps []func()
}

// submitted drops the handle; the queue owns the commands from here on.
func (c *CommandBuffer) submitted() {
	c.raw.Release()
	c.raw = nil
}

func (c *CommandBuffer) Release() {
	if c.raw != nil {
		c.raw.Release()
		c.raw = nil
	}
	for _, fn := range c.temps {
		fn()
	}
	c.temps = nil
}
