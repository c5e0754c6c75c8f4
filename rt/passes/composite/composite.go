// Package composite copies the denoised color onto the presentable surface
// and hands the frame to an optional overlay.
package composite

import (
	"fmt"

	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/frame"
	"github.com/gekko3d/voxmarch/rt/gpu"
)

// Overlay draws on top of the composited frame, e.g. a debug UI.
type Overlay func(enc gpu.Encoder, target gpu.SurfaceFrame) error

type Pass struct {
	overlay Overlay
}

func New(overlay Overlay) *Pass {
	return &Pass{overlay: overlay}
}

func (p *Pass) SetOverlay(o Overlay) { p.overlay = o }

func (p *Pass) Name() string { return "composite" }

func (p *Pass) Reads() []frame.ResourceRef {
	return []frame.ResourceRef{frame.Read(atlas.KeyDenoiseColor)}
}

func (p *Pass) Writes() []string { return nil }

// Encode is a no-op without a target, which is how offscreen frames run.
func (p *Pass) Encode(ctx *frame.Context) error {
	if ctx.Target == nil {
		return nil
	}
	ctx.Encoder.Blit(ctx.Atlas.DenoiseTarget(), ctx.Atlas.DefaultSampler(), ctx.Target)
	if p.overlay != nil {
		if err := p.overlay(ctx.Encoder, ctx.Target); err != nil {
			return fmt.Errorf("composite: overlay: %w", err)
		}
	}
	return nil
}
