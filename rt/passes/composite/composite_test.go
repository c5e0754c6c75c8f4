package composite

import (
	"errors"
	"testing"

	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/frame"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRig(t *testing.T) (*soft.Device, *atlas.Atlas) {
	t.Helper()
	dev := soft.New(soft.Options{Workers: 1, Width: 4, Height: 4})
	a, err := atlas.New(dev, nil, 4, 4, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Release()
		dev.Release()
	})
	require.NoError(t, a.RegisterSwap(atlas.KeyDenoiseColor, gpu.FormatRGBA32Float))
	return dev, a
}

func TestBlitsDenoisedColorAndRunsOverlay(t *testing.T) {
	dev, a := newRig(t)
	surf := dev.Surface()
	require.NoError(t, surf.Configure(8, 8))
	target, err := surf.Acquire()
	require.NoError(t, err)

	var overlaid gpu.SurfaceFrame
	p := New(func(enc gpu.Encoder, f gpu.SurfaceFrame) error {
		overlaid = f
		return nil
	})
	ctx := &frame.Context{Device: dev, Atlas: a, Encoder: dev.NewEncoder("c"), Target: target}
	ctx.Encoder.ClearTexture(a.DenoiseTarget(), [4]float32{0, 0, 1, 1})
	require.NoError(t, p.Encode(ctx))
	cmd, err := ctx.Encoder.Finish()
	require.NoError(t, err)
	require.NoError(t, dev.Submit(cmd))
	require.NoError(t, surf.Present(target))

	assert.Same(t, target, overlaid)
	c := surf.LastFrame().RGBAAt(7, 7)
	assert.Equal(t, uint8(0), c.R)
	assert.Equal(t, uint8(255), c.B)
	assert.Equal(t, uint8(255), c.A)
}

func TestOverlayErrorIsWrapped(t *testing.T) {
	dev, a := newRig(t)
	target, err := dev.Surface().Acquire()
	require.NoError(t, err)
	defer target.Release()

	boom := errors.New("boom")
	p := New(nil)
	p.SetOverlay(func(gpu.Encoder, gpu.SurfaceFrame) error { return boom })
	err = p.Encode(&frame.Context{Device: dev, Atlas: a, Encoder: dev.NewEncoder("c"), Target: target})
	assert.ErrorIs(t, err, boom)
}

func TestNoTargetIsNoop(t *testing.T) {
	dev, a := newRig(t)
	called := false
	p := New(func(gpu.Encoder, gpu.SurfaceFrame) error {
		called = true
		return nil
	})
	require.NoError(t, p.Encode(&frame.Context{Device: dev, Atlas: a, Encoder: dev.NewEncoder("c")}))
	assert.False(t, called)
	assert.Equal(t, []string{atlas.KeyDenoiseColor}, []string{p.Reads()[0].Key})
}
