package main

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/gekko3d/voxmarch/rt/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headlessOptions(t *testing.T) options {
	return options{
		headless: true,
		frames:   2,
		out:      filepath.Join(t.TempDir(), "frame.png"),
		width:    16,
		height:   12,
		volume:   8,
		spin:     true,
	}
}

func TestHeadlessWritesPNG(t *testing.T) {
	o := headlessOptions(t)
	o.config = filepath.Join(t.TempDir(), "render.yaml")
	require.NoError(t, os.WriteFile(o.config, []byte("renderer_denoiser_enable_filtering: false\nrenderer_fov: 60\n"), 0o644))

	require.NoError(t, runHeadless(o, voxmarch.NewNopLogger()))

	f, err := os.Open(o.out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 12, img.Bounds().Dy())
}

func TestHeadlessLoadsVoxelGrid(t *testing.T) {
	o := headlessOptions(t)
	o.grid = filepath.Join(t.TempDir(), "scene.txt")
	require.NoError(t, os.WriteFile(o.grid, []byte("8x8x8\n4,4,4,255,0,0\n"), 0o644))
	require.NoError(t, runHeadless(o, voxmarch.NewNopLogger()))
	_, err := os.Stat(o.out)
	assert.NoError(t, err)

	o.grid = filepath.Join(t.TempDir(), "missing.txt")
	assert.Error(t, runHeadless(o, voxmarch.NewNopLogger()))
}

func TestBadConfigIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("renderer_fov: wide\n"), 0o644))
	_, err := loadConfig(path)
	assert.Error(t, err)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	_, err = cfg.Settings()
	assert.NoError(t, err)
}

type warnLogger struct {
	voxmarch.Logger
	warnings []string
}

func (l *warnLogger) Warnf(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func TestSpinLogsLostMesh(t *testing.T) {
	o := headlessOptions(t)
	logger := &warnLogger{Logger: voxmarch.NewNopLogger()}
	dev := soft.New(soft.Options{Width: 16, Height: 12})
	defer dev.Release()
	pipe, err := pipeline.New(dev, dev.Surface(), pipelineOptions(o, logger))
	require.NoError(t, err)
	defer pipe.Release()

	s, err := newScene(o, pipe, logger)
	require.NoError(t, err)
	s.step()
	assert.Empty(t, logger.warnings)

	s.world.Update(func(ws *voxmarch.WorldState) { ws.Scene.Despawn(s.mesh) })
	s.step()
	require.Len(t, logger.warnings, 1)
	assert.Contains(t, logger.warnings[0], "spin")
}

func TestRenderStopsOnFrameError(t *testing.T) {
	o := headlessOptions(t)
	dev := soft.New(soft.Options{Width: 16, Height: 12})
	defer dev.Release()
	pipe, err := pipeline.New(dev, dev.Surface(), pipelineOptions(o, nil))
	require.NoError(t, err)
	defer pipe.Release()
	s, err := newScene(o, pipe, voxmarch.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, s.render(pipe, 0))
	pipe.SetOverlay(func(gpu.Encoder, gpu.SurfaceFrame) error { return assert.AnError })
	err = s.render(pipe, 1)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "frame 1")
	assert.Equal(t, uint64(1), pipe.Clock().Frame())
}
