package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/core"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red  = [4]float32{1, 0, 0, 1}
	blue = [4]float32{0, 0, 1, 1}
)

type harness struct {
	t     *testing.T
	dev   *soft.Device
	pipe  *Pipeline
	world *voxmarch.World
	// camera overrides the world's fly camera so tests can aim exactly.
	camera mgl32.Mat4
}

func newHarness(t *testing.T, w, h uint32, cfg *voxmarch.Config) *harness {
	t.Helper()
	dev := soft.New(soft.Options{Workers: 4, Width: w, Height: h})
	pipe, err := New(dev, dev.Surface(), Options{
		Width:         w,
		Height:        h,
		VolumeSize:    [3]uint32{4, 4, 4},
		DirtyCapacity: 256,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		pipe.Release()
		dev.Release()
	})
	if cfg == nil {
		cfg = voxmarch.NewConfig()
	}
	// Narrow enough that the centre pixels of a small frame land on one voxel.
	cfg.Set(voxmarch.KeyFOV, voxmarch.Float(10))
	return &harness{
		t:      t,
		dev:    dev,
		pipe:   pipe,
		world:  voxmarch.NewWorld(w, h, cfg, nil),
		camera: core.LookAt(mgl32.Vec3{1.5, 1.5, 10}, mgl32.Vec3{1.5, 1.5, 0}, mgl32.Vec3{0, 1, 0}),
	}
}

func (h *harness) frame() {
	h.t.Helper()
	snap := *h.world.Snapshot()
	snap.Camera = h.camera
	require.NoError(h.t, h.pipe.Frame(&snap))
}

func (h *harness) final(x, y int) [4]float32 {
	h.t.Helper()
	px, err := soft.ViewTexel(h.pipe.FinalColor(), 0, x, y, 0)
	require.NoError(h.t, err)
	return px
}

func voxelTriangle(t *testing.T) *core.Mesh {
	m, err := core.NewMesh("tri", []mgl32.Vec3{{1.2, 1.2, 1.5}, {1.8, 1.2, 1.5}, {1.2, 1.8, 1.5}}, []uint32{0, 1, 2})
	require.NoError(t, err)
	return m
}

func noFilterConfig(percent float64) *voxmarch.Config {
	cfg := voxmarch.NewConfig()
	cfg.Set(voxmarch.KeyDenoiserFiltering, voxmarch.Bool(false))
	cfg.Set(voxmarch.KeyDenoiserReprojection, voxmarch.Float(percent))
	return cfg
}

func TestEndToEndSingleVoxel(t *testing.T) {
	h := newHarness(t, 4, 4, noFilterConfig(0))
	var id core.EntityID
	h.world.Update(func(s *voxmarch.WorldState) {
		id = s.Scene.SpawnMesh(voxelTriangle(t), mgl32.Vec3{}, red)
	})
	h.frame()

	vol := h.pipe.Atlas().Volume()
	px, err := soft.Texel(vol, 0, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, red, px)
	px, err = soft.Texel(vol, 1, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, [4]float32{0.125, 0, 0, 0.125}, px)
	assert.Equal(t, [][3]uint32{{1, 1, 1}}, soft.Occupied(vol, 0))

	assert.Equal(t, uint64(1), h.pipe.Clock().Frame())
	assert.Equal(t, 1, h.pipe.Profiler().Count("dirty_cells"))
	assert.Equal(t, 1, h.pipe.Profiler().Count("mip_levels_updated"))
	assert.Equal(t, red, h.final(1, 1))
	assert.Equal(t, red, h.final(2, 2))
	assert.Equal(t, [4]float32{}, h.final(0, 0))

	surf := h.dev.Surface()
	assert.Equal(t, 1, surf.Presented())
	img := surf.LastFrame()
	require.NotNil(t, img)
	c := img.RGBAAt(1, 1)
	assert.Greater(t, c.R, uint8(250))
	assert.Less(t, c.B, uint8(5))

	h.world.Update(func(s *voxmarch.WorldState) { s.Scene.Despawn(id) })
	h.frame()
	assert.Empty(t, soft.Occupied(vol, 0))
	assert.Empty(t, soft.Occupied(vol, 1))
	assert.Equal(t, [4]float32{}, h.final(1, 1))
}

func TestSwapPingPongsAcrossFrames(t *testing.T) {
	h := newHarness(t, 4, 4, nil)
	var ids []string
	for i := 0; i < 4; i++ {
		h.frame()
		ids = append(ids, h.pipe.FinalColor().Texture().ID().String())
	}
	assert.NotEqual(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
	assert.Equal(t, ids[1], ids[3])

	read, err := h.pipe.Atlas().GetForRead(atlas.KeyDenoiseColor)
	require.NoError(t, err)
	write, err := h.pipe.Atlas().GetForWrite(atlas.KeyDenoiseColor)
	require.NoError(t, err)
	assert.NotEqual(t, read.Texture().ID(), write.Texture().ID())
}

func TestReprojectionExtremes(t *testing.T) {
	run := func(percent float64) [4]float32 {
		h := newHarness(t, 4, 4, noFilterConfig(percent))
		var id core.EntityID
		h.world.Update(func(s *voxmarch.WorldState) {
			id = s.Scene.SpawnMesh(voxelTriangle(t), mgl32.Vec3{}, red)
		})
		h.frame()
		require.Equal(t, red, h.final(1, 1), "cold start shows the current frame")

		h.world.Update(func(s *voxmarch.WorldState) {
			require.NoError(t, s.Scene.SetMaterial(id, core.Material{BaseColor: blue}))
		})
		h.frame()
		return h.final(1, 1)
	}
	assert.Equal(t, blue, run(0))
	assert.Equal(t, red, run(1))
}

func TestResizeKeepsVolumeAndDropsHistory(t *testing.T) {
	h := newHarness(t, 4, 4, noFilterConfig(1))
	h.world.Update(func(s *voxmarch.WorldState) {
		s.Scene.SpawnMesh(voxelTriangle(t), mgl32.Vec3{}, red)
	})
	h.frame()

	a := h.pipe.Atlas()
	volBefore := a.Volume().ID()
	colorBefore, _ := a.Get(atlas.KeyRayColor)
	live := h.dev.Live()

	h.world.Update(func(s *voxmarch.WorldState) { s.Width, s.Height = 8, 6 })
	h.frame()

	assert.Equal(t, volBefore, a.Volume().ID())
	colorAfter, _ := a.Get(atlas.KeyRayColor)
	assert.NotEqual(t, colorBefore.ID(), colorAfter.ID())
	assert.Equal(t, gpu.Extent3D{Width: 8, Height: 6, Depth: 1}, colorAfter.Descriptor().Size)
	info, err := a.GetInfo(atlas.KeyDenoiseColor)
	require.NoError(t, err)
	assert.Equal(t, [3]uint32{8, 6, 1}, info.Size)
	assert.Equal(t, live, h.dev.Live(), "resize replaces, never leaks")

	w, hh := h.dev.Surface().Size()
	assert.Equal(t, uint32(8), w)
	assert.Equal(t, uint32(6), hh)
	assert.Equal(t, 8, h.dev.Surface().LastFrame().Bounds().Dx())
}

func TestFramesDoNotLeakResources(t *testing.T) {
	h := newHarness(t, 4, 4, nil)
	h.world.Update(func(s *voxmarch.WorldState) {
		s.Scene.SpawnMesh(voxelTriangle(t), mgl32.Vec3{}, red)
	})
	h.frame()
	live := h.dev.Live()
	for i := 0; i < 5; i++ {
		h.pipe.InvalidateVolume()
		h.frame()
	}
	assert.Equal(t, live, h.dev.Live())
}

func TestUploadVoxels(t *testing.T) {
	h := newHarness(t, 4, 4, noFilterConfig(0))
	grid, err := core.ParseVoxelGrid(strings.NewReader("4x4x4\n1,1,1,0,0,255\n"))
	require.NoError(t, err)
	require.NoError(t, h.pipe.UploadVoxels(grid))
	h.frame()

	px, err := soft.Texel(h.pipe.Atlas().Volume(), 0, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, blue, px)
	assert.Equal(t, blue, h.final(1, 1))

	big, err := core.ParseVoxelGrid(strings.NewReader("8x4x4\n"))
	require.NoError(t, err)
	assert.Error(t, h.pipe.UploadVoxels(big))
}

func TestDirtyOverflowStillRendersDroppedVoxels(t *testing.T) {
	dev := soft.New(soft.Options{Workers: 4, Width: 4, Height: 4})
	pipe, err := New(dev, dev.Surface(), Options{
		Width:         4,
		Height:        4,
		VolumeSize:    [3]uint32{8, 8, 8},
		DirtyCapacity: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		pipe.Release()
		dev.Release()
	})
	cfg := noFilterConfig(0)
	cfg.Set(voxmarch.KeyFOV, voxmarch.Float(10))
	h := &harness{
		t:      t,
		dev:    dev,
		pipe:   pipe,
		world:  voxmarch.NewWorld(4, 4, cfg, nil),
		camera: core.LookAt(mgl32.Vec3{6.5, 4.5, 20}, mgl32.Vec3{6.5, 4.5, 0}, mgl32.Vec3{0, 1, 0}),
	}

	// Only the first two voxels fit in the dirty list.
	grid, err := core.ParseVoxelGrid(strings.NewReader("8x8x8\n0,0,0,0,0,255\n1,0,0,0,0,255\n2,0,0,0,0,255\n3,0,0,0,0,255\n6,4,4,255,0,0\n"))
	require.NoError(t, err)
	require.NoError(t, pipe.UploadVoxels(grid))
	h.frame()

	px, err := soft.Texel(pipe.Atlas().Volume(), 0, 6, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, red, px)
	assert.Equal(t, 2, pipe.Profiler().Count("dirty_cells"))
	assert.Equal(t, red, h.final(1, 1))

	pipe.InvalidateVolume()
	h.frame()
	assert.Equal(t, red, h.final(1, 1))
}

func TestLightingDarkensUnlitFaces(t *testing.T) {
	cfg := noFilterConfig(0)
	cfg.Set(voxmarch.KeyRaytracerDoLighting, voxmarch.Bool(true))
	h := newHarness(t, 4, 4, cfg)
	h.pipe.SetSun(mgl32.Vec3{0, 0, -1})
	h.world.Update(func(s *voxmarch.WorldState) {
		s.Scene.SpawnMesh(voxelTriangle(t), mgl32.Vec3{}, red)
	})
	h.frame()
	assert.InDelta(t, 0.2, h.final(1, 1)[0], 1e-5)
}

func TestFrameErrorsLeaveClockAlone(t *testing.T) {
	h := newHarness(t, 4, 4, nil)
	assert.ErrorIs(t, h.pipe.Frame(nil), ErrNoSnapshot)

	boom := assert.AnError
	h.pipe.SetOverlay(func(gpu.Encoder, gpu.SurfaceFrame) error { return boom })
	snap := *h.world.Snapshot()
	err := h.pipe.Frame(&snap)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pass composite")
	assert.Equal(t, uint64(0), h.pipe.Clock().Frame())

	h.pipe.SetOverlay(nil)
	h.frame()
	assert.Equal(t, uint64(1), h.pipe.Clock().Frame())
}

type failingSurface struct {
	gpu.Surface
	fail bool
}

func (s *failingSurface) Present(f gpu.SurfaceFrame) error {
	if s.fail {
		f.Release()
		return assert.AnError
	}
	return s.Surface.Present(f)
}

func TestPresentFailureDropsHistory(t *testing.T) {
	dev := soft.New(soft.Options{Workers: 4, Width: 4, Height: 4})
	surf := &failingSurface{Surface: dev.Surface()}
	pipe, err := New(dev, surf, Options{Width: 4, Height: 4, VolumeSize: [3]uint32{4, 4, 4}})
	require.NoError(t, err)
	t.Cleanup(func() {
		pipe.Release()
		dev.Release()
	})
	world := voxmarch.NewWorld(4, 4, nil, nil)

	require.NoError(t, pipe.Frame(world.Snapshot()))
	require.True(t, pipe.denoise.HistoryValid())

	surf.fail = true
	assert.ErrorIs(t, pipe.Frame(world.Snapshot()), assert.AnError)
	assert.False(t, pipe.denoise.HistoryValid())
	assert.Equal(t, uint64(1), pipe.Clock().Frame())

	surf.fail = false
	require.NoError(t, pipe.Frame(world.Snapshot()))
	assert.True(t, pipe.denoise.HistoryValid())
	assert.Equal(t, uint64(2), pipe.Clock().Frame())
}

func TestPassOrder(t *testing.T) {
	h := newHarness(t, 1, 1, nil)
	passes := h.pipe.Passes()
	assert.Equal(t, []string{"voxelize", "mipgen", "raymarch", "denoise", "composite"}, passes.Names())
	assert.NoError(t, passes.Validate())
}

func TestNewRejectsBadVolume(t *testing.T) {
	dev := soft.New(soft.Options{Workers: 1})
	defer dev.Release()
	_, err := New(dev, nil, Options{VolumeSize: [3]uint32{2048, 4, 4}})
	assert.Error(t, err)

	p, err := New(dev, nil, Options{Width: 2, Height: 2, VolumeSize: [3]uint32{8, 8, 8}})
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, uint32(3), p.Atlas().VolumeInfo().MipLevels)
	require.NoError(t, p.Frame(&voxmarch.FrameSnapshot{Camera: mgl32.Ident4(), FOV: 90, Settings: voxmarch.NewConfig().MustSettings(nil)}))
}

func TestStatsAreLogged(t *testing.T) {
	dev := soft.New(soft.Options{Workers: 1})
	defer dev.Release()
	log := &captureLogger{}
	p, err := New(dev, nil, Options{Width: 2, Height: 2, VolumeSize: [3]uint32{4, 4, 4}, Logger: log, StatsEvery: 2})
	require.NoError(t, err)
	defer p.Release()

	snap := &voxmarch.FrameSnapshot{Camera: mgl32.Ident4(), FOV: 90, Settings: voxmarch.NewConfig().MustSettings(nil)}
	require.NoError(t, p.Frame(snap))
	require.NoError(t, p.Frame(snap))
	assert.True(t, log.contains("Timings (CPU)"))
	assert.True(t, log.contains("raymarch"))
}

type captureLogger struct {
	lines []string
}

func (l *captureLogger) DebugEnabled() bool { return true }
func (l *captureLogger) SetDebug(bool)      {}
func (l *captureLogger) Debugf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}
func (l *captureLogger) Infof(format string, args ...any)  {}
func (l *captureLogger) Warnf(format string, args ...any)  {}
func (l *captureLogger) Errorf(format string, args ...any) {}

func (l *captureLogger) contains(s string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}
