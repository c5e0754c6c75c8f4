package mipgen

import (
	"testing"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/core"
	"github.com/gekko3d/voxmarch/rt/frame"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/gekko3d/voxmarch/rt/passes/voxelize"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegenLevels(t *testing.T) {
	cases := []struct {
		w, h, l uint32
		want    uint32
	}{
		{1, 1, 1, 0},
		{2, 2, 2, 0},
		{4, 4, 4, 1},
		{8, 8, 8, 2},
		{128, 128, 128, 6},
		{256, 64, 128, 5},
		{7, 9, 100, 1},
		{0, 4, 4, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, RegenLevels(c.w, c.h, c.l), "%dx%dx%d", c.w, c.h, c.l)
	}
}

func TestPlanDedupsStably(t *testing.T) {
	cells := [][3]uint32{{5, 0, 0}, {4, 1, 1}, {0, 0, 0}, {1, 1, 1}, {6, 6, 6}}
	plan := Plan(cells, 3)
	require.Len(t, plan, 3)
	assert.Equal(t, [][3]uint32{{2, 0, 0}, {0, 0, 0}, {3, 3, 3}}, plan[0])
	assert.Equal(t, [][3]uint32{{1, 0, 0}, {0, 0, 0}, {1, 1, 1}}, plan[1])
	assert.Equal(t, [][3]uint32{{0, 0, 0}}, plan[2])
}

func TestPlanSetsNeverGrow(t *testing.T) {
	var cells [][3]uint32
	for i := uint32(0); i < 300; i++ {
		cells = append(cells, [3]uint32{i * 7 % 64, i * 13 % 64, i * 29 % 64})
	}
	plan := Plan(cells, 6)
	prev := len(cells)
	for l, set := range plan {
		assert.LessOrEqual(t, len(set), prev, "level %d", l+1)
		seen := map[[3]uint32]bool{}
		for _, c := range set {
			assert.False(t, seen[c], "duplicate %v at level %d", c, l+1)
			seen[c] = true
		}
		prev = len(set)
	}
}

func TestPlanStopsAtEmptySet(t *testing.T) {
	assert.Empty(t, Plan(nil, 4))
	assert.Len(t, Plan([][3]uint32{{3, 3, 3}}, 0), 0)
}

type rig struct {
	dev   *soft.Device
	atlas *atlas.Atlas
	vox   *voxelize.Pass
	mip   *Pass
}

func newRig(t *testing.T, size, capacity uint32) *rig {
	t.Helper()
	dev := soft.New(soft.Options{Workers: 4, Width: 4, Height: 4})
	a, err := atlas.New(dev, nil, 4, 4, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Release()
		dev.Release()
	})
	require.NoError(t, a.RegisterDescriptor(atlas.KeyVolume, gpu.TextureDescriptor{
		Size:          gpu.Extent3D{Width: size, Height: size, Depth: size},
		MipLevelCount: RegenLevels(size, size, size) + 1,
		Dimension:     gpu.Dimension3D,
		Format:        gpu.FormatRGBA32Float,
	}))
	require.NoError(t, a.RegisterBuffer(atlas.KeyDirtyPositions, gpu.BufferDescriptor{
		Size:  4 * uint64(capacity),
		Usage: gpu.BufferStorage | gpu.BufferCopySrc,
	}))
	require.NoError(t, a.RegisterBuffer(atlas.KeyDirtyCount, gpu.BufferDescriptor{
		Size:  4,
		Usage: gpu.BufferStorage | gpu.BufferCopySrc | gpu.BufferCopyDst,
	}))
	require.NoError(t, a.RegisterBuffer(atlas.KeyMipCells, gpu.BufferDescriptor{
		Size:  16,
		Usage: gpu.BufferStorage | gpu.BufferCopyDst,
	}))
	return &rig{dev: dev, atlas: a, vox: voxelize.New(nil), mip: New(nil)}
}

func (r *rig) frame(t *testing.T, snap *voxmarch.FrameSnapshot) *frame.Context {
	t.Helper()
	ctx := &frame.Context{
		Device:   r.dev,
		Atlas:    r.atlas,
		Snapshot: snap,
		Encoder:  r.dev.NewEncoder("test"),
		Profiler: voxmarch.NewProfiler(),
	}
	require.NoError(t, frame.NewPassList(r.vox, r.mip).Validate())
	require.NoError(t, frame.NewPassList(r.vox, r.mip).Execute(ctx))
	cmd, err := ctx.Encoder.Finish()
	require.NoError(t, err)
	require.NoError(t, r.dev.Submit(cmd))
	ctx.RunDeferred()
	return ctx
}

func texel(t *testing.T, a *atlas.Atlas, level uint32, x, y, z int) [4]float32 {
	t.Helper()
	px, err := soft.Texel(a.Volume(), level, x, y, z)
	require.NoError(t, err)
	return px
}

func dirtyCount(t *testing.T, r *rig) uint32 {
	raw, err := r.dev.ReadBuffer(r.atlas.DirtyCount(), 0, 4)
	require.NoError(t, err)
	return gpu.U32(raw, 0)
}

func TestSingleVoxelPropagates(t *testing.T) {
	r := newRig(t, 4, 64)
	m, err := core.NewMesh("tri", []mgl32.Vec3{{1.2, 1.2, 1.5}, {1.8, 1.2, 1.5}, {1.2, 1.8, 1.5}}, []uint32{0, 1, 2})
	require.NoError(t, err)

	ctx := r.frame(t, &voxmarch.FrameSnapshot{
		SceneVersion: 1,
		Renderables:  []core.Renderable{{Mesh: m, Model: mgl32.Ident4(), Color: [4]float32{1, 0, 0, 1}}},
	})

	assert.Equal(t, [4]float32{1, 0, 0, 1}, texel(t, r.atlas, 0, 1, 1, 1))
	assert.Equal(t, [4]float32{0.125, 0, 0, 0.125}, texel(t, r.atlas, 1, 0, 0, 0))
	assert.Equal(t, [4]float32{}, texel(t, r.atlas, 1, 1, 1, 1))
	assert.Equal(t, 1, ctx.Profiler.Count("dirty_cells"))
	assert.Equal(t, 1, ctx.Profiler.Count("mip_levels_updated"))
	assert.Equal(t, 1, ctx.Flushes())
	assert.Equal(t, uint32(0), dirtyCount(t, r), "counter reset after the pass")
}

func TestFullBlockAveragesToOpaque(t *testing.T) {
	r := newRig(t, 8, 1024)
	var voxels []core.Voxel
	for z := uint32(0); z < 2; z++ {
		for y := uint32(0); y < 2; y++ {
			for x := uint32(0); x < 2; x++ {
				voxels = append(voxels, core.Voxel{X: x, Y: y, Z: z, Color: [4]float32{0, 0, 1, 1}})
			}
		}
	}
	require.NoError(t, r.vox.UploadPoints(r.dev, r.atlas, voxels))

	ctx := r.frame(t, &voxmarch.FrameSnapshot{})
	assert.Equal(t, [4]float32{0, 0, 1, 1}, texel(t, r.atlas, 1, 0, 0, 0))
	assert.Equal(t, [4]float32{0, 0, 0.125, 0.125}, texel(t, r.atlas, 2, 0, 0, 0))
	assert.Equal(t, 8, ctx.Profiler.Count("dirty_cells"))
	assert.Equal(t, 2, ctx.Profiler.Count("mip_levels_updated"))
}

func TestCleanFrameDoesNotFlush(t *testing.T) {
	r := newRig(t, 4, 64)
	snap := &voxmarch.FrameSnapshot{SceneVersion: 5}
	r.frame(t, snap)

	ctx := r.frame(t, snap)
	assert.Equal(t, 0, ctx.Flushes())
	assert.Equal(t, 0, ctx.Profiler.Count("dirty_cells"))
}

func TestEmptySceneClearsCoarseLevels(t *testing.T) {
	r := newRig(t, 4, 64)
	require.NoError(t, r.vox.UploadPoints(r.dev, r.atlas, []core.Voxel{{X: 0, Y: 0, Z: 0, Color: [4]float32{1, 1, 1, 1}}}))
	r.frame(t, &voxmarch.FrameSnapshot{})
	require.NotEqual(t, [4]float32{}, texel(t, r.atlas, 1, 0, 0, 0))

	require.NoError(t, r.vox.UploadPoints(r.dev, r.atlas, nil))
	ctx := r.frame(t, &voxmarch.FrameSnapshot{})
	assert.Equal(t, [4]float32{}, texel(t, r.atlas, 1, 0, 0, 0))
	assert.Equal(t, 0, ctx.Profiler.Count("mip_levels_updated"))
}

func TestOverflowIsClamped(t *testing.T) {
	r := newRig(t, 8, 2)
	var voxels []core.Voxel
	for x := uint32(0); x < 8; x++ {
		voxels = append(voxels, core.Voxel{X: x, Color: [4]float32{1, 1, 1, 1}})
	}
	require.NoError(t, r.vox.UploadPoints(r.dev, r.atlas, voxels))

	ctx := r.frame(t, &voxmarch.FrameSnapshot{})
	assert.Equal(t, 2, ctx.Profiler.Count("dirty_cells"))
	assert.Equal(t, 2, ctx.Profiler.Count("mip_levels_updated"))
	assert.Equal(t, uint32(0), dirtyCount(t, r))

	// Cells past capacity were never recorded; their parents still fill in.
	assert.Equal(t, [4]float32{1, 1, 1, 1}, texel(t, r.atlas, 0, 6, 0, 0))
	assert.Equal(t, [4]float32{0.25, 0.25, 0.25, 0.25}, texel(t, r.atlas, 1, 3, 0, 0))
	assert.Equal(t, [4]float32{0.0625, 0.0625, 0.0625, 0.0625}, texel(t, r.atlas, 2, 1, 0, 0))

	// A rebuild overflows the same way and must recover the same way.
	r.vox.Invalidate()
	r.frame(t, &voxmarch.FrameSnapshot{})
	assert.Equal(t, [4]float32{0.25, 0.25, 0.25, 0.25}, texel(t, r.atlas, 1, 3, 0, 0))
	assert.Equal(t, [4]float32{0.0625, 0.0625, 0.0625, 0.0625}, texel(t, r.atlas, 2, 1, 0, 0))
	assert.Equal(t, [4]float32{}, texel(t, r.atlas, 1, 3, 1, 0))
}

func TestDensePlanCoversEveryCell(t *testing.T) {
	plan := DensePlan([3]uint32{8, 4, 2}, 2)
	require.Len(t, plan, 2)
	assert.Len(t, plan[0], 4*2*1)
	assert.Equal(t, [3]uint32{0, 0, 0}, plan[0][0])
	assert.Equal(t, [3]uint32{1, 0, 0}, plan[0][1])
	assert.Equal(t, [3]uint32{3, 1, 0}, plan[0][len(plan[0])-1])
	assert.Equal(t, [][3]uint32{{0, 0, 0}, {1, 0, 0}}, plan[1])
	assert.Empty(t, DensePlan([3]uint32{8, 8, 8}, 0))
}

func TestCellBufferGrows(t *testing.T) {
	r := newRig(t, 16, 4096)
	var voxels []core.Voxel
	for y := uint32(0); y < 16; y += 2 {
		for x := uint32(0); x < 16; x += 2 {
			voxels = append(voxels, core.Voxel{X: x, Y: y, Z: 4, Color: [4]float32{1, 1, 1, 1}})
		}
	}
	require.NoError(t, r.vox.UploadPoints(r.dev, r.atlas, voxels))
	r.frame(t, &voxmarch.FrameSnapshot{})

	assert.Greater(t, r.atlas.MipCells().Descriptor().Size, uint64(16))
	assert.Equal(t, [4]float32{0.125, 0.125, 0.125, 0.125}, texel(t, r.atlas, 1, 7, 7, 2))
}

func TestParamsLayout(t *testing.T) {
	b := Params{Count: 9}.Bytes()
	assert.Len(t, b, 16)
	assert.Equal(t, uint32(9), gpu.U32(b, 12))
}
