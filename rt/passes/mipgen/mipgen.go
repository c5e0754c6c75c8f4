// Package mipgen rebuilds the coarser levels of the voxel volume from the
// cells the voxelizer touched this frame.
package mipgen

import (
	"fmt"
	"math/bits"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/frame"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/gekko3d/voxmarch/rt/passes/voxelize"
)

var Kernel = gpu.Kernel{Name: "mip_downsample", WorkgroupSize: [3]uint32{64, 1, 1}}

// Storage buffer bindings must start on this boundary.
const offsetAlignment = 256

// RegenLevels is how many levels above mip 0 are regenerated for a volume
// of the given size. The volume is allocated with RegenLevels+1 levels.
func RegenLevels(w, h, l uint32) uint32 {
	m := min(w, h, l)
	if m == 0 {
		return 0
	}
	log2 := uint32(bits.Len32(m)) - 1
	if log2 < 1 {
		return 0
	}
	return log2 - 1
}

// Plan returns the cell set of each level 1..levels. Level l+1 is the
// stable first-occurrence dedup of level l's cells halved; planning stops
// at the first empty set.
func Plan(cells [][3]uint32, levels uint32) [][][3]uint32 {
	var out [][][3]uint32
	cur := cells
	for l := uint32(1); l <= levels; l++ {
		next := halve(cur)
		if len(next) == 0 {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

// DensePlan returns every cell of each level 1..levels of a volume, x
// fastest. It replaces the sparse plan when the dirty list overflowed and
// some written cells were never recorded.
func DensePlan(size [3]uint32, levels uint32) [][][3]uint32 {
	out := make([][][3]uint32, 0, levels)
	for l := uint32(1); l <= levels; l++ {
		w, h, d := max(size[0]>>l, 1), max(size[1]>>l, 1), max(size[2]>>l, 1)
		set := make([][3]uint32, 0, int(w)*int(h)*int(d))
		for z := uint32(0); z < d; z++ {
			for y := uint32(0); y < h; y++ {
				for x := uint32(0); x < w; x++ {
					set = append(set, [3]uint32{x, y, z})
				}
			}
		}
		out = append(out, set)
	}
	return out
}

func halve(cells [][3]uint32) [][3]uint32 {
	seen := make(map[[3]uint32]struct{}, len(cells))
	out := make([][3]uint32, 0, len(cells))
	for _, c := range cells {
		p := [3]uint32{c[0] / 2, c[1] / 2, c[2] / 2}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

type Params struct {
	Count uint32
}

func (p Params) Bytes() []byte {
	buf := make([]byte, 16)
	gpu.PutU32(buf, 12, p.Count)
	return buf
}

type Pass struct {
	logger voxmarch.Logger
}

func New(logger voxmarch.Logger) *Pass {
	return &Pass{logger: voxmarch.OrNop(logger)}
}

func (p *Pass) Name() string { return "mipgen" }

func (p *Pass) Reads() []frame.ResourceRef {
	return []frame.ResourceRef{
		frame.Read(atlas.KeyVolume),
		frame.Read(atlas.KeyDirtyPositions),
		frame.Read(atlas.KeyDirtyCount),
	}
}

func (p *Pass) Writes() []string {
	return []string{atlas.KeyVolume, atlas.KeyDirtyCount, atlas.KeyMipCells}
}

// Encode flushes the frame so far, reads the dirty list back and records one
// downsample dispatch per level. Frames where nothing wrote the volume are
// skipped without a flush.
func (p *Pass) Encode(ctx *frame.Context) error {
	ctx.Profiler.SetCount("dirty_cells", 0)
	ctx.Profiler.SetCount("mip_levels_updated", 0)
	if !ctx.Flag(frame.FlagVolumeWritten) {
		return nil
	}
	if err := ctx.Flush(); err != nil {
		return fmt.Errorf("mipgen: %w", err)
	}

	a := ctx.Atlas
	cells, overflow, err := p.readDirty(ctx.Device, a)
	if err != nil {
		return err
	}
	ctx.Profiler.SetCount("dirty_cells", len(cells))

	info := a.VolumeInfo()
	levels := min(RegenLevels(info.Size[0], info.Size[1], info.Size[2]), info.MipLevels-1)
	var plan [][][3]uint32
	if overflow {
		plan = DensePlan(info.Size, levels)
	} else {
		plan = Plan(cells, levels)
	}

	if err := p.upload(ctx, plan); err != nil {
		return err
	}

	var offset uint64
	enc := ctx.Encoder
	for i, set := range plan {
		level := uint32(i + 1)
		src, dst := a.VolumeLevel(level-1), a.VolumeLevel(level)
		ctx.Defer(src.Release)
		ctx.Defer(dst.Release)

		n := uint32(len(set))
		enc.Dispatch(Kernel, []gpu.Binding{
			gpu.UniformData(0, Params{Count: n}),
			gpu.BufferRange(1, a.MipCells(), offset, uint64(n)*4, gpu.AccessRead),
			gpu.TextureRead(2, src),
			gpu.TextureWrite(3, dst),
		}, Kernel.Groups(n, 1, 1))
		offset = gpu.AlignUp(offset+uint64(n)*4, offsetAlignment)
	}

	enc.ClearBuffer(a.DirtyCount(), 0, 4)
	ctx.Profiler.SetCount("mip_levels_updated", len(plan))
	p.logger.Debugf("mipgen: %d dirty cells, %d levels", len(cells), len(plan))
	return nil
}

// readDirty returns the recorded cells, clamped to capacity, and whether the
// list overflowed.
func (p *Pass) readDirty(dev gpu.Device, a *atlas.Atlas) ([][3]uint32, bool, error) {
	raw, err := dev.ReadBuffer(a.DirtyCount(), 0, 4)
	if err != nil {
		return nil, false, fmt.Errorf("mipgen: read dirty count: %w", err)
	}
	n := gpu.U32(raw, 0)
	if n == 0 {
		return nil, false, nil
	}
	positions := a.DirtyPositions()
	capacity := uint32(positions.Descriptor().Size / 4)
	overflow := n > capacity
	if overflow {
		p.logger.Warnf("mipgen: dirty list overflowed (%d cells, capacity %d); regenerating every level", n, capacity)
		n = capacity
	}
	raw, err = dev.ReadBuffer(positions, 0, uint64(n)*4)
	if err != nil {
		return nil, false, fmt.Errorf("mipgen: read dirty positions: %w", err)
	}
	packed := gpu.BytesToU32s(raw)
	cells := make([][3]uint32, len(packed))
	for i, v := range packed {
		cells[i] = voxelize.UnpackCell(v)
	}
	return cells, overflow, nil
}

// upload writes every level's packed cells into the shared cell buffer, one
// aligned range per level, growing the buffer when needed.
func (p *Pass) upload(ctx *frame.Context, plan [][][3]uint32) error {
	if len(plan) == 0 {
		return nil
	}
	var data []byte
	for _, set := range plan {
		start := uint64(len(data))
		packed := make([]uint32, len(set))
		for i, c := range set {
			packed[i] = voxelize.PackCell(c)
		}
		data = append(data, gpu.U32sToBytes(packed)...)
		pad := gpu.AlignUp(start+uint64(len(set))*4, offsetAlignment) - uint64(len(data))
		data = append(data, make([]byte, pad)...)
	}

	a := ctx.Atlas
	if a.MipCells().Descriptor().Size < uint64(len(data)) {
		size := max(uint64(len(data)), 2*a.MipCells().Descriptor().Size)
		if err := a.RegisterBuffer(atlas.KeyMipCells, gpu.BufferDescriptor{
			Size:  size,
			Usage: gpu.BufferStorage | gpu.BufferCopyDst,
		}); err != nil {
			return fmt.Errorf("mipgen: grow cell buffer: %w", err)
		}
		p.logger.Debugf("mipgen: cell buffer grown to %d bytes", size)
	}
	if err := ctx.Device.WriteBuffer(a.MipCells(), 0, data); err != nil {
		return fmt.Errorf("mipgen: upload cells: %w", err)
	}
	return nil
}
