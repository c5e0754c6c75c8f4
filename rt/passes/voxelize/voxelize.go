// Package voxelize rasterizes triangle meshes (and explicit voxel lists)
// into mip 0 of the voxel volume and records every written cell in the
// dirty-position buffer.
package voxelize

import (
	"fmt"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/core"
	"github.com/gekko3d/voxmarch/rt/frame"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

var (
	TrianglesKernel = gpu.Kernel{Name: "voxelize_triangles", WorkgroupSize: [3]uint32{64, 1, 1}}
	PointsKernel    = gpu.Kernel{Name: "voxelize_points", WorkgroupSize: [3]uint32{64, 1, 1}}
)

// MaxAxis is the largest volume edge the packed cell format can address.
const MaxAxis = 1 << 10

// PackCell packs a cell into 10 bits per axis.
func PackCell(c [3]uint32) uint32 {
	return c[0]&1023 | (c[1]&1023)<<10 | (c[2]&1023)<<20
}

func UnpackCell(v uint32) [3]uint32 {
	return [3]uint32{v & 1023, (v >> 10) & 1023, (v >> 20) & 1023}
}

// Params is the per-mesh uniform of the triangle kernel.
type Params struct {
	Model     mgl32.Mat4
	Color     [4]float32
	Size      [3]uint32
	Triangles uint32
	Capacity  uint32
}

func (p Params) Bytes() []byte {
	buf := make([]byte, 112)
	gpu.PutMat4(buf, 0, p.Model)
	gpu.PutVec4(buf, 64, p.Color)
	gpu.PutU32(buf, 80, p.Size[0])
	gpu.PutU32(buf, 84, p.Size[1])
	gpu.PutU32(buf, 88, p.Size[2])
	gpu.PutU32(buf, 92, p.Triangles)
	gpu.PutU32(buf, 96, p.Capacity)
	return buf
}

type PointParams struct {
	Size     [3]uint32
	Count    uint32
	Capacity uint32
}

func (p PointParams) Bytes() []byte {
	buf := make([]byte, 32)
	gpu.PutU32(buf, 0, p.Size[0])
	gpu.PutU32(buf, 4, p.Size[1])
	gpu.PutU32(buf, 8, p.Size[2])
	gpu.PutU32(buf, 12, p.Count)
	gpu.PutU32(buf, 16, p.Capacity)
	return buf
}

// Pass rebuilds the volume whenever the scene version changes. Between
// changes it records nothing and the dirty list stays empty.
type Pass struct {
	logger      voxmarch.Logger
	built       bool
	lastVersion uint64
	points      uint32
	meshes      map[uuid.UUID]struct{}
}

func New(logger voxmarch.Logger) *Pass {
	return &Pass{
		logger: voxmarch.OrNop(logger),
		meshes: make(map[uuid.UUID]struct{}),
	}
}

func (p *Pass) Name() string { return "voxelize" }

func (p *Pass) Reads() []frame.ResourceRef { return nil }

func (p *Pass) Writes() []string {
	return []string{atlas.KeyVolume, atlas.KeyDirtyPositions, atlas.KeyDirtyCount}
}

// Invalidate forces a full rebuild on the next frame.
func (p *Pass) Invalidate() { p.built = false }

// UploadPoints replaces the static voxel list stamped after the meshes on
// every rebuild, and schedules a rebuild.
func (p *Pass) UploadPoints(dev gpu.Device, a *atlas.Atlas, voxels []core.Voxel) error {
	info := a.VolumeInfo()
	data := make([]uint32, 0, 4*len(voxels))
	for _, v := range voxels {
		if v.X >= info.Size[0] || v.Y >= info.Size[1] || v.Z >= info.Size[2] {
			return fmt.Errorf("voxelize: voxel (%d,%d,%d) outside volume %v", v.X, v.Y, v.Z, info.Size)
		}
		data = append(data, v.X, v.Y, v.Z, packColor(v.Color))
	}
	size := uint64(max(len(data), 4)) * 4
	if err := a.RegisterBuffer(atlas.KeyStaticPoints, gpu.BufferDescriptor{
		Size:  size,
		Usage: gpu.BufferStorage | gpu.BufferCopyDst,
	}); err != nil {
		return fmt.Errorf("voxelize: points buffer: %w", err)
	}
	if len(data) > 0 {
		if err := dev.WriteBuffer(a.MustBuffer(atlas.KeyStaticPoints), 0, gpu.U32sToBytes(data)); err != nil {
			return fmt.Errorf("voxelize: upload points: %w", err)
		}
	}
	p.points = uint32(len(voxels))
	p.built = false
	return nil
}

func packColor(c [4]float32) uint32 {
	var out uint32
	for i := 0; i < 4; i++ {
		v := min(max(c[i], 0), 1)
		out |= uint32(v*255+0.5) << (8 * i)
	}
	return out
}

func unpackColor(v uint32) [4]float32 {
	var c [4]float32
	for i := 0; i < 4; i++ {
		c[i] = float32((v>>(8*i))&0xff) / 255
	}
	return c
}

func (p *Pass) Encode(ctx *frame.Context) error {
	version := ctx.Snapshot.SceneVersion
	if p.built && version == p.lastVersion {
		ctx.Profiler.SetCount("voxelized_meshes", 0)
		return nil
	}

	a := ctx.Atlas
	info := a.VolumeInfo()
	enc := ctx.Encoder
	enc.ClearTexture(a.VolumeAll(), [4]float32{})

	mip0 := a.VolumeLevel(0)
	ctx.Defer(mip0.Release)
	count := a.DirtyCount()
	positions := a.DirtyPositions()
	capacity := uint32(positions.Descriptor().Size / 4)

	seen := make(map[uuid.UUID]struct{})
	drawn := 0
	for _, r := range ctx.Snapshot.Renderables {
		if r.Mesh == nil || r.Mesh.TriangleCount() == 0 {
			continue
		}
		verts, idx, err := p.meshBuffers(ctx.Device, a, r.Mesh)
		if err != nil {
			return err
		}
		seen[r.Mesh.ID] = struct{}{}
		tris := uint32(r.Mesh.TriangleCount())
		enc.Dispatch(TrianglesKernel, []gpu.Binding{
			gpu.UniformData(0, Params{
				Model:     r.Model,
				Color:     r.Color,
				Size:      info.Size,
				Triangles: tris,
				Capacity:  capacity,
			}),
			gpu.StorageBuffer(1, verts, gpu.AccessRead),
			gpu.StorageBuffer(2, idx, gpu.AccessRead),
			gpu.TextureWrite(3, mip0),
			gpu.StorageBuffer(4, count, gpu.AccessReadWrite),
			gpu.StorageBuffer(5, positions, gpu.AccessReadWrite),
		}, TrianglesKernel.Groups(tris, 1, 1))
		drawn++
	}

	if p.points > 0 {
		enc.Dispatch(PointsKernel, []gpu.Binding{
			gpu.UniformData(0, PointParams{Size: info.Size, Count: p.points, Capacity: capacity}),
			gpu.StorageBuffer(1, a.MustBuffer(atlas.KeyStaticPoints), gpu.AccessRead),
			gpu.TextureWrite(2, mip0),
			gpu.StorageBuffer(3, count, gpu.AccessReadWrite),
			gpu.StorageBuffer(4, positions, gpu.AccessReadWrite),
		}, PointsKernel.Groups(p.points, 1, 1))
	}

	for id := range p.meshes {
		if _, ok := seen[id]; !ok {
			a.Unregister(atlas.MeshVerticesKey(id))
			a.Unregister(atlas.MeshIndicesKey(id))
			delete(p.meshes, id)
		}
	}

	p.built = true
	p.lastVersion = version
	ctx.SetFlag(frame.FlagVolumeWritten)
	ctx.Profiler.SetCount("voxelized_meshes", drawn)
	p.logger.Debugf("voxelize: rebuilt volume (scene v%d, %d meshes, %d points)", version, drawn, p.points)
	return nil
}

// meshBuffers uploads a mesh on first use. Meshes are immutable, so the
// upload is keyed by mesh ID.
func (p *Pass) meshBuffers(dev gpu.Device, a *atlas.Atlas, m *core.Mesh) (gpu.Buffer, gpu.Buffer, error) {
	vkey, ikey := atlas.MeshVerticesKey(m.ID), atlas.MeshIndicesKey(m.ID)
	if _, ok := p.meshes[m.ID]; ok {
		return a.MustBuffer(vkey), a.MustBuffer(ikey), nil
	}

	verts := make([]float32, 0, 4*len(m.Vertices))
	for _, v := range m.Vertices {
		verts = append(verts, v.X(), v.Y(), v.Z(), 1)
	}
	usage := gpu.BufferStorage | gpu.BufferCopyDst
	if err := a.RegisterBuffer(vkey, gpu.BufferDescriptor{Size: uint64(max(len(verts), 1)) * 4, Usage: usage}); err != nil {
		return nil, nil, fmt.Errorf("voxelize: mesh %s: %w", m.Name, err)
	}
	if err := a.RegisterBuffer(ikey, gpu.BufferDescriptor{Size: uint64(max(len(m.Indices), 1)) * 4, Usage: usage}); err != nil {
		return nil, nil, fmt.Errorf("voxelize: mesh %s: %w", m.Name, err)
	}
	vb, ib := a.MustBuffer(vkey), a.MustBuffer(ikey)
	if err := dev.WriteBuffer(vb, 0, gpu.F32sToBytes(verts)); err != nil {
		return nil, nil, fmt.Errorf("voxelize: upload mesh %s: %w", m.Name, err)
	}
	if err := dev.WriteBuffer(ib, 0, gpu.U32sToBytes(m.Indices)); err != nil {
		return nil, nil, fmt.Errorf("voxelize: upload mesh %s: %w", m.Name, err)
	}
	p.meshes[m.ID] = struct{}{}
	return vb, ib, nil
}
