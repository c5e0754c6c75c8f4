package atlas

import (
	"fmt"

	"github.com/gekko3d/voxmarch/rt/gpu"
)

// Well-known resource keys.
const (
	KeyVolume         = "voxel_volume"
	KeyDirtyPositions = "voxelizer_dirty_positions"
	KeyDirtyCount     = "voxelizer_dirty_count"
	KeyStaticPoints   = "voxelizer_static_points"
	KeyMipCells       = "mipmapper_cells"
	KeyRayColor       = "raytracer_color"
	KeyRayDepth       = "raytracer_depth"
	KeyRayPosition    = "raytracer_position"
	KeyDenoiseBlend   = "denoiser_blend"
	KeyDenoiseColor   = "denoiser_attachment_color"
)

// MeshVerticesKey and MeshIndicesKey name the GPU copies of a mesh.
func MeshVerticesKey(id fmt.Stringer) string { return "mesh_vertices:" + id.String() }
func MeshIndicesKey(id fmt.Stringer) string  { return "mesh_indices:" + id.String() }

// The accessors below panic when the resource is missing: every key is
// registered at pipeline construction, so a miss is a programming error.

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func (a *Atlas) Volume() gpu.Texture { return must(a.Get(KeyVolume)) }

func (a *Atlas) VolumeInfo() Info { return must(a.GetInfo(KeyVolume)) }

// VolumeLevel returns a single-level view of the volume. The caller releases it.
func (a *Atlas) VolumeLevel(level uint32) gpu.TextureView {
	return must(a.GetView(KeyVolume, gpu.ViewDescriptor{BaseMipLevel: level, MipLevelCount: 1}))
}

// VolumeAll returns a view over the whole mip chain.
func (a *Atlas) VolumeAll() gpu.TextureView { return must(a.GetForRead(KeyVolume)) }

func (a *Atlas) DirtyPositions() gpu.Buffer { return must(a.GetBuffer(KeyDirtyPositions)) }

func (a *Atlas) DirtyCount() gpu.Buffer { return must(a.GetBuffer(KeyDirtyCount)) }

func (a *Atlas) MipCells() gpu.Buffer { return must(a.GetBuffer(KeyMipCells)) }

func (a *Atlas) RayColor() gpu.TextureView { return must(a.GetForWrite(KeyRayColor)) }

func (a *Atlas) RayDepth() gpu.TextureView { return must(a.GetForWrite(KeyRayDepth)) }

func (a *Atlas) RayPosition() gpu.TextureView { return must(a.GetForWrite(KeyRayPosition)) }

func (a *Atlas) DenoiseBlend() gpu.TextureView { return must(a.GetForWrite(KeyDenoiseBlend)) }

// DenoiseHistory is the half of the denoiser pair written last frame.
func (a *Atlas) DenoiseHistory() gpu.TextureView { return must(a.GetForRead(KeyDenoiseColor)) }

// DenoiseTarget is the half written this frame.
func (a *Atlas) DenoiseTarget() gpu.TextureView { return must(a.GetForWrite(KeyDenoiseColor)) }

// MustBuffer is GetBuffer for keys the caller registered itself.
func (a *Atlas) MustBuffer(key string) gpu.Buffer { return must(a.GetBuffer(key)) }
