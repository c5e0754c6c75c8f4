package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Mesh is an indexed triangle list. Meshes are immutable once built; the ID
// keys the GPU copies of its buffers.
type Mesh struct {
	ID       uuid.UUID
	Name     string
	Vertices []mgl32.Vec3
	Indices  []uint32
}

func NewMesh(name string, vertices []mgl32.Vec3, indices []uint32) (*Mesh, error) {
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("mesh %q: index count %d is not a multiple of 3", name, len(indices))
	}
	for i, idx := range indices {
		if int(idx) >= len(vertices) {
			return nil, fmt.Errorf("mesh %q: index %d at %d out of range (%d vertices)", name, idx, i, len(vertices))
		}
	}
	return &Mesh{
		ID:       uuid.New(),
		Name:     name,
		Vertices: vertices,
		Indices:  indices,
	}, nil
}

func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

func (m *Mesh) Triangle(i int) [3]mgl32.Vec3 {
	return [3]mgl32.Vec3{
		m.Vertices[m.Indices[3*i]],
		m.Vertices[m.Indices[3*i+1]],
		m.Vertices[m.Indices[3*i+2]],
	}
}

// Bounds returns the object-space AABB. An empty mesh yields a zero box.
func (m *Mesh) Bounds() (mgl32.Vec3, mgl32.Vec3) {
	if len(m.Vertices) == 0 {
		return mgl32.Vec3{}, mgl32.Vec3{}
	}
	lo, hi := m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		lo = mgl32.Vec3{min(lo.X(), v.X()), min(lo.Y(), v.Y()), min(lo.Z(), v.Z())}
		hi = mgl32.Vec3{max(hi.X(), v.X()), max(hi.Y(), v.Y()), max(hi.Z(), v.Z())}
	}
	return lo, hi
}

// NewCubeMesh builds an axis aligned box from the origin to (size,size,size).
func NewCubeMesh(size float32) *Mesh {
	s := size
	verts := []mgl32.Vec3{
		{0, 0, 0}, {s, 0, 0}, {s, s, 0}, {0, s, 0},
		{0, 0, s}, {s, 0, s}, {s, s, s}, {0, s, s},
	}
	idx := []uint32{
		0, 2, 1, 0, 3, 2, // -z
		4, 5, 6, 4, 6, 7, // +z
		0, 1, 5, 0, 5, 4, // -y
		3, 7, 6, 3, 6, 2, // +y
		0, 4, 7, 0, 7, 3, // -x
		1, 2, 6, 1, 6, 5, // +x
	}
	m, _ := NewMesh("cube", verts, idx)
	return m
}

// Renderable is one mesh instance as the voxelizer sees it. Model maps object
// space into volume index space.
type Renderable struct {
	Mesh  *Mesh
	Model mgl32.Mat4
	Color [4]float32
}
