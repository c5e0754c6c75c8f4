package core

import (
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFocalLength(t *testing.T) {
	assert.InDelta(t, 1.0, FocalLength(90), 1e-5)
	assert.InDelta(t, 1.7320508, FocalLength(60), 1e-5)
}

func TestLookAtLooksDownNegativeZ(t *testing.T) {
	eye := mgl32.Vec3{2, 2, 10}
	m := LookAt(eye, mgl32.Vec3{2, 2, 0}, mgl32.Vec3{0, 1, 0})

	origin := m.Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
	assert.InDelta(t, 0, origin.Sub(eye).Len(), 1e-5)

	fwd := m.Mul4x1(mgl32.Vec4{0, 0, -1, 0}).Vec3()
	assert.InDelta(t, -1, fwd.Z(), 1e-5)
}

func TestCameraTransformInvertsView(t *testing.T) {
	c := NewCameraState()
	c.Yaw = 0.4
	c.Pitch = -0.2
	id := c.GetViewMatrix().Mul4(c.Transform())
	ident := mgl32.Ident4()
	assert.InDeltaSlice(t, ident[:], id[:], 1e-4)
}

func TestTransformInverse(t *testing.T) {
	tr := NewTransform()
	tr.Position = mgl32.Vec3{1, 2, 3}
	tr.Rotation = mgl32.QuatRotate(0.7, mgl32.Vec3{0, 0, 1})
	tr.Scale = mgl32.Vec3{2, 2, 2}

	id := tr.Matrix().Mul4(tr.Inverse())
	ident := mgl32.Ident4()
	assert.InDeltaSlice(t, ident[:], id[:], 1e-4)
}

func TestNewMeshValidatesIndices(t *testing.T) {
	_, err := NewMesh("bad", []mgl32.Vec3{{0, 0, 0}}, []uint32{0, 0})
	assert.Error(t, err)

	_, err = NewMesh("oob", []mgl32.Vec3{{0, 0, 0}}, []uint32{0, 0, 3})
	assert.Error(t, err)

	cube := NewCubeMesh(2)
	assert.Equal(t, 12, cube.TriangleCount())
	lo, hi := cube.Bounds()
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, lo)
	assert.Equal(t, mgl32.Vec3{2, 2, 2}, hi)
}

func TestSceneRenderables(t *testing.T) {
	s := NewScene()
	cube := NewCubeMesh(1)

	a := s.SpawnMesh(cube, mgl32.Vec3{1, 0, 0}, [4]float32{1, 0, 0, 1})
	b := s.Spawn()
	require.NoError(t, s.SetMesh(b, cube))

	assert.True(t, s.Has(a, ComponentMaterial))
	assert.False(t, s.Has(b, ComponentTransform))

	rs := s.Renderables()
	require.Len(t, rs, 1, "entity without transform is skipped")
	assert.Equal(t, [4]float32{1, 0, 0, 1}, rs[0].Color)
	assert.Equal(t, float32(1), rs[0].Model.Col(3).X())

	require.NoError(t, s.SetTransform(b, NewTransform()))
	rs = s.Renderables()
	require.Len(t, rs, 2)
	assert.Equal(t, DefaultMaterial().BaseColor, rs[1].Color)
}

func TestSceneVersionBumps(t *testing.T) {
	s := NewScene()
	v0 := s.Version()
	id := s.Spawn()
	assert.Greater(t, s.Version(), v0)

	v1 := s.Version()
	s.Despawn(id)
	assert.Greater(t, s.Version(), v1)

	v2 := s.Version()
	s.Despawn(id)
	assert.Equal(t, v2, s.Version(), "despawning twice is a no-op")

	err := s.SetMesh(id, NewCubeMesh(1))
	assert.ErrorIs(t, err, ErrNoEntity)
}

func TestParseVoxelGrid(t *testing.T) {
	src := "4x4x4\n1,1,1,255,0,0\n\n 0, 3, 2, 0, 255, 51\r\n"
	g, err := ParseVoxelGrid(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, [3]uint32{4, 4, 4}, g.Size)
	require.Len(t, g.Voxels, 2)
	assert.Equal(t, Voxel{X: 1, Y: 1, Z: 1, Color: [4]float32{1, 0, 0, 1}}, g.Voxels[0])
	assert.Equal(t, uint32(3), g.Voxels[1].Y)
	assert.InDelta(t, 0.2, g.Voxels[1].Color[2], 1e-6)
}

func TestParseVoxelGridErrors(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"header":      "4x4\n",
		"zero dim":    "0x4x4\n",
		"short line":  "4x4x4\n1,1,1\n",
		"not a int":   "4x4x4\n1,1,a,0,0,0\n",
		"out of grid": "4x4x4\n4,0,0,0,0,0\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseVoxelGrid(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}
