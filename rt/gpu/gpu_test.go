package gpu

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMipSize(t *testing.T) {
	d := TextureDescriptor{Size: Extent3D{8, 4, 2}, MipLevelCount: 4, Dimension: Dimension3D}
	assert.Equal(t, Extent3D{8, 4, 2}, d.MipSize(0))
	assert.Equal(t, Extent3D{4, 2, 1}, d.MipSize(1))
	assert.Equal(t, Extent3D{1, 1, 1}, d.MipSize(3))

	d2 := TextureDescriptor{Size: Extent3D{8, 8, 5}, Dimension: Dimension2D}
	assert.Equal(t, uint32(1), d2.MipSize(1).Depth)
	assert.Equal(t, uint32(1), d2.Levels())
}

func TestResolveView(t *testing.T) {
	d := TextureDescriptor{Label: "vol", MipLevelCount: 3}

	v, err := ResolveView(d, ViewDescriptor{BaseMipLevel: 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), v.MipLevelCount)

	_, err = ResolveView(d, ViewDescriptor{BaseMipLevel: 3})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = ResolveView(d, ViewDescriptor{BaseMipLevel: 2, MipLevelCount: 2})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestKernelGroups(t *testing.T) {
	k := Kernel{Name: "k", WorkgroupSize: [3]uint32{8, 8, 1}}
	assert.Equal(t, [3]uint32{2, 1, 1}, k.Groups(9, 8, 1))
	assert.Equal(t, [3]uint32{0, 0, 1}, k.Groups(0, 0, 1))
}

func TestByteHelpers(t *testing.T) {
	buf := make([]byte, 80)
	m := mgl32.Translate3D(1, 2, 3)
	PutMat4(buf, 0, m)
	PutU32(buf, 64, 7)
	PutF32(buf, 68, 0.5)

	assert.Equal(t, float32(3), F32(buf, 14*4))
	assert.Equal(t, uint32(7), U32(buf, 64))
	assert.Equal(t, float32(0.5), F32(buf, 68))

	assert.Equal(t, []uint32{1, 2, 3}, BytesToU32s(U32sToBytes([]uint32{1, 2, 3})))
	assert.Equal(t, uint64(256), AlignUp(1, 256))
	assert.Equal(t, uint64(512), AlignUp(300, 256))
}
