package webgpu

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/voxmarch/rt/gpu"
	"github.com/gekko3d/voxmarch/rt/shaders"
	"github.com/stretchr/testify/assert"
)

func TestTextureUsageMapping(t *testing.T) {
	got := textureUsage(gpu.UsageTextureBinding | gpu.UsageStorageBinding | gpu.UsageCopyDst)
	assert.Equal(t, wgpu.TextureUsageTextureBinding|wgpu.TextureUsageStorageBinding|wgpu.TextureUsageCopyDst, got)
	assert.Equal(t, wgpu.TextureUsage(0), textureUsage(0))
}

func TestBufferUsageMapping(t *testing.T) {
	got := bufferUsage(gpu.BufferStorage | gpu.BufferCopySrc)
	assert.Equal(t, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc, got)
	assert.Equal(t, wgpu.BufferUsageMapRead, bufferUsage(gpu.BufferMapRead))
}

func TestFormatMapping(t *testing.T) {
	assert.Equal(t, wgpu.TextureFormatRGBA32Float, textureFormat(gpu.FormatRGBA32Float))
	assert.Equal(t, wgpu.TextureFormatBGRA8Unorm, textureFormat(gpu.FormatBGRA8Unorm))

	f, ok := surfaceFormat(wgpu.TextureFormatBGRA8UnormSrgb)
	assert.True(t, ok)
	assert.Equal(t, gpu.FormatBGRA8Unorm, f)
	_, ok = surfaceFormat(wgpu.TextureFormatRGBA32Float)
	assert.False(t, ok)
}

func TestDimensionMapping(t *testing.T) {
	assert.Equal(t, wgpu.TextureDimension3D, textureDimension(gpu.Dimension3D))
	assert.Equal(t, wgpu.TextureViewDimension2D, viewDimension(gpu.Dimension2D))
}

func TestClearKernelsHaveShaders(t *testing.T) {
	for _, k := range []gpu.Kernel{clear2D, clear3D} {
		_, ok := shaders.Source(k.Name)
		assert.True(t, ok, k.Name)
	}
}

func TestBlitParamsLayout(t *testing.T) {
	b := blitParams{srcW: 4, srcH: 2, linear: true, dstW: 8, dstH: 6}.Bytes()
	assert.Len(t, b, 32)
	assert.Equal(t, float32(4), gpu.F32(b, 0))
	assert.Equal(t, float32(1), gpu.F32(b, 8))
	assert.Equal(t, float32(6), gpu.F32(b, 20))
}
