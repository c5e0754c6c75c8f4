package voxmarch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	s, err := NewConfig().Settings()
	require.NoError(t, err)
	assert.Equal(t, Settings{
		MaxSteps:            200,
		Samples:             1,
		ReprojectionPercent: 0.90,
		BlurStrength:        1.5,
		DoLighting:          false,
		EnableFiltering:     true,
		FOV:                 90,
	}, s)
}

func TestConfigValueConversions(t *testing.T) {
	f, err := Int(3).Float()
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)

	i, err := Float(2.9).Int()
	require.NoError(t, err)
	assert.Equal(t, int64(2), i)

	b, err := String("true").Bool()
	require.NoError(t, err)
	assert.True(t, b)

	_, err = String("nope").Float()
	assert.Error(t, err)

	assert.Equal(t, "1.5", Float(1.5).String())
}

func TestConfigMissingKey(t *testing.T) {
	c := NewConfig()
	c.Delete(KeyRaytracerMaxSteps)

	_, err := c.Settings()
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Contains(t, err.Error(), KeyRaytracerMaxSteps)

	assert.Panics(t, func() { c.MustSettings(nil) })
}

func TestConfigLoadYAML(t *testing.T) {
	c := NewConfig()
	src := `
renderer_raytracer_max_steps: 64
renderer_denoiser_reprojection_percent: 1.7
renderer_raytracer_do_lighting: true
renderer_fov: 60
game_title: "voxels"
`
	require.NoError(t, c.LoadYAML(strings.NewReader(src)))

	s, err := c.Settings()
	require.NoError(t, err)
	assert.Equal(t, 64, s.MaxSteps)
	assert.Equal(t, float32(1), s.ReprojectionPercent, "percent is clamped to [0,1]")
	assert.True(t, s.DoLighting)
	assert.Equal(t, float32(60), s.FOV)

	v, ok := c.Get("game_title")
	require.True(t, ok)
	assert.Equal(t, "voxels", v.String())
}

func TestConfigLoadYAMLRejectsNested(t *testing.T) {
	c := NewConfig()
	err := c.LoadYAML(strings.NewReader("renderer_fov: [1, 2]\n"))
	assert.Error(t, err)

	assert.NoError(t, c.LoadYAML(strings.NewReader("")))
}
