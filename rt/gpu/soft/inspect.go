package soft

import (
	"fmt"

	"github.com/gekko3d/voxmarch/rt/gpu"
)

// Texel reads one texel straight from device memory. Intended for tests and
// debugging; it bypasses the command stream.
func Texel(t gpu.Texture, level uint32, x, y, z int) ([4]float32, error) {
	st, ok := t.(*Texture)
	if !ok {
		return [4]float32{}, fmt.Errorf("soft: foreign texture %T", t)
	}
	if st.released.Load() {
		return [4]float32{}, fmt.Errorf("%w: %s", gpu.ErrReleased, st.desc.Label)
	}
	if level >= st.desc.Levels() {
		return [4]float32{}, fmt.Errorf("%w: level %d of %s", gpu.ErrOutOfRange, level, st.desc.Label)
	}
	if _, in := st.index(level, int32(x), int32(y), int32(z)); !in {
		return [4]float32{}, fmt.Errorf("%w: (%d,%d,%d) in %s level %d", gpu.ErrOutOfRange, x, y, z, st.desc.Label, level)
	}
	return st.load(level, int32(x), int32(y), int32(z)), nil
}

// ViewTexel reads through a view; level is relative to the view's base.
func ViewTexel(v gpu.TextureView, level uint32, x, y, z int) ([4]float32, error) {
	return Texel(v.Texture(), v.BaseMipLevel()+level, x, y, z)
}

// Occupied lists every texel of a level with non-zero alpha, x fastest.
func Occupied(t gpu.Texture, level uint32) [][3]uint32 {
	st, ok := t.(*Texture)
	if !ok || st.released.Load() || level >= st.desc.Levels() {
		return nil
	}
	e := st.desc.MipSize(level)
	var out [][3]uint32
	for z := uint32(0); z < e.Depth; z++ {
		for y := uint32(0); y < e.Height; y++ {
			for x := uint32(0); x < e.Width; x++ {
				if st.load(level, int32(x), int32(y), int32(z))[3] > 0 {
					out = append(out, [3]uint32{x, y, z})
				}
			}
		}
	}
	return out
}
