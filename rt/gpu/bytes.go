package gpu

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Little-endian helpers for uniform and buffer encoding.

func PutF32(buf []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
}

func PutU32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
}

func PutVec4(buf []byte, off int, v [4]float32) {
	for i := 0; i < 4; i++ {
		PutF32(buf, off+4*i, v[i])
	}
}

// PutMat4 writes a column-major matrix, 64 bytes.
func PutMat4(buf []byte, off int, m mgl32.Mat4) {
	for i := 0; i < 16; i++ {
		PutF32(buf, off+4*i, m[i])
	}
}

func F32(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

func U32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}

func U32sToBytes(vals []uint32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		PutU32(buf, 4*i, v)
	}
	return buf
}

func BytesToU32s(buf []byte) []uint32 {
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = U32(buf, 4*i)
	}
	return out
}

func F32sToBytes(vals []float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		PutF32(buf, 4*i, v)
	}
	return buf
}

func BytesToF32s(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = F32(buf, 4*i)
	}
	return out
}

// AlignUp rounds n up to a multiple of a.
func AlignUp(n, a uint64) uint64 {
	return (n + a - 1) / a * a
}
