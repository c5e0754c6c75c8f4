package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Transform places a mesh in volume space.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Matrix returns T * R * S.
func (t Transform) Matrix() mgl32.Mat4 {
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())
	return translate.Mul4(t.Rotation.Mat4()).Mul4(scale)
}

// Inverse returns inv(S) * inv(R) * inv(T) without a general inversion.
func (t Transform) Inverse() mgl32.Mat4 {
	invScale := mgl32.Scale3D(1.0/t.Scale.X(), 1.0/t.Scale.Y(), 1.0/t.Scale.Z())
	invRotate := t.Rotation.Conjugate().Mat4()
	invTranslate := mgl32.Translate3D(-t.Position.X(), -t.Position.Y(), -t.Position.Z())
	return invScale.Mul4(invRotate).Mul4(invTranslate)
}
