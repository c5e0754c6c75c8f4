package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// CameraState is a Z-up fly camera. Yaw rotates around Z, pitch tilts
// toward +Z.
type CameraState struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position: mgl32.Vec3{0, 2, 20},
	}
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
	}
}

func (c *CameraState) GetRight() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(-math.Sin(float64(c.Yaw))),
		float32(math.Cos(float64(c.Yaw))),
		0,
	}
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	eye := c.Position
	return mgl32.LookAtV(eye, eye.Add(c.GetForward()), mgl32.Vec3{0, 0, 1})
}

// Transform returns the camera-to-world matrix. In camera space the camera
// looks down -Z with +Y up.
func (c *CameraState) Transform() mgl32.Mat4 {
	return c.GetViewMatrix().Inv()
}

// LookAt returns the camera-to-world matrix of a camera at eye facing target.
func LookAt(eye, target, up mgl32.Vec3) mgl32.Mat4 {
	return mgl32.LookAtV(eye, target, up).Inv()
}

// FocalLength converts a vertical field of view in degrees into the distance
// of the unit image plane: 1 / tan(fov/2).
func FocalLength(fovDegrees float32) float32 {
	half := float64(fovDegrees) / 2 * math.Pi / 180
	return float32(1 / math.Tan(half))
}
