package scene

import (
	"fmt"

	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

// Primary ray directions through the top-left, top-right, bottom-left and
// bottom-right corners of the image plane. Per-pixel rays are obtained by
// bilinear interpolation of the corners.
type CornerRays [4]types.Vec3

func (cr CornerRays) String() string {
	labels := [4]string{"TL", "TR", "BL", "BR"}
	out := "Corner rays:"
	for i, r := range cr {
		out += fmt.Sprintf("\n%s : (%3.3f, %3.3f, %3.3f)", labels[i], r[0], r[1], r[2])
	}
	return out
}

// A camera movement direction.
type CameraDirection uint8

const (
	Forward CameraDirection = iota
	Backward
	Left
	Right
	Up
	Down
)

// A pinhole camera.
type Camera struct {
	Position types.Vec3
	LookAt   types.Vec3
	Up       types.Vec3

	// Vertical field of view in degrees.
	FOV float32

	// Flip the image plane vertically.
	InvertY bool

	// World to camera space transform.
	ViewMat types.Mat4

	aspect  float32
	corners CornerRays

	// Incremented whenever the view or projection changes.
	version uint64
}

// Create a camera at the origin looking down -Z with the given vertical FOV
// (in degrees).
func NewCamera(fov float32) *Camera {
	c := &Camera{
		LookAt: types.Vec3{0, 0, -1},
		Up:     types.Vec3{0, 1, 0},
		FOV:    fov,
		aspect: 1,
	}
	c.Update()
	return c
}

// Set the image aspect ratio (width / height).
func (c *Camera) SetupProjection(aspect float32) {
	if aspect <= 0 {
		aspect = 1
	}
	c.aspect = aspect
	c.Update()
}

// Get the image aspect ratio.
func (c *Camera) Aspect() float32 {
	return c.aspect
}

// Position the camera at eye looking at target.
func (c *Camera) LookFrom(eye, target types.Vec3) {
	c.Position = eye
	c.LookAt = target
	c.Update()
}

// Rotate the view direction by pitch (around the camera right axis) and yaw
// (around the up vector). Angles are in radians.
func (c *Camera) Rotate(pitch, yaw float32) {
	dir := c.LookAt.Sub(c.Position).Normalize()
	right := dir.Cross(c.Up)
	orient := types.QuatFromAxisAngle(c.Up, yaw).Mul(types.QuatFromAxisAngle(right, pitch))

	c.LookAt = c.Position.Add(orient.Normalize().Rotate(dir))
	c.Update()
}

// Move the camera and its target.
func (c *Camera) Move(dir CameraDirection, amount float32) {
	fwd := c.LookAt.Sub(c.Position).Normalize()

	var offset types.Vec3
	switch dir {
	case Forward, Backward:
		offset = fwd
	case Left, Right:
		offset = fwd.Cross(c.Up).Normalize()
	case Up, Down:
		offset = c.Up.Normalize()
	}
	if dir == Backward || dir == Left || dir == Down {
		amount = -amount
	}

	offset = offset.Mul(amount)
	c.Position = c.Position.Add(offset)
	c.LookAt = c.LookAt.Add(offset)
	c.Update()
}

// Recalculate the view transform and corner rays. Must be called after
// modifying any of the exported fields.
func (c *Camera) Update() {
	c.ViewMat = types.LookAtV(c.Position, c.LookAt, c.Up)

	// The rows of the view rotation are the camera basis vectors.
	m := c.ViewMat
	right := types.Vec3{m[0], m[4], m[8]}
	up := types.Vec3{m[1], m[5], m[9]}
	fwd := types.Vec3{-m[2], -m[6], -m[10]}

	halfH := math32.Tan(0.5 * c.FOV * math32.Pi / 180)
	dx := right.Mul(halfH * c.aspect)
	dy := up.Mul(halfH)
	if c.InvertY {
		dy = dy.Neg()
	}

	top, bottom := fwd.Add(dy), fwd.Sub(dy)
	c.corners = CornerRays{top.Sub(dx), top.Add(dx), bottom.Sub(dx), bottom.Add(dx)}
	c.version++
}

// Get the camera version. It changes every time the camera is updated so
// renderers can detect camera movement.
func (c *Camera) Version() uint64 {
	return c.version
}

// Get the unnormalized corner ray directions.
func (c *Camera) Corners() CornerRays {
	return c.corners
}

// Generate a normalized primary ray direction for the normalized screen
// coordinates (u, v) where (0, 0) is the top-left corner.
func (c *Camera) Ray(u, v float32) types.Vec3 {
	top := c.corners[0].Lerp(c.corners[1], u)
	bottom := c.corners[2].Lerp(c.corners[3], u)
	return top.Lerp(bottom, v).Normalize()
}
