package scene

import (
	"testing"

	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

func TestSDFDistances(t *testing.T) {
	type spec struct {
		sdf  SDF
		p    types.Vec3
		expD float32
	}
	specs := []spec{
		{Sphere{Radius: 1}, types.Vec3{2, 0, 0}, 1},
		{Sphere{Radius: 1}, types.Vec3{0, 0, 0}, -1},
		{Box{HalfExtents: types.Vec3{1, 1, 1}}, types.Vec3{0, 3, 0}, 2},
		{Box{HalfExtents: types.Vec3{1, 1, 1}}, types.Vec3{0, 0.5, 0}, -0.5},
		{RoundBox{HalfExtents: types.Vec3{1, 1, 1}, Radius: 0.25}, types.Vec3{2, 0, 0}, 1},
		{Torus{MajorRadius: 1, MinorRadius: 0.25}, types.Vec3{1, 0, 0}, -0.25},
		{Capsule{A: types.Vec3{0, 0, 0}, B: types.Vec3{0, 2, 0}, Radius: 0.5}, types.Vec3{1, 1, 0}, 0.5},
		{PlaneSlab{HalfSize: 5, Thickness: 0.2}, types.Vec3{0, 1, 0}, 1},
		{Translate{Sphere{Radius: 1}, types.Vec3{0, 0, 5}}, types.Vec3{0, 0, 5}, -1},
		{Union{Sphere{Radius: 1}, Translate{Sphere{Radius: 1}, types.Vec3{4, 0, 0}}}, types.Vec3{3, 0, 0}, 0},
	}

	for index, s := range specs {
		got := s.sdf.Distance(s.p)
		if math32.Abs(got-s.expD) > 1e-4 {
			t.Fatalf("[spec %d] expected distance to be %f; got %f", index, s.expD, got)
		}
	}
}

func TestSmoothUnionBlends(t *testing.T) {
	a := Sphere{Radius: 1}
	b := Translate{Sphere{Radius: 1}, types.Vec3{1.5, 0, 0}}
	p := types.Vec3{0.75, 1, 0}

	hard := Union{a, b}.Distance(p)
	smooth := SmoothUnion{a, b, 0.5}.Distance(p)
	if smooth >= hard {
		t.Fatalf("expected smooth union distance %f to be less than hard union distance %f", smooth, hard)
	}
}

func TestSDFBBoxEnclosesSurface(t *testing.T) {
	sdfs := []SDF{
		Sphere{Radius: 1},
		Torus{MajorRadius: 1, MinorRadius: 0.3},
		Capsule{A: types.Vec3{-1, 0, 0}, B: types.Vec3{1, 1, 0}, Radius: 0.2},
		PlaneSlab{HalfSize: 2, Thickness: 0.5},
	}

	for index, sdf := range sdfs {
		bbox := sdf.BBox()
		// The bbox corners must lie outside or on the surface
		for _, corner := range bbox {
			if d := sdf.Distance(corner); d < -1e-4 {
				t.Fatalf("[spec %d] bbox corner %v is inside the surface (d = %f)", index, corner, d)
			}
		}
	}
}

func TestNormal(t *testing.T) {
	n := Normal(Sphere{Radius: 1}, types.Vec3{0, 1, 0})
	if !types.ApproxEqual(n, types.Vec3{0, 1, 0}, 1e-3) {
		t.Fatalf("expected normal to be (0, 1, 0); got %v", n)
	}
}

func TestMeshValidate(t *testing.T) {
	mesh := &Mesh{
		Vertices: []types.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Indices:  []uint32{0, 1, 2},
	}
	if err := mesh.Validate(); err != nil {
		t.Fatal(err)
	}
	if mesh.TriangleCount() != 1 {
		t.Fatalf("expected 1 triangle; got %d", mesh.TriangleCount())
	}

	mesh.Indices = []uint32{0, 1, 3}
	if err := mesh.Validate(); err == nil {
		t.Fatal("expected out of range index to fail validation")
	}

	mesh.Indices = []uint32{0, 1}
	if err := mesh.Validate(); err == nil {
		t.Fatal("expected partial triangle to fail validation")
	}
}
