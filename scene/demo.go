package scene

import "github.com/achilleasa/hybridtrace/types"

// Build a small demo scene: a ground slab, a sphere, a rounded box, a torus
// and a capsule blended onto a sphere. It returns the models, their world
// transforms and a camera looking at the scene.
func DemoScene() ([]*Model, []types.Mat4, *Camera) {
	models := []*Model{
		NewSDFModel("ground", PlaneSlab{HalfSize: 6, Thickness: 0.2}, Material{Albedo: types.Vec3{0.7, 0.7, 0.7}}),
		NewSDFModel("sphere", Sphere{Radius: 0.75}, Material{Albedo: types.Vec3{0.8, 0.2, 0.2}}),
		NewSDFModel("box", RoundBox{HalfExtents: types.Vec3{0.5, 0.5, 0.5}, Radius: 0.1}, Material{Albedo: types.Vec3{0.2, 0.7, 0.3}}),
		NewSDFModel("torus", Torus{MajorRadius: 0.6, MinorRadius: 0.2}, Material{Albedo: types.Vec3{0.2, 0.3, 0.8}}),
		NewSDFModel(
			"blob",
			SmoothUnion{
				A: Sphere{Radius: 0.4},
				B: Capsule{A: types.Vec3{0, 0, 0}, B: types.Vec3{0, 0.8, 0}, Radius: 0.2},
				K: 0.2,
			},
			Material{Albedo: types.Vec3{0.9, 0.8, 0.3}, Emissive: types.Vec3{0.4, 0.3, 0.1}},
		),
	}

	transforms := []types.Mat4{
		types.Ident4(),
		types.Translate4(types.Vec3{-1.5, 0.75, 0}),
		types.Translate4(types.Vec3{0, 0.5, -1}).Mul4(types.Rotate4(types.Vec3{0, 1, 0}, 0.5)),
		types.Translate4(types.Vec3{1.5, 0.2, 0}),
		types.Translate4(types.Vec3{0, 0.4, 1.2}),
	}

	cam := NewCamera(45)
	cam.LookFrom(types.Vec3{0, 2.5, 6}, types.Vec3{0, 0.5, 0})
	cam.SetupProjection(1)

	return models, transforms, cam
}
