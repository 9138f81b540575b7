package cmd

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/hybridtrace/types"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Display the models and instances of a wavefront scene or the demo scene.
func ShowSceneInfo(ctx *cli.Context) error {
	if _, err := loadConfig(ctx); err != nil {
		return err
	}

	models, transforms, cam, err := loadScene(ctx.Args().First())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Instance", "Model", "Type", "Triangles", "World position"})

	totalTris := 0
	for index, model := range models {
		kind, tris := "implicit", "-"
		if !model.IsImplicit() {
			kind = "mesh"
			tris = fmt.Sprint(model.Mesh.TriangleCount())
			totalTris += model.Mesh.TriangleCount()
		}
		table.Append([]string{
			fmt.Sprint(index),
			model.Name,
			kind,
			tris,
			fmtVec3(transforms[index].TransformPoint(types.Vec3{})),
		})
	}
	table.SetFooter([]string{"", "", "TOTAL", fmt.Sprint(totalTris), ""})
	table.Render()

	logger.Noticef("scene information:\n%s", buf.String())
	logger.Noticef("camera at %s looking at %s (fov %.0f)\n%s", fmtVec3(cam.Position), fmtVec3(cam.LookAt), cam.FOV, cam.Corners())
	return nil
}

func fmtVec3(v types.Vec3) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v[0], v[1], v[2])
}
