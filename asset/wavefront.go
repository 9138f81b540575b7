package asset

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/achilleasa/hybridtrace/log"
	"github.com/achilleasa/hybridtrace/scene"
	"github.com/achilleasa/hybridtrace/types"
	"github.com/chewxy/math32"
)

// The models, transforms and optional camera loaded from a wavefront file.
type WavefrontScene struct {
	Models     []*scene.Model
	Transforms []types.Mat4

	// Set if the file contains camera directives.
	Camera *scene.Camera
}

type wavefrontMaterial struct {
	Name string

	// Diffuse/Albedo color.
	Kd types.Vec3

	// Emissive color and scaler.
	Ke       types.Vec3
	KeScaler float32
}

func (wf *wavefrontMaterial) material() scene.Material {
	emissive := wf.Ke
	if wf.KeScaler != 0 {
		emissive = emissive.Mul(wf.KeScaler)
	}
	return scene.Material{Albedo: wf.Kd, Emissive: emissive}
}

// A mesh under construction. Global vertex indices are remapped to a dense
// per-mesh index space.
type wavefrontMesh struct {
	name     string
	material *wavefrontMaterial
	mesh     *scene.Mesh
	remap    map[int]uint32
}

func (m *wavefrontMesh) vertex(globalIndex int, vertexList []types.Vec3) uint32 {
	if index, exists := m.remap[globalIndex]; exists {
		return index
	}
	index := uint32(len(m.mesh.Vertices))
	m.mesh.Vertices = append(m.mesh.Vertices, vertexList[globalIndex])
	m.remap[globalIndex] = index
	return index
}

type wavefrontInstance struct {
	meshName  string
	transform types.Mat4
}

type wavefrontReader struct {
	logger log.Logger

	// A map of material names to parsed wavefront materials
	matNameToIndex map[string]int
	materials      []*wavefrontMaterial

	// Currently selected material.
	curMaterial *wavefrontMaterial

	vertexList []types.Vec3

	meshes    []*wavefrontMesh
	instances []wavefrontInstance

	// Name of the last object or group statement.
	group string

	camera struct {
		defined bool
		fov     float32
		eye     types.Vec3
		look    types.Vec3
		up      types.Vec3
	}

	// Include sites of the file being parsed, innermost first.
	includes []string
}

// Read a wavefront object file. Each object or group becomes a mesh model;
// a material switch inside a group starts a new model. Polygonal faces are
// fan triangulated. If the file defines no instances every mesh is placed
// with an identity transform.
//
// Besides the standard v/f/o/g/usemtl/mtllib statements the reader accepts
// call (include another obj file), camera_fov/camera_eye/camera_look/
// camera_up and "instance mesh_name tX tY tZ yaw pitch roll sX sY sZ".
func ReadWavefront(res *Resource) (*WavefrontScene, error) {
	r := &wavefrontReader{
		logger:         log.New("wavefront reader"),
		matNameToIndex: make(map[string]int),
	}
	r.camera.fov = 45
	r.camera.up = types.Vec3{0, 1, 0}

	r.logger.Noticef(`parsing scene from "%s"`, res.Path())
	start := time.Now()

	if err := r.parse(res); err != nil {
		return nil, err
	}

	out := r.assemble()
	if len(out.Models) == 0 {
		return nil, &ParseError{File: res.Path(), Err: errors.New("no faces defined")}
	}

	r.logger.Noticef("parsed %d models in %d ms", len(out.Models), time.Since(start).Nanoseconds()/1e6)
	return out, nil
}

// Read a wavefront object file from a local path or http(s) URL.
func ReadWavefrontFile(path string) (*WavefrontScene, error) {
	res, err := NewResource(path, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	return ReadWavefront(res)
}

// Convert parsed meshes and instances into models and transforms.
func (r *wavefrontReader) assemble() *WavefrontScene {
	out := &WavefrontScene{}

	modelsByName := make(map[string]*scene.Model)
	for _, m := range r.meshes {
		model := scene.NewMeshModel(m.name, m.mesh, m.material.material())
		modelsByName[m.name] = model
		if len(r.instances) == 0 {
			out.Models = append(out.Models, model)
			out.Transforms = append(out.Transforms, types.Ident4())
		}
	}

	for _, inst := range r.instances {
		out.Models = append(out.Models, modelsByName[inst.meshName])
		out.Transforms = append(out.Transforms, inst.transform)
	}

	if r.camera.defined {
		cam := scene.NewCamera(r.camera.fov)
		cam.Up = r.camera.up
		cam.LookFrom(r.camera.eye, r.camera.look)
		cam.SetupProjection(1)
		out.Camera = cam
	}
	return out
}

// Select the default material for faces not using one.
func (r *wavefrontReader) defaultMaterial() *wavefrontMaterial {
	matIndex, exists := r.matNameToIndex[""]
	if !exists {
		r.materials = append(r.materials, &wavefrontMaterial{Kd: types.Vec3{0.7, 0.7, 0.7}})
		matIndex = len(r.materials) - 1
		r.matNameToIndex[""] = matIndex
	}
	return r.materials[matIndex]
}

// Get the mesh that receives the next face, starting a new one if the
// material changed since the last face.
func (r *wavefrontReader) currentMesh() *wavefrontMesh {
	if r.curMaterial == nil {
		r.curMaterial = r.defaultMaterial()
	}

	if n := len(r.meshes); n > 0 {
		last := r.meshes[n-1]
		if last.material == r.curMaterial {
			return last
		}
		if len(last.mesh.Indices) == 0 {
			last.material = r.curMaterial
			return last
		}
	}

	name := r.group
	if name == "" {
		name = "default"
	}
	if len(r.meshes) > 0 {
		name += ":" + r.curMaterial.Name
	}
	r.startMesh(name)
	return r.meshes[len(r.meshes)-1]
}

func (r *wavefrontReader) startMesh(name string) {
	r.dropEmptyMesh()
	r.meshes = append(r.meshes, &wavefrontMesh{
		name:     name,
		material: r.curMaterial,
		mesh:     &scene.Mesh{},
		remap:    make(map[int]uint32),
	})
}

// Drop the last parsed mesh if it contains no faces.
func (r *wavefrontReader) dropEmptyMesh() {
	last := len(r.meshes) - 1
	if last >= 0 && len(r.meshes[last].mesh.Indices) == 0 {
		r.logger.Warningf(`dropping mesh "%s" as it contains no polygons`, r.meshes[last].name)
		r.meshes = r.meshes[:last]
	}
}

// A non-empty, non-comment line of an obj or mtl file.
type statement struct {
	res     *Resource
	line    int
	keyword string
	args    []string
}

// Invoke fn for each statement in res. Errors returned by fn are annotated
// with the statement location unless they already carry one.
func (r *wavefrontReader) scan(res *Resource, fn func(st *statement) error) error {
	scanner := bufio.NewScanner(res)
	st := statement{res: res}
	for scanner.Scan() {
		st.line++
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 || strings.HasPrefix(tokens[0], "#") {
			continue
		}
		st.keyword, st.args = tokens[0], tokens[1:]

		if err := fn(&st); err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				return err
			}
			return r.locate(&st, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return r.locate(&st, err)
	}
	return nil
}

func (r *wavefrontReader) locate(st *statement, err error) error {
	return &ParseError{
		File:         st.res.Path(),
		Line:         st.line,
		IncludedFrom: append([]string(nil), r.includes...),
		Err:          err,
	}
}

func (r *wavefrontReader) parse(res *Resource) error {
	// Included object files use 1-based indices relative to their own
	// vertex list.
	vertexBase := len(r.vertexList)

	err := r.scan(res, func(st *statement) error {
		switch st.keyword {
		case "call", "mtllib":
			return r.include(st)
		case "usemtl":
			return r.useMaterial(st)
		case "v":
			v, err := parseVec3(st)
			r.vertexList = append(r.vertexList, v)
			return err
		case "g", "o":
			if len(st.args) < 1 {
				return syntaxError(st.keyword, "1 argument", 0)
			}
			r.group = st.args[0]
			r.startMesh(r.group)
		case "f":
			return r.parseFace(st, vertexBase)
		case "camera_fov", "camera_eye", "camera_look", "camera_up":
			return r.parseCamera(st)
		case "instance":
			inst, err := r.parseInstance(st)
			r.instances = append(r.instances, inst)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.dropEmptyMesh()
	return nil
}

// Parse an included obj file or material library resolved relative to the
// including file.
func (r *wavefrontReader) include(st *statement) error {
	if len(st.args) != 1 {
		return syntaxError(st.keyword, "1 argument", len(st.args))
	}

	incRes, err := NewResource(st.args[0], st.res)
	if err != nil {
		return err
	}
	defer incRes.Close()

	r.includes = append([]string{fmt.Sprintf("%s:%d [%s]", st.res.Path(), st.line, st.keyword)}, r.includes...)
	defer func() { r.includes = r.includes[1:] }()

	if st.keyword == "call" {
		return r.parse(incRes)
	}
	return r.parseMaterials(incRes)
}

func (r *wavefrontReader) useMaterial(st *statement) error {
	if len(st.args) != 1 {
		return syntaxError(st.keyword, "1 argument", len(st.args))
	}
	matIndex, exists := r.matNameToIndex[st.args[0]]
	if !exists {
		return fmt.Errorf("undefined material with name %q", st.args[0])
	}
	r.curMaterial = r.materials[matIndex]
	return nil
}

func (r *wavefrontReader) parseCamera(st *statement) error {
	r.camera.defined = true
	if st.keyword == "camera_fov" {
		fov, err := parseFloat32(st)
		r.camera.fov = fov
		return err
	}

	v, err := parseVec3(st)
	if err != nil {
		return err
	}
	switch st.keyword {
	case "camera_eye":
		r.camera.eye = v
	case "camera_look":
		r.camera.look = v
	default:
		r.camera.up = v
	}
	return nil
}

// Parse a face. Each argument is formatted as v, v/vt, v//vn or v/vt/vn
// and only the vertex index is used. Indices are 1-based relative to
// vertexBase; negative indices count back from the last vertex. Polygons
// are fan triangulated.
func (r *wavefrontReader) parseFace(st *statement, vertexBase int) error {
	if len(st.args) < 3 {
		return syntaxError(st.keyword, "at least 3 arguments", len(st.args))
	}

	corners := make([]int, len(st.args))
	for arg, token := range st.args {
		vIndex, _, _ := strings.Cut(token, "/")
		if vIndex == "" {
			return fmt.Errorf("face argument %d does not include a vertex index", arg)
		}

		var err error
		if corners[arg], err = resolveVertexIndex(vIndex, len(r.vertexList), vertexBase); err != nil {
			return fmt.Errorf("face argument %d: %w", arg, err)
		}
	}

	m := r.currentMesh()
	pivot := m.vertex(corners[0], r.vertexList)
	for arg := 1; arg+1 < len(corners); arg++ {
		m.mesh.Indices = append(m.mesh.Indices,
			pivot,
			m.vertex(corners[arg], r.vertexList),
			m.vertex(corners[arg+1], r.vertexList),
		)
	}
	return nil
}

// Parse a mesh instance placed with a T * R * S transform:
//
//	instance mesh_name tX tY tZ rX rY rZ sX sY sZ
//
// Rotation angles are in degrees and applied in X, Y, Z order.
func (r *wavefrontReader) parseInstance(st *statement) (wavefrontInstance, error) {
	if len(st.args) != 10 {
		return wavefrontInstance{}, syntaxError(st.keyword, "10 arguments: mesh_name tX tY tZ rX rY rZ sX sY sZ", len(st.args))
	}

	inst := wavefrontInstance{meshName: st.args[0]}
	if !r.hasMesh(inst.meshName) {
		return inst, fmt.Errorf("unknown mesh with name %q", inst.meshName)
	}

	var vecs [3]types.Vec3
	for i, token := range st.args[1:] {
		v, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return inst, fmt.Errorf("instance argument %d: %w", i+1, err)
		}
		vecs[i/3][i%3] = float32(v)
	}
	translation, rotation, scale := vecs[0], vecs[1].Mul(math32.Pi/180), vecs[2]

	inst.transform = types.Translate4(translation).
		Mul4(types.QuatFromEulerXYZ(rotation).Mat4()).
		Mul4(types.Scale4(scale))
	return inst, nil
}

func (r *wavefrontReader) hasMesh(name string) bool {
	for _, m := range r.meshes {
		if m.name == name {
			return true
		}
	}
	return false
}

// Parse a material library. Only the diffuse and emissive terms are used
// and other statements are ignored. "include name" copies a previously
// defined material into the current one.
func (r *wavefrontReader) parseMaterials(res *Resource) error {
	r.logger.Infof(`parsing material library "%s"`, res.Path())

	var cur *wavefrontMaterial
	return r.scan(res, func(st *statement) error {
		if st.keyword == "newmtl" {
			if len(st.args) != 1 {
				return syntaxError(st.keyword, "1 argument", len(st.args))
			}
			if _, exists := r.matNameToIndex[st.args[0]]; exists {
				return fmt.Errorf("material %q already defined", st.args[0])
			}
			cur = &wavefrontMaterial{Name: st.args[0]}
			r.matNameToIndex[cur.Name] = len(r.materials)
			r.materials = append(r.materials, cur)
			return nil
		}
		if cur == nil {
			return fmt.Errorf("got %q without a \"newmtl\"", st.keyword)
		}

		var err error
		switch st.keyword {
		case "include":
			if len(st.args) < 1 {
				return syntaxError(st.keyword, "1 argument", 0)
			}
			baseIndex, exists := r.matNameToIndex[st.args[0]]
			if !exists {
				return fmt.Errorf("could not include unknown material %q", st.args[0])
			}
			name := cur.Name
			*cur = *r.materials[baseIndex]
			cur.Name = name
		case "Kd":
			cur.Kd, err = parseVec3(st)
		case "Ke":
			cur.Ke, err = parseVec3(st)
		case "KeScaler":
			cur.KeScaler, err = parseFloat32(st)
		}
		return err
	})
}

// Map a face vertex index token to an offset in a vertex list of length
// listLen.
func resolveVertexIndex(token string, listLen, base int) (int, error) {
	index, err := strconv.Atoi(token)
	if err != nil {
		return -1, err
	}

	offset := base + index - 1
	if index < 0 {
		offset = listLen + index
	}
	if offset < 0 || offset >= listLen {
		return -1, fmt.Errorf("vertex index %d out of bounds", index)
	}
	return offset, nil
}

func parseFloat32(st *statement) (float32, error) {
	if len(st.args) != 1 {
		return 0, syntaxError(st.keyword, "1 argument", len(st.args))
	}
	v, err := strconv.ParseFloat(st.args[0], 32)
	return float32(v), err
}

func parseVec3(st *statement) (types.Vec3, error) {
	var v types.Vec3
	if len(st.args) != 3 {
		return v, syntaxError(st.keyword, "3 arguments", len(st.args))
	}
	for i, token := range st.args {
		c, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(c)
	}
	return v, nil
}
