package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/gogpu/voxrt/voxel"
)

// ErrEmpty is returned when there is nothing to export.
var ErrEmpty = errors.New("export: volume has no visible faces")

// Generator is written to the asset block of exported documents.
const Generator = "voxrt"

// Document converts a mesh into a glTF document with a single node. Colors
// are stored per vertex in linear space; the one material is opaque unless
// the mesh is translucent.
func Document(m *Mesh) (*gltf.Document, error) {
	if m.Empty() {
		return nil, ErrEmpty
	}
	doc := gltf.NewDocument()
	doc.Asset.Generator = Generator

	pos := modeler.WritePosition(doc, m.Positions)
	norm := modeler.WriteNormal(doc, m.Normals)
	col := modeler.WriteColor(doc, m.Colors)
	idx := modeler.WriteIndices(doc, m.Indices)

	mat := &gltf.Material{
		Name: "voxels",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float32{1, 1, 1, 1},
			MetallicFactor:  gltf.Float(0),
			RoughnessFactor: gltf.Float(1),
		},
		AlphaMode: gltf.AlphaOpaque,
	}
	if m.Translucent {
		mat.AlphaMode = gltf.AlphaBlend
	}
	doc.Materials = []*gltf.Material{mat}

	doc.Meshes = []*gltf.Mesh{{
		Name: "world",
		Primitives: []*gltf.Primitive{{
			Attributes: map[string]uint32{
				gltf.POSITION: uint32(pos),  //nolint:gosec // accessor index
				gltf.NORMAL:   uint32(norm), //nolint:gosec // accessor index
				gltf.COLOR_0:  uint32(col),  //nolint:gosec // accessor index
			},
			Indices:  gltf.Index(uint32(idx)), //nolint:gosec // accessor index
			Material: gltf.Index(0),
		}},
	}}
	doc.Nodes = []*gltf.Node{{Name: "world", Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)
	return doc, nil
}

// WriteGLB meshes vol and writes it to w as binary glTF.
func WriteGLB(w io.Writer, vol *voxel.Volume, pal *voxel.Palette) error {
	doc, err := Document(BuildMesh(vol, pal))
	if err != nil {
		return err
	}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: encode glb: %w", err)
	}
	return nil
}

// SaveGLB meshes vol and writes it to path.
func SaveGLB(path string, vol *voxel.Volume, pal *voxel.Palette) error {
	doc, err := Document(BuildMesh(vol, pal))
	if err != nil {
		return err
	}
	if err := gltf.SaveBinary(doc, path); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
