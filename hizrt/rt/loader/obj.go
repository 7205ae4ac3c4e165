package loader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gekko3d/hizcull/hizrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// objIndex is one v/vt/vn triple of a face corner, as offsets into the coord
// lists; -1 means absent.
type objIndex struct {
	v, vt, vn int
}

type objReader struct {
	positions []mgl32.Vec3
	normals   []mgl32.Vec3
	uvCount   int

	corners map[objIndex]uint32
	outPos  []mgl32.Vec3
	outNrm  []mgl32.Vec3
	indices []uint32
}

// LoadOBJ reads a Wavefront OBJ mesh from path.
func LoadOBJ(path string) (*core.Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m, err := ParseOBJ(f, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseOBJ reads positions, normals and faces. Polygons are fanned into
// triangles and identical v/vt/vn corners share one vertex. When the file has
// no normals they are generated by averaging face normals.
func ParseOBJ(r io.Reader, name string) (*core.Model, error) {
	p := &objReader{corners: map[objIndex]uint32{}}
	lineNum := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 || strings.HasPrefix(tokens[0], "#") {
			continue
		}
		var err error
		switch tokens[0] {
		case "v":
			var v mgl32.Vec3
			if v, err = parseVec3(tokens); err == nil {
				p.positions = append(p.positions, v)
			}
		case "vn":
			var v mgl32.Vec3
			if v, err = parseVec3(tokens); err == nil {
				p.normals = append(p.normals, v)
			}
		case "vt":
			p.uvCount++
		case "f":
			err = p.parseFace(tokens)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	normals := p.outNrm
	if len(p.normals) == 0 {
		normals = nil
	}
	return core.NewModel(name, p.outPos, normals, p.indices)
}

func (p *objReader) parseFace(tokens []string) error {
	if len(tokens) < 4 {
		return fmt.Errorf(`"f" needs at least 3 vertices, got %d`, len(tokens)-1)
	}
	corners := make([]uint32, 0, len(tokens)-1)
	for arg, tok := range tokens[1:] {
		idx, err := p.parseCorner(tok)
		if err != nil {
			return fmt.Errorf("face argument %d: %w", arg, err)
		}
		corners = append(corners, p.vertex(idx))
	}
	for i := 1; i+1 < len(corners); i++ {
		p.indices = append(p.indices, corners[0], corners[i], corners[i+1])
	}
	return nil
}

func (p *objReader) parseCorner(tok string) (objIndex, error) {
	parts := strings.Split(tok, "/")
	idx := objIndex{v: -1, vt: -1, vn: -1}
	if parts[0] == "" {
		return idx, fmt.Errorf("missing vertex index in %q", tok)
	}
	var err error
	if idx.v, err = coordIndex(parts[0], len(p.positions)); err != nil {
		return idx, err
	}
	if len(parts) > 1 && parts[1] != "" {
		if idx.vt, err = coordIndex(parts[1], p.uvCount); err != nil {
			return idx, err
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		if idx.vn, err = coordIndex(parts[2], len(p.normals)); err != nil {
			return idx, err
		}
	}
	return idx, nil
}

func (p *objReader) vertex(idx objIndex) uint32 {
	if v, ok := p.corners[idx]; ok {
		return v
	}
	v := uint32(len(p.outPos))
	p.corners[idx] = v
	p.outPos = append(p.outPos, p.positions[idx.v])
	var n mgl32.Vec3
	if idx.vn >= 0 {
		n = p.normals[idx.vn]
	}
	p.outNrm = append(p.outNrm, n)
	return v
}

// coordIndex resolves a 1-based index, or a negative one counting back from
// the end of the list.
func coordIndex(tok string, n int) (int, error) {
	i, err := strconv.Atoi(tok)
	if err != nil {
		return -1, err
	}
	off := i - 1
	if i < 0 {
		off = n + i
	}
	if i == 0 || off < 0 || off >= n {
		return -1, fmt.Errorf("index %d out of range (%d defined)", i, n)
	}
	return off, nil
}

func parseVec3(tokens []string) (mgl32.Vec3, error) {
	var v mgl32.Vec3
	if len(tokens) < 4 {
		return v, fmt.Errorf(`%q expects 3 arguments, got %d`, tokens[0], len(tokens)-1)
	}
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(tokens[i+1], 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(f)
	}
	return v, nil
}
