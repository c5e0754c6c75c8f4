package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const voxMagic = "VOX "

var ErrNotVox = errors.New("vox: not a MagicaVoxel file")

// voxPalette is indexed by the color index stored with each voxel; index 0
// is never referenced. An RGBA chunk replaces all 255 entries, zeros
// included; without one every entry is white.
type voxPalette [256][4]byte

func whitePalette() voxPalette {
	var p voxPalette
	for i := range p {
		p[i] = [4]byte{255, 255, 255, 255}
	}
	return p
}

type voxChunk struct {
	id   string
	data []byte
}

func readVoxChunk(r io.Reader) (voxChunk, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return voxChunk{}, err
	}
	size := binary.LittleEndian.Uint32(hdr[4:8])
	c := voxChunk{id: string(hdr[:4]), data: make([]byte, size)}
	if _, err := io.ReadFull(r, c.data); err != nil {
		return voxChunk{}, fmt.Errorf("vox: chunk %s: %w", c.id, err)
	}
	return c, nil
}

// ReadVox decodes the first model of a MagicaVoxel file into a voxel grid.
// Children of MAIN are read as a flat chunk stream; MATL and scene graph
// chunks are skipped.
func ReadVox(r io.Reader) (*VoxelGrid, error) {
	var head [8]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("vox: header: %w", err)
	}
	if string(head[:4]) != voxMagic {
		return nil, ErrNotVox
	}

	palette := whitePalette()
	var (
		grid   *VoxelGrid
		xyzi   []byte
		models int
	)
	for {
		c, err := readVoxChunk(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch c.id {
		case "SIZE":
			models++
			if models > 1 {
				continue
			}
			if len(c.data) < 12 {
				return nil, errors.New("vox: SIZE chunk too small")
			}
			grid = &VoxelGrid{Size: [3]uint32{
				binary.LittleEndian.Uint32(c.data[0:4]),
				binary.LittleEndian.Uint32(c.data[4:8]),
				binary.LittleEndian.Uint32(c.data[8:12]),
			}}
		case "XYZI":
			if models == 1 && xyzi == nil {
				xyzi = c.data
			}
		case "RGBA":
			for i := 0; i < 255 && 4*i+3 < len(c.data); i++ {
				copy(palette[i+1][:], c.data[4*i:4*i+4])
			}
		}
	}
	if grid == nil {
		return nil, errors.New("vox: no model")
	}
	if len(xyzi) < 4 {
		return grid, nil
	}

	n := binary.LittleEndian.Uint32(xyzi[:4])
	if uint64(len(xyzi)-4) < 4*uint64(n) {
		return nil, fmt.Errorf("vox: XYZI holds %d bytes for %d voxels", len(xyzi)-4, n)
	}
	grid.Voxels = make([]Voxel, 0, n)
	for i := uint32(0); i < n; i++ {
		b := xyzi[4+4*i : 8+4*i]
		v := Voxel{X: uint32(b[0]), Y: uint32(b[1]), Z: uint32(b[2])}
		if v.X >= grid.Size[0] || v.Y >= grid.Size[1] || v.Z >= grid.Size[2] {
			return nil, fmt.Errorf("vox: voxel %d at (%d,%d,%d) outside %v", i, v.X, v.Y, v.Z, grid.Size)
		}
		rgba := palette[b[3]]
		for c := range v.Color {
			v.Color[c] = float32(rgba[c]) / 255
		}
		grid.Voxels = append(grid.Voxels, v)
	}
	return grid, nil
}

// LoadVoxelGrid reads a .vox file or the text grid format, by extension.
func LoadVoxelGrid(path string) (*VoxelGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".vox") {
		return ReadVox(f)
	}
	return ParseVoxelGrid(f)
}
