package core

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type Voxel struct {
	X, Y, Z uint32
	Color   [4]float32
}

// VoxelGrid is a sparse list of colored cells inside a W x H x L box.
type VoxelGrid struct {
	Size   [3]uint32
	Voxels []Voxel
}

// ParseVoxelGrid reads the text scene format: a "WxHxL" header followed by
// one "x,y,z,r,g,b" line per voxel with 8-bit color channels. Blank lines are
// ignored. Voxels are fully opaque.
func ParseVoxelGrid(r io.Reader) (*VoxelGrid, error) {
	sc := bufio.NewScanner(r)
	line := 0
	grid := &VoxelGrid{}

	header := ""
	for sc.Scan() {
		line++
		header = strings.TrimSpace(sc.Text())
		if header != "" {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("voxel grid: %w", err)
	}
	if header == "" {
		return nil, fmt.Errorf("voxel grid: missing dimensions header")
	}
	dims := strings.Split(header, "x")
	if len(dims) != 3 {
		return nil, fmt.Errorf("voxel grid: line %d: expected WxHxL, got %q", line, header)
	}
	for i, d := range dims {
		v, err := strconv.ParseUint(strings.TrimSpace(d), 10, 32)
		if err != nil || v == 0 {
			return nil, fmt.Errorf("voxel grid: line %d: bad dimension %q", line, d)
		}
		grid.Size[i] = uint32(v)
	}

	for sc.Scan() {
		line++
		text := strings.ReplaceAll(sc.Text(), " ", "")
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		fields := strings.Split(text, ",")
		if len(fields) != 6 {
			return nil, fmt.Errorf("voxel grid: line %d: expected 6 values, got %d", line, len(fields))
		}
		var vals [6]uint64
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("voxel grid: line %d: %w", line, err)
			}
			vals[i] = v
		}
		if vals[0] >= uint64(grid.Size[0]) || vals[1] >= uint64(grid.Size[1]) || vals[2] >= uint64(grid.Size[2]) {
			return nil, fmt.Errorf("voxel grid: line %d: position (%d,%d,%d) outside %v", line, vals[0], vals[1], vals[2], grid.Size)
		}
		grid.Voxels = append(grid.Voxels, Voxel{
			X: uint32(vals[0]), Y: uint32(vals[1]), Z: uint32(vals[2]),
			Color: [4]float32{
				float32(min(vals[3], 255)) / 255,
				float32(min(vals[4], 255)) / 255,
				float32(min(vals[5], 255)) / 255,
				1,
			},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("voxel grid: %w", err)
	}
	return grid, nil
}
