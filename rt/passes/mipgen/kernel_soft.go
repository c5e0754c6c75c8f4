package mipgen

import (
	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/gekko3d/voxmarch/rt/passes/voxelize"
)

func init() {
	soft.RegisterKernel(Kernel.Name, false, downsample)
}

func downsample(inv *soft.Invocation) {
	p := inv.Uniform(0).(Params)
	i := inv.GlobalID[0]
	if i >= p.Count {
		return
	}
	cell := voxelize.UnpackCell(inv.LoadU32(1, i))
	size := inv.Dims(2, 0)

	var sum [4]float32
	for k := uint32(0); k < 8; k++ {
		child := [3]uint32{cell[0]*2 + k&1, cell[1]*2 + (k>>1)&1, cell[2]*2 + (k>>2)&1}
		if child[0] >= size[0] || child[1] >= size[1] || child[2] >= size[2] {
			continue
		}
		v := inv.Load(2, int32(child[0]), int32(child[1]), int32(child[2]), 0)
		for c := range sum {
			sum[c] += v[c]
		}
	}
	for c := range sum {
		sum[c] /= 8
	}
	inv.Store(3, int32(cell[0]), int32(cell[1]), int32(cell[2]), 0, sum)
}
