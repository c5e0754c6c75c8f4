package voxelize

import (
	"math"

	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/go-gl/mathgl/mgl32"
)

// CPU versions of the voxelize kernels. Both scatter into the volume, so
// they run serially to keep the dirty list order deterministic.
func init() {
	soft.RegisterKernel(TrianglesKernel.Name, true, trianglesKernel)
	soft.RegisterKernel(PointsKernel.Name, true, pointsKernel)
}

func loadVertex(inv *soft.Invocation, model mgl32.Mat4, i uint32) mgl32.Vec3 {
	v := mgl32.Vec4{inv.LoadF32(1, 4*i), inv.LoadF32(1, 4*i+1), inv.LoadF32(1, 4*i+2), 1}
	return model.Mul4x1(v).Vec3()
}

func appendDirty(inv *soft.Invocation, counterSlot, listSlot uint32, capacity uint32, cell [3]uint32) {
	slot := inv.AtomicAddU32(counterSlot, 0, 1)
	if slot < capacity {
		inv.StoreU32(listSlot, slot, PackCell(cell))
	}
}

func trianglesKernel(inv *soft.Invocation) {
	p := inv.Uniform(0).(Params)
	tri := inv.GlobalID[0]
	if tri >= p.Triangles {
		return
	}

	a := loadVertex(inv, p.Model, inv.LoadU32(2, 3*tri))
	b := loadVertex(inv, p.Model, inv.LoadU32(2, 3*tri+1))
	c := loadVertex(inv, p.Model, inv.LoadU32(2, 3*tri+2))
	e1, e2 := b.Sub(a), c.Sub(a)

	longest := max(e1.Len(), e2.Len(), c.Sub(b).Len())
	steps := max(uint32(math.Ceil(float64(longest*2))), 1)
	step := 1 / float32(steps)
	bounds := mgl32.Vec3{float32(p.Size[0]), float32(p.Size[1]), float32(p.Size[2])}

	last := [3]int32{-1, -1, -1}
	for i := uint32(0); i <= steps; i++ {
		for j := uint32(0); j <= steps-i; j++ {
			pt := a.Add(e1.Mul(float32(i) * step)).Add(e2.Mul(float32(j) * step))
			if pt.X() < 0 || pt.Y() < 0 || pt.Z() < 0 ||
				pt.X() >= bounds.X() || pt.Y() >= bounds.Y() || pt.Z() >= bounds.Z() {
				continue
			}
			cell := [3]int32{
				int32(math.Floor(float64(pt.X()))),
				int32(math.Floor(float64(pt.Y()))),
				int32(math.Floor(float64(pt.Z()))),
			}
			if cell == last {
				continue
			}
			last = cell
			inv.Store(3, cell[0], cell[1], cell[2], 0, p.Color)
			appendDirty(inv, 4, 5, p.Capacity, [3]uint32{uint32(cell[0]), uint32(cell[1]), uint32(cell[2])})
		}
	}
}

func pointsKernel(inv *soft.Invocation) {
	p := inv.Uniform(0).(PointParams)
	i := inv.GlobalID[0]
	if i >= p.Count {
		return
	}
	cell := [3]uint32{inv.LoadU32(1, 4*i), inv.LoadU32(1, 4*i+1), inv.LoadU32(1, 4*i+2)}
	if cell[0] >= p.Size[0] || cell[1] >= p.Size[1] || cell[2] >= p.Size[2] {
		return
	}
	inv.Store(2, int32(cell[0]), int32(cell[1]), int32(cell[2]), 0, unpackColor(inv.LoadU32(1, 4*i+3)))
	appendDirty(inv, 3, 4, p.Capacity, cell)
}
