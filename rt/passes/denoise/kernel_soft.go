package denoise

import (
	"math"

	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	soft.RegisterKernel(ReprojectKernel.Name, false, reprojectKernel)
	soft.RegisterKernel(BlurKernel.Name, false, blurKernel)
}

func reprojectKernel(inv *soft.Invocation) {
	p := inv.Uniform(0).(ReprojectParams)
	x, y := inv.GlobalID[0], inv.GlobalID[1]
	if x >= p.Width || y >= p.Height {
		return
	}
	px, py := int32(x), int32(y)
	cur := inv.Load(1, px, py, 0, 0)
	pos := inv.Load(2, px, py, 0, 0)

	out := cur
	if p.HistoryValid && pos[3] > 0 {
		pc := p.InversePastCamera.Mul4x1(mgl32.Vec4{pos[0], pos[1], pos[2], 1})
		if pc.Z() < 0 {
			w, h := float32(p.Width), float32(p.Height)
			ndcX := pc.X() * p.Focal / -pc.Z() / p.Aspect
			ndcY := pc.Y() * p.Focal / -pc.Z()
			sx := float32(math.Floor(float64((ndcX + 1) * 0.5 * w)))
			sy := float32(math.Floor(float64((1 - ndcY) * 0.5 * h)))
			if sx >= 0 && sy >= 0 && sx < w && sy < h {
				past := inv.Load(3, int32(sx), int32(sy), 0, 0)
				for c := range out {
					out[c] = cur[c]*(1-p.Percent) + past[c]*p.Percent
				}
			}
		}
	}
	inv.Store(4, px, py, 0, 0, out)
}

func blurKernel(inv *soft.Invocation) {
	p := inv.Uniform(0).(BlurParams)
	x, y := inv.GlobalID[0], inv.GlobalID[1]
	if x >= p.Width || y >= p.Height {
		return
	}
	px, py := int32(x), int32(y)
	center := inv.Load(1, px, py, 0, 0)
	if !p.Enabled || p.Sigma <= 0 {
		inv.Store(3, px, py, 0, 0, center)
		return
	}

	pos := inv.Load(2, px, py, 0, 0)
	hit := pos[3] > 0
	r := int32(p.Radius)
	w, h := int32(p.Width), int32(p.Height)
	var sum [4]float32
	var wsum float32
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			qx, qy := px+dx, py+dy
			if qx < 0 || qy < 0 || qx >= w || qy >= h {
				continue
			}
			qp := inv.Load(2, qx, qy, 0, 0)
			if (qp[3] > 0) != hit {
				continue
			}
			weight := float32(math.Exp(-float64(dx*dx+dy*dy) / float64(2*p.Sigma*p.Sigma)))
			if hit {
				d := mgl32.Vec3{qp[0] - pos[0], qp[1] - pos[1], qp[2] - pos[2]}
				weight *= float32(math.Exp(-float64(d.Len())))
			}
			q := inv.Load(1, qx, qy, 0, 0)
			for c := range sum {
				sum[c] += q[c] * weight
			}
			wsum += weight
		}
	}
	for c := range sum {
		sum[c] /= wsum
	}
	inv.Store(3, px, py, 0, 0, sum)
}
