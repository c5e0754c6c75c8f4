package raymarch

import (
	"math"

	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	eps     = 1e-3
	big     = 1e30
	ambient = 0.2
)

func init() {
	soft.RegisterKernel(Kernel.Name, false, raymarchKernel)
}

type hit struct {
	ok     bool
	t      float32
	color  [4]float32
	normal mgl32.Vec3
}

func pcg(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

func rand01(seed uint32) float32 {
	return float32(pcg(seed)) / 4294967295.0
}

func safeInv(d mgl32.Vec3) mgl32.Vec3 {
	r := mgl32.Vec3{big, big, big}
	for i := 0; i < 3; i++ {
		if d[i] != 0 {
			r[i] = 1 / d[i]
		}
	}
	return r
}

func floor32(v float32) int32 { return int32(math.Floor(float64(v))) }

// march is the host mirror of the WGSL march(); the volume is bound at slot 1.
func march(inv *soft.Invocation, p Params, origin, dir mgl32.Vec3, budget uint32) hit {
	var res hit
	size := mgl32.Vec3{float32(p.VolumeSize[0]), float32(p.VolumeSize[1]), float32(p.VolumeSize[2])}
	rinv := safeInv(dir)

	var tlo, thi mgl32.Vec3
	for i := 0; i < 3; i++ {
		t0 := (0 - origin[i]) * rinv[i]
		t1 := (size[i] - origin[i]) * rinv[i]
		tlo[i], thi[i] = min(t0, t1), max(t0, t1)
	}
	tmin := max(tlo[0], tlo[1], tlo[2])
	tmax := min(thi[0], thi[1], thi[2])
	if tmax < max(tmin, 0) {
		return res
	}

	axis := 0
	if tlo[1] >= tlo[0] && tlo[1] >= tlo[2] {
		axis = 1
	}
	if tlo[2] >= tlo[0] && tlo[2] >= tlo[1] {
		axis = 2
	}

	t := max(tmin, 0)
	top := int32(p.Levels) - 1
	level := top
	for steps := uint32(0); steps < budget && t <= tmax; steps++ {
		pt := origin.Add(dir.Mul(t + eps))
		dims := inv.Dims(1, uint32(level))
		scale := float32(int32(1) << level)
		var cell [3]int32
		for i := 0; i < 3; i++ {
			cell[i] = min(max(floor32(pt[i]/scale), 0), int32(dims[i])-1)
		}
		texel := inv.Load(1, cell[0], cell[1], cell[2], uint32(level))

		if texel[3] > 0 {
			if level == 0 {
				res.ok = true
				res.t = t
				res.color = texel
				if dir[axis] > 0 {
					res.normal[axis] = -1
				} else if dir[axis] < 0 {
					res.normal[axis] = 1
				}
				return res
			}
			level--
			continue
		}

		var texit mgl32.Vec3
		for i := 0; i < 3; i++ {
			lo := float32(cell[i]) * scale
			bound := lo
			if dir[i] > 0 {
				bound = lo + scale
			}
			texit[i] = (bound - origin[i]) * rinv[i]
			if dir[i] == 0 {
				texit[i] = big
			}
		}
		axis = 0
		tn := texit[0]
		if texit[1] < tn {
			tn, axis = texit[1], 1
		}
		if texit[2] < tn {
			tn, axis = texit[2], 2
		}
		t = max(tn, t)
		level = min(level+1, top)
	}
	return res
}

func raymarchKernel(inv *soft.Invocation) {
	p := inv.Uniform(0).(Params)
	x, y := inv.GlobalID[0], inv.GlobalID[1]
	if x >= p.Width || y >= p.Height {
		return
	}
	px, py := int32(x), int32(y)
	w, h := float32(p.Width), float32(p.Height)

	ndcX := 2*(float32(x)+0.5)/w - 1
	ndcY := 1 - 2*(float32(y)+0.5)/h
	dirCam := mgl32.Vec3{ndcX * p.Aspect, ndcY, -p.Focal}.Normalize()
	origin := p.Camera.Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
	dir := p.Camera.Mul4x1(dirCam.Vec4(0)).Vec3().Normalize()

	r := march(inv, p, origin, dir, p.MaxSteps)
	if !r.ok {
		inv.Store(2, px, py, 0, 0, [4]float32{})
		inv.Store(3, px, py, 0, 0, [4]float32{1, 0, 0, 1})
		inv.Store(4, px, py, 0, 0, [4]float32{})
		return
	}

	size := mgl32.Vec3{float32(p.VolumeSize[0]), float32(p.VolumeSize[1]), float32(p.VolumeSize[2])}
	far := size.Len() + origin.Sub(size.Mul(0.5)).Len()
	world := origin.Add(dir.Mul(r.t))

	color := r.color
	if p.Lighting {
		sun := p.Sun.Normalize()
		ndl := max(r.normal.Dot(sun), 0)
		visible := float32(1)
		if p.Samples > 0 && ndl > 0 {
			open := float32(0)
			start := world.Add(r.normal.Mul(2 * eps))
			for s := uint32(0); s < p.Samples; s++ {
				seed := pcg(x + pcg(y+pcg(s+pcg(p.Frame))))
				jitter := mgl32.Vec3{rand01(seed) - 0.5, rand01(seed+1) - 0.5, rand01(seed+2) - 0.5}
				ray := sun.Add(jitter.Mul(0.2)).Normalize()
				if !march(inv, p, start, ray, p.MaxSteps).ok {
					open++
				}
			}
			visible = open / float32(p.Samples)
		}
		k := ambient + (1-ambient)*ndl*visible
		color = [4]float32{r.color[0] * k, r.color[1] * k, r.color[2] * k, 1}
	}

	depth := min(max(r.t/far, 0), 1)
	inv.Store(2, px, py, 0, 0, color)
	inv.Store(3, px, py, 0, 0, [4]float32{depth, 0, 0, 1})
	inv.Store(4, px, py, 0, 0, [4]float32{world[0], world[1], world[2], 1})
}
