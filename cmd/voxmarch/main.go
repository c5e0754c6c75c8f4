package main

import (
	"flag"
	"fmt"
	"image/png"
	"math"
	"os"
	"runtime"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/core"
	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/gekko3d/voxmarch/rt/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	runtime.LockOSThread()
}

type options struct {
	headless bool
	frames   int
	out      string
	config   string
	grid     string
	width    uint
	height   uint
	volume   uint
	spin     bool
	debug    bool
	stats    uint64
}

func main() {
	var o options
	flag.BoolVar(&o.headless, "headless", false, "Render on the CPU device without a window")
	flag.IntVar(&o.frames, "frames", 0, "Frames to render before exiting (0 = until closed; headless defaults to 1)")
	flag.StringVar(&o.out, "out", "frame.png", "PNG written after the last headless frame")
	flag.StringVar(&o.config, "config", "", "YAML file overriding renderer settings")
	flag.StringVar(&o.grid, "grid", "", "Voxel grid (.vox or text) to load instead of the demo scene")
	flag.UintVar(&o.width, "width", 1280, "Frame width")
	flag.UintVar(&o.height, "height", 720, "Frame height")
	flag.UintVar(&o.volume, "volume", pipeline.DefaultVolumeEdge, "Volume edge length in voxels")
	flag.BoolVar(&o.spin, "spin", false, "Rotate the demo mesh every frame")
	flag.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	flag.Uint64Var(&o.stats, "stats", 120, "Log pass timings every N frames at debug level (0 = never)")
	flag.Parse()

	logger := voxmarch.NewDefaultLogger("voxmarch", o.debug)
	var err error
	if o.headless {
		err = runHeadless(o, logger)
	} else {
		err = runWindowed(o, logger)
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*voxmarch.Config, error) {
	cfg := voxmarch.NewConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	if err := cfg.LoadYAML(f); err != nil {
		return nil, err
	}
	// The world panics on an unusable config; catch it here instead.
	if _, err := cfg.Settings(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// scene wires a world to a pipeline: the demo mesh or a voxel grid, and a
// camera framing the volume.
type scene struct {
	world  *voxmarch.World
	mesh   core.EntityID
	edge   float32
	spin   bool
	angle  float32
	logger voxmarch.Logger
}

func newScene(o options, pipe *pipeline.Pipeline, logger voxmarch.Logger) (*scene, error) {
	cfg, err := loadConfig(o.config)
	if err != nil {
		return nil, err
	}
	s := &scene{
		world:  voxmarch.NewWorld(uint32(o.width), uint32(o.height), cfg, logger),
		edge:   float32(o.volume),
		spin:   o.spin,
		logger: logger,
	}
	center := mgl32.Vec3{s.edge / 2, s.edge / 2, s.edge / 2}

	if o.grid != "" {
		grid, err := core.LoadVoxelGrid(o.grid)
		if err != nil {
			return nil, fmt.Errorf("grid: %w", err)
		}
		if err := pipe.UploadVoxels(grid); err != nil {
			return nil, err
		}
	} else {
		size := s.edge / 3
		floor, err := core.NewMesh("floor", []mgl32.Vec3{
			{0, 0, 1}, {s.edge, 0, 1}, {s.edge, s.edge, 1}, {0, s.edge, 1},
		}, []uint32{0, 1, 2, 0, 2, 3})
		if err != nil {
			return nil, fmt.Errorf("demo scene: %w", err)
		}
		s.world.Update(func(ws *voxmarch.WorldState) {
			s.mesh = ws.Scene.SpawnMesh(core.NewCubeMesh(size), center.Sub(mgl32.Vec3{size / 2, size / 2, size / 2}), [4]float32{0.9, 0.45, 0.2, 1})
			ws.Scene.SpawnMesh(floor, mgl32.Vec3{}, [4]float32{0.6, 0.6, 0.65, 1})
		})
	}

	s.world.Update(func(ws *voxmarch.WorldState) {
		ws.Camera.Position = center.Add(mgl32.Vec3{0, -1.4 * s.edge, 0.8 * s.edge})
		ws.Camera.Yaw = math.Pi
		ws.Camera.Pitch = -0.45
	})
	return s, nil
}

// step advances the demo animation by one frame.
func (s *scene) step() {
	if !s.spin || s.mesh == 0 {
		return
	}
	s.angle += 0.02
	size := s.edge / 3
	half := mgl32.Vec3{size / 2, size / 2, size / 2}
	center := mgl32.Vec3{s.edge / 2, s.edge / 2, s.edge / 2}
	s.world.Update(func(ws *voxmarch.WorldState) {
		t := core.NewTransform()
		t.Rotation = mgl32.QuatRotate(s.angle, mgl32.Vec3{0, 0, 1})
		// Rotate about the cube's own center.
		t.Position = center.Sub(t.Rotation.Rotate(half))
		if err := ws.Scene.SetTransform(s.mesh, t); err != nil {
			s.logger.Warnf("spin: %v", err)
		}
	})
}

// render advances the demo and draws frame n. Any frame error is fatal to
// the caller's loop.
func (s *scene) render(pipe *pipeline.Pipeline, n int) error {
	s.step()
	if err := pipe.Frame(s.world.Snapshot()); err != nil {
		return fmt.Errorf("frame %d: %w", n, err)
	}
	return nil
}

func runHeadless(o options, logger voxmarch.Logger) error {
	dev := soft.New(soft.Options{Width: uint32(o.width), Height: uint32(o.height), Logger: logger})
	defer dev.Release()
	pipe, err := pipeline.New(dev, dev.Surface(), pipelineOptions(o, logger))
	if err != nil {
		return err
	}
	defer pipe.Release()

	s, err := newScene(o, pipe, logger)
	if err != nil {
		return err
	}
	frames := max(o.frames, 1)
	for i := 0; i < frames; i++ {
		if err := s.render(pipe, i); err != nil {
			return err
		}
	}

	img := dev.Surface().LastFrame()
	if img == nil {
		return fmt.Errorf("headless: no frame presented")
	}
	f, err := os.Create(o.out)
	if err != nil {
		return fmt.Errorf("headless: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("headless: encode %s: %w", o.out, err)
	}
	logger.Infof("wrote %s after %d frames", o.out, frames)
	return nil
}

func pipelineOptions(o options, logger voxmarch.Logger) pipeline.Options {
	v := uint32(o.volume)
	return pipeline.Options{
		Width:      uint32(o.width),
		Height:     uint32(o.height),
		VolumeSize: [3]uint32{v, v, v},
		Logger:     logger,
		StatsEvery: o.stats,
	}
}
