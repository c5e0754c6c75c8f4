package voxmarch

import (
	"sync"
	"sync/atomic"

	"github.com/gekko3d/voxmarch/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// WorldState is the mutable host state. It is only reachable inside
// World.Update.
type WorldState struct {
	Camera *core.CameraState
	Width  uint32
	Height uint32
	Scene  *core.Scene
	Config *Config
}

// FrameSnapshot is the immutable view of the world the renderer consumes.
// One snapshot is acquired per frame.
type FrameSnapshot struct {
	Camera       mgl32.Mat4
	FOV          float32
	Width        uint32
	Height       uint32
	Renderables  []core.Renderable
	SceneVersion uint64
	Settings     Settings
}

// World owns camera, config and scene. Mutation happens through Update, which
// publishes a new snapshot on return.
type World struct {
	mu     sync.Mutex
	state  WorldState
	logger Logger
	latest atomic.Pointer[FrameSnapshot]
}

func NewWorld(width, height uint32, cfg *Config, logger Logger) *World {
	if cfg == nil {
		cfg = NewConfig()
	}
	w := &World{
		state: WorldState{
			Camera: core.NewCameraState(),
			Width:  width,
			Height: height,
			Scene:  core.NewScene(),
			Config: cfg,
		},
		logger: OrNop(logger),
	}
	w.publish()
	return w
}

// Update runs fn under the world lock and publishes a fresh snapshot.
func (w *World) Update(fn func(*WorldState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.state)
	w.publish()
}

// Snapshot returns the most recently published snapshot. It never blocks on
// Update.
func (w *World) Snapshot() *FrameSnapshot {
	return w.latest.Load()
}

// publish requires w.mu held (or exclusive access during construction).
func (w *World) publish() {
	s := w.state
	settings := s.Config.MustSettings(w.logger)
	w.latest.Store(&FrameSnapshot{
		Camera:       s.Camera.Transform(),
		FOV:          settings.FOV,
		Width:        s.Width,
		Height:       s.Height,
		Renderables:  s.Scene.Renderables(),
		SceneVersion: s.Scene.Version(),
		Settings:     settings,
	})
}
