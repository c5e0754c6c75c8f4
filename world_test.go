package voxmarch

import (
	"sync"
	"testing"
	"time"

	"github.com/gekko3d/voxmarch/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorldPublishesSnapshotOnUpdate(t *testing.T) {
	w := NewWorld(64, 32, nil, nil)
	first := w.Snapshot()
	require.NotNil(t, first)
	assert.Equal(t, uint32(64), first.Width)
	assert.Empty(t, first.Renderables)

	w.Update(func(s *WorldState) {
		s.Scene.SpawnMesh(core.NewCubeMesh(1), mgl32.Vec3{1, 1, 1}, [4]float32{0, 1, 0, 1})
		s.Camera.Position = mgl32.Vec3{5, 5, 5}
		s.Config.Set(KeyFOV, Float(60))
	})

	second := w.Snapshot()
	assert.NotSame(t, first, second)
	assert.Len(t, second.Renderables, 1)
	assert.Greater(t, second.SceneVersion, first.SceneVersion)
	assert.Equal(t, float32(60), second.FOV)
	assert.InDelta(t, 5, second.Camera.Col(3).X(), 1e-5)

	// the old snapshot is untouched
	assert.Empty(t, first.Renderables)
	assert.Equal(t, float32(90), first.FOV)
}

func TestWorldConcurrentReaders(t *testing.T) {
	w := NewWorld(8, 8, nil, nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s := w.Snapshot()
					if s == nil || s.Width == 0 {
						t.Error("reader saw an incomplete snapshot")
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		w.Update(func(s *WorldState) { s.Width = uint32(8 + i) })
	}
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()
	assert.Equal(t, uint32(107), w.Snapshot().Width)
}
