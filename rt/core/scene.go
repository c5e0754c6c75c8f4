package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

type EntityID uint32

// ComponentKind is the closed set of components an entity can carry.
type ComponentKind uint8

const (
	ComponentTransform ComponentKind = iota
	ComponentMesh
	ComponentMaterial
)

func (k ComponentKind) String() string {
	switch k {
	case ComponentTransform:
		return "transform"
	case ComponentMesh:
		return "mesh"
	case ComponentMaterial:
		return "material"
	default:
		return fmt.Sprintf("component(%d)", uint8(k))
	}
}

var ErrNoEntity = errors.New("scene: no such entity")

type Material struct {
	BaseColor [4]float32
}

func DefaultMaterial() Material {
	return Material{BaseColor: [4]float32{1, 1, 1, 1}}
}

// Scene is a minimal entity store for meshes. Every mutation bumps Version so
// consumers can tell whether the set of renderables changed.
type Scene struct {
	mu         sync.RWMutex
	next       EntityID
	alive      map[EntityID]struct{}
	transforms map[EntityID]Transform
	meshes     map[EntityID]*Mesh
	materials  map[EntityID]Material
	version    uint64
}

func NewScene() *Scene {
	return &Scene{
		alive:      make(map[EntityID]struct{}),
		transforms: make(map[EntityID]Transform),
		meshes:     make(map[EntityID]*Mesh),
		materials:  make(map[EntityID]Material),
	}
}

func (s *Scene) Spawn() EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.alive[s.next] = struct{}{}
	s.version++
	return s.next
}

func (s *Scene) Despawn(id EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alive[id]; !ok {
		return
	}
	delete(s.alive, id)
	delete(s.transforms, id)
	delete(s.meshes, id)
	delete(s.materials, id)
	s.version++
}

func (s *Scene) SetTransform(id EntityID, t Transform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alive[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNoEntity, id)
	}
	s.transforms[id] = t
	s.version++
	return nil
}

func (s *Scene) SetMesh(id EntityID, m *Mesh) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alive[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNoEntity, id)
	}
	s.meshes[id] = m
	s.version++
	return nil
}

func (s *Scene) SetMaterial(id EntityID, m Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alive[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNoEntity, id)
	}
	s.materials[id] = m
	s.version++
	return nil
}

func (s *Scene) Has(id EntityID, kind ComponentKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case ComponentTransform:
		_, ok := s.transforms[id]
		return ok
	case ComponentMesh:
		_, ok := s.meshes[id]
		return ok
	case ComponentMaterial:
		_, ok := s.materials[id]
		return ok
	}
	return false
}

func (s *Scene) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Renderables returns every entity that has both a transform and a mesh, in
// spawn order. Entities without a material are drawn white.
func (s *Scene) Renderables() []Renderable {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]EntityID, 0, len(s.meshes))
	for id := range s.meshes {
		if _, ok := s.transforms[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Renderable, 0, len(ids))
	for _, id := range ids {
		mat, ok := s.materials[id]
		if !ok {
			mat = DefaultMaterial()
		}
		out = append(out, Renderable{
			Mesh:  s.meshes[id],
			Model: s.transforms[id].Matrix(),
			Color: mat.BaseColor,
		})
	}
	return out
}

// SpawnMesh is a shortcut for an entity with all three components.
func (s *Scene) SpawnMesh(m *Mesh, position mgl32.Vec3, color [4]float32) EntityID {
	id := s.Spawn()
	t := NewTransform()
	t.Position = position
	_ = s.SetTransform(id, t)
	_ = s.SetMesh(id, m)
	_ = s.SetMaterial(id, Material{BaseColor: color})
	return id
}
