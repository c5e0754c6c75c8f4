// Package frame models one rendered frame: the context every pass encodes
// into and the ordered, validated list of passes.
package frame

import (
	"errors"
	"fmt"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/atlas"
	"github.com/gekko3d/voxmarch/rt/gpu"
)

var ErrPassOrder = errors.New("frame: pass reads a resource no earlier pass writes")

// Flags passes can raise for later passes in the same frame.
const (
	FlagVolumeWritten = "volume_written"
)

// Context is the per-frame state handed to each pass.
type Context struct {
	Device      gpu.Device
	Atlas       *atlas.Atlas
	Snapshot    *voxmarch.FrameSnapshot
	Settings    voxmarch.Settings
	FocalLength float32
	Aspect      float32
	Frame       uint64
	Encoder     gpu.Encoder
	// Target is nil when rendering without a surface.
	Target   gpu.SurfaceFrame
	Logger   voxmarch.Logger
	Profiler *voxmarch.Profiler

	flags    map[string]bool
	deferred []func()
	flushes  int
}

func (c *Context) SetFlag(name string) {
	if c.flags == nil {
		c.flags = make(map[string]bool)
	}
	c.flags[name] = true
}

func (c *Context) Flag(name string) bool { return c.flags[name] }

// Defer schedules fn to run once the frame's commands have been submitted.
// Transient views and buffers are released this way.
func (c *Context) Defer(fn func()) {
	c.deferred = append(c.deferred, fn)
}

// RunDeferred runs and clears the deferred callbacks in reverse order.
func (c *Context) RunDeferred() {
	for i := len(c.deferred) - 1; i >= 0; i-- {
		c.deferred[i]()
	}
	c.deferred = nil
}

// Flush submits everything recorded so far, waits for the device and starts
// a new encoder. It is the only point inside a frame where the host blocks.
func (c *Context) Flush() error {
	cmd, err := c.Encoder.Finish()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	defer cmd.Release()
	if err := c.Device.Submit(cmd); err != nil {
		return fmt.Errorf("flush: submit: %w", err)
	}
	if err := c.Device.WaitIdle(); err != nil {
		return fmt.Errorf("flush: wait: %w", err)
	}
	c.flushes++
	c.Encoder = c.Device.NewEncoder(fmt.Sprintf("frame_%d_%d", c.Frame, c.flushes))
	return nil
}

func (c *Context) Flushes() int { return c.flushes }

// ResourceRef is a read dependency. History reads consume what the previous
// frame wrote and need no producer in this frame.
type ResourceRef struct {
	Key     string
	History bool
}

func Read(key string) ResourceRef    { return ResourceRef{Key: key} }
func History(key string) ResourceRef { return ResourceRef{Key: key, History: true} }

type Pass interface {
	Name() string
	Reads() []ResourceRef
	Writes() []string
	Encode(ctx *Context) error
}

// PassList is the ordered set of passes for one frame.
type PassList struct {
	passes   []Pass
	external map[string]bool
}

func NewPassList(passes ...Pass) PassList {
	return PassList{passes: passes}
}

// WithExternal marks keys that are valid without an in-frame producer
// (uploaded by the host or persistent across frames).
func (l PassList) WithExternal(keys ...string) PassList {
	ext := make(map[string]bool, len(l.external)+len(keys))
	for k := range l.external {
		ext[k] = true
	}
	for _, k := range keys {
		ext[k] = true
	}
	l.external = ext
	return l
}

func (l PassList) Names() []string {
	out := make([]string, len(l.passes))
	for i, p := range l.passes {
		out[i] = p.Name()
	}
	return out
}

func (l PassList) Len() int { return len(l.passes) }

// Validate checks that every non-history read is produced by an earlier pass
// or is external, and that pass names are unique.
func (l PassList) Validate() error {
	written := make(map[string]string)
	seen := make(map[string]bool)
	for _, p := range l.passes {
		if seen[p.Name()] {
			return fmt.Errorf("%w: pass %q appears twice", ErrPassOrder, p.Name())
		}
		seen[p.Name()] = true
		for _, r := range p.Reads() {
			if r.History || l.external[r.Key] {
				continue
			}
			if _, ok := written[r.Key]; !ok {
				return fmt.Errorf("%w: %q reads %q", ErrPassOrder, p.Name(), r.Key)
			}
		}
		for _, w := range p.Writes() {
			written[w] = p.Name()
		}
	}
	return nil
}

// Execute encodes every pass in order. Per-pass encode time goes to the
// profiler.
func (l PassList) Execute(ctx *Context) error {
	for _, p := range l.passes {
		ctx.Profiler.BeginScope(p.Name())
		err := p.Encode(ctx)
		ctx.Profiler.EndScope(p.Name())
		if err != nil {
			return fmt.Errorf("pass %s: %w", p.Name(), err)
		}
	}
	return nil
}
