package atlas

import "sync/atomic"

// FrameClock counts presented frames. Swap parity is derived from it, so it
// must advance exactly once per frame.
type FrameClock struct {
	frame atomic.Uint64
}

func (c *FrameClock) Frame() uint64 { return c.frame.Load() }

// Parity is 0 on even frames and 1 on odd frames.
func (c *FrameClock) Parity() uint32 { return uint32(c.frame.Load() & 1) }

// Advance moves to the next frame and returns its number.
func (c *FrameClock) Advance() uint64 { return c.frame.Add(1) }
