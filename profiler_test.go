package voxmarch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfilerScopesAndCounts(t *testing.T) {
	p := NewProfiler()
	p.BeginScope("raymarch")
	p.EndScope("raymarch")
	p.BeginScope("denoise")
	p.EndScope("denoise")
	p.BeginScope("raymarch")
	p.EndScope("raymarch")

	p.SetCount("dirty_cells", 12)
	p.AddCount("dirty_cells", 3)
	assert.Equal(t, 15, p.Count("dirty_cells"))

	out := p.StatsString()
	assert.Less(t, strings.Index(out, "raymarch"), strings.Index(out, "denoise"), "first-seen order is kept")
	assert.Contains(t, out, "dirty_cells")

	p.Reset()
	assert.Equal(t, 0, p.Count("dirty_cells"))
	assert.Contains(t, p.StatsString(), "raymarch")
}

func TestNilProfilerIsSafe(t *testing.T) {
	var p *Profiler
	p.BeginScope("x")
	p.EndScope("x")
	p.SetCount("x", 1)
	assert.Equal(t, 0, p.Count("x"))
	assert.Empty(t, p.StatsString())
}
