package voxmarch

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Profiler records CPU-side encode timings per pass and per-frame counters.
type Profiler struct {
	mu         sync.Mutex
	scopes     map[string]time.Duration
	startTimes map[string]time.Time
	counts     map[string]int
	order      []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		scopes:     make(map[string]time.Duration),
		startTimes: make(map[string]time.Time),
		counts:     make(map[string]int),
	}
}

func (p *Profiler) BeginScope(name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTimes[name] = time.Now()
	for _, n := range p.order {
		if n == name {
			return
		}
	}
	p.order = append(p.order, name)
}

func (p *Profiler) EndScope(name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if start, ok := p.startTimes[name]; ok {
		p.scopes[name] = time.Since(start)
		delete(p.startTimes, name)
	}
}

func (p *Profiler) SetCount(name string, count int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.counts[name] = count
	p.mu.Unlock()
}

func (p *Profiler) AddCount(name string, delta int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.counts[name] += delta
	p.mu.Unlock()
}

func (p *Profiler) Count(name string) int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name]
}

func (p *Profiler) Duration(name string) time.Duration {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scopes[name]
}

// Reset zeroes timings and counters but keeps scope order for display.
func (p *Profiler) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.scopes {
		p.scopes[k] = 0
	}
	for k := range p.counts {
		p.counts[k] = 0
	}
}

func (p *Profiler) StatsString() string {
	if p == nil {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.order {
		ms := float64(p.scopes[name].Microseconds()) / 1000.0
		sb.WriteString(fmt.Sprintf("  %-18s: %.2f ms\n", name, ms))
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.counts))
	for k := range p.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-18s: %d\n", k, p.counts[k]))
	}
	return sb.String()
}
