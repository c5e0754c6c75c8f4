package frame

import (
	"errors"
	"testing"

	"github.com/gekko3d/voxmarch"
	"github.com/gekko3d/voxmarch/rt/gpu/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePass struct {
	name   string
	reads  []ResourceRef
	writes []string
	err    error
	log    *[]string
}

func (f *fakePass) Name() string         { return f.name }
func (f *fakePass) Reads() []ResourceRef { return f.reads }
func (f *fakePass) Writes() []string     { return f.writes }
func (f *fakePass) Encode(ctx *Context) error {
	*f.log = append(*f.log, f.name)
	return f.err
}

func TestValidateOrdering(t *testing.T) {
	var log []string
	a := &fakePass{name: "a", writes: []string{"x"}, log: &log}
	b := &fakePass{name: "b", reads: []ResourceRef{Read("x"), History("h")}, writes: []string{"h"}, log: &log}

	assert.NoError(t, NewPassList(a, b).Validate())

	err := NewPassList(b, a).Validate()
	assert.ErrorIs(t, err, ErrPassOrder)
	assert.Contains(t, err.Error(), `"b" reads "x"`)

	assert.NoError(t, NewPassList(b, a).WithExternal("x").Validate())
	assert.ErrorIs(t, NewPassList(a, a).Validate(), ErrPassOrder)
}

func TestExecuteRunsInOrderAndStopsOnError(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	list := NewPassList(
		&fakePass{name: "one", log: &log},
		&fakePass{name: "two", err: boom, log: &log},
		&fakePass{name: "three", log: &log},
	)
	assert.Equal(t, []string{"one", "two", "three"}, list.Names())

	prof := voxmarch.NewProfiler()
	err := list.Execute(&Context{Profiler: prof})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "pass two")
	assert.Equal(t, []string{"one", "two"}, log)
	assert.Contains(t, prof.StatsString(), "one")
}

func TestFlushStartsNewEncoder(t *testing.T) {
	dev := soft.New(soft.Options{Workers: 1, Width: 1, Height: 1})
	defer dev.Release()

	ctx := &Context{Device: dev, Encoder: dev.NewEncoder("f")}
	first := ctx.Encoder
	require.NoError(t, ctx.Flush())
	assert.NotSame(t, first, ctx.Encoder)
	assert.Equal(t, 1, ctx.Flushes())
}

func TestDeferredRunsInReverse(t *testing.T) {
	var order []int
	ctx := &Context{}
	ctx.Defer(func() { order = append(order, 1) })
	ctx.Defer(func() { order = append(order, 2) })
	ctx.RunDeferred()
	ctx.RunDeferred()
	assert.Equal(t, []int{2, 1}, order)

	assert.False(t, ctx.Flag(FlagVolumeWritten))
	ctx.SetFlag(FlagVolumeWritten)
	assert.True(t, ctx.Flag(FlagVolumeWritten))
}
