package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWBRecordsEachHolderOnce(t *testing.T) {
	b := NewBarrier()
	holder := &struct{ x int }{}

	b.WB(holder)
	assert.Equal(t, 1, b.DirtyCount())

	b.WB(holder)
	assert.Equal(t, 1, b.DirtyCount(), "repeated writes to the same holder don't inflate the dirty set")
}

func TestWBDistinctHolders(t *testing.T) {
	b := NewBarrier()
	b.WB(&struct{ x int }{})
	b.WB(&struct{ x int }{})
	assert.Equal(t, 2, b.DirtyCount())
}

func TestPauseResume(t *testing.T) {
	b := NewBarrier()
	assert.False(t, b.Paused())
	b.Pause()
	assert.True(t, b.Paused())
	b.Resume()
	assert.False(t, b.Paused())
}

func TestAdvanceGenerationClearsDirtySetAndBumpsGeneration(t *testing.T) {
	b := NewBarrier()
	b.WB(&struct{ x int }{})
	assert.Equal(t, 1, b.DirtyCount())

	before := b.gen
	b.AdvanceGeneration()
	assert.Equal(t, before+1, b.gen)
	assert.Equal(t, 0, b.DirtyCount())
}

func TestAdvanceGenerationNoopWhilePaused(t *testing.T) {
	b := NewBarrier()
	b.WB(&struct{ x int }{})
	b.Pause()

	before := b.gen
	b.AdvanceGeneration()
	assert.Equal(t, before, b.gen, "a paused barrier must not advance generations during macro expansion")
	assert.Equal(t, 1, b.DirtyCount(), "dirty entries recorded before the pause remain until collection resumes")
}
