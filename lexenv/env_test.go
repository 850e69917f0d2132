package lexenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/arcvm/values"
)

func TestNewEnvAllSlotsStartUnbound(t *testing.T) {
	e := New(nil, 2, 1, 0)
	require.Len(t, e.Slots, 3)
	for _, s := range e.Slots {
		assert.Equal(t, values.Unbound, s)
	}
}

func TestGetSetSameDepth(t *testing.T) {
	e := New(nil, 2, 0, 0)
	require.NoError(t, e.Set(0, 1, values.Fixnum(42)))
	v, err := e.Get(0, 1)
	require.NoError(t, err)
	assert.Equal(t, values.Fixnum(42), v)
}

func TestGetAcrossParentChain(t *testing.T) {
	parent := New(nil, 1, 0, 0)
	require.NoError(t, parent.Set(0, 0, values.Fixnum(7)))
	child := New(parent, 1, 0, 0)

	v, err := child.Get(1, 0)
	require.NoError(t, err)
	assert.Equal(t, values.Fixnum(7), v)
}

func TestGetDepthOutOfRange(t *testing.T) {
	e := New(nil, 1, 0, 0)
	_, err := e.Get(1, 0)
	assert.ErrorIs(t, err, ErrDepthOutOfRange)
}

func TestGetIndexOutOfRange(t *testing.T) {
	e := New(nil, 1, 0, 0)
	_, err := e.Get(0, 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = e.Get(0, -1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestSetMutatesSharedParentFrame(t *testing.T) {
	parent := New(nil, 1, 0, 0)
	child := New(parent, 0, 0, 0)

	require.NoError(t, child.Set(1, 0, values.Fixnum(9)))
	v, err := parent.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, values.Fixnum(9), v, "setting through a depth offset mutates the ancestor frame in place")
}

func TestPromotePropagatesUpTheParentChain(t *testing.T) {
	grandparent := New(nil, 0, 0, 0)
	parent := New(grandparent, 0, 0, 0)
	child := New(parent, 0, 0, 0)

	child.Promote()

	assert.True(t, child.Promoted)
	assert.True(t, parent.Promoted)
	assert.True(t, grandparent.Promoted)
}

func TestPromoteStopsAtAlreadyPromotedAncestor(t *testing.T) {
	parent := New(nil, 0, 0, 0)
	parent.Promoted = true
	child := New(parent, 0, 0, 0)

	child.Promote()
	assert.True(t, child.Promoted)
}

func TestRebuildKeepsIdentityAndParent(t *testing.T) {
	parent := New(nil, 0, 0, 0)
	e := New(parent, 2, 0, 0)
	e.Rebuild([]values.Value{values.Fixnum(1), values.Fixnum(2)})

	assert.Equal(t, values.Fixnum(1), e.Slots[0])
	assert.Same(t, parent, e.Parent, "menv's in-place rebuild preserves the frame's identity and parent link")
}

func TestCloneIsIndependentButSharesParent(t *testing.T) {
	parent := New(nil, 0, 0, 0)
	e := New(parent, 1, 0, 0)
	require.NoError(t, e.Set(0, 0, values.Fixnum(1)))

	clone := e.Clone()
	require.NoError(t, clone.Set(0, 0, values.Fixnum(2)))

	v, _ := e.Get(0, 0)
	assert.Equal(t, values.Fixnum(1), v, "mutating the clone must not affect the original")
	assert.Same(t, parent, clone.Parent)
}
