package symbol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternIsIdempotent(t *testing.T) {
	tab := New()
	a := tab.Intern("foo")
	b := tab.Intern("foo")
	assert.Equal(t, a, b)
	assert.Equal(t, 1, tab.Len())
}

func TestInternAssignsDistinctIDs(t *testing.T) {
	tab := New()
	foo := tab.Intern("foo")
	bar := tab.Intern("bar")
	assert.NotEqual(t, foo, bar)
	assert.Equal(t, 2, tab.Len())
}

func TestNameRoundTrip(t *testing.T) {
	tab := New()
	id := tab.Intern("hello")
	name, ok := tab.Name(id)
	require.True(t, ok)
	assert.Equal(t, "hello", name)
}

func TestNameUnknownID(t *testing.T) {
	tab := New()
	_, ok := tab.Name(99)
	assert.False(t, ok)

	_, ok = tab.Name(-1)
	assert.False(t, ok)
}

func TestLookupWithoutInterning(t *testing.T) {
	tab := New()
	_, ok := tab.Lookup("never-interned")
	assert.False(t, ok)

	id := tab.Intern("seen")
	got, ok := tab.Lookup("seen")
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestInternConcurrentSameName(t *testing.T) {
	tab := New()
	var wg sync.WaitGroup
	ids := make([]int32, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = tab.Intern("shared")
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, tab.Len())
}
