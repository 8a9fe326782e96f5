package rdmnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInsertAssignsIncreasingHandles(t *testing.T) {
	r := NewRegistry()
	c1 := &Connection{}
	c2 := &Connection{}

	h1 := r.Insert(c1)
	h2 := r.Insert(c2)

	assert.NotEqual(t, InvalidHandle, h1)
	assert.NotEqual(t, InvalidHandle, h2)
	assert.Less(t, h1, h2)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryFindReturnsInsertedConnection(t *testing.T) {
	r := NewRegistry()
	c := &Connection{state: StateHeartbeat}
	h := r.Insert(c)

	got, ok := r.Find(h)
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestRegistryFindMissesUnknownHandle(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Find(Handle(12345))
	assert.False(t, ok)
}

func TestRegistryFindConflatesMarkedForDestructionWithNotFound(t *testing.T) {
	r := NewRegistry()
	c := &Connection{state: StateMarkedForDestruction}
	h := r.Insert(c)

	_, ok := r.Find(h)
	assert.False(t, ok, "a MarkedForDestruction connection must read back as not-found")
	assert.Equal(t, 1, r.Len(), "Find must not itself remove the entry")
}

func TestRegistryRemoveDeletesEntry(t *testing.T) {
	r := NewRegistry()
	c := &Connection{}
	h := r.Insert(c)

	r.Remove(h)

	_, ok := r.Find(h)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryRemoveUnknownHandleIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.Remove(Handle(999)) })
}

func TestRegistryInsertSkipsInvalidHandleAndWraps(t *testing.T) {
	r := NewRegistry()
	r.next = math.MaxInt32 - 1

	h1 := r.Insert(&Connection{})
	h2 := r.Insert(&Connection{})

	assert.NotEqual(t, InvalidHandle, h1)
	assert.NotEqual(t, InvalidHandle, h2)
	assert.Equal(t, Handle(0), h2, "handle allocation must wrap to 0 past MaxInt32")
}

func TestRegistryForEachOrderedVisitsInAscendingOrder(t *testing.T) {
	r := NewRegistry()
	var handles []Handle
	for i := 0; i < 5; i++ {
		handles = append(handles, r.Insert(&Connection{}))
	}

	var seen []Handle
	r.ForEachOrdered(func(h Handle, conn *Connection) bool {
		seen = append(seen, h)
		return true
	})

	assert.Equal(t, handles, seen)
}

func TestRegistryForEachOrderedStopsEarly(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		r.Insert(&Connection{})
	}

	count := 0
	r.ForEachOrdered(func(h Handle, conn *Connection) bool {
		count++
		return count < 2
	})

	assert.Equal(t, 2, count)
}
