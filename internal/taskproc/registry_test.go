package taskproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddLookupRemove(t *testing.T) {
	r := NewRegistry()
	a := newFakeConn(1, "s-a")
	b := newFakeConn(2, "s-b")

	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Lookup(2)
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.True(t, r.Contains(a))

	assert.True(t, r.Remove(a))
	assert.False(t, r.Remove(a), "second remove is a no-op")
	assert.False(t, r.Contains(a))
	_, ok = r.Lookup(1)
	assert.False(t, ok)
}

func TestRegistry_DuplicateHandle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(newFakeConn(1, "s-a")))
	assert.ErrorIs(t, r.Add(newFakeConn(1, "s-b")), ErrHandleInUse)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RemoveIgnoresStaleConnection(t *testing.T) {
	r := NewRegistry()
	old := newFakeConn(1, "s-old")
	require.NoError(t, r.Add(old))
	require.True(t, r.Remove(old))

	// The handle is reused by a new connection.
	fresh := newFakeConn(1, "s-new")
	require.NoError(t, r.Add(fresh))
	assert.False(t, r.Remove(old))
	assert.True(t, r.Contains(fresh))
}

func TestRegistry_SnapshotIsStable(t *testing.T) {
	r := NewRegistry()
	a := newFakeConn(1, "s-a")
	require.NoError(t, r.Add(a))

	snap := r.Snapshot()
	require.NoError(t, r.Add(newFakeConn(2, "s-b")))
	r.Remove(a)

	require.Len(t, snap, 1, "earlier snapshot unaffected by later changes")
	assert.Same(t, a, snap[0])
	assert.Len(t, r.Snapshot(), 1)
}
