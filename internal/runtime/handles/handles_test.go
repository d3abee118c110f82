package handles

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type conn struct{ name string }

func TestPutLookupDelete(t *testing.T) {
	tbl := NewTable()
	h := tbl.Put(KindConnection, &conn{name: "a"})
	require.NotZero(t, h)

	got := Get[*conn](tbl, KindConnection, h)
	assert.Equal(t, "a", got.name)
	assert.Equal(t, 1, tbl.Len())

	taken := Take[*conn](tbl, KindConnection, h)
	assert.Same(t, got, taken)
	assert.Equal(t, 0, tbl.Len())

	_, ok := tbl.Lookup(KindConnection, h)
	assert.False(t, ok)
}

func TestWrongKindIsRejected(t *testing.T) {
	tbl := NewTable()
	h := tbl.Put(KindMessage, &conn{})

	_, ok := tbl.Lookup(KindConnection, h)
	assert.False(t, ok)
	assert.Panics(t, func() { tbl.MustLookup(KindConnection, h) })
	assert.Panics(t, func() { tbl.Delete(KindConnection, h) })
	assert.Panics(t, func() { Get[string](tbl, KindMessage, h) })
}

func TestDoubleDeletePanics(t *testing.T) {
	tbl := NewTable()
	h := tbl.Put(KindRuntime, &conn{})
	tbl.Delete(KindRuntime, h)
	assert.Panics(t, func() { tbl.Delete(KindRuntime, h) })
}

func TestNilValuePanics(t *testing.T) {
	assert.Panics(t, func() { NewTable().Put(KindRuntime, nil) })
}

func TestHandlesAreUniqueUnderConcurrency(t *testing.T) {
	tbl := NewTable()
	const n = 200
	seen := make(chan Handle, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- tbl.Put(KindMessage, &conn{})
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[Handle]bool)
	for h := range seen {
		assert.False(t, unique[h], "handle %d issued twice", h)
		unique[h] = true
	}
	assert.Equal(t, n, tbl.Len())
	assert.Equal(t, n, tbl.Counts()[KindMessage])
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "named_sender", KindNamedSender.String())
	assert.Equal(t, "kind(200)", Kind(200).String())
}
