package refcount

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefFreesOnLastRelease(t *testing.T) {
	var freed int
	r := New("payload", func(v string) {
		assert.Equal(t, "payload", v)
		freed++
	})

	same := r.Clone()
	require.Same(t, r, same)
	assert.EqualValues(t, 2, r.Count())

	assert.False(t, r.Release())
	assert.Equal(t, 0, freed)
	assert.True(t, same.Release())
	assert.Equal(t, 1, freed)
}

func TestRefNilDestructor(t *testing.T) {
	r := New(42, nil)
	assert.Equal(t, 42, r.Value())
	assert.True(t, r.Release())
}

func TestCounterPanicsOnMisuse(t *testing.T) {
	t.Run("release past zero", func(t *testing.T) {
		var c Counter
		c.Init()
		require.True(t, c.Release())
		assert.Panics(t, func() { c.Release() })
	})

	t.Run("acquire after free", func(t *testing.T) {
		var c Counter
		c.Init()
		require.True(t, c.Release())
		assert.Panics(t, func() { c.Acquire() })
	})
}

// N clones and N+1 releases spread over goroutines in random order must
// free the payload exactly once, after the last release.
func TestRefConcurrentCloneRelease(t *testing.T) {
	for round := 0; round < 50; round++ {
		var freed atomic.Int32
		var released atomic.Int32
		const clones = 64

		r := New(struct{}{}, func(struct{}) {
			if released.Load() != clones+1 {
				t.Errorf("freed before the last release (%d of %d)", released.Load(), clones+1)
			}
			freed.Add(1)
		})

		handles := make([]*Ref[struct{}], 0, clones+1)
		handles = append(handles, r)
		for i := 0; i < clones; i++ {
			handles = append(handles, r.Clone())
		}
		rand.Shuffle(len(handles), func(i, j int) { handles[i], handles[j] = handles[j], handles[i] })

		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, h := range handles {
			wg.Add(1)
			go func(h *Ref[struct{}]) {
				defer wg.Done()
				<-start
				extra := h.Clone()
				extra.Release()
				released.Add(1)
				h.Release()
			}(h)
		}
		close(start)
		wg.Wait()

		require.EqualValues(t, 1, freed.Load(), "round %d", round)
	}
}
