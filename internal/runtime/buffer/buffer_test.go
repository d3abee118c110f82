package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorrowedCopyIsIndependent(t *testing.T) {
	src := []byte("orders.created")
	view := Borrow(src)
	kept := view.Copy()

	src[0] = 'X'
	assert.Equal(t, "orders.created", string(kept))
	assert.Equal(t, len(src), view.Len())
	assert.False(t, view.IsNil())
	assert.True(t, Borrow(nil).IsNil())
	assert.Nil(t, Borrow(nil).Copy())
}

func TestScopePoisonsWhenEnabled(t *testing.T) {
	prev := SetPoison(true)
	defer SetPoison(prev)

	data := []byte("hello")
	var leaked []byte
	Scope(data, func(v Borrowed) {
		assert.Equal(t, "hello", v.String())
		leaked = v.Bytes()
	})

	assert.Equal(t, bytes.Repeat([]byte{PoisonByte}, 5), leaked)
}

func TestScopeAllPoisonsEveryView(t *testing.T) {
	prev := SetPoison(true)
	defer SetPoison(prev)

	key, value := []byte("X-Trace"), []byte("abc")
	var got []string
	ScopeAll([][]byte{key, nil, value}, func(views []Borrowed) {
		require.Len(t, views, 3)
		assert.True(t, views[1].IsNil())
		got = []string{views[0].String(), views[2].String()}
	})

	assert.Equal(t, []string{"X-Trace", "abc"}, got)
	assert.Equal(t, bytes.Repeat([]byte{PoisonByte}, len(key)), key)
	assert.Equal(t, bytes.Repeat([]byte{PoisonByte}, len(value)), value)
}

func TestScopeLeavesMemoryWhenDisabled(t *testing.T) {
	prev := SetPoison(false)
	defer SetPoison(prev)

	data := []byte("hello")
	Scope(data, func(Borrowed) {})
	assert.Equal(t, "hello", string(data))
}

func TestAsyncStageCopies(t *testing.T) {
	host := []byte("payload")
	staged := AsyncOf(host).Stage()
	for i := range host {
		host[i] = 0
	}
	assert.Equal(t, "payload", string(staged))
	assert.Equal(t, 7, AsyncOf(staged).Len())
}

func TestOwnedReleaseOnce(t *testing.T) {
	var calls int
	o := NewOwned([]byte("inbox"), func(b []byte) {
		calls++
		assert.Equal(t, "inbox", string(b))
	})

	require.Equal(t, "inbox", o.String())
	require.Equal(t, 5, o.Len())
	o.Release()
	assert.True(t, o.Released())
	assert.Equal(t, 1, calls)
	assert.Panics(t, o.Release)
	assert.Equal(t, 1, calls)
}

func TestOwnedString(t *testing.T) {
	o := OwnedString("_INBOX.abc")
	assert.Equal(t, []byte("_INBOX.abc"), o.Bytes())
	o.Release()
	assert.Nil(t, o.Bytes())
}
