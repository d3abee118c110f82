package watermill

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/drblury/asyncnats/internal/runtime"
	configpkg "github.com/drblury/asyncnats/internal/runtime/config"
	idspkg "github.com/drblury/asyncnats/internal/runtime/ids"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	_ "github.com/drblury/asyncnats/transport/memory"
)

const waitFor = 2 * time.Second

func newConnection(t *testing.T) (*runtime.Runtime, *runtime.Connection) {
	t.Helper()
	rt, err := runtime.New(nil, runtime.Options{Logger: loggingpkg.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	params := configpkg.NewConnectParams()
	params.AddAddr("memory://wm-" + strings.ToLower(idspkg.New()))
	conn, err := runtime.Dial(context.Background(), rt.Handle(), params)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return rt, conn
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(waitFor):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	_, conn := newConnection(t)
	sub := NewSubscriber(conn, Config{})
	defer sub.Close()
	pub := NewPublisher(conn, Config{})
	defer pub.Close()

	ch, err := sub.Subscribe(context.Background(), "orders.created")
	require.NoError(t, err)

	sent := message.NewMessage(watermill.NewUUID(), []byte(`{"id":1}`))
	sent.Metadata.Set("tenant", "acme")
	require.NoError(t, pub.Publish("orders.created", sent))

	got := receive(t, ch)
	assert.Equal(t, sent.UUID, got.UUID)
	assert.Equal(t, `{"id":1}`, string(got.Payload))
	assert.Equal(t, "acme", got.Metadata.Get("tenant"))
	got.Ack()
}

func TestNackedMessageIsDeliveredAgain(t *testing.T) {
	_, conn := newConnection(t)
	sub := NewSubscriber(conn, Config{NackResendSleep: time.Millisecond})
	defer sub.Close()
	pub := NewPublisher(conn, Config{})
	defer pub.Close()

	ch, err := sub.Subscribe(context.Background(), "jobs")
	require.NoError(t, err)
	require.NoError(t, pub.Publish("jobs",
		message.NewMessage("first", []byte("1")),
		message.NewMessage("second", []byte("2")),
	))

	first := receive(t, ch)
	assert.Equal(t, "first", first.UUID)
	first.Nack()

	again := receive(t, ch)
	assert.Equal(t, "first", again.UUID, "nacked message comes back before the next one")
	again.Ack()

	second := receive(t, ch)
	assert.Equal(t, "second", second.UUID)
	second.Ack()
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	_, conn := newConnection(t)
	sub := NewSubscriber(conn, Config{})
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := sub.Subscribe(ctx, "events")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("channel not closed after cancel")
	}
}

func TestClosedAdaptersRejectCalls(t *testing.T) {
	_, conn := newConnection(t)
	pub := NewPublisher(conn, Config{})
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Publish("x", message.NewMessage("1", nil)), ErrClosed)

	sub := NewSubscriber(conn, Config{})
	require.NoError(t, sub.Close())
	_, err := sub.Subscribe(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rt, err := runtime.New(nil, runtime.Options{Logger: loggingpkg.Nop()})
	require.NoError(t, err)
	params := configpkg.NewConnectParams()
	params.AddAddr("memory://wm-" + strings.ToLower(idspkg.New()))
	conn, err := runtime.Dial(context.Background(), rt.Handle(), params)
	require.NoError(t, err)

	sub := NewSubscriber(conn, Config{})
	ch, err := sub.Subscribe(context.Background(), "a.>")
	require.NoError(t, err)
	pub := NewPublisher(conn, Config{})
	require.NoError(t, pub.Publish("a.b", message.NewMessage("1", []byte("x"))))
	receive(t, ch).Ack()

	require.NoError(t, sub.Close())
	require.NoError(t, pub.Close())
	conn.Close()
	require.NoError(t, rt.Close())
}
