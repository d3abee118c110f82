package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/asyncnats/transport"
)

const testServer = "nats://localhost:4222"

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats", caps.Name)
	assert.True(t, caps.SupportsHeaders)
	assert.True(t, caps.SupportsNoResponders)

	for _, addr := range []string{"nats://h:1", "tls://h:1", "ws://h:1", "wss://h:1"} {
		name, _, err := transport.DefaultRegistry.Resolve([]string{addr})
		require.NoError(t, err, addr)
		assert.Equal(t, TransportName, name)
	}
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, "nats", Capabilities().Name)
}

func TestOptionsTranslation(t *testing.T) {
	opts := Options(transport.Options{
		Name:           "svc",
		User:           "alice",
		Password:       "secret",
		ConnectTimeout: 3 * time.Second,
		ReconnectWait:  time.Second,
		MaxReconnects:  7,
		NoEcho:         true,
	}, watermill.NopLogger{})

	applied := nats.GetDefaultOptions()
	for _, opt := range opts {
		require.NoError(t, opt(&applied))
	}
	assert.Equal(t, "svc", applied.Name)
	assert.Equal(t, "alice", applied.User)
	assert.Equal(t, "secret", applied.Password)
	assert.Equal(t, 3*time.Second, applied.Timeout)
	assert.Equal(t, time.Second, applied.ReconnectWait)
	assert.Equal(t, 7, applied.MaxReconnect)
	assert.True(t, applied.NoEcho)
	assert.NotNil(t, applied.AsyncErrorCB)
}

func TestBuildUsesDial(t *testing.T) {
	originalDial := Dial
	t.Cleanup(func() { Dial = originalDial })

	var gotURL string
	boom := errors.New("dial failed")
	Dial = func(url string, opts ...nats.Option) (*nats.Conn, error) {
		gotURL = url
		return nil, boom
	}

	_, err := Build(context.Background(), transport.Options{Servers: []string{"nats://a:4222", "nats://b:4222"}}, watermill.NopLogger{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "nats://a:4222,nats://b:4222", gotURL)
}

func TestBuildHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, transport.Options{Servers: []string{testServer}}, watermill.NopLogger{})
	assert.ErrorIs(t, err, context.Canceled)
}

func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Build(context.Background(), transport.Options{
		Servers:        []string{testServer},
		ConnectTimeout: 500 * time.Millisecond,
	}, watermill.NopLogger{})
	if err != nil {
		t.Skipf("NATS server not available at %s: %v", testServer, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client.(*Client)
}

func TestIntegrationPublishSubscribe(t *testing.T) {
	client := connectOrSkip(t)

	sub, err := client.Subscribe("orders.created", 16)
	require.NoError(t, err)
	require.NoError(t, client.Flush(context.Background()))

	msg := nats.NewMsg("orders.created")
	msg.Data = []byte("hello")
	msg.Header.Set("Trace", "1")
	require.NoError(t, client.Publish(msg))

	select {
	case got := <-sub.Messages():
		assert.Equal(t, "orders.created", got.Subject)
		assert.Equal(t, []byte("hello"), got.Data)
		assert.Equal(t, "1", got.Header.Get("Trace"))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	_, open := <-sub.Messages()
	assert.False(t, open)
}

func TestIntegrationRequestWithoutResponders(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := client.Request(ctx, nats.NewMsg("no.such.service"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, nats.ErrNoResponders) || errors.Is(err, context.DeadlineExceeded), err)
}

func TestIntegrationCloseEndsSubscriptions(t *testing.T) {
	client := connectOrSkip(t)

	sub, err := client.Subscribe(client.NewInbox(), 0)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	select {
	case _, open := <-sub.Messages():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after client close")
	}
}
