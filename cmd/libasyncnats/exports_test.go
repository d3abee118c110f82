package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/asyncnats/internal/runtime"
	"github.com/drblury/asyncnats/internal/runtime/buffer"
	configpkg "github.com/drblury/asyncnats/internal/runtime/config"
	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
	"github.com/drblury/asyncnats/internal/runtime/handles"
	headerspkg "github.com/drblury/asyncnats/internal/runtime/headers"
)

func newHeaderMessage() *runtime.Message {
	return runtime.NewMessage("orders.created", "", []byte("hello"), headerspkg.New("X-Id", "1"))
}

func TestMessageCloneNeedsEveryDelete(t *testing.T) {
	before := liveHandles()
	msg := putMessage(newHeaderMessage())
	assert.Equal(t, msg, async_nats_message_clone(msg))

	async_nats_message_delete(msg)
	assert.Equal(t, before+1, liveHandles())
	assert.Equal(t, uint64(len("hello")), uint64(async_nats_message_data(msg).size))

	async_nats_message_delete(msg)
	assert.Equal(t, before, liveHandles())
	assert.Panics(t, func() { async_nats_message_delete(msg) })
}

func TestMessageHandleDroppedByIteratorFree(t *testing.T) {
	before := liveHandles()
	msg := putMessage(newHeaderMessage())
	it := async_nats_message_header_iterator(msg)
	require.Equal(t, before+2, liveHandles())

	async_nats_message_delete(msg)
	require.True(t, bool(async_nats_message_header_iterator_next(it)))
	assert.Equal(t, uint64(1), uint64(async_nats_message_header_iterator_value_count(it)))

	async_nats_message_header_iterator_free(it)
	assert.Equal(t, before, liveHandles(), "every reference released")
}

func TestMessageHandleDroppedAfterPublish(t *testing.T) {
	fx := newFixture(t)
	connH := handleFor(async_nats_connection_delete, fx.connH)
	before := liveHandles()

	msg := putMessage(runtime.NewMessage("audit", "", []byte("entry"), headerspkg.New()))
	async_nats_connection_publish_message_async(connH, msg, noCallback(async_nats_connection_publish_message_async))
	async_nats_message_delete(msg)

	assert.Eventually(t, func() bool { return liveHandles() == before }, waitFor, 10*time.Millisecond)
}

func TestConnectErrorHandleLifecycle(t *testing.T) {
	fx := newFixture(t)
	done := make(chan *errpkg.ConnectError, 1)
	runtime.Connect(fx.rt.Handle(), configpkg.NewConnectParams(), func(conn *runtime.Connection, cerr *errpkg.ConnectError) {
		if conn != nil {
			conn.Close()
		}
		done <- cerr
	})
	cerr := <-done
	require.NotNil(t, cerr)

	before := liveHandles()
	h := handleFor(async_nats_connection_error_delete, table.Put(handles.KindConnectError, cerr))
	assert.Equal(t, h, async_nats_connection_error_clone(h))
	assert.Equal(t, int32(errpkg.ConnectServerAddressParse), int32(async_nats_connection_error_kind(h)))

	desc := async_nats_connection_error_describtion(h)
	assert.NotZero(t, uint64(async_nats_owned_string_length(desc)))
	async_nats_owned_string_delete(desc)

	async_nats_connection_error_delete(h)
	assert.Equal(t, before+1, liveHandles())
	async_nats_connection_error_delete(h)
	assert.Equal(t, before, liveHandles())
}

func TestRequestErrorHandleLifecycle(t *testing.T) {
	fx := newFixture(t)
	done := make(chan *errpkg.RequestError, 1)
	fx.conn.RequestAsync("no.such.service", nil, 200*time.Millisecond, func(msg *runtime.Message, rerr *errpkg.RequestError) {
		if msg != nil {
			msg.Release()
		}
		done <- rerr
	})
	rerr := <-done
	require.NotNil(t, rerr)

	before := liveHandles()
	h := handleFor(async_nats_request_error_delete, table.Put(handles.KindRequestError, rerr))
	async_nats_request_error_clone(h)
	assert.Equal(t, int32(errpkg.RequestNoResponders), int32(async_nats_request_error_kind(h)))

	async_nats_request_error_delete(h)
	async_nats_request_error_delete(h)
	assert.Equal(t, before, liveHandles())
}

func TestNamedSenderHandleLifecycle(t *testing.T) {
	fx := newFixture(t)
	connH := handleFor(async_nats_connection_delete, fx.connH)
	before := liveHandles()

	topic, _ := cString(copyString, "events")
	s := async_nats_named_sender_new(topic, connH, 4)
	require.NotZero(t, s)
	clone := async_nats_named_sender_clone(s)
	assert.NotEqual(t, s, clone)
	assert.Equal(t, before+2, liveHandles())

	async_nats_named_sender_delete(s)
	async_nats_named_sender_delete(clone)
	assert.Equal(t, before, liveHandles())

	empty, _ := cString(copyString, "")
	assert.Zero(t, async_nats_named_sender_new(empty, connH, 4), "topic required")
	assert.Equal(t, before, liveHandles())
}

func TestNamedReceiverHandleLifecycle(t *testing.T) {
	fx := newFixture(t)
	connH := handleFor(async_nats_connection_delete, fx.connH)
	before := liveHandles()

	topic, _ := cString(copyString, "events.>")
	sub := async_nats_connection_subscribe(connH, topic, nil)
	require.NotZero(t, sub)
	recv := async_nats_named_receiver_new(sub, 8)
	require.NotZero(t, recv)
	assert.Panics(t, func() { async_nats_subscribtion_state(sub) }, "subscription handle consumed")

	clone := async_nats_named_receiver_clone(recv)
	assert.Equal(t, before+2, liveHandles())
	async_nats_named_receiver_delete(recv)
	async_nats_named_receiver_delete(clone)
	assert.Equal(t, before, liveHandles())
}

func TestNamedReceiverConsumesSubscriptionOnFailure(t *testing.T) {
	fx := newFixture(t)
	connH := handleFor(async_nats_connection_delete, fx.connH)
	before := liveHandles()

	topic, _ := cString(copyString, "events.>")
	sub := async_nats_connection_subscribe(connH, topic, nil)
	require.NotZero(t, sub)

	assert.Zero(t, async_nats_named_receiver_new(sub, 0))
	assert.Equal(t, before, liveHandles())
	assert.Panics(t, func() { async_nats_subscribtion_state(sub) })
	assert.Eventually(t, func() bool {
		text, err := fx.rt.MetricsText()
		return err == nil && strings.Contains(text, `asyncnats_live_objects{kind="subscription"} 0`)
	}, waitFor, 10*time.Millisecond, "subscription closed")
}

func TestSubscribeWithoutCallbackClosesSubscription(t *testing.T) {
	fx := newFixture(t)
	connH := handleFor(async_nats_connection_delete, fx.connH)
	before := liveHandles()

	topic, _ := cString(copyString, "ignored")
	async_nats_connection_subscribe_async(connH, topic, noCallback(async_nats_connection_subscribe_async))

	assert.Eventually(t, func() bool {
		text, err := fx.rt.MetricsText()
		return err == nil && strings.Contains(text, `asyncnats_live_objects{kind="subscription"} 0`)
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, before, liveHandles())
}

func TestOwnedStringDeletedTwicePanics(t *testing.T) {
	fx := newFixture(t)
	connH := handleFor(async_nats_connection_delete, fx.connH)

	mailbox := async_nats_connection_mailbox(connH)
	require.NotZero(t, uint64(async_nats_owned_string_length(mailbox)))
	async_nats_owned_string_delete(mailbox)
	assert.Panics(t, func() { async_nats_owned_string_delete(mailbox) })
	assert.Panics(t, func() { async_nats_owned_string_length(mailbox) })
}

func TestWrongKindHandlePanics(t *testing.T) {
	fx := newFixture(t)
	connH := handleFor(async_nats_connection_delete, fx.connH)

	topic, _ := cString(copyString, "events")
	s := async_nats_named_sender_new(topic, connH, 1)
	require.NotZero(t, s)
	defer async_nats_named_sender_delete(s)

	asMessage := handleFor(async_nats_message_delete, s)
	assert.Panics(t, func() { async_nats_message_length(asMessage) })
	assert.Panics(t, func() { async_nats_message_delete(asMessage) })
	assert.Panics(t, func() { async_nats_message_delete(0) })

	// The failed calls left the sender untouched.
	data := []byte("still usable")
	assert.True(t, bool(async_nats_named_sender_try_send(s, nil, messageArg(borrowedBytes, data))))
}

func TestNamedSenderPoisonsBorrowedArguments(t *testing.T) {
	prev := buffer.SetPoison(true)
	defer buffer.SetPoison(prev)

	fx := newFixture(t)
	connH := handleFor(async_nats_connection_delete, fx.connH)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	sub, err := fx.conn.Subscribe(ctx, "events.>")
	require.NoError(t, err)
	defer sub.Close()

	defaultTopic, _ := cString(copyString, "events.default")
	s := async_nats_named_sender_new(defaultTopic, connH, 2)
	require.NotZero(t, s)
	defer async_nats_named_sender_delete(s)

	topic, topicBytes := cString(copyString, "events.poisoned")
	data := []byte("payload")
	require.True(t, bool(async_nats_named_sender_try_send(s, topic, messageArg(borrowedBytes, data))))

	assert.Equal(t, bytes.Repeat([]byte{buffer.PoisonByte}, len(topicBytes)), topicBytes)
	assert.Equal(t, bytes.Repeat([]byte{buffer.PoisonByte}, len(data)), data)

	msg := sub.Recv(ctx)
	require.NotNil(t, msg)
	defer msg.Release()
	assert.Equal(t, "events.poisoned", msg.Subject())
	assert.Equal(t, "payload", string(msg.Payload()))
}

func TestConfigSettersPoisonBorrowedArguments(t *testing.T) {
	prev := buffer.SetPoison(true)
	defer buffer.SetPoison(prev)
	before := liveHandles()

	cfg := async_nats_connection_config_new()
	name, nameBytes := cString(copyString, "billing")
	async_nats_connection_config_name(cfg, name)
	user, userBytes := cString(copyString, "alice")
	pass, passBytes := cString(copyString, "s3cret")
	async_nats_connection_config_user_info(cfg, user, pass)

	params := get[*configpkg.ConnectParams](handles.KindConnectParams, cfg)
	assert.Equal(t, "billing", params.Name)
	assert.Equal(t, "alice", params.User)
	assert.Equal(t, "s3cret", params.Password)
	for _, b := range [][]byte{nameBytes, userBytes, passBytes} {
		assert.Equal(t, bytes.Repeat([]byte{buffer.PoisonByte}, len(b)), b)
	}
	async_nats_connection_config_delete(cfg)

	rcfg := async_nats_tokio_runtime_config_new()
	thread, threadBytes := cString(copyString, "worker")
	async_nats_tokio_runtime_config_thread_name(rcfg, thread)
	assert.Equal(t, "worker", get[*configpkg.RuntimeConfig](handles.KindRuntimeConfig, rcfg).ThreadName)
	assert.Equal(t, bytes.Repeat([]byte{buffer.PoisonByte}, len(threadBytes)), threadBytes)
	async_nats_tokio_runtime_config_delete(rcfg)

	req := async_nats_request_new()
	key, keyBytes := cString(copyString, "X-Id")
	value, valueBytes := cString(copyString, "7")
	async_nats_request_header(req, key, value)
	assert.Equal(t, "7", request(req).Headers().Get("X-Id"))
	assert.Equal(t, bytes.Repeat([]byte{buffer.PoisonByte}, len(keyBytes)), keyBytes)
	assert.Equal(t, bytes.Repeat([]byte{buffer.PoisonByte}, len(valueBytes)), valueBytes)
	async_nats_request_delete(req)

	assert.Equal(t, before, liveHandles())
}

func TestBorrowedArgumentsUntouchedWithoutPoison(t *testing.T) {
	prev := buffer.SetPoison(false)
	defer buffer.SetPoison(prev)

	cfg := async_nats_connection_config_new()
	defer async_nats_connection_config_delete(cfg)
	name, nameBytes := cString(copyString, "billing")
	async_nats_connection_config_name(cfg, name)
	assert.Equal(t, "billing", string(nameBytes))
}
