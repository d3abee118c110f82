package main

/*
#include "bridge.h"
*/
import "C"

import (
	"time"
	"unsafe"

	"github.com/drblury/asyncnats/internal/runtime"
	configpkg "github.com/drblury/asyncnats/internal/runtime/config"
	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
	"github.com/drblury/asyncnats/internal/runtime/handles"
	headerspkg "github.com/drblury/asyncnats/internal/runtime/headers"
)

func millis(ms C.uint64_t) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

//export async_nats_connection_config_new
func async_nats_connection_config_new() C.AsyncNatsConnectionParams {
	return put[C.AsyncNatsConnectionParams](handles.KindConnectParams, configpkg.NewConnectParams())
}

//export async_nats_connection_config_addr
func async_nats_connection_config_addr(cfg C.AsyncNatsConnectionParams, addr C.AsyncNatsBorrowedString) {
	params := get[*configpkg.ConnectParams](handles.KindConnectParams, cfg)
	borrowStrings(func(vals ...string) { params.AddAddr(vals[0]) }, addr)
}

//export async_nats_connection_config_name
func async_nats_connection_config_name(cfg C.AsyncNatsConnectionParams, name C.AsyncNatsBorrowedString) {
	params := get[*configpkg.ConnectParams](handles.KindConnectParams, cfg)
	borrowStrings(func(vals ...string) { params.SetName(vals[0]) }, name)
}

//export async_nats_connection_config_user_info
func async_nats_connection_config_user_info(cfg C.AsyncNatsConnectionParams, user, password C.AsyncNatsBorrowedString) {
	params := get[*configpkg.ConnectParams](handles.KindConnectParams, cfg)
	borrowStrings(func(vals ...string) { params.SetUserInfo(vals[0], vals[1]) }, user, password)
}

//export async_nats_connection_config_token
func async_nats_connection_config_token(cfg C.AsyncNatsConnectionParams, token C.AsyncNatsBorrowedString) {
	params := get[*configpkg.ConnectParams](handles.KindConnectParams, cfg)
	borrowStrings(func(vals ...string) { params.SetToken(vals[0]) }, token)
}

//export async_nats_connection_config_connect_timeout
func async_nats_connection_config_connect_timeout(cfg C.AsyncNatsConnectionParams, ms C.uint64_t) {
	get[*configpkg.ConnectParams](handles.KindConnectParams, cfg).SetConnectTimeout(millis(ms))
}

//export async_nats_connection_config_request_timeout
func async_nats_connection_config_request_timeout(cfg C.AsyncNatsConnectionParams, ms C.uint64_t) {
	get[*configpkg.ConnectParams](handles.KindConnectParams, cfg).SetRequestTimeout(millis(ms))
}

//export async_nats_connection_config_delete
func async_nats_connection_config_delete(cfg C.AsyncNatsConnectionParams) {
	drop(handles.KindConnectParams, cfg)
}

// async_nats_connection_connect never blocks. cb receives either a
// connection or a connect error; both are owned by the host.
//
//export async_nats_connection_connect
func async_nats_connection_connect(rt C.AsyncNatsTokioRuntime, cfg C.AsyncNatsConnectionParams, cb C.AsyncNatsConnectCallback) {
	r := get[*runtime.Runtime](handles.KindRuntime, rt)
	params := get[*configpkg.ConnectParams](handles.KindConnectParams, cfg).Clone()
	runtime.Connect(r.Handle(), params, func(conn *runtime.Connection, cerr *errpkg.ConnectError) {
		if cerr != nil {
			C.async_nats_invoke_connect(cb, 0, put[C.AsyncNatsConnectError](handles.KindConnectError, cerr))
			return
		}
		C.async_nats_invoke_connect(cb, put[C.AsyncNatsConnection](handles.KindConnection, conn), 0)
	})
}

//export async_nats_connection_clone
func async_nats_connection_clone(conn C.AsyncNatsConnection) C.AsyncNatsConnection {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	return put[C.AsyncNatsConnection](handles.KindConnection, c.Clone())
}

// async_nats_connection_delete drops this handle. The session stays open
// until every clone and in-flight operation released it.
//
//export async_nats_connection_delete
func async_nats_connection_delete(conn C.AsyncNatsConnection) {
	take[*runtime.Connection](handles.KindConnection, conn).Close()
}

//export async_nats_connection_mailbox
func async_nats_connection_mailbox(conn C.AsyncNatsConnection) C.AsyncNatsOwnedString {
	return ownedString(get[*runtime.Connection](handles.KindConnection, conn).Mailbox())
}

func publishDone(cb C.AsyncNatsPublishCallback) func() {
	return func() { C.async_nats_invoke_publish(cb) }
}

// async_nats_connection_publish_async copies topic and message before it
// returns.
//
//export async_nats_connection_publish_async
func async_nats_connection_publish_async(conn C.AsyncNatsConnection, topic C.AsyncNatsSlice, message C.AsyncNatsAsyncMessage, cb C.AsyncNatsPublishCallback) {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	c.PublishAsync(sliceString(topic), asyncMessage(message).Stage(), publishDone(cb))
}

//export async_nats_connection_publish_with_reply_async
func async_nats_connection_publish_with_reply_async(conn C.AsyncNatsConnection, topic, replyTo C.AsyncNatsSlice, message C.AsyncNatsAsyncMessage, cb C.AsyncNatsPublishCallback) {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	c.PublishWithReplyAsync(sliceString(topic), sliceString(replyTo), asyncMessage(message).Stage(), publishDone(cb))
}

// async_nats_connection_publish_with_headers_async publishes with count
// header pairs. Repeated keys add values.
//
//export async_nats_connection_publish_with_headers_async
func async_nats_connection_publish_with_headers_async(conn C.AsyncNatsConnection, topic C.AsyncNatsSlice, headers *C.AsyncNatsHeader, count C.uint64_t, message C.AsyncNatsAsyncMessage, cb C.AsyncNatsPublishCallback) {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	var hdrs headerspkg.Headers
	if headers != nil && count > 0 {
		for _, h := range unsafe.Slice(headers, int(count)) {
			hdrs.Add(copyString(h.key), copyString(h.value))
		}
	}
	c.PublishWithHeadersAsync(sliceString(topic), hdrs, asyncMessage(message).Stage(), publishDone(cb))
}

//export async_nats_connection_publish_message_async
func async_nats_connection_publish_message_async(conn C.AsyncNatsConnection, msg C.AsyncNatsMessage, cb C.AsyncNatsPublishCallback) {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	c.PublishMessageAsync(get[*cMessage](handles.KindMessage, msg).msg, publishDone(cb))
}

// async_nats_connection_flush_async passes NULL to cb on success and an
// owned error string otherwise.
//
//export async_nats_connection_flush_async
func async_nats_connection_flush_async(conn C.AsyncNatsConnection, cb C.AsyncNatsFlushCallback) {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	c.FlushAsync(func(err error) {
		if cb.f == nil {
			return
		}
		C.async_nats_invoke_flush(cb, ownedError(err))
	})
}

//export async_nats_connection_subscribe_async
func async_nats_connection_subscribe_async(conn C.AsyncNatsConnection, topic C.AsyncNatsAsyncString, cb C.AsyncNatsSubscribeCallback) {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	c.SubscribeAsync(copyString(topic), func(sub *runtime.Subscription, err error) {
		if cb.f == nil {
			// Nobody can take ownership of the result.
			if sub != nil {
				sub.Close()
			}
			return
		}
		if err != nil {
			C.async_nats_invoke_subscribe(cb, 0, ownedError(err))
			return
		}
		C.async_nats_invoke_subscribe(cb, put[C.AsyncNatsSubscription](handles.KindSubscription, sub), nil)
	})
}

// async_nats_connection_subscribe blocks the calling thread. On failure it
// returns 0 and stores an owned error string in *err when err is not NULL.
//
//export async_nats_connection_subscribe
func async_nats_connection_subscribe(conn C.AsyncNatsConnection, topic C.AsyncNatsBorrowedString, errOut *C.AsyncNatsOwnedString) C.AsyncNatsSubscription {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	var (
		sub *runtime.Subscription
		err error
	)
	borrowStrings(func(vals ...string) {
		sub, err = c.Subscribe(c.Handle().Context(), vals[0])
	}, topic)
	if err != nil {
		if errOut != nil {
			*errOut = ownedError(err)
		}
		return 0
	}
	return put[C.AsyncNatsSubscription](handles.KindSubscription, sub)
}

//export async_nats_connection_error_clone
func async_nats_connection_error_clone(cerr C.AsyncNatsConnectError) C.AsyncNatsConnectError {
	get[*errpkg.ConnectError](handles.KindConnectError, cerr).Clone()
	return cerr
}

//export async_nats_connection_error_delete
func async_nats_connection_error_delete(cerr C.AsyncNatsConnectError) {
	if get[*errpkg.ConnectError](handles.KindConnectError, cerr).Release() {
		drop(handles.KindConnectError, cerr)
	}
}

//export async_nats_connection_error_describtion
func async_nats_connection_error_describtion(cerr C.AsyncNatsConnectError) C.AsyncNatsOwnedString {
	return ownedString(get[*errpkg.ConnectError](handles.KindConnectError, cerr).Description())
}

//export async_nats_connection_error_kind
func async_nats_connection_error_kind(cerr C.AsyncNatsConnectError) C.int32_t {
	return C.int32_t(get[*errpkg.ConnectError](handles.KindConnectError, cerr).Kind())
}

// async_nats_connection_error_os_code reports the errno behind an Io error.
//
//export async_nats_connection_error_os_code
func async_nats_connection_error_os_code(cerr C.AsyncNatsConnectError, code *C.int32_t) C.bool {
	n, ok := get[*errpkg.ConnectError](handles.KindConnectError, cerr).OSCode()
	if !ok {
		return false
	}
	if code != nil {
		*code = C.int32_t(n)
	}
	return true
}
