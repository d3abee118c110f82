package main

/*
#include "bridge.h"
*/
import "C"

import (
	"github.com/drblury/asyncnats/internal/runtime"
	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
	"github.com/drblury/asyncnats/internal/runtime/handles"
)

func requestDone(cb C.AsyncNatsRequestCallback) func(*runtime.Message, *errpkg.RequestError) {
	return func(msg *runtime.Message, rerr *errpkg.RequestError) {
		if rerr != nil {
			C.async_nats_invoke_request(cb, 0, put[C.AsyncNatsRequestError](handles.KindRequestError, rerr))
			return
		}
		C.async_nats_invoke_request(cb, putMessage(msg), 0)
	}
}

// async_nats_connection_request_async uses the connection's default
// timeout. topic and message are copied before the call returns.
//
//export async_nats_connection_request_async
func async_nats_connection_request_async(conn C.AsyncNatsConnection, topic C.AsyncNatsAsyncString, message C.AsyncNatsAsyncMessage, cb C.AsyncNatsRequestCallback) {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	c.RequestAsync(copyString(topic), asyncMessage(message).Stage(), 0, requestDone(cb))
}

// async_nats_connection_send_request_async consumes req.
//
//export async_nats_connection_send_request_async
func async_nats_connection_send_request_async(conn C.AsyncNatsConnection, topic C.AsyncNatsAsyncString, req C.AsyncNatsRequest, cb C.AsyncNatsRequestCallback) {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	r := take[*runtime.Request](handles.KindRequest, req)
	c.SendRequestAsync(copyString(topic), r, requestDone(cb))
}

//export async_nats_request_new
func async_nats_request_new() C.AsyncNatsRequest {
	return put[C.AsyncNatsRequest](handles.KindRequest, runtime.NewRequest())
}

func request(h C.AsyncNatsRequest) *runtime.Request {
	return get[*runtime.Request](handles.KindRequest, h)
}

//export async_nats_request_delete
func async_nats_request_delete(req C.AsyncNatsRequest) {
	drop(handles.KindRequest, req)
}

//export async_nats_request_inbox
func async_nats_request_inbox(req C.AsyncNatsRequest, inbox C.AsyncNatsAsyncString) {
	request(req).SetInbox(copyString(inbox))
}

// async_nats_request_timeout sets the timeout in milliseconds. Zero keeps
// the connection default.
//
//export async_nats_request_timeout
func async_nats_request_timeout(req C.AsyncNatsRequest, ms C.uint64_t) {
	request(req).SetTimeout(millis(ms))
}

//export async_nats_request_message
func async_nats_request_message(req C.AsyncNatsRequest, message C.AsyncNatsAsyncMessage) {
	request(req).SetPayload(asyncMessage(message).Stage())
}

//export async_nats_request_header
func async_nats_request_header(req C.AsyncNatsRequest, key, value C.AsyncNatsBorrowedString) {
	r := request(req)
	borrowStrings(func(vals ...string) { r.AddHeader(vals[0], vals[1]) }, key, value)
}

//export async_nats_request_error_clone
func async_nats_request_error_clone(rerr C.AsyncNatsRequestError) C.AsyncNatsRequestError {
	get[*errpkg.RequestError](handles.KindRequestError, rerr).Clone()
	return rerr
}

//export async_nats_request_error_delete
func async_nats_request_error_delete(rerr C.AsyncNatsRequestError) {
	if get[*errpkg.RequestError](handles.KindRequestError, rerr).Release() {
		drop(handles.KindRequestError, rerr)
	}
}

//export async_nats_request_error_describtion
func async_nats_request_error_describtion(rerr C.AsyncNatsRequestError) C.AsyncNatsOwnedString {
	return ownedString(get[*errpkg.RequestError](handles.KindRequestError, rerr).Description())
}

//export async_nats_request_error_kind
func async_nats_request_error_kind(rerr C.AsyncNatsRequestError) C.int32_t {
	return C.int32_t(get[*errpkg.RequestError](handles.KindRequestError, rerr).Kind())
}
