package main

/*
#include "bridge.h"
*/
import "C"

import (
	"github.com/drblury/asyncnats/internal/runtime"
	"github.com/drblury/asyncnats/internal/runtime/buffer"
	"github.com/drblury/asyncnats/internal/runtime/handles"
)

func sender(h C.AsyncNatsNamedSender) *runtime.NamedSender {
	return get[*runtime.NamedSender](handles.KindNamedSender, h)
}

// async_nats_named_sender_new returns 0 when topic is empty, capacity is
// zero or the connection is closed.
//
//export async_nats_named_sender_new
func async_nats_named_sender_new(topic C.AsyncNatsBorrowedString, conn C.AsyncNatsConnection, capacity C.ulonglong) C.AsyncNatsNamedSender {
	c := get[*runtime.Connection](handles.KindConnection, conn)
	var (
		s   *runtime.NamedSender
		err error
	)
	borrowStrings(func(vals ...string) {
		s, err = runtime.NewNamedSender(c, vals[0], int(capacity))
	}, topic)
	if err != nil {
		logger.Error("Cannot create named sender", err, nil)
		return 0
	}
	return put[C.AsyncNatsNamedSender](handles.KindNamedSender, s)
}

//export async_nats_named_sender_clone
func async_nats_named_sender_clone(s C.AsyncNatsNamedSender) C.AsyncNatsNamedSender {
	return put[C.AsyncNatsNamedSender](handles.KindNamedSender, sender(s).Clone())
}

// async_nats_named_sender_delete releases the handle. After the last clone
// is deleted the queued messages are still published.
//
//export async_nats_named_sender_delete
func async_nats_named_sender_delete(s C.AsyncNatsNamedSender) {
	take[*runtime.NamedSender](handles.KindNamedSender, s).Close()
}

// async_nats_named_sender_try_send copies data and queues it if a permit is
// free. A NULL or empty topic selects the sender's topic.
//
//export async_nats_named_sender_try_send
func async_nats_named_sender_try_send(s C.AsyncNatsNamedSender, topic C.AsyncNatsBorrowedString, data C.AsyncNatsBorrowedMessage) C.bool {
	var ok bool
	buffer.ScopeAll([][]byte{cStringView(topic), borrowedBytes(data)}, func(views []buffer.Borrowed) {
		ok = sender(s).TrySend(views[0].String(), views[1].Bytes())
	})
	return C.bool(ok)
}

// async_nats_named_sender_send copies data and queues it even when every
// permit is taken.
//
//export async_nats_named_sender_send
func async_nats_named_sender_send(s C.AsyncNatsNamedSender, topic C.AsyncNatsBorrowedString, data C.AsyncNatsBorrowedMessage) {
	buffer.ScopeAll([][]byte{cStringView(topic), borrowedBytes(data)}, func(views []buffer.Borrowed) {
		if err := sender(s).Send(views[0].String(), views[1].Bytes()); err != nil {
			logger.Error("Named sender rejected message", err, nil)
		}
	})
}
