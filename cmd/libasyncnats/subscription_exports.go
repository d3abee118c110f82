package main

/*
#include "bridge.h"
*/
import "C"

import (
	"context"

	"github.com/drblury/asyncnats/internal/runtime"
	"github.com/drblury/asyncnats/internal/runtime/handles"
)

func subscription(h C.AsyncNatsSubscription) *runtime.Subscription {
	return get[*runtime.Subscription](handles.KindSubscription, h)
}

// async_nats_subscribtion_delete cancels the subscription and releases the
// handle. Tokens obtained from it stay valid.
//
//export async_nats_subscribtion_delete
func async_nats_subscribtion_delete(s C.AsyncNatsSubscription) {
	take[*runtime.Subscription](handles.KindSubscription, s).Close()
}

//export async_nats_subscribtion_get_cancellation_token
func async_nats_subscribtion_get_cancellation_token(s C.AsyncNatsSubscription) C.AsyncNatsCancellationToken {
	return put[C.AsyncNatsCancellationToken](handles.KindCancellationToken, subscription(s).CancellationToken())
}

// async_nats_subscribtion_receive_async passes the next message to cb, or 0
// once the subscription has ended.
//
//export async_nats_subscribtion_receive_async
func async_nats_subscribtion_receive_async(s C.AsyncNatsSubscription, cb C.AsyncNatsReceiveCallback) {
	subscription(s).ReceiveAsync(func(msg *runtime.Message) {
		C.async_nats_invoke_receive(cb, putMessage(msg))
	})
}

// async_nats_subscribtion_recv blocks the calling thread for the next
// message and returns 0 once the subscription has ended.
//
//export async_nats_subscribtion_recv
func async_nats_subscribtion_recv(s C.AsyncNatsSubscription) C.AsyncNatsMessage {
	return putMessage(subscription(s).Recv(context.Background()))
}

// async_nats_subscribtion_state returns 0 (active), 1 (unsubscribing) or
// 2 (closed).
//
//export async_nats_subscribtion_state
func async_nats_subscribtion_state(s C.AsyncNatsSubscription) C.int32_t {
	return C.int32_t(subscription(s).State())
}

func token(h C.AsyncNatsCancellationToken) *runtime.CancellationToken {
	return get[*runtime.CancellationToken](handles.KindCancellationToken, h)
}

//export async_nats_subscribtion_cancellation_token_cancel
func async_nats_subscribtion_cancellation_token_cancel(c C.AsyncNatsCancellationToken) {
	token(c).Cancel()
}

//export async_nats_subscribtion_cancellation_token_clone
func async_nats_subscribtion_cancellation_token_clone(c C.AsyncNatsCancellationToken) C.AsyncNatsCancellationToken {
	return put[C.AsyncNatsCancellationToken](handles.KindCancellationToken, token(c).Clone())
}

//export async_nats_subscribtion_cancellation_token_delete
func async_nats_subscribtion_cancellation_token_delete(c C.AsyncNatsCancellationToken) {
	drop(handles.KindCancellationToken, c)
}

func receiver(h C.AsyncNatsNamedReceiver) *runtime.NamedReceiver {
	return get[*runtime.NamedReceiver](handles.KindNamedReceiver, h)
}

// async_nats_named_receiver_new takes ownership of s: the subscription
// handle is invalid afterwards, whether or not the call succeeds. It
// returns 0 when capacity is zero.
//
//export async_nats_named_receiver_new
func async_nats_named_receiver_new(s C.AsyncNatsSubscription, capacity C.ulonglong) C.AsyncNatsNamedReceiver {
	sub := take[*runtime.Subscription](handles.KindSubscription, s)
	recv, err := runtime.NewNamedReceiver(sub, int(capacity))
	if err != nil {
		logger.Error("Cannot create named receiver", err, nil)
		return 0
	}
	return put[C.AsyncNatsNamedReceiver](handles.KindNamedReceiver, recv)
}

//export async_nats_named_receiver_clone
func async_nats_named_receiver_clone(r C.AsyncNatsNamedReceiver) C.AsyncNatsNamedReceiver {
	return put[C.AsyncNatsNamedReceiver](handles.KindNamedReceiver, receiver(r).Clone())
}

// async_nats_named_receiver_delete releases the handle. Deleting the last
// clone cancels the subscription and drops queued messages.
//
//export async_nats_named_receiver_delete
func async_nats_named_receiver_delete(r C.AsyncNatsNamedReceiver) {
	take[*runtime.NamedReceiver](handles.KindNamedReceiver, r).Close()
}

// async_nats_named_receiver_try_recv returns 0 when nothing is queued.
//
//export async_nats_named_receiver_try_recv
func async_nats_named_receiver_try_recv(r C.AsyncNatsNamedReceiver) C.AsyncNatsMessage {
	return putMessage(receiver(r).TryRecv())
}

// async_nats_named_receiver_recv blocks until a message is queued and
// returns 0 once the subscription has ended and the queue is empty.
//
//export async_nats_named_receiver_recv
func async_nats_named_receiver_recv(r C.AsyncNatsNamedReceiver) C.AsyncNatsMessage {
	return putMessage(receiver(r).Recv(context.Background()))
}

//export async_nats_named_receiver_len
func async_nats_named_receiver_len(r C.AsyncNatsNamedReceiver) C.uint64_t {
	return C.uint64_t(receiver(r).Len())
}
