package main

/*
#include "bridge.h"
*/
import "C"

import (
	"strconv"

	"github.com/drblury/asyncnats/internal/runtime"
	"github.com/drblury/asyncnats/internal/runtime/handles"
)

// cMessage is the handle table entry of a message. The final release of the
// message removes the entry and frees the views handed to C, whichever
// holder drops the last reference.
type cMessage struct {
	msg   *runtime.Message
	views cViews
}

func putMessage(msg *runtime.Message) C.AsyncNatsMessage {
	if msg == nil {
		return 0
	}
	cm := &cMessage{msg: msg}
	msg.OnRelease(cm.views.free)
	h := put[C.AsyncNatsMessage](handles.KindMessage, cm)
	msg.OnRelease(func() { drop(handles.KindMessage, h) })
	return h
}

func lookupMessage(h C.AsyncNatsMessage) *cMessage {
	return get[*cMessage](handles.KindMessage, h)
}

// async_nats_message_clone increments the reference count and returns the
// same handle.
//
//export async_nats_message_clone
func async_nats_message_clone(msg C.AsyncNatsMessage) C.AsyncNatsMessage {
	lookupMessage(msg).msg.Clone()
	return msg
}

// async_nats_message_delete releases one reference. Views obtained from the
// message are invalid after its last reference is gone.
//
//export async_nats_message_delete
func async_nats_message_delete(msg C.AsyncNatsMessage) {
	lookupMessage(msg).msg.Release()
}

//export async_nats_message_topic
func async_nats_message_topic(msg C.AsyncNatsMessage) C.AsyncNatsSlice {
	cm := lookupMessage(msg)
	return cm.views.slice("topic", []byte(cm.msg.Subject()))
}

//export async_nats_message_data
func async_nats_message_data(msg C.AsyncNatsMessage) C.AsyncNatsSlice {
	cm := lookupMessage(msg)
	return cm.views.slice("data", cm.msg.Payload())
}

//export async_nats_message_reply_to
func async_nats_message_reply_to(msg C.AsyncNatsMessage) C.AsyncNatsSlice {
	cm := lookupMessage(msg)
	return cm.views.slice("reply", []byte(cm.msg.Reply()))
}

//export async_nats_message_description
func async_nats_message_description(msg C.AsyncNatsMessage) C.AsyncNatsSlice {
	cm := lookupMessage(msg)
	return cm.views.slice("description", []byte(cm.msg.Description()))
}

// async_nats_message_status returns 0 when the message carries no status.
//
//export async_nats_message_status
func async_nats_message_status(msg C.AsyncNatsMessage) C.uint16_t {
	return C.uint16_t(lookupMessage(msg).msg.Status())
}

// async_nats_message_length returns the size of the message on the wire.
//
//export async_nats_message_length
func async_nats_message_length(msg C.AsyncNatsMessage) C.uint64_t {
	return C.uint64_t(lookupMessage(msg).msg.Length())
}

//export async_nats_message_has_headers
func async_nats_message_has_headers(msg C.AsyncNatsMessage) C.bool {
	return C.bool(lookupMessage(msg).msg.HasHeaders())
}

//export async_nats_message_to_string
func async_nats_message_to_string(msg C.AsyncNatsMessage) C.AsyncNatsOwnedString {
	return ownedString(lookupMessage(msg).msg.String())
}

// cIterator is the handle table entry of a header iterator.
type cIterator struct {
	it    *runtime.HeaderIterator
	views cViews
}

func putIterator(it *runtime.HeaderIterator) C.AsyncNatsHeaderIterator {
	if it == nil {
		return 0
	}
	return put[C.AsyncNatsHeaderIterator](handles.KindHeaderIterator, &cIterator{it: it})
}

func lookupIterator(h C.AsyncNatsHeaderIterator) *cIterator {
	return get[*cIterator](handles.KindHeaderIterator, h)
}

// async_nats_message_header_iterator walks every header. The iterator keeps
// the message alive.
//
//export async_nats_message_header_iterator
func async_nats_message_header_iterator(msg C.AsyncNatsMessage) C.AsyncNatsHeaderIterator {
	return putIterator(lookupMessage(msg).msg.HeaderIterator())
}

// async_nats_message_get_header returns an iterator positioned before the
// values of one header, or 0 when the message has no such header.
//
//export async_nats_message_get_header
func async_nats_message_get_header(msg C.AsyncNatsMessage, name C.AsyncNatsSlice) C.AsyncNatsHeaderIterator {
	return putIterator(lookupMessage(msg).msg.GetHeader(sliceString(name)))
}

//export async_nats_message_header_iterator_next
func async_nats_message_header_iterator_next(it C.AsyncNatsHeaderIterator) C.bool {
	return C.bool(lookupIterator(it).it.Next())
}

//export async_nats_message_header_iterator_key
func async_nats_message_header_iterator_key(it C.AsyncNatsHeaderIterator) C.AsyncNatsSlice {
	ci := lookupIterator(it)
	key := ci.it.Key()
	return ci.views.slice("k:"+key, []byte(key))
}

//export async_nats_message_header_iterator_value_count
func async_nats_message_header_iterator_value_count(it C.AsyncNatsHeaderIterator) C.uint64_t {
	return C.uint64_t(lookupIterator(it).it.ValueCount())
}

//export async_nats_message_header_iterator_value_at
func async_nats_message_header_iterator_value_at(it C.AsyncNatsHeaderIterator, index C.uint64_t) C.AsyncNatsSlice {
	ci := lookupIterator(it)
	key := ci.it.Key()
	return ci.views.slice("v:"+strconv.FormatUint(uint64(index), 10)+":"+key, []byte(ci.it.ValueAt(int(index))))
}

// async_nats_message_header_iterator_copy increments the reference count
// and returns the same handle.
//
//export async_nats_message_header_iterator_copy
func async_nats_message_header_iterator_copy(it C.AsyncNatsHeaderIterator) C.AsyncNatsHeaderIterator {
	lookupIterator(it).it.Clone()
	return it
}

//export async_nats_message_header_iterator_free
func async_nats_message_header_iterator_free(it C.AsyncNatsHeaderIterator) {
	ci := lookupIterator(it)
	if ci.it.Release() {
		drop(handles.KindHeaderIterator, it)
		ci.views.free()
	}
}
