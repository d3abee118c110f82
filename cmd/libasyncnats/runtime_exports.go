package main

/*
#include "bridge.h"
*/
import "C"

import (
	"github.com/drblury/asyncnats/internal/runtime"
	configpkg "github.com/drblury/asyncnats/internal/runtime/config"
	"github.com/drblury/asyncnats/internal/runtime/handles"
)

//export async_nats_tokio_runtime_config_new
func async_nats_tokio_runtime_config_new() C.AsyncNatsTokioRuntimeConfig {
	return put[C.AsyncNatsTokioRuntimeConfig](handles.KindRuntimeConfig, configpkg.NewRuntimeConfig())
}

//export async_nats_tokio_runtime_config_thread_count
func async_nats_tokio_runtime_config_thread_count(cfg C.AsyncNatsTokioRuntimeConfig, threadCount C.uint32_t) {
	get[*configpkg.RuntimeConfig](handles.KindRuntimeConfig, cfg).SetThreadCount(int(threadCount))
}

//export async_nats_tokio_runtime_config_thread_name
func async_nats_tokio_runtime_config_thread_name(cfg C.AsyncNatsTokioRuntimeConfig, name C.AsyncNatsBorrowedString) {
	conf := get[*configpkg.RuntimeConfig](handles.KindRuntimeConfig, cfg)
	borrowStrings(func(vals ...string) { conf.SetThreadName(vals[0]) }, name)
}

//export async_nats_tokio_runtime_config_log_level
func async_nats_tokio_runtime_config_log_level(cfg C.AsyncNatsTokioRuntimeConfig, level C.AsyncNatsBorrowedString) {
	conf := get[*configpkg.RuntimeConfig](handles.KindRuntimeConfig, cfg)
	borrowStrings(func(vals ...string) { conf.SetLogLevel(vals[0]) }, level)
}

//export async_nats_tokio_runtime_config_delete
func async_nats_tokio_runtime_config_delete(cfg C.AsyncNatsTokioRuntimeConfig) {
	drop(handles.KindRuntimeConfig, cfg)
}

// async_nats_tokio_runtime_new returns 0 when cfg is invalid; the reason is
// logged.
//
//export async_nats_tokio_runtime_new
func async_nats_tokio_runtime_new(cfg C.AsyncNatsTokioRuntimeConfig) C.AsyncNatsTokioRuntime {
	conf := get[*configpkg.RuntimeConfig](handles.KindRuntimeConfig, cfg)
	rt, err := runtime.New(conf, runtime.Options{})
	if err != nil {
		logger.Error("Cannot create runtime", err, nil)
		return 0
	}
	return put[C.AsyncNatsTokioRuntime](handles.KindRuntime, rt)
}

// async_nats_tokio_runtime_delete cancels outstanding tasks and waits for
// them up to the configured shutdown timeout.
//
//export async_nats_tokio_runtime_delete
func async_nats_tokio_runtime_delete(rt C.AsyncNatsTokioRuntime) {
	r := take[*runtime.Runtime](handles.KindRuntime, rt)
	if err := r.Close(); err != nil {
		logger.Error("Runtime did not shut down cleanly", err, nil)
	}
}

//export async_nats_tokio_runtime_metrics_text
func async_nats_tokio_runtime_metrics_text(rt C.AsyncNatsTokioRuntime) C.AsyncNatsOwnedString {
	text, err := get[*runtime.Runtime](handles.KindRuntime, rt).MetricsText()
	if err != nil {
		logger.Error("Cannot render metrics", err, nil)
		return nil
	}
	return ownedString(text)
}

//export async_nats_live_handle_count
func async_nats_live_handle_count() C.uint64_t {
	return C.uint64_t(table.Len())
}
