// Package sse implements the connection registry and event-dispatch core
// for server-sent event streams, plus the Gin handlers that expose it.
//
// # Architecture
//
//   - Sink: buffered write end of one client's stream, owned by exactly
//     one registry entry
//   - Registry: concurrency-safe map of client ID to live Sink
//   - Dispatcher: stamps event IDs and routes events through the Registry
//   - Handler: HTTP surface (connect stream + send/broadcast/close/list)
//
// # Usage
//
//	registry := sse.NewRegistry()
//	dispatcher := sse.NewDispatcher(registry)
//	handler := sse.NewHandler(registry, dispatcher)
//	handler.Register(engine)
package sse
