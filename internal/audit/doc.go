// Package audit carries security events from the engine to pluggable
// sinks without putting sink latency on the request path.
//
// The engine builds an [Event] and hands it to a [Dispatcher], which queues
// it and delivers on a single goroutine. A full queue either drops the
// event (counted in [Stats]) or blocks the caller, depending on
// [Config.DropIfFull]. Sinks shipped here: channel, JSON lines, slog and
// no-op.
//
// Which events exist, and what goes into them, is decided by the caller.
// This package neither filters events nor imports anything from the module
// root.
package audit
