// Package eventloop provides the single-threaded, cooperative event loop
// that serializes all mutations to the agent's process table and
// control-plane client state.
//
// The loop itself is just a goroutine draining an AsyncQueue. Anything
// that needs to touch loop-owned state from another goroutine - a gRPC
// completion, a filesystem watcher callback, an HTTP handler - does so by
// posting a func() onto the queue rather than taking a lock.
package eventloop
