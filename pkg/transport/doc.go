// Package transport provides the TCP transport layer for SCPI device
// control.
//
// The transport layer handles:
//   - Bounded-retry connect with per-attempt timeout
//   - Newline-terminated command lines over a persistent TCP connection
//   - Response framing (terminator or legacy block-size heuristic)
//   - Lazy reconnection after transport failures
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│    SCPI command/reply text     │
//	├────────────────────────────────┤
//	│  Newline framing + header echo │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// The device has no message-length header; a reply boundary is inferred
// by a Framing strategy. TerminatorFraming (the default) treats a reply as
// complete when the last received byte is the line terminator.
// BlockSizeFraming reproduces the behavior of older client generations
// that treated a short read as end-of-message; it exists for firmware
// whose batching relies on it and carries a known limitation (see its
// documentation).
//
// A Conn owns exactly one socket. One request is fully completed (write,
// then blocking read until the framing boundary) before the next is
// issued; an internal mutex serializes callers. Any transport error
// disconnects the socket and leaves the Conn ready for the lazy reconnect
// performed by the next Send or Query.
package transport
