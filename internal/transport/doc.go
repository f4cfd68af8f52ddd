// Package transport owns the links between a host and the game it opens.
//
// Ownership boundary:
// - peer identity (Source) and inbound events
// - same-origin URL resolution
// - newline-delimited JSON framing over byte streams
// - openers: in-memory pair, child process, websocket
//
// Sends are best effort. A frame written to a closed or unreachable peer is
// dropped and reported as ErrClosed; nothing is queued or retried.
package transport
