// Package session owns the responder-side session model.
//
// Ownership boundary:
// - session state defaults, patch merging and status transitions
// - liveness tracking (seconds since last trusted contact)
//
// Values in this package are owned by a single event loop and carry no
// locks.
package session
