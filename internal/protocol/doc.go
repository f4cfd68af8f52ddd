// Package protocol owns the remote-control wire contract.
//
// Ownership boundary:
// - flat message records and typed field access
// - request names and command payload validation
// - message log rendering
//
// A message is one flat keyed record. Commands carry a `request` field that
// selects a handler; every other field is handler payload at the top level.
// Reports carry the session state fields and no `request`.
package protocol
