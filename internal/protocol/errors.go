package protocol

import "errors"

var (
	ErrInvalidMessage = errors.New("protocol: invalid message")
	ErrMissingRequest = errors.New("protocol: missing request")
	ErrUnknownRequest = errors.New("protocol: unknown request")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)
