package transport

import "errors"

var (
	ErrMalformedFrame   = errors.New("transport: malformed frame")
	ErrUnexpectedFrame  = errors.New("transport: unexpected frame")
	ErrUnknownPeer      = errors.New("transport: unknown peer")
	ErrConnectionClosed = errors.New("transport: connection closed")
	ErrNotConnected     = errors.New("transport: no client attached")
	ErrNotBound         = errors.New("transport: no command queue bound")
	ErrAlreadyConnected = errors.New("transport: peer already connected")
	ErrSendBufferFull   = errors.New("transport: send buffer full")
)
