package transport

import (
	"time"

	"github.com/achilleasa/scenerelay/scene/wire"
)

type Options struct {
	// Payload size of flush chunks. Independent of the websocket message
	// size limits.
	ChunkSize int

	// Deadline for writing a single message, including the handshake.
	WriteTimeout time.Duration

	// A connection that stays silent for longer than this is considered
	// lost. Peers send pings every PingTimeout.
	ReadTimeout time.Duration
	PingTimeout time.Duration

	// Maximum accepted message size.
	ReadLimit int64

	// Number of outgoing messages buffered per connection.
	SendBuffer int

	// Partially received flushes are discarded when none of their chunks
	// arrived for this long. Zero keeps them until the scene is dropped.
	AssemblyTimeout time.Duration
}

// Get the default transport options.
func DefaultOptions() Options {
	return Options{
		ChunkSize:       16 * 1024,
		WriteTimeout:    5 * time.Second,
		ReadTimeout:     15 * time.Second,
		PingTimeout:     5 * time.Second,
		ReadLimit:       1 << 20,
		SendBuffer:      256,
		AssemblyTimeout: wire.DefaultPartialTimeout,
	}
}
