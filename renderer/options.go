package renderer

import "time"

type Options struct {
	// Maximum time a loop iteration waits for commands before drawing.
	IdleTimeout time.Duration

	// Time budget for applying flushes within a single loop iteration.
	// Flushes that do not fit are deferred to the next iteration. A zero
	// budget disables the limit.
	FrameBudget time.Duration

	// Time budget for uploading resources within a single loop iteration.
	// At least one upload runs per iteration; the rest wait for the next
	// one. A zero budget disables the limit.
	UploadBudget time.Duration

	// Uploaded resources that no scene references any more stay resident
	// until their total size exceeds this many bytes. Zero releases them
	// right away.
	ResourceCacheSize uint64
}

// Get the default renderer options.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:  16 * time.Millisecond,
		FrameBudget:  8 * time.Millisecond,
		UploadBudget: 4 * time.Millisecond,
	}
}
