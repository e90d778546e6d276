package wire

import (
	"fmt"
	"time"

	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/scene"
	"github.com/achilleasa/scenerelay/types"
	"golang.org/x/exp/slices"
)

// DefaultPartialTimeout is how long an incomplete flush is kept without
// receiving any of its chunks.
const DefaultPartialTimeout = 30 * time.Second

type flushKey struct {
	scene   types.SceneId
	version uint64
}

type partialFlush struct {
	totalSize uint32
	received  uint64
	chunks    map[uint32][]byte
	lastChunk time.Time
}

// Assembler collects chunks for any number of in-flight flushes and
// returns each flush once all of its chunks arrived. It is not safe for
// concurrent use; each transport connection owns one.
type Assembler struct {
	logger  log.Logger
	timeout time.Duration
	now     func() time.Time
	partial map[flushKey]*partialFlush
}

// Create a new chunk assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		logger:  log.New("wire"),
		timeout: DefaultPartialTimeout,
		now:     time.Now,
		partial: make(map[flushKey]*partialFlush),
	}
}

// SetTimeout changes how long an incomplete flush survives without new
// chunks. A zero timeout keeps partial flushes until they are dropped.
func (a *Assembler) SetTimeout(timeout time.Duration) {
	a.timeout = timeout
}

// Add a chunk. When the chunk completes a flush, the decoded flush is
// returned with done set to true. Chunks that contradict the declared total
// size discard the partial flush and return ErrSizeMismatch; a body that
// cannot be decoded returns ErrMalformed.
func (a *Assembler) Add(c Chunk) (f scene.Flush, done bool, err error) {
	now := a.now()
	a.expire(now)

	key := flushKey{c.Scene, c.FlushVersion}
	pf, ok := a.partial[key]
	if !ok {
		pf = &partialFlush{
			totalSize: c.TotalSize,
			chunks:    make(map[uint32][]byte),
		}
		a.partial[key] = pf
	}

	if pf.totalSize != c.TotalSize {
		delete(a.partial, key)
		return scene.Flush{}, false, fmt.Errorf("%w: %s v%d declares %d and %d bytes", ErrSizeMismatch, c.Scene, c.FlushVersion, pf.totalSize, c.TotalSize)
	}
	if _, dup := pf.chunks[c.Index]; dup {
		a.logger.Debugf("ignoring duplicate chunk %d of %s v%d", c.Index, c.Scene, c.FlushVersion)
		return scene.Flush{}, false, nil
	}

	pf.chunks[c.Index] = append([]byte(nil), c.Payload...)
	pf.lastChunk = now
	pf.received += uint64(len(c.Payload))
	if pf.received > uint64(pf.totalSize) {
		delete(a.partial, key)
		return scene.Flush{}, false, fmt.Errorf("%w: %s v%d received %d of %d bytes", ErrSizeMismatch, c.Scene, c.FlushVersion, pf.received, pf.totalSize)
	}
	if pf.received < uint64(pf.totalSize) {
		return scene.Flush{}, false, nil
	}

	delete(a.partial, key)
	indices := make([]uint32, 0, len(pf.chunks))
	for index := range pf.chunks {
		indices = append(indices, index)
	}
	slices.Sort(indices)

	body := make([]byte, 0, pf.totalSize)
	for pos, index := range indices {
		if uint32(pos) != index {
			return scene.Flush{}, false, fmt.Errorf("%w: %s v%d is missing chunk %d", ErrSizeMismatch, c.Scene, c.FlushVersion, pos)
		}
		body = append(body, pf.chunks[index]...)
	}

	f, err = DecodeFlush(body)
	if err != nil {
		return scene.Flush{}, false, fmt.Errorf("%s v%d: %w", c.Scene, c.FlushVersion, err)
	}
	if f.Scene != c.Scene || f.Version != c.FlushVersion {
		return scene.Flush{}, false, fmt.Errorf("%w: header %s v%d carries %s v%d", ErrMalformed, c.Scene, c.FlushVersion, f.Scene, f.Version)
	}

	a.logger.Debugf("reassembled %s from %d chunks", &f, len(indices))
	return f, true, nil
}

// Drop discards every partial flush of a scene.
func (a *Assembler) Drop(id types.SceneId) int {
	dropped := 0
	for key := range a.partial {
		if key.scene == id {
			delete(a.partial, key)
			dropped++
		}
	}
	return dropped
}

// Expire discards partial flushes that received no chunk within the
// timeout and returns how many were dropped.
func (a *Assembler) Expire() int {
	return a.expire(a.now())
}

func (a *Assembler) expire(now time.Time) int {
	if a.timeout <= 0 {
		return 0
	}
	dropped := 0
	for key, pf := range a.partial {
		if now.Sub(pf.lastChunk) < a.timeout {
			continue
		}
		delete(a.partial, key)
		dropped++
		a.logger.Warningf("discarding %s v%d: %d of %d bytes received before timing out", key.scene, key.version, pf.received, pf.totalSize)
	}
	return dropped
}

// Pending returns the number of incomplete flushes.
func (a *Assembler) Pending() int {
	return len(a.partial)
}
