package cache

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/device"
	"github.com/achilleasa/scenerelay/log"
	"github.com/achilleasa/scenerelay/metrics"
	"github.com/achilleasa/scenerelay/types"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slices"
)

var (
	ErrNotAcquired = errors.New("cache: resource not acquired by owner")
)

// Status of a cached resource.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusResident
	StatusBroken
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusResident:
		return "resident"
	case StatusBroken:
		return "broken"
	}
	return "unknown"
}

// ErrorSink receives upload failures. It is called at most once per
// resource identity.
type ErrorSink func(hash types.ResourceHash, err error)

type Options struct {
	ErrorSink ErrorSink

	// Resident resources that lose their last reference are kept on the
	// device until their total size exceeds KeepUnused bytes; the least
	// recently released ones are evicted first. Zero releases them at once.
	KeepUnused uint64
}

type entry struct {
	desc   asset.Descriptor
	status Status
	handle device.Handle

	refs   int
	owners map[types.SceneId]int

	reported bool
}

// EntryInfo is a read-only view of a cache entry.
type EntryInfo struct {
	Descriptor asset.Descriptor
	Status     Status
	Refs       int
	Owners     int
}

type Stats struct {
	Resident      int
	Pending       int
	Broken        int
	ResidentBytes uint64
	Uploads       int
	Releases      int

	// Resident resources without references and their total size.
	Unused      int
	UnusedBytes uint64

	// Acquires served by an unused resident resource and unused resources
	// released to stay within KeepUnused.
	Reuses    int
	Evictions int
}

// Cache maps resource identities to device handles. Each identity is
// uploaded when its reference count moves from 0 to 1 and released when it
// returns to 0. References are tracked per owning scene so that removing a
// scene releases exactly what it acquired.
//
// The reference-count map is guarded by a lock; uploads run outside of it so
// a secondary upload thread never blocks bookkeeping on the render thread.
type Cache struct {
	logger     log.Logger
	dev        device.Device
	sink       ErrorSink
	keepUnused uint64

	mu      sync.Mutex
	entries map[types.ResourceHash]*entry
	stats   Stats

	// Unreferenced resident resources, least recently released first.
	unused []types.ResourceHash
}

// Create a new cache uploading to dev.
func New(dev device.Device, opts Options) *Cache {
	return &Cache{
		logger:     log.New("cache"),
		dev:        dev,
		sink:       opts.ErrorSink,
		keepUnused: opts.KeepUnused,
		entries:    make(map[types.ResourceHash]*entry),
	}
}

// Acquire a reference to res on behalf of owner. The first reference
// triggers decompression and upload. Failures mark the resource broken; the
// error is returned and reported to the sink only for the acquire that
// triggered the upload. Broken resources are never uploaded again.
func (c *Cache) Acquire(owner types.SceneId, res *asset.Resource) (Status, error) {
	c.mu.Lock()
	e, ok := c.entries[res.Hash]
	if !ok {
		e = &entry{desc: res.Descriptor, owners: make(map[types.SceneId]int)}
		c.entries[res.Hash] = e
	}
	if e.refs == 0 && e.status == StatusResident {
		c.reuseLocked(e)
	}
	e.refs++
	e.owners[owner]++

	if e.status != StatusUnknown {
		status := e.status
		c.mu.Unlock()
		return status, nil
	}
	e.status = StatusPending
	c.stats.Pending++
	c.mu.Unlock()

	handle, err := c.upload(res)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Pending--

	if err != nil {
		e.status = StatusBroken
		c.stats.Broken++
		reason := "device"
		if errors.Is(err, asset.ErrCorrupted) {
			reason = "corrupted"
		}
		metrics.ResourceUploadFailures.WithLabelValues(reason).Inc()
		c.report(e, err)
		return StatusBroken, err
	}

	c.stats.Uploads++
	metrics.ResourceUploads.Inc()

	// Every reference was dropped while the upload was in flight.
	if e.refs == 0 {
		c.releaseHandle(res.Hash, handle)
		delete(c.entries, res.Hash)
		return StatusUnknown, nil
	}

	e.status = StatusResident
	e.handle = handle
	c.stats.Resident++
	c.stats.ResidentBytes += uint64(e.desc.Size)
	metrics.ResourcesResident.Inc()
	return StatusResident, nil
}

func (c *Cache) upload(res *asset.Resource) (device.Handle, error) {
	timer := prometheus.NewTimer(metrics.ResourceUploadDuration)
	defer timer.ObserveDuration()

	payload, err := res.Payload()
	if err != nil {
		return 0, err
	}
	handle, err := c.dev.Upload(res.Descriptor, payload)
	if err != nil {
		return 0, fmt.Errorf("cache: upload of %s failed: %w", res.Hash.Short(), err)
	}
	c.logger.Debugf("uploaded %s (%s, %d bytes) as handle %d", res.Hash.Short(), res.Kind, res.Size, handle)
	return handle, nil
}

func (c *Cache) report(e *entry, err error) {
	if e.reported {
		return
	}
	e.reported = true
	c.logger.Errorf("resource %s is broken: %v", e.desc.Hash.Short(), err)
	if c.sink != nil {
		c.sink(e.desc.Hash, err)
	}
}

// Release a reference held by owner. The device handle is released when the
// last reference is dropped.
func (c *Cache) Release(owner types.SceneId, hash types.ResourceHash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked(owner, hash)
}

// ReleaseOwner drops every reference held by owner and returns how many
// references were released.
func (c *Cache) ReleaseOwner(owner types.SceneId) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	released := 0
	for hash, e := range c.entries {
		for count := e.owners[owner]; count > 0; count-- {
			if err := c.releaseLocked(owner, hash); err != nil {
				break
			}
			released++
		}
	}
	return released
}

func (c *Cache) releaseLocked(owner types.SceneId, hash types.ResourceHash) error {
	e, ok := c.entries[hash]
	if !ok || e.owners[owner] == 0 {
		return fmt.Errorf("%w: %s by %s", ErrNotAcquired, hash.Short(), owner)
	}

	e.owners[owner]--
	if e.owners[owner] == 0 {
		delete(e.owners, owner)
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}

	switch e.status {
	case StatusResident:
		if size := uint64(e.desc.Size); c.keepUnused > 0 && size <= c.keepUnused {
			c.unused = append(c.unused, hash)
			c.stats.Unused++
			c.stats.UnusedBytes += size
			c.evictLocked(c.keepUnused)
			return nil
		}
		c.dropLocked(hash, e)
	case StatusPending:
		// The uploader notices the dropped references and cleans up.
	case StatusBroken:
		// Keep the entry so the resource is not retried.
	}
	return nil
}

// Release the device handle of a resident entry and forget it.
func (c *Cache) dropLocked(hash types.ResourceHash, e *entry) {
	c.releaseHandle(hash, e.handle)
	c.stats.Resident--
	c.stats.ResidentBytes -= uint64(e.desc.Size)
	metrics.ResourcesResident.Dec()
	delete(c.entries, hash)
}

func (c *Cache) reuseLocked(e *entry) {
	if index := slices.Index(c.unused, e.desc.Hash); index >= 0 {
		c.unused = slices.Delete(c.unused, index, index+1)
	}
	c.stats.Unused--
	c.stats.UnusedBytes -= uint64(e.desc.Size)
	c.stats.Reuses++
	c.logger.Debugf("reusing unused %s", e.desc.Hash.Short())
}

// Evict unused resources, oldest first, until at most limit bytes remain.
func (c *Cache) evictLocked(limit uint64) int {
	evicted := 0
	for len(c.unused) > 0 && c.stats.UnusedBytes > limit {
		hash := c.unused[0]
		c.unused = c.unused[1:]
		e := c.entries[hash]
		c.stats.Unused--
		c.stats.UnusedBytes -= uint64(e.desc.Size)
		c.dropLocked(hash, e)
		evicted++
	}
	c.stats.Evictions += evicted
	return evicted
}

// Purge releases every unused resident resource and returns how many were
// released.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(0)
}

func (c *Cache) releaseHandle(hash types.ResourceHash, handle device.Handle) {
	c.stats.Releases++
	if err := c.dev.Release(handle); err != nil {
		c.logger.Warningf("could not release %s (handle %d): %v", hash.Short(), handle, err)
	}
}

// Status returns the state of a resource.
func (c *Cache) Status(hash types.ResourceHash) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		return e.status
	}
	return StatusUnknown
}

// Handle returns the device handle of a resident resource.
func (c *Cache) Handle(hash types.ResourceHash) (device.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok || e.status != StatusResident {
		return 0, false
	}
	return e.handle, true
}

// RefCount returns the number of references held across all owners.
func (c *Cache) RefCount(hash types.ResourceHash) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		return e.refs
	}
	return 0
}

// OwnerRefs returns the number of references held by a single owner.
func (c *Cache) OwnerRefs(owner types.SceneId, hash types.ResourceHash) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[hash]; ok {
		return e.owners[owner]
	}
	return 0
}

// Entries returns a snapshot of all entries sorted by identity.
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EntryInfo, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, EntryInfo{Descriptor: e.desc, Status: e.status, Refs: e.refs, Owners: len(e.owners)})
	}
	slices.SortFunc(out, func(a, b EntryInfo) int {
		return bytes.Compare(a.Descriptor.Hash[:], b.Descriptor.Hash[:])
	})
	return out
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
