package device

import (
	"fmt"
	"sync"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/types"
)

// Stats collected by a MemoryDevice.
type Stats struct {
	Uploads  int
	Releases int
	Draws    int

	// Currently resident resources and their total size.
	Resident      int
	ResidentBytes uint64
}

type residentResource struct {
	desc  asset.Descriptor
	draws int
}

// MemoryDevice is an in-process device that keeps uploaded payload sizes in
// memory and records every call. Upload failures can be injected per
// resource identity.
type MemoryDevice struct {
	mu         sync.Mutex
	nextHandle Handle
	resident   map[Handle]*residentResource
	uploads    map[types.ResourceHash]int
	failures   map[types.ResourceHash]error
	drawOrder  []types.ResourceHash
	stats      Stats
}

// Create a new in-memory device.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{
		resident: make(map[Handle]*residentResource),
		uploads:  make(map[types.ResourceHash]int),
		failures: make(map[types.ResourceHash]error),
	}
}

// FailUploads makes every upload of the given resource fail with err.
func (d *MemoryDevice) FailUploads(hash types.ResourceHash, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, hash)
		return
	}
	d.failures[hash] = err
}

func (d *MemoryDevice) Upload(desc asset.Descriptor, payload []byte) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.uploads[desc.Hash]++
	if err := d.failures[desc.Hash]; err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUploadFailed, desc.Hash.Short(), err)
	}
	if uint32(len(payload)) != desc.Size {
		return 0, fmt.Errorf("%w: %s: payload has %d bytes; expected %d", ErrUploadFailed, desc.Hash.Short(), len(payload), desc.Size)
	}

	d.nextHandle++
	d.resident[d.nextHandle] = &residentResource{desc: desc}
	d.stats.Uploads++
	d.stats.Resident++
	d.stats.ResidentBytes += uint64(desc.Size)
	return d.nextHandle, nil
}

func (d *MemoryDevice) Draw(h Handle, order int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, ok := d.resident[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	res.draws++
	d.stats.Draws++
	d.drawOrder = append(d.drawOrder, res.desc.Hash)
	return nil
}

func (d *MemoryDevice) Release(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, ok := d.resident[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	delete(d.resident, h)
	d.stats.Releases++
	d.stats.Resident--
	d.stats.ResidentBytes -= uint64(res.desc.Size)
	return nil
}

// UploadCount returns how many times a resource was uploaded (including
// failed attempts).
func (d *MemoryDevice) UploadCount(hash types.ResourceHash) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uploads[hash]
}

// IsResident returns true if a resource with the given identity is resident.
func (d *MemoryDevice) IsResident(hash types.ResourceHash) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, res := range d.resident {
		if res.desc.Hash == hash {
			return true
		}
	}
	return false
}

// TakeDrawOrder returns and clears the identities drawn since the last call.
func (d *MemoryDevice) TakeDrawOrder() []types.ResourceHash {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.drawOrder
	d.drawOrder = nil
	return out
}

func (d *MemoryDevice) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
