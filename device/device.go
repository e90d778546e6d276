package device

import (
	"errors"

	"github.com/achilleasa/scenerelay/asset"
)

// Handle identifies a device-resident resource.
type Handle uint64

var (
	ErrUnknownHandle = errors.New("device: unknown handle")
	ErrUploadFailed  = errors.New("device: upload failed")
)

// Device is the GPU capability consumed by the renderer. All calls are made
// from the thread that owns the device.
type Device interface {
	// Upload a decompressed resource payload and return its handle.
	Upload(desc asset.Descriptor, payload []byte) (Handle, error)

	// Draw a resident resource. Order is the render order of the scene
	// that references it.
	Draw(h Handle, order int) error

	// Release a resident resource.
	Release(h Handle) error
}
