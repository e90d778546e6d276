package device

import (
	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/log"
)

// LoggingDevice logs every call before delegating to the wrapped device.
type LoggingDevice struct {
	logger log.Logger
	dev    Device
}

// Wrap a device with call logging.
func NewLoggingDevice(dev Device) *LoggingDevice {
	return &LoggingDevice{
		logger: log.New("device"),
		dev:    dev,
	}
}

func (d *LoggingDevice) Upload(desc asset.Descriptor, payload []byte) (Handle, error) {
	h, err := d.dev.Upload(desc, payload)
	if err != nil {
		d.logger.Warningf("upload %s (%s, %d bytes) failed: %v", desc.Hash.Short(), desc.Kind, len(payload), err)
		return h, err
	}
	d.logger.Debugf("upload %s (%s, %d bytes) -> handle %d", desc.Hash.Short(), desc.Kind, len(payload), h)
	return h, nil
}

func (d *LoggingDevice) Draw(h Handle, order int) error {
	d.logger.Debugf("draw handle %d (order %d)", h, order)
	return d.dev.Draw(h, order)
}

func (d *LoggingDevice) Release(h Handle) error {
	d.logger.Debugf("release handle %d", h)
	return d.dev.Release(h)
}
