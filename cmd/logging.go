package cmd

import (
	"github.com/achilleasa/scenerelay/device"
	"github.com/achilleasa/scenerelay/log"
	"github.com/urfave/cli"
)

var logger = log.New("scenerelay")

func setupLogging(ctx *cli.Context) {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}

// Create the device used by the renderer. In very verbose mode every device
// call is logged.
func newDevice(ctx *cli.Context) device.Device {
	var dev device.Device = device.NewMemoryDevice()
	if ctx.GlobalBool("vv") {
		dev = device.NewLoggingDevice(dev)
	}
	return dev
}
