package main

import (
	"os"
	"time"

	"github.com/achilleasa/scenerelay/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	producerFlags := []cli.Flag{
		cli.IntFlag{
			Name:  "scenes",
			Value: 3,
			Usage: "number of animated scenes",
		},
		cli.StringFlag{
			Name:  "strategy",
			Value: "shadow",
			Usage: "producer strategy (direct or shadow)",
		},
		cli.DurationFlag{
			Name:  "interval",
			Value: 16 * time.Millisecond,
			Usage: "time between animation frames",
		},
		cli.StringSliceFlag{
			Name:  "texture, t",
			Value: &cli.StringSlice{},
			Usage: "texture file or url; generated textures are used if omitted",
		},
		cli.IntFlag{
			Name:  "chunk-size",
			Value: 16 * 1024,
			Usage: "payload size of flush chunks",
		},
		cli.DurationFlag{
			Name:  "expiration",
			Usage: "mark the content of every frame as expired this long after it is flushed (0 disables expiration)",
		},
	}
	rendererFlags := []cli.Flag{
		cli.DurationFlag{
			Name:  "budget",
			Value: 8 * time.Millisecond,
			Usage: "time budget for applying flushes per render loop iteration (0 disables the limit)",
		},
		cli.DurationFlag{
			Name:  "upload-budget",
			Value: 4 * time.Millisecond,
			Usage: "time budget for uploading resources per render loop iteration (0 disables the limit)",
		},
		cli.Uint64Flag{
			Name:  "resource-cache",
			Usage: "bytes of unreferenced resources kept uploaded for reuse",
		},
	}

	app := cli.NewApp()
	app.Name = "scenerelay"
	app.Usage = "distribute scene graphs from producers to renderers"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "demo",
			Usage: "run a producer and a renderer in the same process",
			Description: `
Create a set of animated scenes, connect them to an in-process renderer and
render them for the given number of frames. The provider slot of each scene
is linked to the consumer slot of the next one.`,
			Flags: append(append([]cli.Flag{
				cli.IntFlag{
					Name:  "frames",
					Value: 120,
					Usage: "number of animation frames",
				},
			}, producerFlags...), rendererFlags...),
			Action: cmd.Demo,
		},
		{
			Name:  "serve",
			Usage: "serve animated scenes over websockets",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "listen, l",
					Value: "localhost:7070",
					Usage: "address to listen on; scenes are served at /scenes and metrics at /metrics",
				},
			}, producerFlags...),
			Action: cmd.Serve,
		},
		{
			Name:  "view",
			Usage: "connect a renderer to one or more producers",
			Description: `
Connect to the producers at the given websocket urls and read renderer
commands from stdin. Type "help" for the list of commands.`,
			ArgsUsage: "ws://host:port/scenes ...",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "auto",
					Usage: "state requested for every scene as soon as it is published",
				},
				cli.IntFlag{
					Name:  "chunk-size",
					Value: 16 * 1024,
					Usage: "payload size of flush chunks",
				},
			}, rendererFlags...),
			Action: cmd.View,
		},
	}

	app.Run(os.Args)
}
