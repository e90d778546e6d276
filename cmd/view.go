package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/renderer"
	"github.com/achilleasa/scenerelay/transport"
	"github.com/achilleasa/scenerelay/types"
	"github.com/urfave/cli"
)

// Connect a renderer to one or more producers and control it through a
// textual shell on stdin.
func View(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() == 0 {
		return errors.New("missing producer url argument")
	}

	var autoTarget *renderer.Command
	if name := ctx.String("auto"); name != "" {
		target, err := parseState(name)
		if err != nil {
			return err
		}
		cmd := renderer.SetSceneState(0, target)
		autoTarget = &cmd
	}

	pool := asset.NewPool()
	conn := transport.NewConnector(types.NewGuid(), pool, transportOptions(ctx))
	r := renderer.New(newDevice(ctx), pool, conn, rendererOptions(ctx))
	defer r.Close()
	conn.Bind(r.Queue())

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, url := range ctx.Args() {
		owner, err := conn.Dial(runCtx, url)
		if err != nil {
			conn.Close()
			return err
		}
		logger.Noticef("connected to %s (%s)", url, owner)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- r.Run(runCtx)
	}()

	// Report events and apply the automatic target to newly published
	// scenes.
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			}
			for _, ev := range r.Events() {
				logger.Info(ev.String())
				if ev.Kind == renderer.EventScenePublished && autoTarget != nil {
					cmd := *autoTarget
					cmd.Scene = ev.Scene
					r.Queue().Enqueue(cmd)
				}
			}
		}
	}()

	go func() {
		if err := runShell(os.Stdin, r); err != nil {
			logger.Warningf("shell: %v", err)
		}
		stop()
	}()

	err := <-runErr
	conn.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	displayFrameStats(r.Stats())
	return nil
}
