package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/achilleasa/scenerelay/asset"
	"github.com/achilleasa/scenerelay/producer"
	"github.com/achilleasa/scenerelay/renderer"
	"github.com/achilleasa/scenerelay/renderer/link"
	"github.com/achilleasa/scenerelay/renderer/state"
	"github.com/achilleasa/scenerelay/transport"
	"github.com/achilleasa/scenerelay/types"
	"github.com/urfave/cli"
)

func producerOptions(ctx *cli.Context) (producer.Options, error) {
	strategy, err := producer.ParseStrategy(ctx.String("strategy"))
	if err != nil {
		return producer.Options{}, err
	}
	return producer.Options{Strategy: strategy}, nil
}

func transportOptions(ctx *cli.Context) transport.Options {
	opts := transport.DefaultOptions()
	if size := ctx.Int("chunk-size"); size > 0 {
		opts.ChunkSize = size
	}
	return opts
}

func rendererOptions(ctx *cli.Context) renderer.Options {
	opts := renderer.DefaultOptions()
	opts.FrameBudget = ctx.Duration("budget")
	opts.UploadBudget = ctx.Duration("upload-budget")
	opts.ResourceCacheSize = ctx.Uint64("resource-cache")
	return opts
}

// Run a producer and a renderer in the same process.
func Demo(ctx *cli.Context) error {
	setupLogging(ctx)

	popts, err := producerOptions(ctx)
	if err != nil {
		return err
	}
	numScenes := ctx.Int("scenes")
	if numScenes < 1 {
		return errors.New("at least one scene is required")
	}
	textures, err := loadTextures(ctx.StringSlice("texture"), numScenes)
	if err != nil {
		return err
	}

	pool := asset.NewPool()
	lb := transport.NewLoopback(pool, transportOptions(ctx))
	r := renderer.New(newDevice(ctx), pool, lb, rendererOptions(ctx))
	defer r.Close()
	client := producer.NewClient(types.NewGuid(), lb)
	lb.Connect(client, r.Queue())

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- r.Run(runCtx)
	}()

	anim, err := newSceneAnimator(runCtx, client, numScenes, textures, popts)
	if err != nil {
		return err
	}
	anim.expiration = ctx.Duration("expiration")

	// Render every scene and chain the provider slot of each scene to the
	// consumer slot of the next one.
	for _, id := range client.Scenes() {
		r.Queue().Enqueue(renderer.SetSceneState(id, state.Rendered))
		r.Queue().Enqueue(renderer.SetFlushNotifications(id, true))
		if uint64(id) > 1 {
			r.Queue().Enqueue(renderer.LinkData(
				link.SlotRef{Scene: id - 1, Slot: providerSlot},
				link.SlotRef{Scene: id, Slot: consumerSlot},
			))
		}
	}

	frames := ctx.Int("frames")
	logger.Noticef("animating %d scenes for %d frames", numScenes, frames)
	start := time.Now()
	ticker := time.NewTicker(ctx.Duration("interval"))
	for frame := 0; frame < frames; frame++ {
		<-ticker.C
		anim.step(runCtx)
	}
	ticker.Stop()

	cancel()
	if err = <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Noticef("demo completed in %s", time.Since(start))

	for _, ev := range r.Events() {
		if ev.Kind != renderer.EventSceneFlushed {
			logger.Info(ev.String())
		}
	}
	displayProducerStats(client)
	displayFrameStats(r.Stats())
	return nil
}
