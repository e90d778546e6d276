package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/achilleasa/scenerelay/producer"
	"github.com/achilleasa/scenerelay/transport"
	"github.com/achilleasa/scenerelay/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
)

// Serve animated scenes to renderers connecting over websockets.
func Serve(ctx *cli.Context) error {
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

	srv := transport.NewServer(transportOptions(ctx))
	client := producer.NewClient(types.NewGuid(), srv)
	srv.Attach(client)

	mux := http.NewServeMux()
	mux.Handle("/scenes", srv)
	mux.Handle("/metrics", promhttp.Handler())
	httpSrv := &http.Server{Addr: ctx.String("listen"), Handler: mux}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	anim, err := newSceneAnimator(runCtx, client, numScenes, textures, popts)
	if err != nil {
		return err
	}
	anim.expiration = ctx.Duration("expiration")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()
	logger.Noticef("serving %d scenes as %s on ws://%s/scenes", numScenes, client.Guid(), httpSrv.Addr)

	ticker := time.NewTicker(ctx.Duration("interval"))
	defer ticker.Stop()
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case err = <-serveErr:
			return err
		case <-ticker.C:
			anim.step(runCtx)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warningf("http shutdown: %v", err)
	}
	srv.Close()

	displayProducerStats(client)
	return nil
}
