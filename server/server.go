package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/sliceview/chunkmanager"
	"github.com/janelia-flyem/sliceview/rpc"
	"github.com/janelia-flyem/sliceview/storage/ngprecomputed"
	"github.com/janelia-flyem/sliceview/sv"
)

// OpenVolumes opens every configured precomputed volume.
func OpenVolumes(ctx context.Context, c *Config) (map[string]*ngprecomputed.Volume, error) {
	volumes := make(map[string]*ngprecomputed.Volume, len(c.Volume))
	for name, vc := range c.Volume {
		vol, err := ngprecomputed.Open(ctx, vc.Ref)
		if err != nil {
			for _, opened := range volumes {
				opened.Close()
			}
			return nil, fmt.Errorf("volume %q: %v", name, err)
		}
		volumes[name] = vol
	}
	return volumes, nil
}

// Serve opens the configured volumes and runs the worker, chunk downloads, the RPC
// server and the HTTP server until the context is done or one of them fails.
func Serve(ctx context.Context, c *Config) error {
	c.Logging.SetLogger()
	sv.Infof("Using %d logical CPUs for sliceview.\n", runtime.NumCPU())

	opened, err := OpenVolumes(ctx, c)
	if err != nil {
		return err
	}
	volumes := make(map[string]VolumeSource, len(opened))
	for name, vol := range opened {
		volumes[name] = vol
		defer vol.Close()
	}

	manager := chunkmanager.New(c.Chunkmanager)
	debounce := time.Duration(c.Server.DebounceMS) * time.Millisecond
	worker := NewWorker(manager, volumes, c.Prefetch, debounce)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return manager.Run(gctx)
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})

	setRPCWorker(worker)
	defer setRPCWorker(nil)
	if c.Server.RPCAddress != "" {
		if err := rpc.StartServer(c.Server.RPCAddress); err != nil {
			sv.Criticalf("Could not start RPC server: %v\n", err)
		} else {
			defer rpc.StopServer(c.Server.RPCAddress)
		}
	}

	srv := &http.Server{
		Addr:              c.Server.HTTPAddress,
		Handler:           NewHandler(worker, manager, c.Server.CORSDomains),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		sv.Infof("Web server listening at %s ...\n", c.Server.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		delay := time.Duration(c.Server.ShutdownDelay) * time.Second
		sv.Infof("Shutting down web server, waiting up to %s for requests...\n", delay)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), delay)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
