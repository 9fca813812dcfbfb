package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/relaymesh/server"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and WebSocket API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides listen.address/listen.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	hub := server.NewHub()

	a, err := newApp(hub)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Listen.Addr()
	if listenAddr != "" {
		addr = listenAddr
	}

	srv := server.New(a.mesh.Runner(), hub, func(o *server.Options) {
		o.Addr = addr
		o.AllowedOrigins = a.cfg.CORS.Origins
		o.Logger = a.logger.WithComponent("server")
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("server.stopping")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// Save live sessions before the process exits.
		return errors.Join(err, a.mesh.Runner().Sessions().Flush(shutdownCtx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
