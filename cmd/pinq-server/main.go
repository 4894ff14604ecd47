package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kkrugley/pinq/internal/broker"
	"github.com/kkrugley/pinq/internal/config"
	"github.com/kkrugley/pinq/internal/logging"
	"github.com/kkrugley/pinq/internal/version"
)

const shutdownTimeout = 10 * time.Second

var opts config.ServerOptions

var rootCmd = &cobra.Command{
	Use:     "pinq-server",
	Short:   "Room broker that pairs pinq peers",
	Version: version.Version,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(opts)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.ServerConfig) error {
	log := logging.InitServer(cfg.LogLevel)

	hub := broker.NewHub(broker.Options{
		RoomTTL:   cfg.RoomTTL,
		JoinRate:  cfg.JoinRate,
		JoinBurst: cfg.JoinBurst,
		Logger:    log,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           broker.NewServer(hub, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting broker", "addr", cfg.Addr, "roomTTL", cfg.RoomTTL, "joinRate", cfg.JoinRate, "joinBurst", cfg.JoinBurst)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		stopHub()
		<-hubDone
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	stopHub()
	<-hubDone

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	f := rootCmd.Flags()
	f.StringVar(&opts.ConfigFile, "config", "", "YAML config file")
	f.StringVar(&opts.Addr, "addr", "", "Listen address (default \":8080\")")
	f.DurationVar(&opts.RoomTTL, "room-ttl", 0, "Inactivity window before a room is reaped (default 5m)")
	f.Float64Var(&opts.JoinRate, "join-rate", 0, "Joins per second allowed per IP (default 1)")
	f.IntVar(&opts.JoinBurst, "join-burst", 0, "Join burst allowed per IP (default 10)")
	f.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
