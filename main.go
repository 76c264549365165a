package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"walkaround/config"
	"walkaround/probe"
	"walkaround/server"
	"walkaround/wire"
)

// walkaround 入口：serve 启动会话服务器（HTTP + WebSocket），probe 测量往返时延
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "walkaround",
		Short:         "Multiplayer walk-around session server",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to optional YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	})
	root.AddCommand(newProbeCmd())
	return root
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := server.InitLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer server.SyncLogger()

	metrics := server.NewMetrics()
	store := server.NewSpawnStore(cfg.Spawn.File, metrics)
	store.Load()
	registry := server.NewRegistry(metrics)
	coord := server.NewCoordinator(registry, store, metrics, server.Options{
		MaxPlayers: cfg.MaxPlayers,
		Placement:  server.PlacementFor(cfg.Spawn.Policy),
	})

	var admin *server.Admin
	if cfg.Admin.Enabled {
		admin = server.NewAdmin(coord, registry, store)
	}
	router := server.NewRouter(server.RouterConfig{
		StaticRoot: cfg.StaticRoot(),
		Transport:  server.NewTransport(registry, coord, metrics),
		Admin:      admin,
		Metrics:    metrics,
	})

	// 协调器与出生点写盘协程
	loopCtx, stopLoops := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); coord.Run(loopCtx) }()
	go func() { defer wg.Done(); store.Run(loopCtx) }()

	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		server.Log.Infow("walkaround listening",
			"addr", cfg.Address(),
			"static", cfg.StaticRoot(),
			"max_players", cfg.MaxPlayers,
			"spawn_policy", cfg.Spawn.Policy,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case <-quit:
		server.Log.Info("Shutting down...")
	case serveErr = <-errc:
		server.Log.Errorw("listen failed", "error", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		server.Log.Warnw("server forced to shutdown", "error", err)
	}
	stopLoops()
	wg.Wait()
	server.Log.Info("Server exited")
	return serveErr
}

func newProbeCmd() *cobra.Command {
	var opts probe.Options
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Join the server and measure pingSync round-trip time",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			queue := color.New(color.FgYellow)
			event := color.New(color.FgCyan)
			res, err := probe.Run(ctx, opts, func(f wire.Frame) {
				switch f.Event {
				case wire.EventQueueUpdate:
					var pos int
					_ = f.Arg(0, &pos)
					queue.Fprintf(out, "queued at position %d\n", pos)
				case "":
				default:
					event.Fprintf(out, "<- %s\n", f.Event)
				}
			})
			if err != nil {
				color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "probe failed: %v\n", err)
				return err
			}
			color.New(color.FgGreen, color.Bold).Fprintf(out,
				"%d pings: min=%s avg=%s max=%s\n", len(res.Samples), res.Min(), res.Avg(), res.Max())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:3000/", "websocket endpoint")
	cmd.Flags().IntVar(&opts.Count, "count", 5, "number of pingSync round trips")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 200*time.Millisecond, "delay between pings")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall probe timeout, including time spent queued")
	return cmd
}
