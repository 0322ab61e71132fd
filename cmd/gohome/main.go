package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/gohome-irobot/internal/config"
	"github.com/joshp123/gohome-irobot/internal/core"
	"github.com/joshp123/gohome-irobot/internal/host"
	"github.com/joshp123/gohome-irobot/internal/logging"
	"github.com/joshp123/gohome-irobot/internal/plugins"
	"github.com/joshp123/gohome-irobot/internal/router"
	"github.com/joshp123/gohome-irobot/internal/server"
	"github.com/joshp123/gohome-irobot/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			serveMain(os.Args[2:])
			return
		case "pair":
			pairMain(os.Args[2:])
			return
		case "help", "-h", "--help":
			usage()
			return
		}
	}
	serveMain(os.Args[1:])
}

func usage() {
	fmt.Println("gohome <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  serve [--config path] [--all-plugins]")
	fmt.Println("  pair [--config path] [--id mac] [--ip addr] [--wait 30s]")
}

func serveMain(args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	allPlugins := flags.Bool("all-plugins", false, "Enable every compiled plugin regardless of config")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config", err)
	}
	logger, err := logging.New(cfg.Core.LogLevel, cfg.Core.LogFormat)
	if err != nil {
		fatal("build logger", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := serve(cfg, logger, *allPlugins); err != nil {
		logger.Fatal("gohome stopped", zap.Error(err))
	}
}

func serve(cfg *config.Config, logger *zap.Logger, allPlugins bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	deps := core.Deps{Logger: logger, Store: st, Hub: host.NewHub()}

	compiled := plugins.Compiled(cfg, deps)
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, allPlugins); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, allPlugins)
	if err := core.ValidatePlugins(active); err != nil {
		return err
	}
	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		logger.Warn("write dashboards", zap.Error(err))
	}

	for _, p := range active {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		if err := runner.Start(ctx); err != nil {
			logger.Error("plugin start failed", zap.String("plugin", p.ID()), zap.Error(err))
			continue
		}
		defer func(id string) {
			if err := runner.Close(); err != nil {
				logger.Warn("plugin close", zap.String("plugin", id), zap.Error(err))
			}
		}(p.ID())
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	router.RegisterPlugins(grpcServer.Server, grpcServer.Health, active)

	metricsRegistry := core.MetricsRegistry(active)
	core.RuntimeMetrics(metricsRegistry)
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gohome_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, router.HTTPMux(active, metricsRegistry))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", cfg.Core.GRPCAddr))
		return grpcServer.Serve()
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.Core.HTTPAddr))
		return httpServer.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.Stop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("gohome stopped")
	return nil
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
