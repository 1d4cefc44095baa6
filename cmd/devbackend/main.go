package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"verifyflow/internal/devbackend"
	"verifyflow/internal/devbackend/handler"
	"verifyflow/internal/platform/auditsink"
	"verifyflow/internal/platform/config"
	"verifyflow/internal/platform/httpserver"
	"verifyflow/internal/platform/logger"
	"verifyflow/pkg/platform/middleware/ratelimit"
)

// main wires the development backend: config, audit sink, service and
// router. Business logic lives in internal/devbackend.
func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "devbackend",
		Short:         "Run the local onboarding backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("VERIFYFLOW_CONFIG"), "path to a YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "devbackend:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log, os.Stderr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sink, err := auditsink.Open(ctx, cfg.Audit, "verifyflow-devbackend", reg, log)
	if err != nil {
		return err
	}
	defer sink.Close()

	links, err := devbackend.NewLinks(cfg.Server.LinkSigningKey, cfg.Server.PublicURL, cfg.Server.LinkTTL)
	if err != nil {
		return err
	}
	registry := devbackend.NewRegistry()
	svc, err := devbackend.NewService(registry, links,
		devbackend.WithLogger(log),
		devbackend.WithAuditor(sink),
		devbackend.WithMetrics(devbackend.NewMetrics(reg, func() float64 { return float64(registry.Len()) })),
	)
	if err != nil {
		return err
	}

	// With a separate metrics address /metrics is only served there.
	var gatherer prometheus.Gatherer = reg
	if cfg.Server.MetricsAddr != "" {
		gatherer = nil
	}
	var routerOpts []handler.RouterOption
	if cfg.Server.RateLimit > 0 {
		routerOpts = append(routerOpts, handler.WithRateLimit(ratelimit.NewWindow(cfg.Server.RateLimit, time.Minute)))
	}
	router := handler.NewRouter(handler.New(svc, log), log, gatherer, routerOpts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(ctx, httpserver.New(cfg.Server.Addr, router), log)
	})
	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return httpserver.Run(ctx, httpserver.New(cfg.Server.MetricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})), log)
		})
	}
	g.Go(func() error {
		return sink.Run(ctx)
	})

	log.Info("devbackend started",
		"addr", cfg.Server.Addr,
		"public_url", cfg.Server.PublicURL,
		"audit_sink", cfg.Audit.Sink,
	)
	return g.Wait()
}
