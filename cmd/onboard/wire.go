package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"verifyflow/internal/backend"
	"verifyflow/internal/confirmation"
	"verifyflow/internal/conversation"
	"verifyflow/internal/media"
	"verifyflow/internal/orchestrator"
	"verifyflow/internal/platform/auditsink"
	"verifyflow/internal/platform/config"
	"verifyflow/internal/platform/metrics"
	"verifyflow/internal/platform/redis"
	"verifyflow/internal/session"
	"verifyflow/internal/submission"
	"verifyflow/pkg/platform/circuit"
)

// version is stamped with -ldflags "-X main.version=...".
var version = "dev"

const closeTimeout = 5 * time.Second

// app is the wired client: one orchestrator plus the resources it holds.
type app struct {
	flow    *orchestrator.Orchestrator
	audit   *auditsink.Sink
	closers []func()
	logger  *slog.Logger
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (_ *app, err error) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	sink, err := auditsink.Open(ctx, cfg.Audit, "verifyflow-onboard", reg, logger)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	a.audit = sink
	a.closers = append(a.closers, sink.Close)

	sessions, closeStore, err := openSessions(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	device, err := openCamera(cfg.Capture, logger)
	if err != nil {
		return nil, err
	}
	negotiator, err := media.NewNegotiator(device, media.WithLogger(logger), media.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	client, err := backend.New(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithLogger(logger),
		backend.WithUserAgent(backend.DefaultUserAgent(version)),
	)
	if err != nil {
		return nil, err
	}
	submitter, err := submission.New(client,
		submission.WithLogger(logger),
		submission.WithMetrics(m),
		submission.WithBreaker(circuit.New("backend-uploads", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1))),
	)
	if err != nil {
		return nil, err
	}
	conv, err := conversation.New(client, conversation.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	gate, err := confirmation.New(client, confirmation.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	flowCfg := orchestrator.DefaultConfig()
	flowCfg.AdvanceDelay = cfg.Capture.AdvanceDelay
	flowCfg.RecordDuration = cfg.Capture.RecordDuration
	flowCfg.Countdown = cfg.Capture.Countdown
	flowCfg.WarmupTimeout = cfg.Capture.WarmupTimeout
	flowCfg.FaceQuality = cfg.Capture.FaceJPEGQuality
	flowCfg.DocumentQuality = cfg.Capture.DocumentJPEGQuality

	flow, err := orchestrator.New(conv, negotiator, submitter, gate, sessions,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
		orchestrator.WithAuditPublisher(sink),
		orchestrator.WithConfig(flowCfg),
	)
	if err != nil {
		return nil, err
	}
	a.flow = flow
	return a, nil
}

// close releases everything in reverse order of acquisition.
func (a *app) close() {
	if a.flow != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.flow.Close(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.Warn("close capture flow", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openSessions returns the session manager for the configured store. The
// returned func closes any connection the store holds.
func openSessions(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session.Manager, func(), error) {
	var (
		store session.Store
		done  = func() {}
	)
	switch cfg.Session.Store {
	case config.SessionStoreMemory:
		store = session.NewMemoryStore()
	case config.SessionStoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		if client == nil {
			return nil, nil, errors.New("redis session store requires redis.url")
		}
		rs, err := session.NewRedisStore(client.Client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		store = rs
		done = func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}
	default:
		fs, err := session.NewFileStore(cfg.Session.Dir)
		if err != nil {
			return nil, nil, err
		}
		store = fs
	}

	manager, err := session.NewManager(store, cfg.Session.Profile, session.WithLogger(logger))
	if err != nil {
		done()
		return nil, nil, err
	}
	return manager, done, nil
}
