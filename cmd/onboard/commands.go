package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"verifyflow/internal/platform/config"
	"verifyflow/internal/platform/httpserver"
	"verifyflow/internal/platform/logger"
	"verifyflow/internal/tui"
)

type rootOptions struct {
	configPath string
	profile    string
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.profile != "" {
		cfg.Session.Profile = o.profile
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "onboard",
		Short:         "Open an account and verify your identity from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("VERIFYFLOW_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVarP(&opts.profile, "profile", "p", "", "session profile (overrides session.profile)")

	root.AddCommand(
		newChatCommand(opts),
		newResetCommand(opts),
		newSessionCommand(opts),
	)
	return root
}

func newChatCommand(root *rootOptions) *cobra.Command {
	var (
		metricsAddr string
		logFile     string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start or resume the onboarding conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if logFile == "" {
				logFile = filepath.Join(cfg.Session.Dir, "onboard.log")
			}
			log, closeLog, err := fileLogger(cfg.Log, logFile)
			if err != nil {
				return err
			}
			defer closeLog()
			return runChat(cmd.Context(), cfg, log, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while chatting")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs here (default: <session dir>/onboard.log)")
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config, log *slog.Logger, metricsAddr string) error {
	reg := prometheus.NewRegistry()
	a, err := build(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.flow.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if metricsAddr != "" {
		g.Go(func() error {
			return httpserver.Run(ctx, httpserver.New(metricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})), log)
		})
	}
	g.Go(func() error {
		return a.audit.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		model := tui.New(ctx, a.flow, tui.WithLogger(log))
		defer model.Close()
		_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

func newResetCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the current session and start a new one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			sessions, closeStore, err := openSessions(cmd.Context(), cfg, logger.Discard())
			if err != nil {
				return err
			}
			defer closeStore()
			id, err := sessions.Rotate(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "new session %s for profile %s\n", id, cfg.Session.Profile)
			return err
		},
	}
}

func newSessionCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print the session id for the profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			sessions, closeStore, err := openSessions(cmd.Context(), cfg, logger.Discard())
			if err != nil {
				return err
			}
			defer closeStore()
			id, err := sessions.Current(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}
}

// fileLogger opens path for appending; the terminal UI owns stdout.
func fileLogger(cfg config.LogConfig, path string) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return logger.New(cfg, f), func() { _ = f.Close() }, nil
}
