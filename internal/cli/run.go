package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ppiankov/threadline/internal/feed"
)

var runEvery string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Pull posts once, or repeatedly with --every",
	Long:  "run pulls the newest posts like `pull`. With --every it keeps one session open and pulls again on every tick until interrupted, serving Prometheus metrics on metrics.addr when configured.",
	RunE:  runAction,
}

// runPullRound performs one pull on an open session. Tests replace it.
var runPullRound = func(ctx context.Context, s *session) error {
	return s.fetch(ctx, pullStart)
}

func init() {
	runCmd.Flags().StringVar(&runEvery, "every", "", "repeat the pull at this interval (e.g. 15m)")
	runCmd.Flags().BoolVar(&pullAll, "all", false, "also fill every unfinished gap")
	runCmd.Flags().DurationVar(&pullTimeout, "timeout", 5*time.Minute, "give up waiting for fetches after this long")
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	interval, err := parseRunEvery(runEvery)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	if interval == 0 {
		s, err := openSession(ctx, sessionOptions{online: true})
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		return runPullRound(ctx, s)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s, err := openSession(ctx, sessionOptions{
		online:   true,
		feedOpts: []feed.Option{feed.WithRegisterer(reg)},
	})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if addr := s.cfg.Metrics.Addr; addr != "" {
		srv := serveMetrics(addr, reg, s.logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	s.logger.Info("watch_started", slog.Duration("every", interval))
	return runWatch(ctx, interval, func() error {
		return runPullRound(ctx, s)
	})
}

func parseRunEvery(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse --every: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("--every must be positive, got %s", d)
	}
	return d, nil
}

// runWatch calls runOnce immediately and then on every tick until ctx is
// done. An error from runOnce stops the loop unless ctx was cancelled while
// it ran.
func runWatch(ctx context.Context, interval time.Duration, runOnce func() error) error {
	tick := func() error {
		if err := runOnce(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
	if err := tick(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(); err != nil {
				return err
			}
		}
	}
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", slog.String("addr", addr), slog.Any("error", err))
		}
	}()
	logger.Info("metrics_listening", slog.String("addr", addr))
	return srv
}
