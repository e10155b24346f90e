// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-imageflow/internal/bus"
	"github.com/tendant/simple-imageflow/internal/config"
	"github.com/tendant/simple-imageflow/internal/img"
	"github.com/tendant/simple-imageflow/internal/job"
	"github.com/tendant/simple-imageflow/internal/metrics"
	"github.com/tendant/simple-imageflow/internal/rpc"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fatal(slog.Default(), "load config", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("worker starting",
		"nats_url", cfg.NATSURL,
		"subject_prefix", cfg.SubjectPrefix,
		"queue", cfg.Queue,
		"metrics_addr", cfg.MetricsAddr,
		"jpeg_quality", cfg.JPEGQuality,
		"max_pixels", cfg.MaxPixels,
		"max_jobs", cfg.MaxJobs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		fatal(logger, "worker stopped", err)
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	eng := img.NewEngine(img.Options{
		JPEGQuality:    cfg.JPEGQuality,
		MaxPixels:      cfg.MaxPixels,
		MaxJobs:        cfg.MaxJobs,
		AutoOrient:     true,
		ConvertTimeout: cfg.ConvertTimeout,
		Logger:         logger,
	})
	defer eng.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(promReg)
	if err != nil {
		return err
	}

	nc, err := bus.Connect(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)

	reg := job.NewRegistry(eng,
		job.WithLogger(logger),
		job.WithObserver(collector),
		job.WithObserver(rpc.NewEventPublisher(nc, cfg.SubjectPrefix, logger)),
	)
	defer func() {
		n := reg.Len()
		if err := reg.Close(); err != nil {
			logger.Warn("release jobs on shutdown", "jobs", n, "err", err)
			return
		}
		logger.Info("released jobs on shutdown", "jobs", n)
	}()
	logger.Info("engine ready", "version", reg.Version())

	srv := rpc.NewServer(reg, cfg.SubjectPrefix, logger)
	subs, err := srv.Subscribe(nc, cfg.Queue)
	if err != nil {
		return err
	}
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !nc.Conn().IsConnected() {
			http.Error(w, "nats disconnected", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
