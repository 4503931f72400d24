// Command sidecar runs a processing stream described by a YAML file.
//
// Configuration comes from SIDECAR_* environment variables, see internal/config. With
// -profile, it profiles the matched filter worker pool instead and exits.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fogfactory/sidecar/algorithms/matchedfilter"
	"github.com/fogfactory/sidecar/algorithms/scale"
	"github.com/fogfactory/sidecar/benchmark"
	"github.com/fogfactory/sidecar/controller"
	"github.com/fogfactory/sidecar/internal/config"
	"github.com/fogfactory/sidecar/internal/logging"
	"github.com/fogfactory/sidecar/internal/metrics"
	"github.com/fogfactory/sidecar/message"
	"github.com/fogfactory/sidecar/status"
	"github.com/fogfactory/sidecar/stream"
	"github.com/fogfactory/sidecar/task"
	"github.com/fogfactory/sidecar/workpool"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	streamFile := flag.String("stream", "", "Stream description, overrides SIDECAR_STREAM_FILE")
	profile := flag.Bool("profile", false, "Profile the matched filter worker pool and exit")
	flag.Parse()

	if *profile {
		if _, err := benchmark.Profile(os.Stdout, 1024, 1<<16, 64, 1, 2, 4, 8); err != nil {
			log.Fatalf("profile: %v", err)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *streamFile != "" {
		cfg.Stream.File = *streamFile
	}

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sidecar stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	// worker pool metrics are dumped on SIGUSR1
	inmem := gometrics.NewInmemSink(10*time.Second, time.Minute)
	dump := gometrics.DefaultInmemSignal(inmem)
	defer dump.Stop()

	reg := controller.NewRegistry()
	if err := errors.Join(
		reg.Register(matchedfilter.Name, matchedfilter.Factory(workpool.WithMetricSink(inmem))),
		reg.Register(scale.Name, scale.New),
	); err != nil {
		return err
	}

	s, err := buildStream(ctx, cfg, logger, m, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("stream close", zap.Error(err))
		}
	}()

	if err := startStream(ctx, cfg, s); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: metricsHandler(promReg)}
		g.Go(func() error {
			logger.Info("serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		status.NewEmitter(cfg.Status.Interval, s.Status, status.LogPublisher(logger), logger).Run(gctx)
		return nil
	})
	if cfg.Stream.Input != "" {
		g.Go(func() error { return inject(gctx, s, cfg.Stream.Input, logger) })
	}

	logger.Info("running", zap.String("stream", s.Name()), zap.Stringer("instance", s.ID()))
	return g.Wait()
}

func buildStream(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, reg *controller.Registry) (*stream.Stream, error) {
	f, err := os.Open(cfg.Stream.File)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	desc, err := stream.LoadDescription(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Stream.File, err)
	}
	return stream.Build(ctx, desc, message.Builtin(),
		stream.WithLogger(logger),
		stream.WithMetrics(m),
		stream.WithRegistry(reg),
	)
}

func startStream(ctx context.Context, cfg *config.Config, s *stream.Stream) error {
	state, err := task.ParseProcessingState(cfg.Stream.State)
	if err != nil {
		return err
	}
	if secs := cfg.Stream.TimerSecs; secs > 0 {
		for _, c := range s.Stages() {
			c.SetTimerSecs(secs)
		}
	}
	if cfg.Stream.Record {
		if err := s.Apply(ctx, task.RecordingStateChange{On: true, Path: cfg.Stream.RecordingDir}); err != nil {
			return err
		}
	}
	return s.SetProcessingState(ctx, state)
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// inject feeds the framed messages of path to the stream input.
func inject(ctx context.Context, s *stream.Stream, path string, logger *zap.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	types := message.Builtin()
	r := bufio.NewReader(f)
	var n int
	for ctx.Err() == nil {
		data, err := message.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: message %d: %w", path, n, err)
		}
		msg, err := message.FromWire(types, data)
		if err != nil {
			return fmt.Errorf("%s: message %d: %w", path, n, err)
		}
		if err := s.Inject(msg); err != nil {
			logger.Warn("inject", zap.Int("message", n), zap.Error(err))
		}
		n++
	}
	logger.Info("input done", zap.String("path", path), zap.Int("messages", n))
	return nil
}
