package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/skyguard/geofence/core"
	"github.com/skyguard/geofence/internal/alert"
	"github.com/skyguard/geofence/internal/api"
	"github.com/skyguard/geofence/internal/logging"
	"github.com/skyguard/geofence/internal/observability"
	"github.com/skyguard/geofence/internal/stream"
	"github.com/skyguard/geofence/internal/tracker"
	"github.com/skyguard/geofence/timectrl"
	"github.com/skyguard/geofence/zoneindex"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "geofenced: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, httpLis, grpcLis); err != nil {
		log.Error(ctx, "geofenced exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the engine and serves HTTP on httpLis and gRPC health on
// grpcLis (skipped when nil) until ctx is done or a server fails.
func run(ctx context.Context, cfg Config, log logging.Logger, httpLis, grpcLis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}
	if httpLis == nil {
		return errors.New("http listener is required")
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	collector, err := observability.NewGeofenceCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	index := zoneindex.New(zoneindex.WithClassifier(core.Classifier{HonorAltitudeCeiling: cfg.HonorCeiling}))
	unsubscribe := index.Subscribe(func(ev zoneindex.Event) {
		if ev.Type != zoneindex.EventZonesLoaded {
			return
		}
		collector.SetZoneSnapshot(ev.Version, ev.ZoneCount)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	})
	defer unsubscribe()

	if cfg.ZonesPath != "" {
		zones, err := zoneindex.LoadFile(cfg.ZonesPath)
		if err != nil {
			return fmt.Errorf("load zones: %w", err)
		}
		if err := index.Load(zones); err != nil {
			return fmt.Errorf("load zones from %s: %w", cfg.ZonesPath, err)
		}
		log.Info(ctx, "loaded initial zones",
			logging.String("path", cfg.ZonesPath),
			logging.Int("zones", len(zones)),
		)
	}

	debouncer, err := alert.NewDebouncer(cfg.Policy(), alert.NewMemoryLedger(), alert.WithRecorder(collector))
	if err != nil {
		return fmt.Errorf("debounce policy: %w", err)
	}

	hub := stream.NewHub(stream.WithLogger(log), stream.WithClientGauge(collector))
	trk, err := tracker.New(index, debouncer, hub, timectrl.RealClock{},
		tracker.WithBuffer(cfg.BufferMeters),
		tracker.WithLogger(log),
		tracker.WithMetrics(collector),
	)
	if err != nil {
		return fmt.Errorf("init tracker: %w", err)
	}

	handler, err := api.New(index, trk,
		api.WithLogger(log),
		api.WithMetrics(collector),
		api.WithStream(hub),
		api.WithBase(cfg.Base()),
	)
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hub.Run(runCtx)
	go trk.RunSweeper(runCtx, cfg.SweepInterval)

	errCh := make(chan error, 2)

	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info(ctx, "serving HTTP", logging.String("addr", httpLis.Addr().String()))
	go func() {
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if grpcLis != nil {
		grpcSrv = grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
			grpc.ChainUnaryInterceptor(
				api.RequestIDUnaryServerInterceptor(log),
				api.TracingUnaryServerInterceptor(),
				collector.UnaryServerInterceptor(),
			),
		)
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)
		log.Info(ctx, "serving gRPC health", logging.String("addr", grpcLis.Addr().String()))
		go func() {
			if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down geofenced")
	case runErr = <-errCh:
	}

	healthSrv.Shutdown()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer done()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	return runErr
}
