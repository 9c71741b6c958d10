package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/volundmush/mudsnake/internal/adapter/handler"
	"github.com/volundmush/mudsnake/internal/adapter/notify"
	"github.com/volundmush/mudsnake/internal/config"
	"github.com/volundmush/mudsnake/internal/core/schema"
	"github.com/volundmush/mudsnake/internal/core/service"
	"github.com/volundmush/mudsnake/internal/telemetry"
)

const serviceName = "mudsnake-inventory"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log, err := telemetry.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("build logger: %v", err)
	}
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("flush traces")
		}
	}()

	registry, err := schema.LoadFile(cfg.SchemaPath)
	if err != nil {
		return err
	}
	log.WithField("path", cfg.SchemaPath).Info("loaded schema")

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close(log)
	log.WithField("store", cfg.Store).Info("storage ready")

	emitter := service.NewEmitter(log, cfg.EventQueueSize, service.WithDeliveryTimeout(cfg.EventTimeout))
	hub := notify.NewHub(log)
	emitter.Subscribe(notify.NewLogListener(log))
	emitter.Subscribe(hub)
	if backend.redis != nil {
		emitter.Subscribe(notify.NewRedisPublisher(backend.redis, notify.DefaultChannel))
	}

	svc := service.NewInventoryService(service.Deps{
		Registry:    registry,
		Store:       backend.store,
		Idempotency: backend.idem,
		Emitter:     emitter,
		Logger:      log,
	},
		service.WithDefaultLockTimeout(cfg.LockTimeout),
		service.WithMaxTries(cfg.MaxRetries),
		service.WithCacheSize(cfg.CacheSize),
	)

	grpcServer := grpc.NewServer()
	healthServer := handler.NewGRPCHandler(svc, log).Register(grpcServer)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(handler.NewHTTPHandler(svc, log), hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		log.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP shutdown")
		}
		grpcServer.GracefulStop()
		hub.Close()
		emitter.Close()
		log.Info("servers stopped")
		return nil
	})
	return g.Wait()
}
