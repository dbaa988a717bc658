package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_connect/internal/config"
	"github.com/austindbirch/harbor_connect/internal/connector"
	"github.com/austindbirch/harbor_connect/internal/health"
	"github.com/austindbirch/harbor_connect/internal/logging"
	"github.com/austindbirch/harbor_connect/internal/metrics"
	"github.com/austindbirch/harbor_connect/internal/queue"
	"github.com/austindbirch/harbor_connect/internal/toggle"
	"github.com/austindbirch/harbor_connect/internal/tracing"
)

const (
	backlogInterval = 10 * time.Second
	// handoffGrace bounds how long stopping waits for messages still queued
	// for a worker; after it they are requeued.
	handoffGrace = 30 * time.Second
)

func serviceName(cfg config.Connector) string {
	return "harborconnect-connector-" + cfg.Name
}

// newMux serves the health and metrics endpoints.
func newMux(reg *prometheus.Registry, checks map[string]health.Pinger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(checks))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	name := serviceName(cfg.Connector)
	logger := logging.New(name)

	shutdown, err := tracing.InitTracing(ctx, tracing.Options{
		ServiceName:    name,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	toggle.LogStartup(logger, toggle.NewRegistry(toggle.NewStaticSource(nil)), cfg.Settings())

	producer, err := queue.NewProducer(cfg.NSQ, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()

	pipeline, err := connector.New(cfg.Connector, queue.NewSink(producer, cfg.NSQ), logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("connector setup failed")
	}

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// HTTP health/metrics
	mux := newMux(reg, map[string]health.Pinger{
		"nsqd": health.PingFunc(func(context.Context) error { return producer.Ping() }),
	})
	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("connector HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("connector HTTP server failed")
		}
	}()

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	handoffCtx, stopHandoff := context.WithCancel(ctx)
	defer stopHandoff()

	events := make(chan connector.Event)
	done := make(chan struct{})
	go func() {
		pipeline.Run(runCtx, events)
		close(done)
	}()

	backlog := queue.NewBacklogMonitor(cfg.NSQ, backlogInterval, logger)
	go backlog.Run(runCtx)

	consumer, err := queue.NewConsumer(cfg.NSQ, queue.NewHandler(handoffCtx, pipeline.RouteID(), events, logger), logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	if err := queue.Connect(consumer, cfg.NSQ); err != nil {
		logger.Plain().WithError(err).Fatal("nsq connect failed")
	}

	logger.Plain().WithRoute(pipeline.RouteID()).Info("connector service started")

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down connector service")
	grace := time.AfterFunc(handoffGrace, stopHandoff)
	consumer.Stop()
	<-consumer.StopChan
	grace.Stop()

	stopRun()
	<-done

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("connector service stopped")
}
