// Command nexaas runs the event-and-job orchestrator core: the tick engine,
// the worker pool, and the ops monitor, wired against a single SQLite store.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Systemsaholic/nexaas/internal/bus"
	"github.com/Systemsaholic/nexaas/internal/config"
	"github.com/Systemsaholic/nexaas/internal/events"
	"github.com/Systemsaholic/nexaas/internal/executors"
	"github.com/Systemsaholic/nexaas/internal/lifecycle"
	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/metrics"
	"github.com/Systemsaholic/nexaas/internal/monitor"
	"github.com/Systemsaholic/nexaas/internal/store"
	"github.com/Systemsaholic/nexaas/internal/workers"
)

func main() {
	envFile := flag.String("env-file", ".env", "path to an optional .env file to preload")
	flag.Parse()

	cfg := config.Load(*envFile)

	logging.InitDefault("nexaas", cfg.LogLevel, cfg.LogFormat)
	log := logging.Default()

	var met *metrics.Metrics
	if cfg.MetricsEnabled {
		met = metrics.Init("nexaas")
	}

	rootCtx := context.Background()

	st, err := store.Open(rootCtx, cfg.DatabasePath)
	if err != nil {
		log.Fatal(rootCtx, "open store", err)
	}
	defer st.Close()

	b := bus.New(st, log, met)
	engine := events.New(st, b, log, met, cfg.EngineTick())
	registry := executors.New(st, b, log, engine)
	pool := workers.New(st, b, log, met, registry, cfg.WorkerPoolSize)

	lc := lifecycle.New(log)
	lc.Register(pool)
	lc.Register(engine)

	if cfg.OpsMonitorEnabled {
		opsMonitor := monitor.New(st, b, log, met, engine, pool, monitor.Config{
			Interval:            cfg.MonitorInterval(),
			StaleJobTimeout:     cfg.StaleJobTimeout(),
			MaxFailedJobsHour:   cfg.OpsMaxFailedJobsHour,
			WebhookURL:          cfg.OpsWebhookURL,
			RestartWindow:       cfg.RestartWindow(),
			MaxRestartsInWindow: cfg.OpsMaxRestartsInWindow,
		})
		lc.Register(opsMonitor)
	}

	if err := lc.Start(rootCtx); err != nil {
		log.Fatal(rootCtx, "start lifecycle", err)
	}
	log.Info("nexaas orchestrator running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := lc.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("lifecycle shutdown encountered errors")
	}
}
