package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fillwatch/fillwatch/internal/app"
	"github.com/fillwatch/fillwatch/internal/config"
	"github.com/fillwatch/fillwatch/internal/feed"
	"github.com/fillwatch/fillwatch/internal/gmo"
	"github.com/fillwatch/fillwatch/internal/metrics"
	"github.com/fillwatch/fillwatch/internal/pagerduty"
	"github.com/fillwatch/fillwatch/internal/procmon"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	// Missing .env is fine; real environment variables win over it.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	m := metrics.New(prometheus.NewRegistry())

	minter := gmo.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret,
		cfg.Exchange.APIBase, cfg.Exchange.HTTPTimeout)
	sink := pagerduty.NewClient(pagerduty.Options{
		RoutingKey:   cfg.PagerDuty.RoutingKey,
		EventsAPIURL: cfg.PagerDuty.EventsAPIURL,
		Source:       cfg.PagerDuty.Source,
		Severity:     cfg.PagerDuty.Severity,
		DryRun:       cfg.PagerDuty.DryRun,
		Timeout:      cfg.Exchange.HTTPTimeout,
	})

	session := feed.New(minter, sink, m, feed.Options{
		WSBase:              cfg.Exchange.WSBase,
		Channels:            cfg.Exchange.Channels,
		BackoffBase:         cfg.Feed.BackoffBase,
		BackoffMax:          cfg.Feed.BackoffMax,
		Watchdog:            cfg.Feed.Watchdog,
		StabilityReset:      cfg.Feed.StabilityReset,
		TokenExtendInterval: cfg.Exchange.TokenExtendInterval,
		SinkTimeout:         cfg.Exchange.HTTPTimeout,
		Dial:                feed.GorillaDial(cfg.Exchange.HTTPTimeout),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			log.Printf("Metrics listening on %s", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Supervise(ctx, "feed", session.Run)
	}()

	if cfg.Process.Enabled {
		mon := procmon.New(procmon.SystemSnapshotter{}, sink, m, procmon.Options{
			Patterns:      cfg.Process.Patterns,
			CheckInterval: cfg.Process.CheckInterval,
			IdleThreshold: cfg.Process.IdleThreshold,
			SinkTimeout:   cfg.Exchange.HTTPTimeout,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.Supervise(ctx, "procmon", mon.Run)
		}()
	}

	wg.Wait()
}
