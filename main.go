package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hedgeproxy/config"
	"hedgeproxy/internal/keepalive"
	"hedgeproxy/internal/metrics"
	ratemetrics "hedgeproxy/internal/metrics/rate"
	"hedgeproxy/internal/proxy"
	"hedgeproxy/internal/upstream"
	"hedgeproxy/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Service.Name,
		"version":     cfg.Service.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting hedgeproxy")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		metrics.StartReport(ctx, log, 30*time.Second)
	}

	opts := upstream.OptionsFromConfig(cfg)
	opts.Log = log
	client := upstream.New(opts)

	if cfg.Binance.ProbeWeight {
		probeCtx, probeCancel := context.WithTimeout(ctx, cfg.UpstreamTimeout())
		if limit, err := ratemetrics.FetchRequestWeightLimit(probeCtx, client.FuturesSDK()); err == nil {
			log.WithComponent("main").WithFields(logger.Fields{"request_weight_limit": limit}).Info("binance futures weight limit")
		} else {
			log.WithComponent("main").WithError(err).Warn("failed to fetch request weight limit")
		}
		probeCancel()
	}

	server, err := proxy.NewServer(cfg, client, log)
	if err != nil {
		log.WithError(err).Error("failed to create proxy server")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			serverErr <- err
		}
	}()

	var pinger *keepalive.Pinger
	if cfg.KeepAlive.Enabled {
		pkOpts := keepalive.OptionsFromConfig(cfg)
		pkOpts.Log = log
		pinger = keepalive.New(pkOpts)
		pinger.Start(ctx)
	} else {
		log.WithComponent("main").Info("keep-alive disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		log.WithError(err).Error("proxy server failed")
		exitCode = 1
	}

	log.Info("starting graceful shutdown")
	cancel()

	if pinger != nil {
		pinger.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("hedgeproxy stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
