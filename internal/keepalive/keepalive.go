// Package keepalive periodically requests the service's own public URL so
// hosting platforms that idle inactive instances keep it running.
package keepalive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"hedgeproxy/config"
	"hedgeproxy/internal/metrics"
	"hedgeproxy/logger"
)

// Options configures a Pinger.
type Options struct {
	URL        string
	Interval   time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
	Clock      clock.Clock
	Log        *logger.Log
}

// OptionsFromConfig maps the keep_alive section of the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:      cfg.KeepAlive.SelfPingURL,
		Interval: cfg.PingInterval(),
		Timeout:  cfg.PingTimeout(),
	}
}

// Pinger issues a GET against URL every Interval. Failures are logged and
// never surface to callers.
type Pinger struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	clock    clock.Clock
	log      *logger.Log

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New returns a pinger for opts.
func New(opts Options) *Pinger {
	p := &Pinger{
		url:      opts.URL,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		client:   opts.HTTPClient,
		clock:    opts.Clock,
		log:      opts.Log,
	}
	if p.interval <= 0 {
		p.interval = time.Duration(config.DefaultPingIntervalMs) * time.Millisecond
	}
	if p.timeout <= 0 {
		p.timeout = time.Duration(config.DefaultPingTimeoutMs) * time.Millisecond
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.log == nil {
		p.log = logger.GetLogger()
	}
	return p
}

// Start launches the ping loop. It returns false when no URL is configured
// or the loop is already running.
func (p *Pinger) Start(ctx context.Context) bool {
	log := p.log.WithComponent("keepalive")
	if p.url == "" {
		log.Info("self ping url not set; keep-alive disabled")
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ticker := p.clock.Ticker(p.interval)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	log.WithFields(logger.Fields{
		"url":      p.url,
		"interval": p.interval.String(),
	}).Info("keep-alive started")

	go p.run(loopCtx, ticker, p.done)
	return true
}

func (p *Pinger) run(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Ping(ctx); err != nil && ctx.Err() == nil {
				p.log.WithComponent("keepalive").WithError(err).Warn("self ping failed")
			}
		}
	}
}

// Stop ends the ping loop and waits for an in-flight ping to finish.
func (p *Pinger) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	<-done
	p.log.WithComponent("keepalive").Info("keep-alive stopped")
}

// Ping performs a single GET bounded by the ping timeout. Any HTTP status
// counts as success; only transport failures are errors.
func (p *Pinger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.EmitMetric(p.log, "keepalive", "self_ping_failures", int64(1), "counter", nil)
		return fmt.Errorf("self ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	p.log.WithComponent("keepalive").WithFields(logger.Fields{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("self ping")
	return nil
}
