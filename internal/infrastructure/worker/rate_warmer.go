package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateCache is the part of the exchange converter the warmer drives
type RateCache interface {
	Warm(ctx context.Context, base string) error
}

// RateWarmerConfig holds configuration for the rate warmer
type RateWarmerConfig struct {
	Interval   time.Duration
	Currencies []string
	Timeout    time.Duration
}

// DefaultRateWarmerConfig returns default configuration
func DefaultRateWarmerConfig() RateWarmerConfig {
	return RateWarmerConfig{
		Interval:   30 * time.Minute,
		Currencies: []string{"USD", "EUR", "GBP"},
		Timeout:    15 * time.Second,
	}
}

// RateWarmer refreshes exchange rate tables ahead of report requests
type RateWarmer struct {
	config RateWarmerConfig
	cache  RateCache
	logger *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	runs      int
	failures  int
}

// NewRateWarmer creates a new rate warmer
func NewRateWarmer(config RateWarmerConfig, cache RateCache, logger *zap.Logger) *RateWarmer {
	if config.Interval <= 0 {
		config.Interval = DefaultRateWarmerConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRateWarmerConfig().Timeout
	}
	return &RateWarmer{
		config: config,
		cache:  cache,
		logger: logger,
	}
}

// Start warms the cache once and then on every tick
func (w *RateWarmer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("rate warmer already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("RateWarmer started",
		zap.Duration("interval", w.config.Interval),
		zap.Strings("currencies", w.config.Currencies))

	go w.loop(runCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for it to exit
func (w *RateWarmer) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	runs, failures := w.Stats()
	w.logger.Info("RateWarmer stopped", zap.Int("runs", runs), zap.Int("failures", failures))
	return nil
}

// Name returns the worker name for identification
func (w *RateWarmer) Name() string {
	return "RateWarmer"
}

// Stats returns the number of warm passes and failed currency fetches
func (w *RateWarmer) Stats() (runs, failures int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runs, w.failures
}

func (w *RateWarmer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.warmAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.warmAll(ctx)
		}
	}
}

func (w *RateWarmer) warmAll(ctx context.Context) {
	failed := 0
	for _, base := range w.config.Currencies {
		if ctx.Err() != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
		err := w.cache.Warm(callCtx, base)
		cancel()
		if err != nil {
			failed++
			w.logger.Warn("Failed to warm exchange rates",
				zap.String("base", base),
				zap.Error(err))
		}
	}

	w.mu.Lock()
	w.runs++
	w.failures += failed
	w.mu.Unlock()
}
