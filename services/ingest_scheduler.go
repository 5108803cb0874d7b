package services

import (
	"context"
	"log"
	"sync"
	"time"

	"stockstream/models"
)

// Maximum per-symbol fetch workers running at once within a cycle.
const ingestConcurrency = 8

// HealthSink receives escalated warnings when a symbol keeps failing past the
// configured consecutive-failure threshold.
type HealthSink interface {
	ReportSymbolFailure(symbol string, consecutive int, err error)
}

// HealthSinkFunc is a function adapter for HealthSink.
type HealthSinkFunc func(symbol string, consecutive int, err error)

func (f HealthSinkFunc) ReportSymbolFailure(symbol string, consecutive int, err error) {
	f(symbol, consecutive, err)
}

// IngestConfig holds ingestion scheduler configuration.
type IngestConfig struct {
	Interval         time.Duration // cycle period
	FetchTimeout     time.Duration // per-fetch timeout
	RetryDelay       time.Duration // delay before the single in-cycle retry
	FailureThreshold int           // consecutive failures before escalation
}

// IngestScheduler drives the fixed-period ingestion loop: once per cycle it
// fetches a quote for every tracked symbol, normalizes it into a tick, writes
// it to the store, and publishes it to the broadcaster and alert engine, in
// that order.
type IngestScheduler struct {
	cfg         IngestConfig
	source      QuoteSource
	store       *MarketStore
	broadcaster *Broadcaster
	alerts      *AlertEngine
	health      HealthSink

	// Consecutive failure counts per symbol, touched only from cycle fan-in.
	failMu   sync.Mutex
	failures map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIngestScheduler wires the ingestion loop. health may be nil.
func NewIngestScheduler(cfg IngestConfig, source QuoteSource, store *MarketStore, broadcaster *Broadcaster, alerts *AlertEngine, health HealthSink) *IngestScheduler {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	return &IngestScheduler{
		cfg:         cfg,
		source:      source,
		store:       store,
		broadcaster: broadcaster,
		alerts:      alerts,
		health:      health,
		failures:    make(map[string]int),
	}
}

// Start begins the ingestion loop.
func (s *IngestScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	log.Printf("Ingestion scheduler started (interval: %v, symbols: %d)",
		s.cfg.Interval, len(s.store.Symbols()))
}

// Stop cancels in-flight work and waits for the loop to exit.
func (s *IngestScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Println("Ingestion scheduler stopped")
}

// run is the main ingestion loop. A cycle that overruns its period logs a
// warning; the next cycle follows immediately rather than compounding delay.
func (s *IngestScheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Initial cycle on start.
	s.runCycle()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runCycle()
		}
	}
}

// runCycle fetches every tracked symbol concurrently with bounded
// parallelism and joins before returning.
func (s *IngestScheduler) runCycle() {
	start := time.Now()
	symbols := s.store.Symbols()

	sem := make(chan struct{}, ingestConcurrency)
	var wg sync.WaitGroup

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-s.ctx.Done():
				return
			}

			s.ingestSymbol(symbol)
		}(symbol)
	}

	wg.Wait()

	if elapsed := time.Since(start); elapsed > s.cfg.Interval {
		log.Printf("Warning: ingestion cycle overran its period (%v > %v)", elapsed, s.cfg.Interval)
	}
}

// ingestSymbol fetches one symbol, retrying once within the cycle, and
// publishes the resulting tick. A failure is a soft error: the symbol is
// skipped and its stale tick stays visible in the store.
func (s *IngestScheduler) ingestSymbol(symbol string) {
	tick, err := s.fetchOnce(symbol)
	if err != nil {
		select {
		case <-time.After(s.cfg.RetryDelay):
		case <-s.ctx.Done():
			return
		}
		tick, err = s.fetchOnce(symbol)
	}

	if err != nil {
		s.recordFailure(symbol, err)
		return
	}
	s.recordSuccess(symbol)

	// Store first so a subscriber or alert never observes a tick that is
	// not yet readable from the store.
	s.store.PutTick(tick)
	s.broadcaster.PublishTick(tick)
	s.alerts.Evaluate(tick)
}

func (s *IngestScheduler) fetchOnce(symbol string) (models.Tick, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
	defer cancel()
	return s.source.Fetch(ctx, symbol)
}

func (s *IngestScheduler) recordFailure(symbol string, err error) {
	s.failMu.Lock()
	s.failures[symbol]++
	consecutive := s.failures[symbol]
	s.failMu.Unlock()

	log.Printf("Fetch failed for %s (consecutive: %d): %v", symbol, consecutive, err)

	if consecutive >= s.cfg.FailureThreshold && s.health != nil {
		s.health.ReportSymbolFailure(symbol, consecutive, err)
	}
}

func (s *IngestScheduler) recordSuccess(symbol string) {
	s.failMu.Lock()
	s.failures[symbol] = 0
	s.failMu.Unlock()
}

// FailureCount returns the current consecutive failure count for a symbol.
func (s *IngestScheduler) FailureCount(symbol string) int {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failures[symbol]
}
