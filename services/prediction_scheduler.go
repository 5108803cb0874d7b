package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"stockstream/models"
)

// PredictionConfig holds prediction scheduler configuration.
type PredictionConfig struct {
	Interval time.Duration // cycle period, a multiple of the ingestion period
}

// PredictionScheduler periodically recomputes a forecast per symbol from the
// store's recent-history window and publishes the result. Per-symbol failures
// are isolated; a failing symbol keeps its last stored prediction.
type PredictionScheduler struct {
	cfg         PredictionConfig
	predictor   Predictor
	store       *MarketStore
	broadcaster *Broadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPredictionScheduler wires the prediction loop.
func NewPredictionScheduler(cfg PredictionConfig, predictor Predictor, store *MarketStore, broadcaster *Broadcaster) *PredictionScheduler {
	return &PredictionScheduler{
		cfg:         cfg,
		predictor:   predictor,
		store:       store,
		broadcaster: broadcaster,
	}
}

// Start begins the prediction loop.
func (s *PredictionScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	log.Printf("Prediction scheduler started (interval: %v)", s.cfg.Interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *PredictionScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Println("Prediction scheduler stopped")
}

func (s *PredictionScheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runCycle()
		}
	}
}

// runCycle recomputes the forecast for every tracked symbol.
func (s *PredictionScheduler) runCycle() {
	start := time.Now()
	predicted := 0

	for _, symbol := range s.store.Symbols() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if s.predictSymbol(symbol) {
			predicted++
		}
	}

	if elapsed := time.Since(start); elapsed > s.cfg.Interval {
		log.Printf("Warning: prediction cycle overran its period (%v > %v)", elapsed, s.cfg.Interval)
	} else if predicted > 0 {
		log.Printf("Prediction cycle complete: %d symbols in %v", predicted, elapsed)
	}
}

// predictSymbol runs the predictor for one symbol. Failures are soft: the
// symbol is skipped this cycle and its last stored prediction is never
// cleared.
func (s *PredictionScheduler) predictSymbol(symbol string) bool {
	history := s.store.History(symbol)

	value, confidence, err := s.predictor.Predict(history)
	if err != nil {
		if !errors.Is(err, ErrPredictionUnavailable) {
			log.Printf("Prediction failed for %s: %v", symbol, err)
		}
		return false
	}

	pred := models.Prediction{
		Symbol:      symbol,
		Value:       value,
		Confidence:  confidence,
		GeneratedAt: time.Now(),
	}

	s.store.PutPrediction(pred)
	s.broadcaster.PublishPrediction(pred)
	return true
}
