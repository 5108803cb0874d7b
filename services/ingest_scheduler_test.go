package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stockstream/models"
	"github.com/shopspring/decimal"
)

// mockQuoteSource serves canned quotes and scripted failures per symbol.
type mockQuoteSource struct {
	mu       sync.Mutex
	prices   map[string]float64
	failing  map[string]error
	failOnce map[string]error
	calls    map[string]int
}

func newMockQuoteSource() *mockQuoteSource {
	return &mockQuoteSource{
		prices:   make(map[string]float64),
		failing:  make(map[string]error),
		failOnce: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (m *mockQuoteSource) Fetch(ctx context.Context, symbol string) (models.Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[symbol]++
	if err, ok := m.failOnce[symbol]; ok {
		delete(m.failOnce, symbol)
		return models.Tick{}, err
	}
	if err, ok := m.failing[symbol]; ok {
		return models.Tick{}, err
	}
	price, ok := m.prices[symbol]
	if !ok {
		return models.Tick{}, fmt.Errorf("%w: no quote for %s", ErrSourceUnavailable, symbol)
	}
	return models.Tick{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		Volume:    1000,
		Timestamp: time.Now(),
	}, nil
}

func (m *mockQuoteSource) callCount(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[symbol]
}

func newTestIngestScheduler(source QuoteSource, store *MarketStore, b *Broadcaster, alerts *AlertEngine, health HealthSink) *IngestScheduler {
	s := NewIngestScheduler(IngestConfig{
		Interval:         time.Hour, // cycles driven manually in tests
		FetchTimeout:     time.Second,
		RetryDelay:       time.Millisecond,
		FailureThreshold: 3,
	}, source, store, b, alerts, health)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func TestIngestScheduler_PartialFailureIsolation(t *testing.T) {
	symbols := []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"}
	store := NewMarketStore(symbols, 10)
	b := NewBroadcaster(64, 8)
	defer b.Shutdown()
	alerts := NewAlertEngine(&mockNotifier{}, nil)

	source := newMockQuoteSource()
	for i, sym := range symbols {
		source.prices[sym] = float64(100 + i)
	}
	source.failing["TSLA"] = errors.New("connection timed out")

	sub := b.Subscribe(nil)
	waitFor(t, time.Second, func() bool { return b.SubscriberCount() == 1 }, "subscriber registration")

	s := newTestIngestScheduler(source, store, b, alerts, nil)
	defer s.cancel()
	s.runCycle()

	// Four healthy symbols land in the store and on the stream.
	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		event := receiveEvent(t, sub)
		seen[event.Symbol] = true
	}
	for _, sym := range []string{"AAPL", "GOOGL", "MSFT", "AMZN"} {
		if !seen[sym] {
			t.Errorf("no broadcast for healthy symbol %s", sym)
		}
		tick, _, _ := store.Get(sym)
		if tick == nil {
			t.Errorf("no stored tick for healthy symbol %s", sym)
		}
	}

	// The failing symbol never enters the stream and keeps no tick.
	if seen["TSLA"] {
		t.Error("failing symbol was broadcast")
	}
	tick, _, _ := store.Get("TSLA")
	if tick != nil {
		t.Error("failing symbol got a stored tick")
	}
}

func TestIngestScheduler_FailedSymbolRetainsPriorTick(t *testing.T) {
	store := NewMarketStore([]string{"TSLA"}, 10)
	b := NewBroadcaster(64, 8)
	defer b.Shutdown()
	alerts := NewAlertEngine(&mockNotifier{}, nil)

	source := newMockQuoteSource()
	source.prices["TSLA"] = 250

	s := newTestIngestScheduler(source, store, b, alerts, nil)
	defer s.cancel()
	s.runCycle()

	// Source degrades: the stale tick stays readable.
	source.mu.Lock()
	source.failing["TSLA"] = errors.New("rate limited")
	source.mu.Unlock()
	s.runCycle()

	tick, _, _ := store.Get("TSLA")
	if tick == nil {
		t.Fatal("prior tick was cleared by a failed cycle")
	}
	if !tick.Price.Equal(decimal.NewFromInt(250)) {
		t.Errorf("stale tick price = %s, want 250", tick.Price)
	}
}

func TestIngestScheduler_RetriesOnceWithinCycle(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 10)
	b := NewBroadcaster(64, 8)
	defer b.Shutdown()
	alerts := NewAlertEngine(&mockNotifier{}, nil)

	source := newMockQuoteSource()
	source.prices["AAPL"] = 150
	source.failOnce["AAPL"] = errors.New("transient glitch")

	s := newTestIngestScheduler(source, store, b, alerts, nil)
	defer s.cancel()
	s.runCycle()

	if got := source.callCount("AAPL"); got != 2 {
		t.Errorf("fetch calls = %d, want 2 (initial + one retry)", got)
	}
	tick, _, _ := store.Get("AAPL")
	if tick == nil {
		t.Fatal("retry success did not produce a tick")
	}
	if s.FailureCount("AAPL") != 0 {
		t.Errorf("failure count = %d after in-cycle recovery, want 0", s.FailureCount("AAPL"))
	}
}

func TestIngestScheduler_EscalatesAfterConsecutiveFailures(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 10)
	b := NewBroadcaster(64, 8)
	defer b.Shutdown()
	alerts := NewAlertEngine(&mockNotifier{}, nil)

	source := newMockQuoteSource()
	source.failing["AAPL"] = errors.New("hard down")

	var mu sync.Mutex
	var escalations []int
	health := HealthSinkFunc(func(symbol string, consecutive int, err error) {
		mu.Lock()
		defer mu.Unlock()
		escalations = append(escalations, consecutive)
	})

	s := newTestIngestScheduler(source, store, b, alerts, health)
	defer s.cancel()

	for i := 0; i < 4; i++ {
		s.runCycle()
	}

	mu.Lock()
	defer mu.Unlock()
	// Threshold 3: cycles three and four escalate.
	if len(escalations) != 2 {
		t.Fatalf("escalations = %v, want counts [3 4]", escalations)
	}
	if escalations[0] != 3 || escalations[1] != 4 {
		t.Errorf("escalations = %v, want [3 4]", escalations)
	}
	if s.FailureCount("AAPL") != 4 {
		t.Errorf("failure count = %d, want 4", s.FailureCount("AAPL"))
	}
}

func TestIngestScheduler_SuccessResetsFailureCount(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 10)
	b := NewBroadcaster(64, 8)
	defer b.Shutdown()
	alerts := NewAlertEngine(&mockNotifier{}, nil)

	source := newMockQuoteSource()
	source.failing["AAPL"] = errors.New("down")

	s := newTestIngestScheduler(source, store, b, alerts, nil)
	defer s.cancel()

	s.runCycle()
	s.runCycle()
	if s.FailureCount("AAPL") != 2 {
		t.Fatalf("failure count = %d, want 2", s.FailureCount("AAPL"))
	}

	source.mu.Lock()
	delete(source.failing, "AAPL")
	source.prices["AAPL"] = 150
	source.mu.Unlock()
	s.runCycle()

	if s.FailureCount("AAPL") != 0 {
		t.Errorf("failure count = %d after recovery, want 0", s.FailureCount("AAPL"))
	}
}

func TestIngestScheduler_TickFeedsAlertEngine(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 10)
	b := NewBroadcaster(64, 8)
	defer b.Shutdown()

	notifier := &mockNotifier{}
	alerts := NewAlertEngine(notifier, nil)
	if _, err := alerts.Create("AAPL", "user-1", decimal.NewFromInt(150), models.ConditionAbove); err != nil {
		t.Fatalf("Create: %v", err)
	}

	source := newMockQuoteSource()
	source.prices["AAPL"] = 151

	s := newTestIngestScheduler(source, store, b, alerts, nil)
	defer s.cancel()
	s.runCycle()

	if len(notifier.received()) != 1 {
		t.Fatalf("alert notifications = %d, want 1", len(notifier.received()))
	}
	// Store-before-broadcast ordering: the triggering tick is readable.
	tick, _, _ := store.Get("AAPL")
	if tick == nil || !tick.Price.Equal(decimal.NewFromInt(151)) {
		t.Errorf("stored tick = %+v, want price 151", tick)
	}
}
