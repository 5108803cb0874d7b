package services

import (
	"sync"
	"testing"
	"time"

	"stockstream/models"
	"github.com/shopspring/decimal"
)

func makeTick(symbol string, price float64) models.Tick {
	return models.Tick{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		Volume:    1000,
		Timestamp: time.Now(),
	}
}

func TestMarketStore_GetBeforeFirstTick(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 10)

	tick, pred, ok := store.Get("AAPL")
	if !ok {
		t.Fatal("Get should succeed for a tracked symbol")
	}
	if tick != nil || pred != nil {
		t.Errorf("expected nil tick and prediction before first cycle, got %v, %v", tick, pred)
	}
}

func TestMarketStore_UntrackedSymbol(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 10)

	if _, _, ok := store.Get("MSFT"); ok {
		t.Error("Get should report untracked symbols")
	}

	// Must not panic, just drop
	store.PutTick(makeTick("MSFT", 100))
	if got := store.History("MSFT"); got != nil {
		t.Errorf("History for untracked symbol = %v, want nil", got)
	}
}

func TestMarketStore_PutTickReplacesLatest(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 10)

	store.PutTick(makeTick("AAPL", 150))
	store.PutTick(makeTick("AAPL", 151.5))

	tick, _, _ := store.Get("AAPL")
	if tick == nil {
		t.Fatal("expected a tick")
	}
	if !tick.Price.Equal(decimal.NewFromFloat(151.5)) {
		t.Errorf("latest price = %s, want 151.5", tick.Price)
	}
}

func TestMarketStore_HistoryRingBuffer(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 3)

	for _, price := range []float64{1, 2, 3, 4, 5} {
		store.PutTick(makeTick("AAPL", price))
	}

	history := store.History("AAPL")
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}

	// Oldest to newest, oldest entries evicted
	want := []float64{3, 4, 5}
	for i, w := range want {
		if !history[i].Price.Equal(decimal.NewFromFloat(w)) {
			t.Errorf("history[%d].Price = %s, want %v", i, history[i].Price, w)
		}
	}
}

func TestMarketStore_HistoryPartialWindow(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 10)

	store.PutTick(makeTick("AAPL", 1))
	store.PutTick(makeTick("AAPL", 2))

	history := store.History("AAPL")
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if !history[0].Price.Equal(decimal.NewFromInt(1)) || !history[1].Price.Equal(decimal.NewFromInt(2)) {
		t.Errorf("history out of order: %s, %s", history[0].Price, history[1].Price)
	}
}

func TestMarketStore_PredictionSuperseded(t *testing.T) {
	store := NewMarketStore([]string{"AAPL"}, 10)

	store.PutPrediction(models.Prediction{Symbol: "AAPL", Value: decimal.NewFromInt(100), Confidence: 0.6, GeneratedAt: time.Now()})
	store.PutPrediction(models.Prediction{Symbol: "AAPL", Value: decimal.NewFromInt(120), Confidence: 0.8, GeneratedAt: time.Now()})

	_, pred, _ := store.Get("AAPL")
	if pred == nil {
		t.Fatal("expected a prediction")
	}
	if !pred.Value.Equal(decimal.NewFromInt(120)) {
		t.Errorf("prediction value = %s, want 120", pred.Value)
	}
}

func TestMarketStore_ConcurrentAccess(t *testing.T) {
	symbols := []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"}
	store := NewMarketStore(symbols, 20)

	var wg sync.WaitGroup
	// One writer per symbol, mutations across symbols commute
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				store.PutTick(makeTick(sym, float64(i)))
				store.PutPrediction(models.Prediction{
					Symbol: sym, Value: decimal.NewFromInt(int64(i)), Confidence: 0.5, GeneratedAt: time.Now(),
				})
			}
		}(sym)
	}

	// Unbounded concurrent readers
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for _, sym := range symbols {
					tick, _, ok := store.Get(sym)
					if !ok {
						t.Error("tracked symbol reported as unknown")
						return
					}
					// Reads observe a complete tick, never a torn mix
					if tick != nil && tick.Symbol != sym {
						t.Errorf("torn read: tick for %s carries symbol %s", sym, tick.Symbol)
						return
					}
					store.History(sym)
				}
			}
		}()
	}

	wg.Wait()

	snapshot := store.Snapshot()
	if len(snapshot) != len(symbols) {
		t.Errorf("snapshot size = %d, want %d", len(snapshot), len(symbols))
	}
}
