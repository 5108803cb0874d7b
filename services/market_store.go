package services

import (
	"log"
	"sync"

	"stockstream/models"
)

// symbolShard holds the live state for one symbol. Each shard has its own
// lock so writes for different symbols never contend.
type symbolShard struct {
	mu         sync.RWMutex
	tick       *models.Tick
	prediction *models.Prediction

	// Ring buffer of recent ticks, oldest evicted on insert once full.
	history []models.Tick
	head    int
	count   int
}

// MarketStore is the live state store: the single shared map from symbol to
// latest tick and latest prediction. The tracked symbol set is fixed at
// construction; writes for unknown symbols are rejected loudly since they
// indicate a programming defect upstream.
type MarketStore struct {
	shards        map[string]*symbolShard
	historyWindow int
}

// NewMarketStore creates a store tracking the given symbols with the given
// per-symbol history window.
func NewMarketStore(symbols []string, historyWindow int) *MarketStore {
	if historyWindow < 1 {
		historyWindow = 1
	}
	shards := make(map[string]*symbolShard, len(symbols))
	for _, sym := range symbols {
		shards[sym] = &symbolShard{
			history: make([]models.Tick, historyWindow),
		}
	}
	return &MarketStore{
		shards:        shards,
		historyWindow: historyWindow,
	}
}

// Symbols returns the tracked symbol set.
func (s *MarketStore) Symbols() []string {
	symbols := make([]string, 0, len(s.shards))
	for sym := range s.shards {
		symbols = append(symbols, sym)
	}
	return symbols
}

// Tracks reports whether the store tracks the given symbol.
func (s *MarketStore) Tracks(symbol string) bool {
	_, ok := s.shards[symbol]
	return ok
}

// PutTick atomically replaces the latest tick for the tick's symbol and
// appends it to the recent-history window.
func (s *MarketStore) PutTick(tick models.Tick) {
	shard, ok := s.shards[tick.Symbol]
	if !ok {
		log.Printf("ERROR: market store received tick for untracked symbol %q, dropping", tick.Symbol)
		return
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	t := tick
	shard.tick = &t

	// Ring buffer insert
	pos := (shard.head + shard.count) % len(shard.history)
	shard.history[pos] = tick
	if shard.count < len(shard.history) {
		shard.count++
	} else {
		shard.head = (shard.head + 1) % len(shard.history)
	}
}

// PutPrediction atomically replaces the latest prediction for the
// prediction's symbol.
func (s *MarketStore) PutPrediction(pred models.Prediction) {
	shard, ok := s.shards[pred.Symbol]
	if !ok {
		log.Printf("ERROR: market store received prediction for untracked symbol %q, dropping", pred.Symbol)
		return
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	p := pred
	shard.prediction = &p
}

// Get returns the latest tick and prediction for a symbol. Either pointer may
// be nil before the first successful cycle. ok is false for untracked symbols.
func (s *MarketStore) Get(symbol string) (tick *models.Tick, pred *models.Prediction, ok bool) {
	shard, found := s.shards[symbol]
	if !found {
		return nil, nil, false
	}

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	if shard.tick != nil {
		t := *shard.tick
		tick = &t
	}
	if shard.prediction != nil {
		p := *shard.prediction
		pred = &p
	}
	return tick, pred, true
}

// History returns the recent ticks for a symbol, oldest to newest, capped at
// the configured window size.
func (s *MarketStore) History(symbol string) []models.Tick {
	shard, ok := s.shards[symbol]
	if !ok {
		return nil
	}

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	out := make([]models.Tick, shard.count)
	for i := 0; i < shard.count; i++ {
		out[i] = shard.history[(shard.head+i)%len(shard.history)]
	}
	return out
}

// Snapshot returns the current state of every tracked symbol.
func (s *MarketStore) Snapshot() map[string]models.SymbolState {
	out := make(map[string]models.SymbolState, len(s.shards))
	for sym := range s.shards {
		tick, pred, _ := s.Get(sym)
		out[sym] = models.SymbolState{
			Symbol:     sym,
			Tick:       tick,
			Prediction: pred,
		}
	}
	return out
}
