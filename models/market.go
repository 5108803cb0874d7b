package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents one normalized price observation for a symbol.
// Ticks are immutable once created; only the ingestion path produces them.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Prediction represents one forecasted value for a symbol. A prediction is
// valid until superseded by a later one; it is never mutated in place.
type Prediction struct {
	Symbol      string          `json:"symbol"`
	Value       decimal.Decimal `json:"value"`
	Confidence  float64         `json:"confidence"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Stream event types
const (
	EventTypeTick       = "tick"
	EventTypePrediction = "prediction"
)

// StreamEvent is the JSON envelope delivered to stream subscribers.
type StreamEvent struct {
	Type       string           `json:"type"`
	Symbol     string           `json:"symbol"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Volume     *int64           `json:"volume,omitempty"`
	Value      *decimal.Decimal `json:"value,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// TickEvent builds the stream envelope for a tick.
func TickEvent(t Tick) StreamEvent {
	price := t.Price
	volume := t.Volume
	return StreamEvent{
		Type:      EventTypeTick,
		Symbol:    t.Symbol,
		Price:     &price,
		Volume:    &volume,
		Timestamp: t.Timestamp,
	}
}

// PredictionEvent builds the stream envelope for a prediction.
func PredictionEvent(p Prediction) StreamEvent {
	value := p.Value
	confidence := p.Confidence
	return StreamEvent{
		Type:       EventTypePrediction,
		Symbol:     p.Symbol,
		Value:      &value,
		Confidence: &confidence,
		Timestamp:  p.GeneratedAt,
	}
}

// SymbolState is the read-API view of a symbol: the last known tick and
// prediction. Either pointer may be nil before the first successful cycle.
type SymbolState struct {
	Symbol     string      `json:"symbol"`
	Tick       *Tick       `json:"tick,omitempty"`
	Prediction *Prediction `json:"prediction,omitempty"`
}
