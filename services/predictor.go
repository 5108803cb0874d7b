package services

import (
	"errors"
	"fmt"
	"math"

	"stockstream/models"
	"github.com/shopspring/decimal"
)

// ErrPredictionUnavailable indicates the predictor cannot produce a value for
// this cycle (insufficient history or algorithm error). The symbol's last
// stored prediction remains authoritative.
var ErrPredictionUnavailable = errors.New("prediction unavailable")

// Predictor produces a forecast value with a confidence score from a
// symbol's recent tick history (ordered oldest to newest).
type Predictor interface {
	Predict(history []models.Tick) (value decimal.Decimal, confidence float64, err error)
}

// MomentumPredictor extrapolates the next price from short- and long-window
// moving averages. Confidence degrades with recent volatility.
type MomentumPredictor struct {
	MinHistory  int
	ShortWindow int
	LongWindow  int
}

// NewMomentumPredictor creates a predictor requiring at least minHistory ticks.
func NewMomentumPredictor(minHistory int) *MomentumPredictor {
	if minHistory < 2 {
		minHistory = 2
	}
	return &MomentumPredictor{
		MinHistory:  minHistory,
		ShortWindow: 5,
		LongWindow:  20,
	}
}

// Predict extrapolates the next price. Fails with ErrPredictionUnavailable
// when fewer than MinHistory ticks are supplied.
func (p *MomentumPredictor) Predict(history []models.Tick) (decimal.Decimal, float64, error) {
	if len(history) < p.MinHistory {
		return decimal.Zero, 0, fmt.Errorf("%w: have %d ticks, need %d",
			ErrPredictionUnavailable, len(history), p.MinHistory)
	}

	shortMA := movingAverage(history, p.ShortWindow)
	longMA := movingAverage(history, p.LongWindow)
	last := history[len(history)-1].Price

	if longMA.IsZero() {
		return decimal.Zero, 0, fmt.Errorf("%w: zero-price history", ErrPredictionUnavailable)
	}

	// Project the short/long momentum one step forward from the last price.
	momentum := shortMA.Sub(longMA).Div(longMA)
	value := last.Mul(decimal.NewFromInt(1).Add(momentum))

	confidence := confidenceFromVolatility(history)
	return value, confidence, nil
}

// movingAverage averages the closing prices of the last n ticks.
func movingAverage(history []models.Tick, n int) decimal.Decimal {
	if n > len(history) {
		n = len(history)
	}
	if n == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, t := range history[len(history)-n:] {
		sum = sum.Add(t.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// confidenceFromVolatility scores confidence as max(0.5, 1 - stddev/mean)
// over the last ten ticks.
func confidenceFromVolatility(history []models.Tick) float64 {
	window := history
	if len(window) > 10 {
		window = window[len(window)-10:]
	}

	var sum, sumSq float64
	for _, t := range window {
		price, _ := t.Price.Float64()
		sum += price
		sumSq += price * price
	}
	n := float64(len(window))
	mean := sum / n
	if mean <= 0 {
		return 0.5
	}
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	stddev := math.Sqrt(variance)

	confidence := 1.0 - stddev/mean
	if confidence < 0.5 {
		confidence = 0.5
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}
