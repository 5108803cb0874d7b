package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stockstream/models"
	"github.com/shopspring/decimal"
)

// ErrSourceUnavailable indicates the quote source failed or rate-limited the
// request. The affected symbol is skipped for the cycle and its stale tick
// stays visible.
var ErrSourceUnavailable = errors.New("quote source unavailable")

// QuoteSource supplies raw price samples for a symbol. Implementations may
// fail or rate-limit; callers must tolerate per-symbol errors.
type QuoteSource interface {
	Fetch(ctx context.Context, symbol string) (models.Tick, error)
}

// AlphaVantageSource fetches quotes from the Alpha Vantage GLOBAL_QUOTE API.
type AlphaVantageSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAlphaVantageSource creates a quote source against the given base URL.
func NewAlphaVantageSource(baseURL, apiKey string, timeout time.Duration) *AlphaVantageSource {
	return &AlphaVantageSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// globalQuoteResponse represents the Alpha Vantage GLOBAL_QUOTE payload
type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
		Volume string `json:"06. volume"`
	} `json:"Global Quote"`
	Note string `json:"Note"`
}

// Fetch retrieves the current quote for a symbol and normalizes it into a Tick.
func (s *AlphaVantageSource) Fetch(ctx context.Context, symbol string) (models.Tick, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return models.Tick{}, fmt.Errorf("build quote request for %s: %w", symbol, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return models.Tick{}, fmt.Errorf("%w: fetch %s: %v", ErrSourceUnavailable, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return models.Tick{}, fmt.Errorf("%w: rate limited fetching %s", ErrSourceUnavailable, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Tick{}, fmt.Errorf("%w: fetch %s: status %d", ErrSourceUnavailable, symbol, resp.StatusCode)
	}

	var payload globalQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.Tick{}, fmt.Errorf("decode quote for %s: %w", symbol, err)
	}

	// Alpha Vantage signals throttling with a 200 response carrying a "Note"
	if payload.Note != "" {
		return models.Tick{}, fmt.Errorf("%w: rate limited fetching %s", ErrSourceUnavailable, symbol)
	}
	if payload.GlobalQuote.Price == "" {
		return models.Tick{}, fmt.Errorf("%w: empty quote for %s", ErrSourceUnavailable, symbol)
	}

	price, err := decimal.NewFromString(strings.TrimSpace(payload.GlobalQuote.Price))
	if err != nil {
		return models.Tick{}, fmt.Errorf("malformed price %q for %s: %w", payload.GlobalQuote.Price, symbol, err)
	}
	volume, err := strconv.ParseInt(strings.TrimSpace(payload.GlobalQuote.Volume), 10, 64)
	if err != nil {
		volume = 0
	}
	if volume < 0 {
		return models.Tick{}, fmt.Errorf("malformed volume %d for %s", volume, symbol)
	}

	return models.Tick{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.Now(),
	}, nil
}
