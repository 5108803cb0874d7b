package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockstream/models"
	"stockstream/services"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func newMarketRouter(t *testing.T) (*gin.Engine, *services.MarketStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := services.NewMarketStore([]string{"AAPL", "MSFT"}, 10)
	broadcaster := services.NewBroadcaster(16, 8)
	t.Cleanup(broadcaster.Shutdown)
	alerts := services.NewAlertEngine(services.NewTelegramNotifier("", ""), nil)
	ingest := services.NewIngestScheduler(services.IngestConfig{
		Interval:     time.Hour,
		FetchTimeout: time.Second,
	}, nil, store, broadcaster, alerts, nil)

	mc := NewMarketController(store, broadcaster, ingest)

	router := gin.New()
	router.GET("/api/v1/market/state", mc.GetCurrentState)
	router.GET("/api/v1/market/state/:symbol", mc.GetSymbolState)
	router.GET("/api/v1/market/history/:symbol", mc.GetHistory)
	router.GET("/api/v1/market/predictions", mc.GetPredictions)
	router.GET("/api/v1/market/status", mc.GetStreamStatus)
	return router, store
}

func doRequest(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestGetSymbolState(t *testing.T) {
	router, store := newMarketRouter(t)

	store.PutTick(models.Tick{
		Symbol:    "AAPL",
		Price:     decimal.NewFromFloat(150.25),
		Volume:    1000,
		Timestamp: time.Now(),
	})

	w := doRequest(t, router, "/api/v1/market/state/aapl")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Symbol string       `json:"symbol"`
		Tick   *models.Tick `json:"tick"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// Symbol lookup is case-insensitive
	if body.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want AAPL", body.Symbol)
	}
	if body.Tick == nil || !body.Tick.Price.Equal(decimal.NewFromFloat(150.25)) {
		t.Errorf("tick = %+v, want price 150.25", body.Tick)
	}
}

func TestGetSymbolState_NullBeforeFirstTick(t *testing.T) {
	router, _ := newMarketRouter(t)

	w := doRequest(t, router, "/api/v1/market/state/MSFT")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(body["tick"]) != "null" {
		t.Errorf("tick before first cycle = %s, want null", body["tick"])
	}
}

func TestGetSymbolState_Untracked(t *testing.T) {
	router, _ := newMarketRouter(t)

	w := doRequest(t, router, "/api/v1/market/state/DOGE")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetHistory(t *testing.T) {
	router, store := newMarketRouter(t)

	for _, price := range []float64{1, 2, 3} {
		store.PutTick(models.Tick{
			Symbol: "AAPL", Price: decimal.NewFromFloat(price), Volume: 10, Timestamp: time.Now(),
		})
	}

	w := doRequest(t, router, "/api/v1/market/history/AAPL")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Count int           `json:"count"`
		Data  []models.Tick `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 3 || len(body.Data) != 3 {
		t.Fatalf("count = %d, data = %d, want 3", body.Count, len(body.Data))
	}
	if !body.Data[0].Price.Equal(decimal.NewFromInt(1)) {
		t.Errorf("history[0] = %s, want oldest first", body.Data[0].Price)
	}
}

func TestGetCurrentState(t *testing.T) {
	router, store := newMarketRouter(t)

	store.PutTick(models.Tick{Symbol: "AAPL", Price: decimal.NewFromInt(150), Volume: 10, Timestamp: time.Now()})

	w := doRequest(t, router, "/api/v1/market/state")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Data map[string]models.SymbolState `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(body.Data))
	}
	if body.Data["AAPL"].Tick == nil {
		t.Error("AAPL tick missing from snapshot")
	}
	if body.Data["MSFT"].Tick != nil {
		t.Error("MSFT tick should still be null")
	}
}

func TestGetStreamStatus(t *testing.T) {
	router, _ := newMarketRouter(t)

	w := doRequest(t, router, "/api/v1/market/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Subscribers    int `json:"subscribers"`
		TrackedSymbols int `json:"tracked_symbols"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Subscribers != 0 {
		t.Errorf("subscribers = %d, want 0", body.Subscribers)
	}
	if body.TrackedSymbols != 2 {
		t.Errorf("tracked_symbols = %d, want 2", body.TrackedSymbols)
	}
}
