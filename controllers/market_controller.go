package controllers

import (
	"net/http"
	"strings"

	"stockstream/services"
	"github.com/gin-gonic/gin"
)

// MarketController serves the read API over the live state store. Reads are
// stale-tolerant: a symbol whose fetches are failing still returns its last
// known tick and prediction with their original timestamps, never an error.
type MarketController struct {
	store       *services.MarketStore
	broadcaster *services.Broadcaster
	ingest      *services.IngestScheduler
}

// NewMarketController creates a new market controller
func NewMarketController(store *services.MarketStore, broadcaster *services.Broadcaster, ingest *services.IngestScheduler) *MarketController {
	return &MarketController{
		store:       store,
		broadcaster: broadcaster,
		ingest:      ingest,
	}
}

// GetCurrentState returns the latest tick and prediction for every tracked
// symbol
// GET /api/v1/market/state
func (mc *MarketController) GetCurrentState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": mc.store.Snapshot(),
	})
}

// GetSymbolState returns the latest state for one symbol
// GET /api/v1/market/state/:symbol
func (mc *MarketController) GetSymbolState(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	tick, pred, ok := mc.store.Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Symbol not tracked"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":     symbol,
		"tick":       tick,
		"prediction": pred,
	})
}

// GetHistory returns the recent tick window for a symbol, oldest to newest
// GET /api/v1/market/history/:symbol
func (mc *MarketController) GetHistory(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	if !mc.store.Tracks(symbol) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Symbol not tracked"})
		return
	}

	history := mc.store.History(symbol)
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"count":  len(history),
		"data":   history,
	})
}

// GetPredictions returns the latest prediction per symbol
// GET /api/v1/market/predictions
func (mc *MarketController) GetPredictions(c *gin.Context) {
	snapshot := mc.store.Snapshot()

	predictions := make([]interface{}, 0, len(snapshot))
	for _, state := range snapshot {
		if state.Prediction != nil {
			predictions = append(predictions, state.Prediction)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"predictions": predictions,
	})
}

// GetStreamStatus returns engine status info
// GET /api/v1/market/status
func (mc *MarketController) GetStreamStatus(c *gin.Context) {
	failures := gin.H{}
	for _, symbol := range mc.store.Symbols() {
		if n := mc.ingest.FailureCount(symbol); n > 0 {
			failures[symbol] = n
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"subscribers":          mc.broadcaster.SubscriberCount(),
		"tracked_symbols":      len(mc.store.Symbols()),
		"consecutive_failures": failures,
	})
}
