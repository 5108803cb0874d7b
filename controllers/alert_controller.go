package controllers

import (
	"errors"
	"net/http"
	"strings"

	"stockstream/middleware"
	"stockstream/models"
	"stockstream/services"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AlertController handles alert CRUD requests. All mutation goes through the
// alert engine's contract; the controller never touches alert state directly.
type AlertController struct {
	engine *services.AlertEngine
	store  *services.MarketStore
}

// NewAlertController creates a new alert controller
func NewAlertController(engine *services.AlertEngine, store *services.MarketStore) *AlertController {
	return &AlertController{
		engine: engine,
		store:  store,
	}
}

// CreateAlertRequest is the payload for creating an alert
type CreateAlertRequest struct {
	Symbol      string          `json:"symbol" binding:"required"`
	TargetPrice decimal.Decimal `json:"target_price" binding:"required"`
	Condition   string          `json:"condition" binding:"required"`
}

// CreateAlert creates a new price alert for the authenticated user
// POST /api/v1/alerts
func (ac *AlertController) CreateAlert(c *gin.Context) {
	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	condition := strings.ToLower(strings.TrimSpace(req.Condition))

	if !ac.store.Tracks(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Symbol not tracked"})
		return
	}
	if !models.ValidCondition(condition) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Condition must be 'above' or 'below'"})
		return
	}

	userID := middleware.CurrentUserID(c)
	alert, err := ac.engine.Create(symbol, userID, req.TargetPrice, condition)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Alert created successfully",
		"alert":   alert,
	})
}

// ListAlerts returns the authenticated user's alerts
// GET /api/v1/alerts
func (ac *AlertController) ListAlerts(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	alerts := ac.engine.ListByUser(userID)
	if alerts == nil {
		alerts = []models.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// RemoveAlert removes the user's alerts for a symbol
// DELETE /api/v1/alerts/:symbol
func (ac *AlertController) RemoveAlert(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	userID := middleware.CurrentUserID(c)

	removed, err := ac.engine.Remove(symbol, userID)
	if err != nil {
		if errors.Is(err, services.ErrAlertNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No alerts found to remove"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Alerts removed",
		"removed": removed,
	})
}
