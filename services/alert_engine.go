package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"stockstream/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Internal alert states. Kept as an atomic integer so the active->triggered
// transition is a compare-and-swap, never a read-then-write race.
const (
	alertActive int32 = iota
	alertTriggered
	alertRemoved
)

// ErrAlertNotFound is returned when no alert matches a lookup.
var ErrAlertNotFound = errors.New("alert not found")

// Notifier delivers triggered-alert notifications. Delivery failure is the
// dispatcher's concern; the engine never re-emits.
type Notifier interface {
	Notify(n models.Notification) error
}

// alertEntry pairs an alert with its atomic status.
type alertEntry struct {
	alert  models.Alert
	status atomic.Int32
}

func (e *alertEntry) statusString() string {
	switch e.status.Load() {
	case alertTriggered:
		return models.AlertStatusTriggered
	case alertRemoved:
		return models.AlertStatusRemoved
	default:
		return models.AlertStatusActive
	}
}

// AlertEngine owns the alert registry. Every incoming tick is evaluated
// against the active alerts for its symbol; a matching alert transitions
// active->triggered exactly once and emits exactly one notification.
type AlertEngine struct {
	mu       sync.RWMutex
	bySymbol map[string][]*alertEntry
	nextID   atomic.Uint64

	notifier Notifier
	db       *gorm.DB
}

// NewAlertEngine creates an alert engine dispatching through the given
// notifier. db may be nil; when set, alerts and notifications are persisted.
func NewAlertEngine(notifier Notifier, db *gorm.DB) *AlertEngine {
	return &AlertEngine{
		bySymbol: make(map[string][]*alertEntry),
		notifier: notifier,
		db:       db,
	}
}

// LoadFromDB restores persisted active alerts into the registry on startup.
func (e *AlertEngine) LoadFromDB() error {
	if e.db == nil {
		return nil
	}

	var alerts []models.Alert
	if err := e.db.Where("status = ?", models.AlertStatusActive).Find(&alerts).Error; err != nil {
		return fmt.Errorf("failed to load alerts: %w", err)
	}

	e.mu.Lock()
	for _, alert := range alerts {
		entry := &alertEntry{alert: alert}
		e.bySymbol[alert.Symbol] = append(e.bySymbol[alert.Symbol], entry)
	}
	e.mu.Unlock()

	if len(alerts) > 0 {
		log.Printf("Restored %d active alerts from database", len(alerts))
	}
	return nil
}

// Create registers a new active alert and returns it.
func (e *AlertEngine) Create(symbol, userID string, targetPrice decimal.Decimal, condition string) (models.Alert, error) {
	if !models.ValidCondition(condition) {
		return models.Alert{}, fmt.Errorf("invalid condition %q", condition)
	}
	if !targetPrice.IsPositive() {
		return models.Alert{}, fmt.Errorf("target price must be positive")
	}

	alert := models.Alert{
		ID:          uint(e.nextID.Add(1)),
		Symbol:      symbol,
		UserID:      userID,
		TargetPrice: targetPrice,
		Condition:   condition,
		Status:      models.AlertStatusActive,
		CreatedAt:   time.Now(),
	}

	if e.db != nil {
		record := alert
		record.ID = 0
		if err := e.db.Create(&record).Error; err != nil {
			log.Printf("Warning: failed to persist alert for %s: %v", symbol, err)
		} else {
			alert.ID = record.ID
		}
	}

	entry := &alertEntry{alert: alert}

	e.mu.Lock()
	e.bySymbol[symbol] = append(e.bySymbol[symbol], entry)
	e.mu.Unlock()

	log.Printf("Alert created: %s %s %s for user %s", symbol, condition, targetPrice.String(), userID)
	return alert, nil
}

// ListByUser returns all non-removed alerts for a user.
func (e *AlertEngine) ListByUser(userID string) []models.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []models.Alert
	for _, entries := range e.bySymbol {
		for _, entry := range entries {
			if entry.alert.UserID != userID {
				continue
			}
			if entry.status.Load() == alertRemoved {
				continue
			}
			a := entry.alert
			a.Status = entry.statusString()
			out = append(out, a)
		}
	}
	return out
}

// Remove marks every alert for the symbol/user pair as removed, at any
// status. A removed alert is permanently inert. Returns how many alerts were
// removed.
func (e *AlertEngine) Remove(symbol, userID string) (int, error) {
	e.mu.RLock()
	entries := e.bySymbol[symbol]
	e.mu.RUnlock()

	removed := 0
	for _, entry := range entries {
		if entry.alert.UserID != userID {
			continue
		}
		prev := entry.status.Swap(alertRemoved)
		if prev != alertRemoved {
			removed++
			if e.db != nil && entry.alert.ID != 0 {
				// A lost status write would resurrect this alert as active
				// on the next LoadFromDB.
				if err := e.db.Model(&models.Alert{}).Where("id = ?", entry.alert.ID).
					Update("status", models.AlertStatusRemoved).Error; err != nil {
					log.Printf("Warning: failed to persist removal of alert %d: %v", entry.alert.ID, err)
				}
			}
		}
	}

	if removed == 0 {
		return 0, ErrAlertNotFound
	}
	log.Printf("Removed %d alerts for %s (user %s)", removed, symbol, userID)
	return removed, nil
}

// Evaluate checks every active alert for the tick's symbol. Each matching
// alert fires at most once: the atomic active->triggered swap is the
// de-duplication mechanism and holds under concurrent evaluation.
func (e *AlertEngine) Evaluate(tick models.Tick) {
	e.mu.RLock()
	entries := e.bySymbol[tick.Symbol]
	e.mu.RUnlock()

	for _, entry := range entries {
		if entry.status.Load() != alertActive {
			continue
		}
		if !conditionMet(entry.alert.Condition, tick.Price, entry.alert.TargetPrice) {
			continue
		}
		if !entry.status.CompareAndSwap(alertActive, alertTriggered) {
			// Lost the race to a concurrent evaluation or a removal.
			continue
		}
		e.fire(entry, tick)
	}
}

// fire emits the single notification for a freshly triggered alert.
func (e *AlertEngine) fire(entry *alertEntry, tick models.Tick) {
	now := time.Now()
	notification := models.Notification{
		AlertID:        entry.alert.ID,
		Symbol:         entry.alert.Symbol,
		UserID:         entry.alert.UserID,
		TargetPrice:    entry.alert.TargetPrice,
		Condition:      entry.alert.Condition,
		TriggeredPrice: tick.Price,
		TriggeredAt:    now,
	}

	log.Printf("Alert triggered: %s %s %s at %s (user %s)",
		entry.alert.Symbol, entry.alert.Condition,
		entry.alert.TargetPrice.String(), tick.Price.String(), entry.alert.UserID)

	if e.db != nil {
		if err := e.db.Create(&notification).Error; err != nil {
			log.Printf("Warning: failed to persist notification: %v", err)
		}
		if entry.alert.ID != 0 {
			// A lost status write would resurrect this alert as active on
			// the next LoadFromDB and let it fire a second time.
			if err := e.db.Model(&models.Alert{}).Where("id = ?", entry.alert.ID).
				Updates(map[string]interface{}{
					"status":       models.AlertStatusTriggered,
					"triggered_at": now,
				}).Error; err != nil {
				log.Printf("Warning: failed to persist trigger of alert %d: %v", entry.alert.ID, err)
			}
		}
	}

	if e.notifier != nil {
		// At-most-once: a dispatch failure is logged, never retried.
		if err := e.notifier.Notify(notification); err != nil {
			log.Printf("Notification dispatch failed for alert %d: %v", entry.alert.ID, err)
		}
	}
}

// conditionMet applies the alert evaluation rule.
func conditionMet(condition string, price, target decimal.Decimal) bool {
	switch condition {
	case models.ConditionAbove:
		return price.GreaterThanOrEqual(target)
	case models.ConditionBelow:
		return price.LessThanOrEqual(target)
	default:
		return false
	}
}

// ActiveCount returns the number of active alerts across all symbols.
func (e *AlertEngine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, entries := range e.bySymbol {
		for _, entry := range entries {
			if entry.status.Load() == alertActive {
				count++
			}
		}
	}
	return count
}
