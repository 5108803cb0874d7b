package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Alert conditions
const (
	ConditionAbove = "above"
	ConditionBelow = "below"
)

// Alert statuses. A triggered or removed alert is terminal: re-arming
// requires creating a new alert.
const (
	AlertStatusActive    = "active"
	AlertStatusTriggered = "triggered"
	AlertStatusRemoved   = "removed"
)

// Alert represents a standing user-defined price threshold watch on a symbol.
type Alert struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Symbol      string          `gorm:"index:idx_alert_symbol_user" json:"symbol"`
	UserID      string          `gorm:"index:idx_alert_symbol_user" json:"user_id"`
	TargetPrice decimal.Decimal `gorm:"type:decimal(15,4)" json:"target_price"`
	Condition   string          `json:"condition"` // above, below
	Status      string          `gorm:"default:'active'" json:"status"`
	TriggeredAt *time.Time      `json:"triggered_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ValidCondition reports whether c is a supported alert condition.
func ValidCondition(c string) bool {
	return c == ConditionAbove || c == ConditionBelow
}

// Notification is the record emitted when an alert fires. Delivery is the
// dispatcher's concern; the engine emits each notification at most once.
type Notification struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	AlertID        uint            `gorm:"index" json:"alert_id"`
	Symbol         string          `json:"symbol"`
	UserID         string          `json:"user_id"`
	TargetPrice    decimal.Decimal `gorm:"type:decimal(15,4)" json:"target_price"`
	Condition      string          `json:"condition"`
	TriggeredPrice decimal.Decimal `gorm:"type:decimal(15,4)" json:"triggered_price"`
	TriggeredAt    time.Time       `json:"triggered_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MigrateAlertModels runs database migrations for alert-related models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Alert{},
		&Notification{},
	)
}
