package services

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"stockstream/models"
)

// TelegramNotifier delivers alert notifications and market summaries through
// the Telegram bot API. With no token configured it degrades to a logging
// no-op so the engine can run without credentials.
type TelegramNotifier struct {
	token      string
	chatID     string
	httpClient *http.Client
}

// NewTelegramNotifier creates a notifier. token and chatID may be empty.
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify sends a triggered-alert message. At-most-once: callers never retry.
func (t *TelegramNotifier) Notify(n models.Notification) error {
	message := fmt.Sprintf(
		"*PRICE ALERT TRIGGERED*\n\nSymbol: %s\nTarget Price: $%s\nCurrent Price: $%s\nCondition: %s\nTime: %s",
		n.Symbol,
		n.TargetPrice.StringFixed(2),
		n.TriggeredPrice.StringFixed(2),
		strings.ToUpper(n.Condition),
		n.TriggeredAt.Format("2006-01-02 15:04:05"),
	)
	return t.sendMessage(message)
}

// SendMarketSummary sends the latest predictions as a digest message.
func (t *TelegramNotifier) SendMarketSummary(predictions []models.Prediction) error {
	if len(predictions) == 0 {
		return nil
	}

	sorted := make([]models.Prediction, len(predictions))
	copy(sorted, predictions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Symbol < sorted[j].Symbol
	})

	var b strings.Builder
	b.WriteString("*Market Predictions*\n\n")
	for _, pred := range sorted {
		fmt.Fprintf(&b, "*%s*\n  Predicted: $%s\n  Confidence: %.1f%%\n\n",
			pred.Symbol, pred.Value.StringFixed(2), pred.Confidence*100)
	}
	fmt.Fprintf(&b, "Generated at: %s", time.Now().Format("2006-01-02 15:04:05"))

	return t.sendMessage(b.String())
}

// sendMessage posts a Markdown message to the configured chat.
func (t *TelegramNotifier) sendMessage(text string) error {
	if t.token == "" || t.chatID == "" {
		log.Printf("Telegram not configured, skipping notification")
		return nil
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	params := url.Values{}
	params.Set("chat_id", t.chatID)
	params.Set("text", text)
	params.Set("parse_mode", "Markdown")

	resp, err := t.httpClient.PostForm(endpoint, params)
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Description string `json:"description"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, apiErr.Description)
	}
	return nil
}
