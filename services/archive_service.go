package services

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stockstream/models"
	_ "github.com/mattn/go-sqlite3"
)

// ArchiveService persists the tick and prediction stream to a local SQLite
// database. Writes are staged in memory and flushed in batches so the hot
// ingestion path never blocks on disk.
type ArchiveService struct {
	db *sql.DB

	mu           sync.Mutex
	pendingTicks []models.Tick
	pendingPreds []models.Prediction
}

// Global archive instance
var GlobalArchive *ArchiveService

// InitArchive opens (or creates) the archive database at path.
func InitArchive(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open archive database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping archive database: %w", err)
	}

	archive := &ArchiveService{db: db}
	if err := archive.createTables(); err != nil {
		return fmt.Errorf("failed to create archive tables: %w", err)
	}

	GlobalArchive = archive
	log.Printf("Archive database initialized at %s", path)
	return nil
}

func (a *ArchiveService) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			price TEXT NOT NULL,
			volume INTEGER NOT NULL,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_symbol_ts ON ticks(symbol, timestamp)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL,
			generated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_symbol_ts ON predictions(symbol, generated_at)`,
	}

	for _, q := range queries {
		if _, err := a.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// RecordTick stages a tick for the next flush.
func (a *ArchiveService) RecordTick(tick models.Tick) {
	a.mu.Lock()
	a.pendingTicks = append(a.pendingTicks, tick)
	a.mu.Unlock()
}

// RecordPrediction stages a prediction for the next flush.
func (a *ArchiveService) RecordPrediction(pred models.Prediction) {
	a.mu.Lock()
	a.pendingPreds = append(a.pendingPreds, pred)
	a.mu.Unlock()
}

// Flush writes all staged rows in one transaction.
func (a *ArchiveService) Flush() error {
	a.mu.Lock()
	ticks := a.pendingTicks
	preds := a.pendingPreds
	a.pendingTicks = nil
	a.pendingPreds = nil
	a.mu.Unlock()

	if len(ticks) == 0 && len(preds) == 0 {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	tickStmt, err := tx.Prepare(`INSERT INTO ticks (symbol, price, volume, timestamp) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer tickStmt.Close()
	for _, t := range ticks {
		if _, err := tickStmt.Exec(t.Symbol, t.Price.String(), t.Volume, t.Timestamp); err != nil {
			return fmt.Errorf("failed to insert tick for %s: %w", t.Symbol, err)
		}
	}

	predStmt, err := tx.Prepare(`INSERT INTO predictions (symbol, value, confidence, generated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer predStmt.Close()
	for _, p := range preds {
		if _, err := predStmt.Exec(p.Symbol, p.Value.String(), p.Confidence, p.GeneratedAt); err != nil {
			return fmt.Errorf("failed to insert prediction for %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive flush: %w", err)
	}

	log.Printf("Archive flush: %d ticks, %d predictions", len(ticks), len(preds))
	return nil
}

// Prune deletes archived rows older than the retention cutoff.
func (a *ArchiveService) Prune(olderThan time.Time) error {
	if _, err := a.db.Exec(`DELETE FROM ticks WHERE timestamp < ?`, olderThan); err != nil {
		return fmt.Errorf("failed to prune ticks: %w", err)
	}
	if _, err := a.db.Exec(`DELETE FROM predictions WHERE generated_at < ?`, olderThan); err != nil {
		return fmt.Errorf("failed to prune predictions: %w", err)
	}
	return nil
}

// PendingCount returns the number of staged, unflushed rows.
func (a *ArchiveService) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pendingTicks) + len(a.pendingPreds)
}

// Close flushes and closes the archive database.
func (a *ArchiveService) Close() error {
	if err := a.Flush(); err != nil {
		log.Printf("Warning: final archive flush failed: %v", err)
	}
	return a.db.Close()
}
