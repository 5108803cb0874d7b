package scheduler

import (
	"log"
	"time"

	"stockstream/models"
	"stockstream/services"
	"github.com/go-co-op/gocron"
	"gorm.io/gorm"
)

// Archive rows and triggered alerts older than this are cleaned up daily.
const retentionDays = 30

// Scheduler manages housekeeping jobs around the streaming engine
type Scheduler struct {
	cron     *gocron.Scheduler
	db       *gorm.DB
	store    *services.MarketStore
	notifier *services.TelegramNotifier
}

// NewScheduler creates a new scheduler instance. db and notifier may be nil.
func NewScheduler(db *gorm.DB, store *services.MarketStore, notifier *services.TelegramNotifier) *Scheduler {
	return &Scheduler{
		cron:     gocron.NewScheduler(time.UTC),
		db:       db,
		store:    store,
		notifier: notifier,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Flush staged archive rows every minute
	s.cron.Every(1).Minute().Do(func() {
		s.flushArchive()
	})

	// Mirror the live-state snapshot into MongoDB every 5 minutes
	s.cron.Every(5).Minutes().Do(func() {
		s.mirrorSnapshot()
	})

	// Send a market summary at fixed hours during market days
	s.cron.Every(1).Day().At("09:00").Do(func() { s.sendMarketSummary() })
	s.cron.Every(1).Day().At("12:00").Do(func() { s.sendMarketSummary() })
	s.cron.Every(1).Day().At("16:00").Do(func() { s.sendMarketSummary() })

	// Cleanup old data daily at 01:00
	s.cron.Every(1).Day().At("01:00").Do(func() {
		s.cleanupOldData()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// flushArchive writes staged ticks and predictions to the local archive
func (s *Scheduler) flushArchive() {
	if services.GlobalArchive == nil {
		return
	}
	if err := services.GlobalArchive.Flush(); err != nil {
		log.Printf("Error flushing archive: %v", err)
	}
}

// mirrorSnapshot upserts the current live state into MongoDB
func (s *Scheduler) mirrorSnapshot() {
	if services.GlobalMongoSnapshot == nil || !services.GlobalMongoSnapshot.IsConnected() {
		return
	}
	if err := services.GlobalMongoSnapshot.UpsertSnapshot(s.store.Snapshot()); err != nil {
		log.Printf("Error mirroring snapshot to MongoDB: %v", err)
	}
}

// sendMarketSummary sends the latest predictions to the notification channel
func (s *Scheduler) sendMarketSummary() {
	if s.notifier == nil || !isMarketDay() {
		return
	}

	snapshot := s.store.Snapshot()
	predictions := make([]models.Prediction, 0, len(snapshot))
	for _, state := range snapshot {
		if state.Prediction != nil {
			predictions = append(predictions, *state.Prediction)
		}
	}
	if len(predictions) == 0 {
		return
	}

	if err := s.notifier.SendMarketSummary(predictions); err != nil {
		log.Printf("Error sending market summary: %v", err)
	}
}

// cleanupOldData removes old data to save storage
func (s *Scheduler) cleanupOldData() {
	log.Println("Cleaning up old data...")

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	if services.GlobalArchive != nil {
		if err := services.GlobalArchive.Prune(cutoff); err != nil {
			log.Printf("Error pruning archive: %v", err)
		}
	}

	if s.db != nil {
		// Delete triggered alerts past retention
		if err := s.db.Where("status = ? AND triggered_at < ?", models.AlertStatusTriggered, cutoff).
			Delete(&models.Alert{}).Error; err != nil {
			log.Printf("Error cleaning up old alerts: %v", err)
		}

		// Delete old notification records
		if err := s.db.Where("created_at < ?", cutoff).
			Delete(&models.Notification{}).Error; err != nil {
			log.Printf("Error cleaning up old notifications: %v", err)
		}
	}

	log.Println("Cleanup completed")
}

// isMarketDay checks whether US markets trade today
func isMarketDay() bool {
	weekday := time.Now().Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}
