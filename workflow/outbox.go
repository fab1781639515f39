package workflow

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func storeOutbox(tx *gorm.DB, events []ReceiptEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]models.EventOutbox, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		rows = append(rows, models.EventOutbox{
			ReceiptId: event.ReceiptId,
			ToStatus:  string(event.ToStatus),
			Payload:   string(payload),
			Status:    models.OutboxStatusPending,
			CreatedAt: event.OccurredAt,
		})
	}
	return tx.Create(&rows).Error
}

// OutboxRelay delivers stored receipt events through an EventPublisher.
// Failed deliveries back off exponentially and turn DEAD after MaxAttempts.
type OutboxRelay struct {
	DB          *gorm.DB
	Publisher   EventPublisher
	Logger      *logrus.Logger
	WorkerID    string
	BatchSize   int
	Interval    time.Duration
	LockTTL     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Now         func() time.Time
}

func NewOutboxRelay(db *gorm.DB, publisher EventPublisher, settings config.Settings, logger *logrus.Logger) *OutboxRelay {
	host, _ := os.Hostname()
	return &OutboxRelay{
		DB:          db,
		Publisher:   publisher,
		Logger:      logger,
		WorkerID:    host + "-" + time.Now().Format("20060102-150405.000"),
		BatchSize:   50,
		Interval:    2 * time.Second,
		LockTTL:     30 * time.Second,
		MaxAttempts: settings.OutboxMaxAttempts,
		BaseBackoff: settings.OutboxBaseBackoff,
		MaxBackoff:  settings.OutboxMaxBackoff,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRelay) Run(ctx context.Context) {
	if r == nil || r.DB == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			config.LogError(r.Logger, "workflow", "OutboxRelay", "ProcessOnce", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.Interval):
		}
	}
}

// ProcessOnce claims one batch and returns how many events were delivered.
func (r *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	now := r.Now()
	claimed, err := models.ClaimOutbox(r.DB.WithContext(ctx), r.WorkerID, now, now.Add(-r.LockTTL), r.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, rec := range claimed {
		var event ReceiptEvent
		err := json.Unmarshal([]byte(rec.Payload), &event)
		if err == nil {
			err = r.Publisher.PublishReceiptStatus(ctx, event)
		}
		if err != nil {
			r.markFailed(ctx, rec, err)
			continue
		}
		if err := models.MarkOutboxSucceeded(r.DB.WithContext(ctx), rec.ID, r.Now()); err != nil {
			config.LogError(r.Logger, "workflow", "OutboxRelay", "MarkOutboxSucceeded", rec.ID, err)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (r *OutboxRelay) markFailed(ctx context.Context, rec models.EventOutbox, cause error) {
	attempts := rec.Attempts + 1
	var next *time.Time
	if attempts < r.MaxAttempts {
		t := r.Now().Add(outboxBackoff(attempts, r.BaseBackoff, r.MaxBackoff))
		next = &t
	}
	if err := models.MarkOutboxFailed(r.DB.WithContext(ctx), rec.ID, attempts, next, cause.Error()); err != nil {
		config.LogError(r.Logger, "workflow", "OutboxRelay", "MarkOutboxFailed", rec.ID, err)
	}

	entry := r.Logger.WithFields(logrus.Fields{
		"field":      "OutboxRelay",
		"record_id":  rec.ID,
		"receipt_id": rec.ReceiptId,
		"to_status":  rec.ToStatus,
		"attempts":   attempts,
	})
	if next == nil {
		entry.Error("receipt event is DEAD after repeated delivery failures: " + cause.Error())
		return
	}
	entry.Warn("receipt event delivery failed: " + cause.Error())
}

// outboxBackoff is base * 2^(attempt-1), capped at max.
func outboxBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
