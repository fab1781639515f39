package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var tracer = otel.Tracer("wms-workflow")

// Engine runs every warehouse workflow operation. Each exported method is one
// database transaction; cascades run at the end of the triggering operation.
type Engine struct {
	db        *gorm.DB
	settings  config.Settings
	now       func() time.Time
	logger    *logrus.Logger
	audit     AuditSink
	guard     ScanGuard
	events    EventPublisher
	locker    *redislock.Client
	locations func(tx *gorm.DB) LocationRepository
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) { e.audit = sink }
}

func WithScanGuard(guard ScanGuard) Option {
	return func(e *Engine) { e.guard = guard }
}

func WithEventPublisher(publisher EventPublisher) Option {
	return func(e *Engine) { e.events = publisher }
}

// WithLocker enables the per-task redis lock taken around scan recording.
func WithLocker(locker *redislock.Client) Option {
	return func(e *Engine) { e.locker = locker }
}

func WithLocationRepository(factory func(tx *gorm.DB) LocationRepository) Option {
	return func(e *Engine) { e.locations = factory }
}

func NewEngine(db *gorm.DB, settings config.Settings, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   config.GetLogger(),
		events:   NopPublisher{},
		locations: func(tx *gorm.DB) LocationRepository {
			return models.NewLocationStore(tx)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.audit == nil {
		e.audit = NewHistoryAuditSink(e.settings.AuditValueLimit, e.logger, e.now)
	}
	if e.guard == nil {
		e.guard = NewMemoryScanGuard(e.settings.DuplicateScanWindow)
	}
	return e
}

func (e *Engine) Settings() config.Settings {
	return e.settings
}

// unitOfWork carries the transaction of one operation plus the effects
// that may only happen once it commits.
type unitOfWork struct {
	ctx         context.Context
	tx          *gorm.DB
	actor       string
	now         time.Time
	events      []ReceiptEvent
	afterCommit []func()
}

func (u *unitOfWork) onCommit(fn func()) {
	u.afterCommit = append(u.afterCommit, fn)
}

func (e *Engine) run(ctx context.Context, operation string, fn func(uow *unitOfWork) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(ctx, operation)
	defer span.End()

	uow := &unitOfWork{
		ctx:   ctx,
		actor: utils.GetActorFromContext(ctx),
		now:   e.now(),
	}
	tx := e.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		config.LogError(e.logger, "workflow", operation, "begin transaction", nil, tx.Error)
		return tx.Error
	}
	uow.tx = tx

	err := fn(uow)
	if err == nil && e.settings.EventOutbox {
		err = storeOutbox(tx, uow.events)
	}
	if err != nil {
		tx.Rollback()
		err = translateDBError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := tx.Commit().Error; err != nil {
		err = translateDBError(err)
		config.LogError(e.logger, "workflow", operation, "commit transaction", nil, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	for _, fn := range uow.afterCommit {
		fn()
	}
	span.SetAttributes(attribute.Int("wms.events", len(uow.events)))
	if e.settings.EventOutbox {
		return nil
	}
	for _, event := range uow.events {
		if err := e.events.PublishReceiptStatus(ctx, event); err != nil {
			e.logger.WithFields(logrus.Fields{
				"field":      operation,
				"receipt_id": event.ReceiptId,
				"to_status":  event.ToStatus,
			}).Warn("failed to publish receipt event: " + err.Error())
		}
	}
	return nil
}

// lockTask takes a best-effort redis lock for scan endpoints.
// When redis is unavailable the row lock inside the transaction still serializes writers.
func (e *Engine) lockTask(ctx context.Context, taskId int, operation string) func() {
	if e.locker == nil {
		return func() {}
	}
	lock, err := e.locker.Obtain(ctx, fmt.Sprintf("lock:task:%d", taskId), 30*time.Second, nil)
	if err != nil {
		message := "error obtaining redis lock; proceeding without redis lock: " + err.Error()
		if errors.Is(err, redislock.ErrNotObtained) {
			message = "could not obtain redis lock; proceeding without redis lock"
		}
		e.logger.WithFields(logrus.Fields{
			"field":   operation,
			"task_id": taskId,
		}).Warn(message)
		return func() {}
	}
	return func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			e.logger.WithFields(logrus.Fields{
				"field":   operation,
				"task_id": taskId,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func translateDBError(err error) error {
	if isDuplicateKeyErr(err) {
		return utils.NewConflict("duplicate record: %s", err.Error())
	}
	return err
}
