package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"gorm.io/gorm"

	"github.com/sirupsen/logrus"
)

const (
	AuditActionCreate         = "CREATE"
	AuditActionUpdate         = "UPDATE"
	AuditActionDelete         = "DELETE"
	AuditActionStatusChange   = "STATUS_CHANGE"
	AuditActionLocationChange = "LOCATION_CHANGE"
)

const (
	entityReceipt     = "receipt"
	entityTask        = "task"
	entityPallet      = "pallet"
	entityScan        = "scan"
	entityDiscrepancy = "discrepancy"
	entityMovement    = "pallet_movement"
)

// AuditSink records entity changes. Implementations must not fail the
// calling operation; errors are their own to report.
type AuditSink interface {
	LogCreate(ctx context.Context, tx *gorm.DB, entityType string, entityId int, value any)
	LogUpdate(ctx context.Context, tx *gorm.DB, entityType string, entityId int, changes ...models.FieldChange)
	LogDelete(ctx context.Context, tx *gorm.DB, entityType string, entityId int, value any)
	LogStatusChange(ctx context.Context, tx *gorm.DB, entityType string, entityId int, from, to any)
	LogLocationChange(ctx context.Context, tx *gorm.DB, entityType string, entityId int, from, to *int)
}

// HistoryAuditSink writes models.History rows inside the caller's transaction.
type HistoryAuditSink struct {
	limit  int
	logger *logrus.Logger
	now    func() time.Time
}

func NewHistoryAuditSink(limit int, logger *logrus.Logger, now func() time.Time) *HistoryAuditSink {
	if limit <= 0 {
		limit = 512
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &HistoryAuditSink{limit: limit, logger: logger, now: now}
}

func (s *HistoryAuditSink) write(ctx context.Context, tx *gorm.DB, entityType string, entityId int, action string, changes ...models.FieldChange) {
	rows := models.NewHistoryRows(ctx, entityType, entityId, action, s.now(), s.limit, changes...)
	if err := models.CreateHistory(tx, rows); err != nil && s.logger != nil {
		config.LogError(s.logger, "workflow", "HistoryAuditSink", "write "+action, map[string]any{
			"entity_type": entityType,
			"entity_id":   entityId,
		}, err)
	}
}

func (s *HistoryAuditSink) LogCreate(ctx context.Context, tx *gorm.DB, entityType string, entityId int, value any) {
	s.write(ctx, tx, entityType, entityId, AuditActionCreate, models.FieldChange{NewValue: value})
}

func (s *HistoryAuditSink) LogUpdate(ctx context.Context, tx *gorm.DB, entityType string, entityId int, changes ...models.FieldChange) {
	if len(changes) == 0 {
		return
	}
	s.write(ctx, tx, entityType, entityId, AuditActionUpdate, changes...)
}

func (s *HistoryAuditSink) LogDelete(ctx context.Context, tx *gorm.DB, entityType string, entityId int, value any) {
	s.write(ctx, tx, entityType, entityId, AuditActionDelete, models.FieldChange{OldValue: value})
}

func (s *HistoryAuditSink) LogStatusChange(ctx context.Context, tx *gorm.DB, entityType string, entityId int, from, to any) {
	s.write(ctx, tx, entityType, entityId, AuditActionStatusChange, models.FieldChange{Field: "status", OldValue: from, NewValue: to})
}

func (s *HistoryAuditSink) LogLocationChange(ctx context.Context, tx *gorm.DB, entityType string, entityId int, from, to *int) {
	s.write(ctx, tx, entityType, entityId, AuditActionLocationChange, models.FieldChange{Field: "location_id", OldValue: from, NewValue: to})
}

func (e *Engine) auditCreate(uow *unitOfWork, entityType string, entityId int, value any) {
	e.audit.LogCreate(uow.ctx, uow.tx, entityType, entityId, value)
}

func (e *Engine) auditDelete(uow *unitOfWork, entityType string, entityId int, value any) {
	e.audit.LogDelete(uow.ctx, uow.tx, entityType, entityId, value)
}

// auditPallet emits one entry per changed pallet field.
func (e *Engine) auditPallet(uow *unitOfWork, before, after models.Pallet) {
	if before.Status != after.Status {
		e.audit.LogStatusChange(uow.ctx, uow.tx, entityPallet, after.ID, before.Status, after.Status)
	}
	if !utils.SameIntPtr(before.LocationId, after.LocationId) {
		e.audit.LogLocationChange(uow.ctx, uow.tx, entityPallet, after.ID, before.LocationId, after.LocationId)
	}
	e.audit.LogUpdate(uow.ctx, uow.tx, entityPallet, after.ID,
		models.FieldChange{Field: "quantity", OldValue: before.Quantity, NewValue: after.Quantity},
		models.FieldChange{Field: "sku_id", OldValue: before.SkuId, NewValue: after.SkuId},
		models.FieldChange{Field: "receipt_id", OldValue: before.ReceiptId, NewValue: after.ReceiptId},
		models.FieldChange{Field: "lot_number", OldValue: before.LotNumber, NewValue: after.LotNumber},
		models.FieldChange{Field: "expiry_date", OldValue: before.ExpiryDate, NewValue: after.ExpiryDate},
	)
}

func (e *Engine) auditTask(uow *unitOfWork, before, after models.Task) {
	if before.Status != after.Status {
		e.audit.LogStatusChange(uow.ctx, uow.tx, entityTask, after.ID, before.Status, after.Status)
	}
	e.audit.LogUpdate(uow.ctx, uow.tx, entityTask, after.ID,
		models.FieldChange{Field: "assignee", OldValue: before.Assignee, NewValue: after.Assignee},
		models.FieldChange{Field: "qty_done", OldValue: before.QtyDone, NewValue: after.QtyDone},
		models.FieldChange{Field: "priority", OldValue: before.Priority, NewValue: after.Priority},
		models.FieldChange{Field: "target_location_id", OldValue: before.TargetLocationId, NewValue: after.TargetLocationId},
		models.FieldChange{Field: "started_at", OldValue: before.StartedAt, NewValue: after.StartedAt},
		models.FieldChange{Field: "closed_at", OldValue: before.ClosedAt, NewValue: after.ClosedAt},
	)
}
