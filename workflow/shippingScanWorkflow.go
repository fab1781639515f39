package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/sirupsen/logrus"
)

// ShippingScanResult tells the caller whether the scan was booked now.
// Replayed means the request id was already recorded; Duplicate means the
// same pallet and quantity were scanned within the duplicate window.
type ShippingScanResult struct {
	Scan      *models.Scan `json:"scan"`
	Replayed  bool         `json:"replayed"`
	Duplicate bool         `json:"duplicate"`
}

// RecordShipping picks quantity off the task's pallet.
func (e *Engine) RecordShipping(ctx context.Context, taskId int, input models.NewScan) (*ShippingScanResult, error) {
	if input.Quantity <= 0 {
		return nil, utils.NewValidationFailure("quantity must be greater than 0")
	}
	unlock := e.lockTask(ctx, taskId, "RecordShipping")
	defer unlock()

	var (
		result   *ShippingScanResult
		guardHit string
	)
	err := e.run(ctx, "RecordShipping", func(uow *unitOfWork) error {
		var err error
		result, guardHit, err = e.recordShipping(uow, taskId, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	if guardHit != "" {
		e.logger.WithFields(logrus.Fields{
			"field":   "RecordShipping",
			"task_id": taskId,
			"scan_id": result.Scan.ID,
		}).Info(guardHit)
	}
	return result, nil
}

func (e *Engine) recordShipping(uow *unitOfWork, taskId int, input models.NewScan) (*ShippingScanResult, string, error) {
	requestId := strings.TrimSpace(input.RequestId)
	if requestId != "" {
		prior, err := models.FindScanByRequestId(uow.tx, requestId)
		if err != nil {
			return nil, "", err
		}
		if prior != nil {
			if prior.TaskId != taskId {
				return nil, "", utils.NewConflict("request id %s was recorded for task %d", requestId, prior.TaskId)
			}
			return &ShippingScanResult{Scan: prior, Replayed: true}, "replayed shipping scan by request id", nil
		}
	}

	task, err := models.LockTask(uow.tx, taskId)
	if err != nil {
		return nil, "", err
	}
	if task.Type != models.TaskTypeShipping {
		return nil, "", utils.NewInvalidStatef("task %d is a %s task, expected %s", task.ID, task.Type, models.TaskTypeShipping)
	}
	if task.Status != models.TaskStatusAssigned && task.Status != models.TaskStatusInProgress {
		return nil, "", utils.NewInvalidState("task", []string{string(models.TaskStatusAssigned), string(models.TaskStatusInProgress)}, string(task.Status))
	}
	if task.PalletId == nil {
		return nil, "", utils.NewInvalidStatef("shipping task %d has no pallet", task.ID)
	}
	pallet, err := models.LockPallet(uow.tx, *task.PalletId)
	if err != nil {
		return nil, "", err
	}
	if code := strings.TrimSpace(input.PalletCode); code != "" && !utils.SameCode(code, pallet.Code) {
		return nil, "", utils.NewValidationFailure("scanned pallet %s does not match task pallet %s", code, pallet.Code)
	}

	key := guardKey(task.ID, pallet.ID)
	if entry, ok := e.guard.Seen(uow.ctx, key, uow.now); ok && entry.Quantity == input.Quantity {
		prior, err := models.GetScan(uow.tx, entry.ScanId)
		if err != nil && !utils.IsNotFound(err) {
			return nil, "", err
		}
		if prior != nil {
			return &ShippingScanResult{Scan: prior, Duplicate: true}, "suppressed duplicate shipping scan", nil
		}
	}

	if pallet.Status != models.PalletStatusPicking && pallet.Status != models.PalletStatusPlaced {
		return nil, "", utils.NewInvalidState("pallet", []string{string(models.PalletStatusPicking), string(models.PalletStatusPlaced)}, string(pallet.Status))
	}
	if input.Quantity > pallet.Quantity {
		return nil, "", utils.NewValidationFailure("quantity %d exceeds pallet quantity %d", input.Quantity, pallet.Quantity)
	}

	palletId := pallet.ID
	scan := newScanRow(uow, task.ID, &palletId, pallet.Code, input)
	if err := uow.tx.Create(&scan).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, "", utils.NewConflict("request id %s is already being recorded", requestId)
		}
		return nil, "", err
	}
	e.auditCreate(uow, entityScan, scan.ID, scan)

	before := *pallet
	pallet.Quantity -= input.Quantity
	if pallet.Quantity == 0 {
		pallet.Status = models.PalletStatusShipped
		pallet.LocationId = nil
	} else {
		pallet.Status = models.PalletStatusPicking
	}
	if err := e.moveRecord(uow, models.MovementKindPick, pallet, before.LocationId, pallet.LocationId, input.Quantity, task.ID, scan.ID); err != nil {
		return nil, "", err
	}
	if err := e.savePallet(uow, before, pallet); err != nil {
		return nil, "", err
	}

	taskBefore := *task
	task.QtyDone += input.Quantity
	e.autoStartIfNeeded(uow, task)
	if err := e.saveTask(uow, taskBefore, task); err != nil {
		return nil, "", err
	}

	entry := GuardEntry{ScanId: scan.ID, Quantity: scan.Quantity, SeenAt: uow.now}
	uow.onCommit(func() {
		e.guard.Remember(context.WithoutCancel(uow.ctx), key, entry)
	})
	return &ShippingScanResult{Scan: &scan}, "", nil
}
