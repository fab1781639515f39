package workflow

import (
	"context"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
)

type UndoResult struct {
	TaskId                int             `json:"task_id"`
	TaskType              models.TaskType `json:"task_type"`
	ScanId                int             `json:"scan_id"`
	QtyReverted           int             `json:"qty_reverted"`
	Task                  *models.Task    `json:"task"`
	Pallet                *models.Pallet  `json:"pallet,omitempty"`
	DeletedDiscrepancyIds []int           `json:"deleted_discrepancy_ids"`
	DeletedMovementId     *int            `json:"deleted_movement_id,omitempty"`
}

// UndoLastScan reverses the most recent scan of an open task.
func (e *Engine) UndoLastScan(ctx context.Context, taskId int) (*UndoResult, error) {
	unlock := e.lockTask(ctx, taskId, "UndoLastScan")
	defer unlock()

	var result *UndoResult
	err := e.run(ctx, "UndoLastScan", func(uow *unitOfWork) error {
		var err error
		result, err = e.undoLastScan(uow, taskId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) undoLastScan(uow *unitOfWork, taskId int) (*UndoResult, error) {
	task, err := models.LockTask(uow.tx, taskId)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusAssigned && task.Status != models.TaskStatusInProgress {
		return nil, utils.NewConflict("Cannot undo scan on %s task %d", task.Status, task.ID)
	}
	switch task.Type {
	case models.TaskTypeReceiving, models.TaskTypePlacement, models.TaskTypeShipping:
	default:
		return nil, utils.NewConflict("Undo is not supported for %s tasks", task.Type)
	}
	scan, err := models.LastScanForTask(uow.tx, task.ID)
	if err != nil {
		return nil, err
	}
	if scan == nil {
		return nil, utils.NewNotFound("scan for task", task.ID)
	}
	movement, err := models.FindMovementByScan(uow.tx, scan.ID)
	if err != nil {
		return nil, err
	}

	result := &UndoResult{TaskId: task.ID, TaskType: task.Type, ScanId: scan.ID, QtyReverted: scan.Quantity}

	if scan.PalletId != nil {
		pallet, err := models.LockPallet(uow.tx, *scan.PalletId)
		if err != nil {
			return nil, err
		}
		before := *pallet
		switch task.Type {
		case models.TaskTypeReceiving:
			pallet.Quantity = max(pallet.Quantity-scan.Quantity, 0)
			if pallet.Quantity == 0 {
				pallet.ResetToEmpty()
				break
			}
			damaged, err := models.HasDamagedScan(uow.tx, pallet.ID, scan.ID)
			if err != nil {
				return nil, err
			}
			if damaged {
				pallet.Status = models.PalletStatusDamaged
			} else {
				pallet.Status = models.PalletStatusReceiving
			}
		case models.TaskTypePlacement:
			if movement != nil {
				pallet.LocationId = copyIntPtr(movement.FromLocationId)
			} else {
				pallet.LocationId = copyIntPtr(task.SourceLocationId)
			}
			pallet.Status = models.PalletStatusReceived
		case models.TaskTypeShipping:
			pallet.Quantity += scan.Quantity
			if movement != nil {
				pallet.LocationId = copyIntPtr(movement.FromLocationId)
			} else if pallet.LocationId == nil {
				pallet.LocationId = copyIntPtr(task.SourceLocationId)
			}
			pallet.Status = models.PalletStatusPlaced
		}
		if err := e.savePallet(uow, before, pallet); err != nil {
			return nil, err
		}
		result.Pallet = pallet

		if task.Type == models.TaskTypeShipping {
			key := guardKey(task.ID, pallet.ID)
			uow.onCommit(func() {
				e.guard.Forget(context.WithoutCancel(uow.ctx), key)
			})
		}
	}

	discrepancies, err := models.ListScanDiscrepancies(uow.tx, scan.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range discrepancies {
		if err := uow.tx.Delete(&models.Discrepancy{}, d.ID).Error; err != nil {
			return nil, err
		}
		e.auditDelete(uow, entityDiscrepancy, d.ID, d)
		result.DeletedDiscrepancyIds = append(result.DeletedDiscrepancyIds, d.ID)
	}
	if movement != nil {
		if err := uow.tx.Delete(&models.PalletMovement{}, movement.ID).Error; err != nil {
			return nil, err
		}
		e.auditDelete(uow, entityMovement, movement.ID, *movement)
		result.DeletedMovementId = &movement.ID
	}
	if err := uow.tx.Delete(&models.Scan{}, scan.ID).Error; err != nil {
		return nil, err
	}
	e.auditDelete(uow, entityScan, scan.ID, *scan)

	taskBefore := *task
	task.QtyDone = max(task.QtyDone-scan.Quantity, 0)
	remaining, err := models.CountTaskScans(uow.tx, task.ID)
	if err != nil {
		return nil, err
	}
	// a task started by the undone scan goes back to waiting
	if remaining == 0 && task.Status == models.TaskStatusInProgress &&
		task.StartedAt != nil && task.StartedAt.Equal(scan.ScannedAt) {
		task.StartedAt = nil
		task.Status = models.TaskStatusNew
		if task.Assignee != "" {
			task.Status = models.TaskStatusAssigned
		}
	}
	if err := e.saveTask(uow, taskBefore, task); err != nil {
		return nil, err
	}
	result.Task = task
	return result, nil
}
