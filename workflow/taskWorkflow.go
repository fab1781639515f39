package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
)

const (
	msgCannotCancelCompleted = "Cannot cancel completed task"
	msgNothingScanned        = "Cannot complete task: nothing scanned"
)

func (e *Engine) CreateTask(ctx context.Context, input models.NewTask) (*models.Task, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	var task *models.Task
	err := e.run(ctx, "CreateTask", func(uow *unitOfWork) error {
		var err error
		task, err = e.createTask(uow, input)
		return err
	})
	return task, err
}

func (e *Engine) createTask(uow *unitOfWork, input models.NewTask) (*models.Task, error) {
	task := models.Task{
		Type:             input.Type,
		Status:           models.TaskStatusNew,
		QtyAssigned:      input.QtyAssigned,
		ReceiptId:        input.ReceiptId,
		ReceiptLineId:    input.ReceiptLineId,
		PalletId:         input.PalletId,
		SourceLocationId: input.SourceLocationId,
		TargetLocationId: input.TargetLocationId,
		Priority:         input.Priority,
		PalletHoldStatus: input.PalletHoldStatus,
		CreatedBy:        uow.actor,
		CreatedAt:        uow.now,
	}
	if assignee := strings.TrimSpace(input.Assignee); assignee != "" {
		task.Assignee = assignee
		task.Status = models.TaskStatusAssigned
	}
	if err := uow.tx.Create(&task).Error; err != nil {
		return nil, err
	}
	e.auditCreate(uow, entityTask, task.ID, task)
	return &task, nil
}

func (e *Engine) AssignTask(ctx context.Context, taskId int, assignee string) (*models.Task, error) {
	return e.mutateTask(ctx, "AssignTask", taskId, func(uow *unitOfWork, task *models.Task) error {
		return e.assignTask(uow, task, assignee)
	})
}

func (e *Engine) StartTask(ctx context.Context, taskId int) (*models.Task, error) {
	return e.mutateTask(ctx, "StartTask", taskId, func(uow *unitOfWork, task *models.Task) error {
		return e.startTask(uow, task)
	})
}

func (e *Engine) CompleteTask(ctx context.Context, taskId int) (*models.Task, error) {
	return e.mutateTask(ctx, "CompleteTask", taskId, func(uow *unitOfWork, task *models.Task) error {
		return e.completeTask(uow, task)
	})
}

func (e *Engine) CancelTask(ctx context.Context, taskId int) (*models.Task, error) {
	return e.mutateTask(ctx, "CancelTask", taskId, func(uow *unitOfWork, task *models.Task) error {
		return e.cancelTask(uow, task)
	})
}

func (e *Engine) ReleaseTask(ctx context.Context, taskId int) (*models.Task, error) {
	return e.mutateTask(ctx, "ReleaseTask", taskId, func(uow *unitOfWork, task *models.Task) error {
		return e.releaseTask(uow, task)
	})
}

func (e *Engine) GetTask(ctx context.Context, taskId int) (*models.Task, error) {
	return models.GetTask(e.db.WithContext(ctx), taskId)
}

func (e *Engine) mutateTask(ctx context.Context, operation string, taskId int, fn func(uow *unitOfWork, task *models.Task) error) (*models.Task, error) {
	var task *models.Task
	err := e.run(ctx, operation, func(uow *unitOfWork) error {
		var err error
		task, err = models.LockTask(uow.tx, taskId)
		if err != nil {
			return err
		}
		return fn(uow, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (e *Engine) saveTask(uow *unitOfWork, before models.Task, task *models.Task) error {
	if err := uow.tx.Save(task).Error; err != nil {
		return err
	}
	e.auditTask(uow, before, *task)
	return nil
}

func (e *Engine) assignTask(uow *unitOfWork, task *models.Task, assignee string) error {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return utils.NewValidationFailure("assignee is required")
	}
	if !task.Status.CanTransitionTo(models.TaskStatusAssigned) {
		return utils.NewInvalidState("task", []string{string(models.TaskStatusNew), string(models.TaskStatusAssigned)}, string(task.Status))
	}
	before := *task
	task.Assignee = assignee
	task.Status = models.TaskStatusAssigned
	return e.saveTask(uow, before, task)
}

func (e *Engine) startTask(uow *unitOfWork, task *models.Task) error {
	if task.Status != models.TaskStatusNew && task.Status != models.TaskStatusAssigned {
		return utils.NewInvalidState("task", []string{string(models.TaskStatusNew), string(models.TaskStatusAssigned)}, string(task.Status))
	}
	before := *task
	now := uow.now
	task.Status = models.TaskStatusInProgress
	task.StartedAt = &now
	return e.saveTask(uow, before, task)
}

// autoStartIfNeeded starts a NEW or ASSIGNED task and ignores every other status.
// The caller saves the task.
func (e *Engine) autoStartIfNeeded(uow *unitOfWork, task *models.Task) {
	if task.Status != models.TaskStatusNew && task.Status != models.TaskStatusAssigned {
		return
	}
	now := uow.now
	task.Status = models.TaskStatusInProgress
	task.StartedAt = &now
}

func (e *Engine) completeTask(uow *unitOfWork, task *models.Task) error {
	if !task.Status.CanTransitionTo(models.TaskStatusCompleted) {
		return utils.NewInvalidState("task", []string{
			string(models.TaskStatusNew), string(models.TaskStatusAssigned), string(models.TaskStatusInProgress),
		}, string(task.Status))
	}
	if task.QtyDone <= 0 {
		return utils.NewInvalidStatef(msgNothingScanned)
	}
	if task.Type == models.TaskTypePlacement && task.QtyDone != task.QtyAssigned {
		return utils.NewInvalidStatef("Partial placement is not allowed: %d of %d placed", task.QtyDone, task.QtyAssigned)
	}

	before := *task
	now := uow.now
	task.Status = models.TaskStatusCompleted
	task.ClosedAt = &now
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	if err := e.saveTask(uow, before, task); err != nil {
		return err
	}

	switch task.Type {
	case models.TaskTypeReceiving:
		if err := e.raiseShortage(uow, task); err != nil {
			return err
		}
	case models.TaskTypePlacement:
		if task.ReceiptId != nil {
			return e.autoCompletePlacement(uow, *task.ReceiptId)
		}
	case models.TaskTypeShipping:
		if task.ReceiptId != nil {
			return e.autoCompleteShipping(uow, *task.ReceiptId)
		}
	}
	return nil
}

// raiseShortage records UNDER_QTY for a receiving task closed below its assigned
// quantity and flags the task's last scan.
func (e *Engine) raiseShortage(uow *unitOfWork, task *models.Task) error {
	candidate := EvaluateCompletion(task.QtyAssigned, task.QtyDone)
	if candidate == nil {
		return nil
	}
	discrepancy := newDiscrepancy(*candidate, task, nil, uow.actor, uow.now)
	if e.settings.AutoResolveUnderQty {
		now := uow.now
		discrepancy.Resolved = true
		discrepancy.ResolvedBy = utils.SystemActor
		discrepancy.ResolvedAt = &now
		discrepancy.Comment = "Shortage confirmed at task completion"
	}
	if err := uow.tx.Create(&discrepancy).Error; err != nil {
		return err
	}
	e.auditCreate(uow, entityDiscrepancy, discrepancy.ID, discrepancy)

	last, err := models.LastScanForTask(uow.tx, task.ID)
	if err != nil {
		return err
	}
	if last == nil || last.Discrepancy {
		return nil
	}
	if err := uow.tx.Model(&models.Scan{}).Where("id = ?", last.ID).Update("discrepancy", true).Error; err != nil {
		return err
	}
	e.audit.LogUpdate(uow.ctx, uow.tx, entityScan, last.ID, models.FieldChange{Field: "discrepancy", OldValue: false, NewValue: true})
	return nil
}

func (e *Engine) cancelTask(uow *unitOfWork, task *models.Task) error {
	switch task.Status {
	case models.TaskStatusCompleted:
		return utils.NewInvalidStatef(msgCannotCancelCompleted)
	case models.TaskStatusCancelled:
		return utils.NewInvalidStatef("Task is already cancelled")
	}
	before := *task
	now := uow.now
	task.Status = models.TaskStatusCancelled
	task.ClosedAt = &now
	if err := e.saveTask(uow, before, task); err != nil {
		return err
	}
	return e.releasePalletHold(uow, task)
}

// releasePalletHold puts a pallet back to where it was before its open
// placement or shipping task was cancelled.
func (e *Engine) releasePalletHold(uow *unitOfWork, task *models.Task) error {
	if task.PalletId == nil {
		return nil
	}
	var restore models.PalletStatus
	switch task.Type {
	case models.TaskTypePlacement:
		restore = models.PalletStatusReceived
	case models.TaskTypeShipping:
		restore = models.PalletStatusPlaced
	default:
		return nil
	}
	pallet, err := models.LockPallet(uow.tx, *task.PalletId)
	if err != nil {
		return err
	}
	expected := models.PalletStatusInTransit
	if task.Type == models.TaskTypeShipping {
		expected = models.PalletStatusPicking
	}
	if pallet.Status != expected {
		return nil
	}
	if task.PalletHoldStatus != "" {
		restore = task.PalletHoldStatus
	}
	before := *pallet
	pallet.Status = restore
	return e.savePallet(uow, before, pallet)
}

func (e *Engine) releaseTask(uow *unitOfWork, task *models.Task) error {
	if task.Status != models.TaskStatusAssigned && task.Status != models.TaskStatusInProgress {
		return utils.NewInvalidState("task", []string{string(models.TaskStatusAssigned), string(models.TaskStatusInProgress)}, string(task.Status))
	}
	before := *task
	task.Status = models.TaskStatusNew
	task.Assignee = ""
	task.StartedAt = nil
	return e.saveTask(uow, before, task)
}

func (e *Engine) savePallet(uow *unitOfWork, before models.Pallet, pallet *models.Pallet) error {
	if err := uow.tx.Save(pallet).Error; err != nil {
		return err
	}
	e.auditPallet(uow, before, *pallet)
	return nil
}
