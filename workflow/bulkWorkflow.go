package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
)

type BulkFailure struct {
	Id     int    `json:"id,omitempty"`
	Key    string `json:"key,omitempty"`
	Reason string `json:"reason"`
}

// BulkResult reports partial success; every item ran in its own transaction.
type BulkResult struct {
	Succeeded []int         `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

func (r *BulkResult) fail(id int, key string, err error) {
	r.Failed = append(r.Failed, BulkFailure{Id: id, Key: key, Reason: err.Error()})
}

func (e *Engine) bulkTasks(ctx context.Context, taskIds []int, fn func(ctx context.Context, id int) error) *BulkResult {
	result := &BulkResult{Succeeded: []int{}, Failed: []BulkFailure{}}
	for _, id := range utils.UniqueSlice(taskIds) {
		if err := fn(ctx, id); err != nil {
			result.fail(id, "", err)
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

func (e *Engine) BulkAssignTasks(ctx context.Context, taskIds []int, assignee string) (*BulkResult, error) {
	if strings.TrimSpace(assignee) == "" {
		return nil, utils.NewValidationFailure("assignee is required")
	}
	return e.bulkTasks(ctx, taskIds, func(ctx context.Context, id int) error {
		_, err := e.AssignTask(ctx, id, assignee)
		return err
	}), nil
}

func (e *Engine) BulkSetPriority(ctx context.Context, taskIds []int, priority int) (*BulkResult, error) {
	if priority < 0 {
		return nil, utils.NewValidationFailure("priority must not be negative")
	}
	return e.bulkTasks(ctx, taskIds, func(ctx context.Context, id int) error {
		_, err := e.mutateTask(ctx, "SetPriority", id, func(uow *unitOfWork, task *models.Task) error {
			if task.Status.IsTerminal() {
				return utils.NewInvalidStatef("Cannot change priority of %s task", strings.ToLower(string(task.Status)))
			}
			before := *task
			task.Priority = priority
			return e.saveTask(uow, before, task)
		})
		return err
	}), nil
}

func (e *Engine) BulkCancelTasks(ctx context.Context, taskIds []int) (*BulkResult, error) {
	return e.bulkTasks(ctx, taskIds, func(ctx context.Context, id int) error {
		_, err := e.CancelTask(ctx, id)
		return err
	}), nil
}

// BulkCreatePallets registers EMPTY pallets. Failures are keyed by code.
func (e *Engine) BulkCreatePallets(ctx context.Context, codes []string) (*BulkResult, error) {
	result := &BulkResult{Succeeded: []int{}, Failed: []BulkFailure{}}
	seen := make(map[string]bool, len(codes))
	for _, raw := range codes {
		code := strings.TrimSpace(raw)
		if code == "" {
			result.fail(0, raw, utils.NewValidationFailure("pallet code is required"))
			continue
		}
		if seen[code] {
			result.fail(0, code, utils.NewConflict("pallet code %s appears more than once", code))
			continue
		}
		seen[code] = true

		var pallet models.Pallet
		err := e.run(ctx, "CreatePallet", func(uow *unitOfWork) error {
			existing, err := models.LockPalletByCode(uow.tx, code)
			if err != nil {
				return err
			}
			if existing != nil {
				return utils.NewConflict("pallet %s already exists", code)
			}
			pallet = models.Pallet{Code: code, Status: models.PalletStatusEmpty}
			if err := uow.tx.Create(&pallet).Error; err != nil {
				return err
			}
			e.auditCreate(uow, entityPallet, pallet.ID, pallet)
			return nil
		})
		if err != nil {
			result.fail(0, code, err)
			continue
		}
		result.Succeeded = append(result.Succeeded, pallet.ID)
	}
	return result, nil
}
