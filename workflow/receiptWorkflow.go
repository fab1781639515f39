package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/clause"
)

// SkippedPallet is a pallet left without a placement task because no location fits it.
type SkippedPallet struct {
	PalletId int    `json:"pallet_id"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

type PlacementResult struct {
	Receipt *models.Receipt `json:"receipt"`
	Tasks   []models.Task   `json:"tasks"`
	Skipped []SkippedPallet `json:"skipped"`
}

// ImportReceipt creates a DRAFT receipt. A receipt carrying an already-imported
// message id is returned as is, with created=false.
func (e *Engine) ImportReceipt(ctx context.Context, input models.NewReceipt) (*models.Receipt, bool, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, false, err
	}
	var (
		receipt *models.Receipt
		created bool
	)
	err := e.run(ctx, "ImportReceipt", func(uow *unitOfWork) error {
		messageId := strings.TrimSpace(input.MessageId)
		if messageId != "" {
			existing, err := models.FindReceiptByMessageId(uow.tx, messageId)
			if err != nil {
				return err
			}
			if existing != nil {
				receipt = existing
				return nil
			}
		}
		skuIds := make([]int, 0, len(input.Lines))
		for _, line := range input.Lines {
			skuIds = append(skuIds, line.SkuId)
		}
		skus, err := models.ListSkus(uow.tx, utils.UniqueSlice(skuIds))
		if err != nil {
			return err
		}
		for _, id := range skuIds {
			if _, ok := skus[id]; !ok {
				return utils.NewNotFound("sku", id)
			}
		}
		if input.DockLocationId != nil {
			if _, err := models.GetLocation(uow.tx, *input.DockLocationId); err != nil {
				return err
			}
		}

		receipt = &models.Receipt{
			DocumentNumber: strings.TrimSpace(input.DocumentNumber),
			Supplier:       strings.TrimSpace(input.Supplier),
			Status:         models.ReceiptStatusDraft,
			IsCrossDock:    input.IsCrossDock,
			OutboundRef:    utils.NilIfEmpty(strings.TrimSpace(input.OutboundRef)),
			DockLocationId: input.DockLocationId,
			MessageId:      utils.NilIfEmpty(messageId),
			CreatedBy:      uow.actor,
		}
		for i, line := range input.Lines {
			receipt.Lines = append(receipt.Lines, models.ReceiptLine{
				LineNo:      i + 1,
				SkuId:       line.SkuId,
				ExpectedQty: line.ExpectedQty,
				LotNumber:   strings.TrimSpace(line.LotNumber),
				ExpiryDate:  line.ExpiryDate,
				Sscc:        strings.TrimSpace(line.Sscc),
			})
		}
		if err := uow.tx.Create(receipt).Error; err != nil {
			return err
		}
		created = true
		e.auditCreate(uow, entityReceipt, receipt.ID, receipt)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return receipt, created, nil
}

func (e *Engine) GetReceipt(ctx context.Context, receiptId int) (*models.Receipt, error) {
	return models.GetReceipt(e.db.WithContext(ctx).Preload("Lines"), receiptId)
}

func (e *Engine) mutateReceipt(ctx context.Context, operation string, receiptId int, fn func(uow *unitOfWork, receipt *models.Receipt) error) (*models.Receipt, error) {
	var receipt *models.Receipt
	err := e.run(ctx, operation, func(uow *unitOfWork) error {
		var err error
		receipt, err = models.LockReceipt(uow.tx, receiptId)
		if err != nil {
			return err
		}
		return fn(uow, receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// setReceiptStatus applies one transition of the receipt state machine.
func (e *Engine) setReceiptStatus(uow *unitOfWork, receipt *models.Receipt, next models.ReceiptStatus) error {
	if !receipt.Status.CanTransitionTo(next) {
		return utils.NewInvalidStatef("receipt %d cannot move from %s to %s", receipt.ID, receipt.Status, next)
	}
	if crossDockOnly(next) && !receipt.IsCrossDock {
		return utils.NewInvalidStatef("receipt %d is not cross-dock; %s is reserved for cross-dock receipts", receipt.ID, next)
	}
	from := receipt.Status
	receipt.Status = next
	now := uow.now
	switch {
	case next == models.ReceiptStatusConfirmed:
		receipt.ConfirmedAt = &now
	case next.IsTerminal():
		receipt.ClosedAt = &now
	}
	if err := uow.tx.Omit(clause.Associations).Save(receipt).Error; err != nil {
		return err
	}
	e.audit.LogStatusChange(uow.ctx, uow.tx, entityReceipt, receipt.ID, from, next)
	uow.receiptChanged(receipt, from)
	return nil
}

func crossDockOnly(status models.ReceiptStatus) bool {
	switch status {
	case models.ReceiptStatusReadyForShipment, models.ReceiptStatusShippingInProgress, models.ReceiptStatusShipped:
		return true
	}
	return false
}

func requireReceiptStatus(receipt *models.Receipt, allowed ...models.ReceiptStatus) error {
	for _, status := range allowed {
		if receipt.Status == status {
			return nil
		}
	}
	expected := make([]string, 0, len(allowed))
	for _, status := range allowed {
		expected = append(expected, string(status))
	}
	return utils.NewInvalidState("receipt", expected, string(receipt.Status))
}

func (e *Engine) ConfirmReceipt(ctx context.Context, receiptId int) (*models.Receipt, error) {
	return e.mutateReceipt(ctx, "ConfirmReceipt", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		if err := requireReceiptStatus(receipt, models.ReceiptStatusDraft); err != nil {
			return err
		}
		if len(receipt.Lines) == 0 {
			return utils.NewValidationFailure("receipt %d has no lines", receipt.ID)
		}
		return e.setReceiptStatus(uow, receipt, models.ReceiptStatusConfirmed)
	})
}

// StartReceiving creates one RECEIVING task per line that has none yet.
func (e *Engine) StartReceiving(ctx context.Context, receiptId int) ([]models.Task, error) {
	var tasks []models.Task
	_, err := e.mutateReceipt(ctx, "StartReceiving", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		if err := requireReceiptStatus(receipt, models.ReceiptStatusConfirmed); err != nil {
			return err
		}
		existing, err := models.ListReceiptTasks(uow.tx, receipt.ID, models.TaskTypeReceiving)
		if err != nil {
			return err
		}
		covered := make(map[int]bool, len(existing))
		for _, task := range existing {
			if task.ReceiptLineId != nil {
				covered[*task.ReceiptLineId] = true
			}
		}
		for _, line := range receipt.Lines {
			if covered[line.ID] {
				continue
			}
			receiptId, lineId := receipt.ID, line.ID
			task, err := e.createTask(uow, models.NewTask{
				Type:             models.TaskTypeReceiving,
				QtyAssigned:      line.ExpectedQty,
				ReceiptId:        &receiptId,
				ReceiptLineId:    &lineId,
				TargetLocationId: receipt.DockLocationId,
			})
			if err != nil {
				return err
			}
			tasks = append(tasks, *task)
		}
		if len(tasks) == 0 {
			return utils.NewInvalidStatef("receipt %d: every line already has a receiving task", receipt.ID)
		}
		return e.setReceiptStatus(uow, receipt, models.ReceiptStatusInProgress)
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// CompleteReceiving closes receiving once every live receiving task is done.
// Open discrepancies park the receipt in PENDING_RESOLUTION.
func (e *Engine) CompleteReceiving(ctx context.Context, receiptId int) (*models.Receipt, error) {
	return e.mutateReceipt(ctx, "CompleteReceiving", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		if err := requireReceiptStatus(receipt, models.ReceiptStatusInProgress); err != nil {
			return err
		}
		if err := requireTasksCompleted(uow, receipt.ID, models.TaskTypeReceiving); err != nil {
			return err
		}
		open, err := models.ListUnresolvedDiscrepancies(uow.tx, receipt.ID)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return e.setReceiptStatus(uow, receipt, models.ReceiptStatusPendingResolution)
		}
		if err := e.setReceiptStatus(uow, receipt, models.ReceiptStatusAccepted); err != nil {
			return err
		}
		pallets, err := models.ListReceiptPallets(uow.tx, receipt.ID, []models.PalletStatus{models.PalletStatusReceiving})
		if err != nil {
			return err
		}
		for i := range pallets {
			before := pallets[i]
			pallets[i].Status = models.PalletStatusReceived
			if err := e.savePallet(uow, before, &pallets[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// requireTasksCompleted ignores cancelled tasks and needs at least one completed task.
func requireTasksCompleted(uow *unitOfWork, receiptId int, taskType models.TaskType) error {
	tasks, err := models.ListReceiptTasks(uow.tx, receiptId, taskType)
	if err != nil {
		return err
	}
	completed := 0
	var open []int
	for _, task := range tasks {
		switch task.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusCancelled:
		default:
			open = append(open, task.ID)
		}
	}
	if len(open) > 0 {
		return utils.NewInvalidStatef("receipt %d has %d open %s task(s): %v", receiptId, len(open), taskType, open)
	}
	if completed == 0 {
		return utils.NewInvalidStatef("receipt %d has no completed %s task", receiptId, taskType)
	}
	return nil
}

func (e *Engine) ResolveDiscrepancy(ctx context.Context, discrepancyId int, comment string) (*models.Discrepancy, error) {
	var discrepancy *models.Discrepancy
	err := e.run(ctx, "ResolveDiscrepancy", func(uow *unitOfWork) error {
		var err error
		discrepancy, err = models.GetDiscrepancy(uow.tx.Clauses(clause.Locking{Strength: "UPDATE"}), discrepancyId)
		if err != nil {
			return err
		}
		if discrepancy.Resolved {
			return utils.NewInvalidStatef("discrepancy %d is already resolved", discrepancy.ID)
		}
		now := uow.now
		discrepancy.Resolved = true
		discrepancy.ResolvedBy = uow.actor
		discrepancy.ResolvedAt = &now
		discrepancy.Comment = strings.TrimSpace(comment)
		if err := uow.tx.Save(discrepancy).Error; err != nil {
			return err
		}
		e.audit.LogUpdate(uow.ctx, uow.tx, entityDiscrepancy, discrepancy.ID,
			models.FieldChange{Field: "resolved", OldValue: false, NewValue: true},
			models.FieldChange{Field: "comment", OldValue: "", NewValue: discrepancy.Comment},
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return discrepancy, nil
}

// ResolveAndContinue sends a PENDING_RESOLUTION receipt back to receiving once
// nothing is left unresolved.
func (e *Engine) ResolveAndContinue(ctx context.Context, receiptId int) (*models.Receipt, error) {
	return e.mutateReceipt(ctx, "ResolveAndContinue", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		if err := requireReceiptStatus(receipt, models.ReceiptStatusPendingResolution); err != nil {
			return err
		}
		if err := unresolvedDiscrepancyBlockers(uow.tx, receipt.ID, "resolve and continue"); err != nil {
			return err
		}
		return e.setReceiptStatus(uow, receipt, models.ReceiptStatusInProgress)
	})
}

func (e *Engine) MarkReadyForPlacement(ctx context.Context, receiptId int) (*models.Receipt, error) {
	return e.mutateReceipt(ctx, "MarkReadyForPlacement", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		if err := requireReceiptStatus(receipt, models.ReceiptStatusAccepted); err != nil {
			return err
		}
		return e.setReceiptStatus(uow, receipt, models.ReceiptStatusReadyForPlacement)
	})
}

// StartPlacement generates placement tasks and moves the receipt to PLACING
// when at least one task was created. Calling it again while PLACING picks up
// pallets skipped earlier.
func (e *Engine) StartPlacement(ctx context.Context, receiptId int) (*PlacementResult, error) {
	result := &PlacementResult{}
	receipt, err := e.mutateReceipt(ctx, "StartPlacement", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		if err := requireReceiptStatus(receipt, models.ReceiptStatusAccepted, models.ReceiptStatusReadyForPlacement, models.ReceiptStatusPlacing); err != nil {
			return err
		}
		if err := AssertNoSkuStatusBlockers(uow.tx, receipt, "start placement"); err != nil {
			return err
		}
		tasks, skipped, err := e.generatePlacementTasks(uow, receipt)
		if err != nil {
			return err
		}
		result.Tasks, result.Skipped = tasks, skipped
		if len(tasks) > 0 && receipt.Status != models.ReceiptStatusPlacing {
			return e.setReceiptStatus(uow, receipt, models.ReceiptStatusPlacing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Receipt = receipt
	return result, nil
}

func (e *Engine) generatePlacementTasks(uow *unitOfWork, receipt *models.Receipt) ([]models.Task, []SkippedPallet, error) {
	pallets, err := models.ListReceiptPallets(uow.tx, receipt.ID, models.PalletStatusesAwaitingPlacement)
	if err != nil {
		return nil, nil, err
	}
	repo := e.locations(uow.tx)
	var (
		tasks   []models.Task
		skipped []SkippedPallet
	)
	for i := range pallets {
		pallet := pallets[i]
		covered, err := models.HasOpenTaskForPallet(uow.tx, pallet.ID, models.TaskTypePlacement)
		if err != nil {
			return nil, nil, err
		}
		if covered {
			continue
		}
		location, err := SelectLocation(pallet, PutawayContext{CrossDock: receipt.IsCrossDock, Repo: repo})
		if err != nil {
			return nil, nil, err
		}
		if location == nil {
			e.logger.WithFields(logrus.Fields{
				"field":      "generatePlacementTasks",
				"receipt_id": receipt.ID,
				"pallet_id":  pallet.ID,
				"status":     pallet.Status,
			}).Warn("no putaway location available; pallet skipped")
			skipped = append(skipped, SkippedPallet{PalletId: pallet.ID, Code: pallet.Code, Reason: "no available location"})
			continue
		}
		receiptId, palletId, targetId := receipt.ID, pallet.ID, location.ID
		task, err := e.createTask(uow, models.NewTask{
			Type:             models.TaskTypePlacement,
			QtyAssigned:      pallet.Quantity,
			ReceiptId:        &receiptId,
			PalletId:         &palletId,
			SourceLocationId: copyIntPtr(pallet.LocationId),
			TargetLocationId: &targetId,
			PalletHoldStatus: pallet.Status,
		})
		if err != nil {
			return nil, nil, err
		}
		before := pallet
		pallet.Status = models.PalletStatusInTransit
		if err := e.savePallet(uow, before, &pallet); err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, skipped, nil
}

func (e *Engine) CompletePlacement(ctx context.Context, receiptId int) (*models.Receipt, error) {
	return e.mutateReceipt(ctx, "CompletePlacement", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		if err := requireReceiptStatus(receipt, models.ReceiptStatusPlacing); err != nil {
			return err
		}
		if err := requireTasksCompleted(uow, receipt.ID, models.TaskTypePlacement); err != nil {
			return err
		}
		return e.setReceiptStatus(uow, receipt, placementOutcome(receipt))
	})
}

// autoCompletePlacement runs after each placement task completes.
func (e *Engine) autoCompletePlacement(uow *unitOfWork, receiptId int) error {
	receipt, err := models.LockReceipt(uow.tx, receiptId)
	if err != nil {
		return err
	}
	if receipt.Status != models.ReceiptStatusPlacing {
		return nil
	}
	if err := requireTasksCompleted(uow, receipt.ID, models.TaskTypePlacement); err != nil {
		if utils.IsInvalidState(err) {
			return nil
		}
		return err
	}
	return e.setReceiptStatus(uow, receipt, placementOutcome(receipt))
}

func placementOutcome(receipt *models.Receipt) models.ReceiptStatus {
	if receipt.IsCrossDock {
		return models.ReceiptStatusReadyForShipment
	}
	return models.ReceiptStatusStocked
}

// MarkReadyForShipment releases a cross-dock receipt for shipping without placement.
func (e *Engine) MarkReadyForShipment(ctx context.Context, receiptId int) (*models.Receipt, error) {
	return e.mutateReceipt(ctx, "MarkReadyForShipment", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		return e.markReadyForShipment(uow, receipt)
	})
}

func (e *Engine) markReadyForShipment(uow *unitOfWork, receipt *models.Receipt) error {
	if err := requireReceiptStatus(receipt, models.ReceiptStatusAccepted, models.ReceiptStatusReadyForPlacement, models.ReceiptStatusPlacing); err != nil {
		return err
	}
	if !receipt.IsCrossDock {
		return utils.NewInvalidStatef("receipt %d is not cross-dock", receipt.ID)
	}
	if receipt.Status == models.ReceiptStatusPlacing {
		if err := requireTasksCompleted(uow, receipt.ID, models.TaskTypePlacement); err != nil {
			return err
		}
	}
	if err := AssertNoSkuStatusBlockers(uow.tx, receipt, "mark ready for shipment"); err != nil {
		return err
	}
	return e.setReceiptStatus(uow, receipt, models.ReceiptStatusReadyForShipment)
}

// StartShipping opens one SHIPPING task per pallet still holding stock.
func (e *Engine) StartShipping(ctx context.Context, receiptId int) ([]models.Task, error) {
	var tasks []models.Task
	_, err := e.mutateReceipt(ctx, "StartShipping", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		var err error
		tasks, err = e.startShipping(uow, receipt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (e *Engine) startShipping(uow *unitOfWork, receipt *models.Receipt) ([]models.Task, error) {
	if err := requireReceiptStatus(receipt, models.ReceiptStatusReadyForShipment); err != nil {
		return nil, err
	}
	if err := AssertNoSkuStatusBlockers(uow.tx, receipt, "start shipping"); err != nil {
		return nil, err
	}
	pallets, err := models.ListReceiptPallets(uow.tx, receipt.ID, []models.PalletStatus{models.PalletStatusPlaced, models.PalletStatusReceived})
	if err != nil {
		return nil, err
	}
	var tasks []models.Task
	for i := range pallets {
		pallet := pallets[i]
		if pallet.Quantity <= 0 {
			continue
		}
		receiptId, palletId := receipt.ID, pallet.ID
		task, err := e.createTask(uow, models.NewTask{
			Type:             models.TaskTypeShipping,
			QtyAssigned:      pallet.Quantity,
			ReceiptId:        &receiptId,
			PalletId:         &palletId,
			SourceLocationId: copyIntPtr(pallet.LocationId),
			PalletHoldStatus: pallet.Status,
		})
		if err != nil {
			return nil, err
		}
		before := pallet
		pallet.Status = models.PalletStatusPicking
		if err := e.savePallet(uow, before, &pallet); err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if len(tasks) == 0 {
		return nil, utils.NewInvalidStatef("receipt %d has no pallets to ship", receipt.ID)
	}
	if err := e.setReceiptStatus(uow, receipt, models.ReceiptStatusShippingInProgress); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (e *Engine) CompleteShipping(ctx context.Context, receiptId int) (*models.Receipt, error) {
	return e.mutateReceipt(ctx, "CompleteShipping", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		if err := requireReceiptStatus(receipt, models.ReceiptStatusShippingInProgress); err != nil {
			return err
		}
		if err := requireTasksCompleted(uow, receipt.ID, models.TaskTypeShipping); err != nil {
			return err
		}
		return e.setReceiptStatus(uow, receipt, models.ReceiptStatusShipped)
	})
}

func (e *Engine) autoCompleteShipping(uow *unitOfWork, receiptId int) error {
	receipt, err := models.LockReceipt(uow.tx, receiptId)
	if err != nil {
		return err
	}
	if receipt.Status != models.ReceiptStatusShippingInProgress {
		return nil
	}
	if err := requireTasksCompleted(uow, receipt.ID, models.TaskTypeShipping); err != nil {
		if utils.IsInvalidState(err) {
			return nil
		}
		return err
	}
	return e.setReceiptStatus(uow, receipt, models.ReceiptStatusShipped)
}

// CancelReceipt cancels the receipt and every task still open on it.
func (e *Engine) CancelReceipt(ctx context.Context, receiptId int) (*models.Receipt, error) {
	return e.mutateReceipt(ctx, "CancelReceipt", receiptId, func(uow *unitOfWork, receipt *models.Receipt) error {
		if receipt.Status.IsTerminal() {
			return utils.NewInvalidStatef("receipt %d is %s and cannot be cancelled", receipt.ID, receipt.Status)
		}
		var tasks []models.Task
		if err := uow.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("receipt_id = ? AND status IN ?", receipt.ID, models.OpenTaskStatuses).
			Order("id").Find(&tasks).Error; err != nil {
			return err
		}
		for i := range tasks {
			if err := e.cancelTask(uow, &tasks[i]); err != nil {
				return err
			}
		}
		return e.setReceiptStatus(uow, receipt, models.ReceiptStatusCancelled)
	})
}

// PalletLocationAt returns the location a pallet occupied at the given time.
// Pallets without movements report their current location; nil means no location.
func (e *Engine) PalletLocationAt(ctx context.Context, palletId int, at time.Time) (*models.Location, error) {
	tx := e.db.WithContext(ctx)
	pallet, err := models.GetPallet(tx, palletId)
	if err != nil {
		return nil, err
	}
	locationId, found, err := models.LocationAt(tx, pallet.ID, at)
	if err != nil {
		return nil, err
	}
	if !found {
		locationId = pallet.LocationId
	}
	if locationId == nil {
		return nil, nil
	}
	return models.GetLocation(tx, *locationId)
}

// QuarantinePallet puts a pallet on hold so putaway routes it to a QUARANTINE location.
func (e *Engine) QuarantinePallet(ctx context.Context, palletId int) (*models.Pallet, error) {
	var pallet *models.Pallet
	err := e.run(ctx, "QuarantinePallet", func(uow *unitOfWork) error {
		var err error
		pallet, err = models.LockPallet(uow.tx, palletId)
		if err != nil {
			return err
		}
		switch pallet.Status {
		case models.PalletStatusReceiving, models.PalletStatusReceived, models.PalletStatusDamaged, models.PalletStatusPlaced:
		default:
			return utils.NewInvalidState("pallet", []string{
				string(models.PalletStatusReceiving), string(models.PalletStatusReceived),
				string(models.PalletStatusDamaged), string(models.PalletStatusPlaced),
			}, string(pallet.Status))
		}
		before := *pallet
		pallet.Status = models.PalletStatusQuarantine
		return e.savePallet(uow, before, pallet)
	})
	if err != nil {
		return nil, err
	}
	return pallet, nil
}
