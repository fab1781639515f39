package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
)

// RecordScan books one receiving scan: the pallet is initialized on first
// touch, quantities accumulate on pallet and task, discrepancies are persisted
// and the task starts if it had not.
func (e *Engine) RecordScan(ctx context.Context, taskId int, input models.NewScan) (*models.Scan, error) {
	if input.Quantity <= 0 {
		return nil, utils.NewValidationFailure("quantity must be greater than 0")
	}
	if strings.TrimSpace(input.PalletCode) == "" {
		return nil, utils.NewValidationFailure("pallet code is required")
	}
	unlock := e.lockTask(ctx, taskId, "RecordScan")
	defer unlock()

	var scan *models.Scan
	err := e.run(ctx, "RecordScan", func(uow *unitOfWork) error {
		var err error
		scan, err = e.recordReceivingScan(uow, taskId, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

func (e *Engine) recordReceivingScan(uow *unitOfWork, taskId int, input models.NewScan) (*models.Scan, error) {
	task, err := models.LockTask(uow.tx, taskId)
	if err != nil {
		return nil, err
	}
	if task.Type != models.TaskTypeReceiving {
		return nil, utils.NewInvalidStatef("task %d is a %s task, expected %s", task.ID, task.Type, models.TaskTypeReceiving)
	}
	if task.Status.IsTerminal() {
		return nil, utils.NewInvalidState("task", []string{
			string(models.TaskStatusNew), string(models.TaskStatusAssigned), string(models.TaskStatusInProgress),
		}, string(task.Status))
	}
	if task.ReceiptId == nil || task.ReceiptLineId == nil {
		return nil, utils.NewInvalidStatef("receiving task %d is not linked to a receipt line", task.ID)
	}
	receipt, err := models.LockReceipt(uow.tx, *task.ReceiptId)
	if err != nil {
		return nil, err
	}
	if receipt.Status != models.ReceiptStatusInProgress && receipt.Status != models.ReceiptStatusPendingResolution {
		return nil, utils.NewInvalidState("receipt", []string{
			string(models.ReceiptStatusInProgress), string(models.ReceiptStatusPendingResolution),
		}, string(receipt.Status))
	}
	line := findLine(receipt, *task.ReceiptLineId)
	if line == nil {
		return nil, utils.NewNotFound("receipt line", *task.ReceiptLineId)
	}

	pallet, err := e.touchPallet(uow, strings.TrimSpace(input.PalletCode))
	if err != nil {
		return nil, err
	}
	before := *pallet
	switch pallet.Status {
	case models.PalletStatusEmpty:
		skuId, receiptId := line.SkuId, receipt.ID
		pallet.SkuId = &skuId
		pallet.ReceiptId = &receiptId
		pallet.LocationId = receipt.DockLocationId
		pallet.LotNumber = firstNonEmpty(input.LotNumber, line.LotNumber)
		pallet.ExpiryDate = input.ExpiryDate
		if pallet.ExpiryDate == nil {
			pallet.ExpiryDate = line.ExpiryDate
		}
		pallet.Status = models.PalletStatusReceiving
	case models.PalletStatusReceiving, models.PalletStatusDamaged:
		if pallet.SkuId != nil && *pallet.SkuId != line.SkuId {
			return nil, utils.NewConflict("pallet %s already holds sku %d; mixed SKU pallets are not allowed", pallet.Code, *pallet.SkuId)
		}
		if pallet.ReceiptId != nil && *pallet.ReceiptId != receipt.ID {
			return nil, utils.NewConflict("pallet %s is being received on receipt %d", pallet.Code, *pallet.ReceiptId)
		}
	default:
		return nil, utils.NewInvalidState("pallet", []string{
			string(models.PalletStatusEmpty), string(models.PalletStatusReceiving), string(models.PalletStatusDamaged),
		}, string(pallet.Status))
	}
	if input.Damaged {
		pallet.Status = models.PalletStatusDamaged
	}
	pallet.Quantity += input.Quantity

	scanned, err := models.SumScannedQty(uow.tx, line.ID)
	if err != nil {
		return nil, err
	}
	candidates := Evaluate(expectationFromLine(*line), Observation{
		Barcode:       input.Barcode,
		Sscc:          input.Sscc,
		LotNumber:     input.LotNumber,
		ExpiryDate:    input.ExpiryDate,
		Damaged:       input.Damaged,
		CumulativeQty: scanned + input.Quantity,
	}, uow.now)

	palletId := pallet.ID
	scan := newScanRow(uow, task.ID, &palletId, pallet.Code, input)
	scan.Discrepancy = len(candidates) > 0
	if err := uow.tx.Create(&scan).Error; err != nil {
		return nil, err
	}
	e.auditCreate(uow, entityScan, scan.ID, scan)

	for _, candidate := range candidates {
		discrepancy := newDiscrepancy(candidate, task, &scan.ID, uow.actor, uow.now)
		if err := uow.tx.Create(&discrepancy).Error; err != nil {
			return nil, err
		}
		e.auditCreate(uow, entityDiscrepancy, discrepancy.ID, discrepancy)
	}

	if err := e.savePallet(uow, before, pallet); err != nil {
		return nil, err
	}
	taskBefore := *task
	task.QtyDone += input.Quantity
	e.autoStartIfNeeded(uow, task)
	if err := e.saveTask(uow, taskBefore, task); err != nil {
		return nil, err
	}
	return &scan, nil
}

// touchPallet locks the pallet with the code, registering an EMPTY one when unknown.
func (e *Engine) touchPallet(uow *unitOfWork, code string) (*models.Pallet, error) {
	pallet, err := models.LockPalletByCode(uow.tx, code)
	if err != nil {
		return nil, err
	}
	if pallet != nil {
		return pallet, nil
	}
	pallet = &models.Pallet{Code: code, Status: models.PalletStatusEmpty}
	if err := uow.tx.Create(pallet).Error; err != nil {
		return nil, err
	}
	e.auditCreate(uow, entityPallet, pallet.ID, *pallet)
	return pallet, nil
}

// RecordPlacement books the single scan that puts a pallet on its target
// location and completes the placement task.
func (e *Engine) RecordPlacement(ctx context.Context, taskId int, input models.NewScan) (*models.Scan, error) {
	if strings.TrimSpace(input.LocationCode) == "" {
		return nil, utils.NewValidationFailure("location code is required")
	}
	unlock := e.lockTask(ctx, taskId, "RecordPlacement")
	defer unlock()

	var scan *models.Scan
	err := e.run(ctx, "RecordPlacement", func(uow *unitOfWork) error {
		var err error
		scan, err = e.recordPlacement(uow, taskId, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

func (e *Engine) recordPlacement(uow *unitOfWork, taskId int, input models.NewScan) (*models.Scan, error) {
	task, err := models.LockTask(uow.tx, taskId)
	if err != nil {
		return nil, err
	}
	if task.Type != models.TaskTypePlacement {
		return nil, utils.NewInvalidStatef("task %d is a %s task, expected %s", task.ID, task.Type, models.TaskTypePlacement)
	}
	if task.Status != models.TaskStatusInProgress {
		return nil, utils.NewInvalidState("task", []string{string(models.TaskStatusInProgress)}, string(task.Status))
	}
	if task.TargetLocationId == nil || task.PalletId == nil {
		return nil, utils.NewInvalidStatef("placement task %d has no pallet or target location", task.ID)
	}
	target, err := models.GetLocation(uow.tx, *task.TargetLocationId)
	if err != nil {
		return nil, err
	}
	if !utils.SameCode(input.LocationCode, target.Code) {
		return nil, utils.NewValidationFailure("scanned location %s does not match target location %s", strings.TrimSpace(input.LocationCode), target.Code)
	}
	pallet, err := models.LockPallet(uow.tx, *task.PalletId)
	if err != nil {
		return nil, err
	}
	if code := strings.TrimSpace(input.PalletCode); code != "" && !utils.SameCode(code, pallet.Code) {
		return nil, utils.NewValidationFailure("scanned pallet %s does not match task pallet %s", code, pallet.Code)
	}

	input.Quantity = task.QtyAssigned
	palletId := pallet.ID
	scan := newScanRow(uow, task.ID, &palletId, pallet.Code, input)
	scan.LocationCode = target.Code
	if err := uow.tx.Create(&scan).Error; err != nil {
		return nil, err
	}
	e.auditCreate(uow, entityScan, scan.ID, scan)

	if err := e.moveRecord(uow, models.MovementKindPlace, pallet, pallet.LocationId, &target.ID, pallet.Quantity, task.ID, scan.ID); err != nil {
		return nil, err
	}

	before := *pallet
	pallet.LocationId = &target.ID
	pallet.Status = models.PalletStatusPlaced
	if err := e.savePallet(uow, before, pallet); err != nil {
		return nil, err
	}

	taskBefore := *task
	task.QtyDone = task.QtyAssigned
	if err := e.saveTask(uow, taskBefore, task); err != nil {
		return nil, err
	}
	if err := e.completeTask(uow, task); err != nil {
		return nil, err
	}
	return &scan, nil
}

func (e *Engine) moveRecord(uow *unitOfWork, kind models.MovementKind, pallet *models.Pallet, from, to *int, quantity, taskId, scanId int) error {
	movement := models.PalletMovement{
		PalletId:       pallet.ID,
		Kind:           kind,
		FromLocationId: copyIntPtr(from),
		ToLocationId:   copyIntPtr(to),
		Quantity:       quantity,
		TaskId:         &taskId,
		ScanId:         &scanId,
		MovedBy:        uow.actor,
		MovedAt:        uow.now,
	}
	if err := uow.tx.Create(&movement).Error; err != nil {
		return err
	}
	e.auditCreate(uow, entityMovement, movement.ID, movement)
	return nil
}

func newScanRow(uow *unitOfWork, taskId int, palletId *int, palletCode string, input models.NewScan) models.Scan {
	deviceId := strings.TrimSpace(input.DeviceId)
	if deviceId == "" {
		deviceId, _ = utils.GetDeviceIdFromContext(uow.ctx)
	}
	return models.Scan{
		TaskId:       taskId,
		PalletId:     palletId,
		PalletCode:   palletCode,
		Barcode:      strings.TrimSpace(input.Barcode),
		Sscc:         strings.TrimSpace(input.Sscc),
		LotNumber:    strings.TrimSpace(input.LotNumber),
		ExpiryDate:   input.ExpiryDate,
		Quantity:     input.Quantity,
		LocationCode: strings.TrimSpace(input.LocationCode),
		DeviceId:     deviceId,
		Damaged:      input.Damaged,
		RequestId:    utils.NilIfEmpty(strings.TrimSpace(input.RequestId)),
		ScannedBy:    uow.actor,
		ScannedAt:    uow.now,
	}
}

func findLine(receipt *models.Receipt, lineId int) *models.ReceiptLine {
	for i := range receipt.Lines {
		if receipt.Lines[i].ID == lineId {
			return &receipt.Lines[i]
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
