package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []ReceiptEvent
}

func (p *recordingPublisher) PublishReceiptStatus(_ context.Context, event ReceiptEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) transitions() []models.ReceiptStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.ReceiptStatus, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.ToStatus)
	}
	return out
}

func TestImportReceipt_IdempotentByMessageId(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	input := models.NewReceipt{
		DocumentNumber: "ASN-100",
		MessageId:      "msg-100",
		Lines:          []models.NewReceiptLine{{SkuId: s1.ID, ExpectedQty: 5}},
	}

	first, created, err := f.engine.ImportReceipt(f.ctx, input)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.ReceiptStatusDraft, first.Status)
	require.Len(t, first.Lines, 1)
	require.Equal(t, 1, first.Lines[0].LineNo)

	again, created, err := f.engine.ImportReceipt(f.ctx, input)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	var count int64
	require.NoError(t, f.db.Model(&models.Receipt{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestImportReceipt_Validation(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)

	_, _, err := f.engine.ImportReceipt(f.ctx, models.NewReceipt{DocumentNumber: "ASN-1"})
	require.True(t, utils.IsValidationFailure(err), "got %v", err)

	_, _, err = f.engine.ImportReceipt(f.ctx, models.NewReceipt{
		DocumentNumber: "ASN-1",
		Lines:          []models.NewReceiptLine{{SkuId: s1.ID, ExpectedQty: 0}},
	})
	require.True(t, utils.IsValidationFailure(err), "got %v", err)

	_, _, err = f.engine.ImportReceipt(f.ctx, models.NewReceipt{
		DocumentNumber: "ASN-1",
		Lines:          []models.NewReceiptLine{{SkuId: 9999, ExpectedQty: 1}},
	})
	require.True(t, utils.IsNotFound(err), "got %v", err)
}

func TestReceiptLifecycle_OutOfOrderCallsAreRejected(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, _, err := f.engine.ImportReceipt(f.ctx, models.NewReceipt{
		DocumentNumber: "ASN-1",
		Lines:          []models.NewReceiptLine{{SkuId: s1.ID, ExpectedQty: 1}},
	})
	require.NoError(t, err)

	_, err = f.engine.StartReceiving(f.ctx, receipt.ID)
	require.True(t, utils.IsInvalidState(err), "got %v", err)
	_, err = f.engine.CompleteReceiving(f.ctx, receipt.ID)
	require.True(t, utils.IsInvalidState(err), "got %v", err)

	confirmed, err := f.engine.ConfirmReceipt(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.NotNil(t, confirmed.ConfirmedAt)
	_, err = f.engine.ConfirmReceipt(f.ctx, receipt.ID)
	require.True(t, utils.IsInvalidState(err), "got %v", err)

	tasks, err := f.engine.StartReceiving(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	// nothing completed yet
	_, err = f.engine.CompleteReceiving(f.ctx, receipt.ID)
	require.True(t, utils.IsInvalidState(err), "got %v", err)

	_, err = f.engine.ConfirmReceipt(f.ctx, 4242)
	require.True(t, utils.IsNotFound(err), "got %v", err)
}

func TestReceipt_PendingResolutionRoundTrip(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 5})

	_, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Barcode: "WRONG", Quantity: 5})
	require.NoError(t, err)
	_, err = f.engine.CompleteTask(f.ctx, tasks[0].ID)
	require.NoError(t, err)

	pending, err := f.engine.CompleteReceiving(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReceiptStatusPendingResolution, pending.Status)

	_, err = f.engine.ResolveAndContinue(f.ctx, receipt.ID)
	var blocked *utils.BlockerError
	require.True(t, errors.As(err, &blocked), "got %v", err)
	require.Len(t, blocked.Blockers, 1)
	require.Equal(t, utils.BlockerKindUnresolvedDiscrepancy, blocked.Blockers[0].Kind)
	require.True(t, utils.IsConflict(err))

	rows := f.discrepancies(t, receipt.ID)
	require.Len(t, rows, 1)
	resolved, err := f.engine.ResolveDiscrepancy(f.ctx, rows[0].ID, "  relabelled  ")
	require.NoError(t, err)
	require.True(t, resolved.Resolved)
	require.Equal(t, "alice", resolved.ResolvedBy)
	require.Equal(t, "relabelled", resolved.Comment)
	_, err = f.engine.ResolveDiscrepancy(f.ctx, rows[0].ID, "again")
	require.True(t, utils.IsInvalidState(err), "got %v", err)

	back, err := f.engine.ResolveAndContinue(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReceiptStatusInProgress, back.Status)

	accepted, err := f.engine.CompleteReceiving(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReceiptStatusAccepted, accepted.Status)
	require.Equal(t, models.PalletStatusReceived, f.palletByCode(t, "P-1").Status)
}

func TestPlacement_StocksReceiptWhenLastTaskCompletes(t *testing.T) {
	publisher := &recordingPublisher{}
	f := newFixture(t)
	f.engine = NewEngine(f.db, f.engine.Settings(), WithClock(f.clock.Now), WithEventPublisher(publisher))

	s1 := f.sku(t, "S1", models.SkuStatusActive)
	a1 := f.location(t, "A-01", models.LocationTypeStorage, 1)
	a2 := f.location(t, "A-02", models.LocationTypeStorage, 1)
	receipt, tasks := f.receiving(t, false,
		models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 4},
		models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 6},
	)
	pallets := f.receiveAll(t, receipt, tasks)

	_, err := f.engine.MarkReadyForPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	result, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReceiptStatusPlacing, result.Receipt.Status)
	require.Empty(t, result.Skipped)
	require.Len(t, result.Tasks, 2)

	// capacity counts the pallet already routed to A-01
	require.Equal(t, a1.ID, *result.Tasks[0].TargetLocationId)
	require.Equal(t, a2.ID, *result.Tasks[1].TargetLocationId)
	for _, p := range pallets {
		require.Equal(t, models.PalletStatusInTransit, f.reloadPallet(t, p.ID).Status)
	}

	// RecordPlacement needs a started task and the right location
	_, err = f.engine.RecordPlacement(f.ctx, result.Tasks[0].ID, models.NewScan{LocationCode: "A-01"})
	require.True(t, utils.IsInvalidState(err), "got %v", err)
	_, err = f.engine.StartTask(f.ctx, result.Tasks[0].ID)
	require.NoError(t, err)
	_, err = f.engine.RecordPlacement(f.ctx, result.Tasks[0].ID, models.NewScan{LocationCode: "A-02"})
	require.True(t, utils.IsValidationFailure(err), "got %v", err)

	_, err = f.engine.RecordPlacement(f.ctx, result.Tasks[0].ID, models.NewScan{LocationCode: "a-01 "})
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCompleted, f.reloadTask(t, result.Tasks[0].ID).Status)
	require.Equal(t, models.ReceiptStatusPlacing, f.reloadReceipt(t, receipt.ID).Status)

	_, err = f.engine.StartTask(f.ctx, result.Tasks[1].ID)
	require.NoError(t, err)
	_, err = f.engine.RecordPlacement(f.ctx, result.Tasks[1].ID, models.NewScan{LocationCode: "A-02"})
	require.NoError(t, err)

	stocked := f.reloadReceipt(t, receipt.ID)
	require.Equal(t, models.ReceiptStatusStocked, stocked.Status)
	require.NotNil(t, stocked.ClosedAt)
	placed := f.reloadPallet(t, pallets[1].ID)
	require.Equal(t, models.PalletStatusPlaced, placed.Status)
	require.Equal(t, a2.ID, *placed.LocationId)

	require.Equal(t, []models.ReceiptStatus{
		models.ReceiptStatusConfirmed,
		models.ReceiptStatusInProgress,
		models.ReceiptStatusAccepted,
		models.ReceiptStatusReadyForPlacement,
		models.ReceiptStatusPlacing,
		models.ReceiptStatusStocked,
	}, publisher.transitions())
}

func TestPlacement_SkippedPalletIsPickedUpLater(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	f.location(t, "A-01", models.LocationTypeStorage, 1)
	receipt, tasks := f.receiving(t, false,
		models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 1},
		models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 1},
	)
	pallets := f.receiveAll(t, receipt, tasks)

	result, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	require.Len(t, result.Skipped, 1)
	require.Equal(t, pallets[1].ID, result.Skipped[0].PalletId)
	require.Equal(t, models.PalletStatusReceived, f.reloadPallet(t, pallets[1].ID).Status)

	again, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Empty(t, again.Tasks)
	require.Len(t, again.Skipped, 1)

	a2 := f.location(t, "A-02", models.LocationTypeStorage, 0)
	last, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, last.Tasks, 1)
	require.Equal(t, a2.ID, *last.Tasks[0].TargetLocationId)
	require.Equal(t, pallets[1].ID, *last.Tasks[0].PalletId)
}

func TestPlacement_BlockedByInactiveSku(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	f.location(t, "A-01", models.LocationTypeStorage, 0)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 2})
	f.receiveAll(t, receipt, tasks)

	require.NoError(t, f.db.Model(&models.Sku{}).Where("id = ?", s1.ID).Update("status", models.SkuStatusBlocked).Error)

	_, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	var blocked *utils.BlockerError
	require.True(t, errors.As(err, &blocked), "got %v", err)
	require.Equal(t, "start placement", blocked.Operation)
	require.Len(t, blocked.Blockers, 1)
	require.Equal(t, utils.BlockerKindLineSkuNotActive, blocked.Blockers[0].Kind)
	require.Equal(t, "S1", blocked.Blockers[0].SkuCode)
	require.Equal(t, models.ReceiptStatusAccepted, f.reloadReceipt(t, receipt.ID).Status)
}

func TestPlacement_QuarantineAndDamageRouting(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	storage := f.location(t, "A-01", models.LocationTypeStorage, 0)
	quarantine := f.location(t, "Q-01", models.LocationTypeQuarantine, 0)
	receipt, tasks := f.receiving(t, false,
		models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 1},
		models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 1},
	)
	pallets := f.receiveAll(t, receipt, tasks)

	held, err := f.engine.QuarantinePallet(f.ctx, pallets[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.PalletStatusQuarantine, held.Status)

	result, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, result.Tasks, 2)
	require.Equal(t, quarantine.ID, *result.Tasks[0].TargetLocationId)
	require.Equal(t, storage.ID, *result.Tasks[1].TargetLocationId)

	_, err = f.engine.QuarantinePallet(f.ctx, pallets[1].ID)
	require.True(t, utils.IsInvalidState(err), "in-transit pallets cannot be quarantined, got %v", err)
}

func TestPlacement_CancelledTaskKeepsPalletHold(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	storage := f.location(t, "A-01", models.LocationTypeStorage, 0)
	quarantine := f.location(t, "Q-01", models.LocationTypeQuarantine, 0)
	receipt, tasks := f.receiving(t, false,
		models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 1},
		models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 1},
	)
	pallets := f.receiveAll(t, receipt, tasks)
	_, err := f.engine.QuarantinePallet(f.ctx, pallets[0].ID)
	require.NoError(t, err)

	result, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, result.Tasks, 2)
	require.Equal(t, models.PalletStatusInTransit, f.reloadPallet(t, pallets[0].ID).Status)

	_, err = f.engine.CancelTask(f.ctx, result.Tasks[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.PalletStatusQuarantine, f.reloadPallet(t, pallets[0].ID).Status)

	again, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, again.Tasks, 1)
	require.Equal(t, pallets[0].ID, *again.Tasks[0].PalletId)
	require.Equal(t, quarantine.ID, *again.Tasks[0].TargetLocationId)

	_, err = f.engine.CancelReceipt(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, models.PalletStatusQuarantine, f.reloadPallet(t, pallets[0].ID).Status)
	require.Equal(t, models.PalletStatusReceived, f.reloadPallet(t, pallets[1].ID).Status)
	require.Equal(t, storage.ID, *f.reloadTask(t, result.Tasks[1].ID).TargetLocationId)
}

func TestCrossDock_PlacementLeadsToShipment(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	f.location(t, "A-01", models.LocationTypeStorage, 0)
	xd := f.location(t, "XD-1", models.LocationTypeCrossDock, 0)
	receipt, tasks := f.receiving(t, true, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 3})
	f.receiveAll(t, receipt, tasks)

	result, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	require.Equal(t, xd.ID, *result.Tasks[0].TargetLocationId)

	_, err = f.engine.StartTask(f.ctx, result.Tasks[0].ID)
	require.NoError(t, err)
	_, err = f.engine.RecordPlacement(f.ctx, result.Tasks[0].ID, models.NewScan{LocationCode: "XD-1"})
	require.NoError(t, err)
	require.Equal(t, models.ReceiptStatusReadyForShipment, f.reloadReceipt(t, receipt.ID).Status)

	shipping, err := f.engine.StartShipping(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, shipping, 1)
	require.Equal(t, xd.ID, *shipping[0].SourceLocationId)
	require.Equal(t, models.ReceiptStatusShippingInProgress, f.reloadReceipt(t, receipt.ID).Status)

	// early completion is refused while the shipping task is open
	_, err = f.engine.CompleteShipping(f.ctx, receipt.ID)
	require.True(t, utils.IsInvalidState(err), "got %v", err)
}

func TestCrossDock_StatusesAreReservedForCrossDockReceipts(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 1})
	f.receiveAll(t, receipt, tasks)

	_, err := f.engine.MarkReadyForShipment(f.ctx, receipt.ID)
	require.True(t, utils.IsInvalidState(err), "got %v", err)
	_, err = f.engine.StartShipping(f.ctx, receipt.ID)
	require.True(t, utils.IsInvalidState(err), "got %v", err)
	require.Equal(t, models.ReceiptStatusAccepted, f.reloadReceipt(t, receipt.ID).Status)
}

func TestCancelReceipt_CancelsOpenTasksAndReleasesPallets(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	f.location(t, "A-01", models.LocationTypeStorage, 0)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 2})
	pallets := f.receiveAll(t, receipt, tasks)

	result, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)

	cancelled, err := f.engine.CancelReceipt(f.ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReceiptStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ClosedAt)

	require.Equal(t, models.TaskStatusCancelled, f.reloadTask(t, result.Tasks[0].ID).Status)
	require.Equal(t, models.TaskStatusCompleted, f.reloadTask(t, tasks[0].ID).Status)
	require.Equal(t, models.PalletStatusReceived, f.reloadPallet(t, pallets[0].ID).Status)

	_, err = f.engine.CancelReceipt(f.ctx, receipt.ID)
	require.True(t, utils.IsInvalidState(err), "got %v", err)
}

func TestPalletLocationAt(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	a1 := f.location(t, "A-01", models.LocationTypeStorage, 0)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 2})
	pallets := f.receiveAll(t, receipt, tasks)
	dockId := *f.reloadPallet(t, pallets[0].ID).LocationId

	// no movement yet: current location
	loc, err := f.engine.PalletLocationAt(f.ctx, pallets[0].ID, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, dockId, loc.ID)

	beforePlacement := f.clock.Now()
	f.clock.Advance(time.Hour)
	result, err := f.engine.StartPlacement(f.ctx, receipt.ID)
	require.NoError(t, err)
	_, err = f.engine.StartTask(f.ctx, result.Tasks[0].ID)
	require.NoError(t, err)
	_, err = f.engine.RecordPlacement(f.ctx, result.Tasks[0].ID, models.NewScan{LocationCode: "A-01"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	loc, err = f.engine.PalletLocationAt(f.ctx, pallets[0].ID, beforePlacement)
	require.NoError(t, err)
	require.Equal(t, dockId, loc.ID)

	loc, err = f.engine.PalletLocationAt(f.ctx, pallets[0].ID, f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, a1.ID, loc.ID)

	_, err = f.engine.PalletLocationAt(f.ctx, 9999, f.clock.Now())
	require.True(t, utils.IsNotFound(err), "got %v", err)
}
