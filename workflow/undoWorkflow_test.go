package workflow

import (
	"testing"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/stretchr/testify/require"
)

func TestUndo_ReceivingResetsPalletToEmpty(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	_, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 50})

	_, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: 5, LotNumber: "L9"})
	require.NoError(t, err)

	result, err := f.engine.UndoLastScan(f.ctx, tasks[0].ID)
	require.NoError(t, err)
	require.Equal(t, 5, result.QtyReverted)

	pallet := f.palletByCode(t, "P-1")
	require.Equal(t, models.PalletStatusEmpty, pallet.Status)
	require.Equal(t, 0, pallet.Quantity)
	require.Nil(t, pallet.SkuId)
	require.Nil(t, pallet.LocationId)
	require.Nil(t, pallet.ReceiptId)
	require.Empty(t, pallet.LotNumber)

	var scans int64
	require.NoError(t, f.db.Model(&models.Scan{}).Where("task_id = ?", tasks[0].ID).Count(&scans).Error)
	require.Zero(t, scans)
}

func TestUndo_RestoresPreScanState(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 10, LotNumber: "L1"})

	created, err := f.engine.BulkCreatePallets(f.ctx, []string{"P-1"})
	require.NoError(t, err)
	require.Len(t, created.Succeeded, 1)
	_, err = f.engine.AssignTask(f.ctx, tasks[0].ID, "bob")
	require.NoError(t, err)

	palletBefore := f.palletByCode(t, "P-1")
	taskBefore := f.reloadTask(t, tasks[0].ID)
	discrepanciesBefore := f.discrepancies(t, receipt.ID)

	// barcode and lot mismatch leave two discrepancies tied to the scan
	scan, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Barcode: "WRONG", LotNumber: "L2", Quantity: 4})
	require.NoError(t, err)
	require.True(t, scan.Discrepancy)
	require.Len(t, f.discrepancies(t, receipt.ID), 2)

	result, err := f.engine.UndoLastScan(f.ctx, tasks[0].ID)
	require.NoError(t, err)
	require.Len(t, result.DeletedDiscrepancyIds, 2)

	palletAfter := f.palletByCode(t, "P-1")
	taskAfter := f.reloadTask(t, tasks[0].ID)
	palletAfter.UpdatedAt = palletBefore.UpdatedAt
	taskAfter.UpdatedAt = taskBefore.UpdatedAt

	require.Equal(t, *palletBefore, *palletAfter)
	require.Equal(t, *taskBefore, *taskAfter)
	require.Equal(t, discrepanciesBefore, f.discrepancies(t, receipt.ID))
}

func TestUndo_PartialReceivingKeepsPalletReceiving(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	_, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 50})

	for _, qty := range []int{8, 5} {
		_, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: qty})
		require.NoError(t, err)
	}
	result, err := f.engine.UndoLastScan(f.ctx, tasks[0].ID)
	require.NoError(t, err)
	require.Equal(t, 5, result.QtyReverted)

	pallet := f.palletByCode(t, "P-1")
	require.Equal(t, models.PalletStatusReceiving, pallet.Status)
	require.Equal(t, 8, pallet.Quantity)
	task := f.reloadTask(t, tasks[0].ID)
	require.Equal(t, 8, task.QtyDone)
	require.Equal(t, models.TaskStatusInProgress, task.Status)
}

func TestUndo_PartialReceivingKeepsDamageFromEarlierScans(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	_, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 50})

	for _, scan := range []models.NewScan{
		{PalletCode: "P-1", Quantity: 8},
		{PalletCode: "P-1", Quantity: 3, Damaged: true},
		{PalletCode: "P-1", Quantity: 5},
	} {
		_, err := f.engine.RecordScan(f.ctx, tasks[0].ID, scan)
		require.NoError(t, err)
	}
	require.Equal(t, models.PalletStatusDamaged, f.palletByCode(t, "P-1").Status)

	_, err := f.engine.UndoLastScan(f.ctx, tasks[0].ID)
	require.NoError(t, err)
	pallet := f.palletByCode(t, "P-1")
	require.Equal(t, models.PalletStatusDamaged, pallet.Status)
	require.Equal(t, 11, pallet.Quantity)

	// undoing the damaged scan itself clears the flag
	_, err = f.engine.UndoLastScan(f.ctx, tasks[0].ID)
	require.NoError(t, err)
	pallet = f.palletByCode(t, "P-1")
	require.Equal(t, models.PalletStatusReceiving, pallet.Status)
	require.Equal(t, 8, pallet.Quantity)
}

func TestUndo_CompletedTaskIsImmutable(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	_, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 5})

	_, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: 5})
	require.NoError(t, err)
	_, err = f.engine.CompleteTask(f.ctx, tasks[0].ID)
	require.NoError(t, err)

	_, err = f.engine.UndoLastScan(f.ctx, tasks[0].ID)
	require.True(t, utils.IsConflict(err), "got %v", err)
}

func TestUndo_WithoutScans(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	_, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 5})
	_, err := f.engine.AssignTask(f.ctx, tasks[0].ID, "bob")
	require.NoError(t, err)

	_, err = f.engine.UndoLastScan(f.ctx, tasks[0].ID)
	require.True(t, utils.IsNotFound(err), "got %v", err)
}

func TestUndo_WritesAuditRows(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	_, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 50})

	scan, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: 5})
	require.NoError(t, err)
	_, err = f.engine.UndoLastScan(f.ctx, tasks[0].ID)
	require.NoError(t, err)

	pallet := f.palletByCode(t, "P-1")
	rows, err := models.ListHistory(f.db, entityPallet, pallet.ID)
	require.NoError(t, err)
	fields := map[string]bool{}
	for _, row := range rows {
		fields[row.Action+":"+row.Field] = true
		require.Equal(t, "alice", row.Actor)
		require.Equal(t, "test-correlation", row.CorrelationId)
	}
	for _, want := range []string{"STATUS_CHANGE:status", "LOCATION_CHANGE:location_id", "UPDATE:quantity", "UPDATE:sku_id", "UPDATE:receipt_id"} {
		require.True(t, fields[want], "missing audit %s in %v", want, fields)
	}

	scanRows, err := models.ListHistory(f.db, entityScan, scan.ID)
	require.NoError(t, err)
	require.Len(t, scanRows, 2)
	require.Equal(t, AuditActionCreate, scanRows[0].Action)
	require.Equal(t, AuditActionDelete, scanRows[1].Action)
}
