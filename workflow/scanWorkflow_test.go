package workflow

import (
	"testing"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
)

func TestReceiving_ShortageIsAutoResolvedAndReceiptAccepted(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 50})

	scan, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Barcode: "S1", Quantity: 30})
	if err != nil {
		t.Fatalf("record scan: %v", err)
	}
	if scan.Discrepancy {
		t.Fatalf("expected a clean scan")
	}
	pallet := f.palletByCode(t, "P-1")
	if pallet.Quantity != 30 || pallet.Status != models.PalletStatusReceiving {
		t.Fatalf("unexpected pallet %+v", pallet)
	}
	if pallet.SkuId == nil || *pallet.SkuId != s1.ID {
		t.Fatalf("expected pallet sku %d, got %v", s1.ID, pallet.SkuId)
	}
	task := f.reloadTask(t, tasks[0].ID)
	if task.Status != models.TaskStatusInProgress || task.QtyDone != 30 || task.StartedAt == nil {
		t.Fatalf("expected auto-started task with 30 done, got %+v", task)
	}

	if _, err := f.engine.CompleteTask(f.ctx, task.ID); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	rows := f.discrepancies(t, receipt.ID)
	if len(rows) != 1 || rows[0].Type != models.DiscrepancyTypeUnderQty {
		t.Fatalf("expected one UNDER_QTY, got %+v", rows)
	}
	if !rows[0].Resolved || rows[0].ResolvedBy != utils.SystemActor {
		t.Fatalf("expected UNDER_QTY resolved by system, got %+v", rows[0])
	}
	if *rows[0].ExpectedQty != 50 || *rows[0].ActualQty != 30 {
		t.Fatalf("unexpected quantities %d/%d", *rows[0].ExpectedQty, *rows[0].ActualQty)
	}
	last, err := models.LastScanForTask(f.db, task.ID)
	if err != nil || last == nil || !last.Discrepancy {
		t.Fatalf("expected the last scan to be flagged, got %+v (%v)", last, err)
	}

	updated, err := f.engine.CompleteReceiving(f.ctx, receipt.ID)
	if err != nil {
		t.Fatalf("complete receiving: %v", err)
	}
	if updated.Status != models.ReceiptStatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", updated.Status)
	}
	if p := f.reloadPallet(t, pallet.ID); p.Status != models.PalletStatusReceived {
		t.Fatalf("expected pallet RECEIVED, got %s", p.Status)
	}
}

func TestReceiving_ShortageLeftOpenWhenPolicyDisabled(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) { s.AutoResolveUnderQty = false })
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 50})

	if _, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: 30}); err != nil {
		t.Fatalf("record scan: %v", err)
	}
	if _, err := f.engine.CompleteTask(f.ctx, tasks[0].ID); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	updated, err := f.engine.CompleteReceiving(f.ctx, receipt.ID)
	if err != nil {
		t.Fatalf("complete receiving: %v", err)
	}
	if updated.Status != models.ReceiptStatusPendingResolution {
		t.Fatalf("expected PENDING_RESOLUTION, got %s", updated.Status)
	}
}

func TestReceiving_BarcodeMismatch(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 50})

	scan, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Barcode: "WRONG", Quantity: 5})
	if err != nil {
		t.Fatalf("record scan: %v", err)
	}
	if !scan.Discrepancy {
		t.Fatalf("expected scan flagged as discrepancy")
	}
	rows := f.discrepancies(t, receipt.ID)
	if len(rows) != 1 || rows[0].Type != models.DiscrepancyTypeBarcodeMismatch {
		t.Fatalf("expected BARCODE_MISMATCH, got %+v", rows)
	}
	if rows[0].ScanId == nil || *rows[0].ScanId != scan.ID || rows[0].Resolved {
		t.Fatalf("expected an open discrepancy linked to scan %d, got %+v", scan.ID, rows[0])
	}
}

func TestReceiving_OverQtyUsesLineTotal(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 10})

	first, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: 6})
	if err != nil || first.Discrepancy {
		t.Fatalf("first scan: %+v %v", first, err)
	}
	second, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-2", Quantity: 6})
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !second.Discrepancy {
		t.Fatalf("expected OVER_QTY on the second scan")
	}
	rows := f.discrepancies(t, receipt.ID)
	if len(rows) != 1 || rows[0].Type != models.DiscrepancyTypeOverQty || *rows[0].ActualQty != 12 {
		t.Fatalf("unexpected discrepancies %+v", rows)
	}
}

func TestReceiving_RejectsMixedSku(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	s2 := f.sku(t, "S2", models.SkuStatusActive)
	_, tasks := f.receiving(t, false,
		models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 10},
		models.NewReceiptLine{SkuId: s2.ID, ExpectedQty: 10},
	)

	if _, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: 4}); err != nil {
		t.Fatalf("scan S1: %v", err)
	}
	_, err := f.engine.RecordScan(f.ctx, tasks[1].ID, models.NewScan{PalletCode: "P-1", Quantity: 4})
	if !utils.IsConflict(err) {
		t.Fatalf("expected Conflict for mixed sku, got %v", err)
	}
	pallet := f.palletByCode(t, "P-1")
	if *pallet.SkuId != s1.ID || pallet.Quantity != 4 {
		t.Fatalf("pallet changed by rejected scan: %+v", pallet)
	}
	if task := f.reloadTask(t, tasks[1].ID); task.QtyDone != 0 || task.Status != models.TaskStatusNew {
		t.Fatalf("task changed by rejected scan: %+v", task)
	}
}

func TestReceiving_DamagedScanRoutesPallet(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 10})

	if _, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: 10, Damaged: true}); err != nil {
		t.Fatalf("record scan: %v", err)
	}
	if p := f.palletByCode(t, "P-1"); p.Status != models.PalletStatusDamaged {
		t.Fatalf("expected DAMAGED pallet, got %s", p.Status)
	}
	rows := f.discrepancies(t, receipt.ID)
	if len(rows) != 1 || rows[0].Type != models.DiscrepancyTypeDamage {
		t.Fatalf("expected DAMAGE discrepancy, got %+v", rows)
	}
}

func TestReceiving_Validation(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	receipt, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 10})

	if _, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: 0}); !utils.IsValidationFailure(err) {
		t.Fatalf("expected ValidationFailure for zero quantity, got %v", err)
	}
	if _, err := f.engine.RecordScan(f.ctx, 9999, models.NewScan{PalletCode: "P-1", Quantity: 1}); !utils.IsNotFound(err) {
		t.Fatalf("expected NotFound for unknown task, got %v", err)
	}
	if _, err := f.engine.CancelReceipt(f.ctx, receipt.ID); err != nil {
		t.Fatalf("cancel receipt: %v", err)
	}
	if _, err := f.engine.RecordScan(f.ctx, tasks[0].ID, models.NewScan{PalletCode: "P-1", Quantity: 1}); !utils.IsInvalidState(err) {
		t.Fatalf("expected InvalidState on cancelled task, got %v", err)
	}
}

func TestReceiving_QtyDoneNeverExceedsScannedTotal(t *testing.T) {
	f := newFixture(t)
	s1 := f.sku(t, "S1", models.SkuStatusActive)
	_, tasks := f.receiving(t, false, models.NewReceiptLine{SkuId: s1.ID, ExpectedQty: 100})
	taskId := tasks[0].ID

	steps := []struct {
		qty  int
		undo bool
	}{{7, false}, {3, false}, {0, true}, {11, false}, {0, true}, {0, true}, {5, false}}
	for i, step := range steps {
		f.clock.Advance(time.Second)
		var err error
		if step.undo {
			_, err = f.engine.UndoLastScan(f.ctx, taskId)
		} else {
			_, err = f.engine.RecordScan(f.ctx, taskId, models.NewScan{PalletCode: "P-1", Quantity: step.qty})
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		var total int
		if err := f.db.Model(&models.Scan{}).Select("COALESCE(SUM(quantity), 0)").Where("task_id = ?", taskId).Scan(&total).Error; err != nil {
			t.Fatalf("sum scans: %v", err)
		}
		task := f.reloadTask(t, taskId)
		if task.QtyDone < 0 || task.QtyDone > total {
			t.Fatalf("step %d: qty done %d outside [0, %d]", i, task.QtyDone, total)
		}
	}
}
