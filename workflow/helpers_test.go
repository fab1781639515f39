package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	db     *gorm.DB
	engine *Engine
	clock  *testClock
	ctx    context.Context
	seq    int
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wms.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newFixture(t *testing.T, mutate ...func(*config.Settings)) *fixture {
	t.Helper()
	db := newTestDB(t)
	clock := newTestClock()
	settings := config.DefaultSettings()
	for _, m := range mutate {
		m(&settings)
	}
	engine := NewEngine(db, settings, WithClock(clock.Now))
	ctx := utils.SetUsernameInContext(context.Background(), "alice")
	ctx = utils.SetCorrelationIdInContext(ctx, "test-correlation")
	return &fixture{db: db, engine: engine, clock: clock, ctx: ctx}
}

func (f *fixture) sku(t *testing.T, code string, status models.SkuStatus) models.Sku {
	t.Helper()
	sku := models.Sku{Code: code, Barcode: "BC-" + code, Name: code, Status: status, UnitWeightKg: decimal.NewFromInt(1)}
	if err := f.db.Create(&sku).Error; err != nil {
		t.Fatalf("create sku: %v", err)
	}
	return sku
}

func (f *fixture) location(t *testing.T, code string, locType models.LocationType, maxPallets int) models.Location {
	t.Helper()
	location := models.Location{Code: code, Type: locType, IsActive: true, IsAvailable: true, MaxPallets: maxPallets}
	if err := f.db.Create(&location).Error; err != nil {
		t.Fatalf("create location: %v", err)
	}
	return location
}

func (f *fixture) operator(t *testing.T, username string, active bool) models.User {
	t.Helper()
	user := models.User{Username: username, Name: username, Role: models.UserRoleOperator, IsActive: true}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	if !active {
		if err := f.db.Model(&user).Update("is_active", false).Error; err != nil {
			t.Fatalf("deactivate user: %v", err)
		}
		user.IsActive = false
	}
	return user
}

// receiving imports, confirms and starts receiving a receipt, returning its tasks in line order.
func (f *fixture) receiving(t *testing.T, crossDock bool, lines ...models.NewReceiptLine) (*models.Receipt, []models.Task) {
	t.Helper()
	f.seq++
	dock := f.location(t, fmt.Sprintf("DOCK-%d", f.seq), models.LocationTypeDock, 0)
	receipt, created, err := f.engine.ImportReceipt(f.ctx, models.NewReceipt{
		DocumentNumber: fmt.Sprintf("ASN-%d", f.seq),
		Supplier:       "ACME",
		IsCrossDock:    crossDock,
		DockLocationId: &dock.ID,
		Lines:          lines,
	})
	if err != nil || !created {
		t.Fatalf("import receipt: created=%v err=%v", created, err)
	}
	if _, err := f.engine.ConfirmReceipt(f.ctx, receipt.ID); err != nil {
		t.Fatalf("confirm receipt: %v", err)
	}
	tasks, err := f.engine.StartReceiving(f.ctx, receipt.ID)
	if err != nil {
		t.Fatalf("start receiving: %v", err)
	}
	return f.reloadReceipt(t, receipt.ID), tasks
}

func (f *fixture) reloadReceipt(t *testing.T, id int) *models.Receipt {
	t.Helper()
	receipt, err := f.engine.GetReceipt(f.ctx, id)
	if err != nil {
		t.Fatalf("get receipt %d: %v", id, err)
	}
	return receipt
}

func (f *fixture) reloadTask(t *testing.T, id int) *models.Task {
	t.Helper()
	task, err := models.GetTask(f.db, id)
	if err != nil {
		t.Fatalf("get task %d: %v", id, err)
	}
	return task
}

func (f *fixture) reloadPallet(t *testing.T, id int) *models.Pallet {
	t.Helper()
	pallet, err := models.GetPallet(f.db, id)
	if err != nil {
		t.Fatalf("get pallet %d: %v", id, err)
	}
	return pallet
}

func (f *fixture) palletByCode(t *testing.T, code string) *models.Pallet {
	t.Helper()
	var pallet models.Pallet
	if err := f.db.Where("code = ?", code).First(&pallet).Error; err != nil {
		t.Fatalf("pallet %s: %v", code, err)
	}
	return &pallet
}

func (f *fixture) discrepancies(t *testing.T, receiptId int) []models.Discrepancy {
	t.Helper()
	var rows []models.Discrepancy
	if err := f.db.Where("receipt_id = ?", receiptId).Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("list discrepancies: %v", err)
	}
	return rows
}

// receiveAll scans the full expected quantity of each task onto its own pallet,
// completes the tasks and accepts the receipt.
func (f *fixture) receiveAll(t *testing.T, receipt *models.Receipt, tasks []models.Task) []models.Pallet {
	t.Helper()
	var pallets []models.Pallet
	for i, task := range tasks {
		code := receipt.DocumentNumber + "-P" + string(rune('A'+i))
		if _, err := f.engine.RecordScan(f.ctx, task.ID, models.NewScan{PalletCode: code, Quantity: task.QtyAssigned}); err != nil {
			t.Fatalf("scan task %d: %v", task.ID, err)
		}
		if _, err := f.engine.CompleteTask(f.ctx, task.ID); err != nil {
			t.Fatalf("complete task %d: %v", task.ID, err)
		}
		pallets = append(pallets, *f.palletByCode(t, code))
	}
	updated, err := f.engine.CompleteReceiving(f.ctx, receipt.ID)
	if err != nil {
		t.Fatalf("complete receiving: %v", err)
	}
	if updated.Status != models.ReceiptStatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", updated.Status)
	}
	return pallets
}

func intPtr(v int) *int { return &v }
