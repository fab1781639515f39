package workflow

import (
	"strings"
	"time"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
)

// Expectation is what a receipt line says should arrive.
type Expectation struct {
	SkuCode     string
	SkuBarcode  string
	ExpectedQty int
	Sscc        string
	LotNumber   string
}

// Observation is what the operator scanned. CumulativeQty already includes the
// scan being evaluated.
type Observation struct {
	Barcode       string
	Sscc          string
	LotNumber     string
	ExpiryDate    *time.Time
	Damaged       bool
	CumulativeQty int
}

type DiscrepancyCandidate struct {
	Type          models.DiscrepancyType
	ExpectedQty   *int
	ActualQty     *int
	ExpectedValue string
	ActualValue   string
}

func expectationFromLine(line models.ReceiptLine) Expectation {
	expectation := Expectation{
		ExpectedQty: line.ExpectedQty,
		Sscc:        line.Sscc,
		LotNumber:   line.LotNumber,
	}
	if line.Sku != nil {
		expectation.SkuCode = line.Sku.Code
		expectation.SkuBarcode = line.Sku.Barcode
	}
	return expectation
}

func (e Expectation) sku() models.Sku {
	return models.Sku{Code: e.SkuCode, Barcode: e.SkuBarcode}
}

// Evaluate checks a receiving scan against its line. Every rule is independent;
// the result is empty when the scan is clean. Identifiers left blank on the
// scan are not compared.
func Evaluate(expected Expectation, actual Observation, now time.Time) []DiscrepancyCandidate {
	var found []DiscrepancyCandidate

	if barcode := strings.TrimSpace(actual.Barcode); barcode != "" && !expected.sku().MatchesBarcode(barcode) {
		found = append(found, DiscrepancyCandidate{
			Type:          models.DiscrepancyTypeBarcodeMismatch,
			ExpectedValue: expected.SkuCode,
			ActualValue:   barcode,
		})
	}

	if actual.CumulativeQty > expected.ExpectedQty {
		expectedQty, actualQty := expected.ExpectedQty, actual.CumulativeQty
		found = append(found, DiscrepancyCandidate{
			Type:        models.DiscrepancyTypeOverQty,
			ExpectedQty: &expectedQty,
			ActualQty:   &actualQty,
		})
	}

	if expected.Sscc != "" && strings.TrimSpace(actual.Sscc) != "" &&
		strings.TrimSpace(actual.Sscc) != strings.TrimSpace(expected.Sscc) {
		found = append(found, DiscrepancyCandidate{
			Type:          models.DiscrepancyTypeSsccMismatch,
			ExpectedValue: expected.Sscc,
			ActualValue:   strings.TrimSpace(actual.Sscc),
		})
	}

	if expected.LotNumber != "" && strings.TrimSpace(actual.LotNumber) != "" &&
		!utils.SameCode(actual.LotNumber, expected.LotNumber) {
		found = append(found, DiscrepancyCandidate{
			Type:          models.DiscrepancyTypeLotMismatch,
			ExpectedValue: expected.LotNumber,
			ActualValue:   strings.TrimSpace(actual.LotNumber),
		})
	}

	if actual.ExpiryDate != nil && isExpired(*actual.ExpiryDate, now) {
		found = append(found, DiscrepancyCandidate{
			Type:        models.DiscrepancyTypeExpiredProduct,
			ActualValue: actual.ExpiryDate.UTC().Format(time.DateOnly),
		})
	}

	if actual.Damaged {
		found = append(found, DiscrepancyCandidate{Type: models.DiscrepancyTypeDamage})
	}
	return found
}

// EvaluateCompletion returns the shortage raised when a receiving task closes
// below its assigned quantity, nil otherwise.
func EvaluateCompletion(qtyAssigned, qtyDone int) *DiscrepancyCandidate {
	if qtyDone >= qtyAssigned {
		return nil
	}
	return &DiscrepancyCandidate{
		Type:        models.DiscrepancyTypeUnderQty,
		ExpectedQty: &qtyAssigned,
		ActualQty:   &qtyDone,
	}
}

// isExpired compares calendar days in UTC; a product expiring today is still good.
func isExpired(expiry, now time.Time) bool {
	y, m, d := expiry.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Before(time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC))
}

func newDiscrepancy(candidate DiscrepancyCandidate, task *models.Task, scanId *int, actor string, at time.Time) models.Discrepancy {
	taskId := task.ID
	return models.Discrepancy{
		Type:          candidate.Type,
		ReceiptId:     task.ReceiptId,
		ReceiptLineId: task.ReceiptLineId,
		TaskId:        &taskId,
		ScanId:        scanId,
		ExpectedQty:   candidate.ExpectedQty,
		ActualQty:     candidate.ActualQty,
		ExpectedValue: utils.Truncate(candidate.ExpectedValue, 255),
		ActualValue:   utils.Truncate(candidate.ActualValue, 255),
		CreatedBy:     actor,
		CreatedAt:     at,
	}
}
