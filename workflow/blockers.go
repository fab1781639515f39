package workflow

import (
	"fmt"

	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"gorm.io/gorm"
)

// AssertNoSkuStatusBlockers fails with every receipt line, and every unresolved
// discrepancy, whose SKU is not ACTIVE.
func AssertNoSkuStatusBlockers(tx *gorm.DB, receipt *models.Receipt, operation string) error {
	skuIds := make([]int, 0, len(receipt.Lines))
	for _, line := range receipt.Lines {
		skuIds = append(skuIds, line.SkuId)
	}
	skus, err := models.ListSkus(tx, utils.UniqueSlice(skuIds))
	if err != nil {
		return err
	}

	var blockers []utils.Blocker
	lineSku := make(map[int]int, len(receipt.Lines))
	for _, line := range receipt.Lines {
		lineSku[line.ID] = line.SkuId
		sku, ok := skus[line.SkuId]
		if ok && sku.Status == models.SkuStatusActive {
			continue
		}
		blockers = append(blockers, utils.Blocker{
			Kind:          utils.BlockerKindLineSkuNotActive,
			ReceiptLineId: line.ID,
			SkuId:         line.SkuId,
			SkuCode:       sku.Code,
			Detail:        fmt.Sprintf("line %d: sku %s is %s", line.LineNo, skuLabel(sku, line.SkuId), skuState(sku, ok)),
		})
	}

	open, err := models.ListUnresolvedDiscrepancies(tx, receipt.ID)
	if err != nil {
		return err
	}
	for _, d := range open {
		if d.ReceiptLineId == nil {
			continue
		}
		skuId, ok := lineSku[*d.ReceiptLineId]
		if !ok {
			continue
		}
		sku, found := skus[skuId]
		if found && sku.Status == models.SkuStatusActive {
			continue
		}
		blockers = append(blockers, utils.Blocker{
			Kind:          utils.BlockerKindDiscrepancySkuNotActive,
			ReceiptLineId: *d.ReceiptLineId,
			DiscrepancyId: d.ID,
			SkuId:         skuId,
			SkuCode:       sku.Code,
			Detail:        fmt.Sprintf("discrepancy %d (%s): sku %s is %s", d.ID, d.Type, skuLabel(sku, skuId), skuState(sku, found)),
		})
	}

	if len(blockers) == 0 {
		return nil
	}
	return &utils.BlockerError{Operation: operation, Blockers: blockers}
}

func unresolvedDiscrepancyBlockers(tx *gorm.DB, receiptId int, operation string) error {
	open, err := models.ListUnresolvedDiscrepancies(tx, receiptId)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}
	blockers := make([]utils.Blocker, 0, len(open))
	for _, d := range open {
		blockers = append(blockers, utils.Blocker{
			Kind:          utils.BlockerKindUnresolvedDiscrepancy,
			ReceiptLineId: utils.DereferencePtr(d.ReceiptLineId),
			DiscrepancyId: d.ID,
			Detail:        fmt.Sprintf("discrepancy %d (%s) is unresolved", d.ID, d.Type),
		})
	}
	return &utils.BlockerError{Operation: operation, Blockers: blockers}
}

func skuLabel(sku models.Sku, id int) string {
	if sku.Code != "" {
		return sku.Code
	}
	return fmt.Sprintf("#%d", id)
}

func skuState(sku models.Sku, found bool) string {
	if !found {
		return "missing"
	}
	return string(sku.Status)
}
