package workflow

import (
	"context"
	"strings"

	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
)

type WaveStatus string

const (
	WaveStatusReady      WaveStatus = "READY"
	WaveStatusInProgress WaveStatus = "IN_PROGRESS"
	WaveStatusCompleted  WaveStatus = "COMPLETED"
	WaveStatusMixed      WaveStatus = "MIXED"
)

type WaveMember struct {
	ReceiptId      int                  `json:"receipt_id"`
	DocumentNumber string               `json:"document_number"`
	Status         models.ReceiptStatus `json:"status"`
}

type WaveSummary struct {
	OutboundRef string       `json:"outbound_ref"`
	Status      WaveStatus   `json:"status"`
	Receipts    []WaveMember `json:"receipts"`
}

// WaveOutcome is the result of a wave action on one member receipt.
type WaveOutcome struct {
	ReceiptId int                  `json:"receipt_id"`
	Succeeded bool                 `json:"succeeded"`
	Status    models.ReceiptStatus `json:"status"`
	Error     string               `json:"error,omitempty"`
}

// DeriveWaveStatus aggregates member statuses. Cancelled receipts do not count.
func DeriveWaveStatus(statuses []models.ReceiptStatus) WaveStatus {
	var live []models.ReceiptStatus
	for _, s := range statuses {
		if s != models.ReceiptStatusCancelled {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return WaveStatusMixed
	}
	all := func(match func(models.ReceiptStatus) bool) bool {
		for _, s := range live {
			if !match(s) {
				return false
			}
		}
		return true
	}
	switch {
	case all(func(s models.ReceiptStatus) bool { return s == models.ReceiptStatusShipped }):
		return WaveStatusCompleted
	case all(func(s models.ReceiptStatus) bool { return s == models.ReceiptStatusReadyForShipment }):
		return WaveStatusReady
	case all(func(s models.ReceiptStatus) bool {
		return s == models.ReceiptStatusShippingInProgress || s == models.ReceiptStatusShipped
	}):
		return WaveStatusInProgress
	}
	return WaveStatusMixed
}

func (e *Engine) WaveStatus(ctx context.Context, outboundRef string) (*WaveSummary, error) {
	receipts, err := e.waveReceipts(ctx, outboundRef)
	if err != nil {
		return nil, err
	}
	summary := &WaveSummary{OutboundRef: outboundRef}
	statuses := make([]models.ReceiptStatus, 0, len(receipts))
	for _, r := range receipts {
		summary.Receipts = append(summary.Receipts, WaveMember{ReceiptId: r.ID, DocumentNumber: r.DocumentNumber, Status: r.Status})
		statuses = append(statuses, r.Status)
	}
	summary.Status = DeriveWaveStatus(statuses)
	return summary, nil
}

func (e *Engine) waveReceipts(ctx context.Context, outboundRef string) ([]models.Receipt, error) {
	outboundRef = strings.TrimSpace(outboundRef)
	if outboundRef == "" {
		return nil, utils.NewValidationFailure("outbound reference is required")
	}
	receipts, err := models.ListWaveReceipts(e.db.WithContext(ctx), outboundRef)
	if err != nil {
		return nil, err
	}
	if len(receipts) == 0 {
		return nil, utils.NewNotFound("wave", outboundRef)
	}
	return receipts, nil
}

// PrepareWave marks every cross-dock member ready for shipment. Members that
// are already ready or beyond are left alone.
func (e *Engine) PrepareWave(ctx context.Context, outboundRef string) ([]WaveOutcome, error) {
	return e.eachWaveReceipt(ctx, outboundRef, "PrepareWave", func(receipt models.Receipt) (models.ReceiptStatus, error) {
		switch receipt.Status {
		case models.ReceiptStatusReadyForShipment, models.ReceiptStatusShippingInProgress, models.ReceiptStatusShipped:
			return receipt.Status, nil
		}
		updated, err := e.MarkReadyForShipment(ctx, receipt.ID)
		if err != nil {
			return receipt.Status, err
		}
		return updated.Status, nil
	})
}

// StartWaveShipping opens shipping on every member that is ready.
func (e *Engine) StartWaveShipping(ctx context.Context, outboundRef string) ([]WaveOutcome, error) {
	return e.eachWaveReceipt(ctx, outboundRef, "StartWaveShipping", func(receipt models.Receipt) (models.ReceiptStatus, error) {
		switch receipt.Status {
		case models.ReceiptStatusShippingInProgress, models.ReceiptStatusShipped:
			return receipt.Status, nil
		}
		if _, err := e.StartShipping(ctx, receipt.ID); err != nil {
			return receipt.Status, err
		}
		return models.ReceiptStatusShippingInProgress, nil
	})
}

// eachWaveReceipt runs action per member in its own transaction; one failure
// never stops the others.
func (e *Engine) eachWaveReceipt(ctx context.Context, outboundRef, operation string, action func(models.Receipt) (models.ReceiptStatus, error)) ([]WaveOutcome, error) {
	receipts, err := e.waveReceipts(ctx, outboundRef)
	if err != nil {
		return nil, err
	}
	outcomes := make([]WaveOutcome, 0, len(receipts))
	for _, receipt := range receipts {
		if receipt.Status == models.ReceiptStatusCancelled {
			continue
		}
		status, err := action(receipt)
		outcome := WaveOutcome{ReceiptId: receipt.ID, Succeeded: err == nil, Status: status}
		if err != nil {
			outcome.Error = err.Error()
			config.LogError(e.logger, "workflow", operation, "wave member failed", map[string]any{
				"outbound_ref": outboundRef,
				"receipt_id":   receipt.ID,
			}, err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
