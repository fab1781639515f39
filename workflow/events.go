package workflow

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
)

// ReceiptEvent is published after a receipt status change has committed.
type ReceiptEvent struct {
	ReceiptId      int                  `json:"receipt_id"`
	DocumentNumber string               `json:"document_number"`
	OutboundRef    string               `json:"outbound_ref,omitempty"`
	FromStatus     models.ReceiptStatus `json:"from_status"`
	ToStatus       models.ReceiptStatus `json:"to_status"`
	Actor          string               `json:"actor"`
	CorrelationId  string               `json:"correlation_id,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

type EventPublisher interface {
	PublishReceiptStatus(ctx context.Context, event ReceiptEvent) error
}

type NopPublisher struct{}

func (NopPublisher) PublishReceiptStatus(context.Context, ReceiptEvent) error { return nil }

// PubSubPublisher sends receipt events to one topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

func NewPubSubPublisher(client *pubsub.Client, topicName string) *PubSubPublisher {
	return &PubSubPublisher{topic: client.Topic(topicName)}
}

func (p *PubSubPublisher) PublishReceiptStatus(ctx context.Context, event ReceiptEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"receipt_id": strconv.Itoa(event.ReceiptId),
			"to_status":  string(event.ToStatus),
		},
	})
	_, err = result.Get(ctx)
	return err
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}

func (u *unitOfWork) receiptChanged(receipt *models.Receipt, from models.ReceiptStatus) {
	correlationId, _ := utils.GetCorrelationIdFromContext(u.ctx)
	u.events = append(u.events, ReceiptEvent{
		ReceiptId:      receipt.ID,
		DocumentNumber: receipt.DocumentNumber,
		OutboundRef:    utils.DereferencePtr(receipt.OutboundRef),
		FromStatus:     from,
		ToStatus:       receipt.Status,
		Actor:          u.actor,
		CorrelationId:  correlationId,
		OccurredAt:     u.now,
	})
}
