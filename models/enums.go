package models

import (
	"errors"
	"strings"
)

type ReceiptStatus string

const (
	ReceiptStatusDraft              ReceiptStatus = "DRAFT"
	ReceiptStatusConfirmed          ReceiptStatus = "CONFIRMED"
	ReceiptStatusInProgress         ReceiptStatus = "IN_PROGRESS"
	ReceiptStatusPendingResolution  ReceiptStatus = "PENDING_RESOLUTION"
	ReceiptStatusAccepted           ReceiptStatus = "ACCEPTED"
	ReceiptStatusReadyForPlacement  ReceiptStatus = "READY_FOR_PLACEMENT"
	ReceiptStatusPlacing            ReceiptStatus = "PLACING"
	ReceiptStatusStocked            ReceiptStatus = "STOCKED"
	ReceiptStatusReadyForShipment   ReceiptStatus = "READY_FOR_SHIPMENT"
	ReceiptStatusShippingInProgress ReceiptStatus = "SHIPPING_IN_PROGRESS"
	ReceiptStatusShipped            ReceiptStatus = "SHIPPED"
	ReceiptStatusCancelled          ReceiptStatus = "CANCELLED"
)

// receiptTransitions lists every allowed receipt status change.
// CANCELLED is added for every non-terminal status in CanTransitionTo.
var receiptTransitions = map[ReceiptStatus][]ReceiptStatus{
	ReceiptStatusDraft:              {ReceiptStatusConfirmed},
	ReceiptStatusConfirmed:          {ReceiptStatusInProgress},
	ReceiptStatusInProgress:         {ReceiptStatusPendingResolution, ReceiptStatusAccepted},
	ReceiptStatusPendingResolution:  {ReceiptStatusInProgress},
	ReceiptStatusAccepted:           {ReceiptStatusReadyForPlacement, ReceiptStatusPlacing, ReceiptStatusReadyForShipment},
	ReceiptStatusReadyForPlacement:  {ReceiptStatusPlacing, ReceiptStatusReadyForShipment},
	ReceiptStatusPlacing:            {ReceiptStatusStocked, ReceiptStatusReadyForShipment},
	ReceiptStatusReadyForShipment:   {ReceiptStatusShippingInProgress},
	ReceiptStatusShippingInProgress: {ReceiptStatusShipped},
}

func (s ReceiptStatus) IsTerminal() bool {
	return s == ReceiptStatusStocked || s == ReceiptStatusShipped || s == ReceiptStatusCancelled
}

func (s ReceiptStatus) CanTransitionTo(next ReceiptStatus) bool {
	if next == ReceiptStatusCancelled {
		return !s.IsTerminal()
	}
	for _, allowed := range receiptTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ReceiptStatus) IsValid() bool {
	if s == ReceiptStatusCancelled || s == ReceiptStatusStocked || s == ReceiptStatusShipped {
		return true
	}
	_, ok := receiptTransitions[s]
	return ok
}

func (s *ReceiptStatus) UnmarshalText(text []byte) error {
	v := ReceiptStatus(strings.ToUpper(string(text)))
	if !v.IsValid() {
		return errors.New("invalid receipt status")
	}
	*s = v
	return nil
}

type TaskType string

const (
	TaskTypeReceiving TaskType = "RECEIVING"
	TaskTypePlacement TaskType = "PLACEMENT"
	TaskTypeShipping  TaskType = "SHIPPING"
)

func (t *TaskType) UnmarshalText(text []byte) error {
	switch v := TaskType(strings.ToUpper(string(text))); v {
	case TaskTypeReceiving, TaskTypePlacement, TaskTypeShipping:
		*t = v
	default:
		return errors.New("invalid task type")
	}
	return nil
}

type TaskStatus string

const (
	TaskStatusNew        TaskStatus = "NEW"
	TaskStatusAssigned   TaskStatus = "ASSIGNED"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusNew:        {TaskStatusAssigned, TaskStatusInProgress, TaskStatusCancelled, TaskStatusCompleted},
	TaskStatusAssigned:   {TaskStatusAssigned, TaskStatusInProgress, TaskStatusNew, TaskStatusCancelled, TaskStatusCompleted},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusNew, TaskStatusCancelled},
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

var OpenTaskStatuses = []TaskStatus{TaskStatusNew, TaskStatusAssigned, TaskStatusInProgress}

type PalletStatus string

const (
	PalletStatusEmpty      PalletStatus = "EMPTY"
	PalletStatusReceiving  PalletStatus = "RECEIVING"
	PalletStatusReceived   PalletStatus = "RECEIVED"
	PalletStatusInTransit  PalletStatus = "IN_TRANSIT"
	PalletStatusPlaced     PalletStatus = "PLACED"
	PalletStatusPicking    PalletStatus = "PICKING"
	PalletStatusShipped    PalletStatus = "SHIPPED"
	PalletStatusDamaged    PalletStatus = "DAMAGED"
	PalletStatusQuarantine PalletStatus = "QUARANTINE"
)

// PalletStatusesOccupyingLocation count against a location's pallet capacity.
var PalletStatusesOccupyingLocation = []PalletStatus{
	PalletStatusReceiving, PalletStatusReceived, PalletStatusPlaced,
	PalletStatusPicking, PalletStatusDamaged, PalletStatusQuarantine,
}

// PalletStatusesAwaitingPlacement are picked up by placement task generation.
var PalletStatusesAwaitingPlacement = []PalletStatus{
	PalletStatusReceived, PalletStatusDamaged, PalletStatusQuarantine,
}

type DiscrepancyType string

const (
	DiscrepancyTypeBarcodeMismatch DiscrepancyType = "BARCODE_MISMATCH"
	DiscrepancyTypeOverQty         DiscrepancyType = "OVER_QTY"
	DiscrepancyTypeUnderQty        DiscrepancyType = "UNDER_QTY"
	DiscrepancyTypeSsccMismatch    DiscrepancyType = "SSCC_MISMATCH"
	DiscrepancyTypeLotMismatch     DiscrepancyType = "LOT_MISMATCH"
	DiscrepancyTypeExpiredProduct  DiscrepancyType = "EXPIRED_PRODUCT"
	DiscrepancyTypeDamage          DiscrepancyType = "DAMAGE"
)

type LocationType string

const (
	LocationTypeStorage    LocationType = "STORAGE"
	LocationTypeDock       LocationType = "DOCK"
	LocationTypeDamaged    LocationType = "DAMAGED"
	LocationTypeQuarantine LocationType = "QUARANTINE"
	LocationTypeCrossDock  LocationType = "CROSS_DOCK"
)

func (t *LocationType) UnmarshalText(text []byte) error {
	switch v := LocationType(strings.ToUpper(string(text))); v {
	case LocationTypeStorage, LocationTypeDock, LocationTypeDamaged, LocationTypeQuarantine, LocationTypeCrossDock:
		*t = v
	default:
		return errors.New("invalid location type")
	}
	return nil
}

type SkuStatus string

const (
	SkuStatusActive   SkuStatus = "ACTIVE"
	SkuStatusInactive SkuStatus = "INACTIVE"
	SkuStatusBlocked  SkuStatus = "BLOCKED"
)

type MovementKind string

const (
	MovementKindPlace MovementKind = "PLACE"
	MovementKindPick  MovementKind = "PICK"
)

type UserRole string

const (
	UserRoleAdmin      UserRole = "ADMIN"
	UserRoleSupervisor UserRole = "SUPERVISOR"
	UserRoleOperator   UserRole = "OPERATOR"
)

func (r *UserRole) UnmarshalText(text []byte) error {
	switch v := UserRole(strings.ToUpper(string(text))); v {
	case UserRoleAdmin, UserRoleSupervisor, UserRoleOperator:
		*r = v
	default:
		return errors.New("invalid user role")
	}
	return nil
}
