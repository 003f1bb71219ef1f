package model

import (
	"time"

	"github.com/alenakom/speechstar/internal/domain/enums"
)

type Subscriber struct {
	ID              int64             `json:"id"`
	RegisteredAt    time.Time         `json:"registered_at"`
	Cohort          enums.Cohort      `json:"cohort"`
	TrialStartedAt  *time.Time        `json:"trial_started_at"`
	Tier            enums.Tier        `json:"tier"`
	ExpiresAt       *time.Time        `json:"expires_at"`
	LastDeliveredOn string            `json:"last_delivered_on"` // calendar date, "2006-01-02", empty when never delivered
	PendingCharge   *PendingCharge    `json:"pending_charge"`
	DialogState     enums.DialogState `json:"dialog_state"`
}

// PendingCharge tracks one gateway transaction until terminal resolution.
type PendingCharge struct {
	ChargeID    string     `json:"charge_id"`
	Tier        enums.Tier `json:"tier"`
	AmountMinor int64      `json:"amount_minor"`
}
