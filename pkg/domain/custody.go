package domain

import "time"

// CustodyStatus is the transfer state machine: pending events resolve exactly
// once to confirmed or cancelled and are immutable afterwards.
type CustodyStatus string

const (
	// CustodyStatusPending marks an open transfer awaiting resolution.
	CustodyStatusPending CustodyStatus = "pending"
	// CustodyStatusConfirmed marks a transfer accepted by the counterparty.
	CustodyStatusConfirmed CustodyStatus = "confirmed"
	// CustodyStatusCancelled marks a transfer withdrawn by its initiator.
	CustodyStatusCancelled CustodyStatus = "cancelled"
)

// Valid reports whether the status is part of the machine.
func (s CustodyStatus) Valid() bool {
	switch s {
	case CustodyStatusPending, CustodyStatusConfirmed, CustodyStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the event has reached its single outcome.
func (s CustodyStatus) Terminal() bool {
	return s == CustodyStatusConfirmed || s == CustodyStatusCancelled
}

// CustodyEvent records one transfer attempt of a blood unit between two
// custodians. At most one pending event may exist per unit across the whole
// store; resolved events are retained as history.
type CustodyEvent struct {
	ID           string        `json:"id"`
	UnitID       uint64        `json:"unit_id"`
	Status       CustodyStatus `json:"status"`
	Initiator    string        `json:"initiator"`
	Counterparty string        `json:"counterparty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// TrailMetadata is the per-unit audit aggregate. TotalEvents counts confirmed
// transfers only; pending and cancelled events never contribute.
type TrailMetadata struct {
	UnitID      uint64 `json:"unit_id"`
	TotalEvents uint64 `json:"total_events"`
}
