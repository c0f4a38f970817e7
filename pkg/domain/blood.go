package domain

import "time"

// BloodType is the ABO/Rh group recorded at registration.
type BloodType string

// Supported blood groups.
const (
	BloodTypeAPositive  BloodType = "A+"
	BloodTypeANegative  BloodType = "A-"
	BloodTypeBPositive  BloodType = "B+"
	BloodTypeBNegative  BloodType = "B-"
	BloodTypeABPositive BloodType = "AB+"
	BloodTypeABNegative BloodType = "AB-"
	BloodTypeOPositive  BloodType = "O+"
	BloodTypeONegative  BloodType = "O-"
)

// Valid reports whether the blood type is a supported group.
func (t BloodType) Valid() bool {
	switch t {
	case BloodTypeAPositive, BloodTypeANegative,
		BloodTypeBPositive, BloodTypeBNegative,
		BloodTypeABPositive, BloodTypeABNegative,
		BloodTypeOPositive, BloodTypeONegative:
		return true
	default:
		return false
	}
}

// BloodStatus tracks a unit along its fixed lattice: available units can be
// reserved, reserved units can be delivered; delivered and expired are
// terminal. Units are mutated in place and never deleted.
type BloodStatus string

const (
	// BloodStatusAvailable marks a registered unit not yet allocated.
	BloodStatusAvailable BloodStatus = "available"
	// BloodStatusReserved marks a unit allocated to a hospital.
	BloodStatusReserved BloodStatus = "reserved"
	// BloodStatusDelivered marks a unit whose transfer was confirmed.
	BloodStatusDelivered BloodStatus = "delivered"
	// BloodStatusExpired marks a unit retired past its expiration.
	BloodStatusExpired BloodStatus = "expired"
)

// Valid reports whether the status is part of the lattice.
func (s BloodStatus) Valid() bool {
	switch s {
	case BloodStatusAvailable, BloodStatusReserved, BloodStatusDelivered, BloodStatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further status transition is permitted.
func (s BloodStatus) Terminal() bool {
	return s == BloodStatusDelivered || s == BloodStatusExpired
}

// BloodUnit is one physical unit in the registry. IDs are assigned from a
// monotonic sequence at registration and never reused.
type BloodUnit struct {
	ID               uint64      `json:"id"`
	BloodType        BloodType   `json:"blood_type"`
	VolumeML         uint32      `json:"volume_ml"`
	Expiration       time.Time   `json:"expiration"`
	Status           BloodStatus `json:"status"`
	BankID           string      `json:"bank_id"`
	DonorID          string      `json:"donor_id,omitempty"`
	AssignedTo       string      `json:"assigned_to,omitempty"`
	CurrentCustodian string      `json:"current_custodian"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// PastExpiration reports whether the unit's shelf life has lapsed at the given
// instant; the expiration boundary itself counts as lapsed.
func (u BloodUnit) PastExpiration(now time.Time) bool {
	return !now.Before(u.Expiration)
}
