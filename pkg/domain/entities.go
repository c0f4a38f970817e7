package domain

import "time"

// EntityType identifies stored entity families in changes, violations and
// audit entries.
type EntityType string

const (
	// EntityBloodUnit identifies blood unit registry records.
	EntityBloodUnit EntityType = "blood_unit"
	// EntityCustodyEvent identifies transfer event records.
	EntityCustodyEvent EntityType = "custody_event"
	// EntityCustodyTrail identifies per-unit trail aggregates.
	EntityCustodyTrail EntityType = "custody_trail"
	// EntityRoleRecord identifies per-address grant sequences.
	EntityRoleRecord EntityType = "role_record"
	// EntityActor identifies registered banks and hospitals.
	EntityActor EntityType = "actor"
	// EntityConfig identifies the instance-scoped configuration singleton.
	EntityConfig EntityType = "config"
)

// ActorKind distinguishes the two registered counterparty families.
type ActorKind string

const (
	// ActorBloodBank marks an actor allowed to register and ship units.
	ActorBloodBank ActorKind = "blood_bank"
	// ActorHospital marks an actor allowed to receive units.
	ActorHospital ActorKind = "hospital"
)

// Actor is a registered participant in the custody flow.
type Actor struct {
	ID           string    `json:"id"`
	Kind         ActorKind `json:"kind"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Config is the instance-scoped singleton written exactly once at
// initialization. Every admin-gated operation checks its presence first.
type Config struct {
	Admin         string    `json:"admin"`
	InitializedAt time.Time `json:"initialized_at"`
}

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
)

// Action indicates the type of modification performed.
type Action string

const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionDelete indicates an entity was deleted.
	ActionDelete Action = "delete"
)

// Change describes a mutation applied to an entity during a transaction.
// Before is undefined for creates, After for deletes.
type Change struct {
	Entity EntityType
	Action Action
	Key    string
	Before ChangePayload
	After  ChangePayload
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
