package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Blood units and custody events have no
// delete operations: both are permanent records mutated in place.
type Transaction interface {
	Snapshot() TransactionView
	SetConfig(Config) (Config, error)
	CreateActor(Actor) (Actor, error)
	CreateBloodUnit(BloodUnit) (BloodUnit, error)
	UpdateBloodUnit(id uint64, mutator func(*BloodUnit) error) (BloodUnit, error)
	CreateCustodyEvent(CustodyEvent) (CustodyEvent, error)
	UpdateCustodyEvent(id string, mutator func(*CustodyEvent) error) (CustodyEvent, error)
	PutTrailMetadata(TrailMetadata) (TrailMetadata, error)
	PutRoleGrants(address string, grants []RoleGrant) (RoleRecord, error)
	DeleteRoleRecord(address string) error
	FindActor(id string) (Actor, bool)
	FindBloodUnit(id uint64) (BloodUnit, bool)
	FindCustodyEvent(id string) (CustodyEvent, bool)
	FindTrailMetadata(unitID uint64) (TrailMetadata, bool)
	FindRoleGrants(address string) ([]RoleGrant, bool)
	Config() (Config, bool)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListBloodUnits() []BloodUnit
	ListCustodyEvents() []CustodyEvent
	ListTrailMetadata() []TrailMetadata
	ListActors() []Actor
	ListRoleRecords() []RoleRecord
	FindActor(id string) (Actor, bool)
	FindBloodUnit(id uint64) (BloodUnit, bool)
	FindCustodyEvent(id string) (CustodyEvent, bool)
	FindTrailMetadata(unitID uint64) (TrailMetadata, bool)
	FindRoleGrants(address string) ([]RoleGrant, bool)
	Config() (Config, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetBloodUnit(id uint64) (BloodUnit, bool)
	ListBloodUnits() []BloodUnit
	GetCustodyEvent(id string) (CustodyEvent, bool)
	ListCustodyEvents() []CustodyEvent
	GetTrailMetadata(unitID uint64) (TrailMetadata, bool)
	ListTrailMetadata() []TrailMetadata
	GetActor(id string) (Actor, bool)
	ListActors() []Actor
	GetRoleGrants(address string) ([]RoleGrant, bool)
	ListRoleRecords() []RoleRecord
	Config() (Config, bool)
}
