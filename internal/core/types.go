package core

import "hemoledger/pkg/domain"

type (
	EntityType         = domain.EntityType
	ActorKind          = domain.ActorKind
	Severity           = domain.Severity
	Action             = domain.Action
	Role               = domain.Role
	RoleKind           = domain.RoleKind
	RoleGrant          = domain.RoleGrant
	RoleRecord         = domain.RoleRecord
	BloodType          = domain.BloodType
	BloodStatus        = domain.BloodStatus
	BloodUnit          = domain.BloodUnit
	CustodyStatus      = domain.CustodyStatus
	CustodyEvent       = domain.CustodyEvent
	TrailMetadata      = domain.TrailMetadata
	Actor              = domain.Actor
	Config             = domain.Config
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityBloodUnit    = domain.EntityBloodUnit
	EntityCustodyEvent = domain.EntityCustodyEvent
	EntityCustodyTrail = domain.EntityCustodyTrail
	EntityRoleRecord   = domain.EntityRoleRecord
	EntityActor        = domain.EntityActor
	EntityConfig       = domain.EntityConfig
)

const (
	ActorBloodBank = domain.ActorBloodBank
	ActorHospital  = domain.ActorHospital
)

const (
	BloodStatusAvailable = domain.BloodStatusAvailable
	BloodStatusReserved  = domain.BloodStatusReserved
	BloodStatusDelivered = domain.BloodStatusDelivered
	BloodStatusExpired   = domain.BloodStatusExpired
)

const (
	CustodyStatusPending   = domain.CustodyStatusPending
	CustodyStatusConfirmed = domain.CustodyStatusConfirmed
	CustodyStatusCancelled = domain.CustodyStatusCancelled
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
