// Package core exposes the transactional custody service: blood unit
// registration and allocation, the transfer state machine, per-address role
// grants, and the instrumentation wired around every operation.
package core

import (
	"context"
	"strconv"
	"time"

	"hemoledger/internal/infra/persistence/memory"
	"hemoledger/pkg/domain"
)

// Operation labels shared by audit entries, metrics and trace spans.
const (
	opInitialize        = "initialize"
	opRegisterBloodBank = "register_blood_bank"
	opRegisterHospital  = "register_hospital"
	opRegisterBlood     = "register_blood"
	opAllocateBlood     = "allocate_blood"
	opInitiateTransfer  = "initiate_transfer"
	opConfirmTransfer   = "confirm_transfer"
	opCancelTransfer    = "cancel_transfer"
	opGrantRole         = "grant_role"
	opRevokeRole        = "revoke_role"
	opHasRole           = "has_role"
	opCleanupRoles      = "cleanup_roles"
	opGetBloodUnit      = "get_blood_unit"
	opGetCustodyEvent   = "get_custody_event"
	opGetCustodyTrail   = "get_custody_trail"
	opGetRoles          = "get_roles"
)

// auditOperations maps operation labels to the entity and action recorded in
// audit entries. Operations absent from the table are not audited.
var auditOperations = map[string]struct {
	Entity EntityType
	Action Action
}{
	opInitialize:        {Entity: EntityConfig, Action: ActionCreate},
	opRegisterBloodBank: {Entity: EntityActor, Action: ActionCreate},
	opRegisterHospital:  {Entity: EntityActor, Action: ActionCreate},
	opRegisterBlood:     {Entity: EntityBloodUnit, Action: ActionCreate},
	opAllocateBlood:     {Entity: EntityBloodUnit, Action: ActionUpdate},
	opInitiateTransfer:  {Entity: EntityCustodyEvent, Action: ActionCreate},
	opConfirmTransfer:   {Entity: EntityCustodyEvent, Action: ActionUpdate},
	opCancelTransfer:    {Entity: EntityCustodyEvent, Action: ActionUpdate},
	opGrantRole:         {Entity: EntityRoleRecord, Action: ActionUpdate},
	opRevokeRole:        {Entity: EntityRoleRecord, Action: ActionUpdate},
	opHasRole:           {Entity: EntityRoleRecord, Action: ActionUpdate},
	opCleanupRoles:      {Entity: EntityRoleRecord, Action: ActionUpdate},
}

// RegisterBloodInput carries the caller-supplied fields of a new blood unit.
// Everything else (ID, status, custodian, timestamps) is assigned by the
// registry.
type RegisterBloodInput struct {
	BloodType  BloodType
	VolumeML   uint32
	Expiration time.Time
	DonorID    string
}

// Service coordinates the blood unit registry, the custody transfer state
// machine and the role store on top of a persistent store. All mutating
// operations validate fully before writing; a rejected call leaves no partial
// state behind.
type Service struct {
	store    PersistentStore
	engine   *RulesEngine
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	clock    Clock
	nowFn    func() time.Time
	cooldown time.Duration
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		store:    store,
		engine:   extractRulesEngine(store),
		logger:   options.logger,
		audit:    options.audit,
		metrics:  options.metrics,
		tracer:   options.tracer,
		clock:    options.clock,
		nowFn:    selectNowFunc(store, options.clock),
		cooldown: options.cancelCooldown,
	}
}

// NewInMemoryService creates a service and in-memory store sharing the given
// rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// RulesEngine returns the engine enforcing commit-time invariants, when the
// backing store exposes one.
func (s *Service) RulesEngine() *RulesEngine {
	return s.engine
}

// CancelCooldown returns the configured transfer cancellation cooldown.
func (s *Service) CancelCooldown() time.Duration {
	return s.cooldown
}

// run wraps an operation with tracing, metrics, logging and audit recording.
// fn returns the primary entity ID for audit correlation.
func (s *Service) run(ctx context.Context, operation string, fn func(ctx context.Context) (string, error)) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	entityID, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", operation, "entity_id", entityID, "error", err)
		s.recordAuditError(ctx, operation, entityID, duration, err)
		return err
	}
	s.logger.Debug("operation completed", "operation", operation, "entity_id", entityID)
	s.recordAuditSuccess(ctx, operation, entityID, duration)
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, operation, entityID string, duration time.Duration) {
	meta, ok := auditOperations[operation]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.Entity,
		Action:    meta.Action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.nowFn(),
	})
}

func (s *Service) recordAuditError(ctx context.Context, operation, entityID string, duration time.Duration, err error) {
	meta, ok := auditOperations[operation]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: operation,
		Entity:    meta.Entity,
		Action:    meta.Action,
		EntityID:  entityID,
		Status:    AuditStatusError,
		Error:     err.Error(),
		Duration:  duration,
		Timestamp: s.nowFn(),
	})
}

// requireAdmin checks initialization and that caller is the configured admin.
func requireAdmin(tx Transaction, caller string) error {
	config, ok := tx.Config()
	if !ok {
		return domain.ErrNotInitialized
	}
	if caller != config.Admin {
		return domain.ErrUnauthorized
	}
	return nil
}

// requireInitialized checks only that the config singleton exists.
func requireInitialized(tx Transaction) error {
	if _, ok := tx.Config(); !ok {
		return domain.ErrNotInitialized
	}
	return nil
}

func unitKey(id uint64) string { return strconv.FormatUint(id, 10) }

// Initialize writes the config singleton naming the admin address. A second
// call fails with ErrAlreadyInitialized.
func (s *Service) Initialize(ctx context.Context, admin string) (Config, Result, error) {
	var config Config
	var res Result
	err := s.run(ctx, opInitialize, func(ctx context.Context) (string, error) {
		if admin == "" {
			return "", domain.InvalidInputError{Field: "admin", Detail: "must not be empty"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, ok := tx.Config(); ok {
				return domain.ErrAlreadyInitialized
			}
			var txErr error
			config, txErr = tx.SetConfig(Config{Admin: admin})
			return txErr
		})
		return admin, err
	})
	return config, res, err
}

// RegisterBloodBank records a blood bank actor. Admin only.
func (s *Service) RegisterBloodBank(ctx context.Context, caller, bank string) (Actor, Result, error) {
	return s.registerActor(ctx, opRegisterBloodBank, caller, bank, ActorBloodBank)
}

// RegisterHospital records a hospital actor. Admin only.
func (s *Service) RegisterHospital(ctx context.Context, caller, hospital string) (Actor, Result, error) {
	return s.registerActor(ctx, opRegisterHospital, caller, hospital, ActorHospital)
}

func (s *Service) registerActor(ctx context.Context, operation, caller, id string, kind ActorKind) (Actor, Result, error) {
	var actor Actor
	var res Result
	err := s.run(ctx, operation, func(ctx context.Context) (string, error) {
		if id == "" {
			return "", domain.InvalidInputError{Field: "address", Detail: "must not be empty"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireAdmin(tx, caller); err != nil {
				return err
			}
			if _, exists := tx.FindActor(id); exists {
				return domain.InvalidInputError{Field: "address", Detail: "already registered"}
			}
			var txErr error
			actor, txErr = tx.CreateActor(Actor{ID: id, Kind: kind})
			return txErr
		})
		return id, err
	})
	return actor, res, err
}

// RegisterBlood creates a new blood unit owned by the calling bank. The unit
// receives the next ID from the monotonic sequence, enters the available
// status, and starts in the bank's custody.
func (s *Service) RegisterBlood(ctx context.Context, bank string, input RegisterBloodInput) (BloodUnit, Result, error) {
	var unit BloodUnit
	var res Result
	err := s.run(ctx, opRegisterBlood, func(ctx context.Context) (string, error) {
		if !input.BloodType.Valid() {
			return "", domain.InvalidInputError{Field: "blood_type", Detail: "unknown type"}
		}
		if input.VolumeML == 0 {
			return "", domain.InvalidInputError{Field: "volume_ml", Detail: "must be positive"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireInitialized(tx); err != nil {
				return err
			}
			actor, ok := tx.FindActor(bank)
			if !ok {
				return domain.NotFoundError{Entity: EntityActor, Key: bank}
			}
			if actor.Kind != ActorBloodBank {
				return domain.ErrUnauthorized
			}
			if !input.Expiration.After(s.nowFn()) {
				return domain.InvalidInputError{Field: "expiration", Detail: "must be in the future"}
			}
			var txErr error
			unit, txErr = tx.CreateBloodUnit(BloodUnit{
				BloodType:        input.BloodType,
				VolumeML:         input.VolumeML,
				Expiration:       input.Expiration.UTC(),
				Status:           BloodStatusAvailable,
				BankID:           bank,
				DonorID:          input.DonorID,
				CurrentCustodian: bank,
			})
			return txErr
		})
		if err != nil {
			return "", err
		}
		return unitKey(unit.ID), nil
	})
	return unit, res, err
}

// AllocateBlood reserves an available unit for a registered hospital. The
// custodian does not change; physical transfer happens through the transfer
// state machine.
func (s *Service) AllocateBlood(ctx context.Context, bank string, unitID uint64, hospital string) (BloodUnit, Result, error) {
	var unit BloodUnit
	var res Result
	err := s.run(ctx, opAllocateBlood, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireInitialized(tx); err != nil {
				return err
			}
			current, ok := tx.FindBloodUnit(unitID)
			if !ok {
				return domain.NotFoundError{Entity: EntityBloodUnit, Key: unitKey(unitID)}
			}
			if current.BankID != bank {
				return domain.ErrUnauthorized
			}
			actor, ok := tx.FindActor(hospital)
			if !ok {
				return domain.NotFoundError{Entity: EntityActor, Key: hospital}
			}
			if actor.Kind != ActorHospital {
				return domain.InvalidInputError{Field: "hospital", Detail: "not a registered hospital"}
			}
			if current.PastExpiration(s.nowFn()) {
				return domain.InvalidStateError{Entity: EntityBloodUnit, Key: unitKey(unitID), Detail: "unit past expiration"}
			}
			if current.Status != BloodStatusAvailable {
				return domain.InvalidStateError{Entity: EntityBloodUnit, Key: unitKey(unitID), Detail: "unit not available"}
			}
			var txErr error
			unit, txErr = tx.UpdateBloodUnit(unitID, func(u *BloodUnit) error {
				u.Status = BloodStatusReserved
				u.AssignedTo = hospital
				return nil
			})
			return txErr
		})
		return unitKey(unitID), err
	})
	return unit, res, err
}

// InitiateTransfer opens a pending custody event for a reserved unit. The
// unit itself is not mutated; only confirmation moves it.
func (s *Service) InitiateTransfer(ctx context.Context, initiator string, unitID uint64) (CustodyEvent, Result, error) {
	var event CustodyEvent
	var res Result
	err := s.run(ctx, opInitiateTransfer, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireInitialized(tx); err != nil {
				return err
			}
			unit, ok := tx.FindBloodUnit(unitID)
			if !ok {
				return domain.NotFoundError{Entity: EntityBloodUnit, Key: unitKey(unitID)}
			}
			if unit.BankID != initiator {
				return domain.ErrUnauthorized
			}
			if unit.Status != BloodStatusReserved {
				return domain.InvalidStateError{Entity: EntityBloodUnit, Key: unitKey(unitID), Detail: "unit not reserved"}
			}
			for _, existing := range tx.Snapshot().ListCustodyEvents() {
				if existing.UnitID == unitID && existing.Status == CustodyStatusPending {
					return domain.InvalidStateError{Entity: EntityCustodyEvent, Key: existing.ID, Detail: "transfer already pending for unit"}
				}
			}
			if unit.AssignedTo == "" {
				return domain.InvalidStateError{Entity: EntityBloodUnit, Key: unitKey(unitID), Detail: "unit has no assigned hospital"}
			}
			var txErr error
			event, txErr = tx.CreateCustodyEvent(CustodyEvent{
				UnitID:       unitID,
				Status:       CustodyStatusPending,
				Initiator:    initiator,
				Counterparty: unit.AssignedTo,
			})
			return txErr
		})
		if err != nil {
			return unitKey(unitID), err
		}
		return event.ID, nil
	})
	return event, res, err
}

// ConfirmTransfer completes a pending transfer: the event becomes confirmed,
// the unit becomes delivered in the confirmer's custody, and the unit's trail
// counter advances by one. The three writes commit atomically.
func (s *Service) ConfirmTransfer(ctx context.Context, confirmer, eventID string) (CustodyEvent, Result, error) {
	var event CustodyEvent
	var res Result
	err := s.run(ctx, opConfirmTransfer, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireInitialized(tx); err != nil {
				return err
			}
			current, ok := tx.FindCustodyEvent(eventID)
			if !ok {
				return domain.NotFoundError{Entity: EntityCustodyEvent, Key: eventID}
			}
			if current.Status != CustodyStatusPending {
				return domain.InvalidStateError{Entity: EntityCustodyEvent, Key: eventID, Detail: "event not pending"}
			}
			if confirmer != current.Counterparty {
				return domain.ErrUnauthorized
			}
			if _, ok := tx.FindBloodUnit(current.UnitID); !ok {
				return domain.NotFoundError{Entity: EntityBloodUnit, Key: unitKey(current.UnitID)}
			}

			var txErr error
			event, txErr = tx.UpdateCustodyEvent(eventID, func(e *CustodyEvent) error {
				e.Status = CustodyStatusConfirmed
				return nil
			})
			if txErr != nil {
				return txErr
			}
			if _, txErr = tx.UpdateBloodUnit(current.UnitID, func(u *BloodUnit) error {
				u.Status = BloodStatusDelivered
				u.CurrentCustodian = confirmer
				return nil
			}); txErr != nil {
				return txErr
			}
			trail, ok := tx.FindTrailMetadata(current.UnitID)
			if !ok {
				trail = TrailMetadata{UnitID: current.UnitID}
			}
			trail.TotalEvents++
			_, txErr = tx.PutTrailMetadata(trail)
			return txErr
		})
		return eventID, err
	})
	return event, res, err
}

// CancelTransfer aborts a pending transfer once the cooldown since initiation
// has elapsed. The unit returns to its pre-transfer reserved status; custodian,
// assignment and trail metadata stay untouched.
func (s *Service) CancelTransfer(ctx context.Context, canceller, eventID string) (CustodyEvent, Result, error) {
	var event CustodyEvent
	var res Result
	err := s.run(ctx, opCancelTransfer, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireInitialized(tx); err != nil {
				return err
			}
			current, ok := tx.FindCustodyEvent(eventID)
			if !ok {
				return domain.NotFoundError{Entity: EntityCustodyEvent, Key: eventID}
			}
			if current.Status != CustodyStatusPending {
				return domain.InvalidStateError{Entity: EntityCustodyEvent, Key: eventID, Detail: "event not pending"}
			}
			if canceller != current.Initiator {
				return domain.ErrUnauthorized
			}
			readyAt := current.CreatedAt.Add(s.cooldown)
			if s.nowFn().Before(readyAt) {
				return domain.CooldownError{EventID: eventID, ReadyAt: readyAt}
			}
			if _, ok := tx.FindBloodUnit(current.UnitID); !ok {
				return domain.NotFoundError{Entity: EntityBloodUnit, Key: unitKey(current.UnitID)}
			}

			var txErr error
			event, txErr = tx.UpdateCustodyEvent(eventID, func(e *CustodyEvent) error {
				e.Status = CustodyStatusCancelled
				return nil
			})
			if txErr != nil {
				return txErr
			}
			_, txErr = tx.UpdateBloodUnit(current.UnitID, func(u *BloodUnit) error {
				u.Status = BloodStatusReserved
				return nil
			})
			return txErr
		})
		return eventID, err
	})
	return event, res, err
}

// GrantRoleWithExpiry stores a role grant for an address, replacing any grant
// of the same role and keeping the sequence ordered. Expired grants for the
// address are swept first. Admin only.
func (s *Service) GrantRoleWithExpiry(ctx context.Context, caller, address string, role Role, expiresAt *time.Time) (RoleGrant, Result, error) {
	var grant RoleGrant
	var res Result
	err := s.run(ctx, opGrantRole, func(ctx context.Context) (string, error) {
		if address == "" {
			return "", domain.InvalidInputError{Field: "address", Detail: "must not be empty"}
		}
		if !role.Valid() {
			return address, domain.InvalidInputError{Field: "role", Detail: "unknown kind"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireAdmin(tx, caller); err != nil {
				return err
			}
			now := s.nowFn()
			grants, _ := tx.FindRoleGrants(address)
			grants, _ = domain.SweepExpiredGrants(grants, now)
			grants = domain.RemoveGrant(grants, role)
			grant = RoleGrant{Role: role, GrantedAt: now}
			if expiresAt != nil {
				expiry := expiresAt.UTC()
				grant.ExpiresAt = &expiry
			}
			grants = domain.InsertGrantOrdered(grants, grant)
			_, txErr := tx.PutRoleGrants(address, grants)
			return txErr
		})
		return address, err
	})
	return grant, res, err
}

// RevokeRole removes a role grant from an address. Revoking an absent role is
// a no-op; removing the last grant deletes the per-address record. Admin only.
func (s *Service) RevokeRole(ctx context.Context, caller, address string, role Role) (Result, error) {
	var res Result
	err := s.run(ctx, opRevokeRole, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireAdmin(tx, caller); err != nil {
				return err
			}
			grants, ok := tx.FindRoleGrants(address)
			if !ok {
				return nil
			}
			remaining := domain.RemoveGrant(grants, role)
			if len(remaining) == len(grants) {
				return nil
			}
			if len(remaining) == 0 {
				return tx.DeleteRoleRecord(address)
			}
			_, txErr := tx.PutRoleGrants(address, remaining)
			return txErr
		})
		return address, err
	})
	return res, err
}

// HasRole reports whether the address holds a live grant for the role. The
// check sweeps expired grants for the address as a side effect, so it is a
// mutating read.
func (s *Service) HasRole(ctx context.Context, address string, role Role) (bool, Result, error) {
	var has bool
	var res Result
	err := s.run(ctx, opHasRole, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			grants, ok := tx.FindRoleGrants(address)
			if !ok {
				has = false
				return nil
			}
			swept, removed := domain.SweepExpiredGrants(grants, s.nowFn())
			if removed > 0 {
				if len(swept) == 0 {
					if err := tx.DeleteRoleRecord(address); err != nil {
						return err
					}
				} else if _, err := tx.PutRoleGrants(address, swept); err != nil {
					return err
				}
			}
			_, has = domain.FindGrant(swept, role)
			return nil
		})
		return address, err
	})
	return has, res, err
}

// CleanupExpiredRoles eagerly sweeps an address's expired grants and returns
// the number removed. Admin only.
func (s *Service) CleanupExpiredRoles(ctx context.Context, caller, address string) (int, Result, error) {
	var removed int
	var res Result
	err := s.run(ctx, opCleanupRoles, func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if err := requireAdmin(tx, caller); err != nil {
				return err
			}
			grants, ok := tx.FindRoleGrants(address)
			if !ok {
				removed = 0
				return nil
			}
			var swept []RoleGrant
			swept, removed = domain.SweepExpiredGrants(grants, s.nowFn())
			if removed == 0 {
				return nil
			}
			if len(swept) == 0 {
				return tx.DeleteRoleRecord(address)
			}
			_, txErr := tx.PutRoleGrants(address, swept)
			return txErr
		})
		return address, err
	})
	return removed, res, err
}

// Roles returns the stored grant sequence for an address without sweeping, so
// expired grants may appear. An unknown address yields an empty sequence.
func (s *Service) Roles(ctx context.Context, address string) ([]RoleGrant, error) {
	var grants []RoleGrant
	err := s.run(ctx, opGetRoles, func(context.Context) (string, error) {
		grants, _ = s.store.GetRoleGrants(address)
		return address, nil
	})
	return grants, err
}

// BloodUnit returns a unit by ID.
func (s *Service) BloodUnit(ctx context.Context, unitID uint64) (BloodUnit, error) {
	var unit BloodUnit
	err := s.run(ctx, opGetBloodUnit, func(context.Context) (string, error) {
		var ok bool
		unit, ok = s.store.GetBloodUnit(unitID)
		if !ok {
			return unitKey(unitID), domain.NotFoundError{Entity: EntityBloodUnit, Key: unitKey(unitID)}
		}
		return unitKey(unitID), nil
	})
	return unit, err
}

// CustodyEvent returns a transfer event by ID.
func (s *Service) CustodyEvent(ctx context.Context, eventID string) (CustodyEvent, error) {
	var event CustodyEvent
	err := s.run(ctx, opGetCustodyEvent, func(context.Context) (string, error) {
		var ok bool
		event, ok = s.store.GetCustodyEvent(eventID)
		if !ok {
			return eventID, domain.NotFoundError{Entity: EntityCustodyEvent, Key: eventID}
		}
		return eventID, nil
	})
	return event, err
}

// CustodyTrail returns the trail aggregate for a unit. A unit without any
// confirmed transfer reports zero total events.
func (s *Service) CustodyTrail(ctx context.Context, unitID uint64) (TrailMetadata, error) {
	var trail TrailMetadata
	err := s.run(ctx, opGetCustodyTrail, func(context.Context) (string, error) {
		if _, ok := s.store.GetBloodUnit(unitID); !ok {
			return unitKey(unitID), domain.NotFoundError{Entity: EntityBloodUnit, Key: unitKey(unitID)}
		}
		var ok bool
		trail, ok = s.store.GetTrailMetadata(unitID)
		if !ok {
			trail = TrailMetadata{UnitID: unitID}
		}
		return unitKey(unitID), nil
	})
	return trail, err
}

// ListBloodUnits returns all registered units ordered by ID.
func (s *Service) ListBloodUnits(_ context.Context) []BloodUnit {
	return s.store.ListBloodUnits()
}

// ListCustodyEvents returns all transfer events in chronological order.
func (s *Service) ListCustodyEvents(_ context.Context) []CustodyEvent {
	return s.store.ListCustodyEvents()
}
