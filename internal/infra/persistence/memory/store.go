// Package memory provides the in-memory implementation of the custody
// persistence store. Durable drivers wrap it and persist its snapshots.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hemoledger/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain
// persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// BloodUnit aliases domain.BloodUnit for in-memory persistence operations.
	BloodUnit = domain.BloodUnit
	// CustodyEvent aliases domain.CustodyEvent.
	CustodyEvent = domain.CustodyEvent
	// TrailMetadata aliases domain.TrailMetadata.
	TrailMetadata = domain.TrailMetadata
	// Actor aliases domain.Actor.
	Actor = domain.Actor
	// Config aliases domain.Config.
	Config = domain.Config
	// RoleGrant aliases domain.RoleGrant.
	RoleGrant = domain.RoleGrant
	// RoleRecord aliases domain.RoleRecord.
	RoleRecord = domain.RoleRecord
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore abstraction.
	PersistentStore = domain.PersistentStore
)

type memoryState struct {
	config  *Config
	unitSeq uint64
	actors  map[string]Actor
	units   map[uint64]BloodUnit
	events  map[string]CustodyEvent
	trails  map[uint64]TrailMetadata
	roles   map[string][]RoleGrant
}

// InstanceSnapshot is the short-lived, instance-scoped storage tier. It holds
// the configuration singleton and the unit ID sequence, and is persisted
// separately from the per-entity tier.
type InstanceSnapshot struct {
	Config       *Config `json:"config,omitempty"`
	UnitSequence uint64  `json:"unit_sequence"`
}

// Snapshot captures a point-in-time clone of the store state, split into the
// instance tier and the long-lived per-entity buckets.
type Snapshot struct {
	Instance InstanceSnapshot         `json:"instance"`
	Actors   map[string]Actor         `json:"actors"`
	Units    map[uint64]BloodUnit     `json:"units"`
	Events   map[string]CustodyEvent  `json:"events"`
	Trails   map[uint64]TrailMetadata `json:"trails"`
	Roles    map[string][]RoleGrant   `json:"roles"`
}

func newMemoryState() memoryState {
	return memoryState{
		actors: make(map[string]Actor),
		units:  make(map[uint64]BloodUnit),
		events: make(map[string]CustodyEvent),
		trails: make(map[uint64]TrailMetadata),
		roles:  make(map[string][]RoleGrant),
	}
}

func cloneGrants(grants []RoleGrant) []RoleGrant {
	if grants == nil {
		return nil
	}
	out := make([]RoleGrant, len(grants))
	for i, grant := range grants {
		cp := grant
		if grant.ExpiresAt != nil {
			expires := *grant.ExpiresAt
			cp.ExpiresAt = &expires
		}
		out[i] = cp
	}
	return out
}

func cloneConfig(config *Config) *Config {
	if config == nil {
		return nil
	}
	cp := *config
	return &cp
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.config = cloneConfig(s.config)
	cloned.unitSeq = s.unitSeq
	for k, v := range s.actors {
		cloned.actors[k] = v
	}
	for k, v := range s.units {
		cloned.units[k] = v
	}
	for k, v := range s.events {
		cloned.events[k] = v
	}
	for k, v := range s.trails {
		cloned.trails[k] = v
	}
	for k, v := range s.roles {
		cloned.roles[k] = cloneGrants(v)
	}
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Instance: InstanceSnapshot{Config: cloneConfig(state.config), UnitSequence: state.unitSeq},
		Actors:   make(map[string]Actor, len(state.actors)),
		Units:    make(map[uint64]BloodUnit, len(state.units)),
		Events:   make(map[string]CustodyEvent, len(state.events)),
		Trails:   make(map[uint64]TrailMetadata, len(state.trails)),
		Roles:    make(map[string][]RoleGrant, len(state.roles)),
	}
	for k, v := range state.actors {
		s.Actors[k] = v
	}
	for k, v := range state.units {
		s.Units[k] = v
	}
	for k, v := range state.events {
		s.Events[k] = v
	}
	for k, v := range state.trails {
		s.Trails[k] = v
	}
	for k, v := range state.roles {
		s.Roles[k] = cloneGrants(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	state.config = cloneConfig(s.Instance.Config)
	state.unitSeq = s.Instance.UnitSequence
	for k, v := range s.Actors {
		state.actors[k] = v
	}
	for k, v := range s.Units {
		state.units[k] = v
	}
	for k, v := range s.Events {
		state.events[k] = v
	}
	for k, v := range s.Trails {
		state.trails[k] = v
	}
	for k, v := range s.Roles {
		state.roles[k] = cloneGrants(v)
	}
	return state
}

// migrateSnapshot normalizes snapshots loaded from durable drivers: missing
// buckets become empty maps, emptied role records are dropped, and the unit
// sequence is repaired so reloaded stores never reissue an ID.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Actors == nil {
		snapshot.Actors = map[string]Actor{}
	}
	if snapshot.Units == nil {
		snapshot.Units = map[uint64]BloodUnit{}
	}
	if snapshot.Events == nil {
		snapshot.Events = map[string]CustodyEvent{}
	}
	if snapshot.Trails == nil {
		snapshot.Trails = map[uint64]TrailMetadata{}
	}
	if snapshot.Roles == nil {
		snapshot.Roles = map[string][]RoleGrant{}
	}
	for address, grants := range snapshot.Roles {
		if len(grants) == 0 {
			delete(snapshot.Roles, address)
		}
	}
	for id := range snapshot.Units {
		if id > snapshot.Instance.UnitSequence {
			snapshot.Instance.UnitSequence = id
		}
	}
	return snapshot
}

// Store is the transactional in-memory custody store. Every mutation runs on
// a cloned state, is evaluated by the rules engine, and replaces the live
// state only when no blocking violation is reported.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// Option customizes store construction.
type Option func(*Store)

// WithNowFunc fixes the store's time source. Timestamps assigned inside
// transactions and the service-level clock both flow from it.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	store := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// GetBloodUnit returns a unit by ID from the live state.
func (s *Store) GetBloodUnit(id uint64) (BloodUnit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unit, ok := s.state.units[id]
	return unit, ok
}

// ListBloodUnits returns all units ordered by ID.
func (s *Store) ListBloodUnits() []BloodUnit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUnits(&s.state)
}

// GetCustodyEvent returns an event by ID from the live state.
func (s *Store) GetCustodyEvent(id string) (CustodyEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.state.events[id]
	return event, ok
}

// ListCustodyEvents returns all events in chronological order.
func (s *Store) ListCustodyEvents() []CustodyEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEvents(&s.state)
}

// GetTrailMetadata returns the trail aggregate for a unit.
func (s *Store) GetTrailMetadata(unitID uint64) (TrailMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail, ok := s.state.trails[unitID]
	return trail, ok
}

// ListTrailMetadata returns all trail aggregates ordered by unit ID.
func (s *Store) ListTrailMetadata() []TrailMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTrails(&s.state)
}

// GetActor returns a registered actor by ID.
func (s *Store) GetActor(id string) (Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actor, ok := s.state.actors[id]
	return actor, ok
}

// ListActors returns all registered actors ordered by ID.
func (s *Store) ListActors() []Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listActors(&s.state)
}

// GetRoleGrants returns the grant sequence stored for an address.
func (s *Store) GetRoleGrants(address string) ([]RoleGrant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grants, ok := s.state.roles[address]
	if !ok {
		return nil, false
	}
	return cloneGrants(grants), true
}

// ListRoleRecords returns all per-address grant sequences ordered by address.
func (s *Store) ListRoleRecords() []RoleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRoleRecords(&s.state)
}

// Config returns the instance configuration singleton when initialized.
func (s *Store) Config() (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.config == nil {
		return Config{}, false
	}
	return *s.state.config, true
}

func listUnits(state *memoryState) []BloodUnit {
	out := make([]BloodUnit, 0, len(state.units))
	for _, unit := range state.units {
		out = append(out, unit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listEvents(state *memoryState) []CustodyEvent {
	out := make([]CustodyEvent, 0, len(state.events))
	for _, event := range state.events {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func listTrails(state *memoryState) []TrailMetadata {
	out := make([]TrailMetadata, 0, len(state.trails))
	for _, trail := range state.trails {
		out = append(out, trail)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

func listActors(state *memoryState) []Actor {
	out := make([]Actor, 0, len(state.actors))
	for _, actor := range state.actors {
		out = append(out, actor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listRoleRecords(state *memoryState) []RoleRecord {
	out := make([]RoleRecord, 0, len(state.roles))
	for address, grants := range state.roles {
		out = append(out, RoleRecord{Address: address, Grants: cloneGrants(grants)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// transaction is a mutation set applied to a cloned store state.
type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of transactional state to
// rules and callers.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

func (v transactionView) ListBloodUnits() []BloodUnit        { return listUnits(v.state) }
func (v transactionView) ListCustodyEvents() []CustodyEvent  { return listEvents(v.state) }
func (v transactionView) ListTrailMetadata() []TrailMetadata { return listTrails(v.state) }
func (v transactionView) ListActors() []Actor                { return listActors(v.state) }
func (v transactionView) ListRoleRecords() []RoleRecord      { return listRoleRecords(v.state) }

func (v transactionView) FindActor(id string) (Actor, bool) {
	actor, ok := v.state.actors[id]
	return actor, ok
}

func (v transactionView) FindBloodUnit(id uint64) (BloodUnit, bool) {
	unit, ok := v.state.units[id]
	return unit, ok
}

func (v transactionView) FindCustodyEvent(id string) (CustodyEvent, bool) {
	event, ok := v.state.events[id]
	return event, ok
}

func (v transactionView) FindTrailMetadata(unitID uint64) (TrailMetadata, bool) {
	trail, ok := v.state.trails[unitID]
	return trail, ok
}

func (v transactionView) FindRoleGrants(address string) ([]RoleGrant, bool) {
	grants, ok := v.state.roles[address]
	if !ok {
		return nil, false
	}
	return cloneGrants(grants), true
}

func (v transactionView) Config() (Config, bool) {
	if v.state.config == nil {
		return Config{}, false
	}
	return *v.state.config, true
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func payloadOf(label string, value any) domain.ChangePayload {
	payload, err := domain.NewChangePayloadFromValue(value)
	if err != nil {
		panic(fmt.Errorf("memory store %s payload: %w", label, err))
	}
	return payload
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// SetConfig writes the configuration singleton. A second write is rejected;
// initialization happens exactly once per store lifetime.
func (tx *transaction) SetConfig(config Config) (Config, error) {
	if tx.state.config != nil {
		return Config{}, fmt.Errorf("config already set")
	}
	if config.InitializedAt.IsZero() {
		config.InitializedAt = tx.now
	}
	tx.state.config = &config
	tx.recordChange(Change{
		Entity: domain.EntityConfig,
		Action: domain.ActionCreate,
		Key:    config.Admin,
		After:  payloadOf("config", config),
	})
	return config, nil
}

// CreateActor registers a bank or hospital.
func (tx *transaction) CreateActor(actor Actor) (Actor, error) {
	if actor.ID == "" {
		return Actor{}, fmt.Errorf("actor id cannot be empty")
	}
	if _, exists := tx.state.actors[actor.ID]; exists {
		return Actor{}, fmt.Errorf("actor %q already exists", actor.ID)
	}
	actor.RegisteredAt = tx.now
	tx.state.actors[actor.ID] = actor
	tx.recordChange(Change{
		Entity: domain.EntityActor,
		Action: domain.ActionCreate,
		Key:    actor.ID,
		After:  payloadOf("actor", actor),
	})
	return actor, nil
}

// CreateBloodUnit stores a new unit, assigning the next ID from the monotonic
// sequence. IDs are never reused, even across failed transactions, because the
// sequence is part of the cloned state.
func (tx *transaction) CreateBloodUnit(unit BloodUnit) (BloodUnit, error) {
	tx.state.unitSeq++
	unit.ID = tx.state.unitSeq
	unit.CreatedAt = tx.now
	unit.UpdatedAt = tx.now
	tx.state.units[unit.ID] = unit
	tx.recordChange(Change{
		Entity: domain.EntityBloodUnit,
		Action: domain.ActionCreate,
		Key:    fmt.Sprintf("%d", unit.ID),
		After:  payloadOf("blood unit", unit),
	})
	return unit, nil
}

// UpdateBloodUnit mutates a unit in place. Units are never deleted.
func (tx *transaction) UpdateBloodUnit(id uint64, mutator func(*BloodUnit) error) (BloodUnit, error) {
	current, ok := tx.state.units[id]
	if !ok {
		return BloodUnit{}, fmt.Errorf("blood unit %d not found", id)
	}
	before := payloadOf("blood unit", current)
	if err := mutator(&current); err != nil {
		return BloodUnit{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.units[id] = current
	tx.recordChange(Change{
		Entity: domain.EntityBloodUnit,
		Action: domain.ActionUpdate,
		Key:    fmt.Sprintf("%d", id),
		Before: before,
		After:  payloadOf("blood unit", current),
	})
	return current, nil
}

// CreateCustodyEvent stores a new transfer event, assigning a fresh unique
// identifier when none is supplied.
func (tx *transaction) CreateCustodyEvent(event CustodyEvent) (CustodyEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if _, exists := tx.state.events[event.ID]; exists {
		return CustodyEvent{}, fmt.Errorf("custody event %q already exists", event.ID)
	}
	event.CreatedAt = tx.now
	event.UpdatedAt = tx.now
	tx.state.events[event.ID] = event
	tx.recordChange(Change{
		Entity: domain.EntityCustodyEvent,
		Action: domain.ActionCreate,
		Key:    event.ID,
		After:  payloadOf("custody event", event),
	})
	return event, nil
}

// UpdateCustodyEvent mutates an event in place. Events are never deleted.
func (tx *transaction) UpdateCustodyEvent(id string, mutator func(*CustodyEvent) error) (CustodyEvent, error) {
	current, ok := tx.state.events[id]
	if !ok {
		return CustodyEvent{}, fmt.Errorf("custody event %q not found", id)
	}
	before := payloadOf("custody event", current)
	if err := mutator(&current); err != nil {
		return CustodyEvent{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.events[id] = current
	tx.recordChange(Change{
		Entity: domain.EntityCustodyEvent,
		Action: domain.ActionUpdate,
		Key:    id,
		Before: before,
		After:  payloadOf("custody event", current),
	})
	return current, nil
}

// PutTrailMetadata creates or replaces the trail aggregate for a unit.
func (tx *transaction) PutTrailMetadata(trail TrailMetadata) (TrailMetadata, error) {
	key := fmt.Sprintf("%d", trail.UnitID)
	if current, exists := tx.state.trails[trail.UnitID]; exists {
		before := payloadOf("custody trail", current)
		tx.state.trails[trail.UnitID] = trail
		tx.recordChange(Change{
			Entity: domain.EntityCustodyTrail,
			Action: domain.ActionUpdate,
			Key:    key,
			Before: before,
			After:  payloadOf("custody trail", trail),
		})
		return trail, nil
	}
	tx.state.trails[trail.UnitID] = trail
	tx.recordChange(Change{
		Entity: domain.EntityCustodyTrail,
		Action: domain.ActionCreate,
		Key:    key,
		After:  payloadOf("custody trail", trail),
	})
	return trail, nil
}

// PutRoleGrants creates or replaces the grant sequence for an address. Empty
// sequences are rejected; callers delete the record instead.
func (tx *transaction) PutRoleGrants(address string, grants []RoleGrant) (RoleRecord, error) {
	if address == "" {
		return RoleRecord{}, fmt.Errorf("address cannot be empty")
	}
	if len(grants) == 0 {
		return RoleRecord{}, fmt.Errorf("grant sequence for %q cannot be empty, delete the record instead", address)
	}
	record := RoleRecord{Address: address, Grants: cloneGrants(grants)}
	if current, exists := tx.state.roles[address]; exists {
		before := payloadOf("role record", RoleRecord{Address: address, Grants: current})
		tx.state.roles[address] = cloneGrants(grants)
		tx.recordChange(Change{
			Entity: domain.EntityRoleRecord,
			Action: domain.ActionUpdate,
			Key:    address,
			Before: before,
			After:  payloadOf("role record", record),
		})
		return record, nil
	}
	tx.state.roles[address] = cloneGrants(grants)
	tx.recordChange(Change{
		Entity: domain.EntityRoleRecord,
		Action: domain.ActionCreate,
		Key:    address,
		After:  payloadOf("role record", record),
	})
	return record, nil
}

// DeleteRoleRecord removes the per-address grant record entirely.
func (tx *transaction) DeleteRoleRecord(address string) error {
	current, ok := tx.state.roles[address]
	if !ok {
		return fmt.Errorf("role record %q not found", address)
	}
	before := payloadOf("role record", RoleRecord{Address: address, Grants: current})
	delete(tx.state.roles, address)
	tx.recordChange(Change{
		Entity: domain.EntityRoleRecord,
		Action: domain.ActionDelete,
		Key:    address,
		Before: before,
	})
	return nil
}

func (tx *transaction) FindActor(id string) (Actor, bool) {
	actor, ok := tx.state.actors[id]
	return actor, ok
}

func (tx *transaction) FindBloodUnit(id uint64) (BloodUnit, bool) {
	unit, ok := tx.state.units[id]
	return unit, ok
}

func (tx *transaction) FindCustodyEvent(id string) (CustodyEvent, bool) {
	event, ok := tx.state.events[id]
	return event, ok
}

func (tx *transaction) FindTrailMetadata(unitID uint64) (TrailMetadata, bool) {
	trail, ok := tx.state.trails[unitID]
	return trail, ok
}

func (tx *transaction) FindRoleGrants(address string) ([]RoleGrant, bool) {
	grants, ok := tx.state.roles[address]
	if !ok {
		return nil, false
	}
	return cloneGrants(grants), true
}

func (tx *transaction) Config() (Config, bool) {
	if tx.state.config == nil {
		return Config{}, false
	}
	return *tx.state.config, true
}
