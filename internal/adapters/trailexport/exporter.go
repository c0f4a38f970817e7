// Package trailexport materializes compliance exports of a blood unit's
// custody history. A background worker drains a job queue, snapshots the unit
// through the service read API and writes one immutable JSON artifact per
// export to the blob store.
package trailexport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"hemoledger/internal/blob"
	"hemoledger/pkg/domain"

	"github.com/google/uuid"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// Errors surfaced by artifact retrieval, split by HTTP mapping.
var (
	ErrExportNotFound   = errors.New("export not found")
	ErrArtifactNotReady = errors.New("export artifact not ready")
)

// ExportArtifact captures the stored custody trail document.
type ExportArtifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportRecord tracks an export request and its resulting artifact.
type ExportRecord struct {
	ID          string          `json:"id"`
	UnitID      uint64          `json:"unit_id"`
	RequestedBy string          `json:"requested_by"`
	Note        string          `json:"note,omitempty"`
	Status      ExportStatus    `json:"status"`
	Error       string          `json:"error,omitempty"`
	Artifact    *ExportArtifact `json:"artifact,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ExportInput represents an enqueue request for the worker.
type ExportInput struct {
	UnitID      uint64
	RequestedBy string
	Note        string
}

// ExportScheduler queues custody trail exports and exposes status.
type ExportScheduler interface {
	EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error)
	GetExport(id string) (ExportRecord, bool)
}

// ArtifactOpener retrieves the stored document of a finished export.
type ArtifactOpener interface {
	OpenArtifact(ctx context.Context, id string) (ExportArtifact, io.ReadCloser, error)
}

// TrailSource is the read surface the worker snapshots from. The custody
// service satisfies it.
type TrailSource interface {
	BloodUnit(ctx context.Context, unitID uint64) (domain.BloodUnit, error)
	CustodyTrail(ctx context.Context, unitID uint64) (domain.TrailMetadata, error)
	ListCustodyEvents(ctx context.Context) []domain.CustodyEvent
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for exports.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor"`
	ExportID   string         `json:"export_id"`
	UnitID     uint64         `json:"unit_id"`
	Status     ExportStatus   `json:"status"`
	Note       string         `json:"note,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

const auditAction = "trail_export"

// TrailDocument is the artifact payload: the unit, its trail aggregate and
// every custody event touching it in chronological order.
type TrailDocument struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Unit        domain.BloodUnit      `json:"unit"`
	Trail       domain.TrailMetadata  `json:"trail"`
	Events      []domain.CustodyEvent `json:"events"`
}

// Worker executes custody trail exports asynchronously.
type Worker struct {
	source TrailSource
	store  blob.Store
	audit  AuditLogger

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type exportTask struct {
	id    string
	input ExportInput
}

// NewWorker constructs an export worker.
func NewWorker(source TrailSource, store blob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		audit:  audit,
		queue:  make(chan exportTask, 32),
		jobs:   make(map[string]*ExportRecord),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// EnqueueExport schedules an export job and returns the queued record. The
// unit must exist at enqueue time so callers learn about bad IDs immediately.
func (w *Worker) EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error) {
	if w.source == nil {
		return ExportRecord{}, fmt.Errorf("trail source not configured")
	}
	if w.store == nil {
		return ExportRecord{}, fmt.Errorf("artifact store not configured")
	}
	if input.UnitID == 0 {
		return ExportRecord{}, fmt.Errorf("unit id required")
	}
	if strings.TrimSpace(input.RequestedBy) == "" {
		return ExportRecord{}, fmt.Errorf("requested_by required")
	}
	if _, err := w.source.BloodUnit(ctx, input.UnitID); err != nil {
		return ExportRecord{}, fmt.Errorf("resolve unit %d: %w", input.UnitID, err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := ExportRecord{
		ID:          id,
		UnitID:      input.UnitID,
		RequestedBy: input.RequestedBy,
		Note:        input.Note,
		Status:      ExportStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queuedSnapshot := record.copy()
	w.mu.Unlock()

	w.recordAudit(ctx, id, ExportStatusQueued, input.Note, nil)

	select {
	case w.queue <- exportTask{id: id, input: input}:
	default:
		return ExportRecord{}, fmt.Errorf("export queue full")
	}

	return queuedSnapshot, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.RUnlock()
		return ExportRecord{}, false
	}
	snapshot := record.copy()
	w.mu.RUnlock()
	return snapshot, true
}

// OpenArtifact streams the stored document of a succeeded export.
func (w *Worker) OpenArtifact(ctx context.Context, id string) (ExportArtifact, io.ReadCloser, error) {
	record, ok := w.GetExport(id)
	if !ok {
		return ExportArtifact{}, nil, fmt.Errorf("%w: %s", ErrExportNotFound, id)
	}
	if record.Status != ExportStatusSucceeded || record.Artifact == nil {
		return ExportArtifact{}, nil, fmt.Errorf("%w: %s is %s", ErrArtifactNotReady, id, record.Status)
	}
	info, body, err := w.store.Get(ctx, record.Artifact.Key)
	if err != nil {
		return ExportArtifact{}, nil, fmt.Errorf("open artifact %s: %w", record.Artifact.Key, err)
	}
	artifact := *record.Artifact
	if info.Size > 0 {
		artifact.SizeBytes = info.Size
	}
	if info.ETag != "" {
		artifact.ETag = info.ETag
	}
	return artifact, body, nil
}

func (w *Worker) process(task exportTask) {
	if w.snapshot(task.id) == nil {
		return
	}

	w.updateStatus(task.id, ExportStatusRunning, "")

	payload, doc, err := w.buildDocument(task.input.UnitID)
	if err != nil {
		w.fail(task.id, err.Error())
		return
	}

	key := artifactKey(task.input.UnitID, task.id)
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"export_id":    task.id,
			"unit_id":      strconv.FormatUint(task.input.UnitID, 10),
			"requested_by": task.input.RequestedBy,
			"events":       strconv.Itoa(len(doc.Events)),
		},
	})
	if err != nil {
		w.fail(task.id, fmt.Sprintf("store artifact failed: %v", err))
		return
	}

	artifact := ExportArtifact{
		Key:         info.Key,
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
		ETag:        info.ETag,
		URL:         info.URL,
		CreatedAt:   info.LastModified,
	}
	if artifact.ContentType == "" {
		artifact.ContentType = "application/json"
	}
	if artifact.SizeBytes == 0 {
		artifact.SizeBytes = int64(len(payload))
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	w.complete(task.id, artifact)
}

func (w *Worker) buildDocument(unitID uint64) ([]byte, TrailDocument, error) {
	unit, err := w.source.BloodUnit(w.ctx, unitID)
	if err != nil {
		return nil, TrailDocument{}, fmt.Errorf("snapshot unit: %w", err)
	}
	trail, err := w.source.CustodyTrail(w.ctx, unitID)
	if err != nil {
		return nil, TrailDocument{}, fmt.Errorf("snapshot trail: %w", err)
	}
	events := make([]domain.CustodyEvent, 0)
	for _, event := range w.source.ListCustodyEvents(w.ctx) {
		if event.UnitID == unitID {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})

	doc := TrailDocument{
		GeneratedAt: time.Now().UTC(),
		Unit:        unit,
		Trail:       trail,
		Events:      events,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, TrailDocument{}, fmt.Errorf("marshal document: %w", err)
	}
	return payload, doc, nil
}

// artifactKey shapes blob keys as exports/unit-<id>/<export-id>.json.
func artifactKey(unitID uint64, exportID string) string {
	return fmt.Sprintf("exports/unit-%d/%s.json", unitID, exportID)
}

func (w *Worker) snapshot(id string) *ExportRecord {
	w.mu.RLock()
	record, ok := w.jobs[id]
	w.mu.RUnlock()
	if !ok {
		return nil
	}
	return record
}

func (w *Worker) updateStatus(id string, status ExportStatus, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, status, message, nil)
}

func (w *Worker) complete(id string, artifact ExportArtifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusSucceeded
		record.Error = ""
		record.Artifact = &artifact
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, ExportStatusSucceeded, "", map[string]any{
		"key":        artifact.Key,
		"size_bytes": artifact.SizeBytes,
	})
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.recordAudit(w.ctx, id, ExportStatusFailed, "", map[string]any{"error": reason})
}

func (w *Worker) recordAudit(ctx context.Context, id string, status ExportStatus, note string, metadata map[string]any) {
	if w.audit == nil {
		return
	}
	actor, unitID := w.jobFields(id)
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		Action:     auditAction,
		Actor:      actor,
		ExportID:   id,
		UnitID:     unitID,
		Status:     status,
		Note:       note,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	})
}

func (w *Worker) jobFields(id string) (string, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if record, ok := w.jobs[id]; ok {
		return record.RequestedBy, record.UnitID
	}
	return "", 0
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	if r.Artifact != nil {
		artifact := *r.Artifact
		dup.Artifact = &artifact
	}
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		dup.CompletedAt = &completed
	}
	return dup
}

// MemoryAuditLog captures audit entries in memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a defensive copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
