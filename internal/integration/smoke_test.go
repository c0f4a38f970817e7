package integration

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hemoledger/internal/blob"
	"hemoledger/internal/core"
	"hemoledger/internal/infra/persistence/leveldb"
	"hemoledger/internal/infra/persistence/memory"
	"hemoledger/internal/infra/persistence/sqlite"
	"hemoledger/pkg/domain"
)

const (
	smokeAdmin    = "0xadmin"
	smokeBank     = "0xbank"
	smokeHospital = "0xward"
)

// TestIntegrationSmoke exercises a minimal end-to-end custody cycle for each
// in-process storage driver and a write/read/delete round trip for each local
// blob adapter. It intentionally keeps scope tiny so it can act as a fast CI
// health check.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()

	storeVariants := []struct {
		name string
		open func(t *testing.T) domain.PersistentStore
	}{
		{
			name: "memory-store",
			open: func(_ *testing.T) domain.PersistentStore {
				return memory.NewStore(core.NewDefaultRulesEngine())
			},
		},
		{
			name: "sqlite-store",
			open: func(t *testing.T) domain.PersistentStore {
				store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "custody.db"), core.NewDefaultRulesEngine())
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				return store
			},
		},
		{
			name: "leveldb-store",
			open: func(t *testing.T) domain.PersistentStore {
				store, err := leveldb.NewStore(filepath.Join(t.TempDir(), "custody.ldb"), core.NewDefaultRulesEngine())
				if err != nil {
					t.Fatalf("new leveldb store: %v", err)
				}
				return store
			},
		},
	}

	for _, sv := range storeVariants {
		t.Run(sv.name, func(t *testing.T) {
			store := sv.open(t)
			if closer, ok := store.(io.Closer); ok {
				t.Cleanup(func() { _ = closer.Close() })
			}
			metrics := core.NewExpvarMetricsRecorder("")
			var traceBuffer bytes.Buffer
			tracer := core.NewJSONTracer(&traceBuffer)
			svc := core.NewService(store, core.WithMetricsRecorder(metrics), core.WithTracer(tracer))

			if _, _, err := svc.Initialize(ctx, smokeAdmin); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			if _, _, err := svc.RegisterBloodBank(ctx, smokeAdmin, smokeBank); err != nil {
				t.Fatalf("register bank: %v", err)
			}
			if _, _, err := svc.RegisterHospital(ctx, smokeAdmin, smokeHospital); err != nil {
				t.Fatalf("register hospital: %v", err)
			}
			unit, res, err := svc.RegisterBlood(ctx, smokeBank, core.RegisterBloodInput{
				BloodType:  domain.BloodTypeOPositive,
				VolumeML:   450,
				Expiration: time.Now().UTC().Add(72 * time.Hour),
				DonorID:    "donor-9",
			})
			if err != nil {
				t.Fatalf("register blood: %v", err)
			}
			if res.HasBlocking() {
				t.Fatalf("unexpected blocking violations: %+v", res.Violations)
			}
			if _, _, err := svc.AllocateBlood(ctx, smokeBank, unit.ID, smokeHospital); err != nil {
				t.Fatalf("allocate: %v", err)
			}
			event, _, err := svc.InitiateTransfer(ctx, smokeBank, unit.ID)
			if err != nil {
				t.Fatalf("initiate: %v", err)
			}
			if _, _, err := svc.ConfirmTransfer(ctx, smokeHospital, event.ID); err != nil {
				t.Fatalf("confirm: %v", err)
			}

			delivered, err := svc.BloodUnit(ctx, unit.ID)
			if err != nil {
				t.Fatalf("read unit: %v", err)
			}
			if delivered.Status != domain.BloodStatusDelivered {
				t.Fatalf("expected delivered unit, got %s", delivered.Status)
			}
			if delivered.CurrentCustodian != smokeHospital {
				t.Fatalf("expected custodian %s, got %s", smokeHospital, delivered.CurrentCustodian)
			}
			trail, err := svc.CustodyTrail(ctx, unit.ID)
			if err != nil {
				t.Fatalf("read trail: %v", err)
			}
			if trail.TotalEvents != 1 {
				t.Fatalf("expected one confirmed transfer, got %d", trail.TotalEvents)
			}

			// Role store round trip through the same persistent backend.
			rider := domain.Role{Kind: domain.RoleRider}
			if _, _, err := svc.GrantRoleWithExpiry(ctx, smokeAdmin, smokeHospital, rider, nil); err != nil {
				t.Fatalf("grant role: %v", err)
			}
			if has, _, err := svc.HasRole(ctx, smokeHospital, rider); err != nil || !has {
				t.Fatalf("expected rider role granted, has=%v err=%v", has, err)
			}
			if _, err := svc.RevokeRole(ctx, smokeAdmin, smokeHospital, rider); err != nil {
				t.Fatalf("revoke role: %v", err)
			}
			if has, _, err := svc.HasRole(ctx, smokeHospital, rider); err != nil || has {
				t.Fatalf("expected rider role revoked, has=%v err=%v", has, err)
			}

			// Observability exporters must have captured the operations above.
			snapshot := metrics.Snapshot()
			if len(snapshot.DurationsMS) == 0 {
				t.Fatal("expected metrics durations for operations, got empty")
			}
			if snapshot.Results["confirm_transfer"]["success"] == 0 {
				t.Fatalf("expected confirm_transfer success metric recorded: %+v", snapshot.Results)
			}
			if traceBuffer.Len() == 0 {
				t.Fatal("expected trace exporter to emit spans")
			}
			var confirmSpan bool
			for _, entry := range tracer.Entries() {
				if entry.Operation == "confirm_transfer" && entry.Status == "success" {
					confirmSpan = true
					break
				}
			}
			if !confirmSpan {
				t.Fatalf("expected trace entry for confirm_transfer, entries=%+v", tracer.Entries())
			}
		})
	}

	blobVariants := []struct {
		name string
		open func(t *testing.T) blob.Store
	}{
		{
			name: "memory-blob",
			open: func(_ *testing.T) blob.Store { return blob.NewMemory() },
		},
		{
			name: "filesystem-blob",
			open: func(t *testing.T) blob.Store {
				fs, err := blob.NewFilesystem(t.TempDir())
				if err != nil {
					t.Fatalf("new filesystem blob: %v", err)
				}
				return fs
			},
		},
	}

	for _, bv := range blobVariants {
		t.Run(bv.name, func(t *testing.T) {
			bs := bv.open(t)
			key := "exports/unit-1/smoke.json"
			payload := []byte(`{"status":"ok"}`)
			info, err := bs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json"})
			if err != nil {
				t.Fatalf("blob put: %v", err)
			}
			if info.Key != key {
				t.Fatalf("unexpected blob key info: %+v", info)
			}
			if info.Size != int64(len(payload)) {
				t.Fatalf("expected size %d, got %d", len(payload), info.Size)
			}
			_, rc, err := bs.Get(ctx, key)
			if err != nil {
				t.Fatalf("blob get: %v", err)
			}
			got, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				t.Fatalf("read payload: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("payload mismatch got=%q want=%q", got, payload)
			}
			if ok, err := bs.Delete(ctx, key); err != nil || !ok {
				t.Fatalf("blob delete: %v ok=%v", err, ok)
			}
		})
	}

	// Guard against env leakage from future edits; nothing here sets these.
	if os.Getenv("HEMOLEDGER_BLOB_DRIVER") != "" || os.Getenv("HEMOLEDGER_STORAGE_DRIVER") != "" {
		t.Fatal("expected no test-induced env leakage")
	}
}
