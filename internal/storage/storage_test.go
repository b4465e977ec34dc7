package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vetlab/bloodwork-analyzer/internal/config"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
	"github.com/vetlab/bloodwork-analyzer/internal/sequence"
)

var (
	_ domain.RecordStore    = (*DiagnosticRepository)(nil)
	_ sequence.CounterStore = (*CounterRepository)(nil)
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}, observability.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func queuedRecord(id, owner string, seq int) *domain.DiagnosticRecord {
	return &domain.DiagnosticRecord{
		ID:             id,
		OwnerReference: owner,
		SequenceNumber: seq,
		Status:         domain.StatusQueued,
		BlobReference:  "pdfs/2026/10/18/" + id + ".pdf",
		PDF: domain.PDFMetadata{
			OriginalFilename: "cbc.pdf",
			FileSize:         2048,
			ContentType:      "application/pdf",
		},
		CreatedBy: "USR-001",
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"}, observability.Nop())
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Migrate(context.Background(), db, "sqlite", observability.Nop()))
}

func TestDiagnosticRepository_InsertAndGet(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))
	ctx := context.Background()

	inserted, err := repo.Insert(ctx, queuedRecord("DGN-001", "PAT-001", 1))
	require.NoError(t, err)
	assert.False(t, inserted.CreatedAt.IsZero())

	got, err := repo.Get(ctx, "DGN-001")
	require.NoError(t, err)
	assert.Equal(t, "PAT-001", got.OwnerReference)
	assert.Equal(t, 1, got.SequenceNumber)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, "cbc.pdf", got.PDF.OriginalFilename)
	assert.Equal(t, int64(2048), got.PDF.FileSize)
	assert.Equal(t, "USR-001", got.CreatedBy)
	assert.Nil(t, got.Result)
	assert.Empty(t, got.ProcessingInfo.Error)
	assert.WithinDuration(t, inserted.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestDiagnosticRepository_InsertRejectsNonQueued(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))

	rec := queuedRecord("DGN-001", "PAT-001", 1)
	rec.Status = domain.StatusCompleted
	_, err := repo.Insert(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	rec = queuedRecord("DGN-002", "PAT-001", 1)
	rec.Result = map[string]any{"x": 1}
	_, err = repo.Insert(context.Background(), rec)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestDiagnosticRepository_DuplicateIdentifier(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Insert(ctx, queuedRecord("DGN-001", "PAT-001", 1))
	require.NoError(t, err)

	_, err = repo.Insert(ctx, queuedRecord("DGN-001", "PAT-002", 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateIdentifier))
	assert.True(t, domain.IsType(err, domain.ErrorTypeDuplicate))
}

func TestDiagnosticRepository_GetNotFound(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))

	_, err := repo.Get(context.Background(), "DGN-999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestDiagnosticRepository_UpdateStatusLifecycle(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))
	ctx := context.Background()
	_, err := repo.Insert(ctx, queuedRecord("DGN-001", "PAT-001", 1))
	require.NoError(t, err)

	started := time.Now().UTC()
	ok, err := repo.UpdateStatus(ctx, "DGN-001", domain.StatusProcessing, domain.StatusUpdate{
		ProcessingInfo: &domain.ProcessingInfo{StartedAt: &started},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	finished := started.Add(3 * time.Second)
	ok, err = repo.UpdateStatus(ctx, "DGN-001", domain.StatusCompleted, domain.StatusUpdate{
		Result: map[string]any{"hemoglobin": map[string]any{"value": 13.2, "unit": "g/dL"}},
		ProcessingInfo: &domain.ProcessingInfo{
			ModelVersion:     "gemma3:27b",
			ProcessingTimeMs: 3000,
			PageCount:        2,
			StartedAt:        &started,
			FinishedAt:       &finished,
		},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.Get(ctx, "DGN-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "g/dL", got.Result["hemoglobin"].(map[string]any)["unit"])
	assert.Equal(t, "gemma3:27b", got.ProcessingInfo.ModelVersion)
	assert.Equal(t, 2, got.ProcessingInfo.PageCount)
	assert.Empty(t, got.ProcessingInfo.Error)
	// untouched columns survive the targeted update
	assert.Equal(t, "cbc.pdf", got.PDF.OriginalFilename)
	assert.Equal(t, 1, got.SequenceNumber)
}

func TestDiagnosticRepository_UpdateStatusNoRegression(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))
	ctx := context.Background()
	_, err := repo.Insert(ctx, queuedRecord("DGN-001", "PAT-001", 1))
	require.NoError(t, err)

	ok, err := repo.UpdateStatus(ctx, "DGN-001", domain.StatusFailed, domain.StatusUpdate{
		ProcessingInfo: &domain.ProcessingInfo{Error: "corrupt_document: not a pdf"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	tests := []struct {
		name   string
		status domain.Status
		update domain.StatusUpdate
	}{
		{"failed to processing", domain.StatusProcessing, domain.StatusUpdate{}},
		{"failed to completed", domain.StatusCompleted, domain.StatusUpdate{Result: map[string]any{"a": "b"}}},
		{"failed to failed", domain.StatusFailed, domain.StatusUpdate{ProcessingInfo: &domain.ProcessingInfo{Error: "again"}}},
		{"back to queued", domain.StatusQueued, domain.StatusUpdate{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := repo.UpdateStatus(ctx, "DGN-001", tt.status, tt.update)
			assert.False(t, ok)
			assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "got %v", err)
		})
	}

	got, err := repo.Get(ctx, "DGN-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "corrupt_document: not a pdf", got.ProcessingInfo.Error)
	assert.Nil(t, got.Result)
}

func TestDiagnosticRepository_UpdateStatusMissingRecord(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))

	ok, err := repo.UpdateStatus(context.Background(), "DGN-404", domain.StatusProcessing, domain.StatusUpdate{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiagnosticRepository_UpdateStatusTargetsOneRecord(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))
	ctx := context.Background()
	for i, id := range []string{"DGN-001", "DGN-002", "DGN-003"} {
		_, err := repo.Insert(ctx, queuedRecord(id, "PAT-001", i+1))
		require.NoError(t, err)
	}

	// status only, status plus processing info, then every column at once
	ok, err := repo.UpdateStatus(ctx, "DGN-002", domain.StatusProcessing, domain.StatusUpdate{})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, "DGN-003", domain.StatusFailed, domain.StatusUpdate{
		ProcessingInfo: &domain.ProcessingInfo{Error: "transport: connection refused"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, "DGN-002", domain.StatusCompleted, domain.StatusUpdate{
		Result:         map[string]any{"summary": "normal"},
		ProcessingInfo: &domain.ProcessingInfo{ModelVersion: "gemma3:27b", PageCount: 1},
	})
	require.NoError(t, err)
	require.True(t, ok)

	want := map[string]domain.Status{
		"DGN-001": domain.StatusQueued,
		"DGN-002": domain.StatusCompleted,
		"DGN-003": domain.StatusFailed,
	}
	for id, status := range want {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, status, got.Status, id)
	}

	failed, err := repo.Get(ctx, "DGN-003")
	require.NoError(t, err)
	assert.Equal(t, "transport: connection refused", failed.ProcessingInfo.Error)
}

func TestDiagnosticRepository_UpdateStatusRejectsInconsistentPayload(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))
	ctx := context.Background()
	_, err := repo.Insert(ctx, queuedRecord("DGN-001", "PAT-001", 1))
	require.NoError(t, err)

	_, err = repo.UpdateStatus(ctx, "DGN-001", domain.StatusFailed, domain.StatusUpdate{})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	got, err := repo.Get(ctx, "DGN-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
}

func TestDiagnosticRepository_OwnerQueries(t *testing.T) {
	repo := NewDiagnosticRepository(newTestDB(t))
	ctx := context.Background()

	next, err := repo.NextSequenceNumber(ctx, "PAT-001")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	_, err = repo.LatestForOwner(ctx, "PAT-001")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	for i := 1; i <= 5; i++ {
		_, err := repo.Insert(ctx, queuedRecord(fmt.Sprintf("DGN-%03d", i), "PAT-001", i))
		require.NoError(t, err)
	}
	_, err = repo.Insert(ctx, queuedRecord("DGN-006", "PAT-002", 1))
	require.NoError(t, err)

	next, err = repo.NextSequenceNumber(ctx, "PAT-001")
	require.NoError(t, err)
	assert.Equal(t, 6, next)

	count, err := repo.CountForOwner(ctx, "PAT-001")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	page, total, err := repo.ListByOwner(ctx, "PAT-001", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, 4, page[0].SequenceNumber)
	assert.Equal(t, 3, page[1].SequenceNumber)

	latest, err := repo.LatestForOwner(ctx, "PAT-001")
	require.NoError(t, err)
	assert.Equal(t, "DGN-005", latest.ID)
}

func TestCounterRepository_IncrementSeedList(t *testing.T) {
	repo := NewCounterRepository(newTestDB(t))
	ctx := context.Background()

	v, err := repo.Increment(ctx, domain.EntityDiagnostic, "DGN")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = repo.Increment(ctx, domain.EntityDiagnostic, "DGN")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	require.NoError(t, repo.Seed(ctx, []domain.SequenceCounter{
		{EntityType: domain.EntityDiagnostic, Prefix: "DGN"},
		{EntityType: domain.EntityPatient, Prefix: "PAT"},
	}))

	counters, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.SequenceCounter{
		{EntityType: domain.EntityDiagnostic, CurrentValue: 2, Prefix: "DGN"},
		{EntityType: domain.EntityPatient, CurrentValue: 0, Prefix: "PAT"},
	}, counters)
}

func TestAllocatorOverCounterRepository_Concurrent(t *testing.T) {
	alloc := sequence.New(NewCounterRepository(newTestDB(t)), observability.Nop())
	const n = 50

	ids := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			ids[i] = alloc.Next(context.Background(), domain.EntityDiagnostic)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[sequence.Format("DGN", int64(i))])
	}
}
