//go:build integration

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/vetlab/bloodwork-analyzer/internal/config"
	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
	"github.com/vetlab/bloodwork-analyzer/internal/sequence"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("bloodwork_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test:test@%s:%s/bloodwork_test?sslmode=disable", host, port.Port())
}

func TestPostgres_RecordsAndCounters(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	db, err := Open(ctx, config.DatabaseConfig{
		Driver: "postgres",
		Postgres: config.PostgresConfig{
			DSN:             dsn,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Minute,
		},
	}, observability.Nop())
	require.NoError(t, err)
	defer db.Close()

	alloc := sequence.New(NewCounterRepository(db), observability.Nop())
	const n = 100
	ids := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			ids[i] = alloc.Next(ctx, domain.EntityDiagnostic)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	seen := make(map[string]bool, n)
	for _, id := range ids {
		require.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}

	repo := NewDiagnosticRepository(db)
	_, err = repo.Insert(ctx, queuedRecord("DGN-001", "PAT-001", 1))
	require.NoError(t, err)

	_, err = repo.Insert(ctx, queuedRecord("DGN-001", "PAT-001", 2))
	assert.True(t, errors.Is(err, domain.ErrDuplicateIdentifier))

	ok, err := repo.UpdateStatus(ctx, "DGN-001", domain.StatusProcessing, domain.StatusUpdate{})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, "DGN-001", domain.StatusCompleted, domain.StatusUpdate{
		Result:         map[string]any{"wbc": "7.1 10^3/μL"},
		ProcessingInfo: &domain.ProcessingInfo{ModelVersion: "gemma3:27b", PageCount: 1},
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = repo.UpdateStatus(ctx, "DGN-001", domain.StatusProcessing, domain.StatusUpdate{})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	got, err := repo.Get(ctx, "DGN-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "7.1 10^3/μL", got.Result["wbc"])

	next, err := repo.NextSequenceNumber(ctx, "PAT-001")
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}
