package storage

import (
	"context"
	"time"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
)

// CounterRepository persists sequence counters.
type CounterRepository struct {
	db  DB
	now func() time.Time
}

// NewCounterRepository creates a new counter repository.
func NewCounterRepository(db DB) *CounterRepository {
	return &CounterRepository{db: db, now: time.Now}
}

// Increment adds one to the counter for entityType and returns the new value.
// A missing counter is created at 1. The upsert is a single statement, so
// concurrent callers never read the same value.
func (r *CounterRepository) Increment(ctx context.Context, entityType, prefix string) (int64, error) {
	query := `
		INSERT INTO sequence_counters (entity_type, current_value, prefix, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (entity_type) DO UPDATE
			SET current_value = sequence_counters.current_value + 1,
				updated_at = excluded.updated_at
		RETURNING current_value
	`
	var value int64
	if err := r.db.QueryRowContext(ctx, query, entityType, prefix, r.now().UTC()).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

// Seed creates the given counters at zero, leaving existing ones untouched.
func (r *CounterRepository) Seed(ctx context.Context, counters []domain.SequenceCounter) error {
	query := `
		INSERT INTO sequence_counters (entity_type, current_value, prefix, updated_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (entity_type) DO NOTHING
	`
	now := r.now().UTC()
	for _, c := range counters {
		if _, err := r.db.ExecContext(ctx, query, c.EntityType, c.Prefix, now); err != nil {
			return err
		}
	}
	return nil
}

// List returns every counter ordered by entity type.
func (r *CounterRepository) List(ctx context.Context) ([]domain.SequenceCounter, error) {
	query := `
		SELECT entity_type, current_value, prefix
		FROM sequence_counters
		ORDER BY entity_type
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []domain.SequenceCounter
	for rows.Next() {
		var c domain.SequenceCounter
		if err := rows.Scan(&c.EntityType, &c.CurrentValue, &c.Prefix); err != nil {
			return nil, err
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}
