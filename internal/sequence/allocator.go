// Package sequence issues human-readable identifiers such as DGN-014.
//
// Each entity type owns one counter in the backing store. The counter is
// advanced with a single atomic increment-and-read, so concurrent callers
// for the same type never observe the same value. When the store cannot be
// reached the allocator degrades to a timestamp-derived identifier instead of
// failing; those identifiers are not guaranteed unique.
package sequence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vetlab/bloodwork-analyzer/internal/domain"
	"github.com/vetlab/bloodwork-analyzer/internal/metrics"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
)

// UnknownPrefix is used for entity types without a registered prefix.
const UnknownPrefix = "UNK"

var prefixes = map[string]string{
	domain.EntityPatient:      "PAT",
	domain.EntityVeterinarian: "VET",
	domain.EntityTechnician:   "TEC",
	domain.EntityAdmin:        "ADM",
	domain.EntityDiagnostic:   "DGN",
	domain.EntityToken:        "TKN",
}

// CounterStore is the persistence required by the allocator.
type CounterStore interface {
	// Increment atomically adds one to the counter for entityType, creating
	// it with the given prefix if missing, and returns the new value.
	Increment(ctx context.Context, entityType, prefix string) (int64, error)
	// Seed creates the given counters if they do not exist yet.
	Seed(ctx context.Context, counters []domain.SequenceCounter) error
	List(ctx context.Context) ([]domain.SequenceCounter, error)
}

// Allocator implements domain.Allocator.
type Allocator struct {
	store   CounterStore
	logger  *observability.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithClock replaces the clock used by the fallback path.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// WithMetrics records allocations and fallbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

// New creates an allocator over store.
func New(store CounterStore, logger *observability.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		store:  store,
		logger: logger.WithComponent("sequence"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PrefixFor returns the identifier prefix for entityType.
func PrefixFor(entityType string) string {
	if p, ok := prefixes[entityType]; ok {
		return p
	}
	return UnknownPrefix
}

// Format renders an identifier. Values are zero-padded to three digits and
// grow past that width instead of being truncated.
func Format(prefix string, value int64) string {
	return fmt.Sprintf("%s-%03d", prefix, value)
}

// Next returns the next identifier for entityType.
func (a *Allocator) Next(ctx context.Context, entityType string) string {
	prefix := PrefixFor(entityType)

	value, err := a.store.Increment(ctx, entityType, prefix)
	if err != nil {
		id := fmt.Sprintf("%s-%d", prefix, a.now().UnixMilli())
		a.metrics.AllocatorFallback(entityType)
		a.logger.Error().
			Err(domain.AllocationError("counter increment failed", err)).
			Str("entity_type", entityType).
			Str("fallback_id", id).
			Msg("Using timestamp fallback identifier")
		return id
	}

	id := Format(prefix, value)
	a.metrics.Allocated(entityType)
	a.logger.Debug().Str("entity_type", entityType).Str("id", id).Msg("Generated next ID")
	return id
}

// Initialize makes sure a counter exists for every known entity type without
// resetting counters that are already in use.
func (a *Allocator) Initialize(ctx context.Context) error {
	counters := make([]domain.SequenceCounter, 0, len(prefixes))
	for entityType, prefix := range prefixes {
		counters = append(counters, domain.SequenceCounter{EntityType: entityType, Prefix: prefix})
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i].EntityType < counters[j].EntityType })

	if err := a.store.Seed(ctx, counters); err != nil {
		return domain.AllocationError("initialize sequence counters", err)
	}
	a.logger.Info().Int("counters", len(counters)).Msg("Sequence counters initialized")
	return nil
}

// Counters lists the current counter state.
func (a *Allocator) Counters(ctx context.Context) ([]domain.SequenceCounter, error) {
	counters, err := a.store.List(ctx)
	if err != nil {
		return nil, domain.StorageError("list sequence counters", err)
	}
	return counters, nil
}
