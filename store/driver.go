package store

import (
	"context"
	"fmt"
)

// TierKind identifies one of the three storage tiers.
type TierKind string

const (
	// TierMemory is the in-process bounded map. Always available; the
	// correctness backstop for every write.
	TierMemory TierKind = "memory"
	// TierMongo is the durable indexed document store.
	TierMongo TierKind = "mongo"
	// TierRedis is the low-latency streaming cache with bounded retention.
	TierRedis TierKind = "redis"
)

// TierDriver is implemented by every storage tier. A nil,nil return from the
// Get methods means not found; errors mean the tier failed and the caller
// should fall through to the next tier.
type TierDriver interface {
	Kind() TierKind
	// Ping probes tier health. It must never panic; an error marks the
	// tier unavailable.
	Ping(ctx context.Context) error
	// Stats reports the tier's current record counts.
	Stats(ctx context.Context) (TierCounts, error)
	Close() error

	// Trajectory model related methods.
	UpsertTrajectory(ctx context.Context, create *Trajectory) error
	GetTrajectory(ctx context.Context, id string) (*Trajectory, error)
	ListTrajectories(ctx context.Context, find *FindTrajectory) ([]*Trajectory, error)
	// SampleTrajectories draws up to n uniform random matches.
	SampleTrajectories(ctx context.Context, find *FindTrajectory, n int) ([]*Trajectory, error)
	DeleteTrajectories(ctx context.Context, delete *DeleteTrajectory) (int64, error)

	// Strategy model related methods.
	UpsertStrategy(ctx context.Context, create *StrategyNugget) error
	GetStrategy(ctx context.Context, id string) (*StrategyNugget, error)
	ListStrategies(ctx context.Context, find *FindStrategy) ([]*StrategyNugget, error)
	// SearchStrategies ranks matches for the context text. The durable tier
	// uses its text-relevance index; the other tiers approximate with a
	// case-insensitive substring match ranked by win rate.
	SearchStrategies(ctx context.Context, text string, limit int, minWinRate float64) ([]*StrategyNugget, error)
	SampleStrategies(ctx context.Context, find *FindStrategy, n int) ([]*StrategyNugget, error)
	// RecordStrategyOutcome atomically advances usage/success counters and
	// recomputes the win rate, returning the updated record when the tier
	// can produce it cheaply (nil otherwise).
	RecordStrategyOutcome(ctx context.Context, id string, success bool) (*StrategyNugget, error)
	DeleteStrategies(ctx context.Context, delete *DeleteStrategy) (int64, error)

	// MemoryEntry model related methods.
	UpsertMemoryEntry(ctx context.Context, create *MemoryEntry) error
	GetMemoryEntry(ctx context.Context, id string) (*MemoryEntry, error)
	ListMemoryEntries(ctx context.Context, find *FindMemoryEntry) ([]*MemoryEntry, error)
	RecordMemoryOutcome(ctx context.Context, id string, success bool) (*MemoryEntry, error)
	DeleteMemoryEntries(ctx context.Context, delete *DeleteMemoryEntry) (int64, error)
}

// TierCounts holds one tier's per-model record counts.
type TierCounts struct {
	Trajectories  int64 `json:"trajectories"`
	Strategies    int64 `json:"strategies"`
	MemoryEntries int64 `json:"memory_entries"`
}

// ErrNotFound is returned by RecordStrategyOutcome / RecordMemoryOutcome when
// the id is absent from the tier. Read paths report misses as nil,nil instead.
var ErrNotFound = fmt.Errorf("record not found")

// TierError marks a tier-local failure. The store core treats it as "tier
// unavailable for this operation" and falls through; it never reaches a
// caller unless the in-process backstop itself fails.
type TierError struct {
	Tier TierKind
	Op   string
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("%s tier: %s: %v", e.Tier, e.Op, e.Err)
}

func (e *TierError) Unwrap() error {
	return e.Err
}

// NewTierError wraps a backend failure with its tier and operation.
func NewTierError(tier TierKind, op string, err error) *TierError {
	return &TierError{Tier: tier, Op: op, Err: err}
}
