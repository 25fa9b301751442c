package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// StrategyNugget is a distilled, reusable action pattern extracted from one
// or more trajectories. UsageCount, SuccessCount and the derived WinRate are
// the only mutable fields and change solely through the store's atomic
// outcome recording; everything else is immutable after creation.
type StrategyNugget struct {
	ID           string         `json:"id" bson:"_id"`
	Description  string         `json:"description" bson:"description"`
	Context      string         `json:"context" bson:"context"`
	TaskMetadata map[string]any `json:"task_metadata,omitempty" bson:"task_metadata,omitempty"`
	Environment  string         `json:"environment,omitempty" bson:"environment,omitempty"`
	ToolsUsed    []string       `json:"tools_used,omitempty" bson:"tools_used,omitempty"`
	Outcome      Outcome        `json:"outcome" bson:"outcome"`
	WinRate      float64        `json:"win_rate" bson:"win_rate"`
	UsageCount   int64          `json:"usage_count" bson:"usage_count"`
	SuccessCount int64          `json:"success_count" bson:"success_count"`
	Steps        []string       `json:"steps,omitempty" bson:"steps,omitempty"`
	// LearnedFrom holds the source trajectory ids by reference only.
	LearnedFrom []string  `json:"learned_from,omitempty" bson:"learned_from,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// FindStrategy specifies the conditions for finding strategies.
type FindStrategy struct {
	ID          *string
	Environment *string
	Outcome     *Outcome
	MinWinRate  *float64
	// OrderByWinRate sorts highest win rate first when set; the default
	// order is newest first.
	OrderByWinRate bool
	Limit          int
}

// DeleteStrategy specifies the conditions for deleting strategies.
type DeleteStrategy struct {
	ID *string
	// WinRateBelow removes every strategy whose win rate is under the bound.
	WinRateBelow *float64
}

// NewStrategyID derives a deterministic strategy id from description and
// context so that re-distilling the same pattern deduplicates.
func NewStrategyID(description, context string) string {
	h := sha256.Sum256([]byte(description + "|" + context))
	return hex.EncodeToString(h[:])[:16]
}

// Validate checks the strategy invariants before any tier is written.
func (s *StrategyNugget) Validate() error {
	if s.ID == "" {
		return invalidField("id", "must not be empty")
	}
	if s.Description == "" {
		return invalidField("description", "must not be empty")
	}
	if !s.Outcome.Valid() {
		return invalidField("outcome", "must be one of success, failure, partial, unknown")
	}
	if s.WinRate < 0.0 || s.WinRate > 1.0 {
		return invalidField("win_rate", "must be within [0.0, 1.0]")
	}
	if s.UsageCount < 0 || s.SuccessCount < 0 || s.SuccessCount > s.UsageCount {
		return invalidField("usage_count", "counters must be non-negative with success_count <= usage_count")
	}
	return nil
}

// Clone returns an independent copy.
func (s *StrategyNugget) Clone() *StrategyNugget {
	if s == nil {
		return nil
	}
	out := *s
	out.TaskMetadata = cloneMap(s.TaskMetadata)
	out.ToolsUsed = cloneStrings(s.ToolsUsed)
	out.Steps = cloneStrings(s.Steps)
	out.LearnedFrom = cloneStrings(s.LearnedFrom)
	return &out
}

// WithOutcome returns a new nugget with the counters advanced by one
// application and the win rate recomputed. The receiver is left untouched;
// the in-process tier swaps the new value in under its lock.
func (s *StrategyNugget) WithOutcome(success bool) *StrategyNugget {
	out := s.Clone()
	out.UsageCount++
	if success {
		out.SuccessCount++
	}
	out.WinRate = float64(out.SuccessCount) / float64(out.UsageCount)
	return out
}
