package store

import (
	"time"

	"github.com/google/uuid"
)

// ActionStep is one atomic agent action inside a trajectory.
// Immutable once created.
type ActionStep struct {
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	ToolName  string         `json:"tool_name" bson:"tool_name"`
	ToolArgs  map[string]any `json:"tool_args,omitempty" bson:"tool_args,omitempty"`
	ToolResult any           `json:"tool_result,omitempty" bson:"tool_result,omitempty"`
	Rationale string         `json:"rationale,omitempty" bson:"rationale,omitempty"`
}

// FailureDiagnostics carries optional post-mortem notes for a failed attempt.
type FailureDiagnostics struct {
	Rationale     string `json:"rationale,omitempty" bson:"rationale,omitempty"`
	ErrorCategory string `json:"error_category,omitempty" bson:"error_category,omitempty"`
	AppliedFix    string `json:"applied_fix,omitempty" bson:"applied_fix,omitempty"`
}

// Trajectory is one complete task attempt by an agent: the ordered action
// steps plus outcome and reward. Created once after execution completes and
// never mutated; corrections produce a new record. Removed only by pruning.
type Trajectory struct {
	ID              string              `json:"id" bson:"_id"`
	AgentID         string              `json:"agent_id" bson:"agent_id"`
	TaskDescription string              `json:"task_description" bson:"task_description"`
	InitialState    map[string]any      `json:"initial_state,omitempty" bson:"initial_state,omitempty"`
	Steps           []ActionStep        `json:"steps,omitempty" bson:"steps,omitempty"`
	FinalOutcome    Outcome             `json:"final_outcome" bson:"final_outcome"`
	Reward          float64             `json:"reward" bson:"reward"`
	Metadata        map[string]any      `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt       time.Time           `json:"created_at" bson:"created_at"`
	DurationSeconds float64             `json:"duration_seconds" bson:"duration_seconds"`
	Diagnostics     *FailureDiagnostics `json:"diagnostics,omitempty" bson:"diagnostics,omitempty"`
	// ParentIDs are lineage back-references by id only. Pruning a parent
	// leaves these dangling; they are never followed on delete.
	ParentIDs []string `json:"parent_ids,omitempty" bson:"parent_ids,omitempty"`
}

// TrajectoryOrder selects the sort applied to a trajectory listing.
type TrajectoryOrder int

const (
	// OrderTrajectoryByCreatedDesc sorts newest first.
	OrderTrajectoryByCreatedDesc TrajectoryOrder = iota
	// OrderTrajectoryByRewardDesc sorts highest reward first.
	OrderTrajectoryByRewardDesc
)

// FindTrajectory specifies the conditions for finding trajectories.
type FindTrajectory struct {
	ID        *string
	AgentID   *string
	Outcome   *Outcome
	TaskText  *string // matched against the task description
	MinReward *float64
	OrderBy   TrajectoryOrder
	Limit     int
}

// DeleteTrajectory specifies the conditions for deleting trajectories.
type DeleteTrajectory struct {
	ID            *string
	CreatedBefore *time.Time
}

// NewTrajectoryID returns a fresh unique trajectory id.
func NewTrajectoryID() string {
	return uuid.New().String()
}

// Validate checks the trajectory invariants. It is called by the store
// before any tier is written.
func (t *Trajectory) Validate() error {
	if t.ID == "" {
		return invalidField("id", "must not be empty")
	}
	if t.AgentID == "" {
		return invalidField("agent_id", "must not be empty")
	}
	if !t.FinalOutcome.Valid() {
		return invalidField("final_outcome", "must be one of success, failure, partial, unknown")
	}
	if t.Reward < 0.0 || t.Reward > 1.0 {
		return invalidField("reward", "must be within [0.0, 1.0]")
	}
	if t.DurationSeconds < 0 {
		return invalidField("duration_seconds", "must be non-negative")
	}
	return nil
}

// Clone returns an independent copy. Callers always receive a clone so no
// mutable state is shared across goroutines.
func (t *Trajectory) Clone() *Trajectory {
	if t == nil {
		return nil
	}
	out := *t
	out.InitialState = cloneMap(t.InitialState)
	out.Metadata = cloneMap(t.Metadata)
	out.ParentIDs = cloneStrings(t.ParentIDs)
	if t.Steps != nil {
		out.Steps = make([]ActionStep, len(t.Steps))
		for i, s := range t.Steps {
			cs := s
			cs.ToolArgs = cloneMap(s.ToolArgs)
			out.Steps[i] = cs
		}
	}
	if t.Diagnostics != nil {
		d := *t.Diagnostics
		out.Diagnostics = &d
	}
	return &out
}
