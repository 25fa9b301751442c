package store

import (
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// MemoryKind tags the flavor of a generic memory record.
type MemoryKind string

const (
	MemoryKindConsensus  MemoryKind = "consensus"
	MemoryKindPersona    MemoryKind = "persona"
	MemoryKindWhiteboard MemoryKind = "whiteboard"
	MemoryKindStrategy   MemoryKind = "strategy"
)

// Valid reports whether the kind is recognized.
func (k MemoryKind) Valid() bool {
	switch k {
	case MemoryKindConsensus, MemoryKindPersona, MemoryKindWhiteboard, MemoryKindStrategy:
		return true
	}
	return false
}

// MemoryEntry is a generic tagged memory record shared by the learning
// components. Tags drive filtered retrieval.
type MemoryEntry struct {
	ID           string         `json:"id" bson:"_id"`
	Kind         MemoryKind     `json:"kind" bson:"kind"`
	Content      string         `json:"content" bson:"content"`
	Metadata     map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Outcome      Outcome        `json:"outcome" bson:"outcome"`
	WinRate      float64        `json:"win_rate" bson:"win_rate"`
	UsageCount   int64          `json:"usage_count" bson:"usage_count"`
	SuccessCount int64          `json:"success_count" bson:"success_count"`
	Tags         []string       `json:"tags,omitempty" bson:"tags,omitempty"`
	CreatedAt    time.Time      `json:"created_at" bson:"created_at"`
}

// FindMemoryEntry specifies the conditions for finding memory entries.
type FindMemoryEntry struct {
	ID   *string
	Kind *MemoryKind
	// Tags requires every listed tag to be present on a matching entry.
	Tags  []string
	Limit int
}

// DeleteMemoryEntry specifies the conditions for deleting memory entries.
type DeleteMemoryEntry struct {
	ID   *string
	Kind *MemoryKind
}

// NewMemoryEntryID returns a fresh short unique id.
func NewMemoryEntryID() string {
	return shortuuid.New()
}

// Validate checks the entry invariants before any tier is written.
func (m *MemoryEntry) Validate() error {
	if m.ID == "" {
		return invalidField("id", "must not be empty")
	}
	if !m.Kind.Valid() {
		return invalidField("kind", "must be one of consensus, persona, whiteboard, strategy")
	}
	if !m.Outcome.Valid() {
		return invalidField("outcome", "must be one of success, failure, partial, unknown")
	}
	if m.WinRate < 0.0 || m.WinRate > 1.0 {
		return invalidField("win_rate", "must be within [0.0, 1.0]")
	}
	if m.UsageCount < 0 || m.SuccessCount < 0 || m.SuccessCount > m.UsageCount {
		return invalidField("usage_count", "counters must be non-negative with success_count <= usage_count")
	}
	return nil
}

// WithOutcome returns a new entry with the counters advanced by one use and
// the win rate recomputed. The receiver is left untouched.
func (m *MemoryEntry) WithOutcome(success bool) *MemoryEntry {
	out := m.Clone()
	out.UsageCount++
	if success {
		out.SuccessCount++
	}
	out.WinRate = float64(out.SuccessCount) / float64(out.UsageCount)
	return out
}

// Clone returns an independent copy.
func (m *MemoryEntry) Clone() *MemoryEntry {
	if m == nil {
		return nil
	}
	out := *m
	out.Metadata = cloneMap(m.Metadata)
	out.Tags = cloneStrings(m.Tags)
	return &out
}

// HasTags reports whether the entry carries every tag in want.
func (m *MemoryEntry) HasTags(want []string) bool {
	for _, w := range want {
		found := false
		for _, t := range m.Tags {
			if t == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
