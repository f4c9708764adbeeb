// Package graph exposes the property graph backend behind a narrow
// store contract: entity and relationship CRUD keyed by (label, id),
// label-scoped traversal, and a health probe.
//
// Two implementations exist. The bolt store drives a Neo4j-compatible
// server through the official driver with read/write transaction
// scopes; the embedded store keeps the same semantics in a local
// SQLite database so the hub runs without external services. Both
// translate backend errors into the errs taxonomy at this boundary —
// callers never see driver errors.
package graph

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Props is an open-ended property map. Values are scalars, timestamps
// rendered as RFC-3339 strings, or lists of scalars.
type Props map[string]any

// Clone returns a shallow copy. Mutating the copy never affects the
// original map.
func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Entity is a node in the graph. ID is unique within its label.
type Entity struct {
	Label string `json:"label"`
	ID    string `json:"id"`
	Props Props  `json:"properties"`
}

// Ref addresses an entity by (label, id).
type Ref struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

func (r Ref) String() string { return r.Label + "/" + r.ID }

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	From  Ref    `json:"from"`
	Type  string `json:"type"`
	To    Ref    `json:"to"`
	Props Props  `json:"properties,omitempty"`
}

// Direction scopes relationship lookups relative to an entity.
type Direction string

const (
	DirIn   Direction = "in"
	DirOut  Direction = "out"
	DirBoth Direction = "both"
)

// Neighbor pairs a relationship with the entity on its far side.
type Neighbor struct {
	Relationship Relationship `json:"relationship"`
	Other        Entity       `json:"other"`
}

// Path is an ordered walk between two entities. RelTypes[i] connects
// Nodes[i] to Nodes[i+1]; Length == len(RelTypes).
type Path struct {
	Length   int      `json:"length"`
	Nodes    []Ref    `json:"nodes"`
	RelTypes []string `json:"relationships"`
}

// Subgraph is the neighborhood of a root entity within a radius.
type Subgraph struct {
	Root          Ref            `json:"root"`
	Nodes         []Entity       `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
	Truncated     bool           `json:"truncated"`
}

// RelStat is one row of the per-entity relationship census, sorted by
// count descending.
type RelStat struct {
	Type          string `json:"type"`
	NeighborLabel string `json:"neighborLabel"`
	Count         int64  `json:"count"`
}

// Health is the result of a backend probe.
type Health struct {
	Healthy bool          `json:"healthy"`
	Reason  string        `json:"reason,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Traversal bounds shared by both backends.
const (
	// MaxDepth caps every traversal regardless of the caller's bound.
	MaxDepth = 10
	// ConnectedCap caps the size of a connected-set result.
	ConnectedCap = 500
	// DefaultSubgraphCap bounds subgraph extraction when the caller
	// passes no cap.
	DefaultSubgraphCap = 100
)

// Store is the graph backend contract. Every operation either
// succeeds or fails with an errs taxonomy error.
type Store interface {
	CreateEntity(ctx context.Context, label string, props Props) (Entity, error)
	CreateEntities(ctx context.Context, label string, batch []Props) ([]Entity, error)
	GetEntity(ctx context.Context, label, id string) (Entity, error)
	FindEntities(ctx context.Context, label string, match Props, limit int) ([]Entity, error)
	UpdateEntity(ctx context.Context, label, id string, props Props) (Entity, error)
	DeleteEntity(ctx context.Context, label, id string) (bool, error)
	CountEntities(ctx context.Context, label string) (int64, error)

	CreateRelationship(ctx context.Context, from Ref, relType string, to Ref, props Props) (Relationship, error)
	Relationships(ctx context.Context, label, id string, dir Direction, relType string) ([]Neighbor, error)
	FindRelationship(ctx context.Context, from Ref, relType string, to Ref) (*Relationship, error)
	UpdateRelationship(ctx context.Context, from Ref, relType string, to Ref, props Props) (*Relationship, error)
	DeleteRelationship(ctx context.Context, from Ref, relType string, to Ref) (bool, error)
	DeleteRelationshipsFor(ctx context.Context, label, id string) (int64, error)
	CountRelationships(ctx context.Context, label, id, relType string) (int64, error)

	Connected(ctx context.Context, label, id string, maxDepth int) ([]Entity, error)
	ShortestPath(ctx context.Context, from, to Ref, maxDepth int) (*Path, error)
	AllPaths(ctx context.Context, from, to Ref, maxDepth, limit int) ([]Path, error)
	ExtractSubgraph(ctx context.Context, label, id string, radius, nodeCap int) (*Subgraph, error)
	RelStats(ctx context.Context, label, id string) ([]RelStat, error)
	SearchByText(ctx context.Context, label, query string, fields []string, limit int) ([]Entity, error)

	Health(ctx context.Context) Health
	Close(ctx context.Context) error
}

// identRe matches the labels and relationship types that may be
// interpolated into Cypher text. Anything else is rejected as
// invalid input before it reaches a query.
var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidIdent reports whether s is safe to use as a label or
// relationship type.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// nowStamp returns the canonical mutation timestamp: UTC, millisecond
// precision, Z suffix. Fixed width keeps lexicographic and temporal
// order identical, which FindEntities relies on for newest-first.
func nowStamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// clampDepth applies the caller's bound under the global ceiling.
func clampDepth(d int) int {
	if d < 1 {
		return 1
	}
	if d > MaxDepth {
		return MaxDepth
	}
	return d
}

// stampProps sets created_at/updated_at for a first persist without
// overwriting a caller-supplied created_at.
func stampProps(p Props) Props {
	out := p.Clone()
	if out == nil {
		out = Props{}
	}
	now := nowStamp()
	if _, ok := out["created_at"]; !ok {
		out["created_at"] = now
	}
	out["updated_at"] = now
	return out
}

// matchesProps reports whether candidate carries every key of match
// with an equal value. Numeric values compare across int/float types
// since JSON round-trips turn counts into float64.
func matchesProps(candidate, match Props) bool {
	for k, want := range match {
		got, ok := candidate[k]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
