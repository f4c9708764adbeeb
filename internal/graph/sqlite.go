package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cortexhub/cortexhub/internal/errs"
)

// SQLiteStore is the embedded graph backend: nodes and edges in a
// local SQLite database with properties as JSON. It implements the
// full Store contract, including traversal, with breadth-first walks
// executed in-process.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the embedded graph database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("graph: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graph: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("graph: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("graph: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			label      TEXT NOT NULL,
			id         TEXT NOT NULL,
			props      TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (label, id)
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_created ON nodes(label, created_at DESC);

		CREATE TABLE IF NOT EXISTS edges (
			rowid_pk   INTEGER PRIMARY KEY AUTOINCREMENT,
			from_label TEXT NOT NULL,
			from_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			to_label   TEXT NOT NULL,
			to_id      TEXT NOT NULL,
			props      TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			UNIQUE (from_label, from_id, type, to_label, to_id)
		);

		CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_label, from_id);
		CREATE INDEX IF NOT EXISTS idx_edges_to   ON edges(to_label, to_id);
		CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}

// Health executes a trivial query and reports latency.
func (s *SQLiteStore) Health(ctx context.Context) Health {
	start := time.Now()
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	h := Health{Latency: time.Since(start)}
	if err != nil {
		h.Reason = err.Error()
		return h
	}
	h.Healthy = true
	return h
}

// ─── Entity ops ──────────────────────────────────────────────────────────────

func (s *SQLiteStore) CreateEntity(ctx context.Context, label string, props Props) (Entity, error) {
	const op = "graph: create entity"
	if !ValidIdent(label) {
		return Entity{}, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}
	id, _ := props["id"].(string)
	if id == "" {
		return Entity{}, errs.New(errs.KindInvalidInput, op, "props.id is required")
	}

	stamped := stampProps(props)
	stamped["id"] = id
	raw, err := json.Marshal(stamped)
	if err != nil {
		return Entity{}, errs.Wrap(errs.KindInvalidInput, op, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (label, id, props, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		label, id, string(raw), stamped["created_at"], stamped["updated_at"])
	if err != nil {
		if isSQLiteConstraint(err) {
			return Entity{}, errs.Newf(errs.KindDuplicate, op, "%s/%s already exists", label, id)
		}
		return Entity{}, translateSQLite(op, err)
	}
	return Entity{Label: label, ID: id, Props: stamped}, nil
}

func (s *SQLiteStore) CreateEntities(ctx context.Context, label string, batch []Props) ([]Entity, error) {
	const op = "graph: create entities"
	if !ValidIdent(label) {
		return nil, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translateSQLite(op, err)
	}
	defer tx.Rollback()

	out := make([]Entity, 0, len(batch))
	for _, props := range batch {
		id, _ := props["id"].(string)
		if id == "" {
			return nil, errs.New(errs.KindInvalidInput, op, "props.id is required for every element")
		}
		stamped := stampProps(props)
		stamped["id"] = id
		raw, err := json.Marshal(stamped)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidInput, op, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO nodes (label, id, props, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			label, id, string(raw), stamped["created_at"], stamped["updated_at"]); err != nil {
			if isSQLiteConstraint(err) {
				return nil, errs.Newf(errs.KindDuplicate, op, "%s/%s already exists", label, id)
			}
			return nil, translateSQLite(op, err)
		}
		out = append(out, Entity{Label: label, ID: id, Props: stamped})
	}
	if err := tx.Commit(); err != nil {
		return nil, translateSQLite(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, label, id string) (Entity, error) {
	const op = "graph: get entity"
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT props FROM nodes WHERE label = ? AND id = ?`, label, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, errs.Newf(errs.KindNotFound, op, "%s/%s", label, id)
	}
	if err != nil {
		return Entity{}, translateSQLite(op, err)
	}
	props, err := decodeProps(raw)
	if err != nil {
		return Entity{}, errs.Wrap(errs.KindInternal, op, err)
	}
	return Entity{Label: label, ID: id, Props: props}, nil
}

func (s *SQLiteStore) FindEntities(ctx context.Context, label string, match Props, limit int) ([]Entity, error) {
	const op = "graph: find entities"
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, props FROM nodes WHERE label = ? ORDER BY created_at DESC, id`, label)
	if err != nil {
		return nil, translateSQLite(op, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, translateSQLite(op, err)
		}
		props, err := decodeProps(raw)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, op, err)
		}
		if !matchesProps(props, match) {
			continue
		}
		out = append(out, Entity{Label: label, ID: id, Props: props})
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateEntity(ctx context.Context, label, id string, props Props) (Entity, error) {
	const op = "graph: update entity"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entity{}, translateSQLite(op, err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT props FROM nodes WHERE label = ? AND id = ?`, label, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, errs.Newf(errs.KindNotFound, op, "%s/%s", label, id)
	}
	if err != nil {
		return Entity{}, translateSQLite(op, err)
	}

	current, err := decodeProps(raw)
	if err != nil {
		return Entity{}, errs.Wrap(errs.KindInternal, op, err)
	}

	// Merge; created_at and id are immutable.
	for k, v := range props {
		if k == "created_at" || k == "id" {
			continue
		}
		current[k] = v
	}
	current["updated_at"] = nowStamp()

	merged, err := json.Marshal(current)
	if err != nil {
		return Entity{}, errs.Wrap(errs.KindInvalidInput, op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE nodes SET props = ?, updated_at = ? WHERE label = ? AND id = ?`,
		string(merged), current["updated_at"], label, id); err != nil {
		return Entity{}, translateSQLite(op, err)
	}
	if err := tx.Commit(); err != nil {
		return Entity{}, translateSQLite(op, err)
	}
	return Entity{Label: label, ID: id, Props: current}, nil
}

// DeleteEntity removes the node and every edge touching it, matching
// Cypher's DETACH DELETE.
func (s *SQLiteStore) DeleteEntity(ctx context.Context, label, id string) (bool, error) {
	const op = "graph: delete entity"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, translateSQLite(op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE (from_label = ? AND from_id = ?) OR (to_label = ? AND to_id = ?)`,
		label, id, label, id); err != nil {
		return false, translateSQLite(op, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE label = ? AND id = ?`, label, id)
	if err != nil {
		return false, translateSQLite(op, err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, translateSQLite(op, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CountEntities(ctx context.Context, label string) (int64, error) {
	const op = "graph: count entities"
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE label = ?`, label).Scan(&n); err != nil {
		return 0, translateSQLite(op, err)
	}
	return n, nil
}

// ─── Relationship ops ────────────────────────────────────────────────────────

func (s *SQLiteStore) CreateRelationship(ctx context.Context, from Ref, relType string, to Ref, props Props) (Relationship, error) {
	const op = "graph: create relationship"
	if !ValidIdent(relType) {
		return Relationship{}, errs.Newf(errs.KindInvalidInput, op, "invalid relationship type %q", relType)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Relationship{}, translateSQLite(op, err)
	}
	defer tx.Rollback()

	for _, ref := range []Ref{from, to} {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM nodes WHERE label = ? AND id = ?`, ref.Label, ref.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return Relationship{}, errs.Newf(errs.KindNotFound, op, "endpoint %s does not exist", ref)
		}
		if err != nil {
			return Relationship{}, translateSQLite(op, err)
		}
	}

	stamped := props.Clone()
	if stamped == nil {
		stamped = Props{}
	}
	stamped["created_at"] = nowStamp()
	raw, err := json.Marshal(stamped)
	if err != nil {
		return Relationship{}, errs.Wrap(errs.KindInvalidInput, op, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO edges (from_label, from_id, type, to_label, to_id, props, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (from_label, from_id, type, to_label, to_id)
		 DO UPDATE SET props = excluded.props`,
		from.Label, from.ID, relType, to.Label, to.ID, string(raw), stamped["created_at"])
	if err != nil {
		return Relationship{}, translateSQLite(op, err)
	}
	if err := tx.Commit(); err != nil {
		return Relationship{}, translateSQLite(op, err)
	}
	return Relationship{From: from, Type: relType, To: to, Props: stamped}, nil
}

func (s *SQLiteStore) Relationships(ctx context.Context, label, id string, dir Direction, relType string) ([]Neighbor, error) {
	const op = "graph: relationships"

	var clauses []string
	var args []any
	if dir == DirOut || dir == DirBoth || dir == "" {
		clauses = append(clauses, `(from_label = ? AND from_id = ?)`)
		args = append(args, label, id)
	}
	if dir == DirIn || dir == DirBoth || dir == "" {
		clauses = append(clauses, `(to_label = ? AND to_id = ?)`)
		args = append(args, label, id)
	}
	query := `SELECT from_label, from_id, type, to_label, to_id, props FROM edges WHERE (` +
		strings.Join(clauses, " OR ") + `)`
	if relType != "" {
		query += ` AND type = ?`
		args = append(args, relType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateSQLite(op, err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var fl, fi, typ, tl, ti, raw string
		if err := rows.Scan(&fl, &fi, &typ, &tl, &ti, &raw); err != nil {
			return nil, translateSQLite(op, err)
		}
		props, err := decodeProps(raw)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, op, err)
		}
		rel := Relationship{From: Ref{fl, fi}, Type: typ, To: Ref{tl, ti}, Props: props}
		otherRef := rel.To
		if tl == label && ti == id && !(fl == label && fi == id) {
			otherRef = rel.From
		}
		other, err := s.GetEntity(ctx, otherRef.Label, otherRef.ID)
		if err != nil && !errs.IsKind(err, errs.KindNotFound) {
			return nil, err
		}
		out = append(out, Neighbor{Relationship: rel, Other: other})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindRelationship(ctx context.Context, from Ref, relType string, to Ref) (*Relationship, error) {
	const op = "graph: find relationship"
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT props FROM edges WHERE from_label = ? AND from_id = ? AND type = ? AND to_label = ? AND to_id = ?`,
		from.Label, from.ID, relType, to.Label, to.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Newf(errs.KindNotFound, op, "%s-[%s]->%s", from, relType, to)
	}
	if err != nil {
		return nil, translateSQLite(op, err)
	}
	props, err := decodeProps(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}
	return &Relationship{From: from, Type: relType, To: to, Props: props}, nil
}

func (s *SQLiteStore) UpdateRelationship(ctx context.Context, from Ref, relType string, to Ref, props Props) (*Relationship, error) {
	const op = "graph: update relationship"
	existing, err := s.FindRelationship(ctx, from, relType, to)
	if err != nil {
		return nil, err
	}
	merged := existing.Props.Clone()
	for k, v := range props {
		if k == "created_at" {
			continue
		}
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, op, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE edges SET props = ? WHERE from_label = ? AND from_id = ? AND type = ? AND to_label = ? AND to_id = ?`,
		string(raw), from.Label, from.ID, relType, to.Label, to.ID); err != nil {
		return nil, translateSQLite(op, err)
	}
	return &Relationship{From: from, Type: relType, To: to, Props: merged}, nil
}

func (s *SQLiteStore) DeleteRelationship(ctx context.Context, from Ref, relType string, to Ref) (bool, error) {
	const op = "graph: delete relationship"
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM edges WHERE from_label = ? AND from_id = ? AND type = ? AND to_label = ? AND to_id = ?`,
		from.Label, from.ID, relType, to.Label, to.ID)
	if err != nil {
		return false, translateSQLite(op, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) DeleteRelationshipsFor(ctx context.Context, label, id string) (int64, error) {
	const op = "graph: delete relationships for"
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM edges WHERE (from_label = ? AND from_id = ?) OR (to_label = ? AND to_id = ?)`,
		label, id, label, id)
	if err != nil {
		return 0, translateSQLite(op, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) CountRelationships(ctx context.Context, label, id, relType string) (int64, error) {
	const op = "graph: count relationships"
	query := `SELECT COUNT(*) FROM edges WHERE ((from_label = ? AND from_id = ?) OR (to_label = ? AND to_id = ?))`
	args := []any{label, id, label, id}
	if relType != "" {
		query += ` AND type = ?`
		args = append(args, relType)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, translateSQLite(op, err)
	}
	return n, nil
}

// ─── Traversal ───────────────────────────────────────────────────────────────

// edgeRow is the adjacency record used by the in-process walks.
type edgeRow struct {
	from Ref
	typ  string
	to   Ref
}

func (s *SQLiteStore) edgesTouching(ctx context.Context, refs []Ref) ([]edgeRow, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	var clauses []string
	var args []any
	for _, r := range refs {
		clauses = append(clauses, `(from_label = ? AND from_id = ?) OR (to_label = ? AND to_id = ?)`)
		args = append(args, r.Label, r.ID, r.Label, r.ID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_label, from_id, type, to_label, to_id FROM edges WHERE `+strings.Join(clauses, " OR "),
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []edgeRow
	for rows.Next() {
		var e edgeRow
		if err := rows.Scan(&e.from.Label, &e.from.ID, &e.typ, &e.to.Label, &e.to.ID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Connected returns the distinct set of nodes reachable from the root
// via any edge (either direction) within maxDepth steps. The root is
// excluded; the result is capped at ConnectedCap.
func (s *SQLiteStore) Connected(ctx context.Context, label, id string, maxDepth int) ([]Entity, error) {
	const op = "graph: connected"
	if _, err := s.GetEntity(ctx, label, id); err != nil {
		return nil, err
	}

	maxDepth = clampDepth(maxDepth)
	root := Ref{Label: label, ID: id}
	seen := map[Ref]bool{root: true}
	frontier := []Ref{root}
	var reached []Ref

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		edges, err := s.edgesTouching(ctx, frontier)
		if err != nil {
			return nil, translateSQLite(op, err)
		}
		var next []Ref
		for _, e := range edges {
			for _, cand := range []Ref{e.from, e.to} {
				if seen[cand] {
					continue
				}
				seen[cand] = true
				next = append(next, cand)
				reached = append(reached, cand)
				if len(reached) >= ConnectedCap {
					return s.hydrate(ctx, reached)
				}
			}
		}
		frontier = next
	}
	return s.hydrate(ctx, reached)
}

func (s *SQLiteStore) hydrate(ctx context.Context, refs []Ref) ([]Entity, error) {
	out := make([]Entity, 0, len(refs))
	for _, r := range refs {
		e, err := s.GetEntity(ctx, r.Label, r.ID)
		if err != nil {
			if errs.IsKind(err, errs.KindNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ShortestPath runs a breadth-first search treating edges as
// undirected, matching the bolt backend's -[*..d]- pattern.
func (s *SQLiteStore) ShortestPath(ctx context.Context, from, to Ref, maxDepth int) (*Path, error) {
	const op = "graph: shortest path"
	for _, ref := range []Ref{from, to} {
		if _, err := s.GetEntity(ctx, ref.Label, ref.ID); err != nil {
			return nil, err
		}
	}
	if from == to {
		return &Path{Length: 0, Nodes: []Ref{from}}, nil
	}

	maxDepth = clampDepth(maxDepth)
	parent := map[Ref]hop{}
	seen := map[Ref]bool{from: true}
	frontier := []Ref{from}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		edges, err := s.edgesTouching(ctx, frontier)
		if err != nil {
			return nil, translateSQLite(op, err)
		}
		inFrontier := map[Ref]bool{}
		for _, r := range frontier {
			inFrontier[r] = true
		}
		var next []Ref
		for _, e := range edges {
			pairs := [][2]Ref{{e.from, e.to}, {e.to, e.from}}
			for _, p := range pairs {
				src, dst := p[0], p[1]
				if !inFrontier[src] || seen[dst] {
					continue
				}
				seen[dst] = true
				parent[dst] = hop{prev: src, typ: e.typ}
				if dst == to {
					return buildPath(from, to, parent), nil
				}
				next = append(next, dst)
			}
		}
		frontier = next
	}
	return nil, nil // unreachable within bound
}

func buildPath(from, to Ref, parent map[Ref]hop) *Path {
	var nodes []Ref
	var rels []string
	cur := to
	for cur != from {
		h := parent[cur]
		nodes = append([]Ref{cur}, nodes...)
		rels = append([]string{h.typ}, rels...)
		cur = h.prev
	}
	nodes = append([]Ref{from}, nodes...)
	return &Path{Length: len(rels), Nodes: nodes, RelTypes: rels}
}

type hop struct {
	prev Ref
	typ  string
}

// AllPaths enumerates simple paths up to maxDepth via bounded DFS and
// returns them ordered by length ascending.
func (s *SQLiteStore) AllPaths(ctx context.Context, from, to Ref, maxDepth, limit int) ([]Path, error) {
	const op = "graph: all paths"
	for _, ref := range []Ref{from, to} {
		if _, err := s.GetEntity(ctx, ref.Label, ref.ID); err != nil {
			return nil, err
		}
	}
	maxDepth = clampDepth(maxDepth)
	if limit <= 0 {
		limit = 25
	}

	var paths []Path
	onPath := map[Ref]bool{from: true}

	var walk func(cur Ref, nodes []Ref, rels []string) error
	walk = func(cur Ref, nodes []Ref, rels []string) error {
		if len(paths) >= limit*4 { // gather extra, trim after sorting
			return nil
		}
		if len(rels) >= maxDepth {
			return nil
		}
		edges, err := s.edgesTouching(ctx, []Ref{cur})
		if err != nil {
			return translateSQLite(op, err)
		}
		for _, e := range edges {
			var next Ref
			switch {
			case e.from == cur:
				next = e.to
			case e.to == cur:
				next = e.from
			default:
				continue
			}
			if onPath[next] {
				continue
			}
			nn := append(append([]Ref{}, nodes...), next)
			nr := append(append([]string{}, rels...), e.typ)
			if next == to {
				paths = append(paths, Path{Length: len(nr), Nodes: nn, RelTypes: nr})
				continue
			}
			onPath[next] = true
			if err := walk(next, nn, nr); err != nil {
				return err
			}
			delete(onPath, next)
		}
		return nil
	}

	if err := walk(from, []Ref{from}, nil); err != nil {
		return nil, err
	}
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Length < paths[j].Length })
	if len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

// ExtractSubgraph collects the neighborhood of the root within radius,
// bounded by nodeCap.
func (s *SQLiteStore) ExtractSubgraph(ctx context.Context, label, id string, radius, nodeCap int) (*Subgraph, error) {
	const op = "graph: subgraph"
	root, err := s.GetEntity(ctx, label, id)
	if err != nil {
		return nil, err
	}
	radius = clampDepth(radius)
	if nodeCap <= 0 {
		nodeCap = DefaultSubgraphCap
	}

	rootRef := Ref{Label: label, ID: id}
	seen := map[Ref]bool{rootRef: true}
	nodes := []Entity{root}
	relSeen := map[string]bool{}
	var rels []Relationship
	frontier := []Ref{rootRef}
	truncated := false

	for depth := 0; depth < radius && len(frontier) > 0 && !truncated; depth++ {
		edges, err := s.edgesTouching(ctx, frontier)
		if err != nil {
			return nil, translateSQLite(op, err)
		}
		var next []Ref
		for _, e := range edges {
			key := fmt.Sprintf("%s|%s|%s", e.from, e.typ, e.to)
			if !relSeen[key] {
				relSeen[key] = true
				rels = append(rels, Relationship{From: e.from, Type: e.typ, To: e.to})
			}
			for _, cand := range []Ref{e.from, e.to} {
				if seen[cand] {
					continue
				}
				if len(nodes) >= nodeCap {
					truncated = true
					break
				}
				seen[cand] = true
				ent, err := s.GetEntity(ctx, cand.Label, cand.ID)
				if err != nil {
					if errs.IsKind(err, errs.KindNotFound) {
						continue
					}
					return nil, err
				}
				nodes = append(nodes, ent)
				next = append(next, cand)
			}
		}
		frontier = next
	}
	return &Subgraph{Root: rootRef, Nodes: nodes, Relationships: rels, Truncated: truncated}, nil
}

// RelStats returns the (type, neighbor label, count) census for an
// entity, sorted by count descending.
func (s *SQLiteStore) RelStats(ctx context.Context, label, id string) ([]RelStat, error) {
	const op = "graph: rel stats"
	if _, err := s.GetEntity(ctx, label, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, neighbor_label, COUNT(*) AS n FROM (
			SELECT type, to_label AS neighbor_label FROM edges WHERE from_label = ? AND from_id = ?
			UNION ALL
			SELECT type, from_label AS neighbor_label FROM edges WHERE to_label = ? AND to_id = ?
		) GROUP BY type, neighbor_label
		ORDER BY n DESC, type, neighbor_label`,
		label, id, label, id)
	if err != nil {
		return nil, translateSQLite(op, err)
	}
	defer rows.Close()

	var out []RelStat
	for rows.Next() {
		var st RelStat
		if err := rows.Scan(&st.Type, &st.NeighborLabel, &st.Count); err != nil {
			return nil, translateSQLite(op, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SearchByText matches a case-insensitive substring against the listed
// property fields, OR across fields.
func (s *SQLiteStore) SearchByText(ctx context.Context, label, query string, fields []string, limit int) ([]Entity, error) {
	const op = "graph: search by text"
	if query == "" || len(fields) == 0 {
		return nil, errs.New(errs.KindInvalidInput, op, "query and fields are required")
	}
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, props FROM nodes WHERE label = ? ORDER BY created_at DESC, id`, label)
	if err != nil {
		return nil, translateSQLite(op, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, translateSQLite(op, err)
		}
		props, err := decodeProps(raw)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, op, err)
		}
		for _, f := range fields {
			v, ok := props[f].(string)
			if ok && strings.Contains(strings.ToLower(v), needle) {
				out = append(out, Entity{Label: label, ID: id, Props: props})
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func decodeProps(raw string) (Props, error) {
	var p Props
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return p, nil
}

func isSQLiteConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint")
}

func translateSQLite(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return errs.Wrap(errs.KindTimeout, op, err)
	case errors.Is(err, sql.ErrConnDone):
		return errs.Wrap(errs.KindBackendUnavailable, op, err)
	default:
		return errs.Wrap(errs.KindInternal, op, err)
	}
}
