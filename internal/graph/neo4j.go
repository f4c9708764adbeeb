package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconf "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/cortexhub/cortexhub/internal/errs"
)

// BoltOptions configures the bolt backend's connection pool.
type BoltOptions struct {
	URI                string
	User               string
	Password           string
	Database           string
	PoolSize           int
	MaxRetryTime       time.Duration
	AcquisitionTimeout time.Duration
}

// BoltStore drives a Neo4j-compatible server over bolt. All external
// callers see only read/write scoped transactions: every operation
// acquires a session, runs inside ExecuteRead/ExecuteWrite (commit on
// success, rollback on failure), and releases the session on every
// exit path.
type BoltStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// OpenBolt connects and verifies the server is reachable.
func OpenBolt(ctx context.Context, opts BoltOptions) (*BoltStore, error) {
	const op = "graph: open bolt"
	driver, err := neo4j.NewDriverWithContext(opts.URI,
		neo4j.BasicAuth(opts.User, opts.Password, ""),
		func(c *neo4jconf.Config) {
			if opts.PoolSize > 0 {
				c.MaxConnectionPoolSize = opts.PoolSize
			}
			if opts.MaxRetryTime > 0 {
				c.MaxTransactionRetryTime = opts.MaxRetryTime
			}
			if opts.AcquisitionTimeout > 0 {
				c.ConnectionAcquisitionTimeout = opts.AcquisitionTimeout
			}
		})
	if err != nil {
		return nil, errs.Wrap(errs.KindBackendUnavailable, op, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, errs.Wrap(errs.KindBackendUnavailable, op, err)
	}
	return &BoltStore{driver: driver, database: opts.Database}, nil
}

// Close releases the driver and its pool.
func (s *BoltStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// runRead executes fn inside a read transaction on a pooled session.
func (s *BoltStore) runRead(ctx context.Context, op string, fn neo4j.ManagedTransactionWork) (any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, fn)
	if err != nil {
		return nil, translateBolt(op, err)
	}
	return out, nil
}

// runWrite executes fn inside a write transaction on a pooled session.
func (s *BoltStore) runWrite(ctx context.Context, op string, fn neo4j.ManagedTransactionWork) (any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)
	out, err := session.ExecuteWrite(ctx, fn)
	if err != nil {
		return nil, translateBolt(op, err)
	}
	return out, nil
}

// Health executes RETURN 1 on a fresh session and reports latency.
func (s *BoltStore) Health(ctx context.Context) Health {
	start := time.Now()
	_, err := s.runRead(ctx, "graph: health", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "RETURN 1", nil)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	h := Health{Latency: time.Since(start)}
	if err != nil {
		h.Reason = err.Error()
		return h
	}
	h.Healthy = true
	return h
}

// ─── Entity ops ──────────────────────────────────────────────────────────────

func (s *BoltStore) CreateEntity(ctx context.Context, label string, props Props) (Entity, error) {
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

	out, err := s.runWrite(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			fmt.Sprintf("MATCH (n:`%s` {id: $id}) RETURN n LIMIT 1", label),
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			return nil, errs.Newf(errs.KindDuplicate, op, "%s/%s already exists", label, id)
		}
		res, err = tx.Run(ctx,
			fmt.Sprintf("CREATE (n:`%s`) SET n = $props RETURN properties(n) AS props", label),
			map[string]any{"props": map[string]any(stamped)})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return rec.AsMap()["props"], nil
	})
	if err != nil {
		return Entity{}, err
	}
	return Entity{Label: label, ID: id, Props: asProps(out)}, nil
}

func (s *BoltStore) CreateEntities(ctx context.Context, label string, batch []Props) ([]Entity, error) {
	const op = "graph: create entities"
	if !ValidIdent(label) {
		return nil, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}

	stampedBatch := make([]map[string]any, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for _, props := range batch {
		id, _ := props["id"].(string)
		if id == "" {
			return nil, errs.New(errs.KindInvalidInput, op, "props.id is required for every element")
		}
		stamped := stampProps(props)
		stamped["id"] = id
		stampedBatch = append(stampedBatch, map[string]any(stamped))
		ids = append(ids, id)
	}

	// Single write transaction: partial failure rolls back all.
	_, err := s.runWrite(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			fmt.Sprintf("MATCH (n:`%s`) WHERE n.id IN $ids RETURN n.id AS id LIMIT 1", label),
			map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			dup, _ := res.Record().Get("id")
			return nil, errs.Newf(errs.KindDuplicate, op, "%s/%v already exists", label, dup)
		}
		_, err = tx.Run(ctx,
			fmt.Sprintf("UNWIND $batch AS props CREATE (n:`%s`) SET n = props", label),
			map[string]any{"batch": stampedBatch})
		return nil, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Entity, len(stampedBatch))
	for i, p := range stampedBatch {
		out[i] = Entity{Label: label, ID: ids[i], Props: Props(p)}
	}
	return out, nil
}

func (s *BoltStore) GetEntity(ctx context.Context, label, id string) (Entity, error) {
	const op = "graph: get entity"
	if !ValidIdent(label) {
		return Entity{}, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}
	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			fmt.Sprintf("MATCH (n:`%s` {id: $id}) RETURN properties(n) AS props", label),
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, errs.Newf(errs.KindNotFound, op, "%s/%s", label, id)
		}
		return res.Record().AsMap()["props"], nil
	})
	if err != nil {
		return Entity{}, err
	}
	return Entity{Label: label, ID: id, Props: asProps(out)}, nil
}

func (s *BoltStore) FindEntities(ctx context.Context, label string, match Props, limit int) ([]Entity, error) {
	const op = "graph: find entities"
	if !ValidIdent(label) {
		return nil, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}
	if limit <= 0 {
		limit = 50
	}

	var where []string
	params := map[string]any{"limit": limit}
	i := 0
	for k, v := range match {
		p := fmt.Sprintf("m%d", i)
		where = append(where, fmt.Sprintf("n.`%s` = $%s", strings.ReplaceAll(k, "`", ""), p))
		params[p] = v
		i++
	}
	query := fmt.Sprintf("MATCH (n:`%s`)", label)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " RETURN properties(n) AS props ORDER BY n.created_at DESC LIMIT $limit"

	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		var list []Entity
		for res.Next(ctx) {
			props := asProps(res.Record().AsMap()["props"])
			id, _ := props["id"].(string)
			list = append(list, Entity{Label: label, ID: id, Props: props})
		}
		return list, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]Entity), nil
}

func (s *BoltStore) UpdateEntity(ctx context.Context, label, id string, props Props) (Entity, error) {
	const op = "graph: update entity"
	if !ValidIdent(label) {
		return Entity{}, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}

	merge := props.Clone()
	if merge == nil {
		merge = Props{}
	}
	delete(merge, "created_at")
	delete(merge, "id")
	merge["updated_at"] = nowStamp()

	out, err := s.runWrite(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			fmt.Sprintf("MATCH (n:`%s` {id: $id}) SET n += $props RETURN properties(n) AS props", label),
			map[string]any{"id": id, "props": map[string]any(merge)})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, errs.Newf(errs.KindNotFound, op, "%s/%s", label, id)
		}
		return res.Record().AsMap()["props"], nil
	})
	if err != nil {
		return Entity{}, err
	}
	return Entity{Label: label, ID: id, Props: asProps(out)}, nil
}

func (s *BoltStore) DeleteEntity(ctx context.Context, label, id string) (bool, error) {
	const op = "graph: delete entity"
	if !ValidIdent(label) {
		return false, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}
	out, err := s.runWrite(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			fmt.Sprintf("MATCH (n:`%s` {id: $id}) DETACH DELETE n RETURN count(n) AS deleted", label),
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("deleted")
		return n, nil
	})
	if err != nil {
		return false, err
	}
	return asInt64(out) > 0, nil
}

func (s *BoltStore) CountEntities(ctx context.Context, label string) (int64, error) {
	const op = "graph: count entities"
	if !ValidIdent(label) {
		return 0, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}
	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			fmt.Sprintf("MATCH (n:`%s`) RETURN count(n) AS n", label), nil)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("n")
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return asInt64(out), nil
}

// ─── Relationship ops ────────────────────────────────────────────────────────

func (s *BoltStore) CreateRelationship(ctx context.Context, from Ref, relType string, to Ref, props Props) (Relationship, error) {
	const op = "graph: create relationship"
	if !ValidIdent(relType) || !ValidIdent(from.Label) || !ValidIdent(to.Label) {
		return Relationship{}, errs.New(errs.KindInvalidInput, op, "invalid label or relationship type")
	}

	stamped := props.Clone()
	if stamped == nil {
		stamped = Props{}
	}
	stamped["created_at"] = nowStamp()

	_, err := s.runWrite(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(
			"MATCH (a:`%s` {id: $fromId}), (b:`%s` {id: $toId}) MERGE (a)-[r:`%s`]->(b) SET r = $props RETURN type(r) AS t",
			from.Label, to.Label, relType),
			map[string]any{"fromId": from.ID, "toId": to.ID, "props": map[string]any(stamped)})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, errs.Newf(errs.KindNotFound, op, "endpoint %s or %s does not exist", from, to)
		}
		return nil, nil
	})
	if err != nil {
		return Relationship{}, err
	}
	return Relationship{From: from, Type: relType, To: to, Props: stamped}, nil
}

func (s *BoltStore) Relationships(ctx context.Context, label, id string, dir Direction, relType string) ([]Neighbor, error) {
	const op = "graph: relationships"
	if !ValidIdent(label) {
		return nil, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}
	typePart := ""
	if relType != "" {
		if !ValidIdent(relType) {
			return nil, errs.Newf(errs.KindInvalidInput, op, "invalid relationship type %q", relType)
		}
		typePart = ":`" + relType + "`"
	}
	var pattern string
	switch dir {
	case DirOut:
		pattern = fmt.Sprintf("(n:`%s` {id: $id})-[r%s]->(m)", label, typePart)
	case DirIn:
		pattern = fmt.Sprintf("(n:`%s` {id: $id})<-[r%s]-(m)", label, typePart)
	default:
		pattern = fmt.Sprintf("(n:`%s` {id: $id})-[r%s]-(m)", label, typePart)
	}
	query := "MATCH " + pattern +
		" RETURN type(r) AS t, properties(r) AS rprops, labels(m) AS mlabels, properties(m) AS mprops," +
		" startNode(r) = n AS outgoing"

	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		var list []Neighbor
		for res.Next(ctx) {
			m := res.Record().AsMap()
			other := entityFromRecord(m["mlabels"], m["mprops"])
			typ, _ := m["t"].(string)
			outgoing, _ := m["outgoing"].(bool)
			rel := Relationship{Type: typ, Props: asProps(m["rprops"])}
			self := Ref{Label: label, ID: id}
			if outgoing {
				rel.From, rel.To = self, Ref{Label: other.Label, ID: other.ID}
			} else {
				rel.From, rel.To = Ref{Label: other.Label, ID: other.ID}, self
			}
			list = append(list, Neighbor{Relationship: rel, Other: other})
		}
		return list, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]Neighbor), nil
}

func (s *BoltStore) FindRelationship(ctx context.Context, from Ref, relType string, to Ref) (*Relationship, error) {
	const op = "graph: find relationship"
	if !ValidIdent(relType) || !ValidIdent(from.Label) || !ValidIdent(to.Label) {
		return nil, errs.New(errs.KindInvalidInput, op, "invalid label or relationship type")
	}
	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(
			"MATCH (a:`%s` {id: $fromId})-[r:`%s`]->(b:`%s` {id: $toId}) RETURN properties(r) AS props LIMIT 1",
			from.Label, relType, to.Label),
			map[string]any{"fromId": from.ID, "toId": to.ID})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, errs.Newf(errs.KindNotFound, op, "%s-[%s]->%s", from, relType, to)
		}
		return res.Record().AsMap()["props"], nil
	})
	if err != nil {
		return nil, err
	}
	return &Relationship{From: from, Type: relType, To: to, Props: asProps(out)}, nil
}

func (s *BoltStore) UpdateRelationship(ctx context.Context, from Ref, relType string, to Ref, props Props) (*Relationship, error) {
	const op = "graph: update relationship"
	merge := props.Clone()
	delete(merge, "created_at")
	out, err := s.runWrite(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(
			"MATCH (a:`%s` {id: $fromId})-[r:`%s`]->(b:`%s` {id: $toId}) SET r += $props RETURN properties(r) AS props",
			from.Label, relType, to.Label),
			map[string]any{"fromId": from.ID, "toId": to.ID, "props": map[string]any(merge)})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, errs.Newf(errs.KindNotFound, op, "%s-[%s]->%s", from, relType, to)
		}
		return res.Record().AsMap()["props"], nil
	})
	if err != nil {
		return nil, err
	}
	return &Relationship{From: from, Type: relType, To: to, Props: asProps(out)}, nil
}

func (s *BoltStore) DeleteRelationship(ctx context.Context, from Ref, relType string, to Ref) (bool, error) {
	const op = "graph: delete relationship"
	out, err := s.runWrite(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(
			"MATCH (a:`%s` {id: $fromId})-[r:`%s`]->(b:`%s` {id: $toId}) DELETE r RETURN count(r) AS n",
			from.Label, relType, to.Label),
			map[string]any{"fromId": from.ID, "toId": to.ID})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("n")
		return n, nil
	})
	if err != nil {
		return false, err
	}
	return asInt64(out) > 0, nil
}

func (s *BoltStore) DeleteRelationshipsFor(ctx context.Context, label, id string) (int64, error) {
	const op = "graph: delete relationships for"
	out, err := s.runWrite(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(
			"MATCH (n:`%s` {id: $id})-[r]-() DELETE r RETURN count(r) AS n", label),
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("n")
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return asInt64(out), nil
}

func (s *BoltStore) CountRelationships(ctx context.Context, label, id, relType string) (int64, error) {
	const op = "graph: count relationships"
	typePart := ""
	if relType != "" {
		if !ValidIdent(relType) {
			return 0, errs.Newf(errs.KindInvalidInput, op, "invalid relationship type %q", relType)
		}
		typePart = ":`" + relType + "`"
	}
	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(
			"MATCH (n:`%s` {id: $id})-[r%s]-() RETURN count(r) AS n", label, typePart),
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := rec.Get("n")
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return asInt64(out), nil
}

// ─── Traversal ───────────────────────────────────────────────────────────────

func (s *BoltStore) Connected(ctx context.Context, label, id string, maxDepth int) ([]Entity, error) {
	const op = "graph: connected"
	if _, err := s.GetEntity(ctx, label, id); err != nil {
		return nil, err
	}
	maxDepth = clampDepth(maxDepth)
	// Variable-length bounds cannot be parameterized in Cypher; the
	// depth is a clamped int and the label passed ValidIdent.
	query := fmt.Sprintf(
		"MATCH (start:`%s` {id: $id})-[*1..%d]-(m) WHERE m <> start "+
			"RETURN DISTINCT labels(m) AS mlabels, properties(m) AS mprops LIMIT %d",
		label, maxDepth, ConnectedCap)

	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		var list []Entity
		for res.Next(ctx) {
			m := res.Record().AsMap()
			list = append(list, entityFromRecord(m["mlabels"], m["mprops"]))
		}
		return list, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]Entity), nil
}

func (s *BoltStore) ShortestPath(ctx context.Context, from, to Ref, maxDepth int) (*Path, error) {
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
	query := fmt.Sprintf(
		"MATCH (a:`%s` {id: $fromId}), (b:`%s` {id: $toId}), p = shortestPath((a)-[*..%d]-(b)) RETURN p",
		from.Label, to.Label, maxDepth)

	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"fromId": from.ID, "toId": to.ID})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return (*Path)(nil), nil
		}
		p, _ := res.Record().Get("p")
		dbPath, ok := p.(dbtype.Path)
		if !ok {
			return (*Path)(nil), nil
		}
		return pathFromDB(dbPath), nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*Path), nil
}

func (s *BoltStore) AllPaths(ctx context.Context, from, to Ref, maxDepth, limit int) ([]Path, error) {
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
	query := fmt.Sprintf(
		"MATCH p = (a:`%s` {id: $fromId})-[*..%d]-(b:`%s` {id: $toId}) "+
			"RETURN p ORDER BY length(p) LIMIT %d",
		from.Label, maxDepth, to.Label, limit)

	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"fromId": from.ID, "toId": to.ID})
		if err != nil {
			return nil, err
		}
		var list []Path
		for res.Next(ctx) {
			p, _ := res.Record().Get("p")
			if dbPath, ok := p.(dbtype.Path); ok {
				list = append(list, *pathFromDB(dbPath))
			}
		}
		return list, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]Path), nil
}

func (s *BoltStore) ExtractSubgraph(ctx context.Context, label, id string, radius, nodeCap int) (*Subgraph, error) {
	const op = "graph: subgraph"
	root, err := s.GetEntity(ctx, label, id)
	if err != nil {
		return nil, err
	}
	radius = clampDepth(radius)
	if nodeCap <= 0 {
		nodeCap = DefaultSubgraphCap
	}
	query := fmt.Sprintf(
		"MATCH p = (root:`%s` {id: $id})-[*1..%d]-(m) RETURN p LIMIT %d",
		label, radius, nodeCap*4)

	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		rootRef := Ref{Label: label, ID: id}
		sub := &Subgraph{Root: rootRef, Nodes: []Entity{root}}
		nodeSeen := map[Ref]bool{rootRef: true}
		relSeen := map[string]bool{}

		res, err := tx.Run(ctx, query, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			p, _ := res.Record().Get("p")
			dbPath, ok := p.(dbtype.Path)
			if !ok {
				continue
			}
			byElement := map[string]Ref{}
			for _, n := range dbPath.Nodes {
				ent := entityFromNode(n)
				ref := Ref{Label: ent.Label, ID: ent.ID}
				byElement[n.ElementId] = ref
				if nodeSeen[ref] {
					continue
				}
				if len(sub.Nodes) >= nodeCap {
					sub.Truncated = true
					continue
				}
				nodeSeen[ref] = true
				sub.Nodes = append(sub.Nodes, ent)
			}
			for _, r := range dbPath.Relationships {
				fromRef := byElement[r.StartElementId]
				toRef := byElement[r.EndElementId]
				key := fmt.Sprintf("%s|%s|%s", fromRef, r.Type, toRef)
				if relSeen[key] || !nodeSeen[fromRef] || !nodeSeen[toRef] {
					continue
				}
				relSeen[key] = true
				sub.Relationships = append(sub.Relationships, Relationship{
					From: fromRef, Type: r.Type, To: toRef, Props: Props(r.Props),
				})
			}
		}
		return sub, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.(*Subgraph), nil
}

func (s *BoltStore) RelStats(ctx context.Context, label, id string) ([]RelStat, error) {
	const op = "graph: rel stats"
	if _, err := s.GetEntity(ctx, label, id); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"MATCH (n:`%s` {id: $id})-[r]-(m) "+
			"RETURN type(r) AS t, head(labels(m)) AS l, count(*) AS c ORDER BY c DESC, t, l", label)

	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		var list []RelStat
		for res.Next(ctx) {
			m := res.Record().AsMap()
			typ, _ := m["t"].(string)
			lbl, _ := m["l"].(string)
			list = append(list, RelStat{Type: typ, NeighborLabel: lbl, Count: asInt64(m["c"])})
		}
		return list, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]RelStat), nil
}

func (s *BoltStore) SearchByText(ctx context.Context, label, query string, fields []string, limit int) ([]Entity, error) {
	const op = "graph: search by text"
	if query == "" || len(fields) == 0 {
		return nil, errs.New(errs.KindInvalidInput, op, "query and fields are required")
	}
	if !ValidIdent(label) {
		return nil, errs.Newf(errs.KindInvalidInput, op, "invalid label %q", label)
	}
	if limit <= 0 {
		limit = 20
	}
	var clauses []string
	for _, f := range fields {
		if !ValidIdent(f) {
			return nil, errs.Newf(errs.KindInvalidInput, op, "invalid field %q", f)
		}
		clauses = append(clauses, fmt.Sprintf("toLower(toString(n.`%s`)) CONTAINS $q", f))
	}
	cy := fmt.Sprintf(
		"MATCH (n:`%s`) WHERE %s RETURN properties(n) AS props LIMIT %d",
		label, strings.Join(clauses, " OR "), limit)

	out, err := s.runRead(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cy, map[string]any{"q": strings.ToLower(query)})
		if err != nil {
			return nil, err
		}
		var list []Entity
		for res.Next(ctx) {
			props := asProps(res.Record().AsMap()["props"])
			eid, _ := props["id"].(string)
			list = append(list, Entity{Label: label, ID: eid, Props: props})
		}
		return list, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]Entity), nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func asProps(v any) Props {
	if m, ok := v.(map[string]any); ok {
		return Props(m)
	}
	return Props{}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func entityFromRecord(labels, props any) Entity {
	p := asProps(props)
	id, _ := p["id"].(string)
	var label string
	if ls, ok := labels.([]any); ok && len(ls) > 0 {
		lbls := make([]string, 0, len(ls))
		for _, l := range ls {
			if str, ok := l.(string); ok {
				lbls = append(lbls, str)
			}
		}
		sort.Strings(lbls)
		if len(lbls) > 0 {
			label = lbls[0]
		}
	}
	return Entity{Label: label, ID: id, Props: p}
}

func entityFromNode(n dbtype.Node) Entity {
	label := ""
	if len(n.Labels) > 0 {
		label = n.Labels[0]
	}
	p := Props(n.Props)
	id, _ := p["id"].(string)
	return Entity{Label: label, ID: id, Props: p}
}

func pathFromDB(p dbtype.Path) *Path {
	out := &Path{Length: len(p.Relationships)}
	// Path nodes arrive in walk order; relationships connect
	// consecutive nodes.
	for _, n := range p.Nodes {
		ent := entityFromNode(n)
		out.Nodes = append(out.Nodes, Ref{Label: ent.Label, ID: ent.ID})
	}
	for _, r := range p.Relationships {
		out.RelTypes = append(out.RelTypes, r.Type)
	}
	return out
}

func translateBolt(op string, err error) error {
	if err == nil {
		return nil
	}
	var taxErr *errs.Error
	if errors.As(err, &taxErr) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errs.Wrap(errs.KindTimeout, op, err)
	case neo4j.IsConnectivityError(err):
		return errs.Wrap(errs.KindBackendUnavailable, op, err)
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case strings.Contains(neoErr.Code, "ConstraintValidationFailed"):
			return errs.Wrap(errs.KindDuplicate, op, err)
		case strings.Contains(neoErr.Code, "ServiceUnavailable"):
			return errs.Wrap(errs.KindBackendUnavailable, op, err)
		}
	}
	return errs.Wrap(errs.KindInternal, op, err)
}
