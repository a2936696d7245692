// Package sqlite3 implements store.Store over SQLite (modernc.org/sqlite,
// a pure-Go driver so the binary stays CGO-free), mirroring the postgres
// backend's goqu-based CRUD with a SQLite dialect.
package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "modernc.org/sqlite"

	"github.com/oklog/ulid/v2"

	"github.com/oj-federate/rmjac/internal/config"
	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

// SQLite3 is a store.Store backed by SQLite.
type SQLite3 struct {
	db     *sql.DB
	goqu   *goqu.Database
	prefix string
}

// New opens a SQLite connection, runs migrations, and returns a SQLite3 store.
func New(ctx context.Context, cfg *config.StoreSQLite) (*SQLite3, error) {
	if cfg == nil || cfg.Datasource == "" {
		return nil, fmt.Errorf("sqlite3: datasource is required")
	}

	if err := MigrateDB(ctx, &cfg.Migrate); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: open connection: %w", err)
	}
	// SQLite only tolerates one writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlite3: ping: %w", err)
	}

	prefix := "rmjac_"
	if cfg.TablePrefix != nil {
		prefix = *cfg.TablePrefix
	}

	return &SQLite3{db: db, goqu: goqu.New("sqlite3", db), prefix: prefix}, nil
}

func (s *SQLite3) table(name string) string { return s.prefix + name }

func (s *SQLite3) Close() error { return s.db.Close() }

type nodeRow struct {
	ID        string    `db:"id"`
	NodeType  string    `db:"node_type"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *SQLite3) CreateNode(ctx context.Context, n graph.Node) (graph.Node, error) {
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return graph.Node{}, fmt.Errorf("sqlite3: marshal node payload: %w", err)
	}

	_, err = s.goqu.Insert(s.table("node")).Rows(goqu.Record{
		"id": n.ID, "node_type": string(n.Type), "payload": string(payload), "created_at": n.CreatedAt,
	}).Executor().ExecContext(ctx)
	if err != nil {
		return graph.Node{}, fmt.Errorf("sqlite3: insert node: %w", err)
	}
	return n, nil
}

func (s *SQLite3) GetNode(ctx context.Context, id string) (graph.Node, error) {
	var row nodeRow
	found, err := s.goqu.From(s.table("node")).Where(goqu.Ex{"id": id}).ScanStructContext(ctx, &row)
	if err != nil {
		return graph.Node{}, fmt.Errorf("sqlite3: get node: %w", err)
	}
	if !found {
		return graph.Node{}, store.ErrNotFound
	}
	return rowToNode(row)
}

func (s *SQLite3) UpdateNode(ctx context.Context, id string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlite3: marshal node payload: %w", err)
	}
	res, err := s.goqu.Update(s.table("node")).Set(goqu.Record{"payload": string(raw)}).
		Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	return checkAffected(res, err)
}

func (s *SQLite3) DeleteNode(ctx context.Context, id string) error {
	res, err := s.goqu.Delete(s.table("node")).Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	return checkAffected(res, err)
}

func (s *SQLite3) ListNodesByType(ctx context.Context, t graph.NodeType) ([]graph.Node, error) {
	var rows []nodeRow
	if err := s.goqu.From(s.table("node")).Where(goqu.Ex{"node_type": string(t)}).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("sqlite3: list nodes: %w", err)
	}
	return rowsToNodes(rows)
}

type edgeRow struct {
	ID        string    `db:"id"`
	EdgeType  string    `db:"edge_type"`
	U         string    `db:"u"`
	V         string    `db:"v"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *SQLite3) CreateEdge(ctx context.Context, e graph.Edge) (graph.Edge, error) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("sqlite3: marshal edge payload: %w", err)
	}

	_, err = s.goqu.Insert(s.table("edge")).Rows(goqu.Record{
		"id": e.ID, "edge_type": string(e.Type), "u": e.U, "v": e.V,
		"payload": string(payload), "created_at": e.CreatedAt,
	}).Executor().ExecContext(ctx)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("sqlite3: insert edge: %w", err)
	}
	return e, nil
}

func (s *SQLite3) GetEdge(ctx context.Context, id string) (graph.Edge, error) {
	var row edgeRow
	found, err := s.goqu.From(s.table("edge")).Where(goqu.Ex{"id": id}).ScanStructContext(ctx, &row)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("sqlite3: get edge: %w", err)
	}
	if !found {
		return graph.Edge{}, store.ErrNotFound
	}
	return rowToEdge(row)
}

func (s *SQLite3) UpdateEdge(ctx context.Context, id string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlite3: marshal edge payload: %w", err)
	}
	res, err := s.goqu.Update(s.table("edge")).Set(goqu.Record{"payload": string(raw)}).
		Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	return checkAffected(res, err)
}

func (s *SQLite3) DeleteEdge(ctx context.Context, id string) error {
	res, err := s.goqu.Delete(s.table("edge")).Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	return checkAffected(res, err)
}

func (s *SQLite3) ListEdgesByType(ctx context.Context, t graph.EdgeType) ([]graph.Edge, error) {
	var rows []edgeRow
	if err := s.goqu.From(s.table("edge")).Where(goqu.Ex{"edge_type": string(t)}).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("sqlite3: list edges: %w", err)
	}
	return rowsToEdges(rows)
}

func (s *SQLite3) ListEdgesFrom(ctx context.Context, t graph.EdgeType, u string) ([]graph.Edge, error) {
	var rows []edgeRow
	if err := s.goqu.From(s.table("edge")).Where(goqu.Ex{"edge_type": string(t), "u": u}).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("sqlite3: list edges from: %w", err)
	}
	return rowsToEdges(rows)
}

func (s *SQLite3) ListEdgesTo(ctx context.Context, t graph.EdgeType, v string) ([]graph.Edge, error) {
	var rows []edgeRow
	if err := s.goqu.From(s.table("edge")).Where(goqu.Ex{"edge_type": string(t), "v": v}).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("sqlite3: list edges to: %w", err)
	}
	return rowsToEdges(rows)
}

type kvRow struct {
	Key       string     `db:"key"`
	Value     string     `db:"value"`
	ExpiresAt *time.Time `db:"expires_at"`
}

func (s *SQLite3) KVGet(ctx context.Context, key string) (string, error) {
	var row kvRow
	found, err := s.goqu.From(s.table("kv")).Where(goqu.Ex{"key": key}).ScanStructContext(ctx, &row)
	if err != nil {
		return "", fmt.Errorf("sqlite3: kv get: %w", err)
	}
	if !found {
		return "", store.ErrNotFound
	}
	if row.ExpiresAt != nil && time.Now().After(*row.ExpiresAt) {
		_ = s.KVDelete(ctx, key)
		return "", store.ErrNotFound
	}
	return row.Value, nil
}

func (s *SQLite3) KVSet(ctx context.Context, key string, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := s.goqu.Insert(s.table("kv")).Rows(goqu.Record{
		"key": key, "value": value, "expires_at": expiresAt,
	}).OnConflict(goqu.DoUpdate("key", goqu.Record{"value": value, "expires_at": expiresAt})).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("sqlite3: kv set: %w", err)
	}
	return nil
}

func (s *SQLite3) KVDelete(ctx context.Context, key string) error {
	_, err := s.goqu.Delete(s.table("kv")).Where(goqu.Ex{"key": key}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("sqlite3: kv delete: %w", err)
	}
	return nil
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func rowToNode(row nodeRow) (graph.Node, error) {
	var payload map[string]any
	if row.Payload != "" {
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			return graph.Node{}, fmt.Errorf("sqlite3: unmarshal node payload: %w", err)
		}
	}
	return graph.Node{ID: row.ID, Type: graph.NodeType(row.NodeType), Payload: payload, CreatedAt: row.CreatedAt}, nil
}

func rowsToNodes(rows []nodeRow) ([]graph.Node, error) {
	out := make([]graph.Node, 0, len(rows))
	for _, r := range rows {
		n, err := rowToNode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func rowToEdge(row edgeRow) (graph.Edge, error) {
	var payload map[string]any
	if row.Payload != "" {
		if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
			return graph.Edge{}, fmt.Errorf("sqlite3: unmarshal edge payload: %w", err)
		}
	}
	return graph.Edge{ID: row.ID, Type: graph.EdgeType(row.EdgeType), U: row.U, V: row.V, Payload: payload, CreatedAt: row.CreatedAt}, nil
}

func rowsToEdges(rows []edgeRow) ([]graph.Edge, error) {
	out := make([]graph.Edge, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEdge(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

var _ store.Store = (*SQLite3)(nil)
