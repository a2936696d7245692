// Package postgres implements store.Store over PostgreSQL using goqu as the
// query builder and pgx's database/sql driver, grounded on the teacher's
// postgres store (table-prefix pattern, goqu.Database wrapping *sql.DB).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"

	"github.com/oj-federate/rmjac/internal/config"
	"github.com/oj-federate/rmjac/internal/graph"
	"github.com/oj-federate/rmjac/internal/store"
)

// Postgres is a store.Store backed by PostgreSQL.
type Postgres struct {
	db     *sql.DB
	goqu   *goqu.Database
	prefix string
}

// New opens a PostgreSQL connection, runs migrations, and returns a Postgres store.
func New(ctx context.Context, cfg *config.StorePostgres) (*Postgres, error) {
	if cfg == nil || cfg.Datasource == "" {
		return nil, fmt.Errorf("postgres: datasource is required")
	}

	db, err := sql.Open("pgx", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("postgres: open connection: %w", err)
	}

	if cfg.MaxOpenConns != nil {
		db.SetMaxOpenConns(*cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != nil {
		db.SetMaxIdleConns(*cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != nil {
		db.SetConnMaxLifetime(*cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := MigrateDB(ctx, &cfg.Migrate, db); err != nil {
		db.Close()
		return nil, err
	}

	prefix := "rmjac_"
	if cfg.TablePrefix != nil {
		prefix = *cfg.TablePrefix
	}

	return &Postgres{
		db:     db,
		goqu:   goqu.New("postgres", db),
		prefix: prefix,
	}, nil
}

func (p *Postgres) table(name string) string { return p.prefix + name }

func (p *Postgres) Close() error { return p.db.Close() }

// ─── nodes ───

type nodeRow struct {
	ID        string    `db:"id"`
	NodeType  string    `db:"node_type"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (p *Postgres) CreateNode(ctx context.Context, n graph.Node) (graph.Node, error) {
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return graph.Node{}, fmt.Errorf("postgres: marshal node payload: %w", err)
	}

	_, err = p.goqu.Insert(p.table("node")).Rows(goqu.Record{
		"id":         n.ID,
		"node_type":  string(n.Type),
		"payload":    payload,
		"created_at": n.CreatedAt,
	}).Executor().ExecContext(ctx)
	if err != nil {
		return graph.Node{}, fmt.Errorf("postgres: insert node: %w", err)
	}

	return n, nil
}

func (p *Postgres) GetNode(ctx context.Context, id string) (graph.Node, error) {
	var row nodeRow
	found, err := p.goqu.From(p.table("node")).Where(goqu.Ex{"id": id}).ScanStructContext(ctx, &row)
	if err != nil {
		return graph.Node{}, fmt.Errorf("postgres: get node: %w", err)
	}
	if !found {
		return graph.Node{}, store.ErrNotFound
	}
	return rowToNode(row)
}

func (p *Postgres) UpdateNode(ctx context.Context, id string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal node payload: %w", err)
	}

	res, err := p.goqu.Update(p.table("node")).Set(goqu.Record{"payload": raw}).
		Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("postgres: update node: %w", err)
	}
	return checkAffected(res, err)
}

func (p *Postgres) DeleteNode(ctx context.Context, id string) error {
	res, err := p.goqu.Delete(p.table("node")).Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	return checkAffected(res, err)
}

func (p *Postgres) ListNodesByType(ctx context.Context, t graph.NodeType) ([]graph.Node, error) {
	var rows []nodeRow
	if err := p.goqu.From(p.table("node")).Where(goqu.Ex{"node_type": string(t)}).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("postgres: list nodes: %w", err)
	}
	return rowsToNodes(rows)
}

// ─── edges ───

type edgeRow struct {
	ID        string    `db:"id"`
	EdgeType  string    `db:"edge_type"`
	U         string    `db:"u"`
	V         string    `db:"v"`
	Payload   []byte    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
}

func (p *Postgres) CreateEdge(ctx context.Context, e graph.Edge) (graph.Edge, error) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("postgres: marshal edge payload: %w", err)
	}

	_, err = p.goqu.Insert(p.table("edge")).Rows(goqu.Record{
		"id":         e.ID,
		"edge_type":  string(e.Type),
		"u":          e.U,
		"v":          e.V,
		"payload":    payload,
		"created_at": e.CreatedAt,
	}).Executor().ExecContext(ctx)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("postgres: insert edge: %w", err)
	}

	return e, nil
}

func (p *Postgres) GetEdge(ctx context.Context, id string) (graph.Edge, error) {
	var row edgeRow
	found, err := p.goqu.From(p.table("edge")).Where(goqu.Ex{"id": id}).ScanStructContext(ctx, &row)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("postgres: get edge: %w", err)
	}
	if !found {
		return graph.Edge{}, store.ErrNotFound
	}
	return rowToEdge(row)
}

func (p *Postgres) UpdateEdge(ctx context.Context, id string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal edge payload: %w", err)
	}

	res, err := p.goqu.Update(p.table("edge")).Set(goqu.Record{"payload": raw}).
		Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	return checkAffected(res, err)
}

func (p *Postgres) DeleteEdge(ctx context.Context, id string) error {
	res, err := p.goqu.Delete(p.table("edge")).Where(goqu.Ex{"id": id}).Executor().ExecContext(ctx)
	return checkAffected(res, err)
}

func (p *Postgres) ListEdgesByType(ctx context.Context, t graph.EdgeType) ([]graph.Edge, error) {
	var rows []edgeRow
	if err := p.goqu.From(p.table("edge")).Where(goqu.Ex{"edge_type": string(t)}).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("postgres: list edges: %w", err)
	}
	return rowsToEdges(rows)
}

func (p *Postgres) ListEdgesFrom(ctx context.Context, t graph.EdgeType, u string) ([]graph.Edge, error) {
	var rows []edgeRow
	if err := p.goqu.From(p.table("edge")).Where(goqu.Ex{"edge_type": string(t), "u": u}).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("postgres: list edges from: %w", err)
	}
	return rowsToEdges(rows)
}

func (p *Postgres) ListEdgesTo(ctx context.Context, t graph.EdgeType, v string) ([]graph.Edge, error) {
	var rows []edgeRow
	if err := p.goqu.From(p.table("edge")).Where(goqu.Ex{"edge_type": string(t), "v": v}).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("postgres: list edges to: %w", err)
	}
	return rowsToEdges(rows)
}

// ─── kv ───

type kvRow struct {
	Key       string     `db:"key"`
	Value     string     `db:"value"`
	ExpiresAt *time.Time `db:"expires_at"`
}

func (p *Postgres) KVGet(ctx context.Context, key string) (string, error) {
	var row kvRow
	found, err := p.goqu.From(p.table("kv")).Where(goqu.Ex{"key": key}).ScanStructContext(ctx, &row)
	if err != nil {
		return "", fmt.Errorf("postgres: kv get: %w", err)
	}
	if !found {
		return "", store.ErrNotFound
	}
	if row.ExpiresAt != nil && time.Now().After(*row.ExpiresAt) {
		_ = p.KVDelete(ctx, key)
		return "", store.ErrNotFound
	}
	return row.Value, nil
}

func (p *Postgres) KVSet(ctx context.Context, key string, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := p.goqu.Insert(p.table("kv")).Rows(goqu.Record{
		"key": key, "value": value, "expires_at": expiresAt,
	}).OnConflict(goqu.DoUpdate("key", goqu.Record{"value": value, "expires_at": expiresAt})).
		Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("postgres: kv set: %w", err)
	}
	return nil
}

func (p *Postgres) KVDelete(ctx context.Context, key string) error {
	_, err := p.goqu.Delete(p.table("kv")).Where(goqu.Ex{"key": key}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("postgres: kv delete: %w", err)
	}
	return nil
}

// ─── helpers ───

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
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return graph.Node{}, fmt.Errorf("postgres: unmarshal node payload: %w", err)
		}
	}
	return graph.Node{
		ID:        row.ID,
		Type:      graph.NodeType(row.NodeType),
		Payload:   payload,
		CreatedAt: row.CreatedAt,
	}, nil
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
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return graph.Edge{}, fmt.Errorf("postgres: unmarshal edge payload: %w", err)
		}
	}
	return graph.Edge{
		ID:        row.ID,
		Type:      graph.EdgeType(row.EdgeType),
		U:         row.U,
		V:         row.V,
		Payload:   payload,
		CreatedAt: row.CreatedAt,
	}, nil
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

var _ store.Store = (*Postgres)(nil)
