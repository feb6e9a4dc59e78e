package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wegman-software/trailgraph/internal/config"
	"github.com/wegman-software/trailgraph/internal/graph"
	"github.com/wegman-software/trailgraph/internal/state"
)

// PostgresStore persists the graph in PostgreSQL for server-side hosting.
// Badger remains the on-device default; this backend exists for deployments
// that serve prebuilt regions to many clients.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// OpenPostgres connects and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &PostgresStore{pool: pool, schema: cfg.DBSchema}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS %s.trail_nodes (
			region_id TEXT NOT NULL,
			osm_id BIGINT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			edges BYTEA,
			edge_count INT NOT NULL DEFAULT 0,
			PRIMARY KEY (region_id, osm_id)
		)`,
		`CREATE TABLE IF NOT EXISTS %s.trail_regions (
			region_id TEXT PRIMARY KEY,
			meta JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS %s.trail_states (
			region_id TEXT PRIMARY KEY,
			state JSONB NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(ddl, s.schema)); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// PutNodes upserts nodes in one batched round trip.
func (s *PostgresStore) PutNodes(ctx context.Context, nodes []*graph.RoutingNode) error {
	if len(nodes) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`INSERT INTO %s.trail_nodes (region_id, osm_id, lat, lon, edges, edge_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (region_id, osm_id) DO UPDATE SET edges = EXCLUDED.edges, edge_count = EXCLUDED.edge_count`, s.schema)

	batch := &pgx.Batch{}
	for _, n := range nodes {
		batch.Queue(sql, n.RegionID, n.OsmID, n.Lat, n.Lon, graph.EncodeEdges(n.Edges), len(n.Edges))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range nodes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert node batch: %w", err)
		}
	}
	return nil
}

// GetNodes fetches the requested nodes; missing ids are omitted.
func (s *PostgresStore) GetNodes(ctx context.Context, regionID string, ids []int64) (map[int64]*graph.RoutingNode, error) {
	sql := fmt.Sprintf(`SELECT osm_id, lat, lon, edges FROM %s.trail_nodes
		WHERE region_id = $1 AND osm_id = ANY($2)`, s.schema)

	rows, err := s.pool.Query(ctx, sql, regionID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nodes: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*graph.RoutingNode, len(ids))
	for rows.Next() {
		n := &graph.RoutingNode{RegionID: regionID}
		var blob []byte
		if err := rows.Scan(&n.OsmID, &n.Lat, &n.Lon, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if n.Edges, err = graph.DecodeEdges(blob); err != nil {
			return nil, fmt.Errorf("corrupt edge blob for node %d: %w", n.OsmID, err)
		}
		out[n.OsmID] = n
	}
	return out, rows.Err()
}

// NodeCount counts the persisted nodes of a region.
func (s *PostgresStore) NodeCount(ctx context.Context, regionID string) (int64, error) {
	var count int64
	sql := fmt.Sprintf(`SELECT COUNT(*) FROM %s.trail_nodes WHERE region_id = $1`, s.schema)
	if err := s.pool.QueryRow(ctx, sql, regionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// EdgeCount sums the directed edges across a region's nodes.
func (s *PostgresStore) EdgeCount(ctx context.Context, regionID string) (int64, error) {
	var count int64
	sql := fmt.Sprintf(`SELECT COALESCE(SUM(edge_count), 0) FROM %s.trail_nodes WHERE region_id = $1`, s.schema)
	if err := s.pool.QueryRow(ctx, sql, regionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return count, nil
}

// ScanNodes streams a region's nodes to fn in ascending id order.
func (s *PostgresStore) ScanNodes(ctx context.Context, regionID string, fn func(*graph.RoutingNode) error) error {
	sql := fmt.Sprintf(`SELECT osm_id, lat, lon, edges FROM %s.trail_nodes
		WHERE region_id = $1 ORDER BY osm_id`, s.schema)

	rows, err := s.pool.Query(ctx, sql, regionID)
	if err != nil {
		return fmt.Errorf("failed to scan nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		n := &graph.RoutingNode{RegionID: regionID}
		var blob []byte
		if err := rows.Scan(&n.OsmID, &n.Lat, &n.Lon, &blob); err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}
		if n.Edges, err = graph.DecodeEdges(blob); err != nil {
			return fmt.Errorf("corrupt edge blob for node %d: %w", n.OsmID, err)
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PutRegion saves region metadata.
func (s *PostgresStore) PutRegion(ctx context.Context, meta *graph.RegionMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode region metadata: %w", err)
	}
	sql := fmt.Sprintf(`INSERT INTO %s.trail_regions (region_id, meta) VALUES ($1, $2)
		ON CONFLICT (region_id) DO UPDATE SET meta = EXCLUDED.meta`, s.schema)
	if _, err := s.pool.Exec(ctx, sql, meta.RegionID, data); err != nil {
		return fmt.Errorf("failed to save region metadata: %w", err)
	}
	return nil
}

// GetRegion returns region metadata, or nil when absent.
func (s *PostgresStore) GetRegion(ctx context.Context, regionID string) (*graph.RegionMetadata, error) {
	sql := fmt.Sprintf(`SELECT meta FROM %s.trail_regions WHERE region_id = $1`, s.schema)
	var data []byte
	err := s.pool.QueryRow(ctx, sql, regionID).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch region metadata: %w", err)
	}
	meta := &graph.RegionMetadata{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("corrupt region metadata: %w", err)
	}
	return meta, nil
}

// ListRegions returns all region metadata records.
func (s *PostgresStore) ListRegions(ctx context.Context) ([]*graph.RegionMetadata, error) {
	sql := fmt.Sprintf(`SELECT meta FROM %s.trail_regions ORDER BY region_id`, s.schema)
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	defer rows.Close()

	var regions []*graph.RegionMetadata
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		meta := &graph.RegionMetadata{}
		if err := json.Unmarshal(data, meta); err != nil {
			return nil, fmt.Errorf("corrupt region metadata: %w", err)
		}
		regions = append(regions, meta)
	}
	return regions, rows.Err()
}

// DeleteRegion removes a region's metadata and all of its nodes.
func (s *PostgresStore) DeleteRegion(ctx context.Context, regionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s.trail_nodes WHERE region_id = $1`, s.schema), regionID); err != nil {
		return fmt.Errorf("failed to delete region nodes: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s.trail_regions WHERE region_id = $1`, s.schema), regionID); err != nil {
		return fmt.Errorf("failed to delete region metadata: %w", err)
	}
	return tx.Commit(ctx)
}

// SaveState durably persists a download state.
func (s *PostgresStore) SaveState(ctx context.Context, ds *state.DownloadState) error {
	data, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("failed to encode download state: %w", err)
	}
	sql := fmt.Sprintf(`INSERT INTO %s.trail_states (region_id, state) VALUES ($1, $2)
		ON CONFLICT (region_id) DO UPDATE SET state = EXCLUDED.state`, s.schema)
	if _, err := s.pool.Exec(ctx, sql, ds.RegionID, data); err != nil {
		return fmt.Errorf("failed to save download state: %w", err)
	}
	return nil
}

// LoadState returns the download state for a region, or nil when absent.
func (s *PostgresStore) LoadState(ctx context.Context, regionID string) (*state.DownloadState, error) {
	sql := fmt.Sprintf(`SELECT state FROM %s.trail_states WHERE region_id = $1`, s.schema)
	var data []byte
	err := s.pool.QueryRow(ctx, sql, regionID).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load download state: %w", err)
	}
	ds := &state.DownloadState{}
	if err := json.Unmarshal(data, ds); err != nil {
		return nil, fmt.Errorf("corrupt download state: %w", err)
	}
	return ds, nil
}

// ListStates returns all persisted download states.
func (s *PostgresStore) ListStates(ctx context.Context) ([]*state.DownloadState, error) {
	sql := fmt.Sprintf(`SELECT state FROM %s.trail_states ORDER BY region_id`, s.schema)
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list download states: %w", err)
	}
	defer rows.Close()

	var states []*state.DownloadState
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		ds := &state.DownloadState{}
		if err := json.Unmarshal(data, ds); err != nil {
			return nil, fmt.Errorf("corrupt download state: %w", err)
		}
		states = append(states, ds)
	}
	return states, rows.Err()
}

// DeleteState removes a region's download state.
func (s *PostgresStore) DeleteState(ctx context.Context, regionID string) error {
	sql := fmt.Sprintf(`DELETE FROM %s.trail_states WHERE region_id = $1`, s.schema)
	if _, err := s.pool.Exec(ctx, sql, regionID); err != nil {
		return fmt.Errorf("failed to delete download state: %w", err)
	}
	return nil
}
