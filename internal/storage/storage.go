// Package storage is the persistence engine boundary for the ingestion
// pipeline. The pipeline only needs narrow insert/fetch/count operations;
// query and indexing layers beyond that live with the consumers.
package storage

import (
	"context"
	"fmt"

	"github.com/wegman-software/trailgraph/internal/config"
	"github.com/wegman-software/trailgraph/internal/graph"
	"github.com/wegman-software/trailgraph/internal/state"
)

// Store persists routing nodes, region metadata, and download states. The
// engine must serialize concurrent writers itself; pipelines for different
// regions may write concurrently.
type Store interface {
	// PutNodes inserts or replaces a batch of routing nodes.
	PutNodes(ctx context.Context, nodes []*graph.RoutingNode) error
	// GetNodes fetches the requested nodes of a region; absent ids are
	// simply missing from the result map.
	GetNodes(ctx context.Context, regionID string, ids []int64) (map[int64]*graph.RoutingNode, error)
	// NodeCount returns the number of persisted nodes for a region.
	NodeCount(ctx context.Context, regionID string) (int64, error)
	// EdgeCount returns the total number of directed edges across all of a
	// region's nodes.
	EdgeCount(ctx context.Context, regionID string) (int64, error)
	// ScanNodes streams every node of a region to fn in key order. Used by
	// the export path; fn returning an error stops the scan.
	ScanNodes(ctx context.Context, regionID string, fn func(*graph.RoutingNode) error) error

	// PutRegion saves final region metadata.
	PutRegion(ctx context.Context, meta *graph.RegionMetadata) error
	// GetRegion returns region metadata, or nil when absent.
	GetRegion(ctx context.Context, regionID string) (*graph.RegionMetadata, error)
	// ListRegions returns all region metadata records.
	ListRegions(ctx context.Context) ([]*graph.RegionMetadata, error)
	// DeleteRegion removes a region's metadata and all of its nodes.
	DeleteRegion(ctx context.Context, regionID string) error

	// SaveState durably persists a download state keyed by region id.
	SaveState(ctx context.Context, s *state.DownloadState) error
	// LoadState returns the download state for a region, or nil when absent.
	LoadState(ctx context.Context, regionID string) (*state.DownloadState, error)
	// ListStates returns all in-flight or failed download states.
	ListStates(ctx context.Context) ([]*state.DownloadState, error)
	// DeleteState removes a region's download state.
	DeleteState(ctx context.Context, regionID string) error

	Close() error
}

// Open creates the store selected by the configuration.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		return OpenBadger(BadgerOptions{Path: cfg.DataDir + "/graph"})
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
