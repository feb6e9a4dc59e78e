package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/wegman-software/trailgraph/internal/config"
	"github.com/wegman-software/trailgraph/internal/geo"
	"github.com/wegman-software/trailgraph/internal/graph"
	"github.com/wegman-software/trailgraph/internal/overpass"
	"github.com/wegman-software/trailgraph/internal/state"
	"github.com/wegman-software/trailgraph/internal/storage"
)

// Manager is the application-facing surface of the pipeline. It serializes
// work per region id, enforces precondition errors, and answers the queries
// consumers need: is a region downloaded, which regions cover a point.
type Manager struct {
	cfg   *config.Config
	store storage.Store
	coord *Coordinator

	mu     sync.Mutex
	active map[string]struct{}
}

// NewManager builds the pipeline from configuration: HTTP client, way
// classifier (with the optional Lua hook layered over the profile), and
// coordinator.
func NewManager(cfg *config.Config, store storage.Store) (*Manager, error) {
	if cfg == nil || store == nil {
		return nil, ErrNotConfigured
	}

	profile := graph.DefaultProfile()
	if cfg.ProfileFile != "" {
		p, err := graph.LoadProfile(cfg.ProfileFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load classification profile: %w", err)
		}
		profile = p
	}

	var classifier graph.Classifier = graph.NewClassifier(profile)
	if cfg.LuaScript != "" {
		lc, err := graph.NewLuaClassifier(cfg.LuaScript, classifier)
		if err != nil {
			return nil, fmt.Errorf("failed to load lua classifier: %w", err)
		}
		classifier = lc
	}

	client := overpass.NewClient(cfg)
	return &Manager{
		cfg:    cfg,
		store:  store,
		coord:  NewCoordinator(cfg, store, client, classifier),
		active: make(map[string]struct{}),
	}, nil
}

// Coordinator exposes the underlying coordinator for shutdown flushing.
func (m *Manager) Coordinator() *Coordinator {
	return m.coord
}

// acquire claims the per-region slot or reports a download in flight.
func (m *Manager) acquire(regionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[regionID]; busy {
		return ErrAlreadyInProgress
	}
	m.active[regionID] = struct{}{}
	return nil
}

func (m *Manager) release(regionID string) {
	m.mu.Lock()
	delete(m.active, regionID)
	m.mu.Unlock()
}

// DownloadRegion ingests a region end to end. An interrupted earlier attempt
// is picked up from its persisted state instead of starting over.
func (m *Manager) DownloadRegion(ctx context.Context, region Region, onProgress ProgressFunc) (Stats, error) {
	if region.ID == "" {
		region.ID = RegionID(region.DisplayName, region.Bounds)
	}

	if err := m.acquire(region.ID); err != nil {
		return Stats{}, err
	}
	defer m.release(region.ID)

	meta, err := m.store.GetRegion(ctx, region.ID)
	if err != nil {
		return Stats{}, err
	}
	if meta != nil && meta.IsComplete {
		return Stats{}, ErrAlreadyComplete
	}

	st, err := m.store.LoadState(ctx, region.ID)
	if err != nil {
		return Stats{}, err
	}
	if st != nil {
		return m.coord.Resume(ctx, st, onProgress)
	}
	return m.coord.Fetch(ctx, region, onProgress)
}

// ResumeRegion continues a persisted download by region id.
func (m *Manager) ResumeRegion(ctx context.Context, regionID string, onProgress ProgressFunc) (Stats, error) {
	if err := m.acquire(regionID); err != nil {
		return Stats{}, err
	}
	defer m.release(regionID)

	st, err := m.store.LoadState(ctx, regionID)
	if err != nil {
		return Stats{}, err
	}
	if st == nil {
		return Stats{}, fmt.Errorf("no download state for region %q", regionID)
	}
	return m.coord.Resume(ctx, st, onProgress)
}

// DeleteRegion removes a region's graph data, metadata, download state, and
// working files. Safe to call for partially downloaded regions.
func (m *Manager) DeleteRegion(ctx context.Context, regionID string) error {
	if err := m.acquire(regionID); err != nil {
		return err
	}
	defer m.release(regionID)

	if err := m.store.DeleteRegion(ctx, regionID); err != nil {
		return err
	}
	if err := m.store.DeleteState(ctx, regionID); err != nil {
		return err
	}
	os.Remove(state.RawDataPath(m.cfg.DataDir, regionID))
	os.Remove(state.CoordStorePath(m.cfg.DataDir, regionID))
	return nil
}

// IsRegionDownloaded reports whether a region is fully ingested.
func (m *Manager) IsRegionDownloaded(ctx context.Context, regionID string) (bool, error) {
	meta, err := m.store.GetRegion(ctx, regionID)
	if err != nil {
		return false, err
	}
	return meta != nil && meta.IsComplete, nil
}

// RegionsContaining returns the complete regions whose bounds cover the
// given coordinate.
func (m *Manager) RegionsContaining(ctx context.Context, lat, lon float64) ([]*graph.RegionMetadata, error) {
	regions, err := m.store.ListRegions(ctx)
	if err != nil {
		return nil, err
	}
	var out []*graph.RegionMetadata
	for _, r := range regions {
		if r.IsComplete && r.Contains(lat, lon) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListRegions returns metadata for every stored region.
func (m *Manager) ListRegions(ctx context.Context) ([]*graph.RegionMetadata, error) {
	return m.store.ListRegions(ctx)
}

// ListStates returns every persisted download state.
func (m *Manager) ListStates(ctx context.Context) ([]*state.DownloadState, error) {
	return m.store.ListStates(ctx)
}

// RegionID derives a stable region identifier from a display name and its
// bounds. The bounds hash disambiguates regions that share a name.
func RegionID(displayName string, bounds geo.Bounds) string {
	slug := strings.ToLower(strings.TrimSpace(displayName))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")

	sum := sha256.Sum256([]byte(fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
		bounds.MinLat, bounds.MinLon, bounds.MaxLat, bounds.MaxLon)))
	suffix := hex.EncodeToString(sum[:4])

	if slug == "" {
		return "region-" + suffix
	}
	return slug + "-" + suffix
}
