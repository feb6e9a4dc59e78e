package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/trailgraph/internal/config"
	"github.com/wegman-software/trailgraph/internal/geo"
	"github.com/wegman-software/trailgraph/internal/graph"
	"github.com/wegman-software/trailgraph/internal/logger"
	"github.com/wegman-software/trailgraph/internal/metrics"
	"github.com/wegman-software/trailgraph/internal/overpass"
	"github.com/wegman-software/trailgraph/internal/state"
	"github.com/wegman-software/trailgraph/internal/storage"
)

// Region identifies one bounded area to ingest.
type Region struct {
	ID          string
	DisplayName string
	Bounds      geo.Bounds
}

// Stats summarizes a completed ingestion.
type Stats struct {
	NodeCount int64
	EdgeCount int64
}

// Coordinator drives one region through the download lifecycle: fetch the
// raw document, index coordinates, create routing nodes, build edges,
// finalize metadata. Every phase transition is persisted before the next
// phase starts, so a killed process resumes where it left off.
type Coordinator struct {
	cfg        *config.Config
	store      storage.Store
	client     *overpass.Client
	classifier graph.Classifier

	mu       sync.Mutex
	inFlight map[string]*state.DownloadState

	metricsStarted atomic.Bool
}

// NewCoordinator wires the pipeline's collaborators.
func NewCoordinator(cfg *config.Config, store storage.Store, client *overpass.Client, classifier graph.Classifier) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		store:      store,
		client:     client,
		classifier: classifier,
		inFlight:   make(map[string]*state.DownloadState),
	}
}

func (c *Coordinator) configured() bool {
	return c.cfg != nil && c.store != nil && c.client != nil && c.classifier != nil
}

// track registers a state for best-effort flushing when the process receives
// a shutdown signal. Regions run concurrently, so each holds its own slot.
func (c *Coordinator) track(st *state.DownloadState) {
	c.mu.Lock()
	c.inFlight[st.RegionID] = st
	c.mu.Unlock()
}

func (c *Coordinator) untrack(regionID string) {
	c.mu.Lock()
	delete(c.inFlight, regionID)
	c.mu.Unlock()
}

// FlushState saves every in-flight state immediately. Called from the signal
// handler with a fresh context because the run contexts are being cancelled.
// Each state is snapshotted so marshaling never races with a running pass.
func (c *Coordinator) FlushState(ctx context.Context) error {
	c.mu.Lock()
	states := make([]*state.DownloadState, 0, len(c.inFlight))
	for _, st := range c.inFlight {
		states = append(states, st)
	}
	c.mu.Unlock()

	var firstErr error
	for _, st := range states {
		snap := st.Snapshot()
		snap.Touch()
		if err := c.store.SaveState(ctx, snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Fetch ingests a region from scratch. A resumable state already on disk
// means another attempt was interrupted; callers should resume it instead.
func (c *Coordinator) Fetch(ctx context.Context, region Region, onProgress ProgressFunc) (Stats, error) {
	if !c.configured() {
		return Stats{}, ErrNotConfigured
	}

	existing, err := c.store.LoadState(ctx, region.ID)
	if err != nil {
		return Stats{}, err
	}
	if existing != nil {
		return Stats{}, ErrAlreadyInProgress
	}

	st := state.New(region.ID, region.DisplayName, region.Bounds,
		state.RawDataPath(c.cfg.DataDir, region.ID))
	if err := c.store.SaveState(ctx, st); err != nil {
		return Stats{}, err
	}

	return c.run(ctx, st, onProgress)
}

// Resume continues an interrupted download from its persisted phase. Failed
// states restart from the downloading phase because their raw file was
// removed on failure.
func (c *Coordinator) Resume(ctx context.Context, st *state.DownloadState, onProgress ProgressFunc) (Stats, error) {
	if !c.configured() {
		return Stats{}, ErrNotConfigured
	}
	if !st.Resumable() {
		return Stats{}, ErrAlreadyComplete
	}

	if st.Phase == state.PhaseFailed {
		if err := st.Retry(); err != nil {
			return Stats{}, err
		}
		if err := c.store.SaveState(ctx, st); err != nil {
			return Stats{}, err
		}
	}

	logger.Get().Info("Resuming region",
		zap.String("region", st.RegionID),
		zap.String("phase", string(st.Phase)),
		zap.Int64("nodes_processed", st.NodesProcessed),
		zap.Int64("ways_processed", st.EdgesProcessed))

	return c.run(ctx, st, onProgress)
}

// run executes the remaining phases of a state in order. On any error the
// state is marked failed and its temporary files are removed; graph data
// already committed stays.
func (c *Coordinator) run(ctx context.Context, st *state.DownloadState, onProgress ProgressFunc) (Stats, error) {
	log := logger.Get()
	rep := newProgressReporter(onProgress)

	c.track(st)
	defer c.untrack(st.RegionID)

	// First import starts the resource collector. Concurrent regions share
	// the CLI's parent context, so the collector outlives any single region.
	if c.cfg.MetricsInterval > 0 && c.metricsStarted.CompareAndSwap(false, true) {
		collector := metrics.NewCollector(c.cfg.MetricsInterval, log)
		go collector.Start(ctx)
	}

	stats, err := c.runPhases(ctx, st, rep)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = ErrCancelled
		}
		c.fail(st, err)
		return Stats{}, err
	}

	log.Info("Region complete",
		zap.String("region", st.RegionID),
		zap.Int64("nodes", stats.NodeCount),
		zap.Int64("edges", stats.EdgeCount))
	rep.complete(stats.NodeCount, stats.EdgeCount)
	return stats, nil
}

func (c *Coordinator) runPhases(ctx context.Context, st *state.DownloadState, rep *progressReporter) (Stats, error) {
	log := logger.Get()

	advance := func(next state.Phase) error {
		if err := st.Advance(next); err != nil {
			return err
		}
		return c.store.SaveState(ctx, st)
	}

	if st.Phase == state.PhaseDownloading {
		rep.phase(state.PhaseDownloading, "Downloading map data")
		start := time.Now()
		written, err := c.client.Fetch(ctx, st.Bounds, st.RawDataPath)
		if err != nil {
			if ctx.Err() != nil {
				return Stats{}, err
			}
			return Stats{}, &DownloadError{Reason: "all endpoints failed", Err: err}
		}
		log.Info("Raw data downloaded",
			zap.String("region", st.RegionID),
			zap.Int64("bytes", written),
			zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)))
		if err := advance(state.PhaseDownloaded); err != nil {
			return Stats{}, err
		}
	}

	if st.Phase == state.PhaseDownloaded {
		rep.phase(state.PhaseDownloaded, "Indexing coordinates")
		nodes, ways, err := c.buildCoordinateStore(ctx, st, rep)
		if err != nil {
			return Stats{}, err
		}
		st.SetTotals(nodes, ways)
		if err := advance(state.PhaseProcessingNodes); err != nil {
			return Stats{}, err
		}
	}

	if st.Phase == state.PhaseProcessingNodes {
		rep.phase(state.PhaseProcessingNodes, "Creating routing nodes")
		if err := c.runNodePass(ctx, st, rep); err != nil {
			return Stats{}, err
		}
		if err := advance(state.PhaseProcessingEdges); err != nil {
			return Stats{}, err
		}
	}

	if st.Phase == state.PhaseProcessingEdges {
		rep.phase(state.PhaseProcessingEdges, "Building edges")
		if err := c.runEdgePass(ctx, st, rep); err != nil {
			return Stats{}, err
		}
		if err := advance(state.PhaseFinalizing); err != nil {
			return Stats{}, err
		}
	}

	// Finalizing: write metadata from what the store actually holds, then
	// drop the state record and working files.
	rep.phase(state.PhaseFinalizing, "Finalizing region")
	nodeCount, err := c.store.NodeCount(ctx, st.RegionID)
	if err != nil {
		return Stats{}, err
	}
	edgeCount, err := c.store.EdgeCount(ctx, st.RegionID)
	if err != nil {
		return Stats{}, err
	}

	meta := &graph.RegionMetadata{
		RegionID:    st.RegionID,
		DisplayName: st.DisplayName,
		Bounds:      st.Bounds,
		NodeCount:   nodeCount,
		EdgeCount:   edgeCount,
		IsComplete:  true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.PutRegion(ctx, meta); err != nil {
		return Stats{}, err
	}
	if err := st.Advance(state.PhaseComplete); err != nil {
		return Stats{}, err
	}
	if err := c.store.DeleteState(ctx, st.RegionID); err != nil {
		return Stats{}, err
	}
	c.cleanupFiles(st)

	return Stats{NodeCount: nodeCount, EdgeCount: edgeCount}, nil
}

// fail marks the state failed and removes the working files. The state
// record stays so the operator can inspect and retry. Persisting here is
// best effort; the original error is what the caller sees.
func (c *Coordinator) fail(st *state.DownloadState, cause error) {
	log := logger.Get()
	log.Error("Region download failed",
		zap.String("region", st.RegionID),
		zap.String("phase", string(st.Phase)),
		zap.Error(cause))

	if st.Phase.Terminal() {
		return
	}
	if err := st.Advance(state.PhaseFailed); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SaveState(ctx, st); err != nil {
		log.Warn("Could not persist failed state", zap.Error(err))
	}
	c.cleanupFiles(st)
}
