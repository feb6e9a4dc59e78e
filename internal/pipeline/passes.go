package pipeline

import (
	"context"
	"io"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/trailgraph/internal/coordstore"
	"github.com/wegman-software/trailgraph/internal/element"
	"github.com/wegman-software/trailgraph/internal/geo"
	"github.com/wegman-software/trailgraph/internal/graph"
	"github.com/wegman-software/trailgraph/internal/logger"
	"github.com/wegman-software/trailgraph/internal/state"
	"github.com/wegman-software/trailgraph/internal/storage"
)

// buildCoordinateStore streams the raw document once, indexing every node's
// coordinates and collecting the set of node ids referenced by accepted ways.
// Only coordinates in that set are written out, keeping the store
// proportional to routing-relevant nodes. Returns the record count and the
// number of accepted ways.
func (c *Coordinator) buildCoordinateStore(ctx context.Context, st *state.DownloadState, rep *progressReporter) (int64, int64, error) {
	log := logger.Get()

	f, err := os.Open(st.RawDataPath)
	if err != nil {
		return 0, 0, &ParseError{Reason: "raw data file unreadable", Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, &ParseError{Reason: "raw data file unreadable", Err: err}
	}
	totalBytes := info.Size()

	coords := make(map[int64]coordstore.Coord)
	routingIDs := make(map[int64]struct{})
	var wayCount int64

	scanner := element.NewScanner(f, c.cfg.ChunkSize)
	lastReport := time.Now()
	for {
		elem, err := scanner.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, err
		}

		switch {
		case elem.Node != nil:
			coords[elem.Node.ID] = coordstore.Coord{Lat: elem.Node.Lat, Lon: elem.Node.Lon}
		case elem.Way != nil:
			if !c.classifier.Classify(elem.Way.Tags).Allowed {
				continue
			}
			wayCount++
			for _, id := range elem.Way.Nodes {
				routingIDs[id] = struct{}{}
			}
		}

		if time.Since(lastReport) >= time.Second {
			lastReport = time.Now()
			rep.within(state.PhaseDownloaded, scanner.BytesRead(), totalBytes, "Indexing coordinates")
		}
	}

	storePath := state.CoordStorePath(c.cfg.DataDir, st.RegionID)
	records, err := coordstore.Write(storePath, coords, routingIDs)
	if err != nil {
		return 0, 0, err
	}

	log.Info("Coordinate store written",
		zap.String("region", st.RegionID),
		zap.Int64("records", records),
		zap.Int64("ways", wayCount),
		zap.Int("source_nodes", len(coords)))

	return records, wayCount, nil
}

// runNodePass creates one routing node per coordinate-store record, in sorted
// id order for determinism, inserting in fixed batches. State is checkpointed
// on a time interval rather than every batch, bounding data loss on
// interruption to a few seconds of work.
func (c *Coordinator) runNodePass(ctx context.Context, st *state.DownloadState, rep *progressReporter) error {
	log := logger.Get()

	coords, err := coordstore.Load(state.CoordStorePath(c.cfg.DataDir, st.RegionID))
	if err != nil {
		return &ParseError{Reason: "coordinate store unreadable", Err: err}
	}

	ids := make([]int64, 0, len(coords))
	for id := range coords {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Resume skips nodes already committed.
	if st.NodesProcessed > int64(len(ids)) {
		st.SetNodesProcessed(int64(len(ids)))
	}
	ids = ids[st.NodesProcessed:]

	batch := make([]*graph.RoutingNode, 0, c.cfg.NodeBatchSize)
	lastCheckpoint := time.Now()

	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.store.PutNodes(ctx, batch); err != nil {
			return err
		}
		st.AddNodesProcessed(int64(len(batch)))
		batch = batch[:0]

		if time.Since(lastCheckpoint) >= c.cfg.CheckpointInterval {
			lastCheckpoint = time.Now()
			st.Touch()
			if err := c.store.SaveState(ctx, st); err != nil {
				return err
			}
			rep.within(state.PhaseProcessingNodes, st.NodesProcessed, st.TotalNodes, "Creating routing nodes")
		}
		return nil
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		coord := coords[id]
		batch = append(batch, &graph.RoutingNode{
			RegionID: st.RegionID,
			OsmID:    id,
			Lat:      coord.Lat,
			Lon:      coord.Lon,
		})
		if len(batch) >= c.cfg.NodeBatchSize {
			if err := flushBatch(); err != nil {
				return err
			}
		}
	}
	if err := flushBatch(); err != nil {
		return err
	}

	log.Info("Node pass complete",
		zap.String("region", st.RegionID),
		zap.Int64("nodes", st.NodesProcessed))
	return nil
}

// nodeCache is the small rotating in-memory cache used by the edge pass. It
// loads persisted nodes on demand, bounded by a hard entry ceiling, and is
// discarded wholesale at a fixed cadence measured in edges appended since the
// last refresh. Some duplicate loads are the price of the memory ceiling.
type nodeCache struct {
	store    storage.Store
	regionID string
	limit    int
	cadence  int

	entries    map[int64]*graph.RoutingNode
	dirty      map[int64]struct{}
	edgesAdded int
}

func newNodeCache(store storage.Store, regionID string, limit, cadence int) *nodeCache {
	return &nodeCache{
		store:    store,
		regionID: regionID,
		limit:    limit,
		cadence:  cadence,
		entries:  make(map[int64]*graph.RoutingNode),
		dirty:    make(map[int64]struct{}),
	}
}

// get returns the cached node, loading it from the store on a miss. Returns
// nil when the node does not exist (a dangling way reference).
func (nc *nodeCache) get(ctx context.Context, id int64) (*graph.RoutingNode, error) {
	if n, ok := nc.entries[id]; ok {
		return n, nil
	}

	loaded, err := nc.store.GetNodes(ctx, nc.regionID, []int64{id})
	if err != nil {
		return nil, err
	}
	n, ok := loaded[id]
	if !ok {
		return nil, nil
	}
	nc.entries[id] = n
	return n, nil
}

// addEdge appends an edge to a cached node unless an identical edge is
// already present, which keeps resumed passes from duplicating work that was
// committed before an interruption.
func (nc *nodeCache) addEdge(n *graph.RoutingNode, e graph.RoutingEdge) {
	for _, existing := range n.Edges {
		if existing == e {
			return
		}
	}
	n.Edges = append(n.Edges, e)
	nc.dirty[n.OsmID] = struct{}{}
	nc.edgesAdded++
}

// flush persists all dirty nodes.
func (nc *nodeCache) flush(ctx context.Context) error {
	if len(nc.dirty) == 0 {
		return nil
	}
	batch := make([]*graph.RoutingNode, 0, len(nc.dirty))
	for id := range nc.dirty {
		batch = append(batch, nc.entries[id])
	}
	if err := nc.store.PutNodes(ctx, batch); err != nil {
		return err
	}
	nc.dirty = make(map[int64]struct{})
	return nil
}

// maybeRotate flushes and discards the cache when it outgrows its ceiling or
// the refresh cadence is reached.
func (nc *nodeCache) maybeRotate(ctx context.Context) error {
	if len(nc.entries) < nc.limit && nc.edgesAdded < nc.cadence {
		return nil
	}
	if err := nc.flush(ctx); err != nil {
		return err
	}
	nc.entries = make(map[int64]*graph.RoutingNode)
	nc.edgesAdded = 0
	return nil
}

// runEdgePass re-streams the raw document and creates directed edges for
// every accepted way. Commits happen at both an edge-count threshold and a
// wall-clock threshold, whichever comes first.
func (c *Coordinator) runEdgePass(ctx context.Context, st *state.DownloadState, rep *progressReporter) error {
	log := logger.Get()

	coords, err := coordstore.Load(state.CoordStorePath(c.cfg.DataDir, st.RegionID))
	if err != nil {
		return &ParseError{Reason: "coordinate store unreadable", Err: err}
	}

	f, err := os.Open(st.RawDataPath)
	if err != nil {
		return &ParseError{Reason: "raw data file unreadable", Err: err}
	}
	defer f.Close()

	cache := newNodeCache(c.store, st.RegionID, c.cfg.NodeCacheSize, c.cfg.CacheRefreshEdges)
	scanner := element.NewScanner(f, c.cfg.ChunkSize)

	var waysSeen int64
	var waysSinceCommit int
	var edgesSinceCommit int
	lastCommit := time.Now()

	commit := func() error {
		if err := cache.flush(ctx); err != nil {
			return err
		}
		st.SetEdgesProcessed(waysSeen)
		st.Touch()
		if err := c.store.SaveState(ctx, st); err != nil {
			return err
		}
		waysSinceCommit = 0
		edgesSinceCommit = 0
		lastCommit = time.Now()
		rep.within(state.PhaseProcessingEdges, waysSeen, st.TotalEdges, "Building edges")
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		elem, err := scanner.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if elem.Way == nil {
			continue
		}

		cls := c.classifier.Classify(elem.Way.Tags)
		if !cls.Allowed {
			continue
		}

		waysSeen++
		// Ways committed before an interruption are skipped on resume.
		if waysSeen <= st.EdgesProcessed {
			continue
		}

		edges, err := c.buildWayEdges(ctx, cache, coords, elem.Way, cls)
		if err != nil {
			return err
		}
		edgesSinceCommit += edges
		waysSinceCommit++

		if err := cache.maybeRotate(ctx); err != nil {
			return err
		}

		if edgesSinceCommit >= c.cfg.EdgeCommitCount || time.Since(lastCommit) >= c.cfg.EdgeCommitInterval {
			if err := commit(); err != nil {
				return err
			}
		}
	}

	if err := commit(); err != nil {
		return err
	}

	log.Info("Edge pass complete",
		zap.String("region", st.RegionID),
		zap.Int64("ways", waysSeen))
	return nil
}

// buildWayEdges creates the directed edges of one way. For each consecutive
// node pair, a forward edge is appended on the "from" node and, unless the
// way is one-way, a reverse edge on the "to" node. Segments with a missing
// endpoint are skipped: a dangling reference is data-quality noise, not a
// pipeline defect.
func (c *Coordinator) buildWayEdges(ctx context.Context, cache *nodeCache, coords map[int64]coordstore.Coord, way *element.Way, cls graph.Classification) (int, error) {
	created := 0
	for i := 0; i+1 < len(way.Nodes); i++ {
		fromID, toID := way.Nodes[i], way.Nodes[i+1]

		fromCoord, okFrom := coords[fromID]
		toCoord, okTo := coords[toID]
		if !okFrom || !okTo {
			continue
		}

		fromNode, err := cache.get(ctx, fromID)
		if err != nil {
			return created, err
		}
		toNode, err := cache.get(ctx, toID)
		if err != nil {
			return created, err
		}
		if fromNode == nil || toNode == nil {
			continue
		}

		dist := geo.Haversine(fromCoord.Lat, fromCoord.Lon, toCoord.Lat, toCoord.Lon)
		bidir := !cls.OneWay

		cache.addEdge(fromNode, graph.RoutingEdge{
			ToNodeID:      toID,
			DistanceM:     dist,
			WayType:       cls.WayType,
			Surface:       cls.Surface,
			Bidirectional: bidir,
		})
		created++

		if bidir {
			cache.addEdge(toNode, graph.RoutingEdge{
				ToNodeID:      fromID,
				DistanceM:     dist,
				WayType:       cls.WayType,
				Surface:       cls.Surface,
				Bidirectional: true,
			})
			created++
		}
	}
	return created, nil
}

// cleanupFiles removes the raw response and coordinate store files for a
// region. Used at terminal states; committed graph data is never rolled back.
func (c *Coordinator) cleanupFiles(st *state.DownloadState) {
	if st.RawDataPath != "" {
		os.Remove(st.RawDataPath)
	}
	os.Remove(state.CoordStorePath(c.cfg.DataDir, st.RegionID))
}
