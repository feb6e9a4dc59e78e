package storage

import (
	"context"
	"testing"

	"github.com/wegman-software/trailgraph/internal/geo"
	"github.com/wegman-software/trailgraph/internal/graph"
	"github.com/wegman-software/trailgraph/internal/state"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNodeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	nodes := []*graph.RoutingNode{
		{RegionID: "r1", OsmID: 1, Lat: 51.50, Lon: -0.10},
		{
			RegionID: "r1", OsmID: 2, Lat: 51.51, Lon: -0.11,
			Edges: []graph.RoutingEdge{{ToNodeID: 1, DistanceM: 1342, WayType: graph.WayBridleway, Bidirectional: true}},
		},
		{RegionID: "r2", OsmID: 1, Lat: 48.85, Lon: 2.35},
	}
	if err := s.PutNodes(ctx, nodes); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := s.GetNodes(ctx, "r1", []int64{1, 2, 99})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(got))
	}
	if got[1].Lat != 51.50 || got[1].Lon != -0.10 {
		t.Errorf("unexpected node 1: %+v", got[1])
	}
	if len(got[2].Edges) != 1 || got[2].Edges[0].ToNodeID != 1 {
		t.Errorf("unexpected edges on node 2: %+v", got[2].Edges)
	}
	if got[2].Edges[0].WayType != graph.WayBridleway || !got[2].Edges[0].Bidirectional {
		t.Errorf("edge metadata lost: %+v", got[2].Edges[0])
	}

	// Counts are per region.
	count, err := s.NodeCount(ctx, "r1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 nodes in r1, got %d", count)
	}
	count, _ = s.NodeCount(ctx, "r2")
	if count != 1 {
		t.Errorf("expected 1 node in r2, got %d", count)
	}
}

func TestEdgeCountAndScan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	nodes := []*graph.RoutingNode{
		{RegionID: "r1", OsmID: 3, Lat: 1, Lon: 1},
		{
			RegionID: "r1", OsmID: 1, Lat: 2, Lon: 2,
			Edges: []graph.RoutingEdge{{ToNodeID: 3, DistanceM: 10}, {ToNodeID: 2, DistanceM: 20}},
		},
		{
			RegionID: "r1", OsmID: 2, Lat: 3, Lon: 3,
			Edges: []graph.RoutingEdge{{ToNodeID: 1, DistanceM: 20}},
		},
		{RegionID: "r2", OsmID: 1, Edges: []graph.RoutingEdge{{ToNodeID: 9, DistanceM: 5}}},
	}
	if err := s.PutNodes(ctx, nodes); err != nil {
		t.Fatal(err)
	}

	count, err := s.EdgeCount(ctx, "r1")
	if err != nil {
		t.Fatalf("edge count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 edges in r1, got %d", count)
	}

	// Scan yields r1's nodes only, in ascending id order.
	var ids []int64
	err = s.ScanNodes(ctx, "r1", func(n *graph.RoutingNode) error {
		ids = append(ids, n.OsmID)
		return nil
	})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("unexpected scan order: %v", ids)
	}
}

func TestPutNodesReplacesEdges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := &graph.RoutingNode{RegionID: "r1", OsmID: 7, Lat: 1, Lon: 2}
	if err := s.PutNodes(ctx, []*graph.RoutingNode{n}); err != nil {
		t.Fatal(err)
	}

	n.Edges = append(n.Edges, graph.RoutingEdge{ToNodeID: 8, DistanceM: 100})
	if err := s.PutNodes(ctx, []*graph.RoutingNode{n}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetNodes(ctx, "r1", []int64{7})
	if err != nil {
		t.Fatal(err)
	}
	if len(got[7].Edges) != 1 {
		t.Errorf("expected 1 edge after re-put, got %d", len(got[7].Edges))
	}
}

func TestRegionMetadataLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	meta := &graph.RegionMetadata{
		RegionID:    "r1",
		DisplayName: "Test",
		Bounds:      geo.Bounds{MinLat: 51, MinLon: -1, MaxLat: 52, MaxLon: 0},
		NodeCount:   10,
		EdgeCount:   20,
		IsComplete:  true,
	}
	if err := s.PutRegion(ctx, meta); err != nil {
		t.Fatal(err)
	}
	if err := s.PutNodes(ctx, []*graph.RoutingNode{{RegionID: "r1", OsmID: 1}}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRegion(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.NodeCount != 10 || !got.IsComplete {
		t.Errorf("unexpected metadata: %+v", got)
	}

	regions, err := s.ListRegions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 1 {
		t.Errorf("expected 1 region, got %d", len(regions))
	}

	if err := s.DeleteRegion(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetRegion(ctx, "r1"); got != nil {
		t.Error("expected metadata gone after delete")
	}
	if count, _ := s.NodeCount(ctx, "r1"); count != 0 {
		t.Errorf("expected nodes gone after delete, got %d", count)
	}
}

func TestGetRegionAbsent(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetRegion(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for absent region, got %+v", got)
	}
}

func TestStateLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ds := state.New("r1", "Test", geo.Bounds{MinLat: 51, MinLon: -1, MaxLat: 52, MaxLon: 0}, "/tmp/r1.raw.json")
	ds.NodesProcessed = 42
	if err := s.SaveState(ctx, ds); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadState(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Phase != state.PhaseDownloading || got.NodesProcessed != 42 {
		t.Errorf("unexpected state: %+v", got)
	}

	states, err := s.ListStates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 {
		t.Errorf("expected 1 state, got %d", len(states))
	}

	if err := s.DeleteState(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.LoadState(ctx, "r1"); got != nil {
		t.Error("expected state gone after delete")
	}
}
