package state

import (
	"testing"

	"github.com/wegman-software/trailgraph/internal/geo"
)

func newTestState() *DownloadState {
	return New("region-1", "Test Region", geo.Bounds{MinLat: 51, MinLon: -1, MaxLat: 52, MaxLon: 0}, "/tmp/region-1.raw.json")
}

func TestPhaseOrderIsMonotonic(t *testing.T) {
	s := newTestState()

	sequence := []Phase{
		PhaseDownloaded,
		PhaseProcessingNodes,
		PhaseProcessingEdges,
		PhaseFinalizing,
		PhaseComplete,
	}
	for _, p := range sequence {
		if err := s.Advance(p); err != nil {
			t.Fatalf("advance to %s failed: %v", p, err)
		}
		if s.Phase != p {
			t.Fatalf("expected phase %s, got %s", p, s.Phase)
		}
	}
}

func TestPhaseCannotRegress(t *testing.T) {
	s := newTestState()
	if err := s.Advance(PhaseProcessingEdges); err != nil {
		t.Fatal(err)
	}
	if err := s.Advance(PhaseProcessingNodes); err == nil {
		t.Error("expected error advancing backward")
	}
	if err := s.Advance(PhaseProcessingEdges); err == nil {
		t.Error("expected error advancing to same phase")
	}
}

func TestFailedReachableFromAnyNonTerminalPhase(t *testing.T) {
	for _, from := range []Phase{PhaseDownloading, PhaseDownloaded, PhaseProcessingNodes, PhaseProcessingEdges, PhaseFinalizing} {
		s := newTestState()
		s.Phase = from
		if err := s.Advance(PhaseFailed); err != nil {
			t.Errorf("failed not reachable from %s: %v", from, err)
		}
	}
}

func TestTerminalPhasesRejectTransitions(t *testing.T) {
	s := newTestState()
	s.Phase = PhaseComplete
	if err := s.Advance(PhaseFailed); err == nil {
		t.Error("expected error advancing from complete")
	}

	s.Phase = PhaseFailed
	if err := s.Advance(PhaseDownloading); err == nil {
		t.Error("expected error advancing from failed")
	}
}

func TestRetryResetsFailedState(t *testing.T) {
	s := newTestState()
	s.NodesProcessed = 100
	s.EdgesProcessed = 50
	if err := s.Advance(PhaseFailed); err != nil {
		t.Fatal(err)
	}

	if err := s.Retry(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if s.Phase != PhaseDownloading {
		t.Errorf("expected downloading after retry, got %s", s.Phase)
	}
	if s.NodesProcessed != 0 || s.EdgesProcessed != 0 {
		t.Errorf("expected counters reset, got %d/%d", s.NodesProcessed, s.EdgesProcessed)
	}

	s2 := newTestState()
	if err := s2.Retry(); err == nil {
		t.Error("expected retry to fail on non-failed state")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	s := newTestState()
	s.AddNodesProcessed(10)
	s.SetEdgesProcessed(4)
	s.SetTotals(20, 8)

	snap := s.Snapshot()
	if snap.RegionID != s.RegionID || snap.NodesProcessed != 10 || snap.EdgesProcessed != 4 {
		t.Errorf("snapshot fields wrong: %+v", snap)
	}

	s.AddNodesProcessed(5)
	if err := s.Advance(PhaseDownloaded); err != nil {
		t.Fatal(err)
	}
	if snap.NodesProcessed != 10 || snap.Phase != PhaseDownloading {
		t.Errorf("snapshot changed after mutation: %+v", snap)
	}
}

func TestResumable(t *testing.T) {
	s := newTestState()
	if !s.Resumable() {
		t.Error("downloading state must be resumable")
	}
	s.Phase = PhaseComplete
	if s.Resumable() {
		t.Error("complete state must not be resumable")
	}
}
