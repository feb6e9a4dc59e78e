// Package state defines the persisted per-region download state that makes
// the ingestion pipeline resumable after the process is suspended or killed.
package state

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/wegman-software/trailgraph/internal/geo"
)

// Phase is a stage in a region download's lifecycle. Phases are strictly
// ordered and never regress except when an operator restarts from scratch.
type Phase string

const (
	PhaseDownloading     Phase = "downloading"
	PhaseDownloaded      Phase = "downloaded"
	PhaseProcessingNodes Phase = "processingNodes"
	PhaseProcessingEdges Phase = "processingEdges"
	PhaseFinalizing      Phase = "finalizing"
	PhaseComplete        Phase = "complete"
	PhaseFailed          Phase = "failed"
)

// phaseOrder maps each non-terminal phase to its position in the lifecycle.
var phaseOrder = map[Phase]int{
	PhaseDownloading:     0,
	PhaseDownloaded:      1,
	PhaseProcessingNodes: 2,
	PhaseProcessingEdges: 3,
	PhaseFinalizing:      4,
	PhaseComplete:        5,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	if p == PhaseFailed {
		return true
	}
	_, ok := phaseOrder[p]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// DownloadState is the durable checkpoint record for one in-flight region.
// Exactly one exists per region; it is deleted only on successful completion.
//
// The pipeline goroutine owns the state. All field writes go through the
// mutators below, which hold mu, so Snapshot can copy the state from the
// signal handler while a pass is updating it.
type DownloadState struct {
	mu sync.Mutex

	RegionID       string     `json:"regionId"`
	DisplayName    string     `json:"displayName"`
	Bounds         geo.Bounds `json:"bounds"`
	Phase          Phase      `json:"phase"`
	NodesProcessed int64      `json:"nodesProcessed"`
	EdgesProcessed int64      `json:"edgesProcessed"` // ways processed, a way may yield 0..2n edges
	TotalNodes     int64      `json:"totalNodes"`
	TotalEdges     int64      `json:"totalEdges"` // way count
	RawDataPath    string     `json:"rawDataFilePath"`
	StartedAt      time.Time  `json:"startedAt"`
	LastUpdatedAt  time.Time  `json:"lastUpdatedAt"`
}

// New creates a fresh state at the downloading phase.
func New(regionID, displayName string, bounds geo.Bounds, rawDataPath string) *DownloadState {
	now := time.Now().UTC()
	return &DownloadState{
		RegionID:      regionID,
		DisplayName:   displayName,
		Bounds:        bounds,
		Phase:         PhaseDownloading,
		RawDataPath:   rawDataPath,
		StartedAt:     now,
		LastUpdatedAt: now,
	}
}

// Advance moves the state to the given phase. Transitions must be strictly
// forward along the lifecycle; failed is reachable from any non-terminal
// phase. Any other transition is an error.
func (s *DownloadState) Advance(next Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !next.Valid() {
		return fmt.Errorf("unknown phase %q", next)
	}
	if s.Phase.Terminal() {
		return fmt.Errorf("phase %s is terminal", s.Phase)
	}
	if next == PhaseFailed {
		s.Phase = PhaseFailed
		s.LastUpdatedAt = time.Now().UTC()
		return nil
	}
	if phaseOrder[next] <= phaseOrder[s.Phase] {
		return fmt.Errorf("phase cannot regress from %s to %s", s.Phase, next)
	}
	s.Phase = next
	s.LastUpdatedAt = time.Now().UTC()
	return nil
}

// Retry resets a failed state back to the downloading phase. This is the one
// sanctioned regression: an operator explicitly restarting a failed region.
// Counters are zeroed because the raw backing file was removed on failure.
func (s *DownloadState) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Phase != PhaseFailed {
		return fmt.Errorf("retry only applies to failed states, not %s", s.Phase)
	}
	s.Phase = PhaseDownloading
	s.NodesProcessed = 0
	s.EdgesProcessed = 0
	s.LastUpdatedAt = time.Now().UTC()
	return nil
}

// Touch refreshes the last-updated timestamp before a checkpoint save.
func (s *DownloadState) Touch() {
	s.mu.Lock()
	s.LastUpdatedAt = time.Now().UTC()
	s.mu.Unlock()
}

// AddNodesProcessed records a committed batch of routing nodes.
func (s *DownloadState) AddNodesProcessed(n int64) {
	s.mu.Lock()
	s.NodesProcessed += n
	s.mu.Unlock()
}

// SetNodesProcessed overwrites the node counter, clamping a stale checkpoint.
func (s *DownloadState) SetNodesProcessed(n int64) {
	s.mu.Lock()
	s.NodesProcessed = n
	s.mu.Unlock()
}

// SetEdgesProcessed records the number of ways whose edges are committed.
func (s *DownloadState) SetEdgesProcessed(ways int64) {
	s.mu.Lock()
	s.EdgesProcessed = ways
	s.mu.Unlock()
}

// SetTotals records the element counts discovered during coordinate indexing.
func (s *DownloadState) SetTotals(nodes, ways int64) {
	s.mu.Lock()
	s.TotalNodes = nodes
	s.TotalEdges = ways
	s.mu.Unlock()
}

// Snapshot returns a copy that is safe to marshal while the pipeline
// goroutine keeps mutating the original.
func (s *DownloadState) Snapshot() *DownloadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &DownloadState{
		RegionID:       s.RegionID,
		DisplayName:    s.DisplayName,
		Bounds:         s.Bounds,
		Phase:          s.Phase,
		NodesProcessed: s.NodesProcessed,
		EdgesProcessed: s.EdgesProcessed,
		TotalNodes:     s.TotalNodes,
		TotalEdges:     s.TotalEdges,
		RawDataPath:    s.RawDataPath,
		StartedAt:      s.StartedAt,
		LastUpdatedAt:  s.LastUpdatedAt,
	}
}

// Resumable reports whether the state can re-enter the pipeline. A complete
// state is a no-op; a failed state keeps its record so the operator can
// decide to retry or discard, and retry re-enters here.
func (s *DownloadState) Resumable() bool {
	return s.Phase != PhaseComplete
}

// RawDataPath derives the well-known raw response file path for a region.
func RawDataPath(dataDir, regionID string) string {
	return filepath.Join(dataDir, regionID+".raw.json")
}

// CoordStorePath derives the coordinate store file path for a region.
func CoordStorePath(dataDir, regionID string) string {
	return filepath.Join(dataDir, regionID+".coords.bin")
}
