package pipeline

import (
	"fmt"

	"github.com/wegman-software/trailgraph/internal/state"
)

// ProgressFunc reports overall progress as a fraction in [0, 1] and a short
// human-readable message. Purely informational; never gates correctness.
type ProgressFunc func(fraction float64, message string)

// Phase weight spans within the overall fraction. Edge building dominates
// wall-clock time on real regions.
var phaseSpans = map[state.Phase][2]float64{
	state.PhaseDownloading:     {0.00, 0.20},
	state.PhaseDownloaded:      {0.20, 0.25},
	state.PhaseProcessingNodes: {0.25, 0.45},
	state.PhaseProcessingEdges: {0.45, 0.95},
	state.PhaseFinalizing:      {0.95, 1.00},
	state.PhaseComplete:        {1.00, 1.00},
}

// progressReporter maps per-phase completion onto the overall fraction and
// forwards it to the caller's callback.
type progressReporter struct {
	fn ProgressFunc
}

func newProgressReporter(fn ProgressFunc) *progressReporter {
	return &progressReporter{fn: fn}
}

// phase reports the start of a phase.
func (p *progressReporter) phase(ph state.Phase, message string) {
	if p.fn == nil {
		return
	}
	span := phaseSpans[ph]
	p.fn(span[0], message)
}

// within reports partial completion inside a phase. done/total may be 0 when
// totals are unknown yet.
func (p *progressReporter) within(ph state.Phase, done, total int64, message string) {
	if p.fn == nil {
		return
	}
	span := phaseSpans[ph]
	frac := span[0]
	if total > 0 {
		ratio := float64(done) / float64(total)
		if ratio > 1 {
			ratio = 1
		}
		frac += (span[1] - span[0]) * ratio
	}
	p.fn(frac, message)
}

// complete reports the terminal success fraction.
func (p *progressReporter) complete(nodeCount, edgeCount int64) {
	if p.fn == nil {
		return
	}
	p.fn(1.0, fmt.Sprintf("Region ready: %d nodes, %d edges", nodeCount, edgeCount))
}
