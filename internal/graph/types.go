package graph

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/wegman-software/trailgraph/internal/geo"
)

// WayType classifies the kind of path an edge runs along.
type WayType uint8

const (
	WayOther WayType = iota
	WayBridleway
	WayTrack
	WayPath
	WayUnclassified
	WayResidential
	WayService
)

var wayTypeNames = map[WayType]string{
	WayOther:        "other",
	WayBridleway:    "bridleway",
	WayTrack:        "track",
	WayPath:         "path",
	WayUnclassified: "unclassified",
	WayResidential:  "residential",
	WayService:      "service",
}

func (w WayType) String() string {
	if s, ok := wayTypeNames[w]; ok {
		return s
	}
	return "other"
}

// SurfaceType classifies the riding surface of an edge.
type SurfaceType uint8

const (
	SurfaceUnknown SurfaceType = iota
	SurfacePaved
	SurfaceGravel
	SurfaceDirt
	SurfaceGrass
	SurfaceSand
)

var surfaceNames = map[SurfaceType]string{
	SurfaceUnknown: "unknown",
	SurfacePaved:   "paved",
	SurfaceGravel:  "gravel",
	SurfaceDirt:    "dirt",
	SurfaceGrass:   "grass",
	SurfaceSand:    "sand",
}

func (s SurfaceType) String() string {
	if n, ok := surfaceNames[s]; ok {
		return n
	}
	return "unknown"
}

// RoutingEdge is one directed connection out of a routing node.
type RoutingEdge struct {
	ToNodeID      int64
	DistanceM     float64
	WayType       WayType
	Surface       SurfaceType
	Bidirectional bool
}

// RoutingNode is a persisted graph vertex. Edges are stored as a single
// compact binary blob per node to bound write amplification during the edge
// pass.
type RoutingNode struct {
	RegionID string
	OsmID    int64
	Lat      float64
	Lon      float64
	Edges    []RoutingEdge
}

// RegionMetadata is the only artifact visible to downstream routing. It is
// created only after a region's pipeline reaches the complete phase.
type RegionMetadata struct {
	RegionID    string     `json:"regionId"`
	DisplayName string     `json:"displayName"`
	Bounds      geo.Bounds `json:"bounds"`
	NodeCount   int64      `json:"nodeCount"`
	EdgeCount   int64      `json:"edgeCount"`
	IsComplete  bool       `json:"isComplete"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Contains reports whether the coordinate lies inside the region's bounds.
func (m *RegionMetadata) Contains(lat, lon float64) bool {
	return m.Bounds.Contains(lat, lon)
}

// Edge blob wire format, little-endian:
//
//	uint32 edge count
//	per edge: int64 toNodeID, float64 distanceM, uint8 wayType,
//	          uint8 surface, uint8 flags (bit 0 = bidirectional)
const (
	edgeRecordSize = 19
	flagBidir      = 0x01
)

// EncodeEdges serializes an edge list to its compact blob form.
func EncodeEdges(edges []RoutingEdge) []byte {
	buf := make([]byte, 4, 4+len(edges)*edgeRecordSize)
	binary.LittleEndian.PutUint32(buf, uint32(len(edges)))

	var rec [edgeRecordSize]byte
	for _, e := range edges {
		binary.LittleEndian.PutUint64(rec[0:8], uint64(e.ToNodeID))
		binary.LittleEndian.PutUint64(rec[8:16], math.Float64bits(e.DistanceM))
		rec[16] = byte(e.WayType)
		rec[17] = byte(e.Surface)
		flags := byte(0)
		if e.Bidirectional {
			flags |= flagBidir
		}
		rec[18] = flags
		buf = append(buf, rec[:]...)
	}

	return buf
}

// DecodeEdges deserializes an edge blob.
func DecodeEdges(blob []byte) ([]RoutingEdge, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < 4 {
		return nil, fmt.Errorf("edge blob too short: %d bytes", len(blob))
	}

	count := binary.LittleEndian.Uint32(blob)
	if len(blob) != 4+int(count)*edgeRecordSize {
		return nil, fmt.Errorf("edge blob length %d does not match count %d", len(blob), count)
	}

	edges := make([]RoutingEdge, count)
	off := 4
	for i := range edges {
		rec := blob[off : off+edgeRecordSize]
		edges[i] = RoutingEdge{
			ToNodeID:      int64(binary.LittleEndian.Uint64(rec[0:8])),
			DistanceM:     math.Float64frombits(binary.LittleEndian.Uint64(rec[8:16])),
			WayType:       WayType(rec[16]),
			Surface:       SurfaceType(rec[17]),
			Bidirectional: rec[18]&flagBidir != 0,
		}
		off += edgeRecordSize
	}

	return edges, nil
}
