package graph

import "testing"

func TestClassifyWayTypes(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name string
		tags map[string]string
		want Classification
	}{
		{
			name: "bridleway",
			tags: map[string]string{"highway": "bridleway"},
			want: Classification{WayType: WayBridleway, Allowed: true},
		},
		{
			name: "gravel track",
			tags: map[string]string{"highway": "track", "surface": "gravel"},
			want: Classification{WayType: WayTrack, Surface: SurfaceGravel, Allowed: true},
		},
		{
			name: "oneway path",
			tags: map[string]string{"highway": "path", "oneway": "yes"},
			want: Classification{WayType: WayPath, OneWay: true, Allowed: true},
		},
		{
			name: "horse forbidden",
			tags: map[string]string{"highway": "bridleway", "horse": "no"},
			want: Classification{Allowed: false},
		},
		{
			name: "private access",
			tags: map[string]string{"highway": "track", "access": "private"},
			want: Classification{Allowed: false},
		},
		{
			name: "private access with horse permission",
			tags: map[string]string{"highway": "track", "access": "private", "horse": "yes"},
			want: Classification{WayType: WayTrack, Allowed: true},
		},
		{
			name: "driveway excluded",
			tags: map[string]string{"highway": "service", "service": "driveway"},
			want: Classification{Allowed: false},
		},
		{
			name: "plain service road",
			tags: map[string]string{"highway": "service"},
			want: Classification{WayType: WayService, Allowed: true},
		},
		{
			name: "motorway rejected",
			tags: map[string]string{"highway": "motorway"},
			want: Classification{Allowed: false},
		},
		{
			name: "footway rejected without horse permission",
			tags: map[string]string{"highway": "footway"},
			want: Classification{Allowed: false},
		},
		{
			name: "footway with horse permission",
			tags: map[string]string{"highway": "footway", "horse": "designated"},
			want: Classification{WayType: WayOther, Allowed: true},
		},
		{
			name: "untagged way rejected",
			tags: map[string]string{"name": "Mill Lane"},
			want: Classification{Allowed: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.tags)
			if got != tt.want {
				t.Errorf("Classify(%v) = %+v, want %+v", tt.tags, got, tt.want)
			}
		})
	}
}

func TestEdgeBlobRoundTrip(t *testing.T) {
	edges := []RoutingEdge{
		{ToNodeID: 2, DistanceM: 1342.5, WayType: WayBridleway, Surface: SurfaceDirt, Bidirectional: true},
		{ToNodeID: 3, DistanceM: 87.25, WayType: WayTrack, Surface: SurfaceUnknown},
	}

	blob := EncodeEdges(edges)
	got, err := DecodeEdges(blob)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != len(edges) {
		t.Fatalf("expected %d edges, got %d", len(edges), len(got))
	}
	for i := range edges {
		if got[i] != edges[i] {
			t.Errorf("edge %d: expected %+v, got %+v", i, edges[i], got[i])
		}
	}
}

func TestDecodeEdgesEmpty(t *testing.T) {
	got, err := DecodeEdges(nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no edges, got %d", len(got))
	}

	got, err = DecodeEdges(EncodeEdges(nil))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no edges, got %d", len(got))
	}
}

func TestDecodeEdgesRejectsCorrupt(t *testing.T) {
	blob := EncodeEdges([]RoutingEdge{{ToNodeID: 1, DistanceM: 10}})
	if _, err := DecodeEdges(blob[:len(blob)-3]); err == nil {
		t.Error("expected error for truncated blob")
	}
	if _, err := DecodeEdges([]byte{1, 2}); err == nil {
		t.Error("expected error for undersized blob")
	}
}
