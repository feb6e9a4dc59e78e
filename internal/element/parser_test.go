package element

import (
	"context"
	"io"
	"strings"
	"testing"
)

const sampleDoc = `{
  "version": 0.6,
  "generator": "Overpass API",
  "osm3s": {"timestamp_osm_base": "2024-03-01T00:00:00Z"},
  "elements": [
    {"type": "node", "id": 1, "lat": 51.50, "lon": -0.10},
    {"type": "node", "id": 2, "lat": 51.51, "lon": -0.11},
    {"type": "way", "id": 100, "nodes": [1, 2], "tags": {"highway": "bridleway", "name": "Quoted \"Trail\" {brace}"}},
    {"type": "way", "id": 101, "nodes": [2, 1], "tags": {"highway": "track", "oneway": "yes"}}
  ]
}`

func drain(t *testing.T, doc string, chunkSize int) []Element {
	t.Helper()
	s := NewScanner(strings.NewReader(doc), chunkSize)
	var elems []Element
	for {
		elem, err := s.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		elems = append(elems, elem)
	}
	return elems
}

func TestExtractElements(t *testing.T) {
	elems := drain(t, sampleDoc, 64*1024)
	if len(elems) != 4 {
		t.Fatalf("expected 4 elements, got %d", len(elems))
	}

	if elems[0].Node == nil || elems[0].Node.ID != 1 {
		t.Errorf("expected first element node 1, got %+v", elems[0])
	}
	if elems[0].Node.Lat != 51.50 || elems[0].Node.Lon != -0.10 {
		t.Errorf("unexpected coordinates: %+v", elems[0].Node)
	}

	way := elems[2].Way
	if way == nil {
		t.Fatalf("expected third element to be a way")
	}
	if way.ID != 100 {
		t.Errorf("expected way 100, got %d", way.ID)
	}
	if len(way.Nodes) != 2 || way.Nodes[0] != 1 || way.Nodes[1] != 2 {
		t.Errorf("unexpected node sequence: %v", way.Nodes)
	}
	if way.Tags["highway"] != "bridleway" {
		t.Errorf("unexpected tags: %v", way.Tags)
	}
	// Escaped quotes and braces inside strings must not break extraction.
	if way.Tags["name"] != `Quoted "Trail" {brace}` {
		t.Errorf("escape handling broken: %q", way.Tags["name"])
	}
}

func TestChunkBoundaryInvariance(t *testing.T) {
	// Splits in the middle of string escapes and nested braces must yield the
	// same element sequence as one large chunk.
	want := drain(t, sampleDoc, len(sampleDoc))

	for _, chunkSize := range []int{1, 2, 3, 7, 16, 100} {
		got := drain(t, sampleDoc, chunkSize)
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: expected %d elements, got %d", chunkSize, len(want), len(got))
		}
		for i := range want {
			if (want[i].Node == nil) != (got[i].Node == nil) {
				t.Errorf("chunk size %d: element %d kind mismatch", chunkSize, i)
				continue
			}
			if want[i].Node != nil && *want[i].Node != *got[i].Node {
				t.Errorf("chunk size %d: node mismatch: %+v vs %+v", chunkSize, *want[i].Node, *got[i].Node)
			}
			if want[i].Way != nil && want[i].Way.ID != got[i].Way.ID {
				t.Errorf("chunk size %d: way mismatch: %d vs %d", chunkSize, want[i].Way.ID, got[i].Way.ID)
			}
		}
	}
}

func TestMalformedElementDropped(t *testing.T) {
	doc := `[
		{"type": "node", "id": 1, "lat": 1.0, "lon": 2.0},
		{"type": "node", "id": , "lat": broken},
		{"type": "node", "id": 3, "lat": 3.0, "lon": 4.0}
	]`

	elems := drain(t, doc, 4096)
	if len(elems) != 2 {
		t.Fatalf("expected 2 elements after dropping malformed one, got %d", len(elems))
	}
	if elems[0].Node.ID != 1 || elems[1].Node.ID != 3 {
		t.Errorf("unexpected surviving elements: %+v", elems)
	}
}

func TestRelationsSkipped(t *testing.T) {
	doc := `{"elements": [
		{"type": "relation", "id": 9, "members": []},
		{"type": "node", "id": 5, "lat": 1.0, "lon": 1.0},
		{"type": "count", "total": "2"}
	]}`

	elems := drain(t, doc, 4096)
	if len(elems) != 1 {
		t.Fatalf("expected 1 element, got %d", len(elems))
	}
	if elems[0].Node == nil || elems[0].Node.ID != 5 {
		t.Errorf("unexpected element: %+v", elems[0])
	}
}

func TestIncompleteBufferNeedsMoreData(t *testing.T) {
	buf := []byte(`{"type": "node", "id": 1, "lat": 51.5`)
	if _, _, ok := ExtractNext(buf); ok {
		t.Error("expected no element from incomplete buffer")
	}
}
