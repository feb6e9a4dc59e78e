package graph

import (
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "classify.lua")
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLuaClassifierOverride(t *testing.T) {
	path := writeScript(t, `
function classify_way(tags)
  if tags["highway"] == "track" then
    return { way_type = "track", surface = "sand", oneway = true }
  end
  return nil
end
`)

	c, err := NewLuaClassifier(path, nil)
	if err != nil {
		t.Fatalf("failed to load script: %v", err)
	}
	defer c.Close()

	got := c.Classify(map[string]string{"highway": "track"})
	want := Classification{WayType: WayTrack, Surface: SurfaceSand, OneWay: true, Allowed: true}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	// nil return excludes the way entirely.
	got = c.Classify(map[string]string{"highway": "bridleway"})
	if got.Allowed {
		t.Errorf("expected way excluded by script, got %+v", got)
	}
}

func TestLuaClassifierMissingCallback(t *testing.T) {
	path := writeScript(t, `x = 1`)
	if _, err := NewLuaClassifier(path, nil); err == nil {
		t.Error("expected error for script without classify_way")
	}
}
