package geo

import (
	"math"
	"testing"
)

func TestHaversineZeroDistance(t *testing.T) {
	if d := Haversine(51.5, -0.1, 51.5, -0.1); d != 0 {
		t.Errorf("expected 0 for identical points, got %f", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	d1 := Haversine(51.50, -0.10, 51.51, -0.11)
	d2 := Haversine(51.51, -0.11, 51.50, -0.10)
	if math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %f vs %f", d1, d2)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// One way segment used throughout the pipeline tests: roughly 1.3 km.
	d := Haversine(51.50, -0.10, 51.51, -0.11)
	if d < 1300 || d > 1400 {
		t.Errorf("expected distance in [1300, 1400] m, got %f", d)
	}
}

func TestHaversineMonotonic(t *testing.T) {
	base := Haversine(51.5, -0.1, 51.501, -0.1)
	if base <= 0 {
		t.Fatalf("expected positive distance, got %f", base)
	}
	prev := base
	for i := 2; i <= 10; i++ {
		d := Haversine(51.5, -0.1, 51.5+0.001*float64(i), -0.1)
		if d <= prev {
			t.Errorf("distance not increasing at step %d: %f <= %f", i, d, prev)
		}
		prev = d
	}
}

func TestBoundsContains(t *testing.T) {
	b := Bounds{MinLat: 51.0, MinLon: -1.0, MaxLat: 52.0, MaxLon: 0.0}
	if !b.Contains(51.5, -0.5) {
		t.Error("expected point inside bounds")
	}
	if b.Contains(50.0, -0.5) {
		t.Error("expected point outside bounds")
	}
	if !b.Contains(51.0, -1.0) {
		t.Error("expected edge point inside bounds")
	}
}

func TestParseBounds(t *testing.T) {
	b, err := ParseBounds("-0.2,51.4,0.0,51.6")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.MinLon != -0.2 || b.MinLat != 51.4 || b.MaxLon != 0.0 || b.MaxLat != 51.6 {
		t.Errorf("unexpected bounds: %+v", b)
	}

	if _, err := ParseBounds("1,2,3"); err == nil {
		t.Error("expected error for 3 values")
	}
	if _, err := ParseBounds("0.0,51.6,-0.2,51.4"); err == nil {
		t.Error("expected error for inverted bounds")
	}
}
