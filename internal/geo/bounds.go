package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Bounds is a geographic bounding box in WGS84.
type Bounds struct {
	MinLat float64 `yaml:"min_lat" json:"minLat"`
	MinLon float64 `yaml:"min_lon" json:"minLon"`
	MaxLat float64 `yaml:"max_lat" json:"maxLat"`
	MaxLon float64 `yaml:"max_lon" json:"maxLon"`
}

// Bound returns the orb representation of the box.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}

// Contains reports whether the point lies inside the box (edges inclusive).
func (b Bounds) Contains(lat, lon float64) bool {
	return b.Bound().Contains(orb.Point{lon, lat})
}

func (b Bounds) String() string {
	return fmt.Sprintf("%f,%f,%f,%f", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Validate checks that the box is well-formed.
func (b Bounds) Validate() error {
	if b.MinLat > b.MaxLat {
		return fmt.Errorf("minlat (%f) must be <= maxlat (%f)", b.MinLat, b.MaxLat)
	}
	if b.MinLon > b.MaxLon {
		return fmt.Errorf("minlon (%f) must be <= maxlon (%f)", b.MinLon, b.MaxLon)
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("latitude out of range")
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("longitude out of range")
	}
	return nil
}

// ParseBounds parses a bounds string in format "minlon,minlat,maxlon,maxlat".
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("bounds must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("invalid bounds coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	b := Bounds{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
	}
	if err := b.Validate(); err != nil {
		return Bounds{}, err
	}
	return b, nil
}
