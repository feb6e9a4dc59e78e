// Package overpass downloads routable-way documents from an Overpass-style
// geodata API, rotating across interchangeable mirror endpoints.
package overpass

import (
	"fmt"
	"strings"

	"github.com/wegman-software/trailgraph/internal/geo"
)

// wayFilters are the tag predicates selecting horse-ridable way categories.
// Driveways are explicitly excluded from the service category.
var wayFilters = []string{
	`way["highway"="bridleway"]`,
	`way["highway"="track"]`,
	`way["highway"="path"]`,
	`way["highway"="unclassified"]`,
	`way["highway"="residential"]`,
	`way["highway"="service"]["service"!="driveway"]`,
	`way["horse"="yes"]`,
	`way["horse"="designated"]`,
}

// BuildQuery returns the Overpass QL query for all horse-ridable ways within
// the bounding box, with full body output including referenced nodes.
func BuildQuery(bounds geo.Bounds) string {
	bbox := fmt.Sprintf("(%f,%f,%f,%f)", bounds.MinLat, bounds.MinLon, bounds.MaxLat, bounds.MaxLon)

	var b strings.Builder
	b.WriteString("[out:json][timeout:900];(")
	for _, f := range wayFilters {
		b.WriteString(f)
		b.WriteString(bbox)
		b.WriteString(";")
	}
	b.WriteString(");out body;>;out skel qt;")
	return b.String()
}
