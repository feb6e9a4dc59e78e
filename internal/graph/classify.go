package graph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Classification is the result of inspecting a way's tags.
type Classification struct {
	WayType WayType
	Surface SurfaceType
	OneWay  bool
	Allowed bool
}

// Classifier derives a Classification from a way's tag set.
type Classifier interface {
	Classify(tags map[string]string) Classification
}

// Profile is the data-driven classification taxonomy. The zero profile denies
// everything; use DefaultProfile as the base and overlay a YAML file to tune.
type Profile struct {
	// Highways maps highway tag values to way type names.
	Highways map[string]string `yaml:"highways"`
	// Surfaces maps surface tag values to surface type names.
	Surfaces map[string]string `yaml:"surfaces"`
	// DeniedAccess lists access tag values that exclude a way outright.
	DeniedAccess []string `yaml:"denied_access"`
	// HorseAllowed lists horse tag values that override a denied access tag.
	HorseAllowed []string `yaml:"horse_allowed"`
}

// DefaultProfile returns the built-in horse-riding taxonomy matching the
// way categories the remote query selects.
func DefaultProfile() *Profile {
	return &Profile{
		Highways: map[string]string{
			"bridleway":    "bridleway",
			"track":        "track",
			"path":         "path",
			"unclassified": "unclassified",
			"residential":  "residential",
			"service":      "service",
		},
		Surfaces: map[string]string{
			"paved":          "paved",
			"asphalt":        "paved",
			"concrete":       "paved",
			"paving_stones":  "paved",
			"gravel":         "gravel",
			"fine_gravel":    "gravel",
			"compacted":      "gravel",
			"pebblestone":    "gravel",
			"dirt":           "dirt",
			"ground":         "dirt",
			"earth":          "dirt",
			"mud":            "dirt",
			"unpaved":        "dirt",
			"grass":          "grass",
			"sand":           "sand",
		},
		DeniedAccess: []string{"no", "private"},
		HorseAllowed: []string{"yes", "designated", "permissive"},
	}
}

// LoadProfile reads a YAML taxonomy file and overlays it on the defaults.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	p := DefaultProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return p, nil
}

// NewClassifier builds a tag classifier from a profile.
func NewClassifier(p *Profile) Classifier {
	if p == nil {
		p = DefaultProfile()
	}

	c := &profileClassifier{
		wayTypes: make(map[string]WayType, len(p.Highways)),
		surfaces: make(map[string]SurfaceType, len(p.Surfaces)),
		denied:   make(map[string]struct{}, len(p.DeniedAccess)),
		horseOK:  make(map[string]struct{}, len(p.HorseAllowed)),
	}

	nameToWay := make(map[string]WayType, len(wayTypeNames))
	for w, n := range wayTypeNames {
		nameToWay[n] = w
	}
	nameToSurface := make(map[string]SurfaceType, len(surfaceNames))
	for s, n := range surfaceNames {
		nameToSurface[n] = s
	}

	for tag, name := range p.Highways {
		if w, ok := nameToWay[name]; ok {
			c.wayTypes[tag] = w
		}
	}
	for tag, name := range p.Surfaces {
		if s, ok := nameToSurface[name]; ok {
			c.surfaces[tag] = s
		}
	}
	for _, v := range p.DeniedAccess {
		c.denied[v] = struct{}{}
	}
	for _, v := range p.HorseAllowed {
		c.horseOK[v] = struct{}{}
	}

	return c
}

type profileClassifier struct {
	wayTypes map[string]WayType
	surfaces map[string]SurfaceType
	denied   map[string]struct{}
	horseOK  map[string]struct{}
}

func (c *profileClassifier) Classify(tags map[string]string) Classification {
	out := Classification{Allowed: true}

	// An explicit horse prohibition always excludes the way.
	if tags["horse"] == "no" {
		out.Allowed = false
		return out
	}

	_, horseOK := c.horseOK[tags["horse"]]

	// Restricted general access can be overridden by an explicit horse
	// permission, which is how gated bridleways are commonly tagged.
	if _, deny := c.denied[tags["access"]]; deny && !horseOK {
		out.Allowed = false
		return out
	}

	// Driveways are excluded from the service category.
	if tags["highway"] == "service" && tags["service"] == "driveway" {
		out.Allowed = false
		return out
	}

	// Ways outside the profiled highway categories (motorways, footways,
	// cycleways) are only ridable when tagged with a horse permission.
	wayType, known := c.wayTypes[tags["highway"]]
	if !known && !horseOK {
		out.Allowed = false
		return out
	}

	out.WayType = wayType
	out.Surface = c.surfaces[tags["surface"]]

	switch tags["oneway"] {
	case "yes", "true", "1":
		out.OneWay = true
	}

	return out
}
