// Package roi defines the rectangular regions of a frame in which fly
// activity is counted, and their JSON save format.
package roi

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"strings"
)

var (
	// ErrNotRegionFile is returned when a JSON file is not a saved ROI file,
	// typically because a calibration file was selected by mistake.
	ErrNotRegionFile = errors.New("file does not contain ROI coordinates")
	// ErrEmptyRegion is returned when a region has no area inside the frame.
	ErrEmptyRegion = errors.New("region is empty")
)

// DefaultNames are the four arenas of the standard rig.
var DefaultNames = []string{"roi1", "roi2", "roi3", "roi4"}

// Region is a named rectangle given by the two corners the user dragged between.
type Region struct {
	Name  string      `json:"name"`
	Start image.Point `json:"start"`
	End   image.Point `json:"end"`
}

// Rect returns the canonical rectangle, whichever direction the corners were set in.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Start.X, r.Start.Y, r.End.X, r.End.Y)
}

// Clamp intersects the region with the frame bounds.
func (r Region) Clamp(bounds image.Rectangle) (image.Rectangle, error) {
	rect := r.Rect().Intersect(bounds)
	if rect.Empty() {
		return image.Rectangle{}, fmt.Errorf("%s: %w", r.Name, ErrEmptyRegion)
	}
	return rect, nil
}

// LineMode selects the orientation of a beam-crossing line.
type LineMode string

const (
	Vertical   LineMode = "vertical"
	Horizontal LineMode = "horizontal"
)

// NewLine builds a thin region spanning the whole frame, centred on the clicked point.
func NewLine(name string, mode LineMode, at image.Point, width int, bounds image.Rectangle) (Region, error) {
	half := float64(width) / 2
	switch mode {
	case Vertical:
		offset := float64(at.X) - half
		return Region{
			Name:  name,
			Start: image.Pt(int(offset), bounds.Min.Y),
			End:   image.Pt(int(offset+float64(width)), bounds.Max.Y),
		}, nil
	case Horizontal:
		offset := float64(at.Y) - half
		return Region{
			Name:  name,
			Start: image.Pt(bounds.Min.X, int(offset)),
			End:   image.Pt(bounds.Max.X, int(offset+float64(width))),
		}, nil
	default:
		return Region{}, fmt.Errorf("unknown line mode %q", mode)
	}
}

// Set is an ordered collection of regions.
type Set []Region

// Names returns region names in set order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for _, r := range s {
		names = append(names, r.Name)
	}
	return names
}

// Get looks a region up by name.
func (s Set) Get(name string) (Region, bool) {
	for _, r := range s {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// NextName returns the first unused default arena name, then roi5, roi6, ...
func (s Set) NextName() string {
	for _, name := range DefaultNames {
		if _, ok := s.Get(name); !ok {
			return name
		}
	}
	for n := len(DefaultNames) + 1; ; n++ {
		name := fmt.Sprintf("roi%d", n)
		if _, ok := s.Get(name); !ok {
			return name
		}
	}
}

// With returns a copy of the set with r added, replacing a region of the same name.
func (s Set) With(r Region) Set {
	out := make(Set, 0, len(s)+1)
	for _, existing := range s {
		if existing.Name != r.Name {
			out = append(out, existing)
		}
	}
	out = append(out, r)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate requires at least one region, unique names and non-empty rectangles.
func (s Set) Validate() error {
	if len(s) == 0 {
		return errors.New("no regions defined")
	}
	seen := make(map[string]bool, len(s))
	for _, r := range s {
		if r.Name == "" {
			return errors.New("region without a name")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate region %q", r.Name)
		}
		seen[r.Name] = true
		if r.Rect().Empty() {
			return fmt.Errorf("%s: %w", r.Name, ErrEmptyRegion)
		}
	}
	return nil
}

// PlotOrder returns the arena names in the order of a row-major 2x2 panel grid.
// Arenas are numbered down the columns on the rig (1,3 / 2,4), so four sorted
// arenas are permuted [0, 2, 1, 3]. Any other number is returned sorted.
func PlotOrder(s Set) []string {
	var keys []string
	for _, name := range s.Names() {
		if strings.Contains(name, "roi") {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	if len(keys) != 4 {
		return keys
	}
	return []string{keys[0], keys[2], keys[1], keys[3]}
}

// MarshalJSON writes {"name": [[x0, y0], [x1, y1]], ...}.
func (s Set) MarshalJSON() ([]byte, error) {
	out := make(map[string][2][2]int, len(s))
	for _, r := range s {
		out[r.Name] = [2][2]int{{r.Start.X, r.Start.Y}, {r.End.X, r.End.Y}}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the saved format; names are sorted.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return ErrNotRegionFile
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	set := make(Set, 0, len(names))
	for _, name := range names {
		var corners [][]float64
		if err := json.Unmarshal(raw[name], &corners); err != nil {
			return fmt.Errorf("%s: %w", name, ErrNotRegionFile)
		}
		if len(corners) != 2 || len(corners[0]) != 2 || len(corners[1]) != 2 {
			return fmt.Errorf("%s: %w", name, ErrNotRegionFile)
		}
		set = append(set, Region{
			Name:  name,
			Start: image.Pt(int(math.Trunc(corners[0][0])), int(math.Trunc(corners[0][1]))),
			End:   image.Pt(int(math.Trunc(corners[1][0])), int(math.Trunc(corners[1][1]))),
		})
	}
	*s = set
	return nil
}

// Load reads a saved ROI file.
func Load(path string) (Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ROI file %s: %w", path, err)
	}
	var set Set
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("failed to load ROI file %s: %w", path, err)
	}
	return set, nil
}

// Save overwrites path with the set.
func Save(path string, set Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode ROIs: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write ROI file %s: %w", path, err)
	}
	return nil
}
