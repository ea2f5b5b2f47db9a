// Package roi holds the per-run region-of-interest model: two monitored
// sides, each with a bounding polygon, a counting line, and lane
// sub-polygons. The model is loaded once and read-only afterward.
package roi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/trafficlens/trafficlens/internal/geometry"
)

// Side identifies one of the two monitored traffic sides.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// Line is a counting line with its required crossing direction.
type Line struct {
	Start     geometry.Point `json:"start"`
	End       geometry.Point `json:"end"`
	Direction string         `json:"direction"`
}

// Lane is a numbered sub-polygon of a side.
type Lane struct {
	ID      int              `json:"id"`
	Polygon geometry.Polygon `json:"polygon"`
}

// SideConfig describes one monitored side.
type SideConfig struct {
	Name         string           `json:"name"`
	Direction    string           `json:"direction"`
	Region       geometry.Polygon `json:"-"`
	CountingLine Line             `json:"counting_line"`
	Lanes        []Lane           `json:"lanes"`
}

// Model is the immutable two-side configuration.
type Model struct {
	sides map[Side]*SideConfig
}

// rawSide mirrors the JSON document shape.
type rawSide struct {
	Name string `json:"name"`
	Dir  string `json:"direction"`
	ROI  struct {
		Polygon [][]float64 `json:"polygon"`
	} `json:"roi"`
	CountingLine struct {
		Start     []float64 `json:"start"`
		End       []float64 `json:"end"`
		Direction string    `json:"direction"`
	} `json:"counting_line"`
	Lanes []struct {
		ID      int         `json:"id"`
		Polygon [][]float64 `json:"polygon"`
	} `json:"lanes"`
}

type rawConfig struct {
	LeftSide  *rawSide `json:"left_side"`
	RightSide *rawSide `json:"right_side"`
}

// Load reads the ROI configuration from path. A missing or malformed file
// is recovered locally by substituting the built-in default; it is logged
// and never fatal.
func Load(path string) *Model {
	logger := slog.Default().With("component", "roi")

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("ROI config not found, using defaults", "path", path, "error", err)
		return Default()
	}

	model, err := Parse(data)
	if err != nil {
		logger.Warn("ROI config malformed, using defaults", "path", path, "error", err)
		return Default()
	}

	logger.Info("ROI config loaded", "path", path)
	return model
}

// Parse decodes an ROI document.
func Parse(data []byte) (*Model, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ROI config: %w", err)
	}
	if raw.LeftSide == nil || raw.RightSide == nil {
		return nil, fmt.Errorf("ROI config must define left_side and right_side")
	}

	left, err := buildSide(raw.LeftSide)
	if err != nil {
		return nil, fmt.Errorf("left_side: %w", err)
	}
	right, err := buildSide(raw.RightSide)
	if err != nil {
		return nil, fmt.Errorf("right_side: %w", err)
	}

	return &Model{sides: map[Side]*SideConfig{
		SideLeft:  left,
		SideRight: right,
	}}, nil
}

func buildSide(raw *rawSide) (*SideConfig, error) {
	region, err := toPolygon(raw.ROI.Polygon)
	if err != nil {
		return nil, fmt.Errorf("roi polygon: %w", err)
	}

	start, err := toPoint(raw.CountingLine.Start)
	if err != nil {
		return nil, fmt.Errorf("counting line start: %w", err)
	}
	end, err := toPoint(raw.CountingLine.End)
	if err != nil {
		return nil, fmt.Errorf("counting line end: %w", err)
	}

	side := &SideConfig{
		Name:      raw.Name,
		Direction: raw.Dir,
		Region:    region,
		CountingLine: Line{
			Start:     start,
			End:       end,
			Direction: raw.CountingLine.Direction,
		},
	}

	for _, l := range raw.Lanes {
		poly, err := toPolygon(l.Polygon)
		if err != nil {
			return nil, fmt.Errorf("lane %d polygon: %w", l.ID, err)
		}
		side.Lanes = append(side.Lanes, Lane{ID: l.ID, Polygon: poly})
	}

	return side, nil
}

func toPolygon(points [][]float64) (geometry.Polygon, error) {
	if len(points) < 3 {
		return nil, fmt.Errorf("polygon needs at least 3 vertices, got %d", len(points))
	}
	poly := make(geometry.Polygon, len(points))
	for i, p := range points {
		pt, err := toPoint(p)
		if err != nil {
			return nil, err
		}
		poly[i] = pt
	}
	return poly, nil
}

func toPoint(p []float64) (geometry.Point, error) {
	if len(p) != 2 {
		return geometry.Point{}, fmt.Errorf("point needs 2 coordinates, got %d", len(p))
	}
	return geometry.Point{X: p[0], Y: p[1]}, nil
}

// Default returns the built-in model covering a 640x480 frame split into
// three equal vertical lanes per side.
func Default() *Model {
	frame := geometry.Polygon{{X: 0, Y: 0}, {X: 640, Y: 0}, {X: 640, Y: 480}, {X: 0, Y: 480}}
	lanes := []Lane{
		{ID: 1, Polygon: geometry.Polygon{{X: 0, Y: 0}, {X: 213, Y: 0}, {X: 213, Y: 480}, {X: 0, Y: 480}}},
		{ID: 2, Polygon: geometry.Polygon{{X: 213, Y: 0}, {X: 427, Y: 0}, {X: 427, Y: 480}, {X: 213, Y: 480}}},
		{ID: 3, Polygon: geometry.Polygon{{X: 427, Y: 0}, {X: 640, Y: 0}, {X: 640, Y: 480}, {X: 427, Y: 480}}},
	}

	return &Model{sides: map[Side]*SideConfig{
		SideLeft: {
			Name:      "LEFT SIDE (TOWARD CAMERA)",
			Direction: "toward_camera",
			Region:    frame,
			CountingLine: Line{
				Start:     geometry.Point{X: 100, Y: 240},
				End:       geometry.Point{X: 540, Y: 240},
				Direction: "toward_camera",
			},
			Lanes: lanes,
		},
		SideRight: {
			Name:      "RIGHT SIDE (AWAY FROM CAMERA)",
			Direction: "away_from_camera",
			Region:    frame,
			CountingLine: Line{
				Start:     geometry.Point{X: 100, Y: 240},
				End:       geometry.Point{X: 540, Y: 240},
				Direction: "away_from_camera",
			},
			Lanes: lanes,
		},
	}}
}

// Region returns the bounding polygon for a side.
func (m *Model) Region(side Side) geometry.Polygon {
	return m.sides[side].Region
}

// Line returns the counting line for a side.
func (m *Model) Line(side Side) Line {
	return m.sides[side].CountingLine
}

// Direction returns the canonical traffic direction for a side.
func (m *Model) Direction(side Side) string {
	return m.sides[side].Direction
}

// Name returns the display name for a side.
func (m *Model) Name(side Side) string {
	return m.sides[side].Name
}

// LaneFor returns the id of the first lane polygon containing the
// centroid, or the default lane 1 when no lane matches.
func (m *Model) LaneFor(centroid geometry.Point, side Side) int {
	for _, lane := range m.sides[side].Lanes {
		if lane.Polygon.Contains(centroid) {
			return lane.ID
		}
	}
	return 1
}
