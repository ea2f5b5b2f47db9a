// Package event provides passage event management: the immutable record
// emitted once per counted vehicle, its persistence, and fan-out to
// subscribers.
package event

import (
	"encoding/json"
	"time"

	"github.com/trafficlens/trafficlens/internal/geometry"
)

// PassageEvent is emitted exactly once per counted vehicle per side.
// Ownership transfers to the sink on creation; the counter holds no
// reference afterward.
type PassageEvent struct {
	ID                string          `json:"id"`
	TS                time.Time       `json:"ts"`
	Side              string          `json:"side"`
	Lane              int             `json:"lane"`
	Direction         string          `json:"direction"`
	VehicleType       string          `json:"vehicle_type"`
	Color             string          `json:"color"`
	MakeModel         string          `json:"make_model"`
	MakeModelConf     float64         `json:"make_model_conf"`
	SnapshotPath      string          `json:"snapshot_path,omitempty"`
	PlateNumber       string          `json:"plate_number"`
	PlateSnapshotPath string          `json:"plate_snapshot_path,omitempty"`
	BBox              geometry.Box    `json:"bbox"`
	TrackID           int64           `json:"track_id"`
	SourceMeta        json.RawMessage `json:"source_meta,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ListOptions represents filters for querying passage events.
type ListOptions struct {
	Side        string    `json:"side,omitempty"`
	Lane        int       `json:"lane,omitempty"`
	VehicleType string    `json:"vehicle_type,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Limit       int       `json:"limit,omitempty"`
	Offset      int       `json:"offset,omitempty"`
}

// Stats aggregates passage counts since a point in time.
type Stats struct {
	Total   int            `json:"total"`
	BySide  map[string]int `json:"by_side"`
	ByLane  map[int]int    `json:"by_lane"`
	ByClass map[string]int `json:"by_class"`
}
