// Package count turns tracked detections into deduplicated passage
// events. The counter owns per-track counting state keyed by track
// identity and evicts it in the same step the tracker expires a track.
package count

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/trafficlens/trafficlens/internal/annotate"
	"github.com/trafficlens/trafficlens/internal/event"
	"github.com/trafficlens/trafficlens/internal/geometry"
	"github.com/trafficlens/trafficlens/internal/ingest"
	"github.com/trafficlens/trafficlens/internal/roi"
	"github.com/trafficlens/trafficlens/internal/snapshot"
	"github.com/trafficlens/trafficlens/internal/track"
)

// historyCap bounds the counter's own centroid history per track.
const historyCap = 10

// snapshotAreaRatio triggers the representative snapshot the first time
// the current box area reaches this fraction of the running maximum.
const snapshotAreaRatio = 0.95

// minHistoryForCount filters single-frame flicker: a track needs at least
// this many centroid samples before it may be counted.
const minHistoryForCount = 2

// trackState is the counting state for one track identity.
type trackState struct {
	countedSide   roi.Side // empty until first counted
	maxArea       float64
	snapshotTaken bool
	snapshotPath  string
	history       []geometry.Point
}

func (ts *trackState) appendHistory(p geometry.Point) {
	ts.history = append(ts.history, p)
	if len(ts.history) > historyCap {
		ts.history = ts.history[len(ts.history)-historyCap:]
	}
}

// Counter decides side and lane assignment for tracked detections and
// emits exactly one passage event per track per side.
type Counter struct {
	model      *roi.Model
	annotators annotate.Annotators
	snapshots  *snapshot.Store
	logger     *slog.Logger

	states map[int64]*trackState
}

// NewCounter creates a counter over an ROI model. The snapshot store may
// be nil; events are then emitted without snapshot paths.
func NewCounter(model *roi.Model, annotators annotate.Annotators, snapshots *snapshot.Store) *Counter {
	return &Counter{
		model:      model,
		annotators: annotators,
		snapshots:  snapshots,
		logger:     slog.Default().With("component", "counter"),
		states:     make(map[int64]*trackState),
	}
}

// ProcessFrame consumes one frame's tracked detections and returns the
// passage events counted on this frame, in detection order. Persistence
// and broadcast belong to the caller.
func (c *Counter) ProcessFrame(ctx context.Context, frame *ingest.Frame, tracked []track.TrackedDetection) []*event.PassageEvent {
	var events []*event.PassageEvent

	for _, td := range tracked {
		state, ok := c.states[td.TrackID]
		if !ok {
			state = &trackState{}
			c.states[td.TrackID] = state
		}

		centroid := td.Box.Centroid()
		state.appendHistory(centroid)

		side := c.assignSide(centroid, frame.Width)
		inROI := c.model.Region(side).Contains(centroid)
		c.maybeSnapshot(state, frame, td, inROI)

		if !c.shouldCount(state, side, inROI) {
			continue
		}

		state.countedSide = side
		events = append(events, c.buildEvent(ctx, frame, td, state, side, centroid))
	}

	return events
}

// Evict drops counting state for expired track identities. Called by the
// pipeline with the tracker's expired list each frame.
func (c *Counter) Evict(trackIDs []int64) {
	for _, id := range trackIDs {
		delete(c.states, id)
	}
}

// ActiveStates reports how many track identities currently hold counting
// state.
func (c *Counter) ActiveStates() int {
	return len(c.states)
}

// assignSide picks the side by horizontal frame position, then switches
// when the centroid is outside the assigned ROI but inside the other.
func (c *Counter) assignSide(centroid geometry.Point, frameWidth int) roi.Side {
	side := roi.SideRight
	if centroid.X < float64(frameWidth)/2 {
		side = roi.SideLeft
	}

	if !c.model.Region(side).Contains(centroid) && c.model.Region(side.Other()).Contains(centroid) {
		side = side.Other()
	}
	return side
}

// shouldCount applies the count gate: not yet counted on this side, inside
// the side's ROI, and enough history to rule out single-frame flicker.
func (c *Counter) shouldCount(state *trackState, side roi.Side, inROI bool) bool {
	if state.countedSide == side {
		return false
	}
	if !inROI {
		return false
	}
	return len(state.history) >= minHistoryForCount
}

// maybeSnapshot captures one representative image per track, the first
// time the box area reaches snapshotAreaRatio of the running maximum.
// The running maximum follows every detection; the image itself is only
// written while the track sits inside a counting ROI.
func (c *Counter) maybeSnapshot(state *trackState, frame *ingest.Frame, td track.TrackedDetection, inROI bool) {
	area := td.Box.Area()
	if area > state.maxArea {
		state.maxArea = area
	}
	if !inROI || state.snapshotTaken || c.snapshots == nil || state.maxArea <= 0 {
		return
	}
	if area < snapshotAreaRatio*state.maxArea {
		return
	}

	path, err := c.snapshots.Save(frame.Image, td.Box, td.TrackID)
	if err != nil {
		c.logger.Warn("Failed to save snapshot", "track_id", td.TrackID, "error", err)
		return
	}
	state.snapshotTaken = true
	state.snapshotPath = path
}

func (c *Counter) buildEvent(ctx context.Context, frame *ingest.Frame, td track.TrackedDetection, state *trackState, side roi.Side, centroid geometry.Point) *event.PassageEvent {
	lane := c.model.LaneFor(centroid, side)

	color := annotate.UnknownColor
	if c.annotators.Color != nil {
		color = c.annotators.Color.ClassifyColor(frame.Image, td.Box)
	}

	makeModel := annotate.FallbackMakeModel()
	if c.annotators.MakeModel != nil {
		mm, err := c.annotators.MakeModel.ClassifyMakeModel(ctx, frame.Image, td.Box)
		if err != nil {
			c.logger.Warn("Make/model classification failed", "track_id", td.TrackID, "error", err)
		} else {
			makeModel = mm
		}
	}

	plateNumber := annotate.UnreadablePlate
	var platePath string
	if c.annotators.Plate != nil {
		if region := c.annotators.Plate.ExtractRegion(frame.Image, td.Box); region != nil {
			plateNumber = c.annotators.Plate.Recognize(ctx, region)
			if c.snapshots != nil {
				path, err := c.snapshots.SavePlate(region, td.TrackID)
				if err != nil {
					c.logger.Warn("Failed to save plate snapshot", "track_id", td.TrackID, "error", err)
				} else {
					platePath = path
				}
			}
		}
	}

	meta, _ := json.Marshal(map[string]float64{"confidence": td.Confidence})

	ev := &event.PassageEvent{
		TS:                frame.Timestamp,
		Side:              string(side),
		Lane:              lane,
		Direction:         c.model.Direction(side),
		VehicleType:       string(td.Class),
		Color:             color,
		MakeModel:         fmt.Sprintf("%s - %s", makeModel.Brand, makeModel.BodyType),
		MakeModelConf:     makeModel.Confidence,
		SnapshotPath:      state.snapshotPath,
		PlateNumber:       plateNumber,
		PlateSnapshotPath: platePath,
		BBox:              td.Box,
		TrackID:           td.TrackID,
		SourceMeta:        meta,
	}

	c.logger.Debug("Vehicle counted",
		"track_id", td.TrackID, "side", side, "lane", lane, "type", td.Class)
	return ev
}

// CrossedLine reports whether any consecutive pair of the track's history
// intersects the side's counting line in the required direction. Counting
// itself is gated on ROI membership; the line remains available for
// direction validation.
func (c *Counter) CrossedLine(trackID int64, side roi.Side) bool {
	state, ok := c.states[trackID]
	if !ok || len(state.history) < 2 {
		return false
	}

	line := c.model.Line(side)
	for i := 0; i < len(state.history)-1; i++ {
		p1, p2 := state.history[i], state.history[i+1]
		if _, crossed := geometry.SegmentIntersection(p1, p2, line.Start, line.End); !crossed {
			continue
		}

		// Toward the camera is upward in image coordinates, y decreasing.
		dy := p2.Y - p1.Y
		switch line.Direction {
		case "toward_camera":
			if dy < 0 {
				return true
			}
		case "away_from_camera":
			if dy > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}
