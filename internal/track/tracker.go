// Package track assigns persistent identities to per-frame vehicle
// detections. Matching combines bounding-box IoU with distance to a
// velocity-predicted position; assignment is greedy in detection input
// order, which keeps results deterministic but not globally optimal.
package track

import (
	"log/slog"
	"sort"

	"github.com/trafficlens/trafficlens/internal/detect"
	"github.com/trafficlens/trafficlens/internal/geometry"
)

// HistoryCap is the maximum number of centroids retained per track.
const HistoryCap = 10

// TrackedDetection is a detection annotated with its resolved identity.
type TrackedDetection struct {
	detect.Detection
	TrackID int64 `json:"track_id"`
}

// Track holds the mutable state of one tracked vehicle. The identity never
// changes; box and class are replaced on every successful match.
type Track struct {
	ID            int64
	Box           geometry.Box
	Class         detect.Class
	History       []geometry.Point
	Velocity      geometry.Point
	HasVelocity   bool
	LastSeenFrame int64
}

// appendHistory records a centroid, evicting the oldest beyond the cap,
// and recomputes velocity from the two most recent samples.
func (t *Track) appendHistory(p geometry.Point) {
	t.History = append(t.History, p)
	if len(t.History) > HistoryCap {
		t.History = t.History[len(t.History)-HistoryCap:]
	}

	if len(t.History) >= 2 {
		t.Velocity = t.History[len(t.History)-1].Sub(t.History[len(t.History)-2])
		t.HasVelocity = true
	} else {
		t.Velocity = geometry.Point{}
		t.HasVelocity = false
	}
}

// predict returns the expected centroid for the next frame.
func (t *Track) predict() geometry.Point {
	c := t.Box.Centroid()
	if !t.HasVelocity {
		return c
	}
	return c.Add(t.Velocity)
}

// Config holds tracker thresholds.
type Config struct {
	// MaxDisappeared is the number of frames a track may go unmatched
	// before it is expired.
	MaxDisappeared int64
	// IoUThreshold is the minimum IoU for an overlap-based match.
	IoUThreshold float64
	// DistanceThreshold is the maximum pixel distance to the predicted
	// position for a motion-based match.
	DistanceThreshold float64
}

// DefaultConfig returns the default tracker thresholds.
func DefaultConfig() Config {
	return Config{
		MaxDisappeared:    10,
		IoUThreshold:      0.3,
		DistanceThreshold: 100,
	}
}

// Tracker maintains the arena of active tracks. It is not safe for
// concurrent use; Update must be called once per frame from the single
// pipeline goroutine.
type Tracker struct {
	cfg        Config
	nextID     int64
	tracks     map[int64]*Track
	frameCount int64
	logger     *slog.Logger
}

// New creates a tracker with the given thresholds.
func New(cfg Config) *Tracker {
	if cfg.MaxDisappeared <= 0 {
		cfg.MaxDisappeared = 10
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = 0.3
	}
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = 100
	}

	return &Tracker{
		cfg:    cfg,
		nextID: 1,
		tracks: make(map[int64]*Track),
		logger: slog.Default().With("component", "tracker"),
	}
}

// ActiveCount returns the number of live tracks.
func (tr *Tracker) ActiveCount() int {
	return len(tr.tracks)
}

// Get returns a track by identity.
func (tr *Tracker) Get(id int64) (*Track, bool) {
	t, ok := tr.tracks[id]
	return t, ok
}

// Update consumes one frame's detections and returns them annotated with
// persistent identities, preserving input order, together with the
// identities expired during this call. Identities are never reused.
func (tr *Tracker) Update(detections []detect.Detection) (tracked []TrackedDetection, expired []int64) {
	tr.frameCount++

	for id, t := range tr.tracks {
		if tr.frameCount-t.LastSeenFrame > tr.cfg.MaxDisappeared {
			delete(tr.tracks, id)
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	// No detections: surviving tracks accumulate missed frames.
	if len(detections) == 0 {
		return nil, expired
	}

	// Sample every surviving track's position before matching so velocity
	// reflects the most recent observed motion.
	ids := tr.sortedIDs()
	for _, id := range ids {
		t := tr.tracks[id]
		t.appendHistory(t.Box.Centroid())
	}

	matched := make(map[int64]bool, len(tr.tracks))
	tracked = make([]TrackedDetection, 0, len(detections))

	for _, det := range detections {
		centroid := det.Box.Centroid()

		bestScore := -1.0
		var bestID int64 = -1

		// Candidate tracks are scanned in ascending identity order so
		// ties resolve the same way on every run.
		for _, id := range ids {
			if matched[id] {
				continue
			}
			t := tr.tracks[id]

			iou := det.Box.IoU(t.Box)
			iouScore := 0.0
			if iou > tr.cfg.IoUThreshold {
				iouScore = iou
			}

			distance := centroid.Distance(t.predict())
			distanceScore := 0.0
			if distance < tr.cfg.DistanceThreshold {
				distanceScore = 1.0 - distance/tr.cfg.DistanceThreshold
			}

			// Prefer IoU when boxes overlap well, fall back to the
			// motion-predicted distance otherwise.
			var score float64
			if iouScore > 0.3 {
				score = iouScore * 1.5
			} else {
				score = distanceScore
			}

			if score > bestScore && (iouScore > tr.cfg.IoUThreshold || distanceScore > 0.3) {
				bestScore = score
				bestID = id
			}
		}

		if bestID >= 0 {
			t := tr.tracks[bestID]
			t.Box = det.Box
			t.Class = det.Class
			t.LastSeenFrame = tr.frameCount
			t.appendHistory(centroid)
			matched[bestID] = true

			tracked = append(tracked, TrackedDetection{Detection: det, TrackID: bestID})
			tr.logger.Debug("Matched detection", "track_id", bestID, "score", bestScore)
			continue
		}

		id := tr.nextID
		tr.nextID++
		tr.tracks[id] = &Track{
			ID:            id,
			Box:           det.Box,
			Class:         det.Class,
			History:       []geometry.Point{centroid},
			LastSeenFrame: tr.frameCount,
		}
		tracked = append(tracked, TrackedDetection{Detection: det, TrackID: id})
		tr.logger.Debug("Created new track", "track_id", id, "class", det.Class)
	}

	return tracked, expired
}

func (tr *Tracker) sortedIDs() []int64 {
	ids := make([]int64, 0, len(tr.tracks))
	for id := range tr.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
