package track

import (
	"testing"

	"github.com/trafficlens/trafficlens/internal/detect"
	"github.com/trafficlens/trafficlens/internal/geometry"
)

func det(x1, y1, x2, y2 int) detect.Detection {
	return detect.Detection{
		Box:        geometry.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Class:      detect.ClassCar,
		Confidence: 0.9,
	}
}

func TestUpdateAssignsDistinctIdentities(t *testing.T) {
	tr := New(DefaultConfig())

	tracked, expired := tr.Update([]detect.Detection{
		det(0, 0, 50, 50),
		det(200, 0, 250, 50),
		det(400, 0, 450, 50),
	})

	if len(expired) != 0 {
		t.Fatalf("expired = %v, want none", expired)
	}
	if len(tracked) != 3 {
		t.Fatalf("len(tracked) = %d, want 3", len(tracked))
	}

	seen := make(map[int64]bool)
	for _, td := range tracked {
		if seen[td.TrackID] {
			t.Errorf("duplicate track id %d", td.TrackID)
		}
		seen[td.TrackID] = true
	}
}

func TestUpdateRetainsIdentityOnOverlap(t *testing.T) {
	tr := New(DefaultConfig())

	first, _ := tr.Update([]detect.Detection{det(100, 100, 200, 200)})
	id := first[0].TrackID

	// Shift by a few pixels; IoU stays well above the threshold.
	second, _ := tr.Update([]detect.Detection{det(105, 102, 205, 202)})
	if second[0].TrackID != id {
		t.Errorf("track id = %d, want %d", second[0].TrackID, id)
	}

	third, _ := tr.Update([]detect.Detection{det(110, 104, 210, 204)})
	if third[0].TrackID != id {
		t.Errorf("track id = %d, want %d", third[0].TrackID, id)
	}
}

func TestUpdateNewIdentityOnLargeJump(t *testing.T) {
	tr := New(DefaultConfig())

	first, _ := tr.Update([]detect.Detection{det(0, 0, 50, 50)})
	id := first[0].TrackID

	// No overlap and far beyond the distance threshold.
	second, _ := tr.Update([]detect.Detection{det(400, 400, 450, 450)})
	if second[0].TrackID == id {
		t.Errorf("distant detection inherited track %d, want a new identity", id)
	}
}

func TestTrackExpiresAfterDisappearance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDisappeared = 3
	tr := New(cfg)

	first, _ := tr.Update([]detect.Detection{det(100, 100, 200, 200)})
	id := first[0].TrackID

	// Track accumulates missed frames; empty input never force-expires early.
	var expired []int64
	for i := 0; i < 3; i++ {
		_, expired = tr.Update(nil)
		if len(expired) != 0 {
			t.Fatalf("track expired after %d missed frames, tolerance is 3", i+1)
		}
	}

	_, expired = tr.Update(nil)
	if len(expired) != 1 || expired[0] != id {
		t.Fatalf("expired = %v, want [%d]", expired, id)
	}

	// An identical-looking box must get a fresh identity.
	again, _ := tr.Update([]detect.Detection{det(100, 100, 200, 200)})
	if again[0].TrackID == id {
		t.Errorf("expired identity %d was reassigned", id)
	}
}

func TestIdentitiesNeverReused(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDisappeared = 1
	tr := New(cfg)

	seen := make(map[int64]bool)
	for i := 0; i < 5; i++ {
		tracked, _ := tr.Update([]detect.Detection{det(i*100, 400, i*100+40, 440)})
		for _, td := range tracked {
			if seen[td.TrackID] {
				t.Fatalf("identity %d reused", td.TrackID)
			}
			seen[td.TrackID] = true
		}
		// Let the track expire between frames.
		tr.Update(nil)
		tr.Update(nil)
	}
}

func TestVelocityFromHistory(t *testing.T) {
	tr := New(DefaultConfig())

	tr.Update([]detect.Detection{det(100, 100, 200, 200)}) // centroid (150,150)
	tracked, _ := tr.Update([]detect.Detection{det(110, 100, 210, 200)})

	trk, ok := tr.Get(tracked[0].TrackID)
	if !ok {
		t.Fatal("track not found")
	}
	if !trk.HasVelocity {
		t.Fatal("velocity undefined after two samples")
	}
	if trk.Velocity.X != 10 || trk.Velocity.Y != 0 {
		t.Errorf("velocity = %v, want {10 0}", trk.Velocity)
	}
}

func TestHistoryCapped(t *testing.T) {
	tr := New(DefaultConfig())

	for i := 0; i < 30; i++ {
		tr.Update([]detect.Detection{det(100+i, 100, 200+i, 200)})
	}

	var trk *Track
	for _, candidate := range []int64{1, 2} {
		if got, ok := tr.Get(candidate); ok {
			trk = got
			break
		}
	}
	if trk == nil {
		t.Fatal("track not found")
	}
	if len(trk.History) > HistoryCap {
		t.Errorf("history length = %d, cap is %d", len(trk.History), HistoryCap)
	}
}

func TestGreedyAssignmentIsDeterministic(t *testing.T) {
	// Two identical runs must produce identical assignments.
	run := func() []int64 {
		tr := New(DefaultConfig())
		tr.Update([]detect.Detection{det(0, 0, 100, 100), det(90, 0, 190, 100)})
		tracked, _ := tr.Update([]detect.Detection{det(45, 0, 145, 100), det(10, 0, 110, 100)})

		ids := make([]int64, len(tracked))
		for i, td := range tracked {
			ids[i] = td.TrackID
		}
		return ids
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("assignment differs at %d: %v vs %v", i, a, b)
		}
	}
}
