// Package detect defines the detector boundary: per-frame vehicle
// detections and the HTTP client for the external detection service.
package detect

import (
	"context"

	"github.com/trafficlens/trafficlens/internal/geometry"
	"github.com/trafficlens/trafficlens/internal/ingest"
)

// Class represents a detected vehicle type.
type Class string

const (
	ClassCar        Class = "car"
	ClassTruck      Class = "truck"
	ClassBus        Class = "bus"
	ClassMotorcycle Class = "motorcycle"
)

// Valid reports whether the class is one of the known vehicle types.
func (c Class) Valid() bool {
	switch c {
	case ClassCar, ClassTruck, ClassBus, ClassMotorcycle:
		return true
	}
	return false
}

// Detection is a single vehicle detection for one frame. Detections are
// ephemeral; the tracker assigns them persistent identities.
type Detection struct {
	Box        geometry.Box `json:"bbox"`
	Class      Class        `json:"class"`
	Confidence float64      `json:"confidence"`
}

// Detector produces raw per-frame detections. Implemented by Client for
// the external detection service and by test fakes.
type Detector interface {
	Detect(ctx context.Context, frame *ingest.Frame) ([]Detection, error)
}
