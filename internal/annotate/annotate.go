// Package annotate holds the per-vehicle annotator boundary: color
// classification, make/model classification, and plate extraction and
// recognition. Annotators are invoked once per counted vehicle and must
// never abort event emission; callers substitute documented placeholder
// values on any failure.
package annotate

import (
	"context"
	"image"

	"github.com/trafficlens/trafficlens/internal/geometry"
)

// Placeholder values substituted when an annotator fails or a region is
// degenerate.
const (
	UnknownColor    = "unknown"
	UnknownBrand    = "Unknown"
	DefaultBodyType = "Vehicle"
	DefaultMakeConf = 0.2
	UnreadablePlate = "XXXXX"
)

// MakeModel is the fixed-shape make/model classification result.
type MakeModel struct {
	Brand      string  `json:"brand"`
	BodyType   string  `json:"body_type"`
	Confidence float64 `json:"confidence"`
}

// FallbackMakeModel returns the placeholder classification.
func FallbackMakeModel() MakeModel {
	return MakeModel{Brand: UnknownBrand, BodyType: DefaultBodyType, Confidence: DefaultMakeConf}
}

// ColorClassifier labels the dominant color of a vehicle region.
type ColorClassifier interface {
	ClassifyColor(frame image.Image, box geometry.Box) string
}

// MakeModelClassifier identifies brand and body type for a vehicle region.
type MakeModelClassifier interface {
	ClassifyMakeModel(ctx context.Context, frame image.Image, box geometry.Box) (MakeModel, error)
}

// PlateReader extracts and recognizes a license plate. ExtractRegion may
// return nil when no plausible plate region exists; Recognize returns the
// sentinel UnreadablePlate rather than failing.
type PlateReader interface {
	ExtractRegion(frame image.Image, box geometry.Box) image.Image
	Recognize(ctx context.Context, plate image.Image) string
}

// Annotators bundles the three per-vehicle annotators.
type Annotators struct {
	Color     ColorClassifier
	MakeModel MakeModelClassifier
	Plate     PlateReader
}

// Defaults returns the built-in annotators: HSV color bucketing, the
// placeholder make/model classifier, and the heuristic plate reader.
func Defaults() Annotators {
	return Annotators{
		Color:     &HSVColorClassifier{},
		MakeModel: &StaticMakeModelClassifier{},
		Plate:     &HeuristicPlateReader{},
	}
}
