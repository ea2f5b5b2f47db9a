package annotate

import (
	"context"
	"image"
	"image/draw"

	"github.com/trafficlens/trafficlens/internal/geometry"
)

// HeuristicPlateReader extracts a plausible plate region from the lower
// portion of the vehicle box. Recognition is not implemented locally, so
// Recognize always returns the UnreadablePlate sentinel.
type HeuristicPlateReader struct{}

// Plate regions sit in the lower part of the vehicle, roughly centered,
// with a wide aspect ratio.
const (
	plateRegionTop   = 0.70
	plateRegionLeft  = 0.20
	plateRegionRight = 0.80
	plateMinAspect   = 1.8
	plateMaxAspect   = 5.5
)

// ExtractRegion crops the candidate plate region, or returns nil when the
// vehicle box cannot hold a plausible plate.
func (p *HeuristicPlateReader) ExtractRegion(frame image.Image, box geometry.Box) image.Image {
	if frame == nil {
		return nil
	}

	bounds := frame.Bounds()
	clamped := box.Clamp(bounds.Dx(), bounds.Dy())
	w := clamped.X2 - clamped.X1
	h := clamped.Y2 - clamped.Y1
	if w < 20 || h < 20 {
		return nil
	}

	region := geometry.Box{
		X1: clamped.X1 + int(float64(w)*plateRegionLeft),
		Y1: clamped.Y1 + int(float64(h)*plateRegionTop),
		X2: clamped.X1 + int(float64(w)*plateRegionRight),
		Y2: clamped.Y2,
	}

	rw := float64(region.X2 - region.X1)
	rh := float64(region.Y2 - region.Y1)
	if rh <= 0 {
		return nil
	}
	aspect := rw / rh
	if aspect < plateMinAspect || aspect > plateMaxAspect {
		return nil
	}

	return cropRegion(frame, region)
}

// Recognize returns the sentinel plate value. A real OCR backend would
// replace this.
func (p *HeuristicPlateReader) Recognize(_ context.Context, _ image.Image) string {
	return UnreadablePlate
}

// cropRegion copies a region of the frame into a fresh image. Returns nil
// for degenerate regions.
func cropRegion(frame image.Image, box geometry.Box) image.Image {
	if frame == nil {
		return nil
	}
	bounds := frame.Bounds()
	clamped := box.Clamp(bounds.Dx(), bounds.Dy())
	if clamped.Area() <= 0 {
		return nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, clamped.X2-clamped.X1, clamped.Y2-clamped.Y1))
	src := image.Pt(bounds.Min.X+clamped.X1, bounds.Min.Y+clamped.Y1)
	draw.Draw(dst, dst.Bounds(), frame, src, draw.Src)
	return dst
}
