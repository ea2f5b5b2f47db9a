package annotate

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/trafficlens/trafficlens/internal/geometry"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestClassifyColorBuckets(t *testing.T) {
	tests := []struct {
		name  string
		pixel color.RGBA
		want  string
	}{
		{"black", color.RGBA{10, 10, 10, 255}, "black"},
		{"white", color.RGBA{240, 240, 240, 255}, "white"},
		{"gray", color.RGBA{128, 128, 128, 255}, "gray"},
		{"red", color.RGBA{200, 20, 20, 255}, "red"},
		{"yellow", color.RGBA{220, 210, 30, 255}, "yellow"},
		{"green", color.RGBA{30, 200, 40, 255}, "green"},
		{"blue", color.RGBA{30, 60, 220, 255}, "blue"},
	}

	c := &HSVColorClassifier{}
	box := geometry.Box{X1: 0, Y1: 0, X2: 64, Y2: 64}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solidImage(64, 64, tt.pixel)
			if got := c.ClassifyColor(img, box); got != tt.want {
				t.Errorf("ClassifyColor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyColorDegenerateRegion(t *testing.T) {
	c := &HSVColorClassifier{}
	img := solidImage(64, 64, color.RGBA{200, 20, 20, 255})

	if got := c.ClassifyColor(img, geometry.Box{X1: 10, Y1: 10, X2: 10, Y2: 40}); got != UnknownColor {
		t.Errorf("zero-width region = %q, want %q", got, UnknownColor)
	}
	if got := c.ClassifyColor(nil, geometry.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}); got != UnknownColor {
		t.Errorf("nil frame = %q, want %q", got, UnknownColor)
	}
}

func TestExtractPlateRegion(t *testing.T) {
	r := &HeuristicPlateReader{}
	img := solidImage(640, 480, color.RGBA{100, 100, 100, 255})

	plate := r.ExtractRegion(img, geometry.Box{X1: 100, Y1: 200, X2: 300, Y2: 360})
	if plate == nil {
		t.Fatal("ExtractRegion returned nil for a valid vehicle box")
	}

	b := plate.Bounds()
	if b.Dx() != 120 || b.Dy() != 48 {
		t.Errorf("plate region = %dx%d, want 120x48", b.Dx(), b.Dy())
	}
}

func TestExtractPlateRegionRejectsSmallBoxes(t *testing.T) {
	r := &HeuristicPlateReader{}
	img := solidImage(640, 480, color.RGBA{100, 100, 100, 255})

	if got := r.ExtractRegion(img, geometry.Box{X1: 0, Y1: 0, X2: 15, Y2: 15}); got != nil {
		t.Error("ExtractRegion accepted a box too small for a plate")
	}
}

func TestRecognizeReturnsSentinel(t *testing.T) {
	r := &HeuristicPlateReader{}
	img := solidImage(120, 40, color.RGBA{255, 255, 255, 255})

	if got := r.Recognize(context.Background(), img); got != UnreadablePlate {
		t.Errorf("Recognize = %q, want %q", got, UnreadablePlate)
	}
}

func TestStaticMakeModel(t *testing.T) {
	c := &StaticMakeModelClassifier{}
	mm, err := c.ClassifyMakeModel(context.Background(), nil, geometry.Box{})
	if err != nil {
		t.Fatalf("ClassifyMakeModel failed: %v", err)
	}
	if mm.Brand != UnknownBrand || mm.BodyType != DefaultBodyType || mm.Confidence != DefaultMakeConf {
		t.Errorf("ClassifyMakeModel = %+v", mm)
	}
}
