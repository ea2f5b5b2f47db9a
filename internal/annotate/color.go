package annotate

import (
	"image"

	"github.com/trafficlens/trafficlens/internal/geometry"
)

// HSVColorClassifier buckets the mean HSV of a vehicle region into a small
// set of named colors. Hue uses the 0-180 scale so the bucket boundaries
// line up with the common computer-vision convention.
type HSVColorClassifier struct {
	// Stride controls pixel subsampling. Zero means every 4th pixel.
	Stride int
}

// ClassifyColor returns the dominant color name for the region, or
// UnknownColor when the region is degenerate or the mean falls outside
// every bucket.
func (c *HSVColorClassifier) ClassifyColor(frame image.Image, box geometry.Box) string {
	if frame == nil {
		return UnknownColor
	}

	bounds := frame.Bounds()
	clamped := box.Clamp(bounds.Dx(), bounds.Dy())
	if clamped.Area() <= 0 {
		return UnknownColor
	}

	stride := c.Stride
	if stride <= 0 {
		stride = 4
	}

	var sumH, sumS, sumV float64
	var n int
	for y := clamped.Y1; y < clamped.Y2; y += stride {
		for x := clamped.X1; x < clamped.X2; x += stride {
			r, g, b, _ := frame.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			h, s, v := rgbToHSV(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			sumH += h
			sumS += s
			sumV += v
			n++
		}
	}
	if n == 0 {
		return UnknownColor
	}

	return bucketHSV(sumH/float64(n), sumS/float64(n), sumV/float64(n))
}

func bucketHSV(h, s, v float64) string {
	switch {
	case v < 30:
		return "black"
	case s < 30 && v > 200:
		return "white"
	case s < 30 && v > 100:
		return "gray"
	case h < 10 || h > 170:
		return "red"
	case h > 20 && h < 30:
		return "yellow"
	case h > 10 && h < 20:
		return "orange"
	case h > 50 && h < 70:
		return "green"
	case h > 100 && h < 130:
		return "blue"
	default:
		return UnknownColor
	}
}

// rgbToHSV converts 8-bit RGB to HSV with hue in [0, 180) and saturation
// and value in [0, 255].
func rgbToHSV(r, g, b uint8) (float64, float64, float64) {
	rf := float64(r) / 255
	gf := float64(g) / 255
	bf := float64(b) / 255

	max := rf
	if gf > max {
		max = gf
	}
	if bf > max {
		max = bf
	}
	min := rf
	if gf < min {
		min = gf
	}
	if bf < min {
		min = bf
	}
	delta := max - min

	var hue float64
	switch {
	case delta == 0:
		hue = 0
	case max == rf:
		hue = 60 * ((gf - bf) / delta)
	case max == gf:
		hue = 60 * ((bf-rf)/delta + 2)
	default:
		hue = 60 * ((rf-gf)/delta + 4)
	}
	if hue < 0 {
		hue += 360
	}

	var sat float64
	if max > 0 {
		sat = delta / max
	}

	return hue / 2, sat * 255, max * 255
}
