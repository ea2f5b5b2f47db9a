// Package overlay renders tracked detections and counting lines onto a
// copy of the frame for the live stream.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/trafficlens/trafficlens/internal/detect"
	"github.com/trafficlens/trafficlens/internal/geometry"
	"github.com/trafficlens/trafficlens/internal/roi"
	"github.com/trafficlens/trafficlens/internal/track"
)

const boxThickness = 2

var classColors = map[detect.Class]color.RGBA{
	detect.ClassCar:        {G: 255, A: 255},
	detect.ClassTruck:      {B: 255, A: 255},
	detect.ClassBus:        {R: 255, B: 255, A: 255},
	detect.ClassMotorcycle: {R: 255, G: 255, A: 255},
}

var (
	defaultColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	lineColor    = color.RGBA{R: 255, G: 255, A: 255}
	textColor    = color.RGBA{A: 255}
)

// Render draws the counting lines and every tracked detection with its
// class, confidence and track id over the frame. The source image is not
// modified.
func Render(src image.Image, tracked []track.TrackedDetection, model *roi.Model) *image.RGBA {
	bounds := src.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, src, bounds.Min, draw.Src)

	if model != nil {
		for _, side := range []roi.Side{roi.SideLeft, roi.SideRight} {
			line := model.Line(side)
			drawSegment(img, line.Start, line.End)
			labelLine(img, line, model.Name(side))
		}
	}

	for _, td := range tracked {
		col, ok := classColors[td.Class]
		if !ok {
			col = defaultColor
		}
		drawBox(img, td.Box, col)

		label := fmt.Sprintf("%s %.2f ID:%d", strings.ToUpper(string(td.Class)), td.Confidence, td.TrackID)
		labelBox(img, td.Box, label, col)
	}

	return img
}

func drawBox(img *image.RGBA, box geometry.Box, col color.RGBA) {
	fillRect(img, box.X1, box.Y1, box.X2, box.Y1+boxThickness, col)
	fillRect(img, box.X1, box.Y2-boxThickness, box.X2, box.Y2, col)
	fillRect(img, box.X1, box.Y1, box.X1+boxThickness, box.Y2, col)
	fillRect(img, box.X2-boxThickness, box.Y1, box.X2, box.Y2, col)
}

func fillRect(img *image.RGBA, x1, y1, x2, y2 int, col color.RGBA) {
	r := image.Rect(x1, y1, x2, y2).Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(img, r, image.NewUniform(col), image.Point{}, draw.Src)
}

// drawSegment steps along the segment painting 2px dots, which is enough
// for the short straight counting lines.
func drawSegment(img *image.RGBA, p1, p2 geometry.Point) {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	steps := int(math.Max(math.Abs(dx), math.Abs(dy)))
	if steps == 0 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(p1.X + t*dx)
		y := int(p1.Y + t*dy)
		fillRect(img, x, y-1, x+1, y+1, lineColor)
	}
}

func labelBox(img *image.RGBA, box geometry.Box, label string, col color.RGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()

	y := box.Y1 - 4
	if y-face.Ascent < 0 {
		y = box.Y1 + face.Height + 4
	}

	fillRect(img, box.X1, y-face.Ascent-2, box.X1+width+4, y+3, col)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(box.X1+2, y),
	}
	d.DrawString(label)
}

func labelLine(img *image.RGBA, line roi.Line, name string) {
	midX := int((line.Start.X + line.End.X) / 2)
	midY := int((line.Start.Y + line.End.Y) / 2)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(lineColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(midX-50, midY-6),
	}
	d.DrawString(strings.ToUpper(name))
}
