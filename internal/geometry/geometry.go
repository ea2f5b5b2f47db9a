// Package geometry provides the 2D primitives used by the tracker and counter:
// points, polygons, pixel-space bounding boxes, and segment intersection.
package geometry

import "math"

// Point represents a 2D coordinate in pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance calculates the Euclidean distance between two points.
func (p Point) Distance(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Add returns the point translated by the given vector.
func (p Point) Add(v Point) Point {
	return Point{X: p.X + v.X, Y: p.Y + v.Y}
}

// Sub returns the vector from other to p.
func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// Polygon is a series of points forming a closed shape. The last vertex
// connects back to the first.
type Polygon []Point

// Contains checks if a point is inside the polygon using ray casting with
// the even-odd rule. Horizontal edges are skipped so there is no division
// by zero. Points exactly on the boundary may be classified either way.
func (p Polygon) Contains(pt Point) bool {
	if len(p) < 3 {
		return false
	}

	n := len(p)
	inside := false

	p1 := p[0]
	for i := 1; i <= n; i++ {
		p2 := p[i%n]
		// Horizontal edges fail the y-range check and are skipped entirely.
		if p1.Y != p2.Y && pt.Y > math.Min(p1.Y, p2.Y) && pt.Y <= math.Max(p1.Y, p2.Y) && pt.X <= math.Max(p1.X, p2.X) {
			xinters := (pt.Y-p1.Y)*(p2.X-p1.X)/(p2.Y-p1.Y) + p1.X
			if p1.X == p2.X || pt.X <= xinters {
				inside = !inside
			}
		}
		p1 = p2
	}

	return inside
}

// SegmentIntersection returns the intersection point of two finite segments
// a1-a2 and b1-b2. The second return value is false when the segments do not
// intersect, including the parallel/collinear case (zero denominator).
func SegmentIntersection(a1, a2, b1, b2 Point) (Point, bool) {
	denom := (a1.X-a2.X)*(b1.Y-b2.Y) - (a1.Y-a2.Y)*(b1.X-b2.X)
	if denom == 0 {
		return Point{}, false
	}

	t := ((a1.X-b1.X)*(b1.Y-b2.Y) - (a1.Y-b1.Y)*(b1.X-b2.X)) / denom
	u := -((a1.X-a2.X)*(a1.Y-b1.Y) - (a1.Y-a2.Y)*(a1.X-b1.X)) / denom

	if t < 0 || t > 1 || u < 0 || u > 1 {
		return Point{}, false
	}

	return Point{
		X: a1.X + t*(a2.X-a1.X),
		Y: a1.Y + t*(a2.Y-a1.Y),
	}, true
}

// Box is an axis-aligned bounding box in pixel coordinates with X1 < X2
// and Y1 < Y2.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Centroid returns the center point of the box.
func (b Box) Centroid() Point {
	return Point{
		X: float64(b.X1+b.X2) / 2,
		Y: float64(b.Y1+b.Y2) / 2,
	}
}

// Area returns the box area in square pixels.
func (b Box) Area() float64 {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return float64(b.X2-b.X1) * float64(b.Y2-b.Y1)
}

// IoU calculates intersection over union with another box. Zero when the
// boxes do not overlap or either has zero area.
func (b Box) IoU(other Box) float64 {
	x1 := maxInt(b.X1, other.X1)
	y1 := maxInt(b.Y1, other.Y1)
	x2 := minInt(b.X2, other.X2)
	y2 := minInt(b.Y2, other.Y2)

	if x2 < x1 || y2 < y1 {
		return 0
	}

	inter := float64(x2-x1) * float64(y2-y1)
	union := b.Area() + other.Area() - inter
	if union == 0 {
		return 0
	}

	return inter / union
}

// Clamp limits the box to the given frame dimensions.
func (b Box) Clamp(width, height int) Box {
	return Box{
		X1: maxInt(0, b.X1),
		Y1: maxInt(0, b.Y1),
		X2: minInt(width, b.X2),
		Y2: minInt(height, b.Y2),
	}
}

// Pad grows the box by the given number of pixels on every side.
func (b Box) Pad(px int) Box {
	return Box{X1: b.X1 - px, Y1: b.Y1 - px, X2: b.X2 + px, Y2: b.Y2 + px}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
