// Package geometry provides the 2D primitives shared by the routing
// controller: board-unit points, offset vectors, and polyline helpers.
package geometry

import "math"

// Epsilon is the coordinate tolerance in board units. Two coordinates
// closer than this are the same point for snapping and for the
// query-skip threshold. This is a true-coordinate tolerance, not a
// screen-pixel one.
const Epsilon = 1e-3

// Point represents a 2D point in board units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint creates a new Point.
func NewPoint(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// DistanceSq returns the squared Euclidean distance to another point.
func (p Point) DistanceSq(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return dx*dx + dy*dy
}

// Add returns the sum of two points.
func (p Point) Add(other Point) Point {
	return Point{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns the difference of two points.
func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

// Scale returns the point scaled by a factor.
func (p Point) Scale(factor float64) Point {
	return Point{X: p.X * factor, Y: p.Y * factor}
}

// Same returns true if both coordinates match within Epsilon.
func (p Point) Same(other Point) bool {
	return math.Abs(p.X-other.X) < Epsilon && math.Abs(p.Y-other.Y) < Epsilon
}

// Offset returns the vector that carries from onto to.
func Offset(from, to Point) Point {
	return to.Sub(from)
}

// PathStart returns the first point of a path. The path must be non-empty.
func PathStart(path []Point) Point {
	return path[0]
}

// PathEnd returns the last point of a path. The path must be non-empty.
func PathEnd(path []Point) Point {
	return path[len(path)-1]
}

// PathLength returns the total polyline length of a path.
func PathLength(path []Point) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += path[i-1].Distance(path[i])
	}
	return total
}

// ClonePath returns a copy of a path. Paths cross goroutine boundaries
// between the coordinator and its owner, so shared backing arrays are
// never handed out.
func ClonePath(path []Point) []Point {
	if path == nil {
		return nil
	}
	out := make([]Point, len(path))
	copy(out, path)
	return out
}
