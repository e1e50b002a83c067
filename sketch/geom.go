package sketch

import "math"

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * (math.Pi / 180) }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * (180 / math.Pi) }

// Distance is the euclidean distance from (x0, y0) to (x1, y1).
func Distance(x0, y0, x1, y1 float64) float64 {
	return math.Hypot(x1-x0, y1-y0)
}

// Heading returns the direction from (x0, y0) to (x1, y1) in degrees,
// measured counter-clockwise from the +x axis in a y-down plane.
// Coincident points have heading 0.
func Heading(x0, y0, x1, y1 float64) float64 {
	if x0 == x1 && y0 == y1 {
		return 0
	}
	return Degrees(math.Atan2(y0-y1, x1-x0))
}

// Segment returns the endpoints of a mark of the given length centred on
// (o.X, o.Y) and rotated by o.Rotation degrees.
func Segment(o Object, length float64) (x0, y0, x1, y1 float64) {
	half := length / 2
	dx := half * math.Cos(Radians(o.Rotation))
	dy := -half * math.Sin(Radians(o.Rotation))
	return o.X + dx, o.Y + dy, o.X - dx, o.Y - dy
}
