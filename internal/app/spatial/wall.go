package spatial

// Wall is a segment on the x/y plane. Sound crossing it is scaled by
// Characteristic.
type Wall struct {
	ID             string  `json:"id"`
	X1             float64 `json:"x1"`
	Y1             float64 `json:"y1"`
	X2             float64 `json:"x2"`
	Y2             float64 `json:"y2"`
	Characteristic float64 `json:"characteristic"`
}

// Blocks reports whether the segment from a to b crosses or touches w.
func (w Wall) Blocks(a, b Transform) bool {
	return segmentsIntersect(a.X, a.Y, b.X, b.Y, w.X1, w.Y1, w.X2, w.Y2)
}

// relativeCCW returns -1, 0 or 1 depending on which side of the segment
// (x1,y1)-(x2,y2) the point lies; collinear points beyond the ends are not 0.
func relativeCCW(x1, y1, x2, y2, px, py float64) int {
	x2 -= x1
	y2 -= y1
	px -= x1
	py -= y1
	ccw := px*y2 - py*x2
	if ccw == 0 {
		ccw = px*x2 + py*y2
		if ccw > 0 {
			px -= x2
			py -= y2
			ccw = px*x2 + py*y2
			if ccw < 0 {
				ccw = 0
			}
		}
	}
	switch {
	case ccw < 0:
		return -1
	case ccw > 0:
		return 1
	}
	return 0
}

func segmentsIntersect(x1, y1, x2, y2, x3, y3, x4, y4 float64) bool {
	return relativeCCW(x1, y1, x2, y2, x3, y3)*relativeCCW(x1, y1, x2, y2, x4, y4) <= 0 &&
		relativeCCW(x3, y3, x4, y4, x1, y1)*relativeCCW(x3, y3, x4, y4, x2, y2) <= 0
}
