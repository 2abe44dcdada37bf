package processing

import (
	"math"

	"github.com/banshee-data/rangescan/internal/scan"
)

// PolarToXY converts a polar return to planar coordinates with the sensor at
// the origin, 0° along +x (forward) and 90° along +y (left). The result is in
// the unit of distance.
func PolarToXY(angleDeg, distance float64) (x, y float64) {
	rad := angleDeg * math.Pi / 180.0
	x = distance * math.Cos(rad)
	y = distance * math.Sin(rad)
	return
}

// Projected is a validated sample together with its planar position.
type Projected struct {
	X, Y     float64
	Quality  int
	AngleDeg float64
	Distance float64
}

// FilterAndProject keeps the samples accepted by t, in input order, and
// projects each of them.
func FilterAndProject[S scan.Sample](t Thresholds, samples []S) []Projected {
	out := make([]Projected, 0, len(samples))
	for _, s := range samples {
		if !t.IsValid(s) {
			continue
		}
		x, y := PolarToXY(s.AngleDeg(), s.Distance())
		out = append(out, Projected{
			X:        x,
			Y:        y,
			Quality:  s.Quality(),
			AngleDeg: s.AngleDeg(),
			Distance: s.Distance(),
		})
	}
	return out
}

// CountValid returns how many samples t accepts and rejects.
func CountValid[S scan.Sample](t Thresholds, samples []S) (valid, invalid int) {
	for _, s := range samples {
		if t.IsValid(s) {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}
