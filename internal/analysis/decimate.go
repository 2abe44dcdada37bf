// Package analysis holds the stream passes that thin or classify data:
// decimation of the raw reading stream for recording and outlier
// classification for dataset review.
package analysis

import (
	"github.com/banshee-data/rangescan/internal/scan"
)

// Decimator keeps one reading out of every Factor, counted over the whole run
// before any filtering. The counter is never reset between frames, so a
// factor that does not divide the frame size keeps a shifting subset of
// angles from frame to frame.
type Decimator struct {
	factor int
	seen   int64
}

// NewDecimator rejects factors below 1 before any streaming starts.
func NewDecimator(factor int) (*Decimator, error) {
	if factor < 1 {
		return nil, scan.ConfigurationError("decimation", "factor must be >= 1, got %d", factor)
	}
	return &Decimator{factor: factor}, nil
}

// Factor returns N.
func (d *Decimator) Factor() int { return d.factor }

// Keep counts one more reading and reports whether it is retained. Retained
// positions are N, 2N, 3N, … (1-based).
func (d *Decimator) Keep() bool {
	d.seen++
	return d.seen%int64(d.factor) == 0
}
