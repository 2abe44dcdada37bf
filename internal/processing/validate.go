// Package processing validates range samples and projects the accepted ones
// from polar sensor coordinates onto the sensor's planar frame.
package processing

import (
	"fmt"

	"github.com/banshee-data/rangescan/internal/scan"
)

// Thresholds decides which samples are valid. Distances use the unit of the
// samples they are applied to.
type Thresholds struct {
	QualityMin int     `json:"quality_min" toml:"quality_min"`
	DistMin    float64 `json:"dist_min" toml:"dist_min"` // exclusive
	DistMax    float64 `json:"dist_max" toml:"dist_max"` // inclusive
}

// Live acquisition defaults, in millimetres.
const (
	LiveQualityMin = 10
	LiveDistMinMM  = 150.0
	LiveDistMaxMM  = 12000.0
)

// Analysis defaults, in metres.
const (
	AnalysisQualityMin = 20
	AnalysisDistMinM   = 0.20
	AnalysisDistMaxM   = 10.0
)

// LiveThresholds returns the raw acquisition filter applied while framing
// live readings (millimetres).
func LiveThresholds() Thresholds {
	return Thresholds{QualityMin: LiveQualityMin, DistMin: LiveDistMinMM, DistMax: LiveDistMaxMM}
}

// AnalysisThresholds returns the stricter filter used on replayed datasets
// (metres).
func AnalysisThresholds() Thresholds {
	return Thresholds{QualityMin: AnalysisQualityMin, DistMin: AnalysisDistMinM, DistMax: AnalysisDistMaxM}
}

// Validate rejects threshold sets that can never accept a sample.
func (t Thresholds) Validate() error {
	if t.QualityMin < 0 || t.QualityMin > 255 {
		return scan.ConfigurationError("thresholds", "quality_min %d outside 0-255", t.QualityMin)
	}
	if t.DistMin < 0 {
		return scan.ConfigurationError("thresholds", "dist_min %g is negative", t.DistMin)
	}
	if t.DistMax <= t.DistMin {
		return scan.ConfigurationError("thresholds", "dist_max %g must exceed dist_min %g", t.DistMax, t.DistMin)
	}
	return nil
}

// IsValid reports whether s carries the ok flag, meets the quality floor and
// lies in (DistMin, DistMax].
func (t Thresholds) IsValid(s scan.Sample) bool {
	if !s.OK() {
		return false
	}
	if s.Quality() < t.QualityMin {
		return false
	}
	d := s.Distance()
	return d > t.DistMin && d <= t.DistMax
}

func (t Thresholds) String() string {
	return fmt.Sprintf("quality>=%d, %g<d<=%g", t.QualityMin, t.DistMin, t.DistMax)
}
