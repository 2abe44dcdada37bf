package analysis

import (
	"strings"

	"github.com/banshee-data/rangescan/internal/scan"
)

// Reason is a set of outlier tags.
type Reason uint8

const (
	TooClose Reason = 1 << iota
	TooFar
	LowQuality
)

var reasonNames = []struct {
	r    Reason
	name string
}{
	{TooClose, "TooClose"},
	{TooFar, "TooFar"},
	{LowQuality, "LowQuality"},
}

// Has reports whether every tag in o is set in r.
func (r Reason) Has(o Reason) bool { return r&o == o && o != 0 }

// Tags lists the set tags in a fixed order.
func (r Reason) Tags() []string {
	var tags []string
	for _, rn := range reasonNames {
		if r&rn.r != 0 {
			tags = append(tags, rn.name)
		}
	}
	return tags
}

func (r Reason) String() string {
	if r == 0 {
		return "none"
	}
	return strings.Join(r.Tags(), "|")
}

// OutlierThresholds are the sanity limits for dataset review, in metres. They
// are deliberately separate from processing.Thresholds.
type OutlierThresholds struct {
	TooCloseM  float64 `json:"too_close_m" toml:"too_close_m"` // distance <= TooCloseM
	TooFarM    float64 `json:"too_far_m" toml:"too_far_m"`     // distance > TooFarM
	QualityMin int     `json:"quality_min" toml:"quality_min"` // quality < QualityMin
}

// DefaultOutlierThresholds returns 0.15 m / 12.0 m / quality 20.
func DefaultOutlierThresholds() OutlierThresholds {
	return OutlierThresholds{TooCloseM: 0.15, TooFarM: 12.0, QualityMin: 20}
}

// Classify returns the tags for one sample.
func (t OutlierThresholds) Classify(s scan.Sample) Reason {
	var r Reason
	d := s.Distance()
	if d <= t.TooCloseM {
		r |= TooClose
	}
	if d > t.TooFarM {
		r |= TooFar
	}
	if s.Quality() < t.QualityMin {
		r |= LowQuality
	}
	return r
}

// OutlierRecord describes one tagged sample.
type OutlierRecord struct {
	Index     int
	AngleDeg  float64
	DistanceM float64
	Reasons   Reason
}

// DetectOutliers tags every sample and reports those with at least one tag.
// The input is not modified. Sample distances must be in metres.
func DetectOutliers[S scan.Sample](t OutlierThresholds, samples []S) []OutlierRecord {
	var out []OutlierRecord
	for i, s := range samples {
		r := t.Classify(s)
		if r == 0 {
			continue
		}
		out = append(out, OutlierRecord{
			Index:     i,
			AngleDeg:  s.AngleDeg(),
			DistanceM: s.Distance(),
			Reasons:   r,
		})
	}
	return out
}

// OutlierSummary counts records per tag. A record with two tags counts
// towards both.
type OutlierSummary struct {
	Total      int
	TooClose   int
	TooFar     int
	LowQuality int
}

// Summarize counts records per tag.
func Summarize(records []OutlierRecord) OutlierSummary {
	s := OutlierSummary{Total: len(records)}
	for _, rec := range records {
		if rec.Reasons.Has(TooClose) {
			s.TooClose++
		}
		if rec.Reasons.Has(TooFar) {
			s.TooFar++
		}
		if rec.Reasons.Has(LowQuality) {
			s.LowQuality++
		}
	}
	return s
}
