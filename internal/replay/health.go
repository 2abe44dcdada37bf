package replay

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Health is a statistical summary of a dataset, the offline counterpart of
// the sensor health query.
type Health struct {
	Count       int     `json:"count"`
	OKRatio     float64 `json:"ok_ratio"`
	QualityMin  int     `json:"quality_min"`
	QualityMax  int     `json:"quality_max"`
	QualityMean float64 `json:"quality_mean"`
	MeasureMinM float64 `json:"measure_min_m"`
	MeasureMaxM float64 `json:"measure_max_m"`
	AngleMinDeg float64 `json:"angle_min_deg"`
	AngleMaxDeg float64 `json:"angle_max_deg"`
}

// Health summarises the dataset. An empty dataset yields only Count 0.
func (d Dataset) Health() Health {
	n := len(d)
	if n == 0 {
		return Health{}
	}
	qualities := make([]float64, n)
	measures := make([]float64, n)
	angles := make([]float64, n)
	ok := 0
	for i, s := range d {
		qualities[i] = float64(s.Q)
		measures[i] = s.MeasureM
		angles[i] = s.Angle
		if s.OK() {
			ok++
		}
	}
	return Health{
		Count:       n,
		OKRatio:     float64(ok) / float64(n),
		QualityMin:  int(floats.Min(qualities)),
		QualityMax:  int(floats.Max(qualities)),
		QualityMean: stat.Mean(qualities, nil),
		MeasureMinM: floats.Min(measures),
		MeasureMaxM: floats.Max(measures),
		AngleMinDeg: floats.Min(angles),
		AngleMaxDeg: floats.Max(angles),
	}
}

// MarshalZerologObject lets the summary be logged with Object.
func (h Health) MarshalZerologObject(e *zerolog.Event) {
	e.Int("count", h.Count)
	if h.Count == 0 {
		return
	}
	e.Float64("ok_ratio", h.OKRatio).
		Int("quality_min", h.QualityMin).
		Int("quality_max", h.QualityMax).
		Float64("quality_mean", h.QualityMean).
		Float64("measure_min_m", h.MeasureMinM).
		Float64("measure_max_m", h.MeasureMaxM).
		Float64("angle_min_deg", h.AngleMinDeg).
		Float64("angle_max_deg", h.AngleMaxDeg)
}
