package recorder

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/rangescan/internal/analysis"
	"github.com/banshee-data/rangescan/internal/processing"
)

// FilteredHeader is the first row of a projected point cloud.
var FilteredHeader = []string{"x_m", "y_m", "quality", "angle_deg", "measure_m"}

// OutlierHeader is the first row of an outlier listing.
var OutlierHeader = []string{"index", "angle_deg", "measure_m", "reasons"}

// Default file names for replay outputs.
const (
	FilteredFileName = "filtered_points.csv"
	OutlierFileName  = "outliers.csv"
)

func ftoa(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// WriteFiltered writes projected points in input order.
func WriteFiltered(w io.Writer, points []processing.Projected) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(FilteredHeader); err != nil {
		return fmt.Errorf("write filtered header: %w", err)
	}
	for _, p := range points {
		if err := cw.Write([]string{
			ftoa(p.X, 6),
			ftoa(p.Y, 6),
			strconv.Itoa(p.Quality),
			ftoa(p.AngleDeg, 3),
			ftoa(p.Distance, 4),
		}); err != nil {
			return fmt.Errorf("write filtered row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOutliers writes one row per tagged sample. Reasons are joined by "|".
func WriteOutliers(w io.Writer, records []analysis.OutlierRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(OutlierHeader); err != nil {
		return fmt.Errorf("write outlier header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write([]string{
			strconv.Itoa(r.Index),
			ftoa(r.AngleDeg, 3),
			ftoa(r.DistanceM, 4),
			r.Reasons.String(),
		}); err != nil {
			return fmt.Errorf("write outlier row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
