package source

import (
	"context"
	"io"

	"github.com/banshee-data/rangescan/internal/scan"
)

type sliceStream struct {
	readings []scan.Reading
	pos      int
}

func (s *sliceStream) Next(ctx context.Context) (scan.Reading, error) {
	if err := ctx.Err(); err != nil {
		return scan.Reading{}, err
	}
	if s.pos >= len(s.readings) {
		return scan.Reading{}, io.EOF
	}
	r := s.readings[s.pos]
	s.pos++
	return r, nil
}
