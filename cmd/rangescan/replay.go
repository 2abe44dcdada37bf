package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/rangescan/internal/analysis"
	"github.com/banshee-data/rangescan/internal/config"
	"github.com/banshee-data/rangescan/internal/lifecycle"
	"github.com/banshee-data/rangescan/internal/monitoring"
	"github.com/banshee-data/rangescan/internal/processing"
	"github.com/banshee-data/rangescan/internal/recorder"
	"github.com/banshee-data/rangescan/internal/replay"
)

func newReplayCmd(a *app) *cobra.Command {
	var (
		out     string
		minRows int
	)
	cmd := &cobra.Command{
		Use:   "replay <scan.csv>",
		Short: "Validate, project and review a recorded dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("out") {
				a.cfg.OutputDir = &out
			}
			if cmd.Flags().Changed("min-rows") {
				a.cfg.MinReplayRows = &minRows
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			_, err := a.runReplay(cmd.Context(), cmd.OutOrStdout(), args[0])
			return err
		},
	}
	cmd.Flags().StringVar(&out, "out", config.DefaultOutputDir, "directory for filtered_points.csv and outliers.csv")
	cmd.Flags().IntVar(&minRows, "min-rows", replay.DefaultMinRows, "minimum rows for a full scan")
	return cmd
}

// replayReport summarises one offline run.
type replayReport struct {
	State        lifecycle.ReplayState
	Rows         int
	Valid        int
	Invalid      int
	Health       replay.Health
	Outliers     analysis.OutlierSummary
	FilteredPath string
	OutlierPath  string
}

// runReplay inspects path for the offline checklist and then walks the
// Load, Process and Save steps.
func (a *app) runReplay(ctx context.Context, out io.Writer, path string) (replayReport, error) {
	cfg := a.cfg
	log := monitoring.Logger()
	var rep replayReport

	in, err := replay.Inspect(a.fs, path, cfg.GetMinReplayRows())
	if err != nil {
		return rep, err
	}
	check := lifecycle.ReplayChecklist{
		CSVExists:    in.Exists,
		HeaderOK:     in.HeaderOK,
		ScanLengthOK: in.ScanLengthOK(),
	}
	log.Info().Str("path", path).Int("rows", in.Rows).Strs("missing", check.Missing()).Msg("replay checklist")

	var (
		data      replay.Dataset
		projected []processing.Projected
		outliers  []analysis.OutlierRecord
	)
	pipeline := &lifecycle.ReplayPipeline{
		Load: func(context.Context) error {
			var err error
			data, err = replay.LoadFile(a.fs, path)
			rep.Rows = len(data)
			return err
		},
		Process: func(context.Context) error {
			rep.Health = data.Health()
			log.Info().Object("health", rep.Health).Msg("dataset health")

			thr := cfg.GetAnalysisThresholds()
			projected = processing.FilterAndProject(thr, data)
			rep.Valid, rep.Invalid = processing.CountValid(thr, data)

			outliers = analysis.DetectOutliers(cfg.GetOutlierThresholds(), data)
			rep.Outliers = analysis.Summarize(outliers)
			log.Info().
				Int("valid", rep.Valid).
				Int("invalid", rep.Invalid).
				Int("outliers", rep.Outliers.Total).
				Int("too_close", rep.Outliers.TooClose).
				Int("too_far", rep.Outliers.TooFar).
				Int("low_quality", rep.Outliers.LowQuality).
				Stringer("thresholds", thr).
				Msg("dataset processed")
			return nil
		},
		Save: func(context.Context) error {
			dir := cfg.GetOutputDir()
			var err error
			rep.FilteredPath, err = recorder.WriteFile(a.fs, dir, recorder.FilteredFileName, func(w io.Writer) error {
				return recorder.WriteFiltered(w, projected)
			})
			if err != nil {
				return err
			}
			rep.OutlierPath, err = recorder.WriteFile(a.fs, dir, recorder.OutlierFileName, func(w io.Writer) error {
				return recorder.WriteOutliers(w, outliers)
			})
			return err
		},
		Shutdown: func() error {
			data, projected, outliers = nil, nil, nil
			return nil
		},
	}

	rep.State, err = pipeline.Run(ctx, check)
	if err != nil {
		return rep, err
	}
	fmt.Fprintf(out, "%s: %d rows, %d valid, %d invalid, %d outliers\n", path, rep.Rows, rep.Valid, rep.Invalid, rep.Outliers.Total)
	fmt.Fprintf(out, "wrote %s\nwrote %s\n", rep.FilteredPath, rep.OutlierPath)
	return rep, nil
}
