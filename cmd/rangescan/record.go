package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/banshee-data/rangescan/internal/analysis"
	"github.com/banshee-data/rangescan/internal/capturedb"
	"github.com/banshee-data/rangescan/internal/config"
	"github.com/banshee-data/rangescan/internal/lifecycle"
	"github.com/banshee-data/rangescan/internal/monitoring"
	"github.com/banshee-data/rangescan/internal/recorder"
	"github.com/banshee-data/rangescan/internal/replay"
	"github.com/banshee-data/rangescan/internal/scan"
	"github.com/banshee-data/rangescan/internal/source"
)

type recordFlags struct {
	link       linkFlags
	seconds    int
	frames     int
	out        string
	decimation int
	db         string
	fromCSV    string

	checklist lifecycle.Checklist
	confirmed bool
}

func (f *recordFlags) register(fs *pflag.FlagSet) {
	f.link.register(fs)
	fs.IntVar(&f.seconds, "seconds", config.DefaultSeconds, "capture duration in seconds, 0 runs until interrupted")
	fs.IntVar(&f.frames, "frames", 0, "stop after this many frames, 0 for no limit")
	fs.StringVar(&f.out, "out", config.DefaultOutputDir, "directory for the capture file")
	fs.IntVar(&f.decimation, "decimation", 1, "keep every Nth point")
	fs.StringVar(&f.db, "db", "", "also store the capture in this sqlite database")
	fs.StringVar(&f.fromCSV, "from-csv", "", "replay a recorded dataset instead of reading the sensor")

	fs.BoolVar(&f.checklist.MountSecured, "mount-secured", false, "attest the sensor mount is secured")
	fs.BoolVar(&f.checklist.CableSlackVerified, "cable-slack-verified", false, "attest the cable has slack for rotation")
	fs.BoolVar(&f.checklist.ShutdownValidated, "shutdown-validated", false, "attest the stop procedure was validated")
	fs.BoolVar(&f.checklist.PortIdentified, "port-identified", false, "attest the serial port is the sensor")
	fs.BoolVar(&f.confirmed, "checklist-confirmed", false, "attest every checklist item at once")
}

func (f *recordFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	f.link.apply(fs, cfg)
	if fs.Changed("seconds") {
		cfg.Seconds = &f.seconds
	}
	if fs.Changed("out") {
		cfg.OutputDir = &f.out
	}
	if fs.Changed("decimation") {
		cfg.Decimation = &f.decimation
	}
	if fs.Changed("db") {
		cfg.DBPath = &f.db
	}

	check := cfg.GetChecklist()
	if f.confirmed {
		check = lifecycle.AllChecked()
	}
	for name, dst := range map[string]*bool{
		"mount-secured":        &check.MountSecured,
		"cable-slack-verified": &check.CableSlackVerified,
		"shutdown-validated":   &check.ShutdownValidated,
		"port-identified":      &check.PortIdentified,
	} {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	cfg.Checklist = &check
}

func newRecordCmd(a *app) *cobra.Command {
	var flags recordFlags
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture frames to a timestamped CSV until the time limit or an interrupt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd.Flags(), a.cfg)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			var src source.Source = a.liveSource(flags.link.simulate)
			if flags.fromCSV != "" {
				src = &replay.Source{Path: flags.fromCSV, FS: a.fs}
			}
			_, err := a.runRecord(cmd.Context(), cmd.OutOrStdout(), src, flags.frames)
			return err
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

// recordSummary is what a finished capture reports. Raw counts every reading
// pulled from the source; Kept counts the rows that survived decimation and
// the live filter.
type recordSummary struct {
	Path      string
	SessionID string
	Raw       int64
	Kept      int64
	Result    lifecycle.Result
}

// runRecord drives one Session into a capture file and, when a database path
// is configured, into the capture database. Outputs are created only once
// the sensor has passed diagnostics.
func (a *app) runRecord(ctx context.Context, out io.Writer, src source.Source, maxFrames int) (recordSummary, error) {
	cfg := a.cfg
	log := monitoring.Logger()
	var sum recordSummary

	dec, err := analysis.NewDecimator(cfg.GetDecimation())
	if err != nil {
		return sum, err
	}

	checklist := cfg.GetChecklist()
	if src.Kind() == source.KindReplay {
		// The mounting checklist only concerns hardware.
		checklist = lifecycle.AllChecked()
	}

	if secs := cfg.GetSeconds(); secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}
	// Database writes must outlive the capture deadline so the last frame
	// and the session summary are stored.
	dbCtx := context.WithoutCancel(ctx)

	var (
		capture  *recorder.CaptureWriter
		db       *capturedb.DB
		frameSeq int64
	)
	defer func() {
		if db != nil {
			db.Close()
		}
	}()

	acq := cfg.Acquisition()
	acq.Clock = a.clock
	acq.Decimator = dec
	session := &lifecycle.Session{
		Source:      src,
		Checklist:   checklist,
		Acquisition: acq,
		OnReady: func(diag scan.Diagnostics) error {
			started := a.clock.Now()
			w, path, err := recorder.CreateCapture(a.fs, cfg.GetOutputDir(), started)
			if err != nil {
				return err
			}
			capture, sum.Path = w, path
			log.Info().Str("path", path).Int("decimation", dec.Factor()).Msg("recording")

			dbPath := cfg.GetDBPath()
			if dbPath == "" {
				return nil
			}
			db, err = capturedb.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open capture database: %w", err)
			}
			sum.SessionID, err = db.StartSession(dbCtx, capturedb.SessionStart{
				Kind:        src.Kind(),
				Path:        path,
				Diagnostics: diag,
				Decimation:  dec.Factor(),
				StartedAt:   started,
			})
			return err
		},
	}

	res, runErr := session.Run(ctx, func(f *scan.Frame) error {
		if err := capture.WriteFrame(f); err != nil {
			return err
		}
		if sum.SessionID != "" {
			if err := db.RecordPoints(dbCtx, sum.SessionID, frameSeq, f.Timestamp, f.Points); err != nil {
				return err
			}
		}
		frameSeq++
		if maxFrames > 0 && frameSeq >= int64(maxFrames) {
			return lifecycle.ErrStopScan
		}
		return nil
	})
	sum.Result = res

	if capture == nil {
		return sum, runErr
	}
	if err := capture.Close(); err != nil && runErr == nil {
		runErr = err
	}
	sum.Raw, sum.Kept = res.Stats.Readings, capture.Rows()

	if sum.SessionID != "" {
		err := db.EndSession(dbCtx, sum.SessionID, capturedb.SessionEnd{
			EndedAt:    a.clock.Now(),
			FinalState: res.State.String(),
			RawPoints:  sum.Raw,
			KeptPoints: sum.Kept,
			Stats:      res.Stats,
		})
		if err != nil {
			log.Warn().Err(err).Str("session", sum.SessionID).Msg("failed to finalise capture session")
		}
	}

	log.Info().
		Str("path", sum.Path).
		Int64("frames", res.Frames).
		Int64("raw", sum.Raw).
		Int64("kept", sum.Kept).
		Stringer("state", res.State).
		Msg("capture finished")
	fmt.Fprintf(out, "%s: %d frames, %d raw readings, %d kept\n", sum.Path, res.Frames, sum.Raw, sum.Kept)
	return sum, runErr
}
