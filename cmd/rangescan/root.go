package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/banshee-data/rangescan/internal/config"
	"github.com/banshee-data/rangescan/internal/fsutil"
	"github.com/banshee-data/rangescan/internal/monitoring"
	"github.com/banshee-data/rangescan/internal/serialport"
	"github.com/banshee-data/rangescan/internal/timeutil"
	"github.com/banshee-data/rangescan/internal/version"
)

const simSweepInterval = 100 * time.Millisecond

// app holds what every subcommand shares once the persistent flags have been
// parsed.
type app struct {
	cfgPath  string
	logLevel string

	cfg   *config.Config
	fs    fsutil.FileSystem
	clock timeutil.Clock

	// simInterval paces the simulated sensor.
	simInterval time.Duration

	listPorts func() ([]string, error)
}

func newApp() *app {
	return &app{
		fs:          fsutil.OSFileSystem{},
		clock:       timeutil.RealClock{},
		simInterval: simSweepInterval,
		listPorts:   serialport.ListPorts,
	}
}

var longHelp = strings.TrimSpace(`
Acquire 2D range scans from an RPLIDAR A-series sensor.

  diag      query device info and health, then stop the sensor
  record    run a checklist-gated capture to a timestamped CSV
  replay    validate, project and review a recorded dataset
  sessions  list or show capture sessions stored with record --db

Settings come from --config (.json or .toml); flags override the file.
`)

var exampleUsage = strings.TrimSpace(`
  rangescan diag --port /dev/ttyUSB0
  rangescan record --config rangescan.toml --seconds 30 --checklist-confirmed
  rangescan replay captures/scan.csv --out analysis
  rangescan sessions --db captures.db
`)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rangescan",
		Short:         "Acquire, record and replay 2D lidar scans",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "path to a .json or .toml config file")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newDiagCmd(a), newRecordCmd(a), newReplayCmd(a), newSessionsCmd(a))
	return root
}

// setup applies the log level and loads the config file, if any.
func (a *app) setup() error {
	level, err := zerolog.ParseLevel(a.logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
	}
	monitoring.SetLevel(level)

	if a.cfgPath == "" {
		a.cfg = config.Default()
		return nil
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	log := monitoring.Logger()
	log.Info().Str("path", a.cfgPath).Msg("configuration loaded")
	return nil
}
