// Package config loads the run configuration for rangescan.
//
// Every field is optional. Omitted fields fall back to the defaults returned
// by the Get* methods, so a partial file (or no file at all) is valid.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/rangescan/internal/acquisition"
	"github.com/banshee-data/rangescan/internal/analysis"
	"github.com/banshee-data/rangescan/internal/lifecycle"
	"github.com/banshee-data/rangescan/internal/processing"
	"github.com/banshee-data/rangescan/internal/replay"
	"github.com/banshee-data/rangescan/internal/rplidar"
	"github.com/banshee-data/rangescan/internal/scan"
	"github.com/banshee-data/rangescan/internal/serialport"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Default values not owned by another package.
const (
	DefaultPort      = "/dev/ttyUSB0"
	DefaultOutputDir = "."
	DefaultSeconds   = 10
)

// Config is the root configuration. JSON and TOML share the same keys.
type Config struct {
	// Serial link
	Port        *string `json:"port,omitempty" toml:"port,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty" toml:"baud_rate,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty" toml:"read_timeout,omitempty"` // duration string like "100ms"
	MotorPWM    *int    `json:"motor_pwm,omitempty" toml:"motor_pwm,omitempty"`

	// Acquisition
	MaxBufMeas     *int                   `json:"max_buf_meas,omitempty" toml:"max_buf_meas,omitempty"`
	MaxFramePoints *int                   `json:"max_frame_points,omitempty" toml:"max_frame_points,omitempty"`
	MinFramePoints *int                   `json:"min_frame_points,omitempty" toml:"min_frame_points,omitempty"`
	Seconds        *int                   `json:"seconds,omitempty" toml:"seconds,omitempty"`
	Decimation     *int                   `json:"decimation,omitempty" toml:"decimation,omitempty"`
	Live           *processing.Thresholds `json:"live_thresholds,omitempty" toml:"live_thresholds,omitempty"`

	// Replay analysis
	Analysis      *processing.Thresholds      `json:"analysis_thresholds,omitempty" toml:"analysis_thresholds,omitempty"`
	Outliers      *analysis.OutlierThresholds `json:"outlier_thresholds,omitempty" toml:"outlier_thresholds,omitempty"`
	MinReplayRows *int                        `json:"min_replay_rows,omitempty" toml:"min_replay_rows,omitempty"`

	// Outputs
	OutputDir *string `json:"output_dir,omitempty" toml:"output_dir,omitempty"`
	DBPath    *string `json:"db_path,omitempty" toml:"db_path,omitempty"`

	Checklist *lifecycle.Checklist `json:"checklist,omitempty" toml:"checklist,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// Default returns a Config with every field populated.
func Default() *Config {
	live := processing.LiveThresholds()
	an := processing.AnalysisThresholds()
	out := analysis.DefaultOutlierThresholds()
	return &Config{
		Port:           ptrString(DefaultPort),
		BaudRate:       ptrInt(serialport.DefaultBaudRate),
		ReadTimeout:    ptrString(serialport.DefaultReadTimeout.String()),
		MotorPWM:       ptrInt(rplidar.DefaultMotorPWM),
		MaxBufMeas:     ptrInt(acquisition.DefaultMaxBufMeas),
		MaxFramePoints: ptrInt(acquisition.DefaultMaxFramePoints),
		MinFramePoints: ptrInt(0),
		Seconds:        ptrInt(DefaultSeconds),
		Decimation:     ptrInt(1),
		Live:           &live,
		Analysis:       &an,
		Outliers:       &out,
		MinReplayRows:  ptrInt(replay.DefaultMinRows),
		OutputDir:      ptrString(DefaultOutputDir),
		DBPath:         ptrString(""),
		Checklist:      &lifecycle.Checklist{},
	}
}

// Load reads a .json or .toml config file. Fields omitted from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return nil, scan.ConfigurationError("load config", "config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, scan.ConfigurationError("load config", "config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	switch ext {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, scan.ConfigurationError("load config", "failed to parse %s: %v", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *Config) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return scan.ConfigurationError("config", "baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.ReadTimeout != nil && *c.ReadTimeout != "" {
		d, err := time.ParseDuration(*c.ReadTimeout)
		if err != nil {
			return scan.ConfigurationError("config", "invalid read_timeout '%s': %v", *c.ReadTimeout, err)
		}
		if d <= 0 {
			return scan.ConfigurationError("config", "read_timeout must be positive, got %s", d)
		}
	}
	if c.MotorPWM != nil && (*c.MotorPWM < 0 || *c.MotorPWM > 1023) {
		return scan.ConfigurationError("config", "motor_pwm must be between 0 and 1023, got %d", *c.MotorPWM)
	}
	if c.MaxBufMeas != nil && *c.MaxBufMeas < 1 {
		return scan.ConfigurationError("config", "max_buf_meas must be at least 1, got %d", *c.MaxBufMeas)
	}
	if c.MaxFramePoints != nil && *c.MaxFramePoints < 1 {
		return scan.ConfigurationError("config", "max_frame_points must be at least 1, got %d", *c.MaxFramePoints)
	}
	if c.MinFramePoints != nil && *c.MinFramePoints < 0 {
		return scan.ConfigurationError("config", "min_frame_points must be non-negative, got %d", *c.MinFramePoints)
	}
	if c.Seconds != nil && *c.Seconds < 0 {
		return scan.ConfigurationError("config", "seconds must be non-negative, got %d", *c.Seconds)
	}
	if c.Decimation != nil && *c.Decimation < 1 {
		return scan.ConfigurationError("config", "decimation must be at least 1, got %d", *c.Decimation)
	}
	if c.MinReplayRows != nil && *c.MinReplayRows < 0 {
		return scan.ConfigurationError("config", "min_replay_rows must be non-negative, got %d", *c.MinReplayRows)
	}
	if c.Live != nil {
		if err := c.Live.Validate(); err != nil {
			return err
		}
	}
	if c.Analysis != nil {
		if err := c.Analysis.Validate(); err != nil {
			return err
		}
	}
	if c.Outliers != nil && c.Outliers.TooFarM <= c.Outliers.TooCloseM {
		return scan.ConfigurationError("config", "outlier too_far_m %g must exceed too_close_m %g", c.Outliers.TooFarM, c.Outliers.TooCloseM)
	}
	return nil
}

// GetPort returns the serial device path or the default.
func (c *Config) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return DefaultPort
	}
	return *c.Port
}

// GetBaudRate returns the baud rate or the default.
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return serialport.DefaultBaudRate
	}
	return *c.BaudRate
}

// GetReadTimeout parses and returns ReadTimeout.
func (c *Config) GetReadTimeout() time.Duration {
	if c.ReadTimeout == nil || *c.ReadTimeout == "" {
		return serialport.DefaultReadTimeout
	}
	d, err := time.ParseDuration(*c.ReadTimeout)
	if err != nil {
		return serialport.DefaultReadTimeout
	}
	return d
}

// GetMotorPWM returns the motor duty or the default.
func (c *Config) GetMotorPWM() int {
	if c.MotorPWM == nil {
		return rplidar.DefaultMotorPWM
	}
	return *c.MotorPWM
}

// GetMaxBufMeas returns max_buf_meas or the default.
func (c *Config) GetMaxBufMeas() int {
	if c.MaxBufMeas == nil {
		return acquisition.DefaultMaxBufMeas
	}
	return *c.MaxBufMeas
}

// GetMaxFramePoints returns max_frame_points or the default.
func (c *Config) GetMaxFramePoints() int {
	if c.MaxFramePoints == nil {
		return acquisition.DefaultMaxFramePoints
	}
	return *c.MaxFramePoints
}

// GetMinFramePoints returns min_frame_points or 0.
func (c *Config) GetMinFramePoints() int {
	if c.MinFramePoints == nil {
		return 0
	}
	return *c.MinFramePoints
}

// GetSeconds returns the capture duration. Zero means until interrupted.
func (c *Config) GetSeconds() int {
	if c.Seconds == nil {
		return DefaultSeconds
	}
	return *c.Seconds
}

// GetDecimation returns the decimation factor or 1.
func (c *Config) GetDecimation() int {
	if c.Decimation == nil {
		return 1
	}
	return *c.Decimation
}

// GetLiveThresholds returns the acquisition filter in millimetres.
func (c *Config) GetLiveThresholds() processing.Thresholds {
	if c.Live == nil {
		return processing.LiveThresholds()
	}
	return *c.Live
}

// GetAnalysisThresholds returns the replay filter in metres.
func (c *Config) GetAnalysisThresholds() processing.Thresholds {
	if c.Analysis == nil {
		return processing.AnalysisThresholds()
	}
	return *c.Analysis
}

// GetOutlierThresholds returns the outlier limits in metres.
func (c *Config) GetOutlierThresholds() analysis.OutlierThresholds {
	if c.Outliers == nil {
		return analysis.DefaultOutlierThresholds()
	}
	return *c.Outliers
}

// GetMinReplayRows returns the scan-length floor for replay files.
func (c *Config) GetMinReplayRows() int {
	if c.MinReplayRows == nil {
		return replay.DefaultMinRows
	}
	return *c.MinReplayRows
}

// GetOutputDir returns the directory for capture and analysis files.
func (c *Config) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return DefaultOutputDir
	}
	return *c.OutputDir
}

// GetDBPath returns the capture database path. Empty disables the database.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

// GetChecklist returns the attested pre-run checklist.
func (c *Config) GetChecklist() lifecycle.Checklist {
	if c.Checklist == nil {
		return lifecycle.Checklist{}
	}
	return *c.Checklist
}

// SerialOptions returns the serial link options.
func (c *Config) SerialOptions() serialport.Options {
	return serialport.Options{BaudRate: c.GetBaudRate(), ReadTimeout: c.GetReadTimeout()}
}

// Acquisition returns the frame acquisition config.
func (c *Config) Acquisition() acquisition.Config {
	cfg := acquisition.DefaultConfig()
	live := c.GetLiveThresholds()
	cfg.MaxBufMeas = c.GetMaxBufMeas()
	cfg.MaxFramePoints = c.GetMaxFramePoints()
	cfg.MinFramePoints = c.GetMinFramePoints()
	cfg.Filter = &live
	return cfg
}
