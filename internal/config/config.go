// Package config loads the loop's JSON configuration. Every field is a
// pointer so partial configs are safe: fields omitted from the JSON keep
// their defaults, supplied by the Get* accessors.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is where the main binary looks for its configuration
// when no -config flag is given.
const DefaultConfigPath = "config/servoloop.json"

// Config is the root configuration. The schema mirrors the sections of the
// running loop: sensing, processing, command grading, control, transport,
// metrics and the optional archive/monitor surfaces.
type Config struct {
	Sensors   SensorsConfig   `json:"sensors"`
	Processor ProcessorConfig `json:"processor"`
	Command   CommandConfig   `json:"command"`
	Control   ControlConfig   `json:"control"`
	Transport TransportConfig `json:"transport"`
	Metrics   MetricsConfig   `json:"metrics"`
	Archive   ArchiveConfig   `json:"archive"`
}

// SensorsConfig tunes the simulated sensor array.
type SensorsConfig struct {
	SampleInterval *string  `json:"sample_interval,omitempty"` // duration string like "5ms"
	AnomalyRate    *float64 `json:"anomaly_rate,omitempty"`    // 0.0-1.0
	Seed           *int64   `json:"seed,omitempty"`            // 0 seeds from the clock
}

// ProcessorConfig tunes statistical filtering and anomaly detection.
type ProcessorConfig struct {
	MinSamples *int `json:"min_samples,omitempty"`
	// Thresholds overrides the per-kind z-score thresholds, keyed by
	// sensor kind name.
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

// CommandConfig tunes actuation request grading.
type CommandConfig struct {
	BasePriority *int     `json:"base_priority,omitempty"`
	PriorityGain *float64 `json:"priority_gain,omitempty"`
	Horizon      *string  `json:"deadline_horizon,omitempty"` // duration string
	MinWindow    *string  `json:"min_window,omitempty"`       // duration string
}

// ControlConfig tunes the PID loop.
type ControlConfig struct {
	Kp              *float64 `json:"kp,omitempty"`
	Ki              *float64 `json:"ki,omitempty"`
	Kd              *float64 `json:"kd,omitempty"`
	Setpoint        *float64 `json:"setpoint,omitempty"`
	Interval        *string  `json:"interval,omitempty"` // duration string
	AntiWindup      *string  `json:"anti_windup,omitempty"`
	AntiWindupLimit *float64 `json:"anti_windup_limit,omitempty"`
}

// TransportConfig selects and tunes the sensing-to-actuation medium.
type TransportConfig struct {
	ConnectionType *string `json:"connection_type,omitempty"` // "channel", "tcp" or "serial"
	Endpoint       *string `json:"endpoint,omitempty"`        // tcp address:port
	SerialPath     *string `json:"serial_path,omitempty"`
	BaudRate       *int    `json:"baud_rate,omitempty"`
	QueueDepth     *int    `json:"queue_depth,omitempty"`
	RetryAttempts  *int    `json:"retry_attempts,omitempty"`
	RetryBackoff   *string `json:"retry_backoff,omitempty"` // duration string
}

// MetricsConfig tunes reporting cadence and destinations.
type MetricsConfig struct {
	ReportInterval *string `json:"report_interval,omitempty"` // duration string
	LogToFile      *bool   `json:"log_to_file,omitempty"`
	LogFile        *string `json:"log_file,omitempty"`
	// Budgets overrides per-operation latency budgets, keyed by operation
	// name, as duration strings.
	Budgets map[string]string `json:"budgets,omitempty"`
}

// ArchiveConfig tunes the sqlite report archive.
type ArchiveConfig struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Path    *string `json:"path,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// Default returns a fully populated Config matching the Get* fallbacks,
// suitable for writing a starter file.
func Default() *Config {
	return &Config{
		Sensors: SensorsConfig{
			SampleInterval: ptrString("5ms"),
			AnomalyRate:    ptrFloat64(0.01),
			Seed:           ptrInt64(0),
		},
		Processor: ProcessorConfig{
			MinSamples: ptrInt(10),
		},
		Command: CommandConfig{
			BasePriority: ptrInt(10),
			PriorityGain: ptrFloat64(20.0),
			Horizon:      ptrString("2s"),
			MinWindow:    ptrString("100ms"),
		},
		Control: ControlConfig{
			Kp:              ptrFloat64(1.0),
			Ki:              ptrFloat64(0.1),
			Kd:              ptrFloat64(0.05),
			Setpoint:        ptrFloat64(50.0),
			Interval:        ptrString("5ms"),
			AntiWindup:      ptrString("clamp-integral"),
			AntiWindupLimit: ptrFloat64(100.0),
		},
		Transport: TransportConfig{
			ConnectionType: ptrString("channel"),
			Endpoint:       ptrString("127.0.0.1:8080"),
			QueueDepth:     ptrInt(100),
			RetryAttempts:  ptrInt(3),
			RetryBackoff:   ptrString("100ms"),
		},
		Metrics: MetricsConfig{
			ReportInterval: ptrString("1s"),
			LogToFile:      ptrBool(false),
			LogFile:        ptrString("metrics.log"),
		},
		Archive: ArchiveConfig{
			Enabled: ptrBool(false),
			Path:    ptrString("servoloop.db"),
		},
	}
}

// Load reads and validates a Config from a JSON file. Fields omitted from
// the file keep their defaults via the Get* accessors.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks that supplied values are in range and duration strings
// parse. Nil fields are valid; they fall back to defaults.
func (c *Config) Validate() error {
	if c.Sensors.AnomalyRate != nil {
		if r := *c.Sensors.AnomalyRate; r < 0 || r > 1 {
			return fmt.Errorf("anomaly_rate must be between 0 and 1, got %f", r)
		}
	}
	if c.Processor.MinSamples != nil && *c.Processor.MinSamples < 1 {
		return fmt.Errorf("min_samples must be positive, got %d", *c.Processor.MinSamples)
	}
	for kind, threshold := range c.Processor.Thresholds {
		if threshold <= 0 {
			return fmt.Errorf("threshold for %q must be positive, got %f", kind, threshold)
		}
	}
	if c.Command.BasePriority != nil {
		if p := *c.Command.BasePriority; p < 0 || p > 255 {
			return fmt.Errorf("base_priority must be between 0 and 255, got %d", p)
		}
	}
	if c.Transport.ConnectionType != nil {
		switch *c.Transport.ConnectionType {
		case "channel", "tcp", "serial":
		default:
			return fmt.Errorf("unknown connection_type %q", *c.Transport.ConnectionType)
		}
	}
	if c.Transport.BaudRate != nil && *c.Transport.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.Transport.BaudRate)
	}

	durations := map[string]*string{
		"sample_interval":  c.Sensors.SampleInterval,
		"deadline_horizon": c.Command.Horizon,
		"min_window":       c.Command.MinWindow,
		"interval":         c.Control.Interval,
		"retry_backoff":    c.Transport.RetryBackoff,
		"report_interval":  c.Metrics.ReportInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		if _, err := time.ParseDuration(*v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *v, err)
		}
	}
	for op, v := range c.Metrics.Budgets {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid budget for %q: %w", op, err)
		}
	}
	return nil
}

func duration(v *string, fallback time.Duration) time.Duration {
	if v == nil || *v == "" {
		return fallback
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fallback
	}
	return d
}

// GetSampleInterval returns the sensor sampling period.
func (c *Config) GetSampleInterval() time.Duration {
	return duration(c.Sensors.SampleInterval, 5*time.Millisecond)
}

// GetAnomalyRate returns the injected anomaly probability.
func (c *Config) GetAnomalyRate() float64 {
	if c.Sensors.AnomalyRate == nil {
		return 0.01
	}
	return *c.Sensors.AnomalyRate
}

// GetSeed returns the sensor array seed.
func (c *Config) GetSeed() int64 {
	if c.Sensors.Seed == nil {
		return 0
	}
	return *c.Sensors.Seed
}

// GetMinSamples returns the processor's detection warm-up count.
func (c *Config) GetMinSamples() int {
	if c.Processor.MinSamples == nil {
		return 10
	}
	return *c.Processor.MinSamples
}

// GetBasePriority returns the request priority at zero urgency.
func (c *Config) GetBasePriority() uint8 {
	if c.Command.BasePriority == nil {
		return 10
	}
	return uint8(*c.Command.BasePriority)
}

// GetPriorityGain returns the z-score priority multiplier.
func (c *Config) GetPriorityGain() float64 {
	if c.Command.PriorityGain == nil {
		return 20.0
	}
	return *c.Command.PriorityGain
}

// GetHorizon returns the deadline window at zero urgency.
func (c *Config) GetHorizon() time.Duration {
	return duration(c.Command.Horizon, 2*time.Second)
}

// GetMinWindow returns the tightest allowed deadline window.
func (c *Config) GetMinWindow() time.Duration {
	return duration(c.Command.MinWindow, 100*time.Millisecond)
}

// GetGains returns the PID gains.
func (c *Config) GetGains() (kp, ki, kd float64) {
	kp, ki, kd = 1.0, 0.1, 0.05
	if c.Control.Kp != nil {
		kp = *c.Control.Kp
	}
	if c.Control.Ki != nil {
		ki = *c.Control.Ki
	}
	if c.Control.Kd != nil {
		kd = *c.Control.Kd
	}
	return kp, ki, kd
}

// GetSetpoint returns the control target.
func (c *Config) GetSetpoint() float64 {
	if c.Control.Setpoint == nil {
		return 50.0
	}
	return *c.Control.Setpoint
}

// GetControlInterval returns the control loop period.
func (c *Config) GetControlInterval() time.Duration {
	return duration(c.Control.Interval, 5*time.Millisecond)
}

// GetAntiWindup returns the anti-windup policy name and limit.
func (c *Config) GetAntiWindup() (policy string, limit float64) {
	policy, limit = "clamp-integral", 100.0
	if c.Control.AntiWindup != nil {
		policy = *c.Control.AntiWindup
	}
	if c.Control.AntiWindupLimit != nil {
		limit = *c.Control.AntiWindupLimit
	}
	return policy, limit
}

// GetConnectionType returns the transport medium name.
func (c *Config) GetConnectionType() string {
	if c.Transport.ConnectionType == nil {
		return "channel"
	}
	return *c.Transport.ConnectionType
}

// GetEndpoint returns the TCP endpoint.
func (c *Config) GetEndpoint() string {
	if c.Transport.Endpoint == nil {
		return "127.0.0.1:8080"
	}
	return *c.Transport.Endpoint
}

// GetSerialPath returns the serial device path.
func (c *Config) GetSerialPath() string {
	if c.Transport.SerialPath == nil {
		return ""
	}
	return *c.Transport.SerialPath
}

// GetBaudRate returns the serial baud rate.
func (c *Config) GetBaudRate() int {
	if c.Transport.BaudRate == nil {
		return 115200
	}
	return *c.Transport.BaudRate
}

// GetQueueDepth returns the inter-stage channel capacity.
func (c *Config) GetQueueDepth() int {
	if c.Transport.QueueDepth == nil {
		return 100
	}
	return *c.Transport.QueueDepth
}

// GetRetryAttempts returns the bounded retry count for transient
// transport failures.
func (c *Config) GetRetryAttempts() int {
	if c.Transport.RetryAttempts == nil {
		return 3
	}
	return *c.Transport.RetryAttempts
}

// GetRetryBackoff returns the fixed backoff between retries.
func (c *Config) GetRetryBackoff() time.Duration {
	return duration(c.Transport.RetryBackoff, 100*time.Millisecond)
}

// GetReportInterval returns the metrics reporting cadence.
func (c *Config) GetReportInterval() time.Duration {
	return duration(c.Metrics.ReportInterval, time.Second)
}

// GetLogToFile reports whether metrics reports are appended to a file.
func (c *Config) GetLogToFile() bool {
	if c.Metrics.LogToFile == nil {
		return false
	}
	return *c.Metrics.LogToFile
}

// GetLogFile returns the metrics log path.
func (c *Config) GetLogFile() string {
	if c.Metrics.LogFile == nil {
		return "metrics.log"
	}
	return *c.Metrics.LogFile
}

// GetBudgets parses the budget overrides; operations not named keep their
// built-in budgets.
func (c *Config) GetBudgets(defaults map[string]time.Duration) map[string]time.Duration {
	budgets := make(map[string]time.Duration, len(defaults))
	for op, d := range defaults {
		budgets[op] = d
	}
	for op, v := range c.Metrics.Budgets {
		if d, err := time.ParseDuration(v); err == nil {
			budgets[op] = d
		}
	}
	return budgets
}

// GetArchiveEnabled reports whether reports are written to sqlite.
func (c *Config) GetArchiveEnabled() bool {
	if c.Archive.Enabled == nil {
		return false
	}
	return *c.Archive.Enabled
}

// GetArchivePath returns the sqlite database path.
func (c *Config) GetArchivePath() string {
	if c.Archive.Path == nil {
		return "servoloop.db"
	}
	return *c.Archive.Path
}
