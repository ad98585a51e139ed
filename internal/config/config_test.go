package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := &Config{}

	if got := cfg.GetSampleInterval(); got != 5*time.Millisecond {
		t.Errorf("GetSampleInterval() = %v, want 5ms", got)
	}
	if got := cfg.GetAnomalyRate(); got != 0.01 {
		t.Errorf("GetAnomalyRate() = %f, want 0.01", got)
	}
	if got := cfg.GetMinSamples(); got != 10 {
		t.Errorf("GetMinSamples() = %d, want 10", got)
	}
	kp, ki, kd := cfg.GetGains()
	if kp != 1.0 || ki != 0.1 || kd != 0.05 {
		t.Errorf("GetGains() = %f/%f/%f, want 1.0/0.1/0.05", kp, ki, kd)
	}
	if got := cfg.GetSetpoint(); got != 50.0 {
		t.Errorf("GetSetpoint() = %f, want 50.0", got)
	}
	if got := cfg.GetConnectionType(); got != "channel" {
		t.Errorf("GetConnectionType() = %q, want channel", got)
	}
	if got := cfg.GetReportInterval(); got != time.Second {
		t.Errorf("GetReportInterval() = %v, want 1s", got)
	}
	if cfg.GetArchiveEnabled() {
		t.Error("archive should be disabled by default")
	}
}

func TestDefaultMatchesAccessors(t *testing.T) {
	cfg := Default()
	empty := &Config{}

	if cfg.GetSampleInterval() != empty.GetSampleInterval() {
		t.Errorf("Default sample interval %v disagrees with accessor fallback %v",
			cfg.GetSampleInterval(), empty.GetSampleInterval())
	}
	if cfg.GetHorizon() != empty.GetHorizon() {
		t.Errorf("Default horizon %v disagrees with accessor fallback %v",
			cfg.GetHorizon(), empty.GetHorizon())
	}
	if cfg.GetControlInterval() != empty.GetControlInterval() {
		t.Errorf("Default control interval %v disagrees with accessor fallback %v",
			cfg.GetControlInterval(), empty.GetControlInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "loop.json")

	testJSON := `{
  "sensors": {"sample_interval": "2ms", "anomaly_rate": 0.05},
  "control": {"kp": 2.5, "setpoint": 75.0},
  "processor": {"thresholds": {"force": 2.0}}
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.GetSampleInterval(); got != 2*time.Millisecond {
		t.Errorf("GetSampleInterval() = %v, want 2ms", got)
	}
	if got := cfg.GetAnomalyRate(); got != 0.05 {
		t.Errorf("GetAnomalyRate() = %f, want 0.05", got)
	}
	kp, ki, _ := cfg.GetGains()
	if kp != 2.5 {
		t.Errorf("kp = %f, want 2.5", kp)
	}
	// Omitted fields keep defaults.
	if ki != 0.1 {
		t.Errorf("ki = %f, want default 0.1", ki)
	}
	if got := cfg.Processor.Thresholds["force"]; got != 2.0 {
		t.Errorf("force threshold = %f, want 2.0", got)
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	tmpDir := t.TempDir()

	cases := []struct {
		name string
		file string
		body string
	}{
		{"not json extension", "loop.yaml", `{}`},
		{"malformed json", "broken.json", `{"sensors": `},
		{"anomaly rate out of range", "rate.json", `{"sensors": {"anomaly_rate": 1.5}}`},
		{"unknown connection type", "conn.json", `{"transport": {"connection_type": "carrier_pigeon"}}`},
		{"bad duration", "dur.json", `{"control": {"interval": "fast"}}`},
		{"negative threshold", "thr.json", `{"processor": {"thresholds": {"force": -1}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tc.file)
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() accepted an invalid config")
			}
		})
	}

	if _, err := Load(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("Load() accepted a missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "saved.json")

	cfg := Default()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after Save error = %v", err)
	}
	if loaded.GetSetpoint() != cfg.GetSetpoint() {
		t.Errorf("setpoint %f did not round-trip, got %f", cfg.GetSetpoint(), loaded.GetSetpoint())
	}
	if loaded.GetConnectionType() != cfg.GetConnectionType() {
		t.Errorf("connection type %q did not round-trip, got %q",
			cfg.GetConnectionType(), loaded.GetConnectionType())
	}
}

func TestGetBudgetsMergesOverrides(t *testing.T) {
	defaults := map[string]time.Duration{
		"data_processing":   2 * time.Millisecond,
		"data_transmission": time.Millisecond,
	}
	cfg := &Config{Metrics: MetricsConfig{Budgets: map[string]string{
		"data_processing": "4ms",
	}}}

	budgets := cfg.GetBudgets(defaults)
	if budgets["data_processing"] != 4*time.Millisecond {
		t.Errorf("override not applied: %v", budgets["data_processing"])
	}
	if budgets["data_transmission"] != time.Millisecond {
		t.Errorf("default clobbered: %v", budgets["data_transmission"])
	}
}
