// Package telemetry defines the payload types exchanged between pipeline
// stages: sensor readings, actuation requests, actuator feedback and
// per-operation timing samples. These types are the binding contract for
// every inter-stage queue and for the transport adapters.
package telemetry

import "time"

// SensorKind identifies the physical quantity a sensor measures.
type SensorKind string

const (
	KindForce       SensorKind = "force"       // Newtons
	KindPosition    SensorKind = "position"    // millimetres
	KindVelocity    SensorKind = "velocity"    // millimetres/second
	KindTemperature SensorKind = "temperature" // Celsius
)

// Kinds lists all supported sensor kinds in a stable order.
func Kinds() []SensorKind {
	return []SensorKind{KindForce, KindPosition, KindVelocity, KindTemperature}
}

// Reading is one timestamped sensor observation. The processor replaces
// Value with the filtered value and recomputes IsAnomaly/Confidence; a
// reading is immutable once it leaves the processor.
type Reading struct {
	SensorID    string     `json:"sensor_id"`
	Kind        SensorKind `json:"kind"`
	Value       float64    `json:"value"`
	TimestampMS uint64     `json:"timestamp_ms"`
	IsAnomaly   bool       `json:"is_anomaly"`
	Confidence  float64    `json:"confidence"` // always in [0, 1]
}

// ControlCommand is the output of the PID controller, consumed exactly once
// by the executor.
type ControlCommand struct {
	Kind        string  `json:"kind"`
	Payload     string  `json:"payload,omitempty"`
	TimestampMS uint64  `json:"timestamp_ms"`
	Value       float64 `json:"value"`
}

// ActuationRequest is a prioritised, deadline-bounded request produced by
// the command generator when a reading is anomalous. Requests past their
// deadline are discarded by the executor and counted as misses.
type ActuationRequest struct {
	ID       string         `json:"id"`
	TargetID string         `json:"target_id"`
	Command  ControlCommand `json:"command"`
	Priority uint8          `json:"priority"` // higher = more urgent
	Deadline time.Time      `json:"deadline"`
}

// Expired reports whether the request deadline has passed at the given time.
func (r ActuationRequest) Expired(now time.Time) bool {
	return now.After(r.Deadline)
}

// FeedbackStatus reports the actuator's health after executing a command.
type FeedbackStatus string

const (
	StatusNormal    FeedbackStatus = "normal"
	StatusAdjusting FeedbackStatus = "adjusting"
	StatusWarning   FeedbackStatus = "warning"
	StatusError     FeedbackStatus = "error"
)

// Feedback is produced by the actuator side and consumed by the sensing
// side to recalibrate baselines.
type Feedback struct {
	TimestampMS uint64         `json:"timestamp_ms"`
	ActuatorID  string         `json:"actuator_id"`
	Status      FeedbackStatus `json:"status"`
	Message     string         `json:"message,omitempty"`
}

// OperationSample is one timed, success-flagged execution of a named
// operation. Samples are ephemeral: the metrics collector clears them
// after each reporting window.
type OperationSample struct {
	Operation string        `json:"operation"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
}

// Canonical operation names recorded by the pipeline stages.
const (
	OpReadingGeneration = "sensor_reading_generation"
	OpDataProcessing    = "data_processing"
	OpDataTransmission  = "data_transmission"
	OpControlCompute    = "control_compute"
	OpCommandExecution  = "command_execution"
)

// NowMillis returns the current wall-clock time as Unix milliseconds.
func NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
