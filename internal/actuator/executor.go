// Package actuator hosts the actuation side of the loop: a receiver that
// tracks the latest sensor value, a fixed-interval PID control task, and an
// executor that applies commands and enforces request deadlines.
package actuator

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/fluxline/servoloop/internal/telemetry"
)

// ErrDeadlineExpired is returned when an actuation request arrives past its
// deadline. The request is never executed; it is discarded and counted.
var ErrDeadlineExpired = errors.New("actuator: request deadline expired")

// Recorder receives per-operation timing samples.
type Recorder interface {
	Record(operation string, duration time.Duration, success bool)
}

// RequestLog archives actuation requests and their outcomes.
type RequestLog interface {
	InsertRequest(req telemetry.ActuationRequest, outcome string) error
}

// Executor applies control commands to the (simulated) plant. A request
// whose deadline has passed is discarded, never executed.
type Executor struct {
	logger   *log.Logger
	recorder Recorder
	archive  RequestLog
	now      func() time.Time

	executed atomic.Uint64
	expired  atomic.Uint64
}

// ExecutorConfig configures an Executor. All fields are optional.
type ExecutorConfig struct {
	Logger   *log.Logger
	Recorder Recorder
	Archive  RequestLog
	Now      func() time.Time // injectable clock for tests
}

// NewExecutor creates an Executor from cfg.
func NewExecutor(cfg ExecutorConfig) *Executor {
	e := &Executor{
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		archive:  cfg.Archive,
		now:      cfg.Now,
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ExecuteCommand applies one control command from the scheduled control
// loop. Commands from this path carry no deadline.
func (e *Executor) ExecuteCommand(cmd telemetry.ControlCommand) {
	start := e.now()
	e.apply(cmd)
	e.executed.Add(1)
	e.record(time.Since(start), true)
}

// Execute applies an actuation request unless its deadline has passed, in
// which case the request is discarded and ErrDeadlineExpired returned.
func (e *Executor) Execute(req telemetry.ActuationRequest) error {
	start := e.now()
	if req.Expired(start) {
		e.expired.Add(1)
		e.record(time.Since(start), false)
		e.archiveRequest(req, "expired")
		e.logger.Printf("actuator: discarding request %s for %s: %.0fms past deadline",
			req.ID, req.TargetID, start.Sub(req.Deadline).Seconds()*1000)
		return fmt.Errorf("request %s for %s: %w", req.ID, req.TargetID, ErrDeadlineExpired)
	}

	e.apply(req.Command)
	e.executed.Add(1)
	e.record(time.Since(start), true)
	e.archiveRequest(req, "executed")
	return nil
}

func (e *Executor) archiveRequest(req telemetry.ActuationRequest, outcome string) {
	if e.archive == nil {
		return
	}
	if err := e.archive.InsertRequest(req, outcome); err != nil {
		e.logger.Printf("actuator: archive request %s: %v", req.ID, err)
	}
}

func (e *Executor) apply(cmd telemetry.ControlCommand) {
	if cmd.Payload != "" {
		e.logger.Printf("actuator: executing %s value=%.4f (%s)", cmd.Kind, cmd.Value, cmd.Payload)
		return
	}
	e.logger.Printf("actuator: executing %s value=%.4f", cmd.Kind, cmd.Value)
}

func (e *Executor) record(d time.Duration, success bool) {
	if e.recorder != nil {
		e.recorder.Record(telemetry.OpCommandExecution, d, success)
	}
}

// Executed returns the number of commands applied to the plant.
func (e *Executor) Executed() uint64 { return e.executed.Load() }

// Expired returns the number of requests discarded past deadline.
func (e *Executor) Expired() uint64 { return e.expired.Load() }
