package actuator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fluxline/servoloop/internal/control"
	"github.com/fluxline/servoloop/internal/telemetry"
)

// Default tuning for the actuation system.
const (
	DefaultActuatorID    = "actuator_1"
	DefaultSetpoint      = 50.0
	DefaultInterval      = 5 * time.Millisecond
	DefaultAdjustingBand = 5.0
)

// SystemConfig configures a System. Controller and Executor are required;
// zero values elsewhere fall back to the defaults above.
type SystemConfig struct {
	ActuatorID string
	// Setpoint is the control target the PID steers measurements toward.
	Setpoint float64
	// Interval is the control loop period; dt passed to the controller is
	// derived from it.
	Interval   time.Duration
	Controller *control.PID
	Executor   *Executor
	// AdjustingBand is the command magnitude above which feedback reports
	// the actuator as adjusting rather than normal.
	AdjustingBand float64
	Recorder      Recorder
	Logger        *log.Logger
}

// System is the actuation side of the loop. A receiver goroutine keeps the
// latest reading in a single-value slot; the fixed-interval control task
// reads the slot, computes a PID command, executes it and emits feedback.
// Anomaly-driven actuation requests are consumed on a separate goroutine
// and checked against their deadlines before execution.
type System struct {
	actuatorID    string
	setpoint      float64
	interval      time.Duration
	controller    *control.PID
	executor      *Executor
	adjustingBand float64
	recorder      Recorder
	logger        *log.Logger

	latest    *control.Slot[telemetry.Reading]
	scheduler *control.Scheduler
}

// NewSystem creates a System from cfg.
func NewSystem(cfg SystemConfig) (*System, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("actuator: controller is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("actuator: executor is required")
	}

	s := &System{
		actuatorID:    cfg.ActuatorID,
		setpoint:      cfg.Setpoint,
		interval:      cfg.Interval,
		controller:    cfg.Controller,
		executor:      cfg.Executor,
		adjustingBand: cfg.AdjustingBand,
		recorder:      cfg.Recorder,
		logger:        cfg.Logger,
		latest:        control.NewSlot[telemetry.Reading](),
	}
	if s.actuatorID == "" {
		s.actuatorID = DefaultActuatorID
	}
	if s.setpoint == 0 {
		s.setpoint = DefaultSetpoint
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.adjustingBand <= 0 {
		s.adjustingBand = DefaultAdjustingBand
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	s.scheduler = control.NewScheduler(control.SchedulerConfig{
		Interval: s.interval,
		Logger:   s.logger,
	})
	return s, nil
}

// Run drives the actuation side until ctx is cancelled or the readings
// channel closes. Feedback for every executed or discarded command is sent
// on feedback, which Run closes before returning.
func (s *System) Run(ctx context.Context,
	readings <-chan telemetry.Reading,
	requests <-chan telemetry.ActuationRequest,
	feedback chan<- telemetry.Feedback) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(feedback)

	var wg sync.WaitGroup

	// Receiver: keep only the newest reading. The control loop runs on its
	// own clock, so stale intermediates are deliberately dropped.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-readings:
				if !ok {
					s.logger.Printf("actuator: readings channel closed, stopping")
					cancel()
					return
				}
				s.latest.Put(r)
			}
		}
	}()

	// Anomaly-driven requests bypass the control clock but not the
	// deadline check.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-requests:
				if !ok {
					return
				}
				if err := s.executor.Execute(req); err != nil {
					s.emit(ctx, feedback, req.TargetID, telemetry.StatusWarning,
						fmt.Sprintf("discarded %s: deadline expired", req.ID))
					continue
				}
				s.emit(ctx, feedback, req.TargetID, telemetry.StatusAdjusting,
					fmt.Sprintf("executed %s priority=%d", req.ID, req.Priority))
			}
		}
	}()

	err := s.scheduler.Run(ctx, func(now time.Time) {
		s.controlTick(ctx, now, feedback)
	})

	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// controlTick runs one iteration of the control loop: latest reading in,
// PID command out.
func (s *System) controlTick(ctx context.Context, now time.Time, feedback chan<- telemetry.Feedback) {
	reading, ok := s.latest.Get()
	if !ok {
		return // no sensor data yet
	}

	start := time.Now()
	value, err := s.controller.Compute(s.setpoint, reading.Value, s.interval.Seconds())
	if s.recorder != nil {
		s.recorder.Record(telemetry.OpControlCompute, time.Since(start), err == nil)
	}
	if err != nil {
		s.logger.Printf("actuator: control compute rejected input from %s: %v", reading.SensorID, err)
		s.emit(ctx, feedback, s.actuatorID, telemetry.StatusError,
			fmt.Sprintf("control compute failed: %v", err))
		return
	}

	s.executor.ExecuteCommand(telemetry.ControlCommand{
		Kind:        "pid_adjust",
		TimestampMS: uint64(now.UnixMilli()),
		Value:       value,
	})

	status := telemetry.StatusNormal
	if value > s.adjustingBand || value < -s.adjustingBand {
		status = telemetry.StatusAdjusting
	}
	s.emit(ctx, feedback, s.actuatorID, status, "")
}

func (s *System) emit(ctx context.Context, feedback chan<- telemetry.Feedback, actuatorID string, status telemetry.FeedbackStatus, msg string) {
	fb := telemetry.Feedback{
		TimestampMS: telemetry.NowMillis(),
		ActuatorID:  actuatorID,
		Status:      status,
		Message:     msg,
	}
	select {
	case feedback <- fb:
	case <-ctx.Done():
	}
}
