// Package pipeline wires the stages into a running closed loop: sensors
// feed the processor, filtered readings cross the transport to the
// actuation system, and actuator feedback returns to the sensing side.
//
// Stages share no mutable state; they communicate only through bounded
// channels. Shutdown cascades along the data path: cancelling the context
// stops the sensors, the closed readings channel drains through the
// processor and transmitter, closing the transport stops the actuator, and
// the actuator closing its feedback stream stops the feedback receiver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxline/servoloop/internal/actuator"
	"github.com/fluxline/servoloop/internal/command"
	"github.com/fluxline/servoloop/internal/process"
	"github.com/fluxline/servoloop/internal/sensor"
	"github.com/fluxline/servoloop/internal/telemetry"
	"github.com/fluxline/servoloop/internal/transport"
)

// DefaultQueueDepth bounds every inter-stage channel. A full queue blocks
// its producer, which is the pipeline's backpressure mechanism.
const DefaultQueueDepth = 100

// Recorder receives per-operation timing samples.
type Recorder interface {
	Record(operation string, duration time.Duration, success bool)
}

// Config assembles a Pipeline. Processor, Commands and Transport are
// required. System and ActuatorInput are set together for in-process runs;
// leaving them nil sends readings to a remote peer instead.
type Config struct {
	Sensors   []*sensor.Generator
	Processor *process.Processor
	Commands  *command.Generator
	Transport transport.Transport

	// System is the in-process actuation side. ActuatorInput is the
	// receive end of the transport it consumes, and FeedbackReturn the
	// send end its feedback flows back through (for a ChannelTransport,
	// Readings() and FeedbackWriter()).
	System         *actuator.System
	ActuatorInput  <-chan telemetry.Reading
	FeedbackReturn chan<- telemetry.Feedback

	Recorder   Recorder
	Logger     *log.Logger
	QueueDepth int
}

// Pipeline is the running loop. Create with New, drive with Run.
type Pipeline struct {
	cfg    Config
	logger *log.Logger
	depth  int

	processed       atomic.Uint64
	requestsIssued  atomic.Uint64
	recalibrations  atomic.Uint64
	feedbackDropped atomic.Uint64
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Processor == nil {
		return nil, errors.New("pipeline: processor is required")
	}
	if cfg.Commands == nil {
		return nil, errors.New("pipeline: command generator is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("pipeline: transport is required")
	}
	if cfg.System != nil && (cfg.ActuatorInput == nil || cfg.FeedbackReturn == nil) {
		return nil, errors.New("pipeline: actuation system needs an input stream and a feedback return")
	}

	p := &Pipeline{cfg: cfg, logger: cfg.Logger, depth: cfg.QueueDepth}
	if p.logger == nil {
		p.logger = log.Default()
	}
	if p.depth <= 0 {
		p.depth = DefaultQueueDepth
	}
	return p, nil
}

// Run connects the transport, starts every stage and blocks until ctx is
// cancelled and the loop has drained.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.cfg.Transport.Connect(); err != nil {
		return fmt.Errorf("pipeline: transport connect: %w", err)
	}

	raw := make(chan telemetry.Reading, p.depth)
	filtered := make(chan telemetry.Reading, p.depth)
	requests := make(chan telemetry.ActuationRequest, p.depth)
	procFeedback := make(chan telemetry.Feedback, p.depth)
	actFeedback := make(chan telemetry.Feedback, p.depth)

	var stages sync.WaitGroup

	// Sensors. Closing raw when they stop starts the shutdown cascade.
	stages.Add(1)
	go func() {
		defer stages.Done()
		defer close(raw)
		sensor.RunArray(ctx, p.cfg.Sensors, raw)
		p.logger.Printf("pipeline: sensor array stopped")
	}()

	// Processing: filter readings, grade anomalies into requests, and
	// apply feedback-driven recalibration. This goroutine owns the
	// processor, so recalibration needs no locking against Process.
	stages.Add(1)
	go func() {
		defer stages.Done()
		defer close(filtered)
		defer close(requests)
		p.processLoop(raw, filtered, requests, procFeedback)
		p.logger.Printf("pipeline: processing stage stopped")
	}()

	// Transmitter: push filtered readings across the transport.
	stages.Add(1)
	go func() {
		defer stages.Done()
		p.transmitLoop(filtered)
		p.logger.Printf("pipeline: transmitter stopped")
	}()

	// Actuation side, when running in-process. It stops via the transport
	// close cascade rather than ctx, so in-flight sends always drain.
	var actuation sync.WaitGroup
	if p.cfg.System != nil {
		actuation.Add(1)
		go func() {
			defer actuation.Done()
			if err := p.cfg.System.Run(context.Background(), p.cfg.ActuatorInput, requests, actFeedback); err != nil {
				p.logger.Printf("pipeline: actuation system: %v", err)
			}
		}()

		actuation.Add(1)
		go func() {
			defer actuation.Done()
			for fb := range actFeedback {
				p.cfg.FeedbackReturn <- fb
			}
			close(p.cfg.FeedbackReturn)
		}()
	} else {
		close(actFeedback)
		// Without an in-process actuation side, request delivery belongs to
		// the remote peer; drain locally so the processing stage never
		// stalls on a full queue.
		actuation.Add(1)
		go func() {
			defer actuation.Done()
			for req := range requests {
				p.logger.Printf("pipeline: request %s for %s (priority %d) awaiting remote actuation", req.ID, req.TargetID, req.Priority)
			}
		}()
	}

	// Feedback receiver: pull actuator feedback off the transport and hand
	// it to the processing stage. Drops rather than blocks when the
	// processing stage is saturated: recalibration hints are advisory.
	var receiver sync.WaitGroup
	receiver.Add(1)
	go func() {
		defer receiver.Done()
		defer close(procFeedback)
		p.feedbackLoop(procFeedback)
		p.logger.Printf("pipeline: feedback receiver stopped")
	}()

	stages.Wait()
	if err := p.cfg.Transport.Close(); err != nil {
		p.logger.Printf("pipeline: transport close: %v", err)
	}
	actuation.Wait()
	receiver.Wait()
	return ctx.Err()
}

func (p *Pipeline) processLoop(raw <-chan telemetry.Reading,
	filtered chan<- telemetry.Reading,
	requests chan<- telemetry.ActuationRequest,
	feedback <-chan telemetry.Feedback) {

	for {
		select {
		case r, ok := <-raw:
			if !ok {
				return
			}
			res := p.cfg.Processor.Process(r)
			p.processed.Add(1)
			filtered <- res.Reading
			if req := p.cfg.Commands.Generate(res.Reading, res.ZScore, res.Threshold); req != nil {
				p.requestsIssued.Add(1)
				requests <- *req
			}
		case fb, ok := <-feedback:
			if !ok {
				feedback = nil
				continue
			}
			p.applyFeedback(fb)
		}
	}
}

// applyFeedback recalibrates the named sensor's baseline when the actuator
// reports trouble. Normal and adjusting statuses are informational.
func (p *Pipeline) applyFeedback(fb telemetry.Feedback) {
	switch fb.Status {
	case telemetry.StatusWarning, telemetry.StatusError:
		p.logger.Printf("pipeline: feedback %s from %s (%s), recalibrating", fb.Status, fb.ActuatorID, fb.Message)
		p.cfg.Processor.Recalibrate(fb.ActuatorID)
		p.recalibrations.Add(1)
	}
}

func (p *Pipeline) transmitLoop(filtered <-chan telemetry.Reading) {
	for r := range filtered {
		d, err := p.cfg.Transport.Send(r)
		if p.cfg.Recorder != nil {
			p.cfg.Recorder.Record(telemetry.OpDataTransmission, d, err == nil)
		}
		if err != nil {
			// Transient send failures are recorded, never fatal.
			p.logger.Printf("pipeline: send %s reading: %v", r.SensorID, err)
		}
	}
}

func (p *Pipeline) feedbackLoop(procFeedback chan<- telemetry.Feedback) {
	for {
		fb, err := p.cfg.Transport.ReceiveFeedback()
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) {
				p.logger.Printf("pipeline: receive feedback: %v", err)
			}
			return
		}
		select {
		case procFeedback <- fb:
		default:
			p.feedbackDropped.Add(1)
		}
	}
}

// Processed returns the number of readings that passed through the
// processing stage.
func (p *Pipeline) Processed() uint64 { return p.processed.Load() }

// RequestsIssued returns the number of actuation requests generated.
func (p *Pipeline) RequestsIssued() uint64 { return p.requestsIssued.Load() }

// Recalibrations returns how many warning/error feedbacks reset a sensor
// baseline.
func (p *Pipeline) Recalibrations() uint64 { return p.recalibrations.Load() }
