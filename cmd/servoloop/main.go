// Command servoloop runs the closed sensing/actuation loop: simulated
// sensors, statistical filtering, anomaly-driven actuation requests, a
// PID control loop, and periodic operation reports.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fluxline/servoloop/internal/actuator"
	"github.com/fluxline/servoloop/internal/command"
	"github.com/fluxline/servoloop/internal/config"
	"github.com/fluxline/servoloop/internal/control"
	"github.com/fluxline/servoloop/internal/loopdb"
	"github.com/fluxline/servoloop/internal/metrics"
	"github.com/fluxline/servoloop/internal/monitor"
	"github.com/fluxline/servoloop/internal/pipeline"
	"github.com/fluxline/servoloop/internal/process"
	"github.com/fluxline/servoloop/internal/report"
	"github.com/fluxline/servoloop/internal/sensor"
	"github.com/fluxline/servoloop/internal/telemetry"
	"github.com/fluxline/servoloop/internal/transport"
	"github.com/fluxline/servoloop/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to JSON config (defaults apply when empty)")
	listen     = flag.String("listen", "", "Monitor HTTP listen address (disabled when empty)")
	duration   = flag.Duration("duration", 0, "Stop after this long (runs until SIGINT/SIGTERM when 0)")
	plotsDir   = flag.String("plots", "", "Write per-operation latency PNGs to this directory on shutdown")
)

func main() {
	flag.Parse()
	log.Printf("servoloop %s", version.String())

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	// Metrics sinks: console report, optional archive, optional monitor,
	// optional PNG plotter.
	collector := metrics.NewCollector(cfg.GetBudgets(metrics.DefaultBudgets()))

	var reportOpts []report.Option
	if cfg.GetLogToFile() {
		reportOpts = append(reportOpts, report.WithLogFile(cfg.GetLogFile()))
	}
	sinks := []metrics.ReportSink{report.NewWriter(os.Stdout, reportOpts...)}

	var archive *loopdb.DB
	if cfg.GetArchiveEnabled() {
		var err error
		archive, err = loopdb.Open(cfg.GetArchivePath())
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		defer archive.Close()
		sinks = append(sinks, archive)
	}

	var webServer *monitor.WebServer
	if *listen != "" {
		webServer = monitor.NewWebServer(*listen, archive)
		sinks = append(sinks, webServer)
	}

	var plotter *monitor.DurationPlotter
	if *plotsDir != "" {
		plotter = monitor.NewDurationPlotter()
		sinks = append(sinks, plotter)
	}

	// Control and actuation.
	policyName, limit := cfg.GetAntiWindup()
	policy, err := control.ParseClampPolicy(policyName)
	if err != nil {
		log.Fatalf("invalid anti-windup policy: %v", err)
	}
	kp, ki, kd := cfg.GetGains()
	pid := control.NewPID(kp, ki, kd).WithAntiWindup(policy, limit)

	executor := actuator.NewExecutor(actuator.ExecutorConfig{
		Recorder: collector,
		Archive:  requestLog(archive),
	})
	system, err := actuator.NewSystem(actuator.SystemConfig{
		Setpoint:   cfg.GetSetpoint(),
		Interval:   cfg.GetControlInterval(),
		Controller: pid,
		Executor:   executor,
		Recorder:   collector,
	})
	if err != nil {
		log.Fatalf("failed to build actuation system: %v", err)
	}

	// Transport. The actuation side runs in-process only over the channel
	// medium; tcp and serial hand readings to a remote peer.
	tr, err := transport.New(transport.Options{
		Type:       cfg.GetConnectionType(),
		Endpoint:   cfg.GetEndpoint(),
		SerialPath: cfg.GetSerialPath(),
		BaudRate:   cfg.GetBaudRate(),
		Buffer:     cfg.GetQueueDepth(),
	})
	if err != nil {
		log.Fatalf("failed to build transport: %v", err)
	}

	pipeCfg := pipeline.Config{
		Sensors: sensor.NewArray(sensor.ArrayConfig{
			SampleInterval: cfg.GetSampleInterval(),
			AnomalyRate:    cfg.GetAnomalyRate(),
			Seed:           cfg.GetSeed(),
			Recorder:       collector,
		}),
		Processor: newProcessor(cfg, collector),
		Commands: command.NewGenerator(command.Config{
			BasePriority: cfg.GetBasePriority(),
			PriorityGain: cfg.GetPriorityGain(),
			Horizon:      cfg.GetHorizon(),
			MinWindow:    cfg.GetMinWindow(),
		}),
		Recorder:   collector,
		QueueDepth: cfg.GetQueueDepth(),
	}

	if ch, ok := tr.(*transport.ChannelTransport); ok {
		pipeCfg.Transport = ch
		pipeCfg.System = system
		pipeCfg.ActuatorInput = ch.Readings()
		pipeCfg.FeedbackReturn = ch.FeedbackWriter()
	} else {
		pipeCfg.Transport = transport.WithRetry(tr, transport.RetryConfig{
			Attempts: cfg.GetRetryAttempts(),
			Backoff:  cfg.GetRetryBackoff(),
		})
	}

	pipe, err := pipeline.New(pipeCfg)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	runner := metrics.NewRunner(metrics.RunnerConfig{
		Collector: collector,
		Interval:  cfg.GetReportInterval(),
		Sinks:     sinks,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Printf("pipeline terminated: %v", err)
		}
		// The loop is done; no more reports or monitor traffic is coming.
		stop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			log.Printf("metrics runner terminated: %v", err)
		}
	}()

	if webServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webServer.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("monitor server terminated: %v", err)
			}
		}()
	}

	wg.Wait()

	if plotter != nil {
		if err := plotter.WritePlots(*plotsDir); err != nil {
			log.Printf("failed to write plots: %v", err)
		} else {
			log.Printf("wrote latency plots to %s", *plotsDir)
		}
	}

	log.Printf("servoloop stopped: processed=%d requests=%d recalibrations=%d expired=%d",
		pipe.Processed(), pipe.RequestsIssued(), pipe.Recalibrations(), executor.Expired())
}

// requestLog adapts a possibly nil archive to the executor's interface;
// a nil *loopdb.DB in a non-nil interface would panic on use.
func requestLog(archive *loopdb.DB) actuator.RequestLog {
	if archive == nil {
		return nil
	}
	return archive
}

func newProcessor(cfg *config.Config, collector *metrics.Collector) *process.Processor {
	p := process.NewProcessor(process.Config{
		MinSamples: cfg.GetMinSamples(),
		Recorder:   collector,
	})
	for kind, threshold := range cfg.Processor.Thresholds {
		p.SetThreshold(telemetry.SensorKind(kind), threshold)
	}
	return p
}
