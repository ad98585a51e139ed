// Command loop-bench pushes synthetic readings through the processing and
// command-generation path offline and reports throughput and detection
// counts. Useful for sizing the sample interval before a live run.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/fluxline/servoloop/internal/command"
	"github.com/fluxline/servoloop/internal/metrics"
	"github.com/fluxline/servoloop/internal/process"
	"github.com/fluxline/servoloop/internal/sensor"
	"github.com/fluxline/servoloop/internal/telemetry"
)

var (
	count       = flag.Int("n", 100000, "Readings to process")
	anomalyRate = flag.Float64("anomaly-rate", 0.01, "Injected anomaly probability")
	seed        = flag.Int64("seed", 1, "Generator seed (0 seeds from the clock)")
)

func main() {
	flag.Parse()

	collector := metrics.NewCollector(metrics.DefaultBudgets())
	gen := sensor.NewGenerator(sensor.GeneratorConfig{
		SensorID:    "bench_sensor_1",
		Kind:        telemetry.KindForce,
		Interval:    time.Millisecond,
		BaseValue:   10.0,
		NoiseLevel:  0.2,
		AnomalyRate: *anomalyRate,
		Seed:        *seed,
	})
	proc := process.NewProcessor(process.Config{Recorder: collector})
	cmds := command.NewGenerator(command.Config{})

	var anomalies, requests int
	start := time.Now()
	for i := 0; i < *count; i++ {
		res := proc.Process(gen.Next())
		if res.Reading.IsAnomaly {
			anomalies++
		}
		if req := cmds.Generate(res.Reading, res.ZScore, res.Threshold); req != nil {
			requests++
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("processed %d readings in %v (%.0f readings/sec)\n",
		*count, elapsed, float64(*count)/elapsed.Seconds())
	fmt.Printf("anomalies flagged: %d (%.2f%%), requests issued: %d\n",
		anomalies, 100*float64(anomalies)/float64(*count), requests)

	report := collector.Report()
	if s, ok := report[telemetry.OpDataProcessing]; ok {
		fmt.Printf("data_processing: avg=%.4fms max=%.4fms jitter=%.4fms missed=%d\n",
			s.AvgMS, s.MaxMS, s.JitterMS, s.MissedDeadlines)
	}
}
