package transport

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/fluxline/servoloop/internal/telemetry"
)

func testReading() telemetry.Reading {
	return telemetry.Reading{
		SensorID:    "s1",
		Kind:        telemetry.KindForce,
		Value:       10.5,
		TimestampMS: 1234,
		Confidence:  0.8,
	}
}

func TestChannelTransportRoundTrip(t *testing.T) {
	tr := NewChannelTransport(4)
	if _, err := tr.Send(testReading()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before Connect = %v, want ErrNotConnected", err)
	}

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := tr.Send(testReading()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := <-tr.Readings()
	if got.SensorID != "s1" || got.Value != 10.5 {
		t.Errorf("received %+v, want the sent reading", got)
	}

	tr.FeedbackWriter() <- telemetry.Feedback{ActuatorID: "a1", Status: telemetry.StatusNormal}
	fb, err := tr.ReceiveFeedback()
	if err != nil {
		t.Fatalf("ReceiveFeedback: %v", err)
	}
	if fb.ActuatorID != "a1" {
		t.Errorf("feedback actuator = %q, want a1", fb.ActuatorID)
	}
}

func TestChannelTransportCloseDuringReceive(t *testing.T) {
	tr := NewChannelTransport(1)
	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	received := make(chan error, 1)
	go func() {
		_, err := tr.ReceiveFeedback()
		received <- err
	}()

	// Close while the receiver is blocked, as the orchestrator does during
	// shutdown. The feedback channel stays open until the actuator side
	// closes it.
	time.Sleep(5 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(tr.feedback)

	if err := <-received; !errors.Is(err, ErrClosed) {
		t.Errorf("ReceiveFeedback = %v, want ErrClosed", err)
	}
	if _, err := tr.ReceiveFeedback(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReceiveFeedback after Close = %v, want ErrNotConnected", err)
	}
}

func TestChannelTransportCloseCascades(t *testing.T) {
	tr := NewChannelTransport(1)
	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-tr.Readings(); ok {
		t.Error("readings channel still open after Close")
	}
	// Double close must not panic.
	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// flakyTransport fails the first n sends, then succeeds.
type flakyTransport struct {
	mu       sync.Mutex
	failures int
	sends    int
}

func (f *flakyTransport) Connect() error { return nil }
func (f *flakyTransport) Send(telemetry.Reading) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.sends <= f.failures {
		return 0, errors.New("transient failure")
	}
	return time.Microsecond, nil
}
func (f *flakyTransport) ReceiveFeedback() (telemetry.Feedback, error) {
	return telemetry.Feedback{}, ErrClosed
}
func (f *flakyTransport) Close() error { return nil }

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyTransport{failures: 2}
	tr := WithRetry(inner, RetryConfig{
		Attempts: 3,
		Backoff:  time.Millisecond,
		Logger:   log.New(io.Discard, "", 0),
	})

	if _, err := tr.Send(testReading()); err != nil {
		t.Errorf("Send = %v, want success on third attempt", err)
	}
	if inner.sends != 3 {
		t.Errorf("inner sends = %d, want 3", inner.sends)
	}
}

func TestRetryGivesUpAfterBoundedAttempts(t *testing.T) {
	inner := &flakyTransport{failures: 100}
	tr := WithRetry(inner, RetryConfig{
		Attempts: 3,
		Backoff:  time.Millisecond,
		Logger:   log.New(io.Discard, "", 0),
	})

	if _, err := tr.Send(testReading()); err == nil {
		t.Error("Send succeeded, want error after exhausting attempts")
	}
	if inner.sends != 3 {
		t.Errorf("inner sends = %d, want exactly 3", inner.sends)
	}
}

// pipePort adapts an in-memory pipe to the serial opener for tests.
type pipePort struct {
	io.Reader
	io.Writer
}

func (p pipePort) Close() error { return nil }

func TestSerialTransportOverPipe(t *testing.T) {
	toActuator := &bytesBuffer{}
	fromActuator, feedbackWriter := io.Pipe()

	tr := NewSerialTransport("/dev/null", 0)
	tr.open = func(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
		if mode.BaudRate != DefaultBaudRate {
			t.Errorf("baud rate = %d, want default %d", mode.BaudRate, DefaultBaudRate)
		}
		return pipePort{Reader: fromActuator, Writer: toActuator}, nil
	}

	if err := tr.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := tr.Send(testReading()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := toActuator.String(); got == "" || got[len(got)-1] != '\n' {
		t.Errorf("serial frame %q not newline-terminated", got)
	}

	go func() {
		feedbackWriter.Write([]byte(`{"timestamp_ms":1,"actuator_id":"a1","status":"warning"}` + "\n"))
	}()
	fb, err := tr.ReceiveFeedback()
	if err != nil {
		t.Fatalf("ReceiveFeedback: %v", err)
	}
	if fb.Status != telemetry.StatusWarning {
		t.Errorf("feedback status = %q, want warning", fb.Status)
	}
}

// bytesBuffer is a concurrency-tolerant minimal buffer for the test writer.
type bytesBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *bytesBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func TestFactory(t *testing.T) {
	cases := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"default channel", Options{}, false},
		{"explicit channel", Options{Type: "channel", Buffer: 10}, false},
		{"tcp", Options{Type: "tcp", Endpoint: "localhost:9000"}, false},
		{"tcp missing endpoint", Options{Type: "tcp"}, true},
		{"serial", Options{Type: "serial", SerialPath: "/dev/ttyUSB0"}, false},
		{"serial missing path", Options{Type: "serial"}, true},
		{"unknown", Options{Type: "carrier-pigeon"}, true},
	}
	for _, tc := range cases {
		tr, err := New(tc.opts)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: New succeeded, want error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: New: %v", tc.name, err)
			continue
		}
		if tr == nil {
			t.Errorf("%s: New returned nil transport", tc.name)
		}
	}

	if _, err := New(Options{Type: "carrier-pigeon"}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type error = %v, want ErrUnknownType", err)
	}
}
