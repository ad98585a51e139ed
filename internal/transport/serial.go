package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/fluxline/servoloop/internal/telemetry"
)

// DefaultBaudRate suits the line rates of typical industrial sensor buses.
const DefaultBaudRate = 115200

// portOpener abstracts serial.Open so tests can substitute an in-memory
// port without hardware.
type portOpener func(path string, mode *serial.Mode) (io.ReadWriteCloser, error)

func realOpen(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(path, mode)
}

// SerialTransport speaks newline-delimited JSON over a serial port, for
// deployments where the actuator sits on an RS-232/RS-485 link.
type SerialTransport struct {
	path string
	mode *serial.Mode
	open portOpener

	mu     sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

// NewSerialTransport creates a transport for the serial device at path.
// A baudRate of 0 uses DefaultBaudRate.
func NewSerialTransport(path string, baudRate int) *SerialTransport {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &SerialTransport{
		path: path,
		mode: &serial.Mode{BaudRate: baudRate},
		open: realOpen,
	}
}

// Connect opens the serial port.
func (t *SerialTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	port, err := t.open(t.path, t.mode)
	if err != nil {
		return fmt.Errorf("transport: open serial port %s: %w", t.path, err)
	}
	t.port = port
	t.reader = bufio.NewReader(port)
	return nil
}

// Send writes one reading as a JSON line.
func (t *SerialTransport) Send(r telemetry.Reading) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return 0, ErrNotConnected
	}

	start := time.Now()
	payload, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("transport: marshal reading: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := t.port.Write(payload); err != nil {
		return time.Since(start), fmt.Errorf("transport: serial write: %w", err)
	}
	return time.Since(start), nil
}

// ReceiveFeedback reads one JSON line from the port and decodes it.
func (t *SerialTransport) ReceiveFeedback() (telemetry.Feedback, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()
	if reader == nil {
		return telemetry.Feedback{}, ErrNotConnected
	}

	line, err := reader.ReadBytes('\n')
	if err != nil {
		return telemetry.Feedback{}, fmt.Errorf("transport: serial read: %w", err)
	}
	var fb telemetry.Feedback
	if err := json.Unmarshal(line, &fb); err != nil {
		return telemetry.Feedback{}, fmt.Errorf("transport: decode feedback: %w", err)
	}
	return fb, nil
}

// Close closes the port.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.reader = nil
	return err
}
