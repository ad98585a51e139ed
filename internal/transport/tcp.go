package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fluxline/servoloop/internal/telemetry"
)

// TCPTransport speaks newline-delimited JSON over a TCP socket: readings
// out, feedback in.
type TCPTransport struct {
	endpoint string
	timeout  time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCPTransport creates a transport for the given endpoint
// ("host:port"). dialTimeout bounds Connect; zero means 5s.
func NewTCPTransport(endpoint string, dialTimeout time.Duration) *TCPTransport {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &TCPTransport{endpoint: endpoint, timeout: dialTimeout}
}

// Connect dials the actuator endpoint.
func (t *TCPTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", t.endpoint, t.timeout)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", t.endpoint, err)
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	return nil
}

// Send writes one reading as a JSON line.
func (t *TCPTransport) Send(r telemetry.Reading) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return 0, ErrNotConnected
	}

	start := time.Now()
	payload, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("transport: marshal reading: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := t.conn.Write(payload); err != nil {
		return time.Since(start), fmt.Errorf("transport: write: %w", err)
	}
	return time.Since(start), nil
}

// ReceiveFeedback reads one JSON line from the socket and decodes it.
func (t *TCPTransport) ReceiveFeedback() (telemetry.Feedback, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()
	if reader == nil {
		return telemetry.Feedback{}, ErrNotConnected
	}

	line, err := reader.ReadBytes('\n')
	if err != nil {
		return telemetry.Feedback{}, fmt.Errorf("transport: read feedback: %w", err)
	}
	var fb telemetry.Feedback
	if err := json.Unmarshal(line, &fb); err != nil {
		return telemetry.Feedback{}, fmt.Errorf("transport: decode feedback: %w", err)
	}
	return fb, nil
}

// Close shuts the socket down.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	return err
}
