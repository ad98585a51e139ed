package transport

import (
	"sync"
	"time"

	"github.com/fluxline/servoloop/internal/telemetry"
)

// ChannelTransport delivers readings over bounded in-process channels,
// the default medium for single-binary simulation runs. Sending to a full
// channel blocks the producer (explicit backpressure).
type ChannelTransport struct {
	out      chan telemetry.Reading
	feedback chan telemetry.Feedback

	mu        sync.Mutex
	connected bool
}

// NewChannelTransport creates a transport with the given queue capacity
// for readings and feedback.
func NewChannelTransport(buffer int) *ChannelTransport {
	if buffer <= 0 {
		buffer = 100
	}
	return &ChannelTransport{
		out:      make(chan telemetry.Reading, buffer),
		feedback: make(chan telemetry.Feedback, buffer),
	}
}

// Readings exposes the receive side for the actuator stage.
func (t *ChannelTransport) Readings() <-chan telemetry.Reading { return t.out }

// FeedbackWriter exposes the send side for the actuator stage.
func (t *ChannelTransport) FeedbackWriter() chan<- telemetry.Feedback { return t.feedback }

// Connect marks the transport ready. In-process channels need no handshake.
func (t *ChannelTransport) Connect() error {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *ChannelTransport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Send places the reading on the output queue, blocking when full.
func (t *ChannelTransport) Send(r telemetry.Reading) (time.Duration, error) {
	if !t.isConnected() {
		return 0, ErrNotConnected
	}
	start := time.Now()
	t.out <- r
	return time.Since(start), nil
}

// ReceiveFeedback blocks until feedback arrives or the feedback channel is
// closed by the actuator side.
func (t *ChannelTransport) ReceiveFeedback() (telemetry.Feedback, error) {
	if !t.isConnected() {
		return telemetry.Feedback{}, ErrNotConnected
	}
	fb, ok := <-t.feedback
	if !ok {
		return telemetry.Feedback{}, ErrClosed
	}
	return fb, nil
}

// Close closes the outbound reading queue, cascading shutdown to the
// consuming stage. The feedback channel is owned and closed by the
// actuator side.
func (t *ChannelTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		t.connected = false
		close(t.out)
	}
	return nil
}
