// Package transport carries processed readings to the actuator side and
// feedback back, independent of the underlying medium. Adapters exist for
// in-process channels, TCP sockets and serial ports, all speaking
// newline-delimited JSON.
package transport

import (
	"errors"
	"time"

	"github.com/fluxline/servoloop/internal/telemetry"
)

var (
	// ErrNotConnected is returned by Send/ReceiveFeedback before Connect.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrClosed is returned once the underlying medium has shut down.
	ErrClosed = errors.New("transport: closed")
	// ErrUnknownType is returned by New for an unrecognised connection type.
	ErrUnknownType = errors.New("transport: unknown connection type")
)

// Transport is the contract between the sensing side and whatever carries
// its output. Send returns the observed transmission duration so callers
// can record a data_transmission sample.
type Transport interface {
	// Connect establishes the underlying medium. Must be called before
	// Send or ReceiveFeedback.
	Connect() error
	// Send transmits one processed reading, blocking on backpressure.
	Send(r telemetry.Reading) (time.Duration, error)
	// ReceiveFeedback blocks until the actuator side produces feedback.
	ReceiveFeedback() (telemetry.Feedback, error)
	// Close releases the medium. Safe to call more than once.
	Close() error
}
