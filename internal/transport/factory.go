package transport

import (
	"fmt"
	"time"
)

// Options selects and parameterises a transport medium.
type Options struct {
	// Type is one of "channel", "tcp" or "serial".
	Type string
	// Endpoint is the host:port for TCP.
	Endpoint string
	// SerialPath is the device path for serial (e.g. /dev/ttyUSB0).
	SerialPath string
	// BaudRate for serial; 0 uses DefaultBaudRate.
	BaudRate int
	// Buffer is the queue capacity for the channel medium.
	Buffer int
	// DialTimeout bounds TCP Connect.
	DialTimeout time.Duration
}

// New builds a Transport for the configured medium. An unknown type is a
// configuration error, fatal at startup.
func New(opts Options) (Transport, error) {
	switch opts.Type {
	case "", "channel":
		return NewChannelTransport(opts.Buffer), nil
	case "tcp":
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("transport: tcp requires an endpoint")
		}
		return NewTCPTransport(opts.Endpoint, opts.DialTimeout), nil
	case "serial":
		if opts.SerialPath == "" {
			return nil, fmt.Errorf("transport: serial requires a device path")
		}
		return NewSerialTransport(opts.SerialPath, opts.BaudRate), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, opts.Type)
	}
}
