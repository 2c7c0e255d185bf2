// Package tileserial opens the wired UART link to the tile controller. The
// Port interface keeps the link layer testable without hardware, and the mock
// port drives the full telemetry path in dev mode by replaying a canned frame.
package tileserial

import (
	"bytes"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the minimal surface the link layer needs from a serial port.
type Port interface {
	io.ReadWriteCloser
}

// Open opens the serial device at path with the controller's framing
// (8 data bits, no parity, one stop bit). A short read timeout keeps the
// wired monitor loop responsive to shutdown.
func Open(path string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// MockPort simulates the controller end of the wired link: it emits the given
// frame on a fixed interval and captures everything written to it.
type MockPort struct {
	reader *io.PipeReader

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
	done    chan struct{}
}

// NewMockPort starts a mock port replaying frame every interval.
func NewMockPort(frame []byte, interval time.Duration) *MockPort {
	r, w := io.Pipe()
	m := &MockPort{
		reader: r,
		done:   make(chan struct{}),
	}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.Write(frame); err != nil {
					return
				}
			case <-m.done:
				return
			}
		}
	}()

	return m
}

func (m *MockPort) Read(p []byte) (int, error) {
	return m.reader.Read(p)
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	return m.written.Write(p)
}

// Written returns everything sent to the mock controller so far.
func (m *MockPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, m.written.Len())
	copy(out, m.written.Bytes())
	return out
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return m.reader.Close()
}
