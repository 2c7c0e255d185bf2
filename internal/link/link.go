// Package link owns the active transport to the tile controller. It prefers a
// wireless connection, falls back to a wired serial port, and degrades to a
// mock route when neither is available so the console keeps running against
// absent hardware. Discovery of the wireless device runs as a background loop;
// the send path never blocks on it.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/omnitiles/tilelink/internal/monitoring"
	"github.com/omnitiles/tilelink/internal/protocol"
)

// ErrWriteFailed indicates the chosen transport rejected a packet write. The
// connection state is left untouched; discovery alone decides when a wireless
// link is gone.
var ErrWriteFailed = errors.New("link write failed")

// ErrDiscoveryTimeout indicates a scan window elapsed without a matching
// device. Discovery logs it and retries on the next tick; it is never fatal.
var ErrDiscoveryTimeout = errors.New("no matching device found in scan window")

// State is the manager's current transport selection.
type State int

const (
	Disconnected State = iota
	WirelessConnected
	WiredConnected
)

func (s State) String() string {
	switch s {
	case WirelessConnected:
		return "wireless"
	case WiredConnected:
		return "wired"
	default:
		return "disconnected"
	}
}

// Route records which transport carried (or swallowed) a packet.
type Route int

const (
	RouteMock Route = iota
	RouteWireless
	RouteWired
)

func (r Route) String() string {
	switch r {
	case RouteWireless:
		return "BLE TX"
	case RouteWired:
		return "UART TX"
	default:
		return "MOCK TX"
	}
}

// Conn is an established wireless connection: fire-and-forget packet writes
// plus liveness reporting from the transport layer.
type Conn interface {
	Write(p []byte) error
	Connected() bool
	Close() error
}

// Wireless is the discovery side of a wireless transport provider. Discover
// scans for a device matching the provider's identity filter, connects, and
// subscribes inbound notifications to notify before returning. It should
// honour the given timeout for the scan window.
type Wireless interface {
	Discover(ctx context.Context, timeout time.Duration, notify func([]byte)) (Conn, error)
}

// WiredPort is the minimal surface the manager needs from a serial port.
type WiredPort interface {
	io.ReadWriteCloser
}

// Sink receives inbound telemetry bytes. Wireless notifications deliver whole
// frames; the wired serial port delivers an arbitrary byte stream that needs
// reassembly downstream.
type Sink interface {
	HandleFrame(p []byte)
	HandleStream(p []byte)
}

type nopSink struct{}

func (nopSink) HandleFrame([]byte)  {}
func (nopSink) HandleStream([]byte) {}

// Manager selects between the wireless and wired transports. The discovery
// goroutine is the only writer of the wireless connection handle; the send
// path and status queries are readers.
type Manager struct {
	wireless Wireless
	wired    WiredPort
	sink     Sink

	// ScanInterval is the pause between discovery attempts, ScanTimeout the
	// scan window per attempt, PollInterval the wired read cadence.
	ScanInterval time.Duration
	ScanTimeout  time.Duration
	PollInterval time.Duration

	mu   sync.RWMutex
	conn Conn
}

// NewManager creates a link manager. Either transport may be nil: a nil
// wireless provider disables discovery, a nil wired port disables the serial
// fallback, and with both nil every send takes the mock route. Inbound
// telemetry bytes from either transport are handed to the sink.
func NewManager(wireless Wireless, wired WiredPort, sink Sink) *Manager {
	if sink == nil {
		sink = nopSink{}
	}
	return &Manager{
		wireless:     wireless,
		wired:        wired,
		sink:         sink,
		ScanInterval: 2 * time.Second,
		ScanTimeout:  5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

// State reports the transport selection a Send issued now would use.
func (m *Manager) State() State {
	if m.wirelessConn() != nil {
		return WirelessConnected
	}
	if m.wired != nil {
		return WiredConnected
	}
	return Disconnected
}

func (m *Manager) wirelessConn() Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn != nil && m.conn.Connected() {
		return m.conn
	}
	return nil
}

// Send encodes the command and writes it over the preferred transport,
// evaluated at call time: wireless if connected, else wired if present, else
// the mock route. The mock route always succeeds; a transport write error is
// wrapped in ErrWriteFailed and does not change connection state.
func (m *Manager) Send(cmd protocol.Command) (Route, error) {
	packet := cmd.Encode()

	if conn := m.wirelessConn(); conn != nil {
		if err := conn.Write(packet); err != nil {
			return RouteWireless, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		m.logSend(RouteWireless, cmd)
		return RouteWireless, nil
	}

	if m.wired != nil {
		n, err := m.wired.Write(packet)
		if err != nil {
			return RouteWired, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		if n != len(packet) {
			return RouteWired, fmt.Errorf("%w: short write (%d of %d bytes)", ErrWriteFailed, n, len(packet))
		}
		m.logSend(RouteWired, cmd)
		return RouteWired, nil
	}

	m.logSend(RouteMock, cmd)
	return RouteMock, nil
}

func (m *Manager) logSend(route Route, cmd protocol.Command) {
	if cmd.HasPayload {
		monitoring.Logf("[%s] %s payload=%d", route, cmd.Name(), cmd.Payload)
		return
	}
	monitoring.Logf("[%s] %s", route, cmd.Name())
}

// RunDiscovery repeatedly attempts to find and connect the wireless device
// whenever no connection is live, sleeping ScanInterval between attempts. A
// failed attempt is logged and retried; the loop only exits when the context
// is cancelled. Returns immediately if no wireless provider is configured.
func (m *Manager) RunDiscovery(ctx context.Context) error {
	if m.wireless == nil {
		return nil
	}

	ticker := time.NewTicker(m.ScanInterval)
	defer ticker.Stop()

	for {
		if m.wirelessConn() == nil {
			m.discoverOnce(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) discoverOnce(ctx context.Context) {
	monitoring.Logf("[BLE] scanning for tile controller...")
	conn, err := m.wireless.Discover(ctx, m.ScanTimeout, m.sink.HandleFrame)
	if err != nil {
		monitoring.Logf("[BLE] discovery failed: %v", err)
		return
	}
	monitoring.Logf("[BLE] connected")

	m.mu.Lock()
	old := m.conn
	m.conn = conn
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// RunWiredMonitor reads byte chunks from the wired port and hands them to the
// telemetry sink until the context is cancelled. The blocking reads happen in
// their own goroutine so cancellation is never stuck behind a quiet port.
// Returns immediately if no wired port is configured.
func (m *Manager) RunWiredMonitor(ctx context.Context) error {
	if m.wired == nil {
		return nil
	}

	chunks := make(chan []byte)
	var readErr error

	go func() {
		defer close(chunks)
		buf := make([]byte, 64)
		for {
			n, err := m.wired.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr = err
				return
			}
			if n == 0 {
				// Timed-out read on an idle port; back off briefly.
				select {
				case <-time.After(m.PollInterval):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				// readErr is set before the channel closes.
				if readErr == nil || errors.Is(readErr, io.EOF) {
					return nil
				}
				return readErr
			}
			m.sink.HandleStream(chunk)
		}
	}
}

// Close shuts down whichever transports are held.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	var errs []error
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.wired != nil {
		if err := m.wired.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
