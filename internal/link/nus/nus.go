// Package nus provides the wireless transport for the tile link: a BLE
// central speaking the Nordic UART Service. Discovery scans for the tile
// controller by advertised name or NUS service UUID, connects, and subscribes
// to telemetry notifications; commands go out as write-without-response on
// the RX characteristic.
package nus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/omnitiles/tilelink/internal/link"
)

// Nordic UART Service UUIDs. RX is written by the central, TX notifies it.
var (
	serviceUUID = mustUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	rxCharUUID  = mustUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	txCharUUID  = mustUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Provider implements link.Wireless over the platform BLE adapter.
type Provider struct {
	adapter    *bluetooth.Adapter
	deviceName string

	enableOnce sync.Once
	enableErr  error

	mu     sync.Mutex
	active *conn
}

// NewProvider returns a provider scanning for the given advertised name (in
// addition to the NUS service UUID). The adapter is enabled lazily on the
// first Discover call.
func NewProvider(deviceName string) *Provider {
	p := &Provider{
		adapter:    bluetooth.DefaultAdapter,
		deviceName: deviceName,
	}
	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		p.mu.Lock()
		if p.active != nil && p.active.device.Address == device.Address {
			p.active.markDisconnected()
			p.active = nil
		}
		p.mu.Unlock()
	})
	return p
}

func (p *Provider) matches(result bluetooth.ScanResult) bool {
	if p.deviceName != "" && result.LocalName() == p.deviceName {
		return true
	}
	return result.HasServiceUUID(serviceUUID)
}

// Discover scans for a matching device within the timeout, connects,
// resolves the NUS characteristics and subscribes notify to the TX
// characteristic. Returns link.ErrDiscoveryTimeout when the scan window
// elapses without a match.
func (p *Provider) Discover(ctx context.Context, timeout time.Duration, notify func([]byte)) (link.Conn, error) {
	p.enableOnce.Do(func() { p.enableErr = p.adapter.Enable() })
	if p.enableErr != nil {
		return nil, fmt.Errorf("enable BLE adapter: %w", p.enableErr)
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		err := p.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !p.matches(result) {
				return
			}
			a.StopScan()
			select {
			case found <- result:
			default:
			}
		})
		if err != nil {
			scanErr <- err
		}
	}()

	var result bluetooth.ScanResult
	select {
	case result = <-found:
	case err := <-scanErr:
		return nil, fmt.Errorf("BLE scan: %w", err)
	case <-time.After(timeout):
		p.adapter.StopScan()
		return nil, link.ErrDiscoveryTimeout
	case <-ctx.Done():
		p.adapter.StopScan()
		return nil, ctx.Err()
	}

	device, err := p.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", result.Address, err)
	}

	c, err := newConn(device, notify)
	if err != nil {
		device.Disconnect()
		return nil, err
	}

	p.mu.Lock()
	p.active = c
	p.mu.Unlock()
	return c, nil
}

// conn is a live NUS session. connected flips to false only when the adapter
// reports the peer gone; write failures alone never change it.
type conn struct {
	device bluetooth.Device
	rx     bluetooth.DeviceCharacteristic

	mu        sync.Mutex
	connected bool
}

func newConn(device bluetooth.Device, notify func([]byte)) (*conn, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return nil, fmt.Errorf("discover NUS service: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("device does not expose the NUS service")
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{rxCharUUID, txCharUUID})
	if err != nil {
		return nil, fmt.Errorf("discover NUS characteristics: %w", err)
	}
	if len(chars) < 2 {
		return nil, fmt.Errorf("device exposes %d of 2 NUS characteristics", len(chars))
	}

	c := &conn{device: device, rx: chars[0], connected: true}
	if notify != nil {
		if err := chars[1].EnableNotifications(func(buf []byte) {
			// Notification buffers are reused by the stack; hand a copy on.
			frame := make([]byte, len(buf))
			copy(frame, buf)
			notify(frame)
		}); err != nil {
			return nil, fmt.Errorf("enable telemetry notifications: %w", err)
		}
	}
	return c, nil
}

func (c *conn) Write(p []byte) error {
	_, err := c.rx.WriteWithoutResponse(p)
	return err
}

func (c *conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *conn) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *conn) Close() error {
	c.markDisconnected()
	return c.device.Disconnect()
}
