// Package telemetry turns raw link bytes into validated, unit-converted
// snapshots. Wireless notifications arrive as whole frames; the wired serial
// path is a byte stream that gets reassembled and resynchronized here. Frames
// that fail validation are dropped silently and superseded by the next valid
// one — the channel is lossy by design and no retries happen at this layer.
package telemetry

import (
	"bytes"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnitiles/tilelink/internal/position"
	"github.com/omnitiles/tilelink/internal/protocol"
)

// Snapshot is the latest decoded state of the tile mechanism. Millimeter
// fields are derived from the raw ADC samples; the mirrored fields describe
// the opposing units of each dual-actuator rig. Fix fields hold the
// trilaterated planar position (meters) and survive frames that carry no
// ranging data.
type Snapshot struct {
	M1ADC uint8 `json:"m1_adc"`
	M2ADC uint8 `json:"m2_adc"`

	M1MM       float64 `json:"m1_mm"`
	M2MM       float64 `json:"m2_mm"`
	M1TravelMM float64 `json:"m1_travel_mm"`
	M2TravelMM float64 `json:"m2_travel_mm"`
	M1MirrorMM float64 `json:"m1_mirror_mm"`
	M2MirrorMM float64 `json:"m2_mirror_mm"`

	RangesMM [3]uint16 `json:"ranges_mm"`
	HasFix   bool      `json:"has_fix"`
	FixX     float64   `json:"fix_x"`
	FixY     float64   `json:"fix_y"`

	ReceivedAt time.Time `json:"received_at"`
}

// Pipeline decodes inbound telemetry, runs the position estimator and fans
// fresh snapshots out to subscribers. The latest snapshot is also kept as a
// read-any-time register for pull-style consumers.
type Pipeline struct {
	m1      position.Actuator
	m2      position.Actuator
	anchors position.Anchors

	mu     sync.RWMutex
	latest Snapshot
	seen   bool

	subscriberMu sync.Mutex
	subscribers  map[string]chan Snapshot

	streamMu sync.Mutex
	scratch  []byte
}

// NewPipeline builds a pipeline for the two actuators and the anchor layout.
// Degenerate anchor geometry is rejected here, at configuration time, rather
// than dividing by zero on the first ranging frame.
func NewPipeline(m1, m2 position.Actuator, anchors position.Anchors) (*Pipeline, error) {
	if err := anchors.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		m1:          m1,
		m2:          m2,
		anchors:     anchors,
		subscribers: make(map[string]chan Snapshot),
	}, nil
}

// HandleFrame processes a whole received frame (the wireless notification
// path). Invalid frames are dropped without a trace.
func (p *Pipeline) HandleFrame(buf []byte) {
	t, err := protocol.DecodeTelemetry(buf)
	if err != nil {
		return
	}
	p.publish(t)
}

// HandleStream processes a chunk of a byte stream (the wired path): bytes are
// appended to a scratch buffer, frames are cut out as they complete, and
// anything that cannot be part of a frame — debug text from the controller,
// line noise, torn packets — is skipped over by resyncing on the start byte.
func (p *Pipeline) HandleStream(chunk []byte) {
	p.streamMu.Lock()
	defer p.streamMu.Unlock()

	p.scratch = append(p.scratch, chunk...)

	for {
		i := bytes.IndexByte(p.scratch, protocol.StartByte)
		if i < 0 {
			p.scratch = p.scratch[:0]
			return
		}
		p.scratch = p.scratch[i:]

		if len(p.scratch) < protocol.TelemetryShortFrameLen {
			return
		}
		if p.scratch[1] != protocol.MsgTelemetry {
			// Start byte inside noise or an echoed command; resync past it.
			p.scratch = p.scratch[1:]
			continue
		}

		if len(p.scratch) >= protocol.TelemetryFrameLen {
			if t, err := protocol.DecodeTelemetry(p.scratch[:protocol.TelemetryFrameLen]); err == nil {
				p.publish(t)
				p.scratch = p.scratch[protocol.TelemetryFrameLen:]
				continue
			}
			if t, err := protocol.DecodeTelemetry(p.scratch[:protocol.TelemetryShortFrameLen]); err == nil {
				p.publish(t)
				p.scratch = p.scratch[protocol.TelemetryShortFrameLen:]
				continue
			}
			p.scratch = p.scratch[1:]
			continue
		}

		// Not enough bytes for a full frame yet; a valid short frame can be
		// cut now, otherwise wait for the rest to arrive.
		if t, err := protocol.DecodeTelemetry(p.scratch[:protocol.TelemetryShortFrameLen]); err == nil {
			p.publish(t)
			p.scratch = p.scratch[protocol.TelemetryShortFrameLen:]
			continue
		}
		return
	}
}

func (p *Pipeline) publish(t protocol.Telemetry) {
	p.mu.Lock()
	snap := p.latest
	snap.M1ADC = t.M1ADC
	snap.M2ADC = t.M2ADC
	snap.M1MM = p.m1.PositionMM(t.M1ADC)
	snap.M2MM = p.m2.PositionMM(t.M2ADC)
	snap.M1TravelMM = p.m1.TravelMM(snap.M1MM)
	snap.M2TravelMM = p.m2.TravelMM(snap.M2MM)
	snap.M1MirrorMM = p.m1.MirroredMM(snap.M1MM)
	snap.M2MirrorMM = p.m2.MirroredMM(snap.M2MM)
	if t.HasRanges {
		snap.RangesMM = t.RangesMM
		x, y := p.anchors.Locate(
			float64(t.RangesMM[0])/1000.0,
			float64(t.RangesMM[1])/1000.0,
			float64(t.RangesMM[2])/1000.0,
		)
		snap.FixX, snap.FixY = x, y
		snap.HasFix = true
	}
	snap.ReceivedAt = time.Now()
	p.latest = snap
	p.seen = true
	p.mu.Unlock()

	p.subscriberMu.Lock()
	for _, ch := range p.subscribers {
		select {
		case ch <- snap:
		default:
			// Slow subscriber; it will catch up on the next snapshot.
		}
	}
	p.subscriberMu.Unlock()
}

// Latest returns the most recent snapshot and whether any valid frame has
// been decoded yet.
func (p *Pipeline) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.seen
}

// Subscribe registers a channel receiving every published snapshot. The
// returned ID identifies the channel for Unsubscribe.
func (p *Pipeline) Subscribe() (string, chan Snapshot) {
	id := uuid.NewString()
	ch := make(chan Snapshot, 1)
	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	p.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (p *Pipeline) Unsubscribe(id string) {
	p.subscriberMu.Lock()
	defer p.subscriberMu.Unlock()
	if ch, ok := p.subscribers[id]; ok {
		close(ch)
		delete(p.subscribers, id)
	}
}
