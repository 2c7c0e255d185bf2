// Package position converts raw telemetry samples into physical units: linear
// ADC-to-millimeter mapping per actuator, mechanical carriage offset and
// mirroring transforms, and 2D trilateration from three UWB anchor ranges.
// All functions are deterministic and stateless; no smoothing or filtering is
// applied, each sample replaces the previous value outright.
package position

import "errors"

// ErrInvalidAnchorConfiguration indicates degenerate anchor geometry (an
// on-axis anchor coordinate of zero) that would divide by zero in the solver.
// It is checked once at startup and is fatal.
var ErrInvalidAnchorConfiguration = errors.New("invalid anchor configuration: on-axis anchor coordinates must be non-zero")

// Actuator describes one linear actuator's mechanical geometry. StrokeMM is
// the full electrical travel; the buffers reserve travel at either end that
// target-position commands must stay out of. CarriageOffsetMM is a fixed
// mounting correction for units whose moving part sits offset from the
// sensor zero, applied to the reported travel rather than the measurement.
type Actuator struct {
	Name             string
	StrokeMM         float64
	BufferBottomMM   float64
	BufferTopMM      float64
	CarriageOffsetMM float64
}

// P16 is the vertical linear actuator fitted to lift tiles.
func P16() Actuator {
	return Actuator{
		Name:           "P16 Linear Actuator",
		StrokeMM:       150.0,
		BufferBottomMM: 20.0,
		BufferTopMM:    35.0,
	}
}

// T16 is the horizontal track actuator. Its carriage is mounted 13 mm off the
// sensor zero along the travel axis.
func T16() Actuator {
	return Actuator{
		Name:             "T16 Track Actuator",
		StrokeMM:         100.0,
		BufferBottomMM:   25.0,
		BufferTopMM:      15.0,
		CarriageOffsetMM: 13.0,
	}
}

// PositionMM maps a raw 8-bit ADC sample onto the actuator's stroke.
// adc=0 maps to exactly 0 mm and adc=255 to exactly StrokeMM.
func (a Actuator) PositionMM(adc uint8) float64 {
	return float64(adc) / 255.0 * a.StrokeMM
}

// TravelMM applies the carriage offset to a measured position, yielding the
// usable travel of the moving part.
func (a Actuator) TravelMM(mm float64) float64 {
	return mm - a.CarriageOffsetMM
}

// MirroredMM returns the position of the opposing unit on a mirrored
// dual-actuator rig, which moves in opposition across the shared stroke.
func (a Actuator) MirroredMM(mm float64) float64 {
	return a.StrokeMM - mm
}

// MinTargetMM is the lowest position a set-position command may request.
func (a Actuator) MinTargetMM() float64 {
	return a.BufferBottomMM
}

// MaxTargetMM is the highest position a set-position command may request.
func (a Actuator) MaxTargetMM() float64 {
	return a.StrokeMM - a.BufferTopMM
}

// Anchors fixes the UWB reference geometry: anchor 1 at the origin, anchor 2
// at (AX, 0) and anchor 3 at (0, BY), all in meters. The closed-form solver
// is only valid for this layout.
type Anchors struct {
	AX float64
	BY float64
}

// DefaultAnchors returns the bench layout with the off-origin anchors 3 m out
// along each axis.
func DefaultAnchors() Anchors {
	return Anchors{AX: 3.0, BY: 3.0}
}

// Validate rejects geometry the solver cannot handle. Must be called at
// configuration time; Locate assumes it has passed.
func (an Anchors) Validate() error {
	if an.AX <= 0 || an.BY <= 0 {
		return ErrInvalidAnchorConfiguration
	}
	return nil
}

// Locate solves the planar position from three measured distances (meters) to
// anchors 1, 2 and 3. It is the exact two-circle-difference solution for this
// anchor layout: subtracting pairwise squared-distance equations linearizes
// the system, so no iteration or refinement is involved.
func (an Anchors) Locate(r1, r2, r3 float64) (x, y float64) {
	x = (r1*r1 - r2*r2 + an.AX*an.AX) / (2.0 * an.AX)
	y = (r1*r1 - r3*r3 + an.BY*an.BY) / (2.0 * an.BY)
	return x, y
}
