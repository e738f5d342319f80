package router

import "go.uber.org/atomic"

// Metrics counts router activity over the process lifetime. The struct is
// owned by the caller and passed into the router by reference, so diagnostics
// never live in package state.
type Metrics struct {
	ImuSamples        atomic.Int64
	ImageFrames       atomic.Int64
	JointImageUpdates atomic.Int64
	SyncFailures      atomic.Int64
	PoseUpdates       atomic.Int64
	VelocityUpdates   atomic.Int64
	BarometerUpdates  atomic.Int64
	ResetsRequested   atomic.Int64
	ResetsIgnored     atomic.Int64
	HealthResets      atomic.Int64
	SafeAdvances      atomic.Int64
	// UpdateTime accumulates the time spent advancing the safe state.
	UpdateTime atomic.Duration
}

// NewMetrics returns a zeroed metrics struct.
func NewMetrics() *Metrics {
	return &Metrics{}
}
