// Package estimator defines the measurement contract of the visual-inertial
// filter and provides a loosely coupled reference implementation. The filter
// consumes timestamped measurements in any arrival order and exposes a "safe"
// state that never reflects partially integrated measurements.
package estimator

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// MaxFeatures is the capacity of the feature slot arena. Features are
// addressed by slot index, never by pointer.
const MaxFeatures = 25

// ImuSample is one inertial measurement: specific force and angular rate in
// the body frame.
type ImuSample struct {
	Acc  r3.Vector
	Gyro r3.Vector
}

// FeatureObservation is one tracked feature as observed in a camera frame,
// addressed by its slot in the feature arena.
type FeatureObservation struct {
	Slot          int
	Bearing       r3.Vector
	Depth         float64
	DepthVariance float64
}

// ImageFrame is the payload contributed by a single camera to a joint image
// update: the per-feature observations the tracker extracted from the frame.
type ImageFrame struct {
	CameraID     int
	Observations []FeatureObservation
}

// PoseSample is an externally measured pose, e.g. from a motion-capture or
// acoustic positioning system. Cov is an optional 6x6 covariance.
type PoseSample struct {
	Pos r3.Vector
	Att quat.Number
	Cov *mat.SymDense
}

// VelocitySample is an externally measured linear velocity. Cov is an
// optional 3x3 covariance.
type VelocitySample struct {
	Vel r3.Vector
	Cov *mat.SymDense
}

// DepthSample is a depth reading along the world z axis, e.g. converted from
// barometric pressure.
type DepthSample struct {
	Depth    float64
	Variance float64
}

// FeatureState is the safe estimate of one feature slot.
type FeatureState struct {
	Valid         bool
	Bearing       r3.Vector
	Depth         float64
	DepthVariance float64
}

// SafeState is the last fully integrated filter state. Its timestamp is
// monotonically non-decreasing and it never exposes a state for which a
// measurement with an earlier timestamp is still pending.
type SafeState struct {
	T               float64
	Position        r3.Vector
	Orientation     quat.Number
	Velocity        r3.Vector
	GyroBias        r3.Vector
	AccelBias       r3.Vector
	RefractiveIndex float64
	Features        [MaxFeatures]FeatureState
	// Covariance covers position (0-2), velocity (3-5), attitude (6-8) and
	// refractive index (9).
	Covariance *mat.SymDense
}

// Estimator consumes timestamped measurements and maintains the safe state.
// Implementations are not internally synchronized; callers must serialize all
// mutation, which the measurement router does with a single lock.
type Estimator interface {
	// AddPredictionMeasurement queues an IMU sample for integration.
	AddPredictionMeasurement(m ImuSample, t float64)
	// AddImageMeasurement queues a joint multi-camera image update.
	AddImageMeasurement(frames []ImageFrame, t float64)
	// AddPoseMeasurement queues an external pose update.
	AddPoseMeasurement(m PoseSample, t float64)
	// AddVelocityMeasurement queues an external velocity update.
	AddVelocityMeasurement(m VelocitySample, t float64)
	// AddDepthMeasurement queues a depth update.
	AddDepthMeasurement(m DepthSample, t float64)

	// AdvanceSafe integrates every queued measurement with timestamp <= t in
	// timestamp order and, if anything was integrated, publishes the result as
	// the new safe state. Repeated calls with the same or an earlier t leave
	// the safe state unchanged. Reports whether the safe state changed.
	AdvanceSafe(t float64) bool

	// ResetWithAccelerometer seeds orientation by leveling against gravity.
	ResetWithAccelerometer(acc r3.Vector, t float64)
	// ResetWithPose seeds position and orientation from an external pose.
	ResetWithPose(pos r3.Vector, att quat.Number, t float64)
	// ResetWithRefractiveIndex seeds the refractive-index state and relocates
	// to the origin. Approximate; meant for bench experiments.
	ResetWithRefractiveIndex(n float64, t float64)

	// SafeState returns a copy of the current safe state.
	SafeState() SafeState
	// LastImageTime returns the timestamp of the newest queued or integrated
	// image measurement, if any.
	LastImageTime() (float64, bool)
}
