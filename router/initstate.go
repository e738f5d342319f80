package router

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// initState names the stages of (re)initialization. Each waiting state is
// resolved by the next accepted IMU sample, which consumes the pending seed.
type initState int

const (
	// stateWaitAccel levels the filter against gravity on the next IMU sample.
	stateWaitAccel initState = iota
	// stateWaitExternalPose seeds from an externally supplied pose.
	stateWaitExternalPose
	// stateWaitRefractiveIndex seeds the refractive index and relocates to the
	// origin; approximate, for bench experiments only.
	stateWaitRefractiveIndex
	// stateInitialized is terminal until an explicit reset request.
	stateInitialized
)

func (s initState) String() string {
	switch s {
	case stateWaitAccel:
		return "wait-accel"
	case stateWaitExternalPose:
		return "wait-external-pose"
	case stateWaitRefractiveIndex:
		return "wait-refractive-index"
	case stateInitialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// initializationState holds the current stage and the pending seed payload.
// The payload is meaningful only in the matching waiting state.
type initializationState struct {
	state     initState
	seedPos   r3.Vector
	seedAtt   quat.Number
	seedIndex float64
}

func (is *initializationState) initialized() bool {
	return is.state == stateInitialized
}

func (is *initializationState) waitForAccel() {
	is.state = stateWaitAccel
}

func (is *initializationState) waitForPose(pos r3.Vector, att quat.Number) {
	is.seedPos = pos
	is.seedAtt = att
	is.state = stateWaitExternalPose
}

func (is *initializationState) waitForIndex(n float64) {
	is.seedIndex = n
	is.state = stateWaitRefractiveIndex
}
