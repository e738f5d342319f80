// Package router serializes asynchronous sensor callbacks into a single
// estimator instance. Every intake entry point takes one exclusive lock for
// its whole critical section, so the estimator is never mutated concurrently;
// temporal ordering across channels is resolved by the estimator's
// timestamp-sorted timeline, not by arrival order.
package router

import (
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/camera"
	"go.viam.com/vio/estimator"
	"go.viam.com/vio/logging"
)

// Consumer is notified with the new safe state after every advance that
// changed it.
type Consumer func(estimator.SafeState)

// Config holds the router wiring that is fixed at construction.
type Config struct {
	// Cameras is the registry of camera models, addressed by channel ID.
	Cameras []*camera.Model
	// ImuTimeOffset is added to IMU timestamps, seconds.
	ImuTimeOffset float64
	// PoseTimeOffset is added to external pose timestamps, seconds.
	PoseTimeOffset float64
	// BaroPressureOffset is the ambient pressure at zero depth, Pa.
	BaroPressureOffset float64
	// BaroPressureScale converts pressure to depth, Pa per meter.
	BaroPressureScale float64
	// Health enables the health monitor when non-nil.
	Health *HealthMonitor
}

// Router accepts sensor samples from independent callback goroutines and
// delivers them to the estimator in a well-defined, serialized order.
type Router struct {
	mu      sync.Mutex
	est     estimator.Estimator
	cfg     Config
	frames  frameSet
	init    initializationState
	metrics *Metrics
	clock   clock.Clock
	logger  logging.Logger

	baroDepthOffset      float64
	baroOffsetCalibrated bool

	consumers []Consumer
}

// New wires a router to an estimator. The metrics struct is caller-owned;
// a nil clock falls back to the wall clock.
func New(cfg Config, est estimator.Estimator, metrics *Metrics, clk clock.Clock, logger logging.Logger) (*Router, error) {
	if est == nil {
		return nil, errors.New("estimator not provided")
	}
	if len(cfg.Cameras) == 0 {
		return nil, errors.New("at least one camera channel is required")
	}
	if cfg.BaroPressureScale == 0 {
		// standard hydrostatic gradient of fresh water
		cfg.BaroPressureScale = 9806.65
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Router{
		est:     est,
		cfg:     cfg,
		frames:  newFrameSet(len(cfg.Cameras)),
		metrics: metrics,
		clock:   clk,
		logger:  logger,
	}, nil
}

// AddConsumer registers a safe-state consumer. Consumers run inside the
// router's critical section and must not call back into the router.
func (r *Router) AddConsumer(c Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers = append(r.consumers, c)
}

// OnImu accepts one IMU sample. Once initialized it becomes a prediction
// measurement; before that it resolves the pending initialization instead and
// is not itself integrated.
func (r *Router) OnImu(m estimator.ImuSample, t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics.ImuSamples.Inc()
	t += r.cfg.ImuTimeOffset

	if r.init.initialized() {
		r.est.AddPredictionMeasurement(m, t)
		r.updateSafe(true)
		return
	}

	switch r.init.state {
	case stateWaitAccel:
		r.logger.Infof("initializing using accelerometer measurement at t=%.6f", t)
		r.est.ResetWithAccelerometer(m.Acc, t)
	case stateWaitExternalPose:
		r.logger.Infof("initializing using external pose at t=%.6f", t)
		r.est.ResetWithPose(r.init.seedPos, r.init.seedAtt, t)
	case stateWaitRefractiveIndex:
		r.logger.Warnf("initializing using refractive index %.4f at t=%.6f (experimental, relocates to origin)",
			r.init.seedIndex, t)
		r.est.ResetWithRefractiveIndex(r.init.seedIndex, t)
	case stateInitialized:
	}
	r.init.state = stateInitialized
	r.baroOffsetCalibrated = false
}

// OnImage accepts one camera frame. Frames are joined per capture timestamp
// across all configured channels; an incomplete set superseded by a newer
// timestamp is discarded, never merged.
func (r *Router) OnImage(camID int, frame estimator.ImageFrame, t float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if camID < 0 || camID >= len(r.cfg.Cameras) {
		return errors.Errorf("camera channel %d out of range, have %d channels", camID, len(r.cfg.Cameras))
	}
	r.metrics.ImageFrames.Inc()
	if !r.init.initialized() {
		return nil
	}

	if t != r.frames.t {
		if r.frames.anyValid() {
			r.logger.Warnf("failed synchronization of camera frames, t=%.6f", t)
			r.metrics.SyncFailures.Inc()
		}
		r.frames.reset(t)
	}
	r.frames.set(camID, frame)

	if r.frames.allValid() {
		r.est.AddImageMeasurement(r.frames.collect(), t)
		r.metrics.JointImageUpdates.Inc()
		r.frames.reset(t)
		r.updateSafe(true)
	}
	return nil
}

// OnExternalPose accepts an externally measured pose.
func (r *Router) OnExternalPose(m estimator.PoseSample, t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.init.initialized() {
		return
	}
	r.metrics.PoseUpdates.Inc()
	r.est.AddPoseMeasurement(m, t+r.cfg.PoseTimeOffset)
	r.updateSafe(true)
}

// OnVelocity accepts an externally measured velocity. The safe state advances
// but consumers are not notified, matching the pose-only publication cadence.
func (r *Router) OnVelocity(m estimator.VelocitySample, t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.init.initialized() {
		return
	}
	r.metrics.VelocityUpdates.Inc()
	r.est.AddVelocityMeasurement(m, t)
	r.updateSafe(false)
}

// OnBarometer accepts a static pressure reading, Pa. The first sample after
// initialization calibrates the depth offset against the current safe state
// and is not integrated.
func (r *Router) OnBarometer(pressure float64, t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.init.initialized() {
		return
	}
	depth := -(pressure - r.cfg.BaroPressureOffset) / r.cfg.BaroPressureScale

	if !r.baroOffsetCalibrated {
		r.baroDepthOffset = r.est.SafeState().Position.Z - depth
		r.baroOffsetCalibrated = true
		return
	}

	r.metrics.BarometerUpdates.Inc()
	r.est.AddDepthMeasurement(estimator.DepthSample{Depth: depth + r.baroDepthOffset}, t)
	r.updateSafe(false)
}

// RequestReset re-levels the filter from the next IMU sample. Requests while
// an initialization is already pending are ignored, never queued.
func (r *Router) RequestReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.requestAllowed() {
		return
	}
	r.metrics.ResetsRequested.Inc()
	r.init.waitForAccel()
}

// RequestResetToPose reseeds the filter at the given pose on the next IMU
// sample.
func (r *Router) RequestResetToPose(pos r3.Vector, att quat.Number) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.requestAllowed() {
		return
	}
	r.metrics.ResetsRequested.Inc()
	r.init.waitForPose(pos, att)
}

// RequestResetRefractiveIndex reseeds the refractive-index state on the next
// IMU sample.
func (r *Router) RequestResetRefractiveIndex(n float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.requestAllowed() {
		return
	}
	r.metrics.ResetsRequested.Inc()
	r.init.waitForIndex(n)
}

// SafeState returns the estimator's current safe state.
func (r *Router) SafeState() estimator.SafeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.est.SafeState()
}

func (r *Router) requestAllowed() bool {
	if !r.init.initialized() {
		r.logger.Infof("reinitialization already triggered, ignoring request (state %v)", r.init.state)
		r.metrics.ResetsIgnored.Inc()
		return false
	}
	return true
}

// updateSafe advances the safe state up to the newest image time and, if it
// changed, refreshes the camera models' refractive indices, notifies
// consumers and runs the health check. Called with the lock held.
func (r *Router) updateSafe(notify bool) {
	lastImage, ok := r.est.LastImageTime()
	if !ok {
		return
	}
	start := r.clock.Now()
	changed := r.est.AdvanceSafe(lastImage)
	r.metrics.UpdateTime.Add(r.clock.Since(start))
	if !changed {
		return
	}
	r.metrics.SafeAdvances.Inc()

	safe := r.est.SafeState()
	for _, cam := range r.cfg.Cameras {
		cam.SetRefractiveIndex(safe.RefractiveIndex)
	}

	if notify {
		for _, c := range r.consumers {
			c(safe)
		}
	}

	if r.cfg.Health != nil && r.cfg.Health.ShouldReset(safe) {
		pos, att := r.cfg.Health.FailsafePose()
		r.logger.Warnf("estimator health check failed, scheduling reset to failsafe pose at %v", pos)
		r.metrics.HealthResets.Inc()
		r.init.waitForPose(pos, att)
	}
}
