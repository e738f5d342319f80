package router

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/vio/estimator"
	"go.viam.com/vio/logging"
)

// HealthConfig tunes the estimator health check.
type HealthConfig struct {
	// MaxVelocity is the speed above which the estimate is considered to have
	// diverged, m/s.
	MaxVelocity float64
	// MaxDepthStdDev bounds the median standard deviation of the tracked
	// feature depths.
	MaxDepthStdDev float64
	// SubsequentUnhealthy is how many unhealthy checks in a row trigger a
	// reset.
	SubsequentUnhealthy int
}

// DefaultHealthConfig returns the thresholds used on the vehicle.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		MaxVelocity:         4.0,
		MaxDepthStdDev:      0.9,
		SubsequentUnhealthy: 2,
	}
}

// HealthMonitor evaluates the safe state after every advance and decides when
// the filter has diverged. Instead of aborting, it remembers the last healthy
// pose and asks for a reset to it.
type HealthMonitor struct {
	cfg    HealthConfig
	logger logging.Logger

	unhealthyCount int
	haveFailsafe   bool
	failsafePos    r3.Vector
	failsafeAtt    quat.Number
}

// NewHealthMonitor returns a monitor with the given thresholds.
func NewHealthMonitor(cfg HealthConfig, logger logging.Logger) *HealthMonitor {
	return &HealthMonitor{cfg: cfg, logger: logger}
}

// ShouldReset inspects a freshly advanced safe state and reports whether the
// filter should be reseeded at the failsafe pose.
func (h *HealthMonitor) ShouldReset(s estimator.SafeState) bool {
	speed := s.Velocity.Norm()
	depthStd, haveFeatures := medianDepthStdDev(s)

	unhealthy := speed > h.cfg.MaxVelocity ||
		(haveFeatures && depthStd > h.cfg.MaxDepthStdDev)
	if !unhealthy {
		h.unhealthyCount = 0
		h.failsafePos = s.Position
		h.failsafeAtt = s.Orientation
		h.haveFailsafe = true
		return false
	}

	h.unhealthyCount++
	h.logger.Warnf("estimator unhealthy (%d/%d): speed=%.2f m/s, median feature depth stddev=%.3f",
		h.unhealthyCount, h.cfg.SubsequentUnhealthy, speed, depthStd)
	if h.unhealthyCount >= h.cfg.SubsequentUnhealthy && h.haveFailsafe {
		h.unhealthyCount = 0
		return true
	}
	return false
}

// FailsafePose returns the last healthy pose to reseed from.
func (h *HealthMonitor) FailsafePose() (r3.Vector, quat.Number) {
	return h.failsafePos, h.failsafeAtt
}

func medianDepthStdDev(s estimator.SafeState) (float64, bool) {
	stds := make([]float64, 0, estimator.MaxFeatures)
	for _, feat := range s.Features {
		if feat.Valid {
			stds = append(stds, math.Sqrt(feat.DepthVariance))
		}
	}
	if len(stds) == 0 {
		return 0, false
	}
	sort.Float64s(stds)
	return stds[len(stds)/2], true
}
