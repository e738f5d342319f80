package estimator

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func levelImu() ImuSample {
	return ImuSample{Acc: r3.Vector{Z: 9.81}}
}

func TestFilterUninitialized(t *testing.T) {
	f := NewFilter(DefaultConfig())
	test.That(t, f.Initialized(), test.ShouldBeFalse)

	f.AddPredictionMeasurement(levelImu(), 0.1)
	test.That(t, f.AdvanceSafe(1.0), test.ShouldBeFalse)
	test.That(t, f.SafeState().Covariance, test.ShouldBeNil)

	_, ok := f.LastImageTime()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestResetWithAccelerometer(t *testing.T) {
	f := NewFilter(DefaultConfig())

	// level: measured specific force already points up
	f.ResetWithAccelerometer(r3.Vector{Z: 9.81}, 1.0)
	test.That(t, f.Initialized(), test.ShouldBeTrue)
	s := f.SafeState()
	test.That(t, s.T, test.ShouldEqual, 1.0)
	test.That(t, s.Orientation.Real, test.ShouldAlmostEqual, 1.0, 1e-12)

	// tilted: the seeded attitude maps the measured direction to the vertical
	acc := r3.Vector{X: 3, Y: -1, Z: 9}
	f.ResetWithAccelerometer(acc, 2.0)
	s = f.SafeState()
	up := quatRotate(s.Orientation, acc.Normalize())
	test.That(t, up.Sub(r3.Vector{Z: 1}).Norm(), test.ShouldBeLessThan, 1e-12)
}

func TestResetWithPose(t *testing.T) {
	f := NewFilter(DefaultConfig())
	pos := r3.Vector{X: 1, Y: 2, Z: -3}
	att := quat.Number{Real: math.Cos(0.3), Kmag: math.Sin(0.3)}
	f.ResetWithPose(pos, att, 5.0)

	s := f.SafeState()
	test.That(t, s.T, test.ShouldEqual, 5.0)
	test.That(t, s.Position, test.ShouldResemble, pos)
	test.That(t, s.Orientation.Kmag, test.ShouldAlmostEqual, att.Kmag, 1e-12)
	test.That(t, s.Covariance.At(0, 0), test.ShouldEqual, DefaultConfig().InitialPositionVar)
}

func TestResetWithRefractiveIndex(t *testing.T) {
	f := NewFilter(DefaultConfig())
	f.ResetWithRefractiveIndex(1.34, 0.5)

	s := f.SafeState()
	test.That(t, s.RefractiveIndex, test.ShouldEqual, 1.34)
	test.That(t, s.Position, test.ShouldResemble, r3.Vector{})
	test.That(t, s.T, test.ShouldEqual, 0.5)
}

func TestSafeStateMonotonic(t *testing.T) {
	f := NewFilter(DefaultConfig())
	f.ResetWithAccelerometer(r3.Vector{Z: 9.81}, 0)

	f.AddPredictionMeasurement(levelImu(), 0.1)
	f.AddPredictionMeasurement(levelImu(), 0.2)
	f.AddImageMeasurement([]ImageFrame{{CameraID: 0}}, 0.2)
	f.AddPredictionMeasurement(levelImu(), 0.3)

	lastImage, ok := f.LastImageTime()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, lastImage, test.ShouldEqual, 0.2)

	test.That(t, f.AdvanceSafe(lastImage), test.ShouldBeTrue)
	s := f.SafeState()
	test.That(t, s.T, test.ShouldEqual, 0.2)

	// the sample at 0.3 is still pending and must not leak into the safe state
	test.That(t, f.AdvanceSafe(lastImage), test.ShouldBeFalse)
	test.That(t, f.SafeState().T, test.ShouldEqual, 0.2)

	// advancing backwards never rolls the safe state back
	test.That(t, f.AdvanceSafe(0.1), test.ShouldBeFalse)
	test.That(t, f.SafeState().T, test.ShouldEqual, 0.2)

	test.That(t, f.AdvanceSafe(0.3), test.ShouldBeTrue)
	test.That(t, f.SafeState().T, test.ShouldEqual, 0.3)
}

func TestOutOfOrderArrival(t *testing.T) {
	f := NewFilter(DefaultConfig())
	f.ResetWithPose(r3.Vector{}, quat.Number{Real: 1}, 0)

	// out-of-order inserts still integrate in timestamp order
	f.AddPredictionMeasurement(levelImu(), 0.2)
	f.AddPredictionMeasurement(levelImu(), 0.1)
	test.That(t, f.AdvanceSafe(0.2), test.ShouldBeTrue)
	test.That(t, f.SafeState().T, test.ShouldEqual, 0.2)

	// a straggler behind the timeline is dropped, not integrated
	before := f.SafeState()
	f.AddPoseMeasurement(PoseSample{Pos: r3.Vector{X: 100}, Att: quat.Number{Real: 1}}, 0.15)
	test.That(t, f.AdvanceSafe(0.2), test.ShouldBeFalse)
	test.That(t, f.SafeState().Position, test.ShouldResemble, before.Position)
}

func TestPoseUpdate(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFilter(cfg)
	f.ResetWithPose(r3.Vector{}, quat.Number{Real: 1}, 0)

	f.AddPoseMeasurement(PoseSample{
		Pos: r3.Vector{X: 1},
		Att: quat.Number{Real: math.Cos(0.4), Kmag: math.Sin(0.4)},
	}, 0.5)
	test.That(t, f.AdvanceSafe(0.5), test.ShouldBeTrue)

	s := f.SafeState()
	test.That(t, s.Position.X, test.ShouldBeGreaterThan, 0.5)
	test.That(t, s.Position.X, test.ShouldBeLessThan, 1.0)
	test.That(t, s.Covariance.At(0, 0), test.ShouldBeLessThan, cfg.InitialPositionVar)
	test.That(t, s.Orientation.Kmag, test.ShouldBeGreaterThan, 0)
}

func TestVelocityAndDepthUpdate(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFilter(cfg)
	f.ResetWithPose(r3.Vector{}, quat.Number{Real: 1}, 0)

	f.AddVelocityMeasurement(VelocitySample{Vel: r3.Vector{Y: 2}}, 0.1)
	f.AddDepthMeasurement(DepthSample{Depth: -4}, 0.2)
	test.That(t, f.AdvanceSafe(0.2), test.ShouldBeTrue)

	s := f.SafeState()
	test.That(t, s.Velocity.Y, test.ShouldBeGreaterThan, 0)
	test.That(t, s.Velocity.Y, test.ShouldBeLessThan, 2)
	test.That(t, s.Position.Z, test.ShouldBeLessThan, 0)
	test.That(t, s.Position.Z, test.ShouldBeGreaterThan, -4)
	test.That(t, s.Covariance.At(2, 2), test.ShouldBeLessThan, cfg.InitialPositionVar)
}

func TestImageUpdateFeatureArena(t *testing.T) {
	f := NewFilter(DefaultConfig())
	f.ResetWithAccelerometer(r3.Vector{Z: 9.81}, 0)

	bearing := r3.Vector{X: 0.1, Y: 0.2, Z: 1}.Normalize()
	f.AddImageMeasurement([]ImageFrame{{
		CameraID: 0,
		Observations: []FeatureObservation{
			{Slot: 3, Bearing: bearing, Depth: 2.0, DepthVariance: 0.5},
			{Slot: MaxFeatures, Bearing: bearing, Depth: 1.0, DepthVariance: 0.5},
		},
	}}, 0.1)
	test.That(t, f.AdvanceSafe(0.1), test.ShouldBeTrue)

	s := f.SafeState()
	test.That(t, s.Features[3].Valid, test.ShouldBeTrue)
	test.That(t, s.Features[3].Depth, test.ShouldEqual, 2.0)
	for i, feat := range s.Features {
		if i != 3 {
			test.That(t, feat.Valid, test.ShouldBeFalse)
		}
	}

	// a second observation of the same slot fuses the depth
	f.AddImageMeasurement([]ImageFrame{{
		CameraID: 0,
		Observations: []FeatureObservation{
			{Slot: 3, Bearing: bearing, Depth: 3.0, DepthVariance: 0.5},
		},
	}}, 0.2)
	test.That(t, f.AdvanceSafe(0.2), test.ShouldBeTrue)

	s = f.SafeState()
	test.That(t, s.Features[3].Depth, test.ShouldAlmostEqual, 2.5, 1e-12)
	test.That(t, s.Features[3].DepthVariance, test.ShouldAlmostEqual, 0.25, 1e-12)
}

func TestResetDropsStalePending(t *testing.T) {
	f := NewFilter(DefaultConfig())
	f.ResetWithPose(r3.Vector{}, quat.Number{Real: 1}, 0)
	f.AddPoseMeasurement(PoseSample{Pos: r3.Vector{X: 50}, Att: quat.Number{Real: 1}}, 1.0)

	seed := r3.Vector{X: 1, Y: 1, Z: 1}
	f.ResetWithPose(seed, quat.Number{Real: 1}, 2.0)

	// the pre-reset pose must not survive the new epoch
	test.That(t, f.AdvanceSafe(3.0), test.ShouldBeFalse)
	test.That(t, f.SafeState().Position, test.ShouldResemble, seed)
}

func TestPredictDeadReckoning(t *testing.T) {
	cfg := DefaultConfig()
	f := NewFilter(cfg)
	f.ResetWithAccelerometer(r3.Vector{Z: 9.81}, 0)

	// hovering: gravity-compensated acceleration is zero
	for _, ts := range []float64{0.1, 0.2, 0.3} {
		f.AddPredictionMeasurement(levelImu(), ts)
	}
	test.That(t, f.AdvanceSafe(0.3), test.ShouldBeTrue)
	s := f.SafeState()
	test.That(t, s.Velocity.Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, s.Position.Norm(), test.ShouldBeLessThan, 1e-9)
	// integration inflates uncertainty
	test.That(t, s.Covariance.At(3, 3), test.ShouldBeGreaterThan, cfg.InitialVelocityVar)

	// constant extra thrust along body x accelerates the state
	f2 := NewFilter(cfg)
	f2.ResetWithAccelerometer(r3.Vector{Z: 9.81}, 0)
	for _, ts := range []float64{0.1, 0.2, 0.3} {
		f2.AddPredictionMeasurement(ImuSample{Acc: r3.Vector{X: 1, Z: 9.81}}, ts)
	}
	test.That(t, f2.AdvanceSafe(0.3), test.ShouldBeTrue)
	test.That(t, f2.SafeState().Velocity.X, test.ShouldBeGreaterThan, 0.1)
}

func TestGyroIntegration(t *testing.T) {
	f := NewFilter(DefaultConfig())
	f.ResetWithAccelerometer(r3.Vector{Z: 9.81}, 0)

	// one radian per second about z; the first sample only primes the
	// integrator, so rotation accrues over the remaining 0.9 s
	rate := r3.Vector{Z: 1}
	for ts := 0.1; ts <= 1.001; ts += 0.1 {
		f.AddPredictionMeasurement(ImuSample{Acc: r3.Vector{Z: 9.81}, Gyro: rate}, ts)
	}
	test.That(t, f.AdvanceSafe(1.1), test.ShouldBeTrue)

	s := f.SafeState()
	rotated := quatRotate(s.Orientation, r3.Vector{X: 1})
	test.That(t, rotated.X, test.ShouldAlmostEqual, math.Cos(0.9), 1e-2)
	test.That(t, rotated.Y, test.ShouldAlmostEqual, math.Sin(0.9), 1e-2)
}

func TestSafeStateCopyIsolation(t *testing.T) {
	f := NewFilter(DefaultConfig())
	f.ResetWithAccelerometer(r3.Vector{Z: 9.81}, 0)

	s := f.SafeState()
	s.Covariance.SetSym(0, 0, 1e6)
	test.That(t, f.SafeState().Covariance.At(0, 0), test.ShouldNotEqual, 1e6)
}
