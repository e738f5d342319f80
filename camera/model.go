package camera

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/vio/logging"
)

var (
	// ErrBehindCamera is returned when a bearing does not point in front of the
	// camera and therefore has no projection.
	ErrBehindCamera = errors.New("bearing points behind the camera")
	// ErrNoConvergence is returned when the iterative unprojection did not meet
	// tolerance within the iteration budget; the observation is unusable.
	ErrNoConvergence = errors.New("undistortion did not converge")
	// ErrOutsideValidRadius is returned when a point leaves the model's valid
	// domain.
	ErrOutsideValidRadius = errors.New("point outside the valid radius of the camera model")
	// ErrNotRefractive is returned when a refractive-index operation is asked of
	// a model without a refractive component.
	ErrNotRefractive = errors.New("distortion model has no refractive index")
)

const (
	maxUndistortIterations = 100
	undistortTolerance     = 1e-10
)

// analyticUndistorter is implemented by the distortion models with a
// closed-form inverse.
type analyticUndistorter interface {
	Undistort(pt r2.Point) (r2.Point, error)
}

// Model is a geometric camera model: pinhole intrinsics combined with a
// distortion model and an optional validity radius on the normalized plane.
type Model struct {
	Intrinsics  *PinholeCameraIntrinsics
	Distortion  Distorter
	ValidRadius float64
}

// NewModel validates and combines intrinsics with a distortion model.
// A zero validRadius means unbounded.
func NewModel(intrinsics *PinholeCameraIntrinsics, distortion Distorter, validRadius float64) (*Model, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if distortion == nil {
		return nil, errors.New("distortion model not provided")
	}
	if err := distortion.CheckValid(); err != nil {
		return nil, err
	}
	if validRadius == 0 {
		validRadius = math.Inf(1)
	}
	return &Model{Intrinsics: intrinsics, Distortion: distortion, ValidRadius: validRadius}, nil
}

// NewModelFromJSONFile loads a camera model from a calibration JSON file.
func NewModelFromJSONFile(jsonPath string) (*Model, error) {
	cfg, err := readCalibrationConfig(jsonPath)
	if err != nil {
		return nil, err
	}
	intrinsics, err := cfg.intrinsics()
	if err != nil {
		return nil, err
	}
	distortion, err := NewDistorter(DistortionType(cfg.DistortionModel), cfg.DistortionParams, cfg.RefractiveIndex)
	if err != nil {
		return nil, err
	}
	return NewModel(intrinsics, distortion, cfg.ValidRadius)
}

// RefractiveIndex returns the current refractive index and whether the model
// depends on one.
func (m *Model) RefractiveIndex() (float64, bool) {
	if rd, ok := m.Distortion.(RefractiveDistorter); ok {
		return rd.Index(), true
	}
	return 0, false
}

// SetRefractiveIndex refreshes the refractive index from a newly advanced safe
// state. It is a no-op for models without a refractive component.
func (m *Model) SetRefractiveIndex(n float64) {
	if rd, ok := m.Distortion.(RefractiveDistorter); ok {
		rd.SetIndex(n)
	}
}

// pinhole returns the unit-depth plane projection of a bearing and checks that
// the bearing points in front of the camera and within the valid radius.
func (m *Model) pinhole(vec r3.Vector) (r2.Point, error) {
	if vec.Z <= 0 {
		return r2.Point{}, ErrBehindCamera
	}
	pt := r2.Point{X: vec.X / vec.Z, Y: vec.Y / vec.Z}
	if math.Hypot(pt.X, pt.Y) > m.ValidRadius {
		return r2.Point{}, ErrOutsideValidRadius
	}
	return pt, nil
}

// ProjectBearing projects a bearing vector to a floating-point pixel location:
// pinhole divide, distortion, then the intrinsic scale and shift.
func (m *Model) ProjectBearing(vec r3.Vector) (r2.Point, error) {
	und, err := m.pinhole(vec)
	if err != nil {
		return r2.Point{}, err
	}
	dist := m.Distortion.Distort(und)
	return r2.Point{
		X: m.Intrinsics.Fx*dist.X + m.Intrinsics.Ppx,
		Y: m.Intrinsics.Fy*dist.Y + m.Intrinsics.Ppy,
	}, nil
}

// ProjectBearingJacobian projects a bearing vector and also returns the
// analytic 2x3 derivative of the pixel w.r.t. the bearing, the product
// Jintrinsic · Jdistort · Jpinhole.
func (m *Model) ProjectBearingJacobian(vec r3.Vector) (r2.Point, *mat.Dense, error) {
	und, err := m.pinhole(vec)
	if err != nil {
		return r2.Point{}, nil, err
	}
	jPinhole := mat.NewDense(2, 3, []float64{
		1.0 / vec.Z, 0, -vec.X / (vec.Z * vec.Z),
		0, 1.0 / vec.Z, -vec.Y / (vec.Z * vec.Z),
	})
	dist, jDistort := m.Distortion.Jacobian(und)
	px := r2.Point{
		X: m.Intrinsics.Fx*dist.X + m.Intrinsics.Ppx,
		Y: m.Intrinsics.Fy*dist.Y + m.Intrinsics.Ppy,
	}
	jIntrinsic := mat.NewDense(2, 2, []float64{m.Intrinsics.Fx, 0, 0, m.Intrinsics.Fy})

	var tmp, j mat.Dense
	tmp.Mul(jDistort, jPinhole)
	j.Mul(jIntrinsic, &tmp)
	return px, &j, nil
}

// ProjectBearingIndexJacobian is ProjectBearingJacobian extended with the
// analytic derivative of the pixel w.r.t. the scalar refractive index. It
// fails for models without a refractive component.
func (m *Model) ProjectBearingIndexJacobian(vec r3.Vector) (r2.Point, *mat.Dense, r2.Point, error) {
	rd, ok := m.Distortion.(RefractiveDistorter)
	if !ok {
		return r2.Point{}, nil, r2.Point{}, errors.Wrapf(ErrNotRefractive, "%q", m.Distortion.ModelType())
	}
	px, j, err := m.ProjectBearingJacobian(vec)
	if err != nil {
		return r2.Point{}, nil, r2.Point{}, err
	}
	und, _ := m.pinhole(vec)
	_, dDistort := rd.IndexJacobian(und)
	dPx := r2.Point{X: m.Intrinsics.Fx * dDistort.X, Y: m.Intrinsics.Fy * dDistort.Y}
	return px, j, dPx, nil
}

// UnprojectPixel inverts ProjectBearing, returning the unit bearing vector
// observed at a pixel. The refractive models use their closed-form inverse,
// since the Gauss-Newton solve is unstable near their domain boundary; all
// other models are inverted iteratively.
func (m *Model) UnprojectPixel(px r2.Point) (r3.Vector, error) {
	y := r2.Point{
		X: (px.X - m.Intrinsics.Ppx) / m.Intrinsics.Fx,
		Y: (px.Y - m.Intrinsics.Ppy) / m.Intrinsics.Fy,
	}

	var und r2.Point
	var err error
	switch m.Distortion.ModelType() {
	case RefractiveDistortionType, EquirefractiveDistortionType:
		und, err = m.Distortion.(analyticUndistorter).Undistort(y)
	case BrownConradyDistortionType, KannalaBrandtDistortionType, DoubleSphereDistortionType:
		und, err = m.undistortIterative(y)
	default:
		return r3.Vector{}, errors.Errorf("do not know how to unproject %q distortion model", m.Distortion.ModelType())
	}
	if err != nil {
		return r3.Vector{}, err
	}
	if math.Hypot(und.X, und.Y) > m.ValidRadius {
		return r3.Vector{}, ErrOutsideValidRadius
	}
	return r3.Vector{X: und.X, Y: und.Y, Z: 1.0}.Normalize(), nil
}

// undistortIterative solves distort(x̄) = y by Gauss-Newton on the residual
// e = y − distort(x̄), starting from the pinhole back-projection.
func (m *Model) undistortIterative(y r2.Point) (r2.Point, error) {
	ybar := y
	for i := 0; i < maxUndistortIterations; i++ {
		yTmp, j := m.Distortion.Jacobian(ybar)
		e := r2.Point{X: y.X - yTmp.X, Y: y.Y - yTmp.Y}

		// normal equations for the 2x2 system: du = (JᵀJ)⁻¹Jᵀe
		a := j.At(0, 0)*j.At(0, 0) + j.At(1, 0)*j.At(1, 0)
		b := j.At(0, 0)*j.At(0, 1) + j.At(1, 0)*j.At(1, 1)
		c := j.At(0, 1)*j.At(0, 1) + j.At(1, 1)*j.At(1, 1)
		det := a*c - b*b
		if det == 0 {
			return r2.Point{}, ErrNoConvergence
		}
		jte := r2.Point{
			X: j.At(0, 0)*e.X + j.At(1, 0)*e.Y,
			Y: j.At(0, 1)*e.X + j.At(1, 1)*e.Y,
		}
		ybar.X += (c*jte.X - b*jte.Y) / det
		ybar.Y += (-b*jte.X + a*jte.Y) / det

		if e.X*e.X+e.Y*e.Y <= undistortTolerance {
			return ybar, nil
		}
	}
	return r2.Point{}, ErrNoConvergence
}

// SelfCheck projects randomized in-range bearings through the model, comparing
// the analytic projection Jacobian against a central finite difference and
// checking that unprojection recovers the bearing. It returns the combined
// failures, nil if the model is consistent.
func (m *Model) SelfCheck(rng *rand.Rand, samples int, logger logging.Logger) error {
	const (
		maxRadius  = 0.5
		fdStep     = 1e-6
		jacTol     = 1e-4
		roundTpTol = 1e-6
	)
	var errs error
	for s := 0; s < samples; s++ {
		r := maxRadius * math.Sqrt(rng.Float64())
		phi := 2 * math.Pi * rng.Float64()
		bearing := r3.Vector{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: 1.0}.Normalize()

		px, j, err := m.ProjectBearingJacobian(bearing)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "projection of %v failed", bearing))
			continue
		}

		// central finite difference of the projection
		for col := 0; col < 3; col++ {
			delta := r3.Vector{}
			switch col {
			case 0:
				delta.X = fdStep
			case 1:
				delta.Y = fdStep
			case 2:
				delta.Z = fdStep
			}
			pxPlus, err1 := m.ProjectBearing(bearing.Add(delta))
			pxMinus, err2 := m.ProjectBearing(bearing.Sub(delta))
			if err1 != nil || err2 != nil {
				continue
			}
			fdX := (pxPlus.X - pxMinus.X) / (2 * fdStep)
			fdY := (pxPlus.Y - pxMinus.Y) / (2 * fdStep)
			scale := math.Max(1.0, math.Max(math.Abs(fdX), math.Abs(fdY)))
			if math.Abs(fdX-j.At(0, col))/scale > jacTol || math.Abs(fdY-j.At(1, col))/scale > jacTol {
				errs = multierr.Append(errs, errors.Errorf(
					"projection Jacobian column %d mismatch at %v: analytic (%v, %v), finite difference (%v, %v)",
					col, bearing, j.At(0, col), j.At(1, col), fdX, fdY))
			}
		}

		back, err := m.UnprojectPixel(px)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "unprojection of %v failed", px))
			continue
		}
		if diff := back.Sub(bearing).Norm(); diff > roundTpTol {
			errs = multierr.Append(errs, errors.Errorf(
				"round trip error %v for bearing %v", diff, bearing))
		}
	}
	if errs == nil && logger != nil {
		logger.Debugf("camera model %q self check passed over %d samples", m.Distortion.ModelType(), samples)
	}
	return errs
}
