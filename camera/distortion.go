// Package camera implements the geometric camera models used by the estimator,
// including their analytic Jacobians and inversions.
package camera

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DistortionType is the name of the distortion model. The values match the
// spellings used in calibration files.
type DistortionType string

const (
	// BrownConradyDistortionType is the radial-tangential model for simple lenses
	// of narrow field easily modeled as a pinhole camera.
	BrownConradyDistortionType = DistortionType("plumb_bob")
	// KannalaBrandtDistortionType is the equidistant model for wide-angle and
	// fisheye lens distortion.
	KannalaBrandtDistortionType = DistortionType("equidistant")
	// DoubleSphereDistortionType models fisheye lenses with two chained
	// unit-sphere reprojections.
	DoubleSphereDistortionType = DistortionType("ds")
	// RefractiveDistortionType is a flat-interface refraction approximation for
	// cameras behind an underwater housing port.
	RefractiveDistortionType = DistortionType("refractive")
	// EquirefractiveDistortionType composes the refractive model with the
	// equidistant fisheye model.
	EquirefractiveDistortionType = DistortionType("equirefractive")
)

// Distorter maps a point on the normalized unit-depth image plane to its
// distorted counterpart according to the model.
type Distorter interface {
	ModelType() DistortionType
	CheckValid() error
	Parameters() []float64
	Distort(pt r2.Point) r2.Point
	// Jacobian returns the distorted point together with the analytic 2x2
	// derivative of the distorted point w.r.t. the undistorted point.
	Jacobian(pt r2.Point) (r2.Point, *mat.Dense)
}

// RefractiveDistorter is a Distorter whose mapping depends on a refractive
// index. The index tracks a co-estimated state variable, not a calibration
// constant, and is refreshed on every safe-state advance.
type RefractiveDistorter interface {
	Distorter
	Index() float64
	SetIndex(n float64)
	// IndexJacobian returns the distorted point together with the analytic
	// derivative of the distorted point w.r.t. the refractive index.
	IndexJacobian(pt r2.Point) (r2.Point, r2.Point)
}

// InvalidDistortionError is used when the distortion_parameters are invalid.
func InvalidDistortionError(msg string) error {
	return errors.Wrap(errors.New("invalid distortion_parameters"), msg)
}

// NewDistorter returns a Distorter given a valid DistortionType, its parameters
// and, for the refractive models, the initial refractive index.
func NewDistorter(distortionType DistortionType, parameters []float64, refractiveIndex float64) (Distorter, error) {
	switch distortionType {
	case BrownConradyDistortionType:
		return NewBrownConrady(parameters)
	case KannalaBrandtDistortionType:
		return NewKannalaBrandt(parameters)
	case DoubleSphereDistortionType:
		return NewDoubleSphere(parameters)
	case RefractiveDistortionType:
		return NewFlatRefractive(refractiveIndex)
	case EquirefractiveDistortionType:
		return NewEquidistantRefractive(parameters, refractiveIndex)
	default:
		return nil, errors.Errorf("do not know how to parse %q distortion model", distortionType)
	}
}

func identityJacobian() *mat.Dense {
	return mat.NewDense(2, 2, []float64{1, 0, 0, 1})
}
