package camera

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// EquidistantRefractive composes the flat-interface refraction with the
// equidistant fisheye model: the refractive stage is applied first, then the
// fisheye stage. Its Jacobian is the chain-rule product of the two stage
// Jacobians, which remain individually retrievable since the filter needs the
// refractive-only stage for its derivative w.r.t. the refractive-index state.
type EquidistantRefractive struct {
	Fisheye *KannalaBrandt
	Water   *FlatRefractive
}

// NewEquidistantRefractive builds the composed model from the fisheye
// coefficients (k1..k4) and the initial refractive index.
func NewEquidistantRefractive(parameters []float64, refractiveIndex float64) (*EquidistantRefractive, error) {
	fisheye, err := NewKannalaBrandt(parameters)
	if err != nil {
		return nil, err
	}
	water, err := NewFlatRefractive(refractiveIndex)
	if err != nil {
		return nil, err
	}
	return &EquidistantRefractive{Fisheye: fisheye, Water: water}, nil
}

// ModelType returns the type of distortion model.
func (er *EquidistantRefractive) ModelType() DistortionType {
	return EquirefractiveDistortionType
}

// CheckValid checks both stages.
func (er *EquidistantRefractive) CheckValid() error {
	if er == nil {
		return InvalidDistortionError("EquidistantRefractive distortion not provided")
	}
	if err := er.Fisheye.CheckValid(); err != nil {
		return err
	}
	return er.Water.CheckValid()
}

// Parameters returns the fisheye coefficients followed by the refractive index.
func (er *EquidistantRefractive) Parameters() []float64 {
	if er == nil {
		return []float64{}
	}
	return append(er.Fisheye.Parameters(), er.Water.Parameters()...)
}

// Index returns the current refractive index.
func (er *EquidistantRefractive) Index() float64 {
	return er.Water.Index()
}

// SetIndex sets the refractive index of the refractive stage.
func (er *EquidistantRefractive) SetIndex(n float64) {
	er.Water.SetIndex(n)
}

// Distort applies the refractive stage and then the fisheye stage.
func (er *EquidistantRefractive) Distort(pt r2.Point) r2.Point {
	return er.Fisheye.Distort(er.Water.Distort(pt))
}

// Jacobian returns the distorted point and the chain-rule product
// Jfisheye · Jwater.
func (er *EquidistantRefractive) Jacobian(pt r2.Point) (r2.Point, *mat.Dense) {
	out, jFisheye, jWater := er.StageJacobians(pt)
	var j mat.Dense
	j.Mul(jFisheye, jWater)
	return out, &j
}

// StageJacobians returns the distorted point and the two stage Jacobians,
// fisheye evaluated at the refracted point and refractive at the input point.
func (er *EquidistantRefractive) StageJacobians(pt r2.Point) (r2.Point, *mat.Dense, *mat.Dense) {
	mid, jWater := er.Water.Jacobian(pt)
	out, jFisheye := er.Fisheye.Jacobian(mid)
	return out, jFisheye, jWater
}

// IndexJacobian returns the distorted point and the derivative of the distorted
// point w.r.t. the refractive index, chained through the fisheye stage.
func (er *EquidistantRefractive) IndexJacobian(pt r2.Point) (r2.Point, r2.Point) {
	mid, dMid := er.Water.IndexJacobian(pt)
	out, jFisheye := er.Fisheye.Jacobian(mid)
	return out, r2.Point{
		X: jFisheye.At(0, 0)*dMid.X + jFisheye.At(0, 1)*dMid.Y,
		Y: jFisheye.At(1, 0)*dMid.X + jFisheye.At(1, 1)*dMid.Y,
	}
}

// Undistort inverts the fisheye stage and then the refractive stage.
func (er *EquidistantRefractive) Undistort(pt r2.Point) (r2.Point, error) {
	mid, err := er.Fisheye.Undistort(pt)
	if err != nil {
		return r2.Point{}, err
	}
	return er.Water.Undistort(mid)
}
