package camera

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// BrownConrady is the radial-tangential ("plumb bob") distortion model with
// three radial and two tangential coefficients.
//
//	x_d = x * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x*y + p2*(r² + 2*x²)
//	y_d = y * (1 + k1*r² + k2*r⁴ + k3*r⁶) + p1*(r² + 2*y²) + 2*p2*x*y
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes a slice of floats in calibration-file order
// (k1, k2, p1, p2, k3) and returns the model. Missing values are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	for i := len(inp); i < 5; i++ {
		inp = append(inp, 0.0)
	}
	return &BrownConrady{
		RadialK1:     inp[0],
		RadialK2:     inp[1],
		TangentialP1: inp[2],
		TangentialP2: inp[3],
		RadialK3:     inp[4],
	}, nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// Parameters returns the parameters of the distortion model as a list of floats,
// in the same order the constructor accepts.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Distort applies the model to a normalized image plane point.
func (bc *BrownConrady) Distort(pt r2.Point) r2.Point {
	x2 := pt.X * pt.X
	y2 := pt.Y * pt.Y
	xy := pt.X * pt.Y
	r2v := x2 + y2
	kr := 1 + ((bc.RadialK3*r2v+bc.RadialK2)*r2v+bc.RadialK1)*r2v
	return r2.Point{
		X: pt.X*kr + 2*bc.TangentialP1*xy + bc.TangentialP2*(r2v+2*x2),
		Y: pt.Y*kr + bc.TangentialP1*(r2v+2*y2) + 2*bc.TangentialP2*xy,
	}
}

// Jacobian returns the distorted point and the closed-form polynomial 2x2
// derivative of the distorted point w.r.t. the undistorted point.
func (bc *BrownConrady) Jacobian(pt r2.Point) (r2.Point, *mat.Dense) {
	x2 := pt.X * pt.X
	y2 := pt.Y * pt.Y
	xy := pt.X * pt.Y
	r2v := x2 + y2
	kr := 1 + ((bc.RadialK3*r2v+bc.RadialK2)*r2v+bc.RadialK1)*r2v
	out := r2.Point{
		X: pt.X*kr + 2*bc.TangentialP1*xy + bc.TangentialP2*(r2v+2*x2),
		Y: pt.Y*kr + bc.TangentialP1*(r2v+2*y2) + 2*bc.TangentialP2*xy,
	}
	j00 := kr + 2*bc.RadialK1*x2 + 4*bc.RadialK2*x2*r2v + 6*bc.RadialK3*x2*r2v*r2v +
		2*bc.TangentialP1*pt.Y + 6*bc.TangentialP2*pt.X
	j01 := 2*bc.RadialK1*xy + 4*bc.RadialK2*xy*r2v + 6*bc.RadialK3*xy*r2v*r2v +
		2*bc.TangentialP1*pt.X + 2*bc.TangentialP2*pt.Y
	j11 := kr + 2*bc.RadialK1*y2 + 4*bc.RadialK2*y2*r2v + 6*bc.RadialK3*y2*r2v*r2v +
		6*bc.TangentialP1*pt.Y + 2*bc.TangentialP2*pt.X
	return out, mat.NewDense(2, 2, []float64{j00, j01, j01, j11})
}
