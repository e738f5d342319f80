package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// kannalaBrandtEps is the normalized radius below which the equidistant
// mapping degenerates to the identity, removing the 0/0 singularity at the
// optical axis.
const kannalaBrandtEps = 1e-8

// KannalaBrandt is the equidistant fisheye distortion model with four
// coefficients on the incidence angle θ = atan(r):
//
//	θd = θ * (1 + k1*θ² + k2*θ⁴ + k3*θ⁶ + k4*θ⁸)
//	out = in * θd/r
type KannalaBrandt struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`
	K4 float64 `json:"k4"`
}

// NewKannalaBrandt takes a slice of floats (k1, k2, k3, k4) and returns the
// model. Missing values are zero.
func NewKannalaBrandt(inp []float64) (*KannalaBrandt, error) {
	if len(inp) > 4 {
		return nil, errors.Errorf("list of parameters too long, expected max 4, got %d", len(inp))
	}
	for i := len(inp); i < 4; i++ {
		inp = append(inp, 0.0)
	}
	return &KannalaBrandt{inp[0], inp[1], inp[2], inp[3]}, nil
}

// ModelType returns the type of distortion model.
func (kb *KannalaBrandt) ModelType() DistortionType {
	return KannalaBrandtDistortionType
}

// CheckValid checks if the fields for KannalaBrandt have valid inputs.
func (kb *KannalaBrandt) CheckValid() error {
	if kb == nil {
		return InvalidDistortionError("KannalaBrandt shaped distortion_parameters not provided")
	}
	return nil
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (kb *KannalaBrandt) Parameters() []float64 {
	if kb == nil {
		return []float64{}
	}
	return []float64{kb.K1, kb.K2, kb.K3, kb.K4}
}

func (kb *KannalaBrandt) thetaD(theta float64) float64 {
	th2 := theta * theta
	th4 := th2 * th2
	th6 := th2 * th4
	th8 := th2 * th6
	return theta * (1.0 + kb.K1*th2 + kb.K2*th4 + kb.K3*th6 + kb.K4*th8)
}

// Distort applies the model to a normalized image plane point.
func (kb *KannalaBrandt) Distort(pt r2.Point) r2.Point {
	r := math.Hypot(pt.X, pt.Y)
	if r < kannalaBrandtEps {
		return pt
	}
	s := kb.thetaD(math.Atan(r)) / r
	return r2.Point{X: pt.X * s, Y: pt.Y * s}
}

// Jacobian returns the distorted point and the analytic 2x2 derivative of the
// distorted point w.r.t. the undistorted point.
func (kb *KannalaBrandt) Jacobian(pt r2.Point) (r2.Point, *mat.Dense) {
	r := math.Hypot(pt.X, pt.Y)
	if r < kannalaBrandtEps {
		return pt, identityJacobian()
	}

	rx := pt.X / r
	ry := pt.Y / r

	th := math.Atan(r)
	thR := 1 / (r*r + 1)
	th2 := th * th
	th4 := th2 * th2
	th6 := th2 * th4
	th8 := th2 * th6
	thd := kb.thetaD(th)
	thdTh := 1.0 + 3*kb.K1*th2 + 5*kb.K2*th4 + 7*kb.K3*th6 + 9*kb.K4*th8
	s := thd / r
	sR := thdTh*thR/r - thd/(r*r)

	out := r2.Point{X: pt.X * s, Y: pt.Y * s}
	j := mat.NewDense(2, 2, []float64{
		s + pt.X*sR*rx, pt.X * sR * ry,
		pt.Y * sR * rx, s + pt.Y*sR*ry,
	})
	return out, j
}

// Undistort inverts the model in closed form up to the scalar polynomial
// θd → θ, which is solved by a Newton iteration on the incidence angle.
func (kb *KannalaBrandt) Undistort(pt r2.Point) (r2.Point, error) {
	thd := math.Hypot(pt.X, pt.Y)
	if thd < kannalaBrandtEps {
		return pt, nil
	}
	th := thd
	for i := 0; i < maxUndistortIterations; i++ {
		th2 := th * th
		th4 := th2 * th2
		th6 := th2 * th4
		th8 := th2 * th6
		f := th*(1.0+kb.K1*th2+kb.K2*th4+kb.K3*th6+kb.K4*th8) - thd
		df := 1.0 + 3*kb.K1*th2 + 5*kb.K2*th4 + 7*kb.K3*th6 + 9*kb.K4*th8
		if df == 0 {
			return r2.Point{}, ErrNoConvergence
		}
		step := f / df
		th -= step
		if math.Abs(step) < undistortTolerance {
			s := math.Tan(th) / thd
			return r2.Point{X: pt.X * s, Y: pt.Y * s}, nil
		}
	}
	return r2.Point{}, ErrNoConvergence
}
