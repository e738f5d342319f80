package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// doubleSphereEps is the squared normalized radius below which the double
// sphere mapping degenerates to the identity.
const doubleSphereEps = 1e-16

// DoubleSphere models fisheye lenses by two chained unit-sphere reprojections
// parameterized by (k1, k2).
type DoubleSphere struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
}

// NewDoubleSphere takes a slice of floats (k1, k2) and returns the model.
// Missing values are zero.
func NewDoubleSphere(inp []float64) (*DoubleSphere, error) {
	if len(inp) > 2 {
		return nil, errors.Errorf("list of parameters too long, expected max 2, got %d", len(inp))
	}
	for i := len(inp); i < 2; i++ {
		inp = append(inp, 0.0)
	}
	return &DoubleSphere{inp[0], inp[1]}, nil
}

// ModelType returns the type of distortion model.
func (ds *DoubleSphere) ModelType() DistortionType {
	return DoubleSphereDistortionType
}

// CheckValid checks if the fields for DoubleSphere have valid inputs.
func (ds *DoubleSphere) CheckValid() error {
	if ds == nil {
		return InvalidDistortionError("DoubleSphere shaped distortion_parameters not provided")
	}
	return nil
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (ds *DoubleSphere) Parameters() []float64 {
	if ds == nil {
		return []float64{}
	}
	return []float64{ds.K1, ds.K2}
}

// Distort applies the model to a normalized image plane point.
func (ds *DoubleSphere) Distort(pt r2.Point) r2.Point {
	x2 := pt.X * pt.X
	y2 := pt.Y * pt.Y
	if x2+y2 < doubleSphereEps {
		return pt
	}
	d1 := math.Sqrt(x2 + y2 + 1.0)
	d2 := math.Sqrt(x2 + y2 + (ds.K1*d1+1.0)*(ds.K1*d1+1.0))
	s := 1.0 / (ds.K2*d2 + (1-ds.K2)*(ds.K1*d1+1.0))
	return r2.Point{X: pt.X * s, Y: pt.Y * s}
}

// Jacobian returns the distorted point and the analytic 2x2 derivative of the
// distorted point w.r.t. the undistorted point.
func (ds *DoubleSphere) Jacobian(pt r2.Point) (r2.Point, *mat.Dense) {
	x2 := pt.X * pt.X
	y2 := pt.Y * pt.Y
	if x2+y2 < doubleSphereEps {
		return pt, identityJacobian()
	}

	d1 := math.Sqrt(x2 + y2 + 1.0)
	d2 := math.Sqrt(x2 + y2 + (ds.K1*d1+1.0)*(ds.K1*d1+1.0))
	s := 1.0 / (ds.K2*d2 + (1-ds.K2)*(ds.K1*d1+1.0))
	out := r2.Point{X: pt.X * s, Y: pt.Y * s}

	d1dx := pt.X / d1
	d1dy := pt.Y / d1
	d2dx := (pt.X + d1dx*ds.K1*(d1*ds.K1+1.0)) / d2
	d2dy := (pt.Y + d1dy*ds.K1*(d1*ds.K1+1.0)) / d2

	j := mat.NewDense(2, 2, []float64{
		-pt.X*(d2dx*ds.K2-d1dx*ds.K1*(ds.K2-1.0))*s*s + s,
		-s * s * pt.X * (d2dy*ds.K2 - d1dy*ds.K1*(ds.K2-1.0)),
		-s * s * pt.Y * (d2dx*ds.K2 - d1dx*ds.K1*(ds.K2-1.0)),
		-pt.Y*(d2dy*ds.K2-d1dy*ds.K1*(ds.K2-1.0))*s*s + s,
	})
	return out, j
}
