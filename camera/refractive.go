package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// FlatRefractive is a flat-interface refraction approximation for a camera
// looking through a planar housing port into a denser medium:
//
//	out = in * n/√(1 + r² − n²r²)
//
// The refractive index n is co-estimated by the filter and refreshed from the
// safe state, so the model is mutable via SetIndex.
type FlatRefractive struct {
	n float64
}

// NewFlatRefractive returns the model at the given refractive index. A zero
// index is treated as 1 (no refraction).
func NewFlatRefractive(index float64) (*FlatRefractive, error) {
	if index == 0 {
		index = 1.0
	}
	return &FlatRefractive{n: index}, nil
}

// ModelType returns the type of distortion model.
func (fr *FlatRefractive) ModelType() DistortionType {
	return RefractiveDistortionType
}

// CheckValid checks if the fields for FlatRefractive have valid inputs.
func (fr *FlatRefractive) CheckValid() error {
	if fr == nil {
		return InvalidDistortionError("FlatRefractive distortion not provided")
	}
	if fr.n <= 0 {
		return InvalidDistortionError("refractive index must be positive")
	}
	return nil
}

// Parameters returns the refractive index as a single-element list.
func (fr *FlatRefractive) Parameters() []float64 {
	if fr == nil {
		return []float64{}
	}
	return []float64{fr.n}
}

// Index returns the current refractive index.
func (fr *FlatRefractive) Index() float64 {
	return fr.n
}

// SetIndex sets the refractive index.
func (fr *FlatRefractive) SetIndex(n float64) {
	fr.n = n
}

// Distort applies the model to a normalized image plane point.
func (fr *FlatRefractive) Distort(pt r2.Point) r2.Point {
	r2v := pt.X*pt.X + pt.Y*pt.Y
	n2 := fr.n * fr.n
	s := fr.n / math.Sqrt(1+r2v-n2*r2v)
	return r2.Point{X: pt.X * s, Y: pt.Y * s}
}

// Jacobian returns the distorted point and the closed-form 2x2 derivative of
// the distorted point w.r.t. the undistorted point, derived from
// g = 1 + r² − n²r².
func (fr *FlatRefractive) Jacobian(pt r2.Point) (r2.Point, *mat.Dense) {
	x2 := pt.X * pt.X
	y2 := pt.Y * pt.Y
	xy := pt.X * pt.Y
	r2v := x2 + y2
	n := fr.n
	n2 := n * n

	s := n / math.Sqrt(1+r2v-n2*r2v)
	out := r2.Point{X: pt.X * s, Y: pt.Y * s}

	g := 1 + r2v - n2*r2v
	g12 := math.Sqrt(g)
	g32 := g * g12
	g2 := g * g

	j := mat.NewDense(2, 2, []float64{
		n / g2 * (g12*x2*(n2-1) + g32), n / g32 * xy * (n2 - 1),
		n / g32 * xy * (n2 - 1), n / g2 * (g12*y2*(n2-1) + g32),
	})
	return out, j
}

// IndexJacobian returns the distorted point and the analytic derivative of the
// distorted point w.r.t. the refractive index.
func (fr *FlatRefractive) IndexJacobian(pt r2.Point) (r2.Point, r2.Point) {
	r2v := pt.X*pt.X + pt.Y*pt.Y
	n := fr.n
	n2 := n * n

	s := n / math.Sqrt(1+r2v-n2*r2v)
	out := r2.Point{X: pt.X * s, Y: pt.Y * s}

	g := 1 + r2v - n2*r2v
	g12 := math.Sqrt(g)
	common := (g12*n2*r2v + g*g12) / (g * g)
	return out, r2.Point{X: pt.X * common, Y: pt.Y * common}
}

// Undistort inverts the refractive scale algebraically via
// m = √(n²r² + n² − r²), out = in/m. The inverse leaves the model's domain when
// the argument of the root becomes non-positive.
func (fr *FlatRefractive) Undistort(pt r2.Point) (r2.Point, error) {
	r2v := pt.X*pt.X + pt.Y*pt.Y
	n2 := fr.n * fr.n
	m2 := n2*r2v + n2 - r2v
	if m2 <= 0 {
		return r2.Point{}, ErrOutsideValidRadius
	}
	m := math.Sqrt(m2)
	return r2.Point{X: pt.X / m, Y: pt.Y / m}, nil
}
