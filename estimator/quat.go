package estimator

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// quatRotate rotates a vector by a unit quaternion: q v q*.
func quatRotate(q quat.Number, v r3.Vector) r3.Vector {
	qv := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	res := quat.Mul(quat.Mul(q, qv), quat.Conj(q))
	return r3.Vector{X: res.Imag, Y: res.Jmag, Z: res.Kmag}
}

// quatNormalize returns the unit quaternion with the same direction, or the
// identity if the norm is degenerate.
func quatNormalize(q quat.Number) quat.Number {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// quatFromScaledAxis is the exponential map from a rotation vector.
func quatFromScaledAxis(w r3.Vector) quat.Number {
	angle := w.Norm()
	if angle < 1e-12 {
		return quat.Number{Real: 1, Imag: w.X / 2, Jmag: w.Y / 2, Kmag: w.Z / 2}
	}
	axis := w.Mul(1 / angle)
	s := math.Sin(angle / 2)
	return quat.Number{
		Real: math.Cos(angle / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// quatBetween returns the shortest rotation taking unit vector a to unit
// vector b.
func quatBetween(a, b r3.Vector) quat.Number {
	cross := a.Cross(b)
	dot := a.Dot(b)
	if dot < -1+1e-12 {
		// antiparallel; rotate half a turn about any orthogonal axis
		ortho := r3.Vector{X: 1}.Cross(a)
		if ortho.Norm() < 1e-9 {
			ortho = r3.Vector{Y: 1}.Cross(a)
		}
		ortho = ortho.Normalize()
		return quat.Number{Imag: ortho.X, Jmag: ortho.Y, Kmag: ortho.Z}
	}
	q := quat.Number{Real: 1 + dot, Imag: cross.X, Jmag: cross.Y, Kmag: cross.Z}
	return quatNormalize(q)
}

// quatSlerp spherically interpolates between two unit quaternions.
func quatSlerp(a, b quat.Number, k float64) quat.Number {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	if dot > 1-1e-9 {
		return quatNormalize(quat.Add(quat.Scale(1-k, a), quat.Scale(k, b)))
	}
	theta := math.Acos(dot)
	sa := math.Sin((1 - k) * theta)
	sb := math.Sin(k * theta)
	return quatNormalize(quat.Scale(1/math.Sin(theta), quat.Add(quat.Scale(sa, a), quat.Scale(sb, b))))
}
