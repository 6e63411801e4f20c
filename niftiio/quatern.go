package niftiio

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// quatern is the qform parameterization of an affine: a proper rotation as a
// unit quaternion (a implied), voxel sizes, and the handedness flag qfac.
type quatern struct {
	b, c, d float64
	qfac    float64
	pixdim  [3]float64
}

// quaternFromAffine follows nifti_mat44_to_quatern: split off the column
// norms, replace what is left by its nearest orthogonal matrix, fold a
// negative determinant into qfac and read off the quaternion.
func quaternFromAffine(affine *mat.Dense) quatern {
	var q quatern

	r := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		col := mat.NewVecDense(3, []float64{affine.At(0, j), affine.At(1, j), affine.At(2, j)})
		norm := mat.Norm(col, 2)
		if norm == 0 {
			norm = 1
			col.SetVec(j, 1)
		}
		q.pixdim[j] = norm
		for i := 0; i < 3; i++ {
			r.Set(i, j, col.AtVec(i)/norm)
		}
	}

	r = nearestOrthogonal(r)

	q.qfac = 1
	if mat.Det(r) < 0 {
		q.qfac = -1
		for i := 0; i < 3; i++ {
			r.Set(i, 2, -r.At(i, 2))
		}
	}

	r11, r12, r13 := r.At(0, 0), r.At(0, 1), r.At(0, 2)
	r21, r22, r23 := r.At(1, 0), r.At(1, 1), r.At(1, 2)
	r31, r32, r33 := r.At(2, 0), r.At(2, 1), r.At(2, 2)

	var a, b, c, d float64
	if trace := r11 + r22 + r33 + 1; trace > 0.5 {
		a = 0.5 * math.Sqrt(trace)
		b = 0.25 * (r32 - r23) / a
		c = 0.25 * (r13 - r31) / a
		d = 0.25 * (r21 - r12) / a
	} else {
		xd := 1 + r11 - (r22 + r33)
		yd := 1 + r22 - (r11 + r33)
		zd := 1 + r33 - (r11 + r22)
		switch {
		case xd > 1:
			b = 0.5 * math.Sqrt(xd)
			c = 0.25 * (r12 + r21) / b
			d = 0.25 * (r13 + r31) / b
			a = 0.25 * (r32 - r23) / b
		case yd > 1:
			c = 0.5 * math.Sqrt(yd)
			b = 0.25 * (r12 + r21) / c
			d = 0.25 * (r23 + r32) / c
			a = 0.25 * (r13 - r31) / c
		default:
			d = 0.5 * math.Sqrt(zd)
			b = 0.25 * (r13 + r31) / d
			c = 0.25 * (r23 + r32) / d
			a = 0.25 * (r21 - r12) / d
		}
		if a < 0 {
			b, c, d = -b, -c, -d
		}
	}

	q.b, q.c, q.d = b, c, d
	return q
}

// nearestOrthogonal returns U*Vᵀ from the SVD of m, the orthogonal factor of
// its polar decomposition.
func nearestOrthogonal(m *mat.Dense) *mat.Dense {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return m
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	out := mat.NewDense(3, 3, nil)
	out.Mul(&u, v.T())
	return out
}

// matrix rebuilds the 4x4 affine (without offsets) from the quaternion,
// following nifti_quatern_to_mat44.
func (q quatern) matrix() *mat.Dense {
	b, c, d := q.b, q.c, q.d
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// Not a unit quaternion: normalize (b, c, d) and take a = 0.
		n := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*n, c*n, d*n
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	x, y, z := q.pixdim[0], q.pixdim[1], q.pixdim[2]
	if x <= 0 {
		x = 1
	}
	if y <= 0 {
		y = 1
	}
	if z <= 0 {
		z = 1
	}
	qfac := q.qfac
	if qfac < 0 {
		z = -z
	}

	out := mat.NewDense(4, 4, nil)
	out.Set(0, 0, (a*a+b*b-c*c-d*d)*x)
	out.Set(0, 1, 2*(b*c-a*d)*y)
	out.Set(0, 2, 2*(b*d+a*c)*z)
	out.Set(1, 0, 2*(b*c+a*d)*x)
	out.Set(1, 1, (a*a+c*c-b*b-d*d)*y)
	out.Set(1, 2, 2*(c*d-a*b)*z)
	out.Set(2, 0, 2*(b*d-a*c)*x)
	out.Set(2, 1, 2*(c*d+a*b)*y)
	out.Set(2, 2, (a*a+d*d-c*c-b*b)*z)
	out.Set(3, 3, 1)
	return out
}
