package series

import (
	"math"

	"github.com/carbocation/dcm2nii/niftiio"
	"gonum.org/v1/gonum/mat"
)

// Affine maps voxel (column, row, slice) indices to RAS+ millimeters. DICOM
// positions are LPS, so the first two rows are negated.
func (s *Series) Affine() *mat.Dense {
	first := s.First()
	iop := s.Orientation()

	// PixelSpacing is (row spacing, column spacing): moving one column walks
	// along the row direction by the column spacing, and vice versa.
	colStep := first.PixelSpacing[1]
	rowStep := first.PixelSpacing[0]
	if colStep <= 0 {
		colStep = 1
	}
	if rowStep <= 0 {
		rowStep = 1
	}

	var origin [3]float64
	if first.HasImagePosition {
		origin = first.ImagePosition
	}

	lps := mat.NewDense(4, 4, []float64{
		iop[0] * colStep, iop[3] * rowStep, s.Step[0], origin[0],
		iop[1] * colStep, iop[4] * rowStep, s.Step[1], origin[1],
		iop[2] * colStep, iop[5] * rowStep, s.Step[2], origin[2],
		0, 0, 0, 1,
	})

	lpsToRAS := mat.NewDiagDense(4, []float64{-1, -1, 1, 1})

	ras := mat.NewDense(4, 4, nil)
	ras.Mul(lpsToRAS, lps)
	return ras
}

// Volume stacks the pixel data, applying each slice's rescale slope and
// intercept. The result is (columns, rows, slices) or (columns, rows, slices,
// frames) in the slices' own orientation.
func (s *Series) Volume() *niftiio.Volume {
	first := s.First()
	nx, ny, nz, nt := first.Columns, first.Rows, s.NumSlices(), s.NumFrames()

	shape := []int{nx, ny, nz}
	if nt > 1 {
		shape = append(shape, nt)
	}

	v := &niftiio.Volume{
		Shape:  shape,
		Affine: s.Affine(),
		Data:   make([]float64, nx*ny*nz*nt),
	}

	unscaled := true
	for z, group := range s.Positions {
		for t, f := range group {
			slope, intercept := f.RescaleSlope, f.RescaleIntercept
			if slope == 0 {
				slope = 1
			}
			if slope != 1 || intercept != 0 {
				unscaled = false
			}

			px := f.Pixels()
			for row := 0; row < ny; row++ {
				for col := 0; col < nx; col++ {
					v.Data[v.Index(col, row, z, t)] = float64(px[row*nx+col])*slope + intercept
				}
			}
		}
	}

	allowUint8 := unscaled && first.BitsAllocated == 8 && first.PixelRepresentation == 0
	v.Datatype = niftiio.ChooseDatatype(v.Data, allowUint8)

	return v
}

// lasSigns is the direction each voxel axis must point in RAS+ for the
// canonical LAS orientation: x toward Left, y toward Anterior, z toward
// Superior.
var lasSigns = [3]float64{-1, 1, 1}

// Reorient permutes and flips the spatial axes of v so that voxel axis i
// follows world axis i with the LAS signs, and adjusts the affine so every
// voxel keeps its world position. The time axis is untouched.
func Reorient(v *niftiio.Volume) *niftiio.Volume {
	perm := closestAxes(v.Affine)

	// source[i] is the old axis that becomes new axis i.
	var source [3]int
	var flip [3]bool
	for j := 0; j < 3; j++ {
		i := perm[j]
		source[i] = j
		flip[i] = math.Signbit(v.Affine.At(i, j)) != math.Signbit(lasSigns[i])
	}

	if source == [3]int{0, 1, 2} && flip == [3]bool{} {
		return v
	}

	shape := append([]int(nil), v.Shape...)
	for i := 0; i < 3; i++ {
		shape[i] = v.Shape[source[i]]
	}

	affine := mat.NewDense(4, 4, nil)
	affine.Set(3, 3, 1)
	for r := 0; r < 3; r++ {
		affine.Set(r, 3, v.Affine.At(r, 3))
	}
	for i := 0; i < 3; i++ {
		j := source[i]
		sign := 1.0
		if flip[i] {
			sign = -1
			// The new first voxel is the old last one along this axis.
			for r := 0; r < 3; r++ {
				affine.Set(r, 3, affine.At(r, 3)+v.Affine.At(r, j)*float64(v.Shape[j]-1))
			}
		}
		for r := 0; r < 3; r++ {
			affine.Set(r, i, sign*v.Affine.At(r, j))
		}
	}

	out := &niftiio.Volume{
		Shape:    shape,
		Datatype: v.Datatype,
		Affine:   affine,
		Data:     make([]float64, len(v.Data)),
	}

	var old [3]int
	for t := 0; t < v.Frames(); t++ {
		for c := 0; c < shape[2]; c++ {
			for b := 0; b < shape[1]; b++ {
				for a := 0; a < shape[0]; a++ {
					idx := [3]int{a, b, c}
					for i := 0; i < 3; i++ {
						j := source[i]
						if flip[i] {
							old[j] = v.Shape[j] - 1 - idx[i]
						} else {
							old[j] = idx[i]
						}
					}
					out.Data[out.Index(a, b, c, t)] = v.At(old[0], old[1], old[2], t)
				}
			}
		}
	}

	return out
}

// closestAxes returns perm with perm[j] the world axis voxel axis j is most
// aligned with, chosen jointly so that no two voxel axes share a world axis.
func closestAxes(affine *mat.Dense) [3]int {
	candidates := [][3]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	best, bestScore := candidates[0], math.Inf(-1)
	for _, perm := range candidates {
		var score float64
		for j := 0; j < 3; j++ {
			col := math.Sqrt(affine.At(0, j)*affine.At(0, j) + affine.At(1, j)*affine.At(1, j) + affine.At(2, j)*affine.At(2, j))
			if col == 0 {
				continue
			}
			score += math.Abs(affine.At(perm[j], j)) / col
		}
		if score > bestScore+1e-12 {
			best, bestScore = perm, score
		}
	}

	return best
}
