// Package niftiio holds the in-memory volume and the NIfTI-1 single file codec
// used to write it.
package niftiio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Volume is a dense 3-D or 4-D image. Data is in NIfTI order: x varies
// fastest, then y, z and t.
type Volume struct {
	Shape    []int
	Datatype Datatype
	Affine   *mat.Dense
	Data     []float64
}

// NumVoxels is the product of Shape.
func (v *Volume) NumVoxels() int {
	if len(v.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range v.Shape {
		n *= d
	}
	return n
}

// Validate checks that the shape, affine and data agree with each other.
func (v *Volume) Validate() error {
	if len(v.Shape) < 3 || len(v.Shape) > 4 {
		return fmt.Errorf("volume has %d dimensions, expected 3 or 4", len(v.Shape))
	}
	for i, d := range v.Shape {
		if d < 1 || d > math.MaxInt16 {
			return fmt.Errorf("dimension %d has size %d", i, d)
		}
	}
	if v.Affine == nil {
		return fmt.Errorf("volume has no affine")
	}
	if r, c := v.Affine.Dims(); r != 4 || c != 4 {
		return fmt.Errorf("affine is %dx%d, expected 4x4", r, c)
	}
	if !v.Datatype.Valid() {
		return fmt.Errorf("unsupported datatype %s", v.Datatype)
	}
	if n := v.NumVoxels(); len(v.Data) != n {
		return fmt.Errorf("volume has %d samples but its shape %v holds %d", len(v.Data), v.Shape, n)
	}
	return nil
}

// Index is the offset into Data of voxel (x, y, z, t).
func (v *Volume) Index(x, y, z, t int) int {
	nx, ny, nz := v.Shape[0], v.Shape[1], v.Shape[2]
	return x + nx*(y+ny*(z+nz*t))
}

// At returns voxel (x, y, z, t). t must be 0 for 3-D volumes.
func (v *Volume) At(x, y, z, t int) float64 {
	return v.Data[v.Index(x, y, z, t)]
}

// Frames is the size of the fourth dimension, 1 for 3-D volumes.
func (v *Volume) Frames() int {
	if len(v.Shape) > 3 {
		return v.Shape[3]
	}
	return 1
}

// VoxelSizes are the lengths of the first three affine columns.
func (v *Volume) VoxelSizes() [3]float64 {
	var out [3]float64
	for j := 0; j < 3; j++ {
		out[j] = math.Sqrt(v.Affine.At(0, j)*v.Affine.At(0, j) +
			v.Affine.At(1, j)*v.Affine.At(1, j) +
			v.Affine.At(2, j)*v.Affine.At(2, j))
	}
	return out
}

// ChooseDatatype picks the narrowest type that holds every sample exactly:
// uint8 (only when allowUint8), int16, int32, and float32 for anything else.
func ChooseDatatype(data []float64, allowUint8 bool) Datatype {
	candidates := []Datatype{Int16, Int32}
	if allowUint8 {
		candidates = append([]Datatype{Uint8}, candidates...)
	}

	for _, dt := range candidates {
		fits := true
		for _, x := range data {
			if !dt.Fits(x) {
				fits = false
				break
			}
		}
		if fits {
			return dt
		}
	}

	return Float32
}
