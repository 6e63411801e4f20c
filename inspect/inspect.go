// Package inspect loads a NIfTI file back into memory and summarizes it.
package inspect

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/carbocation/dcm2nii"
	"github.com/carbocation/dcm2nii/niftiio"
	"github.com/montanaflynn/stats"
)

// Load reads the NIfTI at path and returns its voxels as float64 in NIfTI
// order, x fastest.
func Load(path string) (*niftiio.Volume, error) {
	path = dcm2nii.ExpandHome(path)

	v, order, err := niftiio.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &dcm2nii.NotFoundError{Path: path, Err: err}
	} else if err != nil {
		return nil, &dcm2nii.FileFormatError{Path: path, Reason: "invalid NIfTI-1 file", Err: err}
	}

	// The nifti library only understands little-endian headers.
	if order == binary.LittleEndian {
		if err := checkDims(path, v.Shape); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// checkDims confirms that the nifti library sees the same grid as the header
// codec did.
func checkDims(path string, shape []int) error {
	img, err := SafelyNiftiParse(path, false)
	if err != nil {
		return &dcm2nii.FileFormatError{Path: path, Reason: "unreadable header", Err: err}
	}

	dims := img.GetDims()
	for i, d := range shape {
		if dims[i] != d {
			return &dcm2nii.FileFormatError{Path: path, Reason: fmt.Sprintf("decoded dimensions %v disagree with header %v", dims, shape)}
		}
	}

	return nil
}

// Report is what Describe learns about a volume.
type Report struct {
	Shape       []int
	Datatype    string
	AffineShape [2]int
	DataShape   []int
	Data        []float64

	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Describe summarizes v. Data is v's own slice, not a copy.
func Describe(v *niftiio.Volume) Report {
	r := Report{
		Shape:     append([]int(nil), v.Shape...),
		Datatype:  v.Datatype.String(),
		DataShape: append([]int(nil), v.Shape...),
		Data:      v.Data,
	}

	if v.Affine != nil {
		rows, cols := v.Affine.Dims()
		r.AffineShape = [2]int{rows, cols}
	}

	data := stats.Float64Data(v.Data)
	if data.Len() < 1 {
		return r
	}

	// Errors only arise for empty input, which is excluded above.
	r.Min, _ = data.Min()
	r.Max, _ = data.Max()
	r.Mean, _ = data.Mean()
	r.StdDev, _ = data.StandardDeviation()

	return r
}

// Print writes one line per property. The voxel dump is long, so it is only
// included on request.
func (r Report) Print(w io.Writer, includeData bool) error {
	lines := []string{
		fmt.Sprintf("shape\t%v", r.Shape),
		fmt.Sprintf("datatype\t%s", r.Datatype),
		fmt.Sprintf("affine shape\t%v", r.AffineShape),
		fmt.Sprintf("data shape\t%v", r.DataShape),
		fmt.Sprintf("min\t%g", r.Min),
		fmt.Sprintf("max\t%g", r.Max),
		fmt.Sprintf("mean\t%.3f", r.Mean),
		fmt.Sprintf("stddev\t%.3f", r.StdDev),
	}
	if includeData {
		lines = append(lines, fmt.Sprintf("data\t%v", r.Data))
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	return nil
}
