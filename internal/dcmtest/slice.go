package dcmtest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
)

// Slice describes one synthetic single-frame 16-bit grayscale image.
type Slice struct {
	Rows, Cols           int
	PixelSpacing         [2]float64
	SliceThickness       float64
	SpacingBetweenSlices float64
	Position             [3]float64
	Orientation          [6]float64
	InstanceNumber       int
	SeriesUID            string
	Modality             string
	Signed               bool

	// RescaleSlope and RescaleIntercept are written only when the slope is
	// non-zero.
	RescaleSlope     float64
	RescaleIntercept float64

	// Pixels are row-major, Rows*Cols long. Nil means a ramp pattern.
	Pixels []int16

	// Omit lists tags to leave out of the encoded file.
	Omit []Key
}

// AxialSlice returns a slice with identity orientation positioned at z.
func AxialSlice(rows, cols int, z float64, instance int) Slice {
	return Slice{
		Rows:                 rows,
		Cols:                 cols,
		PixelSpacing:         [2]float64{1, 1},
		SliceThickness:       1,
		SpacingBetweenSlices: 1,
		Position:             [3]float64{0, 0, z},
		Orientation:          [6]float64{1, 0, 0, 0, 1, 0},
		InstanceNumber:       instance,
		SeriesUID:            "1.2.826.0.1.3680043.2.1125.1",
		Modality:             "MR",
	}
}

// PixelValue is the value the ramp pattern puts at (row, col) of a slice with
// the given instance number.
func PixelValue(instance, row, col, cols int) int16 {
	return int16(instance*100 + row*cols + col)
}

func (s Slice) pixels() []int16 {
	if s.Pixels != nil {
		return s.Pixels
	}
	out := make([]int16, s.Rows*s.Cols)
	for r := 0; r < s.Rows; r++ {
		for c := 0; c < s.Cols; c++ {
			out[r*s.Cols+c] = PixelValue(s.InstanceNumber, r, c, s.Cols)
		}
	}
	return out
}

// Elements renders the slice as raw elements.
func (s Slice) Elements() []Element {
	px := s.pixels()
	raw := make([]byte, 2*len(px))
	for i, v := range px {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(v))
	}

	var pixelRepresentation uint16
	if s.Signed {
		pixelRepresentation = 1
	}

	elems := []Element{
		UI(0x0008, 0x0016, mrImageStorage),
		UI(0x0008, 0x0018, fmt.Sprintf("1.2.3.4.5.6.7.%d", s.InstanceNumber)),
		CS(0x0008, 0x0060, s.Modality),
		DS(0x0018, 0x0050, s.SliceThickness),
		DS(0x0018, 0x0088, s.SpacingBetweenSlices),
		CS(0x0018, 0x5101, "AP"),
		UI(0x0020, 0x000E, s.SeriesUID),
		IS(0x0020, 0x0013, s.InstanceNumber),
		DS(0x0020, 0x0032, s.Position[:]...),
		DS(0x0020, 0x0037, s.Orientation[:]...),
		CS(0x0020, 0x0060, "R"),
		US(0x0028, 0x0002, 1),
		CS(0x0028, 0x0004, "MONOCHROME2"),
		US(0x0028, 0x0010, uint16(s.Rows)),
		US(0x0028, 0x0011, uint16(s.Cols)),
		DS(0x0028, 0x0030, s.PixelSpacing[:]...),
		US(0x0028, 0x0100, 16),
		US(0x0028, 0x0101, 16),
		US(0x0028, 0x0102, 15),
		US(0x0028, 0x0103, pixelRepresentation),
		OW(0x7FE0, 0x0010, raw),
	}

	if s.RescaleSlope != 0 {
		elems = append(elems,
			DS(0x0028, 0x1052, s.RescaleIntercept),
			DS(0x0028, 0x1053, s.RescaleSlope),
		)
	}

	if len(s.Omit) == 0 {
		return elems
	}

	omit := make(map[Key]bool, len(s.Omit))
	for _, k := range s.Omit {
		omit[k] = true
	}
	kept := elems[:0]
	for _, e := range elems {
		if !omit[e.Key] {
			kept = append(kept, e)
		}
	}
	return kept
}

// WriteFile encodes the slice to path.
func (s Slice) WriteFile(path string) (Encoded, error) {
	enc := Encode(s.Elements())
	return enc, os.WriteFile(path, enc.Bytes, 0644)
}

// WriteSeries writes each slice to dir as D0001.dcm, D0002.dcm, ... in the
// order given, creating dir if needed.
func WriteSeries(dir string, slices []Slice) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i, s := range slices {
		if _, err := s.WriteFile(filepath.Join(dir, fmt.Sprintf("D%04d.dcm", i+1))); err != nil {
			return err
		}
	}
	return nil
}

// AxialSeries returns n axial slices of rows x cols at unit spacing, z = 0..n-1.
func AxialSeries(rows, cols, n int) []Slice {
	out := make([]Slice, n)
	for i := range out {
		out[i] = AxialSlice(rows, cols, float64(i), i+1)
	}
	return out
}
