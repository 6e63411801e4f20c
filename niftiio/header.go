package niftiio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/henghuang/nifti"
	"gonum.org/v1/gonum/mat"
)

const (
	// HeaderSize is sizeof_hdr for NIfTI-1.
	HeaderSize = 348

	// VoxOffset is where the voxels start in a single-file .nii: the header
	// plus the 4 byte extension flag.
	VoxOffset = 352

	// Units for xyzt_units.
	unitsMM  = 2
	unitsSec = 8

	// Codes for qform_code and sform_code.
	XformUnknown = 0
	XformScanner = 1
)

var (
	MagicSingleFile = [4]byte{'n', '+', '1', 0}
	MagicPairedFile = [4]byte{'n', 'i', '1', 0}
)

// Header is the on-disk NIfTI-1 header as laid out by the nifti library.
// encoding/binary reads and writes it without padding, so its encoded size is
// HeaderSize.
type Header nifti.Nifti1Header

// VoxelType is the datatype code as a Datatype.
func (h *Header) VoxelType() Datatype { return Datatype(h.Datatype) }

// Shape returns dim[1..dim[0]].
func (h *Header) Shape() []int {
	n := int(h.Dim[0])
	if n < 1 || n > 7 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = int(h.Dim[i+1])
	}
	return out
}

// NumVoxels is the product of the shape.
func (h *Header) NumVoxels() int {
	shape := h.Shape()
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Validate checks the fields a reader depends on.
func (h *Header) Validate() error {
	if h.SizeofHdr != HeaderSize {
		return fmt.Errorf("sizeof_hdr is %d, expected %d", h.SizeofHdr, HeaderSize)
	}
	if h.Magic == MagicPairedFile {
		return fmt.Errorf("magic %q describes a .hdr/.img pair, which is not supported", string(h.Magic[:3]))
	}
	if h.Magic != MagicSingleFile {
		return fmt.Errorf("magic %q is not %q", h.Magic[:], MagicSingleFile[:])
	}
	shape := h.Shape()
	if shape == nil {
		return fmt.Errorf("dim[0] = %d is outside 1..7", h.Dim[0])
	}
	for i, d := range shape {
		if d < 1 {
			return fmt.Errorf("dim[%d] = %d", i+1, d)
		}
	}
	if !h.VoxelType().Valid() {
		return fmt.Errorf("unsupported datatype %d", h.Datatype)
	}
	if h.Bitpix != h.VoxelType().BitPix() {
		return fmt.Errorf("bitpix %d does not match %s", h.Bitpix, h.VoxelType())
	}
	if h.VoxOffset < HeaderSize {
		return fmt.Errorf("vox_offset %g is inside the header", h.VoxOffset)
	}
	return nil
}

// ReadHeader decodes a header from r, detecting the byte order from
// sizeof_hdr.
func ReadHeader(r io.Reader) (*Header, binary.ByteOrder, error) {
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("reading %d byte header: %w", HeaderSize, err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw)) != HeaderSize {
		if int32(binary.BigEndian.Uint32(raw)) != HeaderSize {
			return nil, nil, fmt.Errorf("sizeof_hdr is neither %d little- nor big-endian", HeaderSize)
		}
		order = binary.BigEndian
	}

	h := &Header{}
	if err := binary.Read(bytes.NewReader(raw), order, h); err != nil {
		return nil, nil, err
	}

	return h, order, h.Validate()
}

// WriteTo encodes the header little-endian.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return 0, err
	}
	return HeaderSize, nil
}

// NewHeader builds the header for v. The affine is stored both as the sform
// and, via its nearest rotation, as the qform; both codes are scanner.
func NewHeader(v *Volume) *Header {
	h := &Header{
		SizeofHdr: HeaderSize,
		Regular:   'r',
		Datatype:  int16(v.Datatype),
		Bitpix:    v.Datatype.BitPix(),
		VoxOffset: VoxOffset,
		SclSlope:  1,
		XyztUnits: unitsMM,
		QformCode: XformScanner,
		SformCode: XformScanner,
		Magic:     MagicSingleFile,
	}

	h.Dim[0] = int16(len(v.Shape))
	for i := 1; i < len(h.Dim); i++ {
		h.Dim[i] = 1
	}
	for i, d := range v.Shape {
		h.Dim[i+1] = int16(d)
	}

	q := quaternFromAffine(v.Affine)
	h.Pixdim[0] = float32(q.qfac)
	for i := 1; i < len(h.Pixdim); i++ {
		h.Pixdim[i] = 1
	}
	for i := 0; i < 3; i++ {
		h.Pixdim[i+1] = float32(q.pixdim[i])
	}
	if len(v.Shape) > 3 {
		h.XyztUnits |= unitsSec
	}

	h.QuaternB, h.QuaternC, h.QuaternD = float32(q.b), float32(q.c), float32(q.d)
	h.QoffsetX = float32(v.Affine.At(0, 3))
	h.QoffsetY = float32(v.Affine.At(1, 3))
	h.QoffsetZ = float32(v.Affine.At(2, 3))

	for j := 0; j < 4; j++ {
		h.SrowX[j] = float32(v.Affine.At(0, j))
		h.SrowY[j] = float32(v.Affine.At(1, j))
		h.SrowZ[j] = float32(v.Affine.At(2, j))
	}

	copy(h.Descrip[:], "dcm2nii")

	return h
}

// Affine returns the voxel to world transform: the sform if set, else the
// qform, else a diagonal of pixdim.
func (h *Header) Affine() *mat.Dense {
	switch {
	case h.SformCode > XformUnknown:
		out := mat.NewDense(4, 4, nil)
		for j := 0; j < 4; j++ {
			out.Set(0, j, float64(h.SrowX[j]))
			out.Set(1, j, float64(h.SrowY[j]))
			out.Set(2, j, float64(h.SrowZ[j]))
		}
		out.Set(3, 3, 1)
		return out

	case h.QformCode > XformUnknown:
		return h.qformAffine()
	}

	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		out.Set(i, i, math.Abs(float64(h.Pixdim[i+1])))
	}
	out.Set(3, 3, 1)
	return out
}

func (h *Header) qformAffine() *mat.Dense {
	qfac := 1.0
	if h.Pixdim[0] < 0 {
		qfac = -1
	}

	q := quatern{
		b:    float64(h.QuaternB),
		c:    float64(h.QuaternC),
		d:    float64(h.QuaternD),
		qfac: qfac,
		pixdim: [3]float64{
			float64(h.Pixdim[1]),
			float64(h.Pixdim[2]),
			float64(h.Pixdim[3]),
		},
	}

	out := q.matrix()
	out.Set(0, 3, float64(h.QoffsetX))
	out.Set(1, 3, float64(h.QoffsetY))
	out.Set(2, 3, float64(h.QoffsetZ))
	return out
}
