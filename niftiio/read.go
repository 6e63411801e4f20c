package niftiio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"
)

// openFile returns a reader positioned at the start of the header, inflating
// .gz files. Open errors are returned unwrapped so callers can test them with
// os.IsNotExist.
func openFile(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	var r io.Reader = bufio.NewReader(f)
	if !IsGzip(path) {
		return r, f.Close, nil
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	return zr, func() error {
		zr.Close()
		return f.Close()
	}, nil
}

// ReadHeaderFile opens a .nii or .nii.gz and decodes its header. The returned
// size is the decompressed length of the whole file.
func ReadHeaderFile(path string) (*Header, binary.ByteOrder, int64, error) {
	r, closer, err := openFile(path)
	if err != nil {
		return nil, nil, 0, err
	}
	defer closer()

	h, order, err := ReadHeader(r)
	if err != nil {
		return h, order, 0, err
	}

	// Count what is left so callers can check the payload is complete.
	rest, err := io.Copy(io.Discard, r)
	if err != nil {
		return h, order, 0, err
	}

	return h, order, HeaderSize + rest, nil
}

// ReadFile decodes a 3-D or 4-D .nii or .nii.gz. Voxels are decoded according
// to the header's datatype in the file's byte order, and scl_slope/scl_inter
// are applied when the header sets them.
func ReadFile(path string) (*Volume, binary.ByteOrder, error) {
	r, closer, err := openFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer closer()

	h, order, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}

	shape := h.Shape()
	if len(shape) < 3 || len(shape) > 4 {
		return nil, nil, fmt.Errorf("%d-D images are not supported", len(shape))
	}

	if _, err := io.CopyN(io.Discard, r, int64(h.VoxOffset)-HeaderSize); err != nil {
		return nil, nil, fmt.Errorf("reading up to vox_offset %g: %w", h.VoxOffset, err)
	}

	payload := make([]byte, h.PayloadSize())
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, fmt.Errorf("payload is shorter than the %d bytes the header promises: %w", len(payload), err)
	}

	v := &Volume{
		Shape:    shape,
		Datatype: h.VoxelType(),
		Affine:   h.Affine(),
		Data:     make([]float64, h.NumVoxels()),
	}
	decodeVoxels(payload, v.Datatype, order, v.Data)

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && (slope != 1 || inter != 0) {
		for i, x := range v.Data {
			v.Data[i] = x*slope + inter
		}
	}

	return v, order, nil
}

func decodeVoxels(payload []byte, dt Datatype, order binary.ByteOrder, out []float64) {
	width := int(dt.BitPix() / 8)

	for i := range out {
		word := payload[i*width : (i+1)*width]
		switch dt {
		case Uint8:
			out[i] = float64(word[0])
		case Int16:
			out[i] = float64(int16(order.Uint16(word)))
		case Int32:
			out[i] = float64(int32(order.Uint32(word)))
		case Float32:
			out[i] = float64(math.Float32frombits(order.Uint32(word)))
		case Float64:
			out[i] = math.Float64frombits(order.Uint64(word))
		}
	}
}

// PayloadSize is the number of voxel bytes the header promises.
func (h *Header) PayloadSize() int64 {
	return int64(h.NumVoxels()) * int64(h.Bitpix/8)
}
