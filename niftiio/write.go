package niftiio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/klauspost/compress/gzip"
)

// Write encodes v to path as a single file NIfTI-1. A path ending in .gz is
// gzip compressed. The output depends only on v, so writing the same volume
// twice produces identical bytes. On failure the partial file is removed.
func Write(path string, v *Volume) (err error) {
	if err := v.Validate(); err != nil {
		return pfx.Err(err)
	}

	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = pfx.Err(cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	fw := bufio.NewWriterSize(f, 1<<16)

	if IsGzip(path) {
		zw := gzip.NewWriter(fw)
		if err := Encode(zw, v); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return pfx.Err(err)
		}
	} else if err := Encode(fw, v); err != nil {
		return err
	}

	if err := fw.Flush(); err != nil {
		return pfx.Err(err)
	}

	return nil
}

// IsGzip reports whether path names a compressed NIfTI.
func IsGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// Encode writes the header, the empty extension flag and the voxel payload.
func Encode(w io.Writer, v *Volume) error {
	if err := v.Validate(); err != nil {
		return pfx.Err(err)
	}

	if _, err := NewHeader(v).WriteTo(w); err != nil {
		return pfx.Err(err)
	}

	// Extension flag: no extensions follow.
	if _, err := w.Write(make([]byte, VoxOffset-HeaderSize)); err != nil {
		return pfx.Err(err)
	}

	return encodeVoxels(w, v.Datatype, v.Data)
}

func encodeVoxels(w io.Writer, dt Datatype, data []float64) error {
	width := int(dt.BitPix() / 8)
	chunk := make([]byte, 0, 4096*width)

	for i, x := range data {
		var word [8]byte
		switch dt {
		case Uint8:
			word[0] = uint8(math.Round(x))
		case Int16:
			binary.LittleEndian.PutUint16(word[:], uint16(int16(math.Round(x))))
		case Int32:
			binary.LittleEndian.PutUint32(word[:], uint32(int32(math.Round(x))))
		case Float32:
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(float32(x)))
		case Float64:
			binary.LittleEndian.PutUint64(word[:], math.Float64bits(x))
		default:
			return fmt.Errorf("cannot encode datatype %s", dt)
		}
		chunk = append(chunk, word[:width]...)

		if len(chunk) == cap(chunk) || i == len(data)-1 {
			if _, err := w.Write(chunk); err != nil {
				return pfx.Err(err)
			}
			chunk = chunk[:0]
		}
	}

	return nil
}
