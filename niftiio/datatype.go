package niftiio

import "fmt"

// Datatype is the NIfTI-1 datatype code of the voxel payload.
type Datatype int16

const (
	Uint8   Datatype = 2
	Int16   Datatype = 4
	Int32   Datatype = 8
	Float32 Datatype = 16
	Float64 Datatype = 64
)

// BitPix is the number of bits per voxel, or 0 for codes this package does not
// write.
func (d Datatype) BitPix() int16 {
	switch d {
	case Uint8:
		return 8
	case Int16:
		return 16
	case Int32, Float32:
		return 32
	case Float64:
		return 64
	}
	return 0
}

// Valid reports whether d is one of the supported codes.
func (d Datatype) Valid() bool { return d.BitPix() != 0 }

func (d Datatype) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("datatype(%d)", int16(d))
}

// Fits reports whether x can be stored as d without loss.
func (d Datatype) Fits(x float64) bool {
	switch d {
	case Uint8:
		return x >= 0 && x <= 255 && x == float64(uint8(x))
	case Int16:
		return x >= -32768 && x <= 32767 && x == float64(int16(x))
	case Int32:
		return x >= -2147483648 && x <= 2147483647 && x == float64(int32(x))
	case Float32:
		return true
	case Float64:
		return true
	}
	return false
}
