package dicomfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom/dicomtag"
)

// Kind is the active member of a Value.
type Kind int

const (
	KindInt Kind = iota + 1
	KindFloat
	KindString
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value holds the value(s) of one element. Exactly one of the backing slices
// is populated, chosen by Kind. Multi-valued elements (VM > 1) keep every
// value in order.
type Value struct {
	kind    Kind
	ints    []int64
	floats  []float64
	strings []string
	bytes   []byte
}

func IntValue(v ...int64) Value { return Value{kind: KindInt, ints: v} }
func FloatValue(v ...float64) Value { return Value{kind: KindFloat, floats: v} }
func StringValue(v ...string) Value { return Value{kind: KindString, strings: v} }
func BytesValue(v []byte) Value { return Value{kind: KindBytes, bytes: v} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) Ints() []int64 { return v.ints }
func (v Value) Floats() []float64 { return v.floats }
func (v Value) Texts() []string { return v.strings }
func (v Value) Bytes() []byte { return v.bytes }

// Int returns the first integer, or 0 if v is not an int or is empty.
func (v Value) Int() int64 {
	if len(v.ints) == 0 {
		return 0
	}
	return v.ints[0]
}

// Float returns the first float. Int values are widened.
func (v Value) Float() float64 {
	switch {
	case len(v.floats) > 0:
		return v.floats[0]
	case len(v.ints) > 0:
		return float64(v.ints[0])
	}
	return 0
}

// Text returns the first string, or "" if v is not a string.
func (v Value) Text() string {
	if len(v.strings) == 0 {
		return ""
	}
	return v.strings[0]
}

// Len is the value multiplicity; for bytes it is the buffer length.
func (v Value) Len() int {
	switch v.kind {
	case KindInt:
		return len(v.ints)
	case KindFloat:
		return len(v.floats)
	case KindString:
		return len(v.strings)
	case KindBytes:
		return len(v.bytes)
	}
	return 0
}

// String renders the value for dumps. Byte buffers are summarized.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprint(v.ints)
	case KindFloat:
		return fmt.Sprint(v.floats)
	case KindString:
		return fmt.Sprintf("%q", v.strings)
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.bytes))
	}
	return "<empty>"
}

// Well known tags that are not worth a dicomtag lookup at every call site.
var (
	TagModality                = dicomtag.Tag{Group: 0x0008, Element: 0x0060}
	TagSliceThickness          = dicomtag.Tag{Group: 0x0018, Element: 0x0050}
	TagSpacingBetweenSlices    = dicomtag.Tag{Group: 0x0018, Element: 0x0088}
	TagViewPosition            = dicomtag.Tag{Group: 0x0018, Element: 0x5101}
	TagSeriesInstanceUID       = dicomtag.Tag{Group: 0x0020, Element: 0x000E}
	TagInstanceNumber          = dicomtag.Tag{Group: 0x0020, Element: 0x0013}
	TagImagePositionPatient    = dicomtag.Tag{Group: 0x0020, Element: 0x0032}
	TagImageOrientationPatient = dicomtag.Tag{Group: 0x0020, Element: 0x0037}
	TagLaterality              = dicomtag.Tag{Group: 0x0020, Element: 0x0060}
	TagSamplesPerPixel         = dicomtag.Tag{Group: 0x0028, Element: 0x0002}
	TagNumberOfFrames          = dicomtag.Tag{Group: 0x0028, Element: 0x0008}
	TagRows                    = dicomtag.Tag{Group: 0x0028, Element: 0x0010}
	TagColumns                 = dicomtag.Tag{Group: 0x0028, Element: 0x0011}
	TagPixelSpacing            = dicomtag.Tag{Group: 0x0028, Element: 0x0030}
	TagBitsAllocated           = dicomtag.Tag{Group: 0x0028, Element: 0x0100}
	TagPixelRepresentation     = dicomtag.Tag{Group: 0x0028, Element: 0x0103}
	TagRescaleIntercept        = dicomtag.Tag{Group: 0x0028, Element: 0x1052}
	TagRescaleSlope            = dicomtag.Tag{Group: 0x0028, Element: 0x1053}
	TagSiemensCSAImageHeader   = dicomtag.Tag{Group: 0x0029, Element: 0x1010}
	TagPixelData               = dicomtag.Tag{Group: 0x7FE0, Element: 0x0010}
)

// tagKinds fixes the Value kind for every tag the converter depends on, so
// that e.g. a DS is always handed out as floats and an IS as ints regardless
// of how the decoder represented it. Tags not listed here take the kind of
// the decoder's native Go value.
var tagKinds = map[dicomtag.Tag]Kind{
	TagModality:                KindString,
	TagSliceThickness:          KindFloat,
	TagSpacingBetweenSlices:    KindFloat,
	TagViewPosition:            KindString,
	TagSeriesInstanceUID:       KindString,
	TagInstanceNumber:          KindInt,
	TagImagePositionPatient:    KindFloat,
	TagImageOrientationPatient: KindFloat,
	TagLaterality:              KindString,
	TagSamplesPerPixel:         KindInt,
	TagNumberOfFrames:          KindInt,
	TagRows:                    KindInt,
	TagColumns:                 KindInt,
	TagPixelSpacing:            KindFloat,
	TagBitsAllocated:           KindInt,
	TagPixelRepresentation:     KindInt,
	TagRescaleIntercept:        KindFloat,
	TagRescaleSlope:            KindFloat,
	TagSiemensCSAImageHeader:   KindBytes,
	TagPixelData:               KindBytes,
}

// KindOf reports the kind the tag table assigns to a tag, if any.
func KindOf(tag dicomtag.Tag) (Kind, bool) {
	k, ok := tagKinds[tag]
	return k, ok
}

// convertValues turns the decoder's []interface{} into a Value. want == 0
// means "use the native kind of the first entry".
func convertValues(raw []interface{}, want Kind) (Value, error) {
	if want == 0 {
		want = nativeKind(raw)
	}

	switch want {
	case KindInt:
		out := make([]int64, 0, len(raw))
		for _, r := range raw {
			i, err := toInt(r)
			if err != nil {
				return Value{}, err
			}
			out = append(out, i)
		}
		return IntValue(out...), nil

	case KindFloat:
		out := make([]float64, 0, len(raw))
		for _, r := range raw {
			f, err := toFloat(r)
			if err != nil {
				return Value{}, err
			}
			out = append(out, f)
		}
		return FloatValue(out...), nil

	case KindBytes:
		var out []byte
		for _, r := range raw {
			b, ok := r.([]byte)
			if !ok {
				return Value{}, fmt.Errorf("expected a byte buffer, got %T", r)
			}
			out = append(out, b...)
		}
		return BytesValue(out), nil

	default:
		out := make([]string, 0, len(raw))
		for _, r := range raw {
			switch s := r.(type) {
			case string:
				out = append(out, strings.TrimRight(s, " \x00"))
			default:
				out = append(out, fmt.Sprint(s))
			}
		}
		return StringValue(out...), nil
	}
}

func nativeKind(raw []interface{}) Kind {
	if len(raw) == 0 {
		return KindString
	}

	switch raw[0].(type) {
	case uint8, uint16, uint32, int8, int16, int32, int64, int:
		return KindInt
	case float32, float64:
		return KindFloat
	case []byte:
		return KindBytes
	default:
		return KindString
	}
}

func toInt(r interface{}) (int64, error) {
	switch v := r.(type) {
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		s := strings.TrimSpace(strings.TrimRight(v, "\x00"))
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// Some writers emit IS values like "3.0"
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil || f != float64(int64(f)) {
				return 0, fmt.Errorf("%q is not an integer", v)
			}
			return int64(f), nil
		}
		return i, nil
	}
	return 0, fmt.Errorf("cannot convert %T to an integer", r)
}

func toFloat(r interface{}) (float64, error) {
	switch v := r.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimRight(v, "\x00")), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	}

	i, err := toInt(r)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to a float", r)
	}
	return float64(i), nil
}
