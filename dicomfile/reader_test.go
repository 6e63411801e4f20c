package dicomfile

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/carbocation/dcm2nii"
	"github.com/carbocation/dcm2nii/internal/dcmtest"
)

func writeSlice(t *testing.T, s dcmtest.Slice) (string, dcmtest.Encoded) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "D0001.dcm")
	enc, err := s.WriteFile(path)
	if err != nil {
		t.Fatal(err)
	}

	return path, enc
}

func TestTagMatchesRawBytes(t *testing.T) {
	path, enc := writeSlice(t, dcmtest.AxialSlice(4, 6, 2.5, 3))

	f, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}

	for _, key := range []dcmtest.Key{{Group: 0x0028, Element: 0x0010}, {Group: 0x0028, Element: 0x0011}} {
		off := enc.Offsets[key]
		want := int64(binary.LittleEndian.Uint16(enc.Bytes[off:]))

		v, err := Tag(f, key.Group, key.Element)
		if err != nil {
			t.Fatal(err)
		}
		if v.Kind() != KindInt || v.Int() != want {
			t.Errorf("(%04X,%04X): got %v (%s), raw bytes say %d", key.Group, key.Element, v, v.Kind(), want)
		}
	}

	// PixelSpacing is a DS: decode the raw string at its offset.
	key := dcmtest.Key{Group: 0x0028, Element: 0x0030}
	off := enc.Offsets[key]
	length := int(binary.LittleEndian.Uint16(enc.Bytes[off-2:]))
	raw := strings.Split(strings.TrimSpace(string(enc.Bytes[off:off+length])), `\`)

	v, err := f.Tag(key.Group, key.Element)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Floats()) != len(raw) {
		t.Fatalf("PixelSpacing: got %d values, raw has %d", len(v.Floats()), len(raw))
	}
	for i, s := range raw {
		want, _ := strconv.ParseFloat(s, 64)
		if v.Floats()[i] != want {
			t.Errorf("PixelSpacing[%d]: got %g want %g", i, v.Floats()[i], want)
		}
	}

	// PixelData: the byte buffer must equal what was written.
	key = dcmtest.Key{Group: 0x7FE0, Element: 0x0010}
	off = enc.Offsets[key]
	pixelLength := int(binary.LittleEndian.Uint32(enc.Bytes[off-4:]))
	v, err = f.Tag(key.Group, key.Element)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Bytes(); string(got) != string(enc.Bytes[off:off+pixelLength]) {
		t.Errorf("PixelData: got %d bytes that differ from the %d raw bytes", len(got), pixelLength)
	}
	if v.Len() != 4*6*2 {
		t.Errorf("PixelData length %d, expected %d", v.Len(), 4*6*2)
	}
}

func TestModalityAdjacentTags(t *testing.T) {
	path, _ := writeSlice(t, dcmtest.AxialSlice(2, 2, 0, 1))

	f, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		group, element uint16
		want           string
	}{
		{0x0018, 0x5101, "AP"},
		{0x0020, 0x0060, "R"},
		{0x0008, 0x0060, "MR"},
	}

	for _, tt := range tests {
		v, err := f.Tag(tt.group, tt.element)
		if err != nil {
			t.Errorf("(%04X,%04X): %v", tt.group, tt.element, err)
			continue
		}
		if v.Kind() != KindString || v.Text() != tt.want {
			t.Errorf("(%04X,%04X): got %v want %q", tt.group, tt.element, v, tt.want)
		}
	}
}

func TestTagNotPresent(t *testing.T) {
	s := dcmtest.AxialSlice(4, 4, 0, 1)
	s.Omit = []dcmtest.Key{{Group: 0x0018, Element: 0x0088}}
	path, _ := writeSlice(t, s)

	f, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.Tag(0x0018, 0x0088)
	var tagErr *dcm2nii.TagNotPresentError
	if !errors.As(err, &tagErr) {
		t.Fatalf("expected a TagNotPresentError, got %T: %v", err, err)
	}
	if tagErr.Group != 0x0018 || tagErr.Element != 0x0088 {
		t.Errorf("error names the wrong tag: %v", tagErr)
	}
	if !errors.Is(err, dcm2nii.ErrTagNotPresent) || errors.Is(err, dcm2nii.ErrFileFormat) {
		t.Errorf("error does not match the right sentinel: %v", err)
	}

	if f.SpacingBetweenSlices != 0 {
		t.Errorf("missing SpacingBetweenSlices decoded as %g", f.SpacingBetweenSlices)
	}
	if f.Has(0x0018, 0x0088) {
		t.Error("Has reports an omitted tag")
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.dcm"))
	if !errors.Is(err, dcm2nii.ErrNotFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestReadNotDICOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.dcm")
	if err := os.WriteFile(path, []byte("this is not a dicom"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Read(path)
	var formatErr *dcm2nii.FileFormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected FileFormatError, got %v", err)
	}
}

func TestAssumeLittleEndian(t *testing.T) {
	bare := dcmtest.EncodeBare([]dcmtest.Element{
		dcmtest.CS(0x0008, 0x0060, "CT"),
		dcmtest.US(0x0028, 0x0010, 12),
		dcmtest.US(0x0028, 0x0011, 10),
		dcmtest.DS(0x0028, 0x0030, 0.5, 0.75),
	})
	path := filepath.Join(t.TempDir(), "bare")
	if err := os.WriteFile(path, bare.Bytes, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path); !errors.Is(err, dcm2nii.ErrFileFormat) {
		t.Fatalf("default config should reject a file without preamble, got %v", err)
	}

	cfg := dcm2nii.DefaultConfig()
	cfg.AssumeLittleEndian = true
	f, err := NewReader(cfg, nil).Read(path)
	if err != nil {
		t.Fatal(err)
	}

	if f.Rows != 12 || f.Columns != 10 {
		t.Errorf("got %dx%d, expected 12x10", f.Rows, f.Columns)
	}
	if f.PixelSpacing != [2]float64{0.5, 0.75} {
		t.Errorf("got pixel spacing %v", f.PixelSpacing)
	}
	if f.Modality != "CT" {
		t.Errorf("got modality %q", f.Modality)
	}
}

func TestDecodedAttributes(t *testing.T) {
	s := dcmtest.AxialSlice(3, 2, -7.5, 9)
	s.PixelSpacing = [2]float64{0.8, 0.6}
	s.SliceThickness = 2
	s.SpacingBetweenSlices = 2.5
	s.Orientation = [6]float64{0, 1, 0, 0, 0, -1}
	s.Signed = true
	s.Pixels = []int16{-3, -2, -1, 0, 1, 2}
	path, _ := writeSlice(t, s)

	f, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}

	if f.Rows != 3 || f.Columns != 2 {
		t.Errorf("got %dx%d", f.Rows, f.Columns)
	}
	if f.PixelSpacing != [2]float64{0.8, 0.6} {
		t.Errorf("got pixel spacing %v", f.PixelSpacing)
	}
	if f.SliceThickness != 2 || f.SpacingBetweenSlices != 2.5 {
		t.Errorf("got thickness %g spacing %g", f.SliceThickness, f.SpacingBetweenSlices)
	}
	if !f.HasImagePosition || f.ImagePosition != [3]float64{0, 0, -7.5} {
		t.Errorf("got position %v (present: %t)", f.ImagePosition, f.HasImagePosition)
	}
	if !f.HasImageOrientation || f.ImageOrientation != s.Orientation {
		t.Errorf("got orientation %v", f.ImageOrientation)
	}
	if f.InstanceNumber != 9 || f.SeriesInstanceUID != s.SeriesUID {
		t.Errorf("got instance %d series %q", f.InstanceNumber, f.SeriesInstanceUID)
	}
	if f.BitsAllocated != 16 || f.PixelRepresentation != 1 || f.RescaleSlope != 1 {
		t.Errorf("got bits %d representation %d slope %g", f.BitsAllocated, f.PixelRepresentation, f.RescaleSlope)
	}

	px := f.Pixels()
	if len(px) != len(s.Pixels) {
		t.Fatalf("got %d pixels, expected %d", len(px), len(s.Pixels))
	}
	for i := range px {
		if px[i] != int(s.Pixels[i]) {
			t.Errorf("pixel %d: got %d want %d", i, px[i], s.Pixels[i])
		}
	}
}

func TestElementsAreSorted(t *testing.T) {
	path, _ := writeSlice(t, dcmtest.AxialSlice(2, 2, 0, 1))

	f, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}

	elems := f.Elements()
	if len(elems) == 0 {
		t.Fatal("no elements")
	}
	for i := 1; i < len(elems); i++ {
		if elems[i-1].Tag.Compare(elems[i].Tag) >= 0 {
			t.Errorf("%s listed before %s", elems[i-1].TagString(), elems[i].TagString())
		}
	}

	found := false
	for _, e := range elems {
		if e.TagString() == "(0028,0030)" {
			found = true
			if e.Err != nil || e.Value.Kind() != KindFloat {
				t.Errorf("PixelSpacing row: %+v", e)
			}
		}
	}
	if !found {
		t.Error("PixelSpacing missing from the listing")
	}
}
