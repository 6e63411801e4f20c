package dicomfile

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/carbocation/dcm2nii"
	"github.com/suyashkumar/dicom/dicomtag"
	"github.com/suyashkumar/dicom/element"
)

// File is one parsed DICOM slice. The exported attributes are decoded once at
// read time from the tags the converter needs; anything else is reachable
// through Tag. A File is never modified after Read returns it.
type File struct {
	Path string

	Rows                 int
	Columns              int
	PixelSpacing         [2]float64 // row spacing, column spacing (mm)
	SliceThickness       float64
	SpacingBetweenSlices float64
	Modality             string

	ImagePosition       [3]float64
	HasImagePosition    bool
	ImageOrientation    [6]float64
	HasImageOrientation bool

	InstanceNumber    int
	SeriesInstanceUID string

	RescaleSlope        float64
	RescaleIntercept    float64
	BitsAllocated       int
	PixelRepresentation int
	SamplesPerPixel     int

	// Frames holds one row-major slice of stored values per frame, with the
	// sign already applied according to PixelRepresentation. Only the first
	// sample of each pixel is kept.
	Frames       [][]int
	Encapsulated bool

	elements  map[dicomtag.Tag]*element.Element
	pixelInfo *element.PixelDataInfo
}

// Tag looks up the value of (group, element). An absent tag yields a
// *dcm2nii.TagNotPresentError.
func Tag(f *File, group, element uint16) (Value, error) {
	return f.Tag(group, element)
}

// Tag looks up the value of (group, element) in this file's dataset.
func (f *File) Tag(group, element uint16) (Value, error) {
	tag := dicomtag.Tag{Group: group, Element: element}

	elem, exists := f.elements[tag]
	if !exists {
		return Value{}, &dcm2nii.TagNotPresentError{Path: f.Path, Group: group, Element: element}
	}

	if tag == TagPixelData && f.pixelInfo != nil {
		return BytesValue(f.pixelBytes()), nil
	}

	want, _ := KindOf(tag)
	v, err := convertValues(elem.Value, want)
	if err != nil {
		return Value{}, &dcm2nii.FileFormatError{
			Path:   f.Path,
			Reason: fmt.Sprintf("tag (%04X,%04X) holds a value that is not %s", group, element, want),
			Err:    err,
		}
	}

	return v, nil
}

// Has reports whether (group, element) is present.
func (f *File) Has(group, element uint16) bool {
	_, exists := f.elements[dicomtag.Tag{Group: group, Element: element}]
	return exists
}

// ElementInfo is one row of a dataset dump.
type ElementInfo struct {
	Tag   dicomtag.Tag
	Name  string
	VR    string
	Value Value
	Err   error
}

// TagString formats the tag as (gggg,eeee).
func (e ElementInfo) TagString() string {
	return fmt.Sprintf("(%04X,%04X)", e.Tag.Group, e.Tag.Element)
}

// Elements lists every element in tag order. Values that cannot be converted
// carry their error instead of failing the whole listing.
func (f *File) Elements() []ElementInfo {
	tags := make([]dicomtag.Tag, 0, len(f.elements))
	for tag := range f.elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		return tags[i].Compare(tags[j]) < 0
	})

	out := make([]ElementInfo, 0, len(tags))
	for _, tag := range tags {
		info := ElementInfo{Tag: tag, VR: f.elements[tag].VR}

		tagName, _ := dicomtag.Find(tag)
		info.Name = tagName.Name
		if info.Name == "" {
			info.Name = "____"
		}

		info.Value, info.Err = f.Tag(tag.Group, tag.Element)
		out = append(out, info)
	}

	return out
}

// Pixels returns the first frame, or nil when there is no native pixel data.
func (f *File) Pixels() []int {
	if len(f.Frames) == 0 {
		return nil
	}
	return f.Frames[0]
}

func newFile(path string, parsedData *element.DataSet) (*File, error) {
	f := &File{
		Path:            path,
		RescaleSlope:    1,
		SamplesPerPixel: 1,
		elements:        make(map[dicomtag.Tag]*element.Element, len(parsedData.Elements)),
	}

	for _, elem := range parsedData.Elements {
		if elem == nil {
			continue
		}
		f.elements[elem.Tag] = elem
	}

	d := decoder{f: f}
	f.Rows = d.int(TagRows, 0)
	f.Columns = d.int(TagColumns, 0)
	f.BitsAllocated = d.int(TagBitsAllocated, 0)
	f.PixelRepresentation = d.int(TagPixelRepresentation, 0)
	f.SamplesPerPixel = d.int(TagSamplesPerPixel, 1)
	f.InstanceNumber = d.int(TagInstanceNumber, 0)
	f.SliceThickness = d.float(TagSliceThickness, 0)
	f.SpacingBetweenSlices = d.float(TagSpacingBetweenSlices, 0)
	f.RescaleSlope = d.float(TagRescaleSlope, 1)
	f.RescaleIntercept = d.float(TagRescaleIntercept, 0)
	f.Modality = d.text(TagModality)
	f.SeriesInstanceUID = d.text(TagSeriesInstanceUID)

	if v, ok := d.floats(TagPixelSpacing, 2); ok {
		copy(f.PixelSpacing[:], v)
	}
	if v, ok := d.floats(TagImagePositionPatient, 3); ok {
		copy(f.ImagePosition[:], v)
		f.HasImagePosition = true
	}
	if v, ok := d.floats(TagImageOrientationPatient, 6); ok {
		copy(f.ImageOrientation[:], v)
		f.HasImageOrientation = true
	}

	if d.err != nil {
		return nil, d.err
	}

	if elem, exists := f.elements[TagPixelData]; exists && len(elem.Value) > 0 {
		if info, ok := elem.Value[0].(element.PixelDataInfo); ok {
			f.pixelInfo = &info
			f.decodeFrames()
		}
	}

	return f, nil
}

func (f *File) decodeFrames() {
	for _, frame := range f.pixelInfo.Frames {
		if frame.IsEncapsulated() {
			f.Encapsulated = true
			continue
		}

		samples := make([]int, len(frame.NativeData.Data))
		for j := 0; j < len(frame.NativeData.Data); j++ {
			samples[j] = f.signed(frame.NativeData.Data[j][0])
		}
		f.Frames = append(f.Frames, samples)
	}
}

// signed reinterprets a stored value as two's complement when the dataset
// says pixels are signed; the decoder always hands them out unsigned.
func (f *File) signed(v int) int {
	if f.PixelRepresentation != 1 {
		return v
	}

	switch f.BitsAllocated {
	case 8:
		return int(int8(uint8(v)))
	case 16:
		return int(int16(uint16(v)))
	case 32:
		return int(int32(uint32(v)))
	}
	return v
}

// pixelBytes re-serializes the pixel data as the little-endian buffer that
// was stored on disk (all samples, all frames).
func (f *File) pixelBytes() []byte {
	bytesPerSample := f.BitsAllocated / 8
	if bytesPerSample < 1 {
		bytesPerSample = 1
	}

	var out []byte
	word := make([]byte, 4)
	for _, frame := range f.pixelInfo.Frames {
		if frame.IsEncapsulated() {
			out = append(out, frame.EncapsulatedData.Data...)
			continue
		}

		for _, pixel := range frame.NativeData.Data {
			for _, sample := range pixel {
				binary.LittleEndian.PutUint32(word, uint32(sample))
				out = append(out, word[:bytesPerSample]...)
			}
		}
	}

	return out
}

// decoder accumulates the first conversion error so newFile can read every
// attribute without checking after each one.
type decoder struct {
	f   *File
	err error
}

func (d *decoder) value(tag dicomtag.Tag) (Value, bool) {
	if d.err != nil {
		return Value{}, false
	}
	if _, exists := d.f.elements[tag]; !exists {
		return Value{}, false
	}

	v, err := d.f.Tag(tag.Group, tag.Element)
	if err != nil {
		d.err = err
		return Value{}, false
	}

	return v, v.Len() > 0
}

func (d *decoder) int(tag dicomtag.Tag, fallback int) int {
	v, ok := d.value(tag)
	if !ok {
		return fallback
	}
	return int(v.Int())
}

func (d *decoder) float(tag dicomtag.Tag, fallback float64) float64 {
	v, ok := d.value(tag)
	if !ok {
		return fallback
	}
	return v.Float()
}

func (d *decoder) text(tag dicomtag.Tag) string {
	v, ok := d.value(tag)
	if !ok {
		return ""
	}
	return v.Text()
}

func (d *decoder) floats(tag dicomtag.Tag, n int) ([]float64, bool) {
	v, ok := d.value(tag)
	if !ok {
		return nil, false
	}

	if len(v.Floats()) != n {
		d.err = &dcm2nii.FileFormatError{
			Path:   d.f.Path,
			Reason: fmt.Sprintf("tag (%04X,%04X) has %d values, expected %d", tag.Group, tag.Element, len(v.Floats()), n),
		}
		return nil, false
	}

	return v.Floats(), true
}
