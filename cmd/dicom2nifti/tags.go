package main

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/carbocation/dcm2nii"
	"github.com/carbocation/dcm2nii/dicomfile"
	"github.com/suyashkumar/dicom/dicomtag"
)

// printTags shows the handful of header fields that are worth eyeballing
// before converting a series. w is flushed before returning.
func printTags(w *bufio.Writer, reader *dicomfile.Reader, path string) error {
	defer w.Flush()

	f, err := reader.Read(path)
	if err != nil {
		return err
	}

	lookups := []struct {
		Name     string
		Tag      dicomtag.Tag
		OnlySize bool
	}{
		{"ViewPosition", dicomfile.TagViewPosition, false},
		{"Laterality", dicomfile.TagLaterality, false},
		{"PixelData length", dicomfile.TagPixelData, true},
		{"PixelSpacing", dicomfile.TagPixelSpacing, false},
		{"SliceThickness", dicomfile.TagSliceThickness, false},
		{"SpacingBetweenSlices", dicomfile.TagSpacingBetweenSlices, false},
	}

	for _, lookup := range lookups {
		v, err := f.Tag(lookup.Tag.Group, lookup.Tag.Element)
		if errors.Is(err, dcm2nii.ErrTagNotPresent) {
			fmt.Fprintf(w, "%s\t%s\n", lookup.Name, "not present")
			continue
		} else if err != nil {
			return err
		}

		if lookup.OnlySize {
			fmt.Fprintf(w, "%s\t%d\n", lookup.Name, v.Len())
			continue
		}

		fmt.Fprintf(w, "%s\t%v\n", lookup.Name, v)
	}

	return nil
}
