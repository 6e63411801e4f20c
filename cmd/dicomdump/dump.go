package main

import (
	"fmt"
	"log"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/dcm2nii"
	"github.com/carbocation/dcm2nii/dicomfile"
	"github.com/carbocation/pfx"
	"github.com/suyashkumar/dicom/dicomtag"
)

var (
	tagOverlayData      = dicomtag.Tag{Group: 0x6000, Element: 0x3000}
	tagSiemensCSASeries = dicomtag.Tag{Group: 0x0029, Element: 0x1020}
)

func IterateOverFolder(reader *dicomfile.Reader, client *storage.Client, folder string) error {
	files, err := dcm2nii.List(folder, client)
	if err != nil {
		return pfx.Err(err)
	}

	for _, file := range files {
		if ext := strings.ToLower(path.Ext(file)); ext != ".dcm" && ext != "" {
			continue
		}

		fmt.Fprintln(STDOUT, strings.Repeat("-", 30))
		fmt.Fprintln(STDOUT, file)
		fmt.Fprintln(STDOUT, strings.Repeat("-", 30))

		if err := DumpDicom(reader, file); err != nil {
			log.Println("Ignoring error and continuing:", err.Error())
			continue
		}
	}

	return nil
}

// DumpDicom emits one line per element. Bulk data is summarized rather than
// printed, and the Siemens CSA header is expanded into its chunks.
func DumpDicom(reader *dicomfile.Reader, p string) error {
	f, err := reader.Read(p)
	if err != nil {
		return err
	}

	for _, elem := range f.Elements() {
		tag := elem.TagString()

		switch elem.Tag {
		case dicomfile.TagPixelData:
			// Don't print the main image as text
			maxIntensity := 0
			for _, v := range f.Pixels() {
				if v > maxIntensity {
					maxIntensity = v
				}
			}
			fmt.Fprintln(STDOUT, tag, elem.Name, "frames:", len(f.Frames), "encapsulated:", f.Encapsulated, "maxIntensity:", maxIntensity, "~~skipping pixel data~~")
			continue

		case tagOverlayData:
			// Don't print the overlay as text
			fmt.Fprintln(STDOUT, tag, elem.Name, "~~skipping overlay pixel data~~")
			continue

		case tagSiemensCSASeries:
			// Don't print the secondary Siemens data.
			fmt.Fprintln(STDOUT, tag, elem.Name, "~~skipping secondary Siemens data~~")
			continue

		case dicomfile.TagSiemensCSAImageHeader:
			// Siemens header data requires special treatment
			sc, err := f.SiemensHeader()
			if err != nil {
				log.Println(p, "has an unreadable Siemens header:", err)
				fmt.Fprintln(STDOUT, tag, elem.Name, elem.Value)
				continue
			}
			fmt.Fprintf(STDOUT, "%s %v %s NElements: %+v\n", tag, elem.Name, "SiemensHeader", sc.NElements)
			for _, v := range sc.Slice() {
				fmt.Fprintf(STDOUT, "%s %v %s %+v\n", tag, elem.Name, "SiemensHeader", v)
			}
			continue
		}

		if elem.Err != nil {
			fmt.Fprintln(STDOUT, tag, elem.Name, elem.VR, "~~unreadable:", elem.Err, "~~")
			continue
		}

		fmt.Fprintln(STDOUT, tag, elem.Name, elem.VR, elem.Value)
	}

	return nil
}
