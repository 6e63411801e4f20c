package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/dcm2nii"
	_ "github.com/carbocation/dcm2nii/compileinfoprint"
	"github.com/carbocation/dcm2nii/dicomfile"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

// Dumps every element of one DICOM, or of each DICOM in a folder
// Emits to stdout
func main() {
	defer STDOUT.Flush()

	var path string
	var assumeLittleEndian bool

	flag.StringVar(&path, "path", "", "Path to a single .dcm file, or to a folder of them (local or gs://).")
	flag.BoolVar(&assumeLittleEndian, "assume-le", false, "Accept files without the DICM preamble, treating them as implicit VR little endian.")
	flag.Parse()

	if path == "" {
		flag.Usage()
		os.Exit(1)
	}

	var client *storage.Client
	if dcm2nii.IsGoogleStoragePath(path) {
		var err error
		client, err = storage.NewClient(context.Background())
		if err != nil {
			log.Fatalln(err)
		}
	}

	cfg := dcm2nii.DefaultConfig()
	cfg.AssumeLittleEndian = assumeLittleEndian
	reader := dicomfile.NewReader(cfg, client)

	// Single DICOM file
	if isSingleFile(path) {
		if err := DumpDicom(reader, path); err != nil {
			STDOUT.Flush()
			log.Fatalln(err)
		}

		return
	}

	// Folder of DICOM files
	if err := IterateOverFolder(reader, client, path); err != nil {
		STDOUT.Flush()
		log.Fatalln(err)
	}
}

func isSingleFile(path string) bool {
	if dcm2nii.IsGoogleStoragePath(path) {
		return strings.HasSuffix(strings.ToLower(path), ".dcm")
	}

	fi, err := os.Stat(dcm2nii.ExpandHome(path))
	return err == nil && !fi.IsDir()
}
