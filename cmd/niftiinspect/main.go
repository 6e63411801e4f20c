package main

import (
	"bufio"
	"flag"
	"log"
	"os"

	_ "github.com/carbocation/dcm2nii/compileinfoprint"
	"github.com/carbocation/dcm2nii/inspect"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

func main() {
	defer STDOUT.Flush()

	var filename string
	var printData bool

	flag.StringVar(&filename, "file", "", "Name of .nii or .nii.gz file to describe.")
	flag.BoolVar(&printData, "print-data", false, "Also print every voxel, x fastest?")
	flag.Parse()

	if filename == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	v, err := inspect.Load(filename)
	if err != nil {
		log.Fatalln(err)
	}

	if err := inspect.Describe(v).Print(STDOUT, printData); err != nil {
		log.Fatalln(err)
	}
}
