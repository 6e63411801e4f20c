package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/dcm2nii"
	_ "github.com/carbocation/dcm2nii/compileinfoprint"
	"github.com/carbocation/dcm2nii/dicomfile"
	"github.com/carbocation/dcm2nii/inspect"
	"github.com/carbocation/dcm2nii/series"
	"github.com/carbocation/pfx"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

// Safe for concurrent use by multiple goroutines so we'll make this a global
var client *storage.Client

func main() {
	defer STDOUT.Flush()

	var seriesDir, output, configPath, order, tagFile string
	var reorient, assumeLittleEndian, batch, inspectOutput, printData bool
	var concurrency int

	flag.StringVar(&seriesDir, "series", "", "Path to a folder of .dcm files that make up one series (local or gs://). With -batch, a local folder whose subfolders are series.")
	flag.StringVar(&output, "out", "", "Path of the .nii (or .nii.gz) to write. With -batch, the folder that receives one {subfolder}.nii per series.")
	flag.StringVar(&configPath, "config", "~/.dcm2nii.yaml", "Optional YAML config. Defaults apply if the file does not exist; the flags below override it.")
	flag.StringVar(&order, "order", string(dcm2nii.OrderByPosition), "How to order slices: 'position' (along the slice normal) or 'instanceNumber'.")
	flag.BoolVar(&reorient, "reorient", true, "Permute and flip the voxel axes into LAS orientation before writing?")
	flag.BoolVar(&assumeLittleEndian, "assume-le", false, "Accept files without the DICM preamble, treating them as implicit VR little endian.")
	flag.BoolVar(&batch, "batch", false, "Convert every subfolder of -series.")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "With -batch, the number of series converted at once.")
	flag.StringVar(&tagFile, "file", "", "(Optional) A single DICOM whose view position, laterality, pixel data length and spacings are printed before converting.")
	flag.BoolVar(&inspectOutput, "inspect", true, "After converting a single series, load the output and describe it.")
	flag.BoolVar(&printData, "print-data", false, "With -inspect, also print every voxel.")
	flag.Parse()

	if seriesDir == "" || output == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := dcm2nii.LoadConfig(configPath)
	if err != nil {
		log.Fatalln(err)
	}

	// Only flags that were actually passed override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "order":
			cfg.ForceSliceOrderBy = dcm2nii.SliceOrder(order)
		case "assume-le":
			cfg.AssumeLittleEndian = assumeLittleEndian
		case "reorient":
			cfg.Reorient = reorient
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalln(err)
	}

	// Initialize the Google Storage client, but only if our inputs indicate
	// that we are pointing to a Google Storage path.
	if dcm2nii.IsGoogleStoragePath(seriesDir) || dcm2nii.IsGoogleStoragePath(tagFile) {
		client, err = storage.NewClient(context.Background())
		if err != nil {
			log.Fatalln(err)
		}
	}

	fmt.Fprintln(os.Stderr, strings.Join(os.Args, " "))

	if tagFile != "" {
		if err := printTags(STDOUT, dicomfile.NewReader(cfg, client), tagFile); err != nil {
			log.Fatalln(err)
		}
	}

	converter := series.NewConverter(cfg, client)

	if batch {
		if err := runBatch(STDOUT, converter, seriesDir, output, cfg.Reorient, concurrency); err != nil {
			log.Fatalln(err)
		}
		return
	}

	if err := run(STDOUT, converter, seriesDir, output, cfg.Reorient, inspectOutput, printData); err != nil {
		log.Fatalln(err)
	}
}

func run(w *bufio.Writer, converter *series.Converter, seriesDir, output string, reorient, inspectOutput, printData bool) error {
	defer w.Flush()

	v, err := converter.Convert(seriesDir, output, reorient)
	if err != nil {
		return err
	}

	log.Printf("Wrote %s: %v %s\n", output, v.Shape, v.Datatype)

	if !inspectOutput {
		return nil
	}

	loaded, err := inspect.Load(output)
	if err != nil {
		return err
	}

	return inspect.Describe(loaded).Print(w, printData)
}

// runBatch writes one TSV row per series to w and flushes it before
// returning, so the table survives a fatal exit.
func runBatch(w *bufio.Writer, converter *series.Converter, parentDir, outputDir string, reorient bool, concurrency int) error {
	defer w.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := converter.ConvertAll(ctx, parentDir, outputDir, reorient, concurrency)

	failed := 0
	fmt.Fprintln(w, "series\toutput\tshape\terror")
	for _, res := range results {
		errText := "NA"
		if res.Err != nil {
			failed++
			errText = res.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", res.SeriesDir, res.Output, res.Shape, errText)
	}

	if err != nil {
		return err
	}

	log.Printf("Converted %d of %d series\n", len(results)-failed, len(results))
	if failed > 0 {
		return pfx.Err(fmt.Errorf("%d series failed to convert", failed))
	}

	return nil
}
