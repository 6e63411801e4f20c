package series

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/dcm2nii"
	"github.com/carbocation/dcm2nii/dicomfile"
	"github.com/carbocation/dcm2nii/niftiio"
	"github.com/carbocation/pfx"
)

// Converter turns series directories into NIfTI files. It holds no mutable
// state, so one Converter may convert several series at once.
type Converter struct {
	cfg    dcm2nii.Config
	client *storage.Client
	reader *dicomfile.Reader
}

// NewConverter builds a Converter. client is only needed for gs:// inputs and
// may be nil.
func NewConverter(cfg dcm2nii.Config, client *storage.Client) *Converter {
	return &Converter{
		cfg:    cfg,
		client: client,
		reader: dicomfile.NewReader(cfg, client),
	}
}

// Convert converts seriesDirectory to outputPath with the default config.
func Convert(seriesDirectory, outputPath string, reorient bool) (*niftiio.Volume, error) {
	return NewConverter(dcm2nii.DefaultConfig(), nil).Convert(seriesDirectory, outputPath, reorient)
}

// Convert reads every DICOM in seriesDirectory, assembles one volume, and
// writes it to outputPath (.nii, or .nii.gz for compressed output). With
// reorient the voxel axes are put in LAS order first.
func (c *Converter) Convert(seriesDirectory, outputPath string, reorient bool) (*niftiio.Volume, error) {
	s, err := c.Load(seriesDirectory)
	if err != nil {
		return nil, err
	}

	v := s.Volume()
	if reorient {
		v = Reorient(v)
	}

	if err := niftiio.Write(outputPath, v); err != nil {
		return nil, err
	}

	return v, nil
}

// Load reads and orders the series in dir without writing anything.
func (c *Converter) Load(dir string) (*Series, error) {
	paths, err := dcm2nii.List(dir, c.client)
	if err != nil {
		return nil, err
	}

	var files []*dicomfile.File
	for _, p := range paths {
		ext := strings.ToLower(path.Ext(p))
		if ext != ".dcm" && ext != "" {
			continue
		}

		f, err := c.reader.Read(p)
		if errors.Is(err, dcm2nii.ErrFileFormat) && ext == "" {
			// Extensionless files are only candidates; DICOMDIR-less exports
			// often sit next to notes and checksums.
			log.Println("Skipping", p, "which is not a DICOM:", err)
			continue
		} else if err != nil {
			return nil, err
		}

		files = append(files, f)
	}

	if len(files) == 0 {
		return nil, &dcm2nii.NotFoundError{Path: dir, Detail: "no DICOM files"}
	}

	return New(dir, files, c.cfg.ForceSliceOrderBy)
}

// Result is the outcome for one series of a batch.
type Result struct {
	SeriesDir string
	Output    string
	Shape     []int
	Err       error
}

// ConvertAll converts every subdirectory of parentDir into
// outputDir/<subdirectory>.nii, running up to concurrency conversions at a
// time (runtime.NumCPU() if concurrency < 1). A failing series is reported in
// its Result and does not stop the others. Cancelling ctx stops new
// conversions from starting; the returned error is then ctx.Err().
func (c *Converter) ConvertAll(ctx context.Context, parentDir, outputDir string, reorient bool, concurrency int) ([]Result, error) {
	if dcm2nii.IsGoogleStoragePath(parentDir) || dcm2nii.IsGoogleStoragePath(outputDir) {
		return nil, pfx.Err(fmt.Errorf("batch conversion works on local directories only"))
	}

	entries, err := os.ReadDir(dcm2nii.ExpandHome(parentDir))
	if os.IsNotExist(err) {
		return nil, &dcm2nii.NotFoundError{Path: parentDir, Err: err}
	} else if err != nil {
		return nil, pfx.Err(err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, pfx.Err(err)
	}

	if concurrency < 1 {
		concurrency = runtime.NumCPU()
	}

	results := make(chan Result, concurrency)
	collected := make([]Result, 0, len(dirs))
	doneListening := make(chan struct{})
	go func() {
		defer close(doneListening)
		for res := range results {
			collected = append(collected, res)
		}
	}()

	semaphore := make(chan struct{}, concurrency)

	var cancelled error
	for _, name := range dirs {
		// Will block after `concurrency` simultaneous goroutines are running
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			cancelled = ctx.Err()
		}
		if cancelled != nil {
			break
		}

		go func(name string) {
			defer func() { <-semaphore }()

			res := Result{
				SeriesDir: filepath.Join(parentDir, name),
				Output:    filepath.Join(outputDir, name+".nii"),
			}

			if err := ctx.Err(); err != nil {
				res.Err = err
				results <- res
				return
			}

			v, err := c.Convert(res.SeriesDir, res.Output, reorient)
			if err != nil {
				res.Err = err
			} else {
				res.Shape = v.Shape
			}
			results <- res
		}(name)
	}

	// Wait for the in-flight conversions.
	for i := 0; i < cap(semaphore); i++ {
		semaphore <- struct{}{}
	}

	close(results)
	<-doneListening

	sort.Slice(collected, func(i, j int) bool { return collected[i].SeriesDir < collected[j].SeriesDir })

	return collected, cancelled
}
