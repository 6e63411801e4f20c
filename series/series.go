// Package series assembles the DICOM slices of one series directory into a
// volume and writes it as NIfTI-1.
package series

import (
	"math"
	"sort"

	"github.com/carbocation/dcm2nii"
	"github.com/carbocation/dcm2nii/dicomfile"
)

const (
	// Relative tolerance when comparing spacings and direction cosines that
	// must agree across slices.
	attributeTolerance = 1e-4

	// Slices whose positions along the normal are closer than this (mm) are
	// treated as the same location (4-D acquisitions).
	samePositionTolerance = 1e-3

	// Largest allowed deviation of one slice increment from the mean
	// increment, as a fraction of the mean.
	maxIncrementDeviation = 0.1
)

var defaultOrientation = [6]float64{1, 0, 0, 0, 1, 0}

// Series is a validated, ordered set of slices. Positions[z][t] is the t-th
// acquisition at the z-th slice location.
type Series struct {
	Dir       string
	Positions [][]*dicomfile.File

	// Step is the LPS displacement (mm) from one slice location to the next.
	Step [3]float64
}

// NumSlices is the number of distinct slice locations.
func (s *Series) NumSlices() int { return len(s.Positions) }

// NumFrames is the number of acquisitions at each location; 1 for 3-D data.
func (s *Series) NumFrames() int {
	if len(s.Positions) == 0 {
		return 0
	}
	return len(s.Positions[0])
}

// First is the slice at the first location and first time point.
func (s *Series) First() *dicomfile.File { return s.Positions[0][0] }

// Orientation is the shared ImageOrientationPatient, or the axial identity
// when the files don't carry one.
func (s *Series) Orientation() [6]float64 {
	if f := s.First(); f.HasImageOrientation {
		return f.ImageOrientation
	}
	return defaultOrientation
}

// New validates files as one series and orders them. Mixed series, or slices
// that disagree on geometry, are rejected rather than split.
func New(dir string, files []*dicomfile.File, order dcm2nii.SliceOrder) (*Series, error) {
	if len(files) < 2 {
		return nil, dcm2nii.Conversionf(dir, "found %d slice(s), at least 2 are needed", len(files))
	}

	if err := validate(dir, files); err != nil {
		return nil, err
	}

	s := &Series{Dir: dir}

	var err error
	switch order {
	case dcm2nii.OrderByInstanceNumber:
		s.Positions, err = orderByInstanceNumber(dir, files)
	default:
		s.Positions, err = orderByPosition(dir, files)
	}
	if err != nil {
		return nil, err
	}

	if s.NumSlices() < 2 {
		return nil, dcm2nii.Conversionf(dir, "all %d images share one slice location, at least 2 locations are needed", len(files))
	}

	if err := s.checkIncrements(); err != nil {
		return nil, err
	}

	s.Step = s.sliceStep()

	return s, nil
}

func validate(dir string, files []*dicomfile.File) error {
	ref := files[0]

	for _, f := range files {
		if f.Rows < 1 || f.Columns < 1 {
			return dcm2nii.Conversionf(dir, "%s has no image matrix (rows %d, columns %d)", f.Path, f.Rows, f.Columns)
		}
		if f.SamplesPerPixel != 1 {
			return dcm2nii.Conversionf(dir, "%s has %d samples per pixel; only grayscale is supported", f.Path, f.SamplesPerPixel)
		}
		if f.Encapsulated {
			return dcm2nii.Conversionf(dir, "%s holds compressed (encapsulated) pixel data", f.Path)
		}
		if len(f.Frames) != 1 {
			return dcm2nii.Conversionf(dir, "%s holds %d frames; only single frame slices are supported", f.Path, len(f.Frames))
		}
		if len(f.Pixels()) != f.Rows*f.Columns {
			return dcm2nii.Conversionf(dir, "%s has %d pixels for a %dx%d image", f.Path, len(f.Pixels()), f.Rows, f.Columns)
		}

		if f == ref {
			continue
		}

		switch {
		case f.SeriesInstanceUID != ref.SeriesInstanceUID:
			return dcm2nii.Conversionf(dir, "mixed series: %s belongs to %q, %s to %q", ref.Path, ref.SeriesInstanceUID, f.Path, f.SeriesInstanceUID)
		case f.Modality != ref.Modality:
			return dcm2nii.Conversionf(dir, "mixed modalities %q and %q", ref.Modality, f.Modality)
		case f.Rows != ref.Rows || f.Columns != ref.Columns:
			return dcm2nii.Conversionf(dir, "%s is %dx%d but %s is %dx%d", f.Path, f.Rows, f.Columns, ref.Path, ref.Rows, ref.Columns)
		case f.BitsAllocated != ref.BitsAllocated:
			return dcm2nii.Conversionf(dir, "%s allocates %d bits but %s allocates %d", f.Path, f.BitsAllocated, ref.Path, ref.BitsAllocated)
		case !approxEqualAll(f.PixelSpacing[:], ref.PixelSpacing[:]):
			return dcm2nii.Conversionf(dir, "inconsistent pixel spacing %v and %v", ref.PixelSpacing, f.PixelSpacing)
		case !approxEqual(f.SliceThickness, ref.SliceThickness):
			return dcm2nii.Conversionf(dir, "inconsistent slice thickness %g and %g", ref.SliceThickness, f.SliceThickness)
		case !approxEqual(f.SpacingBetweenSlices, ref.SpacingBetweenSlices):
			return dcm2nii.Conversionf(dir, "inconsistent spacing between slices %g and %g", ref.SpacingBetweenSlices, f.SpacingBetweenSlices)
		case f.HasImageOrientation != ref.HasImageOrientation || !approxEqualAll(f.ImageOrientation[:], ref.ImageOrientation[:]):
			return dcm2nii.Conversionf(dir, "inconsistent image orientation %v and %v", ref.ImageOrientation, f.ImageOrientation)
		}
	}

	return nil
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= attributeTolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func approxEqualAll(a, b []float64) bool {
	for i := range a {
		if !approxEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// normal is the slice normal, row direction cross column direction.
func normal(iop [6]float64) [3]float64 {
	r := [3]float64{iop[0], iop[1], iop[2]}
	c := [3]float64{iop[3], iop[4], iop[5]}
	return [3]float64{
		r[1]*c[2] - r[2]*c[1],
		r[2]*c[0] - r[0]*c[2],
		r[0]*c[1] - r[1]*c[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func orientationOf(f *dicomfile.File) [6]float64 {
	if f.HasImageOrientation {
		return f.ImageOrientation
	}
	return defaultOrientation
}

// orderByPosition sorts slices by their distance along the normal. Slices at
// the same location form one time series, ordered by instance number; every
// location must then hold the same number of them.
func orderByPosition(dir string, files []*dicomfile.File) ([][]*dicomfile.File, error) {
	n := normal(orientationOf(files[0]))

	type located struct {
		f    *dicomfile.File
		dist float64
	}

	slices := make([]located, 0, len(files))
	for _, f := range files {
		if !f.HasImagePosition {
			return nil, dcm2nii.Conversionf(dir, "%s has no ImagePositionPatient; order by instance number instead", f.Path)
		}
		slices = append(slices, located{f: f, dist: dot(f.ImagePosition, n)})
	}

	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].dist < slices[j].dist
	})

	// A location starts at its lowest slice and takes every later slice
	// within samePositionTolerance of it.
	var out [][]*dicomfile.File
	var groupStart float64
	for _, s := range slices {
		if len(out) == 0 || s.dist-groupStart > samePositionTolerance {
			out = append(out, nil)
			groupStart = s.dist
		}
		out[len(out)-1] = append(out[len(out)-1], s.f)
	}

	for _, group := range out {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].InstanceNumber < group[j].InstanceNumber
		})
	}

	frames := len(out[0])
	for _, group := range out {
		if len(group) != frames {
			return nil, dcm2nii.Conversionf(dir, "slice locations hold unequal numbers of images (%d and %d); the series is incomplete or mixed", frames, len(group))
		}
	}

	for _, group := range out {
		for i := 1; i < len(group); i++ {
			if group[i].InstanceNumber == group[i-1].InstanceNumber {
				return nil, dcm2nii.Conversionf(dir, "%s and %s share a location and instance number %d", group[i-1].Path, group[i].Path, group[i].InstanceNumber)
			}
		}
	}

	return out, nil
}

// orderByInstanceNumber trusts InstanceNumber for the slice order and treats
// every file as its own location.
func orderByInstanceNumber(dir string, files []*dicomfile.File) ([][]*dicomfile.File, error) {
	sorted := append([]*dicomfile.File(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InstanceNumber < sorted[j].InstanceNumber
	})

	out := make([][]*dicomfile.File, 0, len(sorted))
	for i, f := range sorted {
		if i > 0 && f.InstanceNumber == sorted[i-1].InstanceNumber {
			return nil, dcm2nii.Conversionf(dir, "%s and %s share instance number %d", sorted[i-1].Path, f.Path, f.InstanceNumber)
		}
		out = append(out, []*dicomfile.File{f})
	}

	return out, nil
}

func (s *Series) hasPositions() bool {
	for _, group := range s.Positions {
		if !group[0].HasImagePosition {
			return false
		}
	}
	return true
}

// checkIncrements rejects gaps and overlaps: every increment along the normal
// must be within maxIncrementDeviation of the mean, which must not be zero.
func (s *Series) checkIncrements() error {
	if s.NumSlices() < 2 || !s.hasPositions() {
		return nil
	}

	n := normal(s.Orientation())

	increments := make([]float64, 0, s.NumSlices()-1)
	var mean float64
	for z := 1; z < s.NumSlices(); z++ {
		inc := dot(s.Positions[z][0].ImagePosition, n) - dot(s.Positions[z-1][0].ImagePosition, n)
		increments = append(increments, inc)
		mean += inc
	}
	mean /= float64(len(increments))

	if math.Abs(mean) < samePositionTolerance {
		return dcm2nii.Conversionf(s.Dir, "slices do not advance along the slice normal")
	}

	for z, inc := range increments {
		if math.Abs(inc-mean) > maxIncrementDeviation*math.Abs(mean) {
			return dcm2nii.Conversionf(s.Dir, "inconsistent slice increment %.4g mm between %s and %s (mean %.4g mm)",
				inc, s.Positions[z][0].Path, s.Positions[z+1][0].Path, mean)
		}
	}

	return nil
}

// sliceStep is the mean displacement between neighboring locations. Without
// positions it falls back to the normal scaled by SpacingBetweenSlices, then
// by SliceThickness.
func (s *Series) sliceStep() [3]float64 {
	if s.NumSlices() > 1 && s.hasPositions() {
		first := s.Positions[0][0].ImagePosition
		last := s.Positions[s.NumSlices()-1][0].ImagePosition
		k := float64(s.NumSlices() - 1)
		return [3]float64{(last[0] - first[0]) / k, (last[1] - first[1]) / k, (last[2] - first[2]) / k}
	}

	spacing := s.First().SpacingBetweenSlices
	if spacing <= 0 {
		spacing = s.First().SliceThickness
	}
	if spacing <= 0 {
		spacing = 1
	}

	n := normal(s.Orientation())
	return [3]float64{n[0] * spacing, n[1] * spacing, n[2] * spacing}
}
