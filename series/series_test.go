package series

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/carbocation/dcm2nii"
	"github.com/carbocation/dcm2nii/internal/dcmtest"
	"github.com/carbocation/dcm2nii/niftiio"
	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"
)

func writeSeries(t *testing.T, slices []dcmtest.Slice) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "PAT034")
	if err := dcmtest.WriteSeries(dir, slices); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestConvertThreeAxialSlices(t *testing.T) {
	dir := writeSeries(t, dcmtest.AxialSeries(4, 4, 3))
	out := filepath.Join(t.TempDir(), "PAT034.nii")

	v, err := Convert(dir, out, true)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]int{4, 4, 3}, v.Shape); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	for i := 0; i < 3; i++ {
		if got := math.Abs(v.Affine.At(i, i)); math.Abs(got-1) > 1e-9 {
			t.Errorf("|affine[%d][%d]| = %g, expected 1", i, i, got)
		}
	}
	if v.Datatype != niftiio.Int16 {
		t.Errorf("datatype %s", v.Datatype)
	}

	if _, err := os.Stat(out); err != nil {
		t.Errorf("no output file: %v", err)
	}
}

func TestTooFewSlices(t *testing.T) {
	dir := writeSeries(t, dcmtest.AxialSeries(4, 4, 1))

	_, err := Convert(dir, filepath.Join(t.TempDir(), "out.nii"), true)

	var convErr *dcm2nii.ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected a ConversionError, got %v", err)
	}
}

func TestSingleLocationIsTooFewSlices(t *testing.T) {
	dir := writeSeries(t, []dcmtest.Slice{
		dcmtest.AxialSlice(2, 2, 0, 1),
		dcmtest.AxialSlice(2, 2, 0, 2),
	})

	_, err := Convert(dir, filepath.Join(t.TempDir(), "out.nii"), true)
	if !errors.Is(err, dcm2nii.ErrConversion) {
		t.Fatalf("expected a ConversionError, got %v", err)
	}
}

func TestNoDICOMFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "out.nii")

	if _, err := Convert(dir, out, true); !errors.Is(err, dcm2nii.ErrNotFound) {
		t.Errorf("empty directory: expected NotFoundError, got %v", err)
	}

	// Extensionless files that aren't DICOM are skipped; other extensions
	// are never read.
	for name, body := range map[string]string{"README": "notes", "sums.md5": "abc"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Convert(dir, out, true); !errors.Is(err, dcm2nii.ErrNotFound) {
		t.Errorf("directory without DICOMs: expected NotFoundError, got %v", err)
	}

	if _, err := Convert(filepath.Join(dir, "absent"), out, true); !errors.Is(err, dcm2nii.ErrNotFound) {
		t.Errorf("missing directory: expected NotFoundError, got %v", err)
	}

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("an output file was written for a failed conversion")
	}
}

func TestConvertIsIdempotent(t *testing.T) {
	dir := writeSeries(t, dcmtest.AxialSeries(5, 3, 4))
	outDir := t.TempDir()

	var written [][]byte
	for _, name := range []string{"a.nii", "b.nii"} {
		out := filepath.Join(outDir, name)
		if _, err := Convert(dir, out, true); err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		written = append(written, b)
	}

	if !bytes.Equal(written[0], written[1]) {
		t.Error("converting the same series twice gave different files")
	}
}

func TestMixedSeries(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *dcmtest.Slice)
	}{
		{"series uid", func(s *dcmtest.Slice) { s.SeriesUID = "1.2.3.999" }},
		{"modality", func(s *dcmtest.Slice) { s.Modality = "CT" }},
		{"matrix", func(s *dcmtest.Slice) {
			s.Rows, s.Cols = 2, 2
		}},
		{"pixel spacing", func(s *dcmtest.Slice) { s.PixelSpacing = [2]float64{1, 0.5} }},
		{"slice thickness", func(s *dcmtest.Slice) { s.SliceThickness = 3 }},
		{"orientation", func(s *dcmtest.Slice) { s.Orientation = [6]float64{0, 1, 0, 0, 0, -1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slices := dcmtest.AxialSeries(4, 4, 3)
			tt.mutate(&slices[1])
			dir := writeSeries(t, slices)

			_, err := Convert(dir, filepath.Join(t.TempDir(), "out.nii"), true)
			if !errors.Is(err, dcm2nii.ErrConversion) {
				t.Errorf("expected a ConversionError, got %v", err)
			}
		})
	}
}

func TestInconsistentSliceIncrement(t *testing.T) {
	slices := dcmtest.AxialSeries(4, 4, 4)
	slices[3].Position[2] = 5 // increments 1, 1, 3

	dir := writeSeries(t, slices)
	_, err := Convert(dir, filepath.Join(t.TempDir(), "out.nii"), true)
	if !errors.Is(err, dcm2nii.ErrConversion) {
		t.Errorf("expected a ConversionError, got %v", err)
	}
}

func TestMissingPositionNeedsInstanceOrdering(t *testing.T) {
	slices := dcmtest.AxialSeries(4, 4, 3)
	for i := range slices {
		slices[i].Omit = []dcmtest.Key{{Group: 0x0020, Element: 0x0032}}
	}
	dir := writeSeries(t, slices)
	out := filepath.Join(t.TempDir(), "out.nii")

	if _, err := Convert(dir, out, false); !errors.Is(err, dcm2nii.ErrConversion) {
		t.Fatalf("position ordering without positions: got %v", err)
	}

	cfg := dcm2nii.DefaultConfig()
	cfg.ForceSliceOrderBy = dcm2nii.OrderByInstanceNumber
	v, err := NewConverter(cfg, nil).Convert(dir, out, false)
	if err != nil {
		t.Fatal(err)
	}

	// The slice axis falls back to normal * SpacingBetweenSlices.
	if got := v.Affine.At(2, 2); got != 1 {
		t.Errorf("slice step %g, expected 1", got)
	}
}

func TestSliceOrdering(t *testing.T) {
	// Instance numbers run opposite to position along the normal.
	slices := []dcmtest.Slice{
		dcmtest.AxialSlice(2, 3, 2, 1),
		dcmtest.AxialSlice(2, 3, 1, 2),
		dcmtest.AxialSlice(2, 3, 0, 3),
	}
	dir := writeSeries(t, slices)

	tests := []struct {
		order         dcm2nii.SliceOrder
		firstInstance int
		step          float64
	}{
		{dcm2nii.OrderByPosition, 3, 1},
		{dcm2nii.OrderByInstanceNumber, 1, -1},
	}

	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			cfg := dcm2nii.DefaultConfig()
			cfg.ForceSliceOrderBy = tt.order

			s, err := NewConverter(cfg, nil).Load(dir)
			if err != nil {
				t.Fatal(err)
			}
			if got := s.First().InstanceNumber; got != tt.firstInstance {
				t.Errorf("first slice is instance %d, expected %d", got, tt.firstInstance)
			}
			if s.Step[2] != tt.step {
				t.Errorf("step %v", s.Step)
			}

			v := s.Volume()
			if got, want := v.At(1, 0, 0, 0), float64(dcmtest.PixelValue(tt.firstInstance, 0, 1, 3)); got != want {
				t.Errorf("voxel (1,0,0) = %g, expected %g", got, want)
			}
		})
	}
}

func TestFourDimensionalSeries(t *testing.T) {
	var slices []dcmtest.Slice
	instance := 1
	for frame := 0; frame < 2; frame++ {
		for z := 0; z < 3; z++ {
			slices = append(slices, dcmtest.AxialSlice(4, 4, float64(z), instance))
			instance++
		}
	}
	dir := writeSeries(t, slices)

	v, err := Convert(dir, filepath.Join(t.TempDir(), "cine.nii"), false)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]int{4, 4, 3, 2}, v.Shape); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}

	// Location z holds instances z+1 (t=0) and z+4 (t=1).
	for z := 0; z < 3; z++ {
		for tm := 0; tm < 2; tm++ {
			want := float64(dcmtest.PixelValue(z+1+3*tm, 2, 1, 4))
			if got := v.At(1, 2, z, tm); got != want {
				t.Errorf("voxel (1,2,%d,%d) = %g, expected %g", z, tm, got, want)
			}
		}
	}

	// One location short of a full frame.
	if err := os.Remove(filepath.Join(dir, "D0006.dcm")); err != nil {
		t.Fatal(err)
	}
	if _, err := Convert(dir, filepath.Join(t.TempDir(), "cine.nii"), false); !errors.Is(err, dcm2nii.ErrConversion) {
		t.Errorf("incomplete 4-D series: expected a ConversionError, got %v", err)
	}
}

func TestFourDimensionalSeriesWithJitter(t *testing.T) {
	// The later acquisition at each location sits a fraction of the
	// tolerance below the earlier one, so distance and instance order
	// disagree within a location.
	var slices []dcmtest.Slice
	for z := 0; z < 3; z++ {
		slices = append(slices,
			dcmtest.AxialSlice(2, 2, float64(z)+0.0004, z+1),
			dcmtest.AxialSlice(2, 2, float64(z), z+4),
			dcmtest.AxialSlice(2, 2, float64(z)+0.0008, z+7),
		)
	}
	dir := writeSeries(t, slices)

	s, err := NewConverter(dcm2nii.DefaultConfig(), nil).Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.NumSlices() != 3 || s.NumFrames() != 3 {
		t.Fatalf("got %d locations of %d frames", s.NumSlices(), s.NumFrames())
	}
	for z, group := range s.Positions {
		for tm, f := range group {
			if want := z + 1 + 3*tm; f.InstanceNumber != want {
				t.Errorf("location %d frame %d is instance %d, expected %d", z, tm, f.InstanceNumber, want)
			}
		}
	}
}

func TestRescale(t *testing.T) {
	tests := []struct {
		name             string
		slope, intercept float64
		want             niftiio.Datatype
	}{
		{"integral", 2, -1024, niftiio.Int16},
		{"fractional", 0.5, 0, niftiio.Float32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slices := dcmtest.AxialSeries(2, 2, 2)
			for i := range slices {
				slices[i].RescaleSlope = tt.slope
				slices[i].RescaleIntercept = tt.intercept
			}
			dir := writeSeries(t, slices)

			v, err := Convert(dir, filepath.Join(t.TempDir(), "out.nii"), false)
			if err != nil {
				t.Fatal(err)
			}
			if v.Datatype != tt.want {
				t.Errorf("datatype %s, expected %s", v.Datatype, tt.want)
			}

			want := float64(dcmtest.PixelValue(2, 1, 1, 2))*tt.slope + tt.intercept
			if got := v.At(1, 1, 1, 0); got != want {
				t.Errorf("voxel (1,1,1) = %g, expected %g", got, want)
			}
		})
	}
}

func TestAffineFromSagittalSlices(t *testing.T) {
	// Rows run toward +y (posterior), columns toward -z (inferior) in LPS.
	// The normal points toward -x, so the slice at x=4 comes first.
	var slices []dcmtest.Slice
	for i := 0; i < 3; i++ {
		s := dcmtest.AxialSlice(2, 3, 0, i+1)
		s.Orientation = [6]float64{0, 1, 0, 0, 0, -1}
		s.Position = [3]float64{float64(2 * i), -5, 7}
		s.PixelSpacing = [2]float64{0.5, 0.25}
		slices = append(slices, s)
	}
	dir := writeSeries(t, slices)

	s, err := NewConverter(dcm2nii.DefaultConfig(), nil).Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	want := mat.NewDense(4, 4, []float64{
		0, 0, 2, -4,
		-0.25, 0, 0, 5,
		0, -0.5, 0, 7,
		0, 0, 0, 1,
	})
	if got := s.Affine(); !mat.EqualApprox(got, want, 1e-9) {
		t.Errorf("affine\n%v\nexpected\n%v", mat.Formatted(got), mat.Formatted(want))
	}
}

func TestReorientKeepsWorldPositions(t *testing.T) {
	// A sagittal-like volume: voxel axes map to world (y, z, x) with mixed
	// signs, plus a time axis.
	v := &niftiio.Volume{
		Shape:    []int{3, 4, 2, 2},
		Datatype: niftiio.Int16,
		Affine: mat.NewDense(4, 4, []float64{
			0, 0, 2, -10,
			-0.5, 0, 0, 20,
			0, -0.75, 0, 30,
			0, 0, 0, 1,
		}),
		Data: make([]float64, 3*4*2*2),
	}
	for i := range v.Data {
		v.Data[i] = float64(i)
	}

	out := Reorient(v)

	if diff := cmp.Diff([]int{2, 3, 4, 2}, out.Shape); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}

	for i, sign := range lasSigns {
		if got := out.Affine.At(i, i); math.Signbit(got) != math.Signbit(sign) || got == 0 {
			t.Errorf("affine[%d][%d] = %g does not point the LAS way", i, i, got)
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(out.Affine); err != nil {
		t.Fatal(err)
	}

	for tm := 0; tm < 2; tm++ {
		for z := 0; z < 2; z++ {
			for y := 0; y < 4; y++ {
				for x := 0; x < 3; x++ {
					var world, idx mat.VecDense
					world.MulVec(v.Affine, mat.NewVecDense(4, []float64{float64(x), float64(y), float64(z), 1}))
					idx.MulVec(&inv, &world)

					a := int(math.Round(idx.AtVec(0)))
					b := int(math.Round(idx.AtVec(1)))
					c := int(math.Round(idx.AtVec(2)))
					if got, want := out.At(a, b, c, tm), v.At(x, y, z, tm); got != want {
						t.Fatalf("voxel (%d,%d,%d,%d) moved: new (%d,%d,%d) holds %g", x, y, z, tm, a, b, c, got)
					}
				}
			}
		}
	}
}

func TestReorientLASIsNoop(t *testing.T) {
	v := &niftiio.Volume{
		Shape:    []int{2, 2, 2},
		Datatype: niftiio.Int16,
		Affine:   mat.NewDense(4, 4, []float64{-1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}),
		Data:     make([]float64, 8),
	}
	if Reorient(v) != v {
		t.Error("a volume already in LAS was copied")
	}
}

func TestConvertAll(t *testing.T) {
	parent := t.TempDir()
	for name, n := range map[string]int{"PAT001": 3, "PAT002": 2, "PAT003": 1} {
		if err := dcmtest.WriteSeries(filepath.Join(parent, name), dcmtest.AxialSeries(4, 4, n)); err != nil {
			t.Fatal(err)
		}
	}
	outDir := filepath.Join(t.TempDir(), "nifti")

	results, err := NewConverter(dcm2nii.DefaultConfig(), nil).ConvertAll(context.Background(), parent, outDir, true, 2)
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}

	for i, res := range results {
		wantName := []string{"PAT001", "PAT002", "PAT003"}[i]
		if filepath.Base(res.SeriesDir) != wantName {
			t.Errorf("result %d is for %s", i, res.SeriesDir)
		}

		if wantName == "PAT003" {
			if !errors.Is(res.Err, dcm2nii.ErrConversion) {
				t.Errorf("%s: expected a ConversionError, got %v", wantName, res.Err)
			}
			continue
		}

		if res.Err != nil {
			t.Errorf("%s: %v", wantName, res.Err)
			continue
		}
		if _, err := os.Stat(res.Output); err != nil {
			t.Errorf("%s: %v", wantName, err)
		}
	}

	if got := results[0].Shape; len(got) != 3 || got[2] != 3 {
		t.Errorf("PAT001 shape %v", got)
	}
}

func TestConvertAllCancelled(t *testing.T) {
	parent := t.TempDir()
	if err := dcmtest.WriteSeries(filepath.Join(parent, "PAT001"), dcmtest.AxialSeries(4, 4, 2)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewConverter(dcm2nii.DefaultConfig(), nil).ConvertAll(ctx, parent, t.TempDir(), true, 1)
	if !errors.Is(err, context.Canceled) {
		// The semaphore may win the race with ctx.Done; the series must then
		// still report the cancellation.
		if len(results) != 1 || !errors.Is(results[0].Err, context.Canceled) {
			t.Errorf("expected cancellation, got %v and %+v", err, results)
		}
	}
}
