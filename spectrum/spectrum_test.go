package spectrum

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestAverageOfIdenticalScansIsIdentity(t *testing.T) {
	for _, v := range []uint16{0, 1, 1234, 65535} {
		scans := make([][]uint16, 7)
		for i := range scans {
			scans[i] = make([]uint16, 64)
			for j := range scans[i] {
				scans[i][j] = v
			}
		}
		avg, err := Average(scans)
		if err != nil {
			t.Fatal(err)
		}
		for i, a := range avg {
			if a != float64(v) {
				t.Fatalf("value %d: expected average %d at index %d, got %f", v, v, i, a)
			}
		}
	}
}

func TestAverageIsElementwiseMean(t *testing.T) {
	avg, err := Average([][]uint16{{1, 2, 3}, {3, 4, 5}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{2, 3, 4}, avg, approx); diff != "" {
		t.Errorf("mean mismatch (-want +got):\n%s", diff)
	}
}

func TestAverageInconsistentLength(t *testing.T) {
	_, err := Average([][]uint16{make([]uint16, 2048), make([]uint16, 2047)})
	if !errors.Is(err, ErrInconsistentScanLength) {
		t.Errorf("expected ErrInconsistentScanLength, got %v", err)
	}
	_, err = AverageFloat([][]float64{make([]float64, 3), make([]float64, 4)})
	if !errors.Is(err, ErrInconsistentScanLength) {
		t.Errorf("expected ErrInconsistentScanLength from AverageFloat, got %v", err)
	}
}

func TestAverageNoScans(t *testing.T) {
	if _, err := Average(nil); !errors.Is(err, ErrNoScans) {
		t.Errorf("expected ErrNoScans, got %v", err)
	}
}

func TestSubtractDarkNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for trial := 0; trial < 100; trial++ {
		n := 1 + rng.Intn(300)
		raw, dark := make([]float64, n), make([]float64, n)
		for i := range raw {
			raw[i] = rng.Float64() * 65535
			dark[i] = rng.Float64() * 65535
		}
		out, err := SubtractDark(raw, dark)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range out {
			if v < 0 {
				t.Fatalf("trial %d index %d: negative corrected value %f", trial, i, v)
			}
			if want := math.Max(raw[i]-dark[i], 0); v != want {
				t.Fatalf("trial %d index %d: expected %f got %f", trial, i, want, v)
			}
		}
	}
}

func TestSubtractDarkLengthMismatch(t *testing.T) {
	_, err := SubtractDark(make([]float64, 3), make([]float64, 4))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestBoxcarWidth3FivePoints(t *testing.T) {
	in := []float64{10, 20, 60, 30, 50}
	out, err := Boxcar(in, 3)
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{10, 20, (20 + 60 + 30) / 3., 30, 50}
	if diff := cmp.Diff(expected, out, approx); diff != "" {
		t.Errorf("boxcar mismatch (-want +got):\n%s", diff)
	}
	if in[2] != 60 {
		t.Error("boxcar modified its input")
	}
}

func TestBoxcarMatchesDirectMean(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	in := make([]float64, 200)
	for i := range in {
		in[i] = rng.Float64() * 1000
	}
	for _, w := range []int{3, 5, 9, 21} {
		out, err := Boxcar(in, w)
		if err != nil {
			t.Fatal(err)
		}
		half := w / 2
		for i := range in {
			want := in[i]
			if i > half && i < len(in)-1-half {
				want = 0
				for k := i - half; k <= i+half; k++ {
					want += in[k]
				}
				want /= float64(w)
			}
			if math.Abs(out[i]-want) > 1e-6 {
				t.Fatalf("width %d index %d: expected %f got %f", w, i, want, out[i])
			}
		}
	}
}

func TestBoxcarWidthOneAndShortInput(t *testing.T) {
	in := []float64{1, 5, 2}
	for _, w := range []int{1, 3, 7} {
		out, err := Boxcar(in, w)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("width %d should leave a 3 sample input alone (-want +got):\n%s", w, diff)
		}
	}
}

func TestBoxcarRejectsEvenWidth(t *testing.T) {
	for _, w := range []int{-1, 0, 2, 4} {
		if _, err := Boxcar([]float64{1, 2, 3}, w); !errors.Is(err, ErrInvalidWidth) {
			t.Errorf("width %d: expected ErrInvalidWidth, got %v", w, err)
		}
	}
}

func TestReflectanceIsClamped(t *testing.T) {
	s := []float64{50, 300, -10, 40, 7}
	ref := []float64{100, 100, 100, 0, 1e-12}
	out, err := Reflectance(s, ref)
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{50, 100, 0, 0, 0}
	if diff := cmp.Diff(expected, out, approx); diff != "" {
		t.Errorf("reflectance mismatch (-want +got):\n%s", diff)
	}
}

func TestReflectanceAlwaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	s, ref := make([]float64, 500), make([]float64, 500)
	for i := range s {
		s[i] = rng.NormFloat64() * 1e5
		ref[i] = rng.NormFloat64() * 1e3
	}
	out, err := Reflectance(s, ref)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if v < 0 || v > 100 || math.IsNaN(v) {
			t.Fatalf("index %d: reflectance %f outside [0, 100]", i, v)
		}
	}
}

func TestLinspace(t *testing.T) {
	out := Linspace(900, 1700, 5)
	if diff := cmp.Diff([]float64{900, 1100, 1300, 1500, 1700}, out, approx); diff != "" {
		t.Errorf("linspace mismatch (-want +got):\n%s", diff)
	}
	if len(Linspace(0, 1, 0)) != 0 {
		t.Error("expected empty axis for n=0")
	}
}

func TestAxisRegeneratesOnLengthChange(t *testing.T) {
	a := &Axis{Start: 900, End: 1700}
	first := a.For(512)
	again := a.For(512)
	if &first[0] != &again[0] {
		t.Error("expected axis to be reused when length is unchanged")
	}
	shorter := a.For(256)
	if len(shorter) != 256 || shorter[255] != 1700 {
		t.Errorf("expected regenerated 256 point axis ending at 1700, got %d ending at %f", len(shorter), shorter[len(shorter)-1])
	}
}

func TestSummarize(t *testing.T) {
	st := Summarize([]float64{1, 65535, 3})
	if !st.Saturated || st.MaxPos != 1 || st.Min != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if math.Abs(st.Mean-(65539./3)) > 1e-6 {
		t.Errorf("expected mean %f got %f", 65539./3, st.Mean)
	}
	if !Summarize(make([]float64, 10)).Blank {
		t.Error("expected an all zero spectrum to be blank")
	}
}
