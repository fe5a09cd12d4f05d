package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/nasa-jpl/nirquest/acquisition"
	"github.com/nasa-jpl/nirquest/spectrumfile"
)

func TestAcquireToStdout(t *testing.T) {
	is := is.New(t)
	var out, errs bytes.Buffer
	is.NoErr(Acquire([]string{"-mock", "-quiet", "-scans", "3"}, &out, &errs))
	rec, err := spectrumfile.ReadCSV(&out)
	is.NoErr(err)
	is.Equal(len(rec.Values), 512)
	is.Equal(rec.Unit, "counts")
	scans, _ := rec.Field("Scans")
	is.Equal(scans, "3/3")
	model, _ := rec.Field("Model")
	is.Equal(model, "NIRQuest512")
}

func TestDarkThenReflectance(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	dark := filepath.Join(dir, "dark.csv")
	white := filepath.Join(dir, "white.csv")
	var out, errs bytes.Buffer
	is.NoErr(capture("dark", 2, []string{"-mock", "-quiet", "-o", dark}, &out, &errs))
	is.NoErr(capture("reference", 2, []string{"-mock", "-quiet", "-dark", dark, "-o", white}, &out, &errs))
	is.Equal(out.Len(), 0) // files, not stdout

	is.NoErr(Acquire([]string{"-mock", "-quiet", "-dark", dark, "-reference", white}, &out, &errs))
	rec, err := spectrumfile.ReadCSV(&out)
	is.NoErr(err)
	is.Equal(rec.Unit, "reflectance")
	for i, v := range rec.Values {
		if v < 0 || v > 100 {
			t.Fatalf("reflectance out of range at pixel %d: %g", i, v)
		}
	}
}

func TestAcquireFITS(t *testing.T) {
	is := is.New(t)
	fn := filepath.Join(t.TempDir(), "s.FITS")
	var out, errs bytes.Buffer
	is.NoErr(Acquire([]string{"-mock", "-quiet", "-o", fn}, &out, &errs))
	b, err := os.ReadFile(fn)
	is.NoErr(err)
	is.True(strings.HasPrefix(string(b), "SIMPLE  ="))
	is.Equal(len(b)%2880, 0)
}

func TestAcquireMissingDarkFile(t *testing.T) {
	var out, errs bytes.Buffer
	err := Acquire([]string{"-mock", "-quiet", "-dark", filepath.Join(t.TempDir(), "nope.csv")}, &out, &errs)
	if err == nil {
		t.Error("expected an error for a dark file that does not exist")
	}
}

func TestInfo(t *testing.T) {
	is := is.New(t)
	var out, errs bytes.Buffer
	is.NoErr(Info([]string{"-mock"}, &out, &errs))
	is.True(strings.Contains(out.String(), "NIRQuest512"))
	is.True(strings.Contains(out.String(), "MOCK0001"))
	is.True(strings.Contains(out.String(), "0x1026"))
}

func TestSpinPassesErrorThrough(t *testing.T) {
	var buf bytes.Buffer
	want := errors.New("lamp off")
	if err := spin(&buf, false, "working", func() error { return want }); err != want {
		t.Errorf("expected %v, got %v", want, err)
	}
	if err := spin(&buf, false, "working", func() error { return nil }); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestWarnAll(t *testing.T) {
	var buf bytes.Buffer
	warnAll(&buf, []string{"saturated", "blank"})
	s := buf.String()
	if !strings.Contains(s, "warning: saturated") || !strings.Contains(s, "warning: blank") {
		t.Errorf("expected both warnings, got %q", s)
	}
}

func TestAcquireProcessingFlags(t *testing.T) {
	is := is.New(t)
	var out, errs bytes.Buffer
	is.NoErr(Acquire([]string{"-mock", "-quiet", "-savgol", "9", "-baseline", "2", "-normalize"}, &out, &errs))
	rec, err := spectrumfile.ReadCSV(&out)
	is.NoErr(err)
	is.Equal(rec.Unit, "normalized")
	for _, v := range rec.Values {
		is.True(v >= 0 && v <= 1)
	}
}

func TestAcquireRejectsBadSavGol(t *testing.T) {
	var out, errs bytes.Buffer
	err := Acquire([]string{"-mock", "-quiet", "-savgol", "3", "-savgol-order", "3"}, &out, &errs)
	if !errors.Is(err, acquisition.ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}
}
