/*Package spectrum holds the numeric kernels of the correction pipeline.

Every function here is pure: inputs are never modified, and a new slice is
returned.  The pipeline applies them in a fixed order:

	Average -> SubtractDark -> Boxcar -> Reflectance

followed by the optional SubtractBaseline, SavGol and MinMax.

Length checks are done here and reported as errors; whether a mismatch is
fatal or a warning is decided by the caller.
*/
package spectrum

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-vecmath"
)

const (
	// MinReference is the smallest reference value that is divided by.
	// Reflectance at pixels whose reference is at or below it is 0.
	MinReference = 1e-9

	// MaxReflectance is the upper clamp of reflectance, in percent
	MaxReflectance = 100.
)

var (
	// ErrNoScans is generated when asked to average nothing
	ErrNoScans = errors.New("no scans to average")

	// ErrInconsistentScanLength is generated when the scans being averaged disagree in length
	ErrInconsistentScanLength = errors.New("scans disagree in length")

	// ErrLengthMismatch is generated when a correction spectrum does not match the spectrum it corrects
	ErrLengthMismatch = errors.New("spectrum lengths differ")

	// ErrInvalidWidth is generated for a boxcar width that is even or less than one
	ErrInvalidWidth = errors.New("boxcar width must be odd and at least 1")
)

// ToFloat converts raw pixel counts to float64
func ToFloat(px []uint16) []float64 {
	out := make([]float64, len(px))
	for i, v := range px {
		out[i] = float64(v)
	}
	return out
}

// Average is the elementwise mean of raw scans.  All scans must be the same length.
func Average(scans [][]uint16) ([]float64, error) {
	if len(scans) == 0 {
		return nil, ErrNoScans
	}
	n := len(scans[0])
	sum := make([]float64, n)
	for i, s := range scans {
		if len(s) != n {
			return nil, fmt.Errorf("%w: scan %d has %d pixels, scan 0 has %d", ErrInconsistentScanLength, i, len(s), n)
		}
		for j, v := range s {
			sum[j] += float64(v)
		}
	}
	return scale(sum, len(scans)), nil
}

// AverageFloat is Average for scans that have already been converted or corrected
func AverageFloat(scans [][]float64) ([]float64, error) {
	if len(scans) == 0 {
		return nil, ErrNoScans
	}
	n := len(scans[0])
	sum := make([]float64, n)
	for i, s := range scans {
		if len(s) != n {
			return nil, fmt.Errorf("%w: scan %d has %d pixels, scan 0 has %d", ErrInconsistentScanLength, i, len(s), n)
		}
		for j, v := range s {
			sum[j] += v
		}
	}
	return scale(sum, len(scans)), nil
}

func scale(sum []float64, n int) []float64 {
	if n == 1 {
		return sum
	}
	d := float64(n)
	for j := range sum {
		sum[j] /= d
	}
	return sum
}

// SubtractDark subtracts dark from s and clamps the result at zero
func SubtractDark(s, dark []float64) ([]float64, error) {
	if len(s) != len(dark) {
		return nil, fmt.Errorf("%w: spectrum has %d pixels, dark has %d", ErrLengthMismatch, len(s), len(dark))
	}
	out := make([]float64, len(s))
	for i := range s {
		v := s[i] - dark[i]
		if v < 0 {
			v = 0
		}
		out[i] = v
	}
	return out, nil
}

// Boxcar is a sliding window mean of odd width.  Samples within width/2
// (inclusive) of either end are copied through unchanged, so for width 3 over
// [a b c d e] only index 2 is smoothed, to (b+c+d)/3.  Width 1 is the identity.
func Boxcar(s []float64, width int) ([]float64, error) {
	if width < 1 || width%2 == 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
	out := make([]float64, len(s))
	copy(out, s)
	half := width / 2
	first, last := half+1, len(s)-2-half // inclusive range of smoothed indices
	if width == 1 || first > last {
		return out, nil
	}
	var acc float64
	for i := first - half; i <= first+half; i++ {
		acc += s[i]
	}
	inv := 1 / float64(width)
	out[first] = acc * inv
	for i := first + 1; i <= last; i++ {
		acc += s[i+half] - s[i-half-1]
		out[i] = acc * inv
	}
	return out, nil
}

// Reflectance is s/ref*100, clamped to [0, 100].  Pixels where the reference
// is at or below MinReference are 0.
func Reflectance(s, ref []float64) ([]float64, error) {
	if len(s) != len(ref) {
		return nil, fmt.Errorf("%w: spectrum has %d pixels, reference has %d", ErrLengthMismatch, len(s), len(ref))
	}
	inv := make([]float64, len(ref))
	for i, r := range ref {
		if r > MinReference {
			inv[i] = MaxReflectance / r
		}
	}
	out := make([]float64, len(s))
	vecmath.MulBlock(out, s, inv)
	for i, v := range out {
		out[i] = core.Clamp(v, 0, MaxReflectance)
	}
	return out, nil
}

// Linspace returns n evenly spaced values from start to end, inclusive
func Linspace(start, end float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = end
	return out
}

// Axis is a wavelength axis that is regenerated when the spectrum length changes
type Axis struct {
	// Start and End are the first and last wavelength, nm
	Start, End float64

	values     []float64
	start, end float64
}

// For returns the axis for a spectrum of n pixels.  It is only regenerated
// when n or the range differs from the last call.  The returned slice must not
// be modified.
func (a *Axis) For(n int) []float64 {
	if a.values == nil || len(a.values) != n || a.start != a.Start || a.end != a.End {
		a.values = Linspace(a.Start, a.End, n)
		a.start, a.end = a.Start, a.End
	}
	return a.values
}
