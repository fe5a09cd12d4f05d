package spectrum

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/conv"
	dspstats "github.com/cwbudde/algo-dsp/stats/time"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultSavGolWindow and DefaultSavGolOrder are the usual Savitzky-Golay parameters
	DefaultSavGolWindow = 11
	DefaultSavGolOrder  = 3

	// DefaultBaselineDegree is the usual degree of a polynomial baseline
	DefaultBaselineDegree = 2
)

var (
	// ErrInvalidOrder is generated for a polynomial order that is negative, or
	// not less than the filter window
	ErrInvalidOrder = errors.New("polynomial order must be at least 0 and less than the window")

	// ErrTooShort is generated when a spectrum has too few points for a filter or fit
	ErrTooShort = errors.New("spectrum too short")
)

// ValidSavGol checks a Savitzky-Golay window and polynomial order
func ValidSavGol(window, order int) error {
	if window < 1 || window%2 == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, window)
	}
	if order < 0 || order >= window {
		return fmt.Errorf("%w: order %d, window %d", ErrInvalidOrder, order, window)
	}
	return nil
}

// vandermonde returns the len(x) x (deg+1) matrix of powers of x
func vandermonde(x []float64, deg int) *mat.Dense {
	a := mat.NewDense(len(x), deg+1, nil)
	for i, xi := range x {
		p := 1.
		for j := 0; j <= deg; j++ {
			a.Set(i, j, p)
			p *= xi
		}
	}
	return a
}

// polyfit returns the least-squares polynomial coefficients of y(x), lowest power first
func polyfit(x, y []float64, deg int) ([]float64, error) {
	var c mat.VecDense
	err := c.SolveVec(vandermonde(x, deg), mat.NewVecDense(len(y), append([]float64(nil), y...)))
	if err != nil {
		return nil, err
	}
	return c.RawVector().Data, nil
}

// polyval evaluates c, lowest power first, at x
func polyval(c []float64, x float64) float64 {
	var v float64
	for i := len(c) - 1; i >= 0; i-- {
		v = v*x + c[i]
	}
	return v
}

// savgolKernel returns the smoothing weights of a window, centered
func savgolKernel(window, order int) ([]float64, error) {
	half := window / 2
	x := make([]float64, window)
	for i := range x {
		x[i] = float64(i - half)
	}
	a := vandermonde(x, order)
	var ata mat.Dense
	ata.Mul(a.T(), a)
	e0 := mat.NewVecDense(order+1, nil)
	e0.SetVec(0, 1)
	var z, h mat.VecDense
	if err := z.SolveVec(&ata, e0); err != nil {
		return nil, err
	}
	h.MulVec(a, &z)
	return h.RawVector().Data, nil
}

// SavGol is a Savitzky-Golay smoothing filter.  Interior points are the
// value at the center of a least-squares polynomial of the given order over
// the window; the first and last window/2 points are taken from the
// polynomial fit to the first and last window.
func SavGol(s []float64, window, order int) ([]float64, error) {
	if err := ValidSavGol(window, order); err != nil {
		return nil, err
	}
	if len(s) < window {
		return nil, fmt.Errorf("%w: %d points, window %d", ErrTooShort, len(s), window)
	}
	out := make([]float64, len(s))
	if window == 1 {
		copy(out, s)
		return out, nil
	}
	h, err := savgolKernel(window, order)
	if err != nil {
		return nil, err
	}
	// h is symmetric, so convolution is correlation
	full, err := conv.Direct(s, h)
	if err != nil {
		return nil, err
	}
	half := window / 2
	for i := half; i < len(s)-half; i++ {
		out[i] = full[i+half]
	}

	x := make([]float64, window)
	for i := range x {
		x[i] = float64(i)
	}
	head, err := polyfit(x, s[:window], order)
	if err != nil {
		return nil, err
	}
	tail, err := polyfit(x, s[len(s)-window:], order)
	if err != nil {
		return nil, err
	}
	for i := 0; i < half; i++ {
		out[i] = polyval(head, float64(i))
		out[len(s)-half+i] = polyval(tail, float64(window-half+i))
	}
	return out, nil
}

// SubtractBaseline fits a least-squares polynomial of degree deg across the
// whole spectrum and subtracts it
func SubtractBaseline(s []float64, deg int) ([]float64, error) {
	if deg < 0 {
		return nil, fmt.Errorf("%w: degree %d", ErrInvalidOrder, deg)
	}
	if len(s) <= deg {
		return nil, fmt.Errorf("%w: %d points for a degree %d baseline", ErrTooShort, len(s), deg)
	}
	// pixel index mapped to [-1, 1] keeps the fit well conditioned
	x := make([]float64, len(s))
	if len(s) > 1 {
		scale := 2 / float64(len(s)-1)
		for i := range x {
			x[i] = float64(i)*scale - 1
		}
	}
	c, err := polyfit(x, s, deg)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = v - polyval(c, x[i])
	}
	return out, nil
}

// MinMax rescales s to [0, 1].  A flat spectrum becomes all zeros.
func MinMax(s []float64) []float64 {
	out := make([]float64, len(s))
	if len(s) == 0 {
		return out
	}
	st := dspstats.Calculate(s)
	span := st.Max - st.Min
	if span == 0 {
		return out
	}
	for i, v := range s {
		out[i] = (v - st.Min) / span
	}
	return out
}
