/*Package acquisition turns raw scans from a spectrometer into corrected spectra.

A Pipeline runs the fixed sequence

	scan xN -> average -> dark subtract -> boxcar -> reflectance

against a Store of correction spectra, optionally followed by

	baseline removal -> Savitzky-Golay -> min-max normalization

as selected in Options.  Failed scans are dropped, not
retried.  Correction spectra whose length does not match the acquisition are
skipped with a warning rather than failing the acquisition.

The Pipeline does no locking of its own; the caller must not run two
acquisitions at once or modify the Store during one.  Runner wraps a Pipeline
in a continuous loop.
*/
package acquisition

import (
	"errors"
	"fmt"
	"time"

	"github.com/nasa-jpl/nirquest/spectrum"
	"github.com/rs/zerolog"
)

const (
	// DefaultScans is the number of scans averaged by Acquire when Options.Scans is zero
	DefaultScans = 1

	// DefaultBoxcarWidth is the smoothing width used when Options.BoxcarWidth is zero
	DefaultBoxcarWidth = 3

	// DefaultDarkScans is the number of scans CaptureDark averages
	DefaultDarkScans = 20

	// DefaultReferenceScans is the number of scans CaptureReference averages
	DefaultReferenceScans = 10
)

var (
	// ErrAcquisitionFailed is generated when every scan of an acquisition fails
	ErrAcquisitionFailed = errors.New("acquisition failed, no scans succeeded")

	// ErrInconsistentScanLength is generated when the scans of one acquisition disagree in length
	ErrInconsistentScanLength = spectrum.ErrInconsistentScanLength

	// ErrInvalidWidth is generated for a boxcar or Savitzky-Golay width that is even or negative
	ErrInvalidWidth = spectrum.ErrInvalidWidth

	// ErrInvalidOrder is generated for a Savitzky-Golay or baseline order out of range
	ErrInvalidOrder = spectrum.ErrInvalidOrder
)

// Unit is the unit of a Result's values
type Unit string

const (
	// Counts are raw ADC counts, possibly dark subtracted and smoothed
	Counts Unit = "counts"

	// Reflectance is a percentage of the reference spectrum, in [0, 100]
	Reflectance Unit = "reflectance"

	// Normalized values are min-max scaled to [0, 1]
	Normalized Unit = "normalized"
)

// Spectrometer is the source of raw scans
type Spectrometer interface {
	// Scan takes one spectrum
	Scan() ([]uint16, error)

	// WavelengthRange returns the first and last wavelength of the axis, nm
	WavelengthRange() (float64, float64)
}

// Sink consumes finished results, for plotting or saving
type Sink interface {
	Accept(Result) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(Result) error

// Accept calls f(r)
func (f SinkFunc) Accept(r Result) error {
	return f(r)
}

// Options control a single acquisition
type Options struct {
	// Scans is the number of scans to average.  Zero is DefaultScans.
	Scans int `json:"scans" koanf:"scans" yaml:"scans"`

	// BoxcarWidth is the odd smoothing width.  Zero is DefaultBoxcarWidth, 1 disables smoothing.
	BoxcarWidth int `json:"boxcar" koanf:"boxcar" yaml:"boxcar"`

	// SavGolWindow is the odd Savitzky-Golay window applied after the
	// corrections.  Zero disables the filter.
	SavGolWindow int `json:"savgolWindow" koanf:"savgolwindow" yaml:"savgolWindow"`

	// SavGolOrder is the polynomial order of the Savitzky-Golay filter
	SavGolOrder int `json:"savgolOrder" koanf:"savgolorder" yaml:"savgolOrder"`

	// BaselineDegree is the degree of the polynomial baseline removed after
	// the corrections.  Zero disables baseline removal.
	BaselineDegree int `json:"baselineDegree" koanf:"baselinedegree" yaml:"baselineDegree"`

	// Normalize min-max scales the final values to [0, 1]
	Normalize bool `json:"normalize" koanf:"normalize" yaml:"normalize"`
}

func (o Options) withDefaults() Options {
	if o.Scans <= 0 {
		o.Scans = DefaultScans
	}
	if o.BoxcarWidth == 0 {
		o.BoxcarWidth = DefaultBoxcarWidth
	}
	return o
}

// Validate checks the widths and orders of o after defaults are applied
func (o Options) Validate() error {
	o = o.withDefaults()
	if o.BoxcarWidth < 1 || o.BoxcarWidth%2 == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, o.BoxcarWidth)
	}
	if o.SavGolWindow != 0 {
		if err := spectrum.ValidSavGol(o.SavGolWindow, o.SavGolOrder); err != nil {
			return err
		}
	}
	if o.BaselineDegree < 0 {
		return fmt.Errorf("%w: baseline degree %d", ErrInvalidOrder, o.BaselineDegree)
	}
	return nil
}

// Result is one finished spectrum
type Result struct {
	Wavelengths []float64      `json:"wavelengths"`
	Values      []float64      `json:"values"`
	Unit        Unit           `json:"unit"`
	Scans       int            `json:"scans"`
	Requested   int            `json:"requested"`
	Warnings    []string       `json:"warnings,omitempty"`
	Stats       spectrum.Stats `json:"stats"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Pipeline acquires and corrects spectra
type Pipeline struct {
	Store  *Store
	Logger zerolog.Logger

	axis spectrum.Axis
}

// New returns a Pipeline over store.  A nil store gets an empty one.
func New(store *Store, logger zerolog.Logger) *Pipeline {
	if store == nil {
		store = &Store{}
	}
	return &Pipeline{Store: store, Logger: logger}
}

// collect takes n scans, dropping any that fail
func (p *Pipeline) collect(s Spectrometer, n int) ([][]uint16, error) {
	scans := make([][]uint16, 0, n)
	for i := 0; i < n; i++ {
		px, err := s.Scan()
		if err != nil {
			p.Logger.Warn().Err(err).Int("scan", i+1).Int("of", n).Msg("dropping scan")
			continue
		}
		scans = append(scans, px)
	}
	if len(scans) == 0 {
		p.Logger.Error().Int("requested", n).Msg("every scan failed")
		return nil, fmt.Errorf("%w: 0 of %d", ErrAcquisitionFailed, n)
	}
	return scans, nil
}

func (p *Pipeline) wavelengths(s Spectrometer, n int) []float64 {
	p.axis.Start, p.axis.End = s.WavelengthRange()
	return clone(p.axis.For(n))
}

// warn appends a warning to the result and logs it
func (p *Pipeline) warn(r *Result, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	p.Logger.Warn().Msg(msg)
	r.Warnings = append(r.Warnings, msg)
}

func saturated(scans [][]uint16) bool {
	for _, s := range scans {
		for _, v := range s {
			if v >= spectrum.SaturationCounts {
				return true
			}
		}
	}
	return false
}

// Acquire takes o.Scans scans and runs them through the correction sequence
func (p *Pipeline) Acquire(s Spectrometer, o Options) (Result, error) {
	if err := o.Validate(); err != nil {
		return Result{}, err
	}
	o = o.withDefaults()
	res := Result{Unit: Counts, Requested: o.Scans, Timestamp: time.Now()}
	scans, err := p.collect(s, o.Scans)
	if err != nil {
		return Result{}, err
	}
	res.Scans = len(scans)
	if res.Scans < o.Scans {
		p.warn(&res, "%d of %d scans failed", o.Scans-res.Scans, o.Scans)
	}
	avg, err := spectrum.Average(scans)
	if err != nil {
		return Result{}, err
	}
	sat := saturated(scans)
	if sat {
		p.warn(&res, "spectrum is saturated, reduce the integration time")
	}
	if raw := spectrum.Summarize(avg); raw.Blank {
		p.warn(&res, "all intensities are zero, check the light path")
	}
	res.Wavelengths = p.wavelengths(s, len(avg))

	values := avg
	if p.Store.DarkEnabled() {
		if dark, ok := p.Store.Dark(); ok {
			corrected, err := spectrum.SubtractDark(values, dark)
			if err != nil {
				p.warn(&res, "dark not applied: %v", err)
			} else {
				values = corrected
			}
		}
	}

	values, err = spectrum.Boxcar(values, o.BoxcarWidth)
	if err != nil {
		return Result{}, err
	}

	if p.Store.ReferenceEnabled() {
		if ref, ok := p.Store.Reference(); ok {
			refl, err := spectrum.Reflectance(values, ref)
			if err != nil {
				p.warn(&res, "reference not applied: %v", err)
			} else {
				values = refl
				res.Unit = Reflectance
			}
		}
	}

	res.Values = p.postprocess(&res, values, o)
	res.Stats = spectrum.Summarize(res.Values)
	res.Stats.Saturated = sat
	p.Logger.Debug().Int("scans", res.Scans).Int("pixels", len(values)).Str("unit", string(res.Unit)).Msg("acquired")
	return res, nil
}

// postprocess runs the optional steps selected in o.  A step the spectrum is
// too short for is skipped with a warning.
func (p *Pipeline) postprocess(res *Result, values []float64, o Options) []float64 {
	if o.BaselineDegree > 0 {
		out, err := spectrum.SubtractBaseline(values, o.BaselineDegree)
		if err != nil {
			p.warn(res, "baseline not removed: %v", err)
		} else {
			values = out
		}
	}
	if o.SavGolWindow > 0 {
		out, err := spectrum.SavGol(values, o.SavGolWindow, o.SavGolOrder)
		if err != nil {
			p.warn(res, "Savitzky-Golay not applied: %v", err)
		} else {
			values = out
		}
	}
	if o.Normalize {
		values = spectrum.MinMax(values)
		res.Unit = Normalized
	}
	return values
}

// CaptureDark averages n scans (DefaultDarkScans if n is zero) and stores
// the result as the dark spectrum.  No correction is applied.
func (p *Pipeline) CaptureDark(s Spectrometer, n int) (Result, error) {
	if n <= 0 {
		n = DefaultDarkScans
	}
	res := Result{Unit: Counts, Requested: n, Timestamp: time.Now()}
	scans, err := p.collect(s, n)
	if err != nil {
		return Result{}, err
	}
	res.Scans = len(scans)
	if res.Scans < n {
		p.warn(&res, "%d of %d scans failed", n-res.Scans, n)
	}
	avg, err := spectrum.Average(scans)
	if err != nil {
		return Result{}, err
	}
	p.Store.SetDark(avg)
	res.Values = avg
	res.Wavelengths = p.wavelengths(s, len(avg))
	res.Stats = spectrum.Summarize(avg)
	p.Logger.Info().Int("scans", res.Scans).Int("pixels", len(avg)).Msg("dark captured")
	return res, nil
}

// CaptureReference averages n scans (DefaultReferenceScans if n is zero) and
// stores the result as the reference spectrum.  When a dark of the same
// length is stored, it is subtracted from each scan first.
func (p *Pipeline) CaptureReference(s Spectrometer, n int) (Result, error) {
	if n <= 0 {
		n = DefaultReferenceScans
	}
	res := Result{Unit: Counts, Requested: n, Timestamp: time.Now()}
	scans, err := p.collect(s, n)
	if err != nil {
		return Result{}, err
	}
	res.Scans = len(scans)
	if res.Scans < n {
		p.warn(&res, "%d of %d scans failed", n-res.Scans, n)
	}

	dark, haveDark := p.Store.Dark()
	subtract := haveDark && len(dark) == len(scans[0])
	if haveDark && !subtract {
		p.warn(&res, "dark not applied to reference: dark has %d pixels, scans have %d", len(dark), len(scans[0]))
	}
	floats := make([][]float64, len(scans))
	for i, sc := range scans {
		f := spectrum.ToFloat(sc)
		if subtract && len(f) == len(dark) {
			f, _ = spectrum.SubtractDark(f, dark)
		}
		floats[i] = f
	}
	avg, err := spectrum.AverageFloat(floats)
	if err != nil {
		return Result{}, err
	}
	p.Store.SetReference(avg)
	res.Values = avg
	res.Wavelengths = p.wavelengths(s, len(avg))
	res.Stats = spectrum.Summarize(avg)
	p.Logger.Info().Int("scans", res.Scans).Int("pixels", len(avg)).Bool("darkSubtracted", subtract).Msg("reference captured")
	return res, nil
}
