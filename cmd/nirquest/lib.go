package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/nasa-jpl/nirquest/acquisition"
	"github.com/nasa-jpl/nirquest/oceanoptics"
	"github.com/nasa-jpl/nirquest/spectrum"
	"github.com/nasa-jpl/nirquest/spectrumfile"
	"github.com/nasa-jpl/nirquest/usbbulk"
	"github.com/rs/zerolog"
	"github.com/theckman/yacspin"
)

// common holds the flags every subcommand takes
type common struct {
	mock     bool
	quiet    bool
	timeout  time.Duration
	tint     time.Duration
	scans    int
	out      string
	darkFn   string
	fixPixel bool
}

func (c *common) register(fs *flag.FlagSet, scans int) {
	fs.BoolVar(&c.mock, "mock", false, "use a simulated NIRQuest512 instead of USB")
	fs.BoolVar(&c.quiet, "quiet", false, "do not show a progress spinner")
	fs.DurationVar(&c.timeout, "timeout", 2*time.Second, "USB transfer timeout")
	fs.DurationVar(&c.tint, "t", 0, "integration time, e.g. 10ms; device default if zero")
	fs.IntVar(&c.scans, "scans", scans, "number of scans to average")
	fs.StringVar(&c.out, "o", "", "output file, .csv or .fits; CSV to stdout if empty")
	fs.BoolVar(&c.fixPixel, "first-pixel-fix", false, "copy pixel 0 over pixel 1")
}

// session is an open spectrometer and its pipeline
type session struct {
	dev     *oceanoptics.Device
	p       *acquisition.Pipeline
	release func()
}

func open(c common, logger zerolog.Logger) (*session, error) {
	var (
		t       oceanoptics.Transport
		closeFn = func() {}
	)
	if c.mock {
		m, _ := oceanoptics.DefaultCatalog.Lookup(0x1026)
		t = &oceanoptics.MockTransport{Handles: []*oceanoptics.MockHandle{oceanoptics.NewMockSpectrometer(m)}}
	} else {
		bus := usbbulk.New(c.timeout)
		t = bus
		closeFn = func() { bus.Close() }
	}
	prof, err := oceanoptics.Discover(t)
	if err != nil {
		closeFn()
		return nil, err
	}
	b, ok := prof.(*oceanoptics.Bound)
	if !ok {
		closeFn()
		return nil, errors.New("an Ocean Optics device is attached, but its model is not supported")
	}
	s := &session{
		dev: oceanoptics.NewDevice(b),
		p:   acquisition.New(nil, logger),
		release: func() {
			oceanoptics.Release(b)
			closeFn()
		},
	}
	s.dev.FirstPixelFix = c.fixPixel
	if err = s.dev.Initialize(); err != nil {
		s.release()
		return nil, err
	}
	if c.tint > 0 {
		if err = s.dev.SetIntegrationTime(c.tint); err != nil {
			s.release()
			return nil, err
		}
	}
	return s, nil
}

// spin runs fcn behind a spinner on w unless quiet
func spin(w io.Writer, quiet bool, msg string, fcn func() error) error {
	if quiet {
		return fcn()
	}
	sp, err := yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return fcn()
	}
	sp.Start()
	err = fcn()
	if err != nil {
		sp.StopFailMessage(err.Error())
		sp.StopFail()
		return err
	}
	sp.Stop()
	return nil
}

func warnAll(w io.Writer, warnings []string) {
	warn := color.New(color.FgYellow).FprintfFunc()
	for _, s := range warnings {
		warn(w, "warning: %s\n", s)
	}
}

func loadSpectrum(fn string) ([]float64, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rec, err := spectrumfile.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	return rec.Values, nil
}

// save writes res to fn, or to stdout as CSV if fn is empty
func save(fn string, stdout io.Writer, res acquisition.Result, model string) error {
	rec := spectrumfile.FromResult(res, spectrumfile.Field{Key: "Model", Value: model})
	if fn == "" {
		return spectrumfile.WriteCSV(stdout, rec)
	}
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(fn), ".fits") {
		err = spectrumfile.WriteFITS(f, rec)
	} else {
		err = spectrumfile.WriteCSV(f, rec)
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: color.NoColor}).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

// Acquire takes one corrected spectrum
func Acquire(args []string, stdout, stderr io.Writer) error {
	var (
		c       common
		o       acquisition.Options
		refFn   string
		useDark bool
	)
	fs := flag.NewFlagSet("acquire", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c.register(fs, acquisition.DefaultScans)
	fs.IntVar(&o.BoxcarWidth, "boxcar", acquisition.DefaultBoxcarWidth, "odd boxcar width, 1 disables smoothing")
	fs.IntVar(&o.SavGolWindow, "savgol", 0, "odd Savitzky-Golay window, 0 disables")
	fs.IntVar(&o.SavGolOrder, "savgol-order", spectrum.DefaultSavGolOrder, "Savitzky-Golay polynomial order")
	fs.IntVar(&o.BaselineDegree, "baseline", 0, "degree of the polynomial baseline to remove, 0 disables")
	fs.BoolVar(&o.Normalize, "normalize", false, "min-max scale the spectrum to [0, 1]")
	fs.StringVar(&c.darkFn, "dark", "", "dark spectrum CSV to subtract")
	fs.StringVar(&refFn, "reference", "", "reference spectrum CSV; output is reflectance if given")
	if err := fs.Parse(args); err != nil {
		return err
	}
	o.Scans = c.scans
	if err := o.Validate(); err != nil {
		return err
	}
	s, err := open(c, newLogger(stderr))
	if err != nil {
		return err
	}
	defer s.release()

	if c.darkFn != "" {
		dark, err := loadSpectrum(c.darkFn)
		if err != nil {
			return err
		}
		s.p.Store.SetDark(dark)
		useDark = true
	}
	s.p.Store.SetDarkEnabled(useDark)
	if refFn != "" {
		ref, err := loadSpectrum(refFn)
		if err != nil {
			return err
		}
		s.p.Store.SetReference(ref)
		s.p.Store.SetReferenceEnabled(true)
	}

	var res acquisition.Result
	err = spin(stderr, c.quiet, fmt.Sprintf("acquiring %d scans", c.scans), func() error {
		var err error
		res, err = s.p.Acquire(s.dev, o)
		return err
	})
	if err != nil {
		return err
	}
	warnAll(stderr, res.Warnings)
	return save(c.out, stdout, res, s.dev.Model().Name)
}

// capture is dark or reference
func capture(name string, dflt int, args []string, stdout, stderr io.Writer) error {
	var c common
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	c.register(fs, dflt)
	if name == "reference" {
		fs.StringVar(&c.darkFn, "dark", "", "dark spectrum CSV to subtract from each scan")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := open(c, newLogger(stderr))
	if err != nil {
		return err
	}
	defer s.release()
	if c.darkFn != "" {
		dark, err := loadSpectrum(c.darkFn)
		if err != nil {
			return err
		}
		s.p.Store.SetDark(dark)
	}

	var res acquisition.Result
	err = spin(stderr, c.quiet, fmt.Sprintf("capturing %s, %d scans", name, c.scans), func() error {
		var err error
		if name == "dark" {
			res, err = s.p.CaptureDark(s.dev, c.scans)
		} else {
			res, err = s.p.CaptureReference(s.dev, c.scans)
		}
		return err
	})
	if err != nil {
		return err
	}
	warnAll(stderr, res.Warnings)
	return save(c.out, stdout, res, s.dev.Model().Name)
}

// Info prints the model and serial number of the attached spectrometer
func Info(args []string, stdout, stderr io.Writer) error {
	var c common
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	fs.SetOutput(stderr)
	c.register(fs, 1)
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := open(c, newLogger(stderr))
	if err != nil {
		return err
	}
	defer s.release()
	m := s.dev.Model()
	serial, err := s.dev.QueryInfo(0)
	if err != nil {
		color.New(color.FgYellow).Fprintf(stderr, "warning: serial number unavailable: %v\n", err)
	}
	fmt.Fprintf(stdout, "model:       %s\n", m.Name)
	fmt.Fprintf(stdout, "product id:  0x%04X\n", s.dev.Profile.ProductID())
	fmt.Fprintf(stdout, "serial:      %s\n", serial)
	fmt.Fprintf(stdout, "pixels:      %d\n", m.Pixels())
	fmt.Fprintf(stdout, "wavelengths: %g-%g nm\n", m.WavelengthStart, m.WavelengthEnd)
	return nil
}
