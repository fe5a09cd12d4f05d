package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nasa-jpl/nirquest/acquisition"
	"github.com/nasa-jpl/nirquest/generichttp"
	"github.com/nasa-jpl/nirquest/generichttp/spectrometer"
	"github.com/nasa-jpl/nirquest/oceanoptics"
	"github.com/nasa-jpl/nirquest/server/middleware/locker"
	"github.com/nasa-jpl/nirquest/spectrum"
	"github.com/nasa-jpl/nirquest/spectrumfile"
	"github.com/nasa-jpl/nirquest/usbbulk"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes environment variables that override the config file,
// e.g. NIRQUEST_ACQUISITION_SCANS=10
const EnvPrefix = "NIRQUEST_"

// AcquisitionConfig holds the acquisition settings applied at startup
type AcquisitionConfig struct {
	// Scans is the number of scans averaged per spectrum
	Scans int `koanf:"Scans" yaml:"Scans"`

	// BoxcarWidth is the odd smoothing width, 1 disables smoothing
	BoxcarWidth int `koanf:"BoxcarWidth" yaml:"BoxcarWidth"`

	// SavGolWindow turns on Savitzky-Golay smoothing of order SavGolOrder when nonzero
	SavGolWindow int `koanf:"SavGolWindow" yaml:"SavGolWindow"`
	SavGolOrder  int `koanf:"SavGolOrder" yaml:"SavGolOrder"`

	// BaselineDegree turns on polynomial baseline removal when nonzero
	BaselineDegree int `koanf:"BaselineDegree" yaml:"BaselineDegree"`

	// Normalize min-max scales spectra to [0, 1]
	Normalize bool `koanf:"Normalize" yaml:"Normalize"`

	DarkCorrection      bool `koanf:"DarkCorrection" yaml:"DarkCorrection"`
	ReferenceCorrection bool `koanf:"ReferenceCorrection" yaml:"ReferenceCorrection"`

	// IntegrationTime is sent to the device at startup if nonzero
	IntegrationTime time.Duration `koanf:"IntegrationTime" yaml:"IntegrationTime"`

	// Interval is the minimum time between continuous acquisitions
	Interval time.Duration `koanf:"Interval" yaml:"Interval"`

	DarkScans      int `koanf:"DarkScans" yaml:"DarkScans"`
	ReferenceScans int `koanf:"ReferenceScans" yaml:"ReferenceScans"`
}

func (a AcquisitionConfig) options() acquisition.Options {
	return acquisition.Options{
		Scans:          a.Scans,
		BoxcarWidth:    a.BoxcarWidth,
		SavGolWindow:   a.SavGolWindow,
		SavGolOrder:    a.SavGolOrder,
		BaselineDegree: a.BaselineDegree,
		Normalize:      a.Normalize,
	}
}

// RecorderConfig holds the auto-save settings
type RecorderConfig struct {
	// Root is the root folder to write to
	Root string `koanf:"Root" yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `koanf:"Prefix" yaml:"Prefix"`

	// Format is csv or fits
	Format string `koanf:"Format" yaml:"Format"`

	Enabled bool `koanf:"Enabled" yaml:"Enabled"`
}

// Config is the server configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Endpoint is the URL stem the spectrometer is served on, e.g. "nir"
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`

	// Mock replaces the USB bus with a simulated spectrometer of model MockModel
	Mock      bool   `koanf:"Mock" yaml:"Mock"`
	MockModel string `koanf:"MockModel" yaml:"MockModel"`

	// Timeout bounds every USB transfer
	Timeout time.Duration `koanf:"Timeout" yaml:"Timeout"`

	// FirstPixelFix copies pixel 0 over pixel 1 of every scan
	FirstPixelFix bool `koanf:"FirstPixelFix" yaml:"FirstPixelFix"`

	// LogLevel is a zerolog level name
	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`

	Acquisition AcquisitionConfig `koanf:"Acquisition" yaml:"Acquisition"`
	Recorder    RecorderConfig    `koanf:"Recorder" yaml:"Recorder"`
}

// DefaultConfig is the configuration used for any value not in the file or environment
func DefaultConfig() Config {
	return Config{
		Addr:      ":8000",
		Endpoint:  "nir",
		MockModel: "NIRQuest512",
		Timeout:   2 * time.Second,
		LogLevel:  "info",
		Acquisition: AcquisitionConfig{
			Scans:           acquisition.DefaultScans,
			BoxcarWidth:     acquisition.DefaultBoxcarWidth,
			SavGolOrder:     spectrum.DefaultSavGolOrder,
			IntegrationTime: 10 * time.Millisecond,
			Interval:        250 * time.Millisecond,
			DarkScans:       acquisition.DefaultDarkScans,
			ReferenceScans:  acquisition.DefaultReferenceScans,
		},
		Recorder: RecorderConfig{
			Root:   ".",
			Prefix: "nir",
			Format: string(spectrumfile.CSV),
		},
	}
}

// LoadConfig layers defaults, the config file, and NIRQUEST_ environment
// variables into a koanf instance.  A missing file is not an error.
func LoadConfig(fn string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(fn), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			return k, fmt.Errorf("error loading config: %w", err)
		}
	}

	// env vars are upper case, config keys are not; map them back
	keys := map[string]string{}
	for _, key := range k.Keys() {
		keys[strings.ToLower(key)] = key
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "_", "."))
		if canon, ok := keys[key]; ok {
			return canon
		}
		return key
	}), nil)
	return k, err
}

// Unmarshal decodes a koanf instance into a Config
func Unmarshal(k *koanf.Koanf) (Config, error) {
	c := Config{}
	err := k.Unmarshal("", &c)
	return c, err
}

// NewLogger returns a console logger at the named level, info if the name is not understood
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

// Transport returns the USB bus, or a simulated one if c.Mock is set.  The
// returned function releases the bus.
func Transport(c Config) (oceanoptics.Transport, func(), error) {
	if !c.Mock {
		bus := usbbulk.New(c.Timeout)
		return bus, func() { bus.Close() }, nil
	}
	for _, m := range oceanoptics.DefaultCatalog.Models() {
		if strings.EqualFold(m.Name, c.MockModel) {
			t := &oceanoptics.MockTransport{Handles: []*oceanoptics.MockHandle{oceanoptics.NewMockSpectrometer(m)}}
			return t, func() {}, nil
		}
	}
	return nil, nil, fmt.Errorf("mock model %q is not in the catalog", c.MockModel)
}

// Open discovers the spectrometer on t and prepares it per c
func Open(t oceanoptics.Transport, c Config) (*oceanoptics.Device, error) {
	prof, err := oceanoptics.Discover(t)
	if err != nil {
		return nil, err
	}
	b, ok := prof.(*oceanoptics.Bound)
	if !ok {
		return nil, errors.New("an Ocean Optics device is attached, but its model is not supported")
	}
	dev := oceanoptics.NewDevice(b)
	dev.FirstPixelFix = c.FirstPixelFix
	if err = dev.Initialize(); err != nil {
		oceanoptics.Release(b)
		return nil, err
	}
	if c.Acquisition.IntegrationTime > 0 {
		if err = dev.SetIntegrationTime(c.Acquisition.IntegrationTime); err != nil {
			oceanoptics.Release(b)
			return nil, err
		}
	}
	return dev, nil
}

// Server is everything the HTTP interface is built from
type Server struct {
	HTTP     *spectrometer.HTTPSpectrometer
	Runner   *acquisition.Runner
	Recorder *spectrumfile.Recorder
	Lock     *locker.Locker
}

// NewServer wires a device into a pipeline, runner, recorder and HTTP wrapper
func NewServer(dev spectrometer.Spectrometer, c Config, logger zerolog.Logger) *Server {
	a := c.Acquisition
	store := &acquisition.Store{}
	store.SetDarkEnabled(a.DarkCorrection)
	store.SetReferenceEnabled(a.ReferenceCorrection)
	p := acquisition.New(store, logger)

	rec := &spectrumfile.Recorder{
		Root:    c.Recorder.Root,
		Prefix:  c.Recorder.Prefix,
		Format:  spectrumfile.Format(strings.ToLower(c.Recorder.Format)),
		Enabled: c.Recorder.Enabled,
	}
	run := acquisition.NewRunner(p, dev, a.Interval)
	run.Sink = rec

	l := locker.New()
	l.DoNotProtect = spectrometer.Unprotected()
	h := spectrometer.NewHTTPSpectrometer(dev, p, run, l, a.options())
	if a.DarkScans > 0 {
		h.DarkScans = a.DarkScans
	}
	if a.ReferenceScans > 0 {
		h.ReferenceScans = a.ReferenceScans
	}
	spectrumfile.NewHTTPWrapper(rec).Inject(h)
	locker.Inject(h, l)
	return &Server{HTTP: h, Runner: run, Recorder: rec, Lock: l}
}

// Reconfigure applies the acquisition options and correction flags of c to a running server
func (s *Server) Reconfigure(c Config) error {
	a := c.Acquisition
	if err := s.HTTP.SetScans(a.Scans); err != nil {
		return err
	}
	if err := s.HTTP.SetBoxcar(a.BoxcarWidth); err != nil {
		return err
	}
	if err := s.HTTP.SetProcessing(a.SavGolWindow, a.SavGolOrder, a.BaselineDegree, a.Normalize); err != nil {
		return err
	}
	store := s.HTTP.Pipeline.Store
	store.SetDarkEnabled(a.DarkCorrection)
	store.SetReferenceEnabled(a.ReferenceCorrection)
	s.Recorder.SetEnabled(c.Recorder.Enabled)
	return nil
}

// BuildMux mounts the server's routes under c.Endpoint, behind the lock, on a
// chi router.  The router also serves /endpoints, a JSON listing of the routes.
func BuildMux(c Config, s *Server) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	stem := generichttp.SubMuxSanitize(c.Endpoint)
	graph := map[string][]string{stem: s.HTTP.RT().Endpoints()}

	r := chi.NewRouter()
	r.Use(s.Lock.Check)
	s.HTTP.RT().Bind(r)
	root.Mount(stem, r)

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(graph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
