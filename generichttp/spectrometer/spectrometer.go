/*Package spectrometer provides an HTTP interface to a spectrometer and its
correction pipeline.

Routes that talk to the device or change the correction store take the
locker without waiting and return 423 (locked) if another acquisition holds
it.  Routes that only read or change acquisition options do not.
*/
package spectrometer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nasa-jpl/nirquest/acquisition"
	"github.com/nasa-jpl/nirquest/generichttp"
	"github.com/nasa-jpl/nirquest/oceanoptics"
	"github.com/nasa-jpl/nirquest/server/middleware/locker"
	"github.com/nasa-jpl/nirquest/spectrumfile"
	"github.com/rs/zerolog"
)

// Spectrometer is a device that can take spectra and set its integration time
type Spectrometer interface {
	acquisition.Spectrometer

	SetIntegrationTime(time.Duration) error
	GetIntegrationTime() (time.Duration, error)
}

// Identifier is a spectrometer that knows its model
type Identifier interface {
	Model() oceanoptics.ModelProfile
}

var (
	// ErrInvalidScans is generated for a scan count less than one
	ErrInvalidScans = errors.New("scan count must be at least 1")

	// ErrInvalidQuery is generated for a query parameter that does not parse
	ErrInvalidQuery = errors.New("invalid query parameter")
)

// modelInfo is the JSON form of a model profile
type modelInfo struct {
	Name            string   `json:"name"`
	ProductIDs      []uint16 `json:"productIDs"`
	Pixels          int      `json:"pixels"`
	WavelengthStart float64  `json:"wavelengthStart"`
	WavelengthEnd   float64  `json:"wavelengthEnd"`
}

// HTTPSpectrometer wraps a spectrometer, pipeline and continuous runner in an HTTP route table
type HTTPSpectrometer struct {
	Spec     Spectrometer
	Pipeline *acquisition.Pipeline
	Runner   *acquisition.Runner
	Lock     *locker.Locker
	Logger   zerolog.Logger

	// DarkScans and ReferenceScans are the number of scans averaged by the
	// capture routes when the request does not say
	DarkScans, ReferenceScans int

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable

	mu   sync.Mutex
	opts acquisition.Options
}

// NewHTTPSpectrometer returns a new HTTP wrapper.  The runner, if not nil, is
// given the wrapper's options and lock.
func NewHTTPSpectrometer(spec Spectrometer, p *acquisition.Pipeline, run *acquisition.Runner, l *locker.Locker, opts acquisition.Options) *HTTPSpectrometer {
	if opts.Scans == 0 {
		opts.Scans = acquisition.DefaultScans
	}
	if opts.BoxcarWidth == 0 {
		opts.BoxcarWidth = acquisition.DefaultBoxcarWidth
	}
	h := &HTTPSpectrometer{
		Spec:           spec,
		Pipeline:       p,
		Runner:         run,
		Lock:           l,
		Logger:         p.Logger,
		DarkScans:      acquisition.DefaultDarkScans,
		ReferenceScans: acquisition.DefaultReferenceScans,
		opts:           opts,
	}
	if run != nil {
		run.Options = h.Options
		if l != nil {
			run.Lock = l
		}
	}
	store := p.Store
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/spectrum"}: h.exclusive(h.Acquire),
		{Method: http.MethodGet, Path: "/latest"}:   h.Latest,

		{Method: http.MethodPost, Path: "/dark"}:        h.exclusive(h.CaptureDark),
		{Method: http.MethodPost, Path: "/reference"}:   h.exclusive(h.CaptureReference),
		{Method: http.MethodDelete, Path: "/dark"}:      h.exclusive(clearer(store.ClearDark)),
		{Method: http.MethodDelete, Path: "/reference"}: h.exclusive(clearer(store.ClearReference)),

		{Method: http.MethodGet, Path: "/dark-correction"}:       generichttp.GetBool(boolGetter(store.DarkEnabled)),
		{Method: http.MethodPost, Path: "/dark-correction"}:      h.exclusive(generichttp.SetBool(boolSetter(store.SetDarkEnabled))),
		{Method: http.MethodGet, Path: "/reference-correction"}:  generichttp.GetBool(boolGetter(store.ReferenceEnabled)),
		{Method: http.MethodPost, Path: "/reference-correction"}: h.exclusive(generichttp.SetBool(boolSetter(store.SetReferenceEnabled))),

		{Method: http.MethodGet, Path: "/boxcar"}:  generichttp.GetInt(h.GetBoxcar),
		{Method: http.MethodPost, Path: "/boxcar"}: generichttp.SetInt(h.SetBoxcar),
		{Method: http.MethodGet, Path: "/scans"}:   generichttp.GetInt(h.GetScans),
		{Method: http.MethodPost, Path: "/scans"}:  generichttp.SetInt(h.SetScans),

		{Method: http.MethodGet, Path: "/savgol-window"}:    generichttp.GetInt(h.GetSavGolWindow),
		{Method: http.MethodPost, Path: "/savgol-window"}:   generichttp.SetInt(h.SetSavGolWindow),
		{Method: http.MethodGet, Path: "/savgol-order"}:     generichttp.GetInt(h.GetSavGolOrder),
		{Method: http.MethodPost, Path: "/savgol-order"}:    generichttp.SetInt(h.SetSavGolOrder),
		{Method: http.MethodGet, Path: "/baseline-degree"}:  generichttp.GetInt(h.GetBaselineDegree),
		{Method: http.MethodPost, Path: "/baseline-degree"}: generichttp.SetInt(h.SetBaselineDegree),
		{Method: http.MethodGet, Path: "/normalize"}:        generichttp.GetBool(h.GetNormalize),
		{Method: http.MethodPost, Path: "/normalize"}:       generichttp.SetBool(h.SetNormalize),

		{Method: http.MethodGet, Path: "/integration-time"}:  generichttp.GetFloat(h.GetIntegrationTime),
		{Method: http.MethodPost, Path: "/integration-time"}: h.exclusive(generichttp.SetFloat(h.SetIntegrationTime)),
	}
	if run != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/continuous"}] = generichttp.GetBool(func() (bool, error) { return run.Running(), nil })
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/continuous"}] = generichttp.SetBool(h.SetContinuous)
	}
	if id, ok := spec.(Identifier); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/model"}] = GetModel(id)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h *HTTPSpectrometer) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Unprotected lists the routes that do not need the lock, for use as
// locker.Locker.DoNotProtect
func Unprotected() []string {
	return []string{"lock", "latest", "continuous", "model", "boxcar", "scans", "savgol", "baseline", "normalize", "autowrite"}
}

func boolGetter(fcn func() bool) func() (bool, error) {
	return func() (bool, error) { return fcn(), nil }
}

func boolSetter(fcn func(bool)) func(bool) error {
	return func(b bool) error { fcn(b); return nil }
}

func clearer(fcn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fcn()
		w.WriteHeader(http.StatusOK)
	}
}

// exclusive runs next only if the lock is free, otherwise it returns 423
func (h *HTTPSpectrometer) exclusive(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Lock != nil {
			if !h.Lock.TryLock() {
				http.Error(w, "spectrometer busy", http.StatusLocked)
				return
			}
			defer h.Lock.Unlock()
		}
		next(w, r)
	}
}

// Options returns the current acquisition options
func (h *HTTPSpectrometer) Options() acquisition.Options {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts
}

// GetBoxcar returns the boxcar width
func (h *HTTPSpectrometer) GetBoxcar() (int, error) {
	return h.Options().BoxcarWidth, nil
}

// SetBoxcar sets the boxcar width, which must be odd and positive
func (h *HTTPSpectrometer) SetBoxcar(width int) error {
	if width < 1 || width%2 == 0 {
		return fmt.Errorf("%w: %d", acquisition.ErrInvalidWidth, width)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts.BoxcarWidth = width
	return nil
}

// GetScans returns the number of scans averaged per acquisition
func (h *HTTPSpectrometer) GetScans() (int, error) {
	return h.Options().Scans, nil
}

// SetScans sets the number of scans averaged per acquisition
func (h *HTTPSpectrometer) SetScans(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidScans, n)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts.Scans = n
	return nil
}

// setOpts applies fcn to a copy of the options and keeps it if it validates
func (h *HTTPSpectrometer) setOpts(fcn func(*acquisition.Options)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	o := h.opts
	fcn(&o)
	if err := o.Validate(); err != nil {
		return err
	}
	h.opts = o
	return nil
}

// GetSavGolWindow returns the Savitzky-Golay window, zero when smoothing is off
func (h *HTTPSpectrometer) GetSavGolWindow() (int, error) {
	return h.Options().SavGolWindow, nil
}

// SetSavGolWindow sets the Savitzky-Golay window.  Zero turns the filter off;
// otherwise it must be odd and larger than the order.
func (h *HTTPSpectrometer) SetSavGolWindow(window int) error {
	return h.setOpts(func(o *acquisition.Options) { o.SavGolWindow = window })
}

// GetSavGolOrder returns the Savitzky-Golay polynomial order
func (h *HTTPSpectrometer) GetSavGolOrder() (int, error) {
	return h.Options().SavGolOrder, nil
}

// SetSavGolOrder sets the Savitzky-Golay polynomial order
func (h *HTTPSpectrometer) SetSavGolOrder(order int) error {
	if order < 0 {
		return fmt.Errorf("%w: %d", acquisition.ErrInvalidOrder, order)
	}
	return h.setOpts(func(o *acquisition.Options) { o.SavGolOrder = order })
}

// GetBaselineDegree returns the baseline polynomial degree, zero when off
func (h *HTTPSpectrometer) GetBaselineDegree() (int, error) {
	return h.Options().BaselineDegree, nil
}

// SetBaselineDegree sets the baseline polynomial degree
func (h *HTTPSpectrometer) SetBaselineDegree(deg int) error {
	return h.setOpts(func(o *acquisition.Options) { o.BaselineDegree = deg })
}

// GetNormalize returns true if spectra are min-max normalized
func (h *HTTPSpectrometer) GetNormalize() (bool, error) {
	return h.Options().Normalize, nil
}

// SetNormalize turns min-max normalization on or off
func (h *HTTPSpectrometer) SetNormalize(b bool) error {
	return h.setOpts(func(o *acquisition.Options) { o.Normalize = b })
}

// SetProcessing replaces the Savitzky-Golay, baseline and normalization
// settings together, so a new window and order are validated as a pair
func (h *HTTPSpectrometer) SetProcessing(window, order, baseline int, normalize bool) error {
	return h.setOpts(func(o *acquisition.Options) {
		o.SavGolWindow, o.SavGolOrder = window, order
		o.BaselineDegree, o.Normalize = baseline, normalize
	})
}

// GetIntegrationTime returns the integration time in milliseconds
func (h *HTTPSpectrometer) GetIntegrationTime() (float64, error) {
	t, err := h.Spec.GetIntegrationTime()
	return float64(t) / float64(time.Millisecond), err
}

// SetIntegrationTime sets the integration time in milliseconds
func (h *HTTPSpectrometer) SetIntegrationTime(ms float64) error {
	return h.Spec.SetIntegrationTime(time.Duration(ms * float64(time.Millisecond)))
}

// SetContinuous starts or stops continuous acquisition
func (h *HTTPSpectrometer) SetContinuous(b bool) error {
	if b {
		h.Runner.Start(context.Background())
	} else {
		h.Runner.Stop()
	}
	return nil
}

// requestOptions overrides the current options with ?scans=, ?boxcar=,
// ?savgol=, ?baseline= and ?normalize=
func (h *HTTPSpectrometer) requestOptions(r *http.Request) (acquisition.Options, error) {
	o := h.Options()
	q := r.URL.Query()
	if s := q.Get("scans"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return o, fmt.Errorf("%w: %q", ErrInvalidScans, s)
		}
		o.Scans = n
	}
	if s := q.Get("boxcar"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return o, fmt.Errorf("%w: %q", acquisition.ErrInvalidWidth, s)
		}
		o.BoxcarWidth = n
	}
	if s := q.Get("savgol"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return o, fmt.Errorf("%w: %q", acquisition.ErrInvalidWidth, s)
		}
		o.SavGolWindow = n
	}
	if s := q.Get("baseline"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return o, fmt.Errorf("%w: %q", acquisition.ErrInvalidOrder, s)
		}
		o.BaselineDegree = n
	}
	if s := q.Get("normalize"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return o, fmt.Errorf("%w: normalize=%q", ErrInvalidQuery, s)
		}
		o.Normalize = b
	}
	return o, o.Validate()
}

func status(err error) int {
	switch {
	case errors.Is(err, acquisition.ErrInvalidWidth), errors.Is(err, acquisition.ErrInvalidOrder),
		errors.Is(err, ErrInvalidScans), errors.Is(err, ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, oceanoptics.ErrNotBound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respond sends a result as JSON, or as a file with ?fmt=csv or ?fmt=fits
func (h *HTTPSpectrometer) respond(w http.ResponseWriter, r *http.Request, res acquisition.Result) {
	buf := &bytes.Buffer{}
	var (
		err   error
		ctype string
	)
	switch r.URL.Query().Get("fmt") {
	case "csv":
		ctype = "text/csv"
		err = spectrumfile.WriteCSV(buf, spectrumfile.FromResult(res))
	case "fits":
		ctype = "image/fits"
		err = spectrumfile.WriteFITS(buf, spectrumfile.FromResult(res))
	default:
		ctype = "application/json"
		err = json.NewEncoder(buf).Encode(res)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ctype)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Acquire takes a spectrum with the current options, or those in the query,
// publishes it as the latest result, and returns it
func (h *HTTPSpectrometer) Acquire(w http.ResponseWriter, r *http.Request) {
	o, err := h.requestOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.Pipeline.Acquire(h.Spec, o)
	if err != nil {
		h.Logger.Error().Err(err).Msg("acquisition failed")
		http.Error(w, err.Error(), status(err))
		return
	}
	if h.Runner != nil {
		h.Runner.Publish(res)
	}
	h.respond(w, r, res)
}

// Latest returns the most recent result, 404 if there is none
func (h *HTTPSpectrometer) Latest(w http.ResponseWriter, r *http.Request) {
	if h.Runner == nil {
		http.Error(w, "no spectrum acquired yet", http.StatusNotFound)
		return
	}
	res, ok := h.Runner.Latest()
	if !ok {
		http.Error(w, "no spectrum acquired yet", http.StatusNotFound)
		return
	}
	h.respond(w, r, res)
}

func scansOr(r *http.Request, dflt int) (int, error) {
	s := r.URL.Query().Get("scans")
	if s == "" {
		return dflt, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScans, s)
	}
	return n, nil
}

// CaptureDark captures and stores a dark spectrum and returns it
func (h *HTTPSpectrometer) CaptureDark(w http.ResponseWriter, r *http.Request) {
	n, err := scansOr(r, h.DarkScans)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.Pipeline.CaptureDark(h.Spec, n)
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	h.respond(w, r, res)
}

// CaptureReference captures and stores a reference spectrum and returns it
func (h *HTTPSpectrometer) CaptureReference(w http.ResponseWriter, r *http.Request) {
	n, err := scansOr(r, h.ReferenceScans)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.Pipeline.CaptureReference(h.Spec, n)
	if err != nil {
		http.Error(w, err.Error(), status(err))
		return
	}
	h.respond(w, r, res)
}

// GetModel returns the model profile of the spectrometer as JSON
func GetModel(id Identifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := id.Model()
		info := modelInfo{
			Name:            m.Name,
			ProductIDs:      m.ProductIDs,
			Pixels:          m.Pixels(),
			WavelengthStart: m.WavelengthStart,
			WavelengthEnd:   m.WavelengthEnd,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(info)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
