package acquisition

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nasa-jpl/nirquest/oceanoptics"
	"github.com/rs/zerolog"
)

// scripted is a Spectrometer that replays a list of scans and errors
type scripted struct {
	scans [][]uint16
	errs  []error
	n     int
}

func (s *scripted) Scan() ([]uint16, error) {
	i := s.n % len(s.scans)
	s.n++
	if s.errs != nil && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return append([]uint16(nil), s.scans[i]...), nil
}

func (s *scripted) WavelengthRange() (float64, float64) {
	return 900, 1700
}

func constant(n int, v uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func newPipeline() *Pipeline {
	return New(&Store{}, zerolog.Nop())
}

func TestAcquireAllScansFail(t *testing.T) {
	p := newPipeline()
	src := &scripted{scans: [][]uint16{nil}, errs: []error{oceanoptics.ErrTransport}}
	_, err := p.Acquire(src, Options{Scans: 5})
	if !errors.Is(err, ErrAcquisitionFailed) {
		t.Errorf("expected ErrAcquisitionFailed, got %v", err)
	}
	if src.n != 5 {
		t.Errorf("expected all 5 scans to be attempted, got %d", src.n)
	}
}

func TestAcquireDropsFailedScans(t *testing.T) {
	p := newPipeline()
	scans := make([][]uint16, 20)
	errs := make([]error, 20)
	for i := range scans {
		scans[i] = constant(64, 1000)
	}
	scans[3], errs[3] = nil, oceanoptics.ErrTransport
	scans[11], errs[11] = nil, oceanoptics.ErrInvalidPacket
	scans[0] = constant(64, 1900)
	res, err := p.Acquire(&scripted{scans: scans, errs: errs}, Options{Scans: 20, BoxcarWidth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Scans != 18 || res.Requested != 20 {
		t.Errorf("expected 18 of 20 scans, got %d of %d", res.Scans, res.Requested)
	}
	// 17 scans of 1000 and one of 1900, averaged over 18
	if want := (17*1000. + 1900.) / 18; res.Values[10] != want {
		t.Errorf("expected mean over 18 scans %f, got %f", want, res.Values[10])
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning about dropped scans")
	}
}

func TestAcquireInconsistentScanLength(t *testing.T) {
	p := newPipeline()
	src := &scripted{scans: [][]uint16{constant(2048, 1), constant(2047, 1)}}
	_, err := p.Acquire(src, Options{Scans: 2})
	if !errors.Is(err, ErrInconsistentScanLength) {
		t.Errorf("expected ErrInconsistentScanLength, got %v", err)
	}
}

func TestAcquireRejectsEvenBoxcar(t *testing.T) {
	p := newPipeline()
	src := &scripted{scans: [][]uint16{constant(16, 1)}}
	_, err := p.Acquire(src, Options{BoxcarWidth: 4})
	if !errors.Is(err, ErrInvalidWidth) {
		t.Errorf("expected ErrInvalidWidth, got %v", err)
	}
	if src.n != 0 {
		t.Error("expected no scans to be taken with an invalid width")
	}
}

func TestAcquireWavelengthAxisFollowsLength(t *testing.T) {
	p := newPipeline()
	res, err := p.Acquire(&scripted{scans: [][]uint16{constant(512, 5)}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Wavelengths) != 512 || res.Wavelengths[0] != 900 || res.Wavelengths[511] != 1700 {
		t.Errorf("bad 512 point axis: len %d", len(res.Wavelengths))
	}
	res, err = p.Acquire(&scripted{scans: [][]uint16{constant(256, 5)}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Wavelengths) != 256 || res.Wavelengths[255] != 1700 {
		t.Errorf("expected axis to be regenerated for 256 pixels, got %d", len(res.Wavelengths))
	}
}

func TestAcquireDarkSubtraction(t *testing.T) {
	p := newPipeline()
	p.Store.SetDark(ramp(8, 0, 100))
	p.Store.SetDarkEnabled(true)
	res, err := p.Acquire(&scripted{scans: [][]uint16{constant(8, 300)}}, Options{BoxcarWidth: 1})
	if err != nil {
		t.Fatal(err)
	}
	expected := []float64{300, 200, 100, 0, 0, 0, 0, 0}
	if diff := cmp.Diff(expected, res.Values); diff != "" {
		t.Errorf("dark subtraction mismatch (-want +got):\n%s", diff)
	}
	if res.Unit != Counts {
		t.Errorf("expected unit counts, got %s", res.Unit)
	}
}

func TestAcquireDarkLengthMismatchIsWarning(t *testing.T) {
	p := newPipeline()
	p.Store.SetDark(make([]float64, 7))
	p.Store.SetDarkEnabled(true)
	res, err := p.Acquire(&scripted{scans: [][]uint16{constant(8, 300)}}, Options{BoxcarWidth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Values[0] != 300 {
		t.Errorf("expected uncorrected values, got %f", res.Values[0])
	}
	if !hasWarning(res, "dark not applied") {
		t.Errorf("expected a dark mismatch warning, got %v", res.Warnings)
	}
}

func TestAcquireDarkDisabledIsIgnored(t *testing.T) {
	p := newPipeline()
	p.Store.SetDark(constant8(1000))
	res, err := p.Acquire(&scripted{scans: [][]uint16{constant(8, 300)}}, Options{BoxcarWidth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Values[0] != 300 {
		t.Errorf("expected dark to be ignored while disabled, got %f", res.Values[0])
	}
}

func TestAcquireReflectance(t *testing.T) {
	p := newPipeline()
	ref := constant8(400)
	ref[7] = 0
	p.Store.SetReference(ref)
	p.Store.SetReferenceEnabled(true)
	res, err := p.Acquire(&scripted{scans: [][]uint16{constant(8, 100)}}, Options{BoxcarWidth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Unit != Reflectance {
		t.Errorf("expected unit reflectance, got %s", res.Unit)
	}
	if res.Values[0] != 25 || res.Values[7] != 0 {
		t.Errorf("expected 25%% and 0%% at the zero reference, got %f and %f", res.Values[0], res.Values[7])
	}
}

func TestAcquireReferenceMismatchStaysInCounts(t *testing.T) {
	p := newPipeline()
	p.Store.SetReference(make([]float64, 3))
	p.Store.SetReferenceEnabled(true)
	res, err := p.Acquire(&scripted{scans: [][]uint16{constant(8, 100)}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Unit != Counts {
		t.Errorf("expected counts after a mismatched reference, got %s", res.Unit)
	}
	if !hasWarning(res, "reference not applied") {
		t.Errorf("expected a reference mismatch warning, got %v", res.Warnings)
	}
}

func TestAcquireSaturationAndBlankWarnings(t *testing.T) {
	p := newPipeline()
	sat := constant(8, 100)
	sat[4] = 65535
	res, err := p.Acquire(&scripted{scans: [][]uint16{sat}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stats.Saturated || !hasWarning(res, "saturated") {
		t.Errorf("expected saturation to be flagged, got %+v %v", res.Stats, res.Warnings)
	}
	res, err = p.Acquire(&scripted{scans: [][]uint16{constant(8, 0)}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !hasWarning(res, "zero") {
		t.Errorf("expected a blank spectrum warning, got %v", res.Warnings)
	}
}

func TestCaptureDarkStoresAverage(t *testing.T) {
	p := newPipeline()
	src := &scripted{scans: [][]uint16{constant(4, 10), constant(4, 30)}}
	res, err := p.CaptureDark(src, 0)
	if err != nil {
		t.Fatal(err)
	}
	if src.n != DefaultDarkScans {
		t.Errorf("expected %d dark scans, got %d", DefaultDarkScans, src.n)
	}
	dark, ok := p.Store.Dark()
	if !ok {
		t.Fatal("expected dark to be stored")
	}
	if diff := cmp.Diff([]float64{20, 20, 20, 20}, dark); diff != "" {
		t.Errorf("dark mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(dark, res.Values); diff != "" {
		t.Errorf("result should carry the dark (-want +got):\n%s", diff)
	}
}

func TestCaptureDarkFailureKeepsOldDark(t *testing.T) {
	p := newPipeline()
	p.Store.SetDark([]float64{1, 2})
	src := &scripted{scans: [][]uint16{nil}, errs: []error{errors.New("pipe")}}
	if _, err := p.CaptureDark(src, 3); !errors.Is(err, ErrAcquisitionFailed) {
		t.Errorf("expected ErrAcquisitionFailed, got %v", err)
	}
	dark, _ := p.Store.Dark()
	if diff := cmp.Diff([]float64{1, 2}, dark); diff != "" {
		t.Errorf("dark changed by a failed capture (-want +got):\n%s", diff)
	}
}

func TestCaptureReferenceSubtractsDarkPerScan(t *testing.T) {
	p := newPipeline()
	p.Store.SetDark([]float64{50, 50, 50})
	// per-scan clamping: (0 + 150)/2 = 75 at index 0, not (20+200)/2-50 = 60
	src := &scripted{scans: [][]uint16{{20, 100, 100}, {200, 100, 100}}}
	_, err := p.CaptureReference(src, 2)
	if err != nil {
		t.Fatal(err)
	}
	ref, ok := p.Store.Reference()
	if !ok {
		t.Fatal("expected reference to be stored")
	}
	if diff := cmp.Diff([]float64{75, 50, 50}, ref); diff != "" {
		t.Errorf("reference mismatch (-want +got):\n%s", diff)
	}
}

func TestCaptureReferenceDarkMismatchIsWarning(t *testing.T) {
	p := newPipeline()
	p.Store.SetDark([]float64{50, 50})
	res, err := p.CaptureReference(&scripted{scans: [][]uint16{{100, 100, 100}}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !hasWarning(res, "dark not applied") {
		t.Errorf("expected a warning, got %v", res.Warnings)
	}
	ref, _ := p.Store.Reference()
	if diff := cmp.Diff([]float64{100, 100, 100}, ref); diff != "" {
		t.Errorf("reference mismatch (-want +got):\n%s", diff)
	}
}

func TestAcquireFromMockDevice(t *testing.T) {
	m, _ := oceanoptics.DefaultCatalog.Lookup(0x1026)
	h := oceanoptics.NewMockSpectrometer(m)
	prof, err := oceanoptics.Discover(&oceanoptics.MockTransport{Handles: []*oceanoptics.MockHandle{h}})
	if err != nil {
		t.Fatal(err)
	}
	defer oceanoptics.Release(prof)
	dev := oceanoptics.NewDevice(prof.(*oceanoptics.Bound))
	p := newPipeline()
	res, err := p.Acquire(dev, Options{Scans: 4, BoxcarWidth: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Values) != m.Pixels() || res.Scans != 4 {
		t.Errorf("expected 4 scans of %d pixels, got %d of %d", m.Pixels(), res.Scans, len(res.Values))
	}
	if h.Requests() != 4 {
		t.Errorf("expected 4 spectrum requests, got %d", h.Requests())
	}
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func constant8(v float64) []float64 {
	out := make([]float64, 8)
	for i := range out {
		out[i] = v
	}
	return out
}

func hasWarning(r Result, substr string) bool {
	for _, w := range r.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestCaptureDarkAveragesOverSuccessfulScans(t *testing.T) {
	p := newPipeline()
	scans := make([][]uint16, 20)
	errs := make([]error, 20)
	for i := range scans {
		scans[i] = constant(8, 100)
	}
	scans[0] = constant(8, 280)
	scans[5], errs[5] = nil, oceanoptics.ErrTransport
	scans[17], errs[17] = nil, oceanoptics.ErrInvalidPacket
	src := &scripted{scans: scans, errs: errs}
	res, err := p.CaptureDark(src, 20)
	if err != nil {
		t.Fatal(err)
	}
	if src.n != 20 {
		t.Errorf("expected 20 scans attempted, got %d", src.n)
	}
	if res.Scans != 18 || res.Requested != 20 {
		t.Errorf("expected 18 of 20 scans, got %d of %d", res.Scans, res.Requested)
	}
	// 17 scans of 100 and one of 280, averaged over 18 = 110
	dark, ok := p.Store.Dark()
	if !ok {
		t.Fatal("expected a stored dark")
	}
	if diff := cmp.Diff(ramp(8, 110, 0), dark); diff != "" {
		t.Errorf("dark is not the mean over 18 scans (-want +got):\n%s", diff)
	}
	if !hasWarning(res, "2 of 20 scans failed") {
		t.Errorf("expected a dropped scan warning, got %v", res.Warnings)
	}
}

func TestCaptureReferenceWarnsOnDroppedScans(t *testing.T) {
	p := newPipeline()
	src := &scripted{scans: [][]uint16{constant(4, 10), nil}, errs: []error{nil, errors.New("pipe")}}
	res, err := p.CaptureReference(src, 4)
	if err != nil {
		t.Fatal(err)
	}
	if res.Scans != 2 {
		t.Errorf("expected 2 good scans, got %d", res.Scans)
	}
	if !hasWarning(res, "2 of 4 scans failed") {
		t.Errorf("expected a dropped scan warning, got %v", res.Warnings)
	}
}

func rampScan(n int, start, step uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = start + uint16(i)*step
	}
	return out
}

func TestAcquireNormalize(t *testing.T) {
	p := newPipeline()
	res, err := p.Acquire(&scripted{scans: [][]uint16{rampScan(5, 100, 50)}}, Options{BoxcarWidth: 1, Normalize: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Unit != Normalized {
		t.Errorf("expected unit normalized, got %s", res.Unit)
	}
	if diff := cmp.Diff([]float64{0, .25, .5, .75, 1}, res.Values); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if res.Stats.Max != 1 || res.Stats.Min != 0 {
		t.Errorf("expected stats over the normalized values, got %+v", res.Stats)
	}
}

func TestAcquireBaselineRemovesSlope(t *testing.T) {
	p := newPipeline()
	res, err := p.Acquire(&scripted{scans: [][]uint16{rampScan(32, 100, 10)}}, Options{BoxcarWidth: 1, BaselineDegree: 1})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range res.Values {
		if v > 1e-6 || v < -1e-6 {
			t.Fatalf("expected a flat residual, index %d is %g", i, v)
		}
	}
	if res.Unit != Counts {
		t.Errorf("expected baseline removal to keep counts, got %s", res.Unit)
	}
}

func TestAcquireSavGolKeepsLine(t *testing.T) {
	p := newPipeline()
	scan := rampScan(32, 100, 10)
	res, err := p.Acquire(&scripted{scans: [][]uint16{scan}}, Options{BoxcarWidth: 1, SavGolWindow: 7, SavGolOrder: 2})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range res.Values {
		if d := v - float64(scan[i]); d > 1e-6 || d < -1e-6 {
			t.Fatalf("index %d: expected %d, got %g", i, scan[i], v)
		}
	}
}

func TestAcquireRejectsBadSavGolBeforeScanning(t *testing.T) {
	p := newPipeline()
	src := &scripted{scans: [][]uint16{constant(8, 100)}}
	if _, err := p.Acquire(src, Options{SavGolWindow: 5, SavGolOrder: 5}); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}
	if _, err := p.Acquire(src, Options{SavGolWindow: 4}); !errors.Is(err, ErrInvalidWidth) {
		t.Errorf("expected ErrInvalidWidth, got %v", err)
	}
	if _, err := p.Acquire(src, Options{BaselineDegree: -1}); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("expected ErrInvalidOrder, got %v", err)
	}
	if src.n != 0 {
		t.Errorf("expected no scans for invalid options, got %d", src.n)
	}
}

func TestAcquireSavGolTooShortIsWarning(t *testing.T) {
	p := newPipeline()
	res, err := p.Acquire(&scripted{scans: [][]uint16{constant(8, 100)}}, Options{BoxcarWidth: 1, SavGolWindow: 11, SavGolOrder: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !hasWarning(res, "Savitzky-Golay not applied") {
		t.Errorf("expected a warning, got %v", res.Warnings)
	}
	if diff := cmp.Diff(constant8(100), res.Values); diff != "" {
		t.Errorf("expected the values untouched (-want +got):\n%s", diff)
	}
}
