package spectrumfile

import (
	"net/http"

	"github.com/nasa-jpl/nirquest/generichttp"
)

// HTTPWrapper is an HTTP wrapper around a recorder that allows the folder,
// prefix and format to be changed on the fly.
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

func (h HTTPWrapper) getRoot() (string, error)   { return h.Recorder.GetRoot(), nil }
func (h HTTPWrapper) getPrefix() (string, error) { return h.Recorder.GetPrefix(), nil }
func (h HTTPWrapper) getFormat() (string, error) { return string(h.Recorder.GetFormat()), nil }
func (h HTTPWrapper) getEnabled() (bool, error)  { return h.Recorder.GetEnabled(), nil }

func (h HTTPWrapper) setPrefix(p string) error {
	h.Recorder.SetPrefix(p)
	return nil
}

func (h HTTPWrapper) setEnabled(b bool) error {
	h.Recorder.SetEnabled(b)
	return nil
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix,
// /autowrite/format and /autowrite/enabled to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(h.Recorder.SetRoot)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(h.getRoot)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(h.setPrefix)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(h.getPrefix)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/format"}] = generichttp.SetString(h.Recorder.SetFormat)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/format"}] = generichttp.GetString(h.getFormat)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(h.setEnabled)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = generichttp.GetBool(h.getEnabled)
}
