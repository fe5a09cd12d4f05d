package spectrumfile

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/astrogo/fitsio"
)

// fitsKey turns a metadata key into a legal FITS keyword
func fitsKey(k string) string {
	b := strings.Builder{}
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
		if b.Len() == 8 {
			break
		}
	}
	return b.String()
}

// WriteFITS streams rec to w as a 2xN float64 image
func WriteFITS(w io.Writer, rec Record) error {
	n := len(rec.Values)
	if n == 0 {
		return errors.New("cannot write an empty spectrum to FITS")
	}
	if len(rec.Wavelengths) != n {
		return fmt.Errorf("%w: %d wavelengths for %d values", ErrMalformed, len(rec.Wavelengths), n)
	}
	wlo, whi := extent(rec.Wavelengths)
	metadata := []fitsio.Card{
		{Name: "DATE-OBS", Value: rec.Timestamp.UTC().Format("2006-01-02T15:04:05.000"), Comment: "UTC"},
		{Name: "BUNIT", Value: rec.Unit},
		{Name: "NPOINTS", Value: n, Comment: "samples per row"},
		{Name: "WLSTART", Value: wlo, Comment: "nm"},
		{Name: "WLEND", Value: whi, Comment: "nm"},
		{Name: "ROW1", Value: "wavelength"},
		{Name: "ROW2", Value: "intensity"},
	}
	seen := map[string]bool{}
	for _, c := range metadata {
		seen[c.Name] = true
	}
	for _, f := range rec.Fields {
		k := fitsKey(f.Key)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		v := f.Value
		if len(v) > 60 {
			v = v[:60]
		}
		metadata = append(metadata, fitsio.Card{Name: k, Value: v})
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{n, 2})
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	buf := make([]float64, 0, 2*n)
	buf = append(buf, rec.Wavelengths...)
	buf = append(buf, rec.Values...)
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
