/*Package spectrumfile reads and writes spectra on disk.

The CSV format is a block of "# key: value" metadata lines followed by a
Wavelength,Intensity table:

	# Timestamp: 2024-03-01T12:00:00Z
	# Unit: counts
	# Points: 512
	# Wavelength range: 900-1700 nm
	# Intensity range: 1500-31512
	# CRC32: 0x1C291CA3
	#
	Wavelength,Intensity
	900,1512
	...

The checksum covers every byte from the header row to the end of the file.
Loaders split metadata from data at the first line that does not begin with
'#'.  Files without a CRC32 line load without verification.

FITS files hold a 2xN float64 image, wavelengths in the first row and values
in the second.
*/
package spectrumfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/nirquest/acquisition"
	"github.com/snksoft/crc"
)

var (
	// ErrChecksum is generated when the CRC32 of a file does not match its data
	ErrChecksum = errors.New("spectrum file checksum mismatch")

	// ErrMalformed is generated when a file cannot be parsed
	ErrMalformed = errors.New("malformed spectrum file")

	crcTable = crc.NewTable(crc.CRC32)
)

// keys that are derived from the data and not carried in Record.Fields
const (
	keyTimestamp   = "Timestamp"
	keyUnit        = "Unit"
	keyPoints      = "Points"
	keyWavelengths = "Wavelength range"
	keyIntensity   = "Intensity range"
	keyCRC         = "CRC32"
)

// Field is a single line of metadata
type Field struct {
	Key, Value string
}

// Record is a spectrum and its metadata
type Record struct {
	Timestamp   time.Time
	Unit        string
	Wavelengths []float64
	Values      []float64

	// Fields is extra metadata, written in order
	Fields []Field
}

// FromResult converts an acquisition result to a Record.  Scan counts and
// warnings become fields.
func FromResult(r acquisition.Result, extra ...Field) Record {
	fields := []Field{
		{Key: "Scans", Value: fmt.Sprintf("%d/%d", r.Scans, r.Requested)},
	}
	for _, w := range r.Warnings {
		fields = append(fields, Field{Key: "Warning", Value: w})
	}
	fields = append(fields, extra...)
	return Record{
		Timestamp:   r.Timestamp,
		Unit:        string(r.Unit),
		Wavelengths: r.Wavelengths,
		Values:      r.Values,
		Fields:      fields,
	}
}

// Field returns the value of the first field with key, and false if there is none
func (r Record) Field(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func extent(s []float64) (float64, float64) {
	if len(s) == 0 {
		return 0, 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range s {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// WriteCSV writes rec to w
func WriteCSV(w io.Writer, rec Record) error {
	if len(rec.Wavelengths) != len(rec.Values) {
		return fmt.Errorf("%w: %d wavelengths for %d values", ErrMalformed, len(rec.Wavelengths), len(rec.Values))
	}
	data := &bytes.Buffer{}
	cw := csv.NewWriter(data)
	cw.Write([]string{"Wavelength", "Intensity"})
	for i := range rec.Values {
		cw.Write([]string{fmtFloat(rec.Wavelengths[i]), fmtFloat(rec.Values[i])})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	meta := func(k, v string) {
		fmt.Fprintf(bw, "# %s: %s\n", k, v)
	}
	meta(keyTimestamp, rec.Timestamp.Format(time.RFC3339Nano))
	if rec.Unit != "" {
		meta(keyUnit, rec.Unit)
	}
	for _, f := range rec.Fields {
		meta(f.Key, strings.ReplaceAll(f.Value, "\n", " "))
	}
	wlo, whi := extent(rec.Wavelengths)
	ilo, ihi := extent(rec.Values)
	meta(keyPoints, strconv.Itoa(len(rec.Values)))
	meta(keyWavelengths, fmt.Sprintf("%s-%s nm", fmtFloat(wlo), fmtFloat(whi)))
	meta(keyIntensity, fmt.Sprintf("%s-%s", fmtFloat(ilo), fmtFloat(ihi)))
	meta(keyCRC, fmt.Sprintf("0x%08X", crcTable.CalculateCRC(data.Bytes())))
	bw.WriteString("#\n")
	bw.Write(data.Bytes())
	return bw.Flush()
}

// ReadCSV parses a file written by WriteCSV.  Only the table is required;
// a CRC32 line, when present, is verified.
func ReadCSV(r io.Reader) (Record, error) {
	var rec Record
	raw, err := io.ReadAll(r)
	if err != nil {
		return rec, err
	}

	// split metadata from data at the first line not beginning with #
	off := 0
	var metaLines []string
	for off < len(raw) && raw[off] == '#' {
		end := bytes.IndexByte(raw[off:], '\n')
		if end < 0 {
			end = len(raw) - off
		} else {
			end++
		}
		metaLines = append(metaLines, strings.TrimRight(string(raw[off:off+end]), "\r\n"))
		off += end
	}
	data := raw[off:]

	var sum string
	points := -1
	for _, line := range metaLines {
		line = strings.TrimSpace(strings.TrimPrefix(line, "#"))
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			rec.Fields = append(rec.Fields, Field{Key: line})
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		switch k {
		case keyTimestamp:
			rec.Timestamp, err = time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return rec, fmt.Errorf("%w: timestamp %q", ErrMalformed, v)
			}
		case keyUnit:
			rec.Unit = v
		case keyPoints:
			points, err = strconv.Atoi(v)
			if err != nil {
				return rec, fmt.Errorf("%w: points %q", ErrMalformed, v)
			}
		case keyCRC:
			sum = v
		case keyWavelengths, keyIntensity:
		default:
			rec.Fields = append(rec.Fields, Field{Key: k, Value: v})
		}
	}

	if sum != "" {
		want, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(sum), "0x"), 16, 32)
		if err != nil {
			return rec, fmt.Errorf("%w: checksum %q", ErrMalformed, sum)
		}
		if got := crcTable.CalculateCRC(data); got != want {
			return rec, fmt.Errorf("%w: file says 0x%08X, data is 0x%08X", ErrChecksum, want, got)
		}
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(rows) == 0 {
		return rec, fmt.Errorf("%w: no header row", ErrMalformed)
	}
	rows = rows[1:]
	rec.Wavelengths = make([]float64, len(rows))
	rec.Values = make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			return rec, fmt.Errorf("%w: row %d has %d columns", ErrMalformed, i+1, len(row))
		}
		rec.Wavelengths[i], err = strconv.ParseFloat(row[0], 64)
		if err != nil {
			return rec, fmt.Errorf("%w: row %d: %v", ErrMalformed, i+1, err)
		}
		rec.Values[i], err = strconv.ParseFloat(row[1], 64)
		if err != nil {
			return rec, fmt.Errorf("%w: row %d: %v", ErrMalformed, i+1, err)
		}
	}
	if points >= 0 && points != len(rows) {
		return rec, fmt.Errorf("%w: header says %d points, found %d", ErrMalformed, points, len(rows))
	}
	return rec, nil
}
