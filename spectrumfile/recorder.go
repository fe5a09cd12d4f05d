package spectrumfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/nirquest/acquisition"
)

// Format is an on-disk spectrum format
type Format string

const (
	// CSV is the commented CSV format of WriteCSV
	CSV Format = "csv"

	// FITS is the image format of WriteFITS
	FITS Format = "fits"
)

// ErrUnknownFormat is generated for a format other than csv or fits
var ErrUnknownFormat = errors.New("format must be csv or fits")

// Recorder saves spectra with incrementing filenames in yyyy-mm-dd subfolders
// of Root.  It implements acquisition.Sink.
type Recorder struct {
	mu sync.Mutex

	// counter is the number of the next file
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Format is the file format, CSV if empty
	Format Format

	// Enabled turns recording on; Accept is a no-op when false
	Enabled bool

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string
}

func (f Format) ext() string {
	if f == FITS {
		return ".fits"
	}
	return ".csv"
}

// updateFolder sets timeFldr from the current date
func (r *Recorder) updateFolder() {
	r.timeFldr = time.Now().Format("2006-01-02")
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// incr sets the counter one past the largest number in the folder for this
// prefix and format
func (r *Recorder) incr(fldr string) error {
	files, err := os.ReadDir(fldr)
	if err != nil {
		return err
	}
	ext := r.Format.ext()
	count := -1
	for _, file := range files {
		fn := file.Name()
		if file.IsDir() || !strings.HasSuffix(fn, ext) || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ext))
		if err != nil {
			continue
		}
		if n > count {
			count = n
		}
	}
	r.counter = count + 1
	return nil
}

// Save writes rec to the next file and returns its path
func (r *Recorder) Save(rec Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	if err = r.incr(fldr); err != nil {
		return "", err
	}
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d%s", r.Prefix, r.counter, r.Format.ext()))
	fid, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return "", err
	}
	defer fid.Close()
	bw := bufio.NewWriter(fid)
	if r.Format == FITS {
		err = WriteFITS(bw, rec)
	} else {
		err = WriteCSV(bw, rec)
	}
	if err != nil {
		return "", err
	}
	if err = bw.Flush(); err != nil {
		return "", err
	}
	r.counter++
	return fn, nil
}

// Accept saves res if the recorder is enabled
func (r *Recorder) Accept(res acquisition.Result) error {
	r.mu.Lock()
	on := r.Enabled
	r.mu.Unlock()
	if !on {
		return nil
	}
	_, err := r.Save(FromResult(res))
	return err
}

// SetRoot changes the root folder and makes sure it can be created
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Root = root
	r.updateFolder()
	_, err := r.mkDir()
	return err
}

// GetRoot returns the root folder
func (r *Recorder) GetRoot() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Root
}

// SetPrefix changes the filename prefix
func (r *Recorder) SetPrefix(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Prefix = p
	r.counter = 0
}

// GetPrefix returns the filename prefix
func (r *Recorder) GetPrefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Prefix
}

// SetFormat changes the file format, "csv" or "fits"
func (r *Recorder) SetFormat(f string) error {
	format := Format(strings.ToLower(f))
	if format != CSV && format != FITS {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Format = format
	return nil
}

// GetFormat returns the file format
func (r *Recorder) GetFormat() Format {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Format == "" {
		return CSV
	}
	return r.Format
}

// SetEnabled turns recording on or off
func (r *Recorder) SetEnabled(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Enabled = b
}

// GetEnabled returns true if recording is on
func (r *Recorder) GetEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled
}

var _ acquisition.Sink = (*Recorder)(nil)
