package biometric

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/your-org/passgate/internal/apperr"
)

// Probe is a spooled query image on local disk. Callers must Remove it.
type Probe struct {
	path string
	Size int64
}

// SpoolProbe copies r into a temporary file under dir (os.TempDir when
// empty). Images larger than maxBytes and empty images are rejected and
// leave nothing behind.
func SpoolProbe(r io.Reader, dir string, maxBytes int64) (*Probe, error) {
	f, err := os.CreateTemp(dir, "probe-*.img")
	if err != nil {
		return nil, fmt.Errorf("create probe file: %w", err)
	}
	probe := &Probe{path: f.Name()}

	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	closeErr := f.Close()

	switch {
	case err != nil:
		err = fmt.Errorf("spool probe: %w", err)
	case closeErr != nil:
		err = fmt.Errorf("close probe file: %w", closeErr)
	case n == 0:
		err = apperr.New(apperr.ErrInvalidInput, "image is empty")
	case n > maxBytes:
		err = apperr.Newf(apperr.ErrInvalidInput, "image exceeds %d bytes", maxBytes)
	}
	if err != nil {
		_ = probe.Remove()
		return nil, err
	}

	probe.Size = n
	return probe, nil
}

func (p *Probe) Open() (*os.File, error) {
	return os.Open(p.path)
}

func (p *Probe) Path() string { return p.path }

// Remove deletes the file. Removing twice is not an error.
func (p *Probe) Remove() error {
	err := os.Remove(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
