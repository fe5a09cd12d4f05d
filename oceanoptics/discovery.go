package oceanoptics

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// Profile is the result of discovery.  It is either a *Bound spectrometer
// or Unbound; callers type switch on it.
type Profile interface {
	// Model returns the model profile, Name is "unknown" for Unbound
	Model() ModelProfile

	profile()
}

// Unbound is returned when Ocean Optics devices are on the bus but none are in the catalog
type Unbound struct{}

// Model returns an empty profile named "unknown"
func (Unbound) Model() ModelProfile {
	return ModelProfile{Name: "unknown"}
}

func (Unbound) profile() {}

// Bound is a claimed spectrometer.  It owns the USB handle until Release.
type Bound struct {
	handle   Handle
	pid      uint16
	model    ModelProfile
	released bool
}

// Model returns the model profile of the bound device
func (b *Bound) Model() ModelProfile {
	return b.model
}

// ProductID returns the USB product ID of the bound device
func (b *Bound) ProductID() uint16 {
	return b.pid
}

// Released returns true once Release has been called on the profile
func (b *Bound) Released() bool {
	return b.released
}

func (b *Bound) profile() {}

// newClaimBackoff is swapped in tests to keep failing claims fast
var newClaimBackoff = func() backoff.BackOff {
	// a freshly enumerated device is sometimes still busy with the kernel driver
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// Discover binds the first device on t that appears in DefaultCatalog
func Discover(t Transport) (Profile, error) {
	return DiscoverIn(t, DefaultCatalog)
}

// DiscoverIn enumerates every device carrying VendorID and binds the first one,
// in enumeration order, whose product ID is in cat.  Other devices are closed.
//
// ErrDeviceNotFound is returned if there are no vendor devices at all.  If there
// are vendor devices but none are cataloged, Unbound is returned with a nil error.
func DiscoverIn(t Transport, cat Catalog) (Profile, error) {
	handles, err := t.FindDevices(VendorID)
	if err != nil {
		return Unbound{}, fmt.Errorf("%w: enumerating bus: %v", ErrTransport, err)
	}
	if len(handles) == 0 {
		return Unbound{}, ErrDeviceNotFound
	}

	var (
		chosen Handle
		model  ModelProfile
	)
	for _, h := range handles {
		if chosen == nil {
			if m, ok := cat.Lookup(h.ProductID()); ok {
				chosen, model = h, m
				continue
			}
		}
		h.Close()
	}
	if chosen == nil {
		return Unbound{}, nil
	}

	err = backoff.Retry(chosen.Claim, newClaimBackoff())
	if err != nil {
		chosen.Close()
		return Unbound{}, fmt.Errorf("%w: claiming %s: %v", ErrTransport, model.Name, err)
	}
	return &Bound{handle: chosen, pid: chosen.ProductID(), model: model}, nil
}

// Release returns the device's resources to the operating system.
// It is a no-op for Unbound, nil, and already released profiles.
func Release(p Profile) error {
	b, ok := p.(*Bound)
	if !ok || b == nil || b.released || b.handle == nil {
		return nil
	}
	b.released = true
	err := b.handle.Close()
	b.handle = nil
	return err
}
