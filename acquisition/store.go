package acquisition

import "sync"

// Store holds the dark and reference spectra and whether each is applied.
// It performs no validation; length checks happen when a correction is used.
// Slices are copied on the way in and out.
type Store struct {
	sync.RWMutex

	dark, ref           []float64
	darkOn, referenceOn bool
}

func clone(s []float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

// SetDark replaces the stored dark spectrum
func (s *Store) SetDark(d []float64) {
	s.Lock()
	defer s.Unlock()
	s.dark = clone(d)
}

// SetReference replaces the stored reference spectrum
func (s *Store) SetReference(r []float64) {
	s.Lock()
	defer s.Unlock()
	s.ref = clone(r)
}

// Dark returns a copy of the dark spectrum and true if one is stored
func (s *Store) Dark() ([]float64, bool) {
	s.RLock()
	defer s.RUnlock()
	return clone(s.dark), s.dark != nil
}

// Reference returns a copy of the reference spectrum and true if one is stored
func (s *Store) Reference() ([]float64, bool) {
	s.RLock()
	defer s.RUnlock()
	return clone(s.ref), s.ref != nil
}

// ClearDark discards the dark spectrum
func (s *Store) ClearDark() {
	s.Lock()
	defer s.Unlock()
	s.dark = nil
}

// ClearReference discards the reference spectrum
func (s *Store) ClearReference() {
	s.Lock()
	defer s.Unlock()
	s.ref = nil
}

// SetDarkEnabled turns dark subtraction on or off
func (s *Store) SetDarkEnabled(b bool) {
	s.Lock()
	defer s.Unlock()
	s.darkOn = b
}

// DarkEnabled returns true if dark subtraction is on
func (s *Store) DarkEnabled() bool {
	s.RLock()
	defer s.RUnlock()
	return s.darkOn
}

// SetReferenceEnabled turns reflectance on or off
func (s *Store) SetReferenceEnabled(b bool) {
	s.Lock()
	defer s.Unlock()
	s.referenceOn = b
}

// ReferenceEnabled returns true if reflectance is on
func (s *Store) ReferenceEnabled() bool {
	s.RLock()
	defer s.RUnlock()
	return s.referenceOn
}
