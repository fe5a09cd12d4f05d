// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"context"
	"encoding/json"
	"go/types"
	"net/http"
	"strings"

	"github.com/nasa-jpl/nirquest/generichttp"
)

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker behaves like a sync.Mutex that can also be tried without blocking,
// and holds a list of paths not to protect.  The zero value is not usable; use New.
type Locker struct {
	sem chan struct{}

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{sem: make(chan struct{}, 1), DoNotProtect: []string{"lock"}}
}

// Lock the locker, waiting for it to be unlocked if it is held
func (l *Locker) Lock() {
	l.sem <- struct{}{}
}

// LockContext locks the locker, waiting until it is unlocked or ctx is done.
// It returns ctx.Err() if ctx ends first, and the locker is not taken.
func (l *Locker) LockContext(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock locks the locker and returns true if it was unlocked, otherwise
// returns false without waiting
func (l *Locker) TryLock() bool {
	select {
	case l.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock the locker.  Unlocking an unlocked Locker does nothing.
func (l *Locker) Unlock() {
	select {
	case <-l.sem:
	default:
	}
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return len(l.sem) == 1
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			protected := true
			url := r.URL.Path
			for _, str := range l.DoNotProtect {
				if strings.Contains(url, str) {
					protected = false
				}
			}
			if protected {
				http.Error(w, "locked, an acquisition is in progress", http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls TryLock or Unlock based on json:bool on the request body.
// Locking does not wait; if the locker is already held the response is 423.
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		if !l.TryLock() {
			http.Error(w, "already locked", http.StatusLocked)
			return
		}
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
