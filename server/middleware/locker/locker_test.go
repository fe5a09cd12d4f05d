package locker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/matryer/is"
	"github.com/nasa-jpl/nirquest/generichttp"
)

type table struct{ rt generichttp.RouteTable }

func (t table) RT() generichttp.RouteTable { return t.rt }

func TestTryLock(t *testing.T) {
	is := is.New(t)
	l := New()
	is.True(l.TryLock())  // first TryLock takes the lock
	is.True(!l.TryLock()) // second TryLock fails
	is.True(l.Locked())
	l.Unlock()
	is.True(!l.Locked())
	l.Unlock() // unlocking twice is harmless
	is.True(l.TryLock())
}

func TestCheckReturns423WhileLocked(t *testing.T) {
	is := is.New(t)
	l := New()
	tbl := table{rt: generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/spectrum"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}}
	Inject(tbl, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	tbl.RT().Bind(r)

	do := func(method, path, body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w.Code
	}

	is.Equal(do(http.MethodGet, "/spectrum", ""), http.StatusOK)
	l.Lock()
	is.Equal(do(http.MethodGet, "/spectrum", ""), http.StatusLocked)
	is.Equal(do(http.MethodGet, "/lock", ""), http.StatusOK) // lock routes are never protected
	is.Equal(do(http.MethodPost, "/lock", `{"bool":false}`), http.StatusOK)
	is.Equal(do(http.MethodGet, "/spectrum", ""), http.StatusOK)
}

func TestLockContextGivesUpWhenCancelled(t *testing.T) {
	is := is.New(t)
	l := New()
	l.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	is.Equal(l.LockContext(ctx), context.DeadlineExceeded)
	l.Unlock()
	is.True(!l.Locked()) // the abandoned attempt did not take the lock
	is.NoErr(l.LockContext(context.Background()))
	is.True(l.Locked())
}

func TestHTTPSetHeldLockIs423(t *testing.T) {
	is := is.New(t)
	l := New()
	set := func(body string) int {
		w := httptest.NewRecorder()
		l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(body)))
		return w.Code
	}
	is.Equal(set(`{"bool":true}`), http.StatusOK)
	is.Equal(set(`{"bool":true}`), http.StatusLocked) // someone already holds it
	is.Equal(set(`{"bool":false}`), http.StatusOK)
	is.True(!l.Locked())
}
