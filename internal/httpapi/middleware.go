package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// storage wraps a storage route with, in order: rate limiting, key
// validation and the header allow-list.
func (s *Server) storage(allowed map[string]bool, keyed bool, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.ObserveRateLimited()
			writeText(w, http.StatusTooManyRequests, msgRateLimited)
			return
		}

		if keyed && !s.keyRe.MatchString(r.PathValue("key")) {
			writeText(w, http.StatusNotFound, msgInvalidEndpoint)
			return
		}

		if !s.opts.SuperfluousHeadersAllowed {
			if extra := superfluousHeaders(r, allowed); len(extra) > 0 {
				writeText(w, http.StatusBadRequest, fmt.Sprintf(
					`Superfluous headers are not allowed, they could be used for fingerprinting attacks: "%s"`,
					strings.Join(extra, `", "`)))
				return
			}
		}

		next(w, r)
	})
}

// instrument records HTTP metrics and, when enabled, an access log line.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.metrics.ObserveHTTP(r.Method, strconv.Itoa(rec.status))
		if s.opts.LogRequests {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.written,
				"addr", clientAddress(r),
				"duration", time.Since(start))
		}
	})
}

// statusRecorder captures the response status and body size.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func headerSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[http.CanonicalHeaderKey(n)] = true
	}
	return set
}

// superfluousHeaders returns the sorted request header names outside allowed.
// Host is carried on the request rather than in r.Header and always counts
// as present.
func superfluousHeaders(r *http.Request, allowed map[string]bool) []string {
	var extra []string
	for name := range r.Header {
		if !allowed[http.CanonicalHeaderKey(name)] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return extra
}
