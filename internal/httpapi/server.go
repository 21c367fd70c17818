// Package httpapi exposes a kv.Service over HTTP.
//
// Routes:
//
//	GET    /storage/v1/{key}   retrieve a value
//	POST   /storage/v1/{key}   store the request body under key
//	DELETE /storage/v1/{key}   remove key
//	GET    /storage/v1/dump    reconstructed state and history of every key
//	GET    /metrics            Prometheus metrics
//	GET    /healthz            liveness
//
// Keys are lowercase hex strings of exactly KeyBits/4 characters. Anything
// else is answered as an unknown endpoint.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/roach88/auditkv/internal/kv"
	"github.com/roach88/auditkv/internal/metrics"
)

// Options configures the HTTP boundary.
type Options struct {
	// KeyBits is the key width in bits. Must be a positive multiple of 4.
	KeyBits int

	// SuperfluousHeadersAllowed disables the per-route header allow-list.
	SuperfluousHeadersAllowed bool

	// MaxValueBytes caps the Content-Length of a write. Zero is unlimited.
	MaxValueBytes int64

	// RateLimit is the sustained storage request rate per second across all
	// clients. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// LogRequests emits one access log line per request.
	LogRequests bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server routes HTTP requests to a kv.Service.
type Server struct {
	svc     *kv.Service
	opts    Options
	keyRe   *regexp.Regexp
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
	handler http.Handler
}

// New builds a Server. It panics if opts.KeyBits is not a positive multiple
// of 4; config validation rejects such values earlier.
func New(svc *kv.Service, opts Options) *Server {
	if opts.KeyBits <= 0 || opts.KeyBits%4 != 0 {
		panic(fmt.Sprintf("httpapi: invalid key width %d", opts.KeyBits))
	}

	s := &Server{
		svc:     svc,
		opts:    opts,
		keyRe:   KeyPattern(opts.KeyBits),
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	s.handler = s.instrument(s.routes())
	return s
}

// KeyPattern returns the pattern matched by valid keys of keyBits bits:
// lowercase hex, keyBits/4 characters.
func KeyPattern(keyBits int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^[0-9a-f]{%d}$`, keyBits/4))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Allowed request headers per method when superfluous headers are rejected.
var (
	readHeaders  = headerSet("Host")
	writeHeaders = headerSet("Host", "Content-Type", "Content-Length")
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /storage/v1/dump", s.storage(readHeaders, false, s.handleDump))
	mux.Handle("GET /storage/v1/{key}", s.storage(readHeaders, true, s.handleRetrieve))
	mux.Handle("POST /storage/v1/{key}", s.storage(writeHeaders, true, s.handleUpdate))
	mux.Handle("DELETE /storage/v1/{key}", s.storage(readHeaders, true, s.handleDelete))

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "OK")
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusNotFound, msgInvalidEndpoint)
	})
	return mux
}
