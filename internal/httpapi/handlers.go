package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/auditkv/internal/kv"
	"github.com/roach88/auditkv/internal/store"
)

// Response bodies.
const (
	msgInvalidEndpoint = "The URL is not a valid service endpoint."
	msgNotFound        = "The requested entry does not exist."
	msgMissingLength   = `The HTTP "Content-Length" header is required.`
	msgShortBody       = "The request body is shorter than its Content-Length."
	msgRateLimited     = "Too many requests."
	msgInternal        = "Internal server error."
)

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	content, err := s.svc.Retrieve(r.Context(), key, requestMetadata(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	n, raw, err := contentLength(r)
	if err != nil {
		if raw == "" {
			writeText(w, http.StatusBadRequest, msgMissingLength)
		} else {
			writeText(w, http.StatusBadRequest, fmt.Sprintf(
				`"%s" is not a valid value for the HTTP "Content-Length" header.`, raw))
		}
		return
	}
	if s.opts.MaxValueBytes > 0 && n > s.opts.MaxValueBytes {
		writeText(w, http.StatusBadRequest, fmt.Sprintf(
			"The value exceeds the maximum size of %d bytes.", s.opts.MaxValueBytes))
		return
	}

	// Allocation follows the bytes received, not the declared length.
	content, err := io.ReadAll(io.LimitReader(r.Body, n))
	if err != nil || int64(len(content)) != n {
		writeText(w, http.StatusBadRequest, msgShortBody)
		return
	}

	if _, err := s.svc.Update(r.Context(), key, content, requestMetadata(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := s.svc.Delete(r.Context(), key, requestMetadata(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Dump(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(d); err != nil {
		s.logger.Error("encode dump", "error", err)
	}
}

// writeError maps service errors to responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, kv.ErrNotFound):
		writeText(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, kv.ErrMalformedInput):
		writeText(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeText(w, http.StatusInternalServerError, msgInternal)
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

// contentLength returns the declared body length. raw is the header text,
// empty when the header is missing.
func contentLength(r *http.Request) (n int64, raw string, err error) {
	raw = r.Header.Get("Content-Length")
	if raw == "" {
		if r.ContentLength >= 0 && r.Body != nil && r.Body != http.NoBody {
			return r.ContentLength, "", nil
		}
		return 0, "", errors.New("missing Content-Length")
	}
	n, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, raw, fmt.Errorf("invalid Content-Length %q", raw)
	}
	return n, raw, nil
}

// requestMetadata captures the audited view of r. Host comes first, the
// remaining headers follow in canonical name order with their values in
// received order. The timestamp is left for the service clock.
func requestMetadata(r *http.Request) store.RequestMetadata {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := make([]store.HeaderPair, 0, len(names)+1)
	if r.Host != "" {
		headers = append(headers, store.HeaderPair{Name: "Host", Value: r.Host})
	}
	for _, name := range names {
		for _, v := range r.Header[name] {
			headers = append(headers, store.HeaderPair{Name: name, Value: v})
		}
	}

	return store.RequestMetadata{
		Address: clientAddress(r),
		Headers: headers,
	}
}

// clientAddress returns the first X-Forwarded-For hop, else the host part of
// RemoteAddr.
func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
