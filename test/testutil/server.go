// Package testutil provides an HTTP mirror and archive fixtures for tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

// MirrorServer serves in-memory files and records how often each was requested.
// Individual paths can be told to fail or to drop the connection mid-body.
type MirrorServer struct {
	*httptest.Server

	mu          sync.Mutex
	files       map[string][]byte
	hits        map[string]int
	failures    map[string]int
	disconnects map[string]int
	delay       time.Duration
	omitLength  bool
}

// NewMirrorServer starts a mirror that is closed when the test ends.
func NewMirrorServer(t *testing.T) *MirrorServer {
	t.Helper()
	s := &MirrorServer{
		files:       make(map[string][]byte),
		hits:        make(map[string]int),
		failures:    make(map[string]int),
		disconnects: make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Add publishes content at path and returns its URL.
func (s *MirrorServer) Add(path string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = content
	return s.URLFor(path)
}

// URLFor returns the absolute URL of path on this mirror.
func (s *MirrorServer) URLFor(path string) string {
	return s.URL + path
}

// Hits returns the number of requests received for path.
func (s *MirrorServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// TotalHits returns the number of requests received for any path.
func (s *MirrorServer) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}

// FailNext answers the next n requests for path with 500.
func (s *MirrorServer) FailNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
}

// DisconnectNext makes the next n requests for path announce the full length,
// send half of the body and drop the connection.
func (s *MirrorServer) DisconnectNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects[path] = n
}

// SetDelay delays every response by d.
func (s *MirrorServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// OmitContentLength streams bodies without a Content-Length header.
func (s *MirrorServer) OmitContentLength(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitLength = omit
}

func (s *MirrorServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	path := r.URL.Path
	s.hits[path]++
	content, ok := s.files[path]
	fail := s.failures[path] > 0
	if fail {
		s.failures[path]--
	}
	disconnect := !fail && s.disconnects[path] > 0
	if disconnect {
		s.disconnects[path]--
	}
	delay := s.delay
	omitLength := s.omitLength
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	switch {
	case !ok:
		http.NotFound(w, r)
		return
	case fail:
		http.Error(w, fmt.Sprintf("mirror failure for %s", path), http.StatusInternalServerError)
		return
	}

	if omitLength {
		// Flushing before the body forces chunked encoding.
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	} else {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
	}

	if disconnect {
		_, _ = w.Write(content[:len(content)/2])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	}
	_, _ = w.Write(content)
}
