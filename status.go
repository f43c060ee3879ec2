package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/utilitywarehouse/mirror-discovery/provider"
)

type statusResponse struct {
	LastSuccess time.Time         `json:"last_success"`
	LastError   string            `json:"last_error,omitempty"`
	Mirrors     []provider.Mirror `json:"mirrors"`
}

// mirrorStatus holds the result of the last successful discovery, a failed
// discovery only records the error and keeps previous mirrors
type mirrorStatus struct {
	mu          deadlock.RWMutex
	mirrors     []provider.Mirror
	lastSuccess time.Time
	lastErr     error
}

func (s *mirrorStatus) update(mirrors []provider.Mirror, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
	if err != nil {
		return
	}
	s.mirrors = mirrors
	s.lastSuccess = time.Now()
}

func (s *mirrorStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	resp := statusResponse{
		LastSuccess: s.lastSuccess,
		Mirrors:     s.mirrors,
	}
	if s.lastErr != nil {
		resp.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()

	if resp.Mirrors == nil {
		resp.Mirrors = []provider.Mirror{}
	}

	w.Header().Set("Content-Type", "application/json")
	// nothing has been discovered yet
	if resp.LastSuccess.IsZero() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("unable to write status response", "err", err)
	}
}
