package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"relentless-frontier/internal/dispatch"
	"relentless-frontier/internal/frontier"
	"relentless-frontier/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type server struct {
	frontier   *frontier.Frontier
	store      store.StatusStore // optional mirror; nil when Redis is not configured
	dispatcher *dispatch.Dispatcher
	metrics    *apiMetrics
	maxBody    int64
	log        *logrus.Entry
}

func newServer(f *frontier.Frontier, statusStore store.StatusStore, maxBody int64, log *logrus.Entry) *server {
	return &server{
		frontier: f,
		store:    statusStore,
		metrics:  newAPIMetrics(),
		maxBody:  maxBody,
		log:      log,
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/crawl", s.handleCrawl)
	mux.HandleFunc("/crawl/status", s.handleCrawlStatus)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

type crawlResponse struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
}

// handleCrawl ingests a batch of URLs into the frontier.
//
// Method: POST
// Path:   /crawl
// Body:   ["http://a.com/x", ...] or {"urls": [...]}
// Example:
//
//	curl -X POST -d '["https://example.com/"]' "http://localhost:8081/crawl"
func (s *server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		atomic.AddUint64(&s.metrics.ingestBadRequest, 1)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	batch, err := decodeBatch(body)
	if err != nil {
		atomic.AddUint64(&s.metrics.ingestBadRequest, 1)
		s.log.WithError(err).Debug("rejected crawl request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := s.frontier.Ingest(batch)
	s.metrics.recordIngest(res)

	entry := s.log.WithFields(logrus.Fields{
		"received":   len(batch),
		"accepted":   res.Accepted,
		"duplicates": res.Duplicates,
		"rejected":   res.Rejected,
	})
	entry.Info("batch ingested")
	for _, rej := range res.Rejections {
		s.log.WithFields(logrus.Fields{"url": rej.URL, "reason": rej.Reason}).Debug("url rejected")
	}

	writeJSON(w, crawlResponse{
		Status:     "received",
		Accepted:   res.Accepted,
		Duplicates: res.Duplicates,
		Rejected:   res.Rejected,
	}, http.StatusOK)
}

// decodeBatch accepts a JSON array of strings or an object whose "urls" field
// is one. An empty array is a valid, empty batch.
func decodeBatch(body []byte) ([]string, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid json body: %w", err)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		urls, ok := v["urls"]
		if !ok {
			return nil, errors.New(`object body needs a "urls" array`)
		}
		list, ok := urls.([]any)
		if !ok {
			return nil, errors.New(`"urls" must be an array of strings`)
		}
		items = list
	default:
		return nil, errors.New("body must be an array of urls or an object with a urls array")
	}

	batch := make([]string, len(items))
	for i, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is not a string", i)
		}
		batch[i] = str
	}
	return batch, nil
}

// handleStats returns the frontier's per-state counts.
//
// Method: GET
// Path:   /stats
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.frontier.Stats(), http.StatusOK)
}

// handleCrawlStatus reports where one URL is in its lifecycle. The in-memory
// frontier answers first; the Redis mirror covers URLs it does not know.
//
// Method: GET
// Path:   /crawl/status?url=...
// Example:
//
//	curl "http://localhost:8081/crawl/status?url=https://example.com/"
func (s *server) handleCrawlStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	key, err := frontier.NormalizeKey(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if rec, ok := s.frontier.Get(key); ok {
		writeJSON(w, store.StatusFromRecord(rec, ""), http.StatusOK)
		return
	}
	if s.store == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status, ok, err := s.store.GetStatus(ctx, key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("status mirror read failed")
		http.Error(w, "failed to load status", http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, status, http.StatusOK)
}

func writeJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
