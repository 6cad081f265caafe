package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"relentless-frontier/internal/models"
)

// HTTPForwarder posts each job to a crawler that speaks the same
// POST /crawl contract as this service: a JSON array of URL strings.
type HTTPForwarder struct {
	client *http.Client
	url    string
}

// NewHTTPForwarder returns a forwarder for target. A nil client gets a 30s
// timeout client.
func NewHTTPForwarder(client *http.Client, target string) *HTTPForwarder {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPForwarder{client: client, url: target}
}

// WriteJob sends job.URL and treats any non-2xx response as a failure.
func (f *HTTPForwarder) WriteJob(ctx context.Context, job models.CrawlJob) error {
	payload, err := json.Marshal([]string{job.URL})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dispatch-Id", job.DispatchID)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward %s: %w", job.Key, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward %s: crawler returned status %d", job.Key, resp.StatusCode)
	}
	return nil
}

// LogWriter logs each job and reports success. Useful for local runs without
// a downstream crawler.
type LogWriter struct {
	log *logrus.Entry
}

// NewLogWriter returns a LogWriter that logs at info level.
func NewLogWriter(log *logrus.Entry) *LogWriter {
	return &LogWriter{log: log}
}

// WriteJob logs the job.
func (w *LogWriter) WriteJob(_ context.Context, job models.CrawlJob) error {
	w.log.WithFields(logrus.Fields{
		"key":         job.Key,
		"url":         job.URL,
		"attempt":     job.Attempt,
		"dispatch_id": job.DispatchID,
	}).Info("crawl job")
	return nil
}
