package models

import "time"

// CrawlCompletion is reported by a fetch worker once it is done with a job.
// Outcome is "success" or "failure".
type CrawlCompletion struct {
	DispatchID  string    `json:"dispatch_id,omitempty"`
	Key         string    `json:"key"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
