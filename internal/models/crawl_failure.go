package models

import "time"

// CrawlFailure is published to the dead-letter topic when a URL exhausts its
// retries.
type CrawlFailure struct {
	Key      string    `json:"key"`
	URL      string    `json:"url"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
