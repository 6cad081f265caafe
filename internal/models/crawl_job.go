package models

import (
	"time"

	"github.com/google/uuid"
)

// CrawlJob is one claimed URL handed to a fetch worker.
type CrawlJob struct {
	DispatchID string    `json:"dispatch_id"`
	Key        string    `json:"key"`
	URL        string    `json:"url"`
	Attempt    int       `json:"attempt"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewCrawlJob builds a job with a fresh dispatch ID. attempt is 1 for the
// first dispatch of a URL.
func NewCrawlJob(key, url string, attempt int) CrawlJob {
	return CrawlJob{
		DispatchID: uuid.NewString(),
		Key:        key,
		URL:        url,
		Attempt:    attempt,
		CreatedAt:  time.Now().UTC(),
	}
}
