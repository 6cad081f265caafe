package models

import "time"

// URLStatus is the externally visible state of one URL in the frontier.
type URLStatus struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
