package frontier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the dispatch state of a URL record.
type State int

const (
	Pending State = iota
	InFlight
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Outcome is what a worker reports when it finishes with a claimed URL.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// ParseOutcome maps "success" / "failure" (case-insensitive) to an Outcome.
func ParseOutcome(value string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "success":
		return Success, nil
	case "failure":
		return Failure, nil
	default:
		return Failure, fmt.Errorf("unknown outcome %q", value)
	}
}

// Record is a copy of the frontier's view of one URL.
type Record struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	State    State  `json:"state"`
	Attempts int    `json:"attempts"` // failures reported so far
	Seq      uint64 `json:"seq"`      // ingestion sequence number
}

// Rejection describes one URL dropped during ingestion.
type Rejection struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// IngestResult aggregates the per-URL outcomes of one batch.
type IngestResult struct {
	Accepted   int         `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	Rejected   int         `json:"rejected"`
	Rejections []Rejection `json:"-"`
}

// Stats is a point-in-time snapshot of the frontier.
type Stats struct {
	Pending  int `json:"pending"`
	InFlight int `json:"inFlight"`
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}
