package frontier

import (
	"errors"
	"fmt"
)

// ErrUnknownKey matches any *UnknownKeyError via errors.Is.
var ErrUnknownKey = errors.New("key is not in flight")

// ErrStaleClaim is returned by Expire when the claim it names has already
// been completed.
var ErrStaleClaim = errors.New("claim already completed")

// ValidationError reports a raw URL that cannot enter the frontier.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid url %q: %s", e.URL, e.Reason)
}

// UnknownKeyError is returned by Complete for a key that is not InFlight.
// Known is false when the key was never ingested.
type UnknownKeyError struct {
	Key   string
	Known bool
	State State
}

func (e *UnknownKeyError) Error() string {
	if !e.Known {
		return fmt.Sprintf("complete %q: key was never ingested", e.Key)
	}
	return fmt.Sprintf("complete %q: key is %s, not in flight", e.Key, e.State)
}

func (e *UnknownKeyError) Is(target error) bool {
	return target == ErrUnknownKey
}
