// Package system provides the wall-clock implementation of ingest.Clock.
package system

import "time"

// Clock implements ingest.Clock using UTC wall time.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
