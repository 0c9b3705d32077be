package models

import "time"

// DecodedReading is the outcome of one completed command, as handed to collaborators.
type DecodedReading struct {
	Name      string    `json:"name"`
	PID       string    `json:"pid"`
	Mode      int       `json:"mode"`
	Value     string    `json:"value"`
	Unit      string    `json:"unit"`
	RawValue  string    `json:"raw"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"error"`
}

// Age is derived from Timestamp and is never stored.
func (r DecodedReading) Age(now time.Time) time.Duration {
	if r.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(r.Timestamp)
}

// Stale reports whether the reading is older than maxAge. A zero maxAge disables staleness.
func (r DecodedReading) Stale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return r.Age(now) > maxAge
}

// Display renders value and unit for humans.
func (r DecodedReading) Display() string {
	if r.IsError {
		return "error: " + r.Value
	}
	if r.Unit == "" {
		return r.Value
	}
	return r.Value + " " + r.Unit
}
