package dto

import "time"

// ResultFilters describe user-provided filters to narrow the results list.
type ResultFilters struct {
	Source     string
	Label      string
	SessionID  string
	DateAfter  time.Time
	DateBefore time.Time
	// TimeAfter and TimeBefore compare local time of day, "15:04".
	TimeAfter  string
	TimeBefore string
	Limit      int
	Offset     int
}
