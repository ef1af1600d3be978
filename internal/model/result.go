package model

import "time"

// Result is an archived annotated output (image, webcam frame or video).
type Result struct {
	ID          int64     `json:"id"`
	Filename    string    `json:"filename"`
	SessionID   string    `json:"session_id"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	FilePath    string    `json:"filepath"`
	FileSize    int64     `json:"filesize"`
	ObjectCount int       `json:"object_count"`
	Frames      int       `json:"frames"`
}

// ResultStats contains statistics about archived results.
type ResultStats struct {
	TotalResults   int            `json:"total_results"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	PerSource      map[string]int `json:"per_source"`
	LabelCounts    map[string]int `json:"label_counts"`
}
