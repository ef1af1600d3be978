package dto

import (
	"encoding/json"
	"time"
)

// ResultInfo is one archived output as listed in the gallery.
type ResultInfo struct {
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Date        time.Time `json:"date"`
	TimeOfDay   time.Time `json:"timeOfDay"`
	ObjectCount int       `json:"objectCount"`
	Frames      int       `json:"frames"`
	Labels      []string  `json:"labels"`
	Size        int64     `json:"size"`
}

// MarshalJSON formats date and time-of-day the way the gallery displays them.
func (r ResultInfo) MarshalJSON() ([]byte, error) {
	type Alias ResultInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      r.Date.Format("02-01-2006"),
		TimeOfDay: r.TimeOfDay.Format("15:04"),
		Alias:     (Alias)(r),
	})
}
