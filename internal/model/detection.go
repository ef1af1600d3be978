package model

// Detection is one detected object stored with its result.
type Detection struct {
	ID         int64   `json:"id"`
	ResultID   int64   `json:"result_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}
