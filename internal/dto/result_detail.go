package dto

// ObjectInfo is one detected object of an archived result.
type ObjectInfo struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// ResultDetail is one archived output with its bounding boxes.
type ResultDetail struct {
	Result    ResultInfo   `json:"result"`
	SessionID string       `json:"sessionId"`
	Objects   []ObjectInfo `json:"objects"`
}
