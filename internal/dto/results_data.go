package dto

// ResultsData is a paginated response payload for the results gallery.
type ResultsData struct {
	Results     []ResultInfo `json:"results"`
	OutputDir   string       `json:"outputDir"`
	Size        int64        `json:"size"`
	MaxSize     int64        `json:"maxSize"`
	Length      int          `json:"length"`
	TotalPages  int          `json:"totalPages"`
	CurrentPage int          `json:"currentPage"`
	Limit       int          `json:"pageSize"`
}

// TotalPages is the number of pages needed for length items.
func TotalPages(length, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (length + limit - 1) / limit
}
