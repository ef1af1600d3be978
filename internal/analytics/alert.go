package analytics

import "fmt"

// Alert is the outcome of comparing an object count with the threshold.
type Alert struct {
	Active    bool   `json:"active"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
	Message   string `json:"message"`
}

// EvaluateAlert fires when count >= threshold.
func EvaluateAlert(count, threshold int) Alert {
	a := Alert{Count: count, Threshold: threshold}
	if count >= threshold {
		a.Active = true
		a.Message = fmt.Sprintf("Alert: %d objects detected (threshold %d)", count, threshold)
		return a
	}
	a.Message = fmt.Sprintf("All clear: %d objects detected (threshold %d)", count, threshold)
	return a
}
