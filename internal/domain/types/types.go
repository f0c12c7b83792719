// Package types contains the read shapes shared by the service and the operator API.
package types

// Standing is one ranked competitor result.
type Standing struct {
	Rank         int     `json:"rank"`
	CompetitorID string  `json:"competitor_id"`
	Repository   string  `json:"repository"`
	RawValue     float64 `json:"raw_value"`
	Performance  string  `json:"performance"`
	Date         string  `json:"date"`
}

// Failed reports whether the result is the failure value.
func (s Standing) Failed() bool {
	return s.RawValue == 0
}
