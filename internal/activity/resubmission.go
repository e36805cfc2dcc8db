package activity

// ResubmissionThreshold is the solved count above which a re-submission has to
// improve on the recorded solution to replace it.
const ResubmissionThreshold = 500

// Metrics are the judge's measurements of one accepted submission.
// Lower is better for both.
type Metrics struct {
	RuntimeMs float64 `json:"runtimeMs"`
	MemoryMB  float64 `json:"memoryMb"`
}

// ValidateResubmission decides whether next may replace prev. Up to the
// threshold every re-submission is accepted. Above it, a re-submission that is
// worse on runtime AND on memory is rejected.
func ValidateResubmission(totalSolved int, prev, next Metrics) bool {
	if totalSolved <= ResubmissionThreshold {
		return true
	}
	worseRuntime := next.RuntimeMs > prev.RuntimeMs
	worseMemory := next.MemoryMB > prev.MemoryMB
	return !(worseRuntime && worseMemory)
}
