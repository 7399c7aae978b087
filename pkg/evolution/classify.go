package evolution

import "strings"

// Alert severities and types assigned by keyword inspection of message text.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"

	AlertTypeContradiction = "contradiction"
	AlertTypeAbnormalTrend = "abnormal_trend"
	AlertTypeCareGap       = "care_gap"
)

// ClassifyAlert inspects free text case-insensitively, first match wins:
// "contradiction" beats "monitoring need"/"abnormal lab", everything else is a
// care gap. A heuristic, not ground truth.
func ClassifyAlert(message string) (severity, alertType string) {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "contradiction"):
		return SeverityHigh, AlertTypeContradiction
	case strings.Contains(m, "monitoring need"), strings.Contains(m, "abnormal lab"):
		return SeverityHigh, AlertTypeAbnormalTrend
	default:
		return SeverityMedium, AlertTypeCareGap
	}
}
