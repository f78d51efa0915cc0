package domain

import "strings"

const (
	progressGenerating = 20
	progressCompleted  = 100
	progressFailed     = 0
)

// progressMilestones is checked in order, first match wins
var progressMilestones = []struct {
	marker   string
	progress int
}{
	{"analysis started", 25},
	{"analysis complete", 50},
	{"policy generation started", 70},
	{"policy generation complete", 90},
	{"project completed", 100},
}

// CalculateProgress estimates completion from the status and the latest trail entry
func CalculateProgress(status string, latest *AuditTrailEntry) int {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed":
		return progressCompleted
	case "failed":
		return progressFailed
	case "generating":
		if latest == nil {
			return progressGenerating
		}
		action := strings.ToLower(latest.Action)
		for _, m := range progressMilestones {
			if strings.Contains(action, m.marker) {
				return m.progress
			}
		}
		return progressGenerating
	default:
		return 0
	}
}
