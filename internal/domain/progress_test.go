package domain

import "testing"

func TestCalculateProgress(t *testing.T) {
	entry := func(action string) *AuditTrailEntry {
		return &AuditTrailEntry{Action: action}
	}

	tests := []struct {
		name     string
		status   string
		latest   *AuditTrailEntry
		expected int
	}{
		{"generating without trail", "Generating", nil, 20},
		{"generating after creation", "Generating", entry("Project Created"), 20},
		{"analysis started", "Generating", entry("Analysis Started"), 25},
		{"analysis complete", "Generating", entry("Analysis Complete"), 50},
		{"analysis fallback keeps base", "Generating", entry("Analysis Fallback"), 20},
		{"policy generation started", "GENERATING", entry("Policy Generation Started"), 70},
		{"policy generation complete", "generating", entry("Policy Generation Complete"), 90},
		{"project completed while generating", "Generating", entry("Project Completed"), 100},
		{"completed forces 100", "Completed", entry("Analysis Started"), 100},
		{"completed uppercase", "COMPLETED", nil, 100},
		{"failed is zero", "Failed", entry("Project Completed"), 0},
		{"failed lowercase", "failed", entry("Policy Generation Complete"), 0},
		{"draft", "Draft", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateProgress(tt.status, tt.latest); got != tt.expected {
				t.Errorf("Expected progress %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestCalculateProgress_TerminalIgnoresTrail(t *testing.T) {
	actions := []string{"", "Analysis Started", "Policy Generation Complete", "Generation Failed", "anything"}
	for _, a := range actions {
		if got := CalculateProgress("Completed", &AuditTrailEntry{Action: a}); got != 100 {
			t.Errorf("Completed with %q: expected 100, got %d", a, got)
		}
		if got := CalculateProgress("Failed", &AuditTrailEntry{Action: a}); got != 0 {
			t.Errorf("Failed with %q: expected 0, got %d", a, got)
		}
	}
}
