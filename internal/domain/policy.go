package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditTrailEntry is one append-only record in a project's history
type AuditTrailEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	ActorID   string    `json:"actor_id,omitempty"`
}

// Trail actions written by the generation workflow and the update path
const (
	ActionProjectCreated          = "Project Created"
	ActionAnalysisStarted         = "Analysis Started"
	ActionAnalysisComplete        = "Analysis Complete"
	ActionAnalysisFallback        = "Analysis Fallback"
	ActionPolicyGenerationStarted = "Policy Generation Started"
	ActionPolicyGenerationDone    = "Policy Generation Complete"
	ActionPolicyFallbackUsed      = "Policy Fallback Used"
	ActionProjectCompleted        = "Project Completed"
	ActionGenerationFailed        = "Generation Failed"
	ActionPolicyUpdated           = "Policy Updated"
)

// NewAuditTrailEntry creates a trail entry stamped with the current time
func NewAuditTrailEntry(action, details, actorID string) AuditTrailEntry {
	return AuditTrailEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Details:   details,
		ActorID:   actorID,
	}
}

// GeneratedPolicy is the policy document owned by exactly one project
type GeneratedPolicy struct {
	ID          string           `json:"id"`
	Content     string           `json:"content"`
	Citations   []PolicyCitation `json:"citations"`
	WordCount   int              `json:"word_count"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// NewGeneratedPolicy creates a policy and computes its word count
func NewGeneratedPolicy(content string, citations []PolicyCitation, at time.Time) GeneratedPolicy {
	if citations == nil {
		citations = []PolicyCitation{}
	}
	return GeneratedPolicy{
		ID:          uuid.NewString(),
		Content:     content,
		Citations:   citations,
		WordCount:   WordCount(content),
		GeneratedAt: at,
	}
}

// PolicyCitation binds a policy section to a framework control
type PolicyCitation struct {
	ControlID     string `json:"control_id"`
	ControlTitle  string `json:"control_title"`
	Framework     string `json:"framework"`
	Section       string `json:"section"`
	Description   string `json:"description"`
	PolicySection string `json:"policy_section"`
}
