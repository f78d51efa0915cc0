package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProjectStatus represents the lifecycle state of an audit project.
// The capitalized form is canonical and is what gets persisted.
type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "Draft"
	ProjectStatusGenerating ProjectStatus = "Generating"
	ProjectStatusReview     ProjectStatus = "Review"
	ProjectStatusCompleted  ProjectStatus = "Completed"
	ProjectStatusFailed     ProjectStatus = "Failed"
)

var projectStatuses = []ProjectStatus{
	ProjectStatusDraft,
	ProjectStatusGenerating,
	ProjectStatusReview,
	ProjectStatusCompleted,
	ProjectStatusFailed,
}

// ParseProjectStatus normalizes any casing ("COMPLETED", "completed") to the canonical status
func ParseProjectStatus(value string) (ProjectStatus, bool) {
	trimmed := strings.TrimSpace(value)
	for _, s := range projectStatuses {
		if strings.EqualFold(trimmed, string(s)) {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status can never change again
func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusFailed
}

// Draft and Review have no inbound transitions; Review is reserved for a manual review step.
var allowedTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectStatusDraft:      {ProjectStatusGenerating},
	ProjectStatusGenerating: {ProjectStatusCompleted, ProjectStatusFailed},
}

// CanTransitionTo reports whether the state machine allows moving from s to next
func (s ProjectStatus) CanTransitionTo(next ProjectStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AuditProject is a single gap-analysis and policy-generation request
type AuditProject struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Description      *string           `json:"description,omitempty"`
	Framework        string            `json:"framework"`
	SourceDocumentID *string           `json:"source_document_id,omitempty"`
	Status           ProjectStatus     `json:"status"`
	OwnerID          string            `json:"owner_id"`
	ComplianceScore  *int              `json:"compliance_score,omitempty"`
	CoveredControls  []string          `json:"covered_controls"`
	MissingControls  []string          `json:"missing_controls"`
	GeneratedPolicy  *GeneratedPolicy  `json:"generated_policy,omitempty"`
	AuditTrail       []AuditTrailEntry `json:"audit_trail"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewAuditProject creates a project in Draft state
func NewAuditProject(title string, description *string, framework string, sourceDocumentID *string, ownerID string) *AuditProject {
	now := time.Now().UTC()
	return &AuditProject{
		ID:               uuid.NewString(),
		Title:            title,
		Description:      description,
		Framework:        framework,
		SourceDocumentID: sourceDocumentID,
		Status:           ProjectStatusDraft,
		OwnerID:          ownerID,
		CoveredControls:  []string{},
		MissingControls:  []string{},
		AuditTrail:       []AuditTrailEntry{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// StartGeneration moves a Draft project into Generating
func (p *AuditProject) StartGeneration(at time.Time) error {
	return p.transition(ProjectStatusGenerating, at)
}

// Complete records the analysis outcome and the generated policy
func (p *AuditProject) Complete(result GapAnalysisResult, policy GeneratedPolicy, at time.Time) error {
	if err := p.transition(ProjectStatusCompleted, at); err != nil {
		return err
	}
	score := ClampScore(result.ComplianceScore)
	p.ComplianceScore = &score
	p.CoveredControls = copyStrings(result.CoveredControls)
	p.MissingControls = copyStrings(result.MissingControls)
	p.GeneratedPolicy = &policy
	return nil
}

// Fail marks a generating project as failed
func (p *AuditProject) Fail(at time.Time) error {
	return p.transition(ProjectStatusFailed, at)
}

func (p *AuditProject) transition(next ProjectStatus, at time.Time) error {
	if p.Status.IsTerminal() {
		return ErrTerminalState
	}
	if !p.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	p.Status = next
	p.UpdatedAt = at
	return nil
}

// AppendTrail adds an entry to the audit trail and bumps updated_at
func (p *AuditProject) AppendTrail(entry AuditTrailEntry) {
	p.AuditTrail = append(p.AuditTrail, entry)
	if entry.Timestamp.After(p.UpdatedAt) {
		p.UpdatedAt = entry.Timestamp
	}
}

// LatestTrailEntry returns the entry with the greatest timestamp, later entries win ties
func (p *AuditProject) LatestTrailEntry() *AuditTrailEntry {
	var latest *AuditTrailEntry
	for i := range p.AuditTrail {
		entry := &p.AuditTrail[i]
		if latest == nil || !entry.Timestamp.Before(latest.Timestamp) {
			latest = entry
		}
	}
	return latest
}

// UpdatePolicyContent applies a manual edit to the generated policy
func (p *AuditProject) UpdatePolicyContent(content string, at time.Time) error {
	if p.Status != ProjectStatusCompleted {
		return ErrPolicyNotEditable
	}
	if p.GeneratedPolicy == nil {
		policy := NewGeneratedPolicy(content, nil, at)
		p.GeneratedPolicy = &policy
	} else {
		p.GeneratedPolicy.Content = content
		p.GeneratedPolicy.WordCount = WordCount(content)
	}
	p.UpdatedAt = at
	return nil
}

// HasPolicy reports whether a policy has been generated
func (p *AuditProject) HasPolicy() bool {
	return p.GeneratedPolicy != nil
}

// Clone returns a deep copy so callers can't mutate shared state
func (p *AuditProject) Clone() *AuditProject {
	c := *p
	if p.Description != nil {
		d := *p.Description
		c.Description = &d
	}
	if p.SourceDocumentID != nil {
		s := *p.SourceDocumentID
		c.SourceDocumentID = &s
	}
	if p.ComplianceScore != nil {
		score := *p.ComplianceScore
		c.ComplianceScore = &score
	}
	c.CoveredControls = copyStrings(p.CoveredControls)
	c.MissingControls = copyStrings(p.MissingControls)
	c.AuditTrail = append([]AuditTrailEntry{}, p.AuditTrail...)
	if p.GeneratedPolicy != nil {
		policy := *p.GeneratedPolicy
		policy.Citations = append([]PolicyCitation{}, p.GeneratedPolicy.Citations...)
		c.GeneratedPolicy = &policy
	}
	return &c
}

// NormalizeFramework turns user input such as "iso 27001" or "nist-csf" into a catalog key
func NormalizeFramework(framework string) string {
	key := strings.ToUpper(strings.TrimSpace(framework))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	return key
}

// ClampScore bounds a compliance score to [0,100]
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// WordCount counts whitespace-separated words
func WordCount(content string) int {
	return len(strings.Fields(content))
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
