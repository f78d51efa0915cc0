package ports

import (
	"context"
	"time"

	"github.com/compliai/auditplanner/internal/domain"
)

// ProjectRepository defines the interface for audit project persistence.
// Every write targets a single project by its immutable id.
type ProjectRepository interface {
	// Create saves a new project together with its initial trail
	Create(ctx context.Context, project *domain.AuditProject) error

	// FindByID retrieves a project owned by ownerID
	FindByID(ctx context.Context, id, ownerID string) (*domain.AuditProject, error)

	// AppendTrailEntry atomically appends an entry and sets updated_at to its timestamp
	AppendTrailEntry(ctx context.Context, id string, entry domain.AuditTrailEntry) error

	// Complete atomically sets status Completed, the analysis fields and the policy.
	// Only a Generating project can be completed.
	Complete(ctx context.Context, id string, result domain.GapAnalysisResult, policy domain.GeneratedPolicy, at time.Time) error

	// MarkFailed moves a non-terminal project to Failed
	MarkFailed(ctx context.Context, id string, at time.Time) error

	// MarkStaleFailed moves a Generating project to Failed only while its updated_at
	// is still before the cutoff
	MarkStaleFailed(ctx context.Context, id string, before, at time.Time) error

	// UpdateDetails writes title and description of a project owned by ownerID
	UpdateDetails(ctx context.Context, id, ownerID, title string, description *string, at time.Time) error

	// UpdatePolicy replaces the policy of a Completed project owned by ownerID.
	// Any other status fails with domain.ErrPolicyNotEditable.
	UpdatePolicy(ctx context.Context, id, ownerID string, policy domain.GeneratedPolicy, at time.Time) error

	// ListByOwner returns the owner's projects, newest first
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.AuditProject, error)

	// ListStale returns projects in status whose updated_at is before the cutoff
	ListStale(ctx context.Context, status domain.ProjectStatus, before time.Time) ([]*domain.AuditProject, error)
}
