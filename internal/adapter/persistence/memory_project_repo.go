package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/ports"
)

// MemoryProjectRepository implements ProjectRepository in process memory.
// Records are cloned on the way in and out so callers never share state.
type MemoryProjectRepository struct {
	mu       sync.RWMutex
	projects map[string]*domain.AuditProject
}

// NewMemoryProjectRepository creates a new in-memory project repository
func NewMemoryProjectRepository() ports.ProjectRepository {
	return &MemoryProjectRepository{projects: make(map[string]*domain.AuditProject)}
}

// Create saves a new project
func (r *MemoryProjectRepository) Create(ctx context.Context, project *domain.AuditProject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.projects[project.ID]; exists {
		return fmt.Errorf("audit project %s already exists", project.ID)
	}
	r.projects[project.ID] = project.Clone()
	return nil
}

// FindByID retrieves a project by id and owner
func (r *MemoryProjectRepository) FindByID(ctx context.Context, id, ownerID string) (*domain.AuditProject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[id]
	if !ok || p.OwnerID != ownerID {
		return nil, domain.ErrProjectNotFound
	}
	return p.Clone(), nil
}

// AppendTrailEntry appends an entry and sets updated_at
func (r *MemoryProjectRepository) AppendTrailEntry(ctx context.Context, id string, entry domain.AuditTrailEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok {
		return domain.ErrProjectNotFound
	}
	p.AuditTrail = append(p.AuditTrail, entry)
	p.UpdatedAt = entry.Timestamp
	return nil
}

// Complete stores the generation result on a Generating project
func (r *MemoryProjectRepository) Complete(ctx context.Context, id string, result domain.GapAnalysisResult, policy domain.GeneratedPolicy, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok {
		return domain.ErrProjectNotFound
	}
	policy.Citations = append([]domain.PolicyCitation{}, policy.Citations...)
	return p.Complete(result, policy, at)
}

// MarkFailed moves a Generating project to Failed
func (r *MemoryProjectRepository) MarkFailed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok {
		return domain.ErrProjectNotFound
	}
	return p.Fail(at)
}

// MarkStaleFailed fails a Generating project that has recorded no progress since before
func (r *MemoryProjectRepository) MarkStaleFailed(ctx context.Context, id string, before, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok {
		return domain.ErrProjectNotFound
	}
	if p.Status == domain.ProjectStatusGenerating && !p.UpdatedAt.Before(before) {
		return domain.ErrInvalidTransition
	}
	return p.Fail(at)
}

// UpdateDetails writes title and description
func (r *MemoryProjectRepository) UpdateDetails(ctx context.Context, id, ownerID, title string, description *string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok || p.OwnerID != ownerID {
		return domain.ErrProjectNotFound
	}

	p.Title = title
	p.Description = nil
	if description != nil {
		d := *description
		p.Description = &d
	}
	p.UpdatedAt = at
	return nil
}

// UpdatePolicy replaces the policy of a Completed project
func (r *MemoryProjectRepository) UpdatePolicy(ctx context.Context, id, ownerID string, policy domain.GeneratedPolicy, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.projects[id]
	if !ok || p.OwnerID != ownerID {
		return domain.ErrProjectNotFound
	}
	if p.Status != domain.ProjectStatusCompleted {
		return domain.ErrPolicyNotEditable
	}

	policy.Citations = append([]domain.PolicyCitation{}, policy.Citations...)
	p.GeneratedPolicy = &policy
	p.UpdatedAt = at
	return nil
}

// ListByOwner returns the owner's projects, newest first
func (r *MemoryProjectRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.AuditProject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	projects := []*domain.AuditProject{}
	for _, p := range r.projects {
		if p.OwnerID == ownerID {
			projects = append(projects, p.Clone())
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

// ListStale returns projects in status last updated before the cutoff
func (r *MemoryProjectRepository) ListStale(ctx context.Context, status domain.ProjectStatus, before time.Time) ([]*domain.AuditProject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	projects := []*domain.AuditProject{}
	for _, p := range r.projects {
		if p.Status == status && p.UpdatedAt.Before(before) {
			projects = append(projects, p.Clone())
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.Before(projects[j].UpdatedAt)
	})
	return projects, nil
}
