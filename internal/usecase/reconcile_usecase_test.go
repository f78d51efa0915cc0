package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/compliai/auditplanner/internal/adapter/persistence"
	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	ok       bool
	err      error
	acquired int
	released int
}

func (l *fakeLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if !l.ok {
		return nil, false, nil
	}
	l.acquired++
	return func() { l.released++ }, true, nil
}

func seedGenerating(t *testing.T, repo ports.ProjectRepository, updatedAt time.Time) *domain.AuditProject {
	t.Helper()
	p := domain.NewAuditProject("Stuck", nil, "SOC2", nil, "user-1")
	require.NoError(t, p.StartGeneration(updatedAt))
	p.UpdatedAt = updatedAt
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func TestReconcileUseCase_SweepFailsStaleProjects(t *testing.T) {
	repo := persistence.NewMemoryProjectRepository()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	stale := seedGenerating(t, repo, now.Add(-2*time.Hour))
	fresh := seedGenerating(t, repo, now.Add(-10*time.Minute))
	done := seedGenerating(t, repo, now.Add(-3*time.Hour))
	require.NoError(t, repo.Complete(ctx, done.ID, StaticAnalysis("SOC2", nil),
		domain.NewGeneratedPolicy("body", nil, now.Add(-3*time.Hour)), now.Add(-3*time.Hour)))

	locker := &fakeLocker{ok: true}
	uc := NewReconcileUseCase(repo, locker, time.Hour, nil)
	uc.now = func() time.Time { return now }

	failed, err := uc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)

	got, err := repo.FindByID(ctx, stale.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusFailed, got.Status)
	latest := got.LatestTrailEntry()
	require.NotNil(t, latest)
	assert.Equal(t, domain.ActionGenerationFailed, latest.Action)
	assert.Equal(t, "Policy generation failed: no workflow progress recorded since 2025-06-01T10:00:00Z; generation presumed interrupted", latest.Details)

	got, err = repo.FindByID(ctx, fresh.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusGenerating, got.Status)

	got, err = repo.FindByID(ctx, done.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusCompleted, got.Status)
}

// progressingRepository records workflow progress on every listed project
// right after ListStale returns
type progressingRepository struct {
	ports.ProjectRepository
	progressAt time.Time
}

func (r *progressingRepository) ListStale(ctx context.Context, status domain.ProjectStatus, before time.Time) ([]*domain.AuditProject, error) {
	projects, err := r.ProjectRepository.ListStale(ctx, status, before)
	for _, p := range projects {
		entry := domain.NewAuditTrailEntry(domain.ActionPolicyGenerationStarted, "Generating policy content for SOC2", "")
		entry.Timestamp = r.progressAt
		if appendErr := r.ProjectRepository.AppendTrailEntry(ctx, p.ID, entry); appendErr != nil {
			return nil, appendErr
		}
	}
	return projects, err
}

func TestReconcileUseCase_SkipsProjectsThatProgressAfterListing(t *testing.T) {
	inner := persistence.NewMemoryProjectRepository()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	stuck := seedGenerating(t, inner, now.Add(-2*time.Hour))

	uc := NewReconcileUseCase(&progressingRepository{ProjectRepository: inner, progressAt: now}, nil, time.Hour, nil)
	uc.now = func() time.Time { return now }

	failed, err := uc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	got, err := inner.FindByID(ctx, stuck.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusGenerating, got.Status)
	assert.Equal(t, domain.ActionPolicyGenerationStarted, got.LatestTrailEntry().Action)
}

func TestReconcileUseCase_LeaseHeldElsewhere(t *testing.T) {
	repo := persistence.NewMemoryProjectRepository()
	now := time.Now().UTC()
	stale := seedGenerating(t, repo, now.Add(-2*time.Hour))

	uc := NewReconcileUseCase(repo, &fakeLocker{ok: false}, time.Hour, nil)
	failed, err := uc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, failed)

	got, err := repo.FindByID(context.Background(), stale.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusGenerating, got.Status)

	uc = NewReconcileUseCase(repo, &fakeLocker{err: errors.New("redis down")}, time.Hour, nil)
	_, err = uc.Sweep(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestReconcileUseCase_RunSweepsUntilCancelled(t *testing.T) {
	repo := persistence.NewMemoryProjectRepository()
	stale := seedGenerating(t, repo, time.Now().UTC().Add(-2*time.Hour))
	uc := NewReconcileUseCase(repo, nil, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		uc.Run(ctx, 5*time.Millisecond)
		close(stopped)
	}()

	assert.Eventually(t, func() bool {
		got, err := repo.FindByID(context.Background(), stale.ID, "user-1")
		return err == nil && got.Status == domain.ProjectStatusFailed
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("reconcile loop did not stop")
	}
}

func TestStaleAfter(t *testing.T) {
	assert.Equal(t, 23*time.Minute, StaleAfter(DefaultWorkflowConfig(), 3*time.Minute, 5*time.Minute))
}
