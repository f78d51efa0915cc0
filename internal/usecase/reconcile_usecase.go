package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/ports"
	"github.com/compliai/auditplanner/pkg/logger"
)

const reconcileLockKey = "auditplanner:reconcile"

// ReconcileUseCase fails projects whose generation workflow stopped making progress,
// for example because the process restarted mid-generation.
type ReconcileUseCase struct {
	repo       ports.ProjectRepository
	locker     ports.Locker
	staleAfter time.Duration
	logger     logger.Logger
	now        func() time.Time
}

// NewReconcileUseCase creates a new reconcile use case. locker may be nil on a single replica.
// staleAfter should exceed the sum of all stage timeouts.
func NewReconcileUseCase(repo ports.ProjectRepository, locker ports.Locker, staleAfter time.Duration, log logger.Logger) *ReconcileUseCase {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ReconcileUseCase{
		repo:       repo,
		locker:     locker,
		staleAfter: staleAfter,
		logger:     log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StaleAfter returns the no-progress window after which a Generating project is failed
func StaleAfter(workflow WorkflowConfig, queryTimeout, grace time.Duration) time.Duration {
	return workflow.AnalysisTimeout + workflow.SynthesisTimeout + queryTimeout + grace
}

// Sweep fails every stale Generating project and returns how many were failed
func (uc *ReconcileUseCase) Sweep(ctx context.Context) (int, error) {
	if uc.locker != nil {
		release, ok, err := uc.locker.TryAcquire(ctx, reconcileLockKey, uc.staleAfter)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire reconcile lease: %w", err)
		}
		if !ok {
			uc.logger.Debug(ctx, "Reconcile sweep already running elsewhere", nil)
			return 0, nil
		}
		defer release()
	}

	cutoff := uc.now().Add(-uc.staleAfter)
	stale, err := uc.repo.ListStale(ctx, domain.ProjectStatusGenerating, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale projects: %w", err)
	}

	failed := 0
	for _, project := range stale {
		if err := uc.repo.MarkStaleFailed(ctx, project.ID, cutoff, uc.now()); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrTerminalState) {
				uc.logger.Debug(ctx, "Project moved on since it was listed, skipping", map[string]interface{}{
					"project_id": project.ID,
				})
				continue
			}
			uc.logger.Warn(ctx, "Failed to mark stale project as failed", map[string]interface{}{
				"project_id": project.ID,
				"error":      err.Error(),
			})
			continue
		}

		details := fmt.Sprintf("Policy generation failed: no workflow progress recorded since %s; generation presumed interrupted",
			project.UpdatedAt.UTC().Format(time.RFC3339))
		entry := domain.NewAuditTrailEntry(domain.ActionGenerationFailed, details, "")
		if err := uc.repo.AppendTrailEntry(ctx, project.ID, entry); err != nil {
			uc.logger.Error(ctx, "Failed to append audit trail entry", err, map[string]interface{}{
				"project_id": project.ID,
			})
		}
		failed++
	}

	if failed > 0 {
		uc.logger.Warn(ctx, "Stale generating projects marked as failed", map[string]interface{}{
			"count":  failed,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	return failed, nil
}

// Run sweeps every interval until ctx is done
func (uc *ReconcileUseCase) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := uc.Sweep(ctx); err != nil {
				uc.logger.Error(ctx, "Reconcile sweep failed", err, nil)
			}
		}
	}
}
