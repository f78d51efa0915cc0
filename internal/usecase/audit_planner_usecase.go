package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/ports"
	"github.com/compliai/auditplanner/pkg/logger"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 500
)

// GapAnalysisEngine produces a gap analysis for a framework and optional document
type GapAnalysisEngine interface {
	Analyze(ctx context.Context, framework string, documentID *string) domain.GapAnalysisResult
}

// PolicyGenerator produces policy text for a gap analysis
type PolicyGenerator interface {
	Synthesize(ctx context.Context, analysis domain.GapAnalysisResult, title, framework string) PolicyDraft
	Fallback(analysis domain.GapAnalysisResult, title, framework, reason string) PolicyDraft
}

// WorkflowConfig holds the per-stage time limits of the generation workflow
type WorkflowConfig struct {
	AnalysisTimeout  time.Duration
	SynthesisTimeout time.Duration
}

// DefaultWorkflowConfig returns the default stage time limits
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		AnalysisTimeout:  5 * time.Minute,
		SynthesisTimeout: 10 * time.Minute,
	}
}

// AuditPlannerUseCase drives the audit project lifecycle
type AuditPlannerUseCase struct {
	repo        ports.ProjectRepository
	kb          ports.KnowledgeBase
	analyzer    GapAnalysisEngine
	synthesizer PolicyGenerator
	runner      ports.TaskRunner
	config      WorkflowConfig
	logger      logger.Logger
}

// NewAuditPlannerUseCase creates a new audit planner use case
func NewAuditPlannerUseCase(
	repo ports.ProjectRepository,
	kb ports.KnowledgeBase,
	analyzer GapAnalysisEngine,
	synthesizer PolicyGenerator,
	runner ports.TaskRunner,
	config WorkflowConfig,
	log logger.Logger,
) *AuditPlannerUseCase {
	defaults := DefaultWorkflowConfig()
	if config.AnalysisTimeout <= 0 {
		config.AnalysisTimeout = defaults.AnalysisTimeout
	}
	if config.SynthesisTimeout <= 0 {
		config.SynthesisTimeout = defaults.SynthesisTimeout
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &AuditPlannerUseCase{
		repo:        repo,
		kb:          kb,
		analyzer:    analyzer,
		synthesizer: synthesizer,
		runner:      runner,
		config:      config,
		logger:      log,
	}
}

// SubmitRequest represents a policy generation request
type SubmitRequest struct {
	Title            string  `json:"project_title"`
	Description      *string `json:"description,omitempty"`
	Framework        string  `json:"target_framework"`
	SourceDocumentID *string `json:"source_document_id,omitempty"`
	OwnerID          string  `json:"-"`
}

// SubmitResponse is returned as soon as the project is persisted
type SubmitResponse struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// StatusResponse summarizes generation progress
type StatusResponse struct {
	ProjectID       string               `json:"project_id"`
	Status          domain.ProjectStatus `json:"status"`
	Progress        int                  `json:"progress"`
	LatestAction    string               `json:"latest_action"`
	LatestDetails   string               `json:"latest_details"`
	ComplianceScore *int                 `json:"compliance_score,omitempty"`
	HasPolicy       bool                 `json:"has_policy"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// UpdateRequest holds the fields a user may edit; nil fields are left unchanged
type UpdateRequest struct {
	Title         *string `json:"project_title,omitempty"`
	Description   *string `json:"description,omitempty"`
	PolicyContent *string `json:"policy_content,omitempty"`
}

// ProjectSummary is the list view of a project
type ProjectSummary struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Framework       string               `json:"framework"`
	Status          domain.ProjectStatus `json:"status"`
	ComplianceScore *int                 `json:"compliance_score,omitempty"`
	HasPolicy       bool                 `json:"has_policy"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Submit creates a project and starts policy generation in the background.
// It returns before any AI work runs.
func (uc *AuditPlannerUseCase) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if err := validateSubmitRequest(req); err != nil {
		return nil, err
	}

	framework := canonicalFramework(req.Framework)
	project := domain.NewAuditProject(
		strings.TrimSpace(req.Title),
		optionalString(req.Description),
		framework,
		optionalString(req.SourceDocumentID),
		req.OwnerID,
	)
	if err := project.StartGeneration(project.CreatedAt); err != nil {
		return nil, err
	}
	project.AppendTrail(domain.NewAuditTrailEntry(
		domain.ActionProjectCreated,
		"Started policy generation for "+framework,
		req.OwnerID,
	))

	if err := uc.repo.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create audit project: %w", err)
	}

	uc.logger.Info(ctx, "Audit project created", map[string]interface{}{
		"project_id": project.ID,
		"framework":  framework,
		"owner_id":   req.OwnerID,
	})

	snapshot := project.Clone()
	uc.runner.Go("policy-generation:"+project.ID, func(runCtx context.Context) {
		uc.generate(logger.WithCorrelationID(runCtx, logger.CorrelationID(ctx)), snapshot)
	})

	return &SubmitResponse{
		ProjectID: project.ID,
		Status:    "started",
		Message:   "Policy generation has been initiated",
	}, nil
}

// generate is the detached workflow for one project. Stage failures demote to
// fallbacks; only a failed completion write or a panic moves the project to Failed.
func (uc *AuditPlannerUseCase) generate(ctx context.Context, project *domain.AuditProject) {
	start := time.Now()
	log := uc.logger.WithFields(map[string]interface{}{
		"project_id": project.ID,
		"framework":  project.Framework,
	})

	defer func() {
		if r := recover(); r != nil {
			uc.fail(ctx, project.ID, fmt.Errorf("unexpected error: %v", r), log)
		}
	}()

	uc.appendTrail(ctx, project.ID, domain.ActionAnalysisStarted,
		"Beginning document analysis and compliance assessment", log)

	analysis, err := runGuarded(ctx, "document analysis", uc.config.AnalysisTimeout,
		func(stageCtx context.Context) domain.GapAnalysisResult {
			return uc.analyzer.Analyze(stageCtx, project.Framework, project.SourceDocumentID)
		})
	if err != nil {
		log.Warn(ctx, "Analysis stage failed, using default analysis", map[string]interface{}{
			"stage": "analysis",
			"error": err.Error(),
		})
		analysis = DefaultAnalysis()
		uc.appendTrail(ctx, project.ID, domain.ActionAnalysisFallback,
			"Using fallback analysis due to error: "+err.Error(), log)
	} else {
		uc.appendTrail(ctx, project.ID, domain.ActionAnalysisComplete,
			fmt.Sprintf("Document analysis completed. Compliance score: %d%%", analysis.ComplianceScore), log)
	}

	uc.appendTrail(ctx, project.ID, domain.ActionPolicyGenerationStarted,
		"Generating policy content for "+project.Framework, log)

	draft, err := runGuarded(ctx, "policy generation", uc.config.SynthesisTimeout,
		func(stageCtx context.Context) PolicyDraft {
			return uc.synthesizer.Synthesize(stageCtx, analysis, project.Title, project.Framework)
		})
	if err != nil {
		log.Warn(ctx, "Synthesis stage failed, using fallback policy", map[string]interface{}{
			"stage": "synthesis",
			"error": err.Error(),
		})
		draft = uc.synthesizer.Fallback(analysis, project.Title, project.Framework, err.Error())
	}

	if draft.UsedFallback() {
		uc.appendTrail(ctx, project.ID, domain.ActionPolicyFallbackUsed,
			"Using fallback policy due to error: "+draft.FallbackReason, log)
	} else {
		uc.appendTrail(ctx, project.ID, domain.ActionPolicyGenerationDone,
			fmt.Sprintf("Generated policy with %d words", domain.WordCount(draft.Content)), log)
	}

	policy := domain.NewGeneratedPolicy(draft.Content, draft.Citations, time.Now().UTC())
	if err := uc.repo.Complete(ctx, project.ID, analysis, policy, policy.GeneratedAt); err != nil {
		uc.fail(ctx, project.ID, fmt.Errorf("failed to complete project: %w", err), log)
		return
	}

	uc.appendTrail(ctx, project.ID, domain.ActionProjectCompleted,
		"Policy generation completed successfully with framework citations", log)

	logger.LogPerformance(ctx, log, "policy_generation_workflow", time.Since(start), map[string]interface{}{
		"compliance_score": analysis.ComplianceScore,
		"analysis_source":  string(analysis.Source),
		"policy_fallback":  draft.UsedFallback(),
		"citations":        len(policy.Citations),
	})
}

// fail moves the project to Failed and records why
func (uc *AuditPlannerUseCase) fail(ctx context.Context, projectID string, cause error, log logger.Logger) {
	log.Error(ctx, "Policy generation failed", cause, nil)

	if err := uc.repo.MarkFailed(ctx, projectID, time.Now().UTC()); err != nil {
		log.Error(ctx, "Failed to update project status", err, map[string]interface{}{
			"status": string(domain.ProjectStatusFailed),
		})
	}
	uc.appendTrail(ctx, projectID, domain.ActionGenerationFailed,
		"Policy generation failed: "+cause.Error(), log)
}

// appendTrail writes a workflow trail entry; a write that still fails after the
// repository's retry is logged and dropped
func (uc *AuditPlannerUseCase) appendTrail(ctx context.Context, projectID, action, details string, log logger.Logger) {
	entry := domain.NewAuditTrailEntry(action, details, "")
	if err := uc.repo.AppendTrailEntry(ctx, projectID, entry); err != nil {
		log.Error(ctx, "Failed to append audit trail entry", err, map[string]interface{}{
			"action": action,
		})
	}
}

// runGuarded runs fn under a stage deadline. A timeout or panic is returned as
// an error; fn keeps running detached until it observes its cancelled context.
func runGuarded[T any](ctx context.Context, stage string, timeout time.Duration, fn func(context.Context) T) (T, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s failed: %v", stage, r)}
			}
		}()
		done <- outcome{value: fn(stageCtx)}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-stageCtx.Done():
		var zero T
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s timed out after %s", stage, timeout)
		}
		return zero, fmt.Errorf("%s cancelled: %w", stage, stageCtx.Err())
	}
}

// Get retrieves a project owned by ownerID
func (uc *AuditPlannerUseCase) Get(ctx context.Context, projectID, ownerID string) (*domain.AuditProject, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project ID is required", domain.ErrInvalidProject)
	}
	return uc.repo.FindByID(ctx, projectID, ownerID)
}

// GetStatus returns the project's status and estimated progress
func (uc *AuditPlannerUseCase) GetStatus(ctx context.Context, projectID, ownerID string) (*StatusResponse, error) {
	project, err := uc.Get(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}

	status := &StatusResponse{
		ProjectID:       project.ID,
		Status:          project.Status,
		ComplianceScore: project.ComplianceScore,
		HasPolicy:       project.HasPolicy(),
		CreatedAt:       project.CreatedAt,
		UpdatedAt:       project.UpdatedAt,
	}
	latest := project.LatestTrailEntry()
	if latest != nil {
		status.LatestAction = latest.Action
		status.LatestDetails = latest.Details
	}
	status.Progress = domain.CalculateProgress(string(project.Status), latest)
	return status, nil
}

// Update applies manual edits. Policy content can only change once generation has completed.
// Title/description and policy are written separately so an edit never touches fields
// the background workflow owns.
func (uc *AuditPlannerUseCase) Update(ctx context.Context, projectID, ownerID string, req UpdateRequest) (*domain.AuditProject, error) {
	project, err := uc.Get(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if err := validateTitle(title); err != nil {
			return nil, err
		}
		project.Title = title
	}
	if req.Description != nil {
		if err := validateDescription(*req.Description); err != nil {
			return nil, err
		}
		project.Description = optionalString(req.Description)
	}

	now := time.Now().UTC()
	if req.PolicyContent != nil {
		if err := project.UpdatePolicyContent(*req.PolicyContent, now); err != nil {
			return nil, err
		}
	}

	if req.Title != nil || req.Description != nil {
		if err := uc.repo.UpdateDetails(ctx, project.ID, ownerID, project.Title, project.Description, now); err != nil {
			return nil, fmt.Errorf("failed to update audit project: %w", err)
		}
	}

	if req.PolicyContent != nil {
		if err := uc.repo.UpdatePolicy(ctx, project.ID, ownerID, *project.GeneratedPolicy, now); err != nil {
			return nil, fmt.Errorf("failed to update audit project policy: %w", err)
		}

		entry := domain.NewAuditTrailEntry(domain.ActionPolicyUpdated,
			"Policy content was manually edited and saved", ownerID)
		if err := uc.repo.AppendTrailEntry(ctx, project.ID, entry); err != nil {
			uc.logger.Error(ctx, "Failed to append audit trail entry", err, map[string]interface{}{
				"project_id": project.ID,
				"action":     entry.Action,
			})
		}
	}

	return uc.Get(ctx, projectID, ownerID)
}

// List returns the owner's projects, newest first
func (uc *AuditPlannerUseCase) List(ctx context.Context, ownerID string) ([]ProjectSummary, error) {
	projects, err := uc.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit projects: %w", err)
	}

	summaries := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		summaries = append(summaries, ProjectSummary{
			ID:              p.ID,
			Title:           p.Title,
			Framework:       p.Framework,
			Status:          p.Status,
			ComplianceScore: p.ComplianceScore,
			HasPolicy:       p.HasPolicy(),
			CreatedAt:       p.CreatedAt,
			UpdatedAt:       p.UpdatedAt,
		})
	}
	return summaries, nil
}

// ListFrameworks returns the frameworks a project may target
func (uc *AuditPlannerUseCase) ListFrameworks(ctx context.Context) []domain.FrameworkInfo {
	if uc.kb == nil {
		return []domain.FrameworkInfo{}
	}
	return uc.kb.Frameworks()
}

// ControlMappingResponse lists the controls of another framework equivalent to one control
type ControlMappingResponse struct {
	Framework       string   `json:"framework"`
	ControlID       string   `json:"control_id"`
	TargetFramework string   `json:"target_framework"`
	MappedControls  []string `json:"mapped_controls"`
}

// SearchControls searches a framework's catalog. An empty query lists every control of the framework.
func (uc *AuditPlannerUseCase) SearchControls(ctx context.Context, framework, query string) ([]domain.ControlMatch, error) {
	framework = domain.NormalizeFramework(framework)
	if err := uc.requireFramework(framework); err != nil {
		return nil, err
	}

	if strings.TrimSpace(query) != "" {
		return uc.kb.SearchControls(query, framework), nil
	}

	matches := []domain.ControlMatch{}
	catalog, ok := uc.kb.GetCatalog(framework)
	if !ok {
		return matches, nil
	}
	for _, ctrl := range catalog.Controls {
		matches = append(matches, domain.ControlMatch{
			Framework:   catalog.Framework,
			ControlID:   ctrl.ID,
			Title:       ctrl.Title,
			Description: ctrl.Description,
			Category:    ctrl.Category,
		})
	}
	return matches, nil
}

// MapControl returns the controls of target equivalent to controlID in framework
func (uc *AuditPlannerUseCase) MapControl(ctx context.Context, framework, controlID, target string) (*ControlMappingResponse, error) {
	framework = domain.NormalizeFramework(framework)
	target = domain.NormalizeFramework(target)
	if err := uc.requireFramework(framework); err != nil {
		return nil, err
	}
	if err := uc.requireFramework(target); err != nil {
		return nil, err
	}

	catalog, ok := uc.kb.GetCatalog(framework)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no control catalog", domain.ErrFrameworkNotFound, framework)
	}
	if _, ok := catalog.Control(controlID); !ok {
		return nil, fmt.Errorf("%w: control %s is not part of %s", domain.ErrFrameworkNotFound, controlID, framework)
	}

	return &ControlMappingResponse{
		Framework:       framework,
		ControlID:       controlID,
		TargetFramework: target,
		MappedControls:  uc.kb.MappedControls(framework, controlID, target),
	}, nil
}

func (uc *AuditPlannerUseCase) requireFramework(framework string) error {
	if uc.kb == nil || framework == "" || !uc.kb.Supports(framework) {
		return fmt.Errorf("%w: %s", domain.ErrFrameworkNotFound, framework)
	}
	return nil
}

func validateSubmitRequest(req SubmitRequest) error {
	if err := validateTitle(strings.TrimSpace(req.Title)); err != nil {
		return err
	}
	if req.Description != nil {
		if err := validateDescription(*req.Description); err != nil {
			return err
		}
	}
	if domain.NormalizeFramework(req.Framework) == "" {
		return fmt.Errorf("%w: target framework is required", domain.ErrInvalidProject)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return fmt.Errorf("%w: owner is required", domain.ErrInvalidProject)
	}
	return nil
}

func validateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("%w: project title is required", domain.ErrInvalidProject)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return fmt.Errorf("%w: project title must be at most %d characters", domain.ErrInvalidProject, maxTitleLength)
	}
	return nil
}

func validateDescription(description string) error {
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return fmt.Errorf("%w: description must be at most %d characters", domain.ErrInvalidProject, maxDescriptionLength)
	}
	return nil
}

func optionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
