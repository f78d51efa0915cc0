package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/ports"
	"github.com/compliai/auditplanner/pkg/logger"
)

// Export formats
const (
	ExportFormatPDF  = "pdf"
	ExportFormatDOCX = "docx"
	ExportFormatTXT  = "txt"
)

var supportedExportFormats = map[string]bool{
	ExportFormatPDF:  true,
	ExportFormatDOCX: true,
	ExportFormatTXT:  true,
}

// ExportOptions selects optional sections of an export
type ExportOptions struct {
	IncludeCitations  bool `json:"include_citations"`
	IncludeAuditTrail bool `json:"include_audit_trail"`
}

// DefaultExportOptions includes every section
func DefaultExportOptions() ExportOptions {
	return ExportOptions{IncludeCitations: true, IncludeAuditTrail: true}
}

// ExportResult is a rendered document ready for download
type ExportResult struct {
	Content     []byte
	Filename    string
	ContentType string
	Format      string
}

// ExportUseCase renders a project's policy through the registered renderers
type ExportUseCase struct {
	repo      ports.ProjectRepository
	renderers map[string]ports.PolicyRenderer
	logger    logger.Logger
}

// NewExportUseCase creates a new export use case. The TXT renderer is always registered;
// renderers passed in override it or add formats.
func NewExportUseCase(repo ports.ProjectRepository, log logger.Logger, renderers ...ports.PolicyRenderer) *ExportUseCase {
	if log == nil {
		log = logger.NewNopLogger()
	}
	uc := &ExportUseCase{
		repo:      repo,
		renderers: map[string]ports.PolicyRenderer{},
		logger:    log,
	}
	uc.Register(NewTXTRenderer())
	for _, r := range renderers {
		uc.Register(r)
	}
	return uc
}

// Register adds or replaces the renderer for its format
func (uc *ExportUseCase) Register(renderer ports.PolicyRenderer) {
	uc.renderers[strings.ToLower(renderer.Format())] = renderer
}

// Export renders the project's policy in format
func (uc *ExportUseCase) Export(ctx context.Context, projectID, ownerID, format string, opts ExportOptions) (*ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if !supportedExportFormats[format] {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedExportFormat, format)
	}

	project, err := uc.repo.FindByID(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	if project.GeneratedPolicy == nil {
		return nil, domain.ErrPolicyNotGenerated
	}

	renderer, ok := uc.renderers[format]
	if !ok {
		uc.logger.Warn(ctx, "No renderer registered for export format, falling back to txt", map[string]interface{}{
			"project_id": project.ID,
			"format":     format,
		})
		renderer = uc.renderers[ExportFormatTXT]
	}

	start := time.Now()
	content, err := renderer.Render(ctx, ports.ExportDocument{
		Title:             project.Title,
		Framework:         project.Framework,
		Policy:            *project.GeneratedPolicy,
		AuditTrail:        project.AuditTrail,
		ComplianceScore:   project.ComplianceScore,
		IncludeCitations:  opts.IncludeCitations,
		IncludeAuditTrail: opts.IncludeAuditTrail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", renderer.Format(), err)
	}

	logger.LogPerformance(ctx, uc.logger, "policy_export", time.Since(start), map[string]interface{}{
		"project_id": project.ID,
		"format":     renderer.Format(),
		"bytes":      len(content),
	})

	return &ExportResult{
		Content:     content,
		Filename:    ExportFilename(project.Title, project.Framework, renderer.Format()),
		ContentType: renderer.ContentType(),
		Format:      renderer.Format(),
	}, nil
}

// ExportFilename builds "<title>_<framework>.<ext>" with spaces replaced by underscores
func ExportFilename(title, framework, ext string) string {
	return fmt.Sprintf("%s_%s.%s", strings.ReplaceAll(title, " ", "_"), framework, ext)
}
