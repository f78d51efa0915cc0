package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/parser"
	"github.com/compliai/auditplanner/internal/ports"
	"github.com/compliai/auditplanner/pkg/logger"
)

const (
	coveragePromptControls = 20
	coverageEvidenceLimit  = 10
)

var errUnparseableCoverage = errors.New("coverage answer contained neither a score nor control ids")

// GapAnalyzer compares a source document against a framework's controls.
// Document analysis goes through the retrieval service; every failure on that
// path demotes to the static tables, so Analyze always produces a result.
type GapAnalyzer struct {
	kb           ports.KnowledgeBase
	retriever    ports.DocumentRetriever
	extractor    *ControlExtractor
	queryTimeout time.Duration
	logger       logger.Logger
}

// NewGapAnalyzer creates a new gap analyzer. retriever and extractor may be nil.
func NewGapAnalyzer(
	kb ports.KnowledgeBase,
	retriever ports.DocumentRetriever,
	extractor *ControlExtractor,
	queryTimeout time.Duration,
	log logger.Logger,
) *GapAnalyzer {
	if queryTimeout <= 0 {
		queryTimeout = 3 * time.Minute
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &GapAnalyzer{
		kb:           kb,
		retriever:    retriever,
		extractor:    extractor,
		queryTimeout: queryTimeout,
		logger:       log,
	}
}

// Analyze produces the gap analysis for framework, using the document when one is given
func (a *GapAnalyzer) Analyze(ctx context.Context, framework string, documentID *string) domain.GapAnalysisResult {
	framework = domain.NormalizeFramework(framework)
	controls := a.FrameworkControls(framework)

	if documentID == nil || strings.TrimSpace(*documentID) == "" || a.retriever == nil {
		a.logger.Info(ctx, "Using framework-based analysis", map[string]interface{}{
			"framework": framework,
			"reason":    "no document or retrieval service",
		})
		return StaticAnalysis(framework, controls)
	}

	result, err := a.analyzeDocument(ctx, framework, *documentID, controls)
	if err != nil {
		a.logger.Warn(ctx, "Document analysis failed, using framework-based analysis", map[string]interface{}{
			"framework":   framework,
			"document_id": *documentID,
			"stage":       "analysis",
			"error":       err.Error(),
		})
		return StaticAnalysis(framework, controls)
	}
	return result
}

// FrameworkControls resolves the control ids considered for a framework
func (a *GapAnalyzer) FrameworkControls(framework string) []string {
	framework = domain.NormalizeFramework(framework)
	if a.kb != nil {
		if catalog, ok := a.kb.GetCatalog(framework); ok {
			return catalog.ControlIDs()
		}
	}
	if ids, ok := minimalControlIDs[framework]; ok {
		return cloneStrings(ids)
	}
	return cloneStrings(genericControlIDs)
}

func (a *GapAnalyzer) analyzeDocument(ctx context.Context, framework, documentID string, controls []string) (domain.GapAnalysisResult, error) {
	evidence := a.extractEvidence(ctx, framework, documentID)

	queryCtx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	answer, err := a.retriever.Query(queryCtx, documentID, coveragePrompt(framework, controls, evidence))
	if err != nil {
		return domain.GapAnalysisResult{}, fmt.Errorf("failed to query document: %w", err)
	}

	result, ok := ParseCoverage(answer.Answer, framework, controls)
	if !ok {
		return domain.GapAnalysisResult{}, errUnparseableCoverage
	}

	if evidence != nil {
		result.CoveredControls, result.MissingControls = mergeEvidence(
			result.CoveredControls, result.MissingControls, evidence.MappedControlIDs(framework), controls)
	}
	return result, nil
}

// extractEvidence runs chunked extraction over the document; failures only drop the enrichment
func (a *GapAnalyzer) extractEvidence(ctx context.Context, framework, documentID string) *domain.ExtractionResult {
	if a.extractor == nil {
		return nil
	}

	budget := a.extractionBudget(ctx)
	if budget <= 0 {
		a.logger.Debug(ctx, "No time left for extraction before the coverage query", map[string]interface{}{
			"document_id": documentID,
		})
		return nil
	}

	extractCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	chunks, err := a.retriever.Chunks(extractCtx, documentID)
	if err != nil {
		a.logger.Debug(ctx, "Document chunks unavailable, skipping extraction", map[string]interface{}{
			"document_id": documentID,
			"error":       err.Error(),
		})
		return nil
	}
	if len(chunks) == 0 {
		return nil
	}

	result := a.extractor.Extract(extractCtx, chunks, []string{framework})
	if result.AnalysisSummary.IdentifiedControlsCount == 0 {
		return nil
	}
	return result
}

// extractionBudget is the time extraction may use while still leaving a full
// query timeout for the coverage query before ctx's deadline
func (a *GapAnalyzer) extractionBudget(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return a.queryTimeout
	}
	remaining := time.Until(deadline) - a.queryTimeout
	if remaining > a.queryTimeout {
		return a.queryTimeout
	}
	return remaining
}

func coveragePrompt(framework string, controls []string, evidence *domain.ExtractionResult) string {
	listed := controls
	if len(listed) > coveragePromptControls {
		listed = listed[:coveragePromptControls]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this document for compliance with %s framework controls.\n\n", framework)
	fmt.Fprintf(&b, "Framework Controls to Check: %s\n\n", strings.Join(listed, ", "))

	if evidence != nil {
		b.WriteString("Controls already identified in the document:\n")
		for i, c := range evidence.MappedControls {
			if i == coverageEvidenceLimit {
				break
			}
			fmt.Fprintf(&b, "- %s\n", c.AIControlSummary)
		}
		b.WriteString("\n")
	}

	b.WriteString("Please provide a JSON response with these exact keys:\n")
	b.WriteString("{\n")
	b.WriteString(`  "compliance_score": <number between 0-100>,` + "\n")
	b.WriteString(`  "covered_controls": [<list of control IDs that are covered>],` + "\n")
	b.WriteString(`  "missing_controls": [<list of control IDs that are missing>],` + "\n")
	b.WriteString(`  "gaps": [<list of key gaps that need to be addressed>]` + "\n")
	b.WriteString("}\n\n")
	b.WriteString("Keep the response concise and focus on the most critical controls.")
	return b.String()
}

// ParseCoverage reads a coverage answer. Embedded JSON is preferred; otherwise a
// score phrase and control-id tokens are pulled from the text, the ids split in
// half as covered and missing. Fields that are absent or of the wrong type are
// replaced with defaults derived from controls. It reports false when the text
// yields nothing usable.
func ParseCoverage(answer, framework string, controls []string) (domain.GapAnalysisResult, bool) {
	firstHalf, secondHalf := parser.SplitHalves(controls)

	var raw map[string]interface{}
	if err := parser.DecodeObject(answer, &raw); err == nil {
		result := domain.GapAnalysisResult{
			ComplianceScore:   validationScore,
			CoveredControls:   firstHalf,
			MissingControls:   secondHalf,
			Gaps:              cloneStrings(validationGaps),
			FrameworkControls: cloneStrings(controls),
			Source:            domain.AnalysisSourceDocument,
		}
		if score, ok := parser.IntValue(raw["compliance_score"]); ok {
			result.ComplianceScore = domain.ClampScore(score)
		}
		if covered, ok := parser.StringList(raw["covered_controls"]); ok {
			result.CoveredControls = covered
		}
		if missing, ok := parser.StringList(raw["missing_controls"]); ok {
			result.MissingControls = missing
		}
		if gaps, ok := parser.StringList(raw["gaps"]); ok {
			result.Gaps = gaps
		}
		return result, true
	}

	score, scoreFound := parser.Score(answer)
	ids := parser.ControlIDs(answer, framework)
	if !scoreFound && len(ids) == 0 {
		return domain.GapAnalysisResult{}, false
	}

	result := domain.GapAnalysisResult{
		ComplianceScore:   validationScore,
		CoveredControls:   firstHalf,
		MissingControls:   secondHalf,
		Gaps:              cloneStrings(validationGaps),
		FrameworkControls: cloneStrings(controls),
		Source:            domain.AnalysisSourceHeuristic,
	}
	if scoreFound {
		result.ComplianceScore = domain.ClampScore(score)
	}
	if len(ids) > 0 {
		result.CoveredControls, result.MissingControls = parser.SplitHalves(ids)
	}
	return result, true
}

// mergeEvidence moves catalog controls found by extraction into covered
func mergeEvidence(covered, missing, mapped, controls []string) ([]string, []string) {
	inCatalog := make(map[string]bool, len(controls))
	for _, id := range controls {
		inCatalog[id] = true
	}

	found := make(map[string]bool)
	for _, id := range mapped {
		if inCatalog[id] {
			found[id] = true
		}
	}
	if len(found) == 0 {
		return covered, missing
	}

	mergedCovered := cloneStrings(covered)
	present := make(map[string]bool, len(covered))
	for _, id := range covered {
		present[id] = true
	}
	for _, id := range mapped {
		if found[id] && !present[id] {
			present[id] = true
			mergedCovered = append(mergedCovered, id)
		}
	}

	remaining := []string{}
	for _, id := range missing {
		if !found[id] {
			remaining = append(remaining, id)
		}
	}
	return mergedCovered, remaining
}
