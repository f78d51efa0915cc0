package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAnalysis_Deterministic(t *testing.T) {
	analyzer := NewGapAnalyzer(newTestKB(t), nil, nil, time.Second, nil)
	ctx := context.Background()

	for _, fw := range []string{"ISO27001", "SOC2", "NIST_CSF", "GDPR", "PCI_DSS", "HIPAA", "ACME_STANDARD"} {
		t.Run(fw, func(t *testing.T) {
			first := analyzer.Analyze(ctx, fw, nil)
			second := analyzer.Analyze(ctx, fw, nil)
			assert.Equal(t, first, second)
		})
	}
}

func TestStaticAnalysis_KnownFrameworks(t *testing.T) {
	tests := []struct {
		framework string
		score     int
		covered   int
		missing   int
		gaps      int
	}{
		{"ISO27001", 78, 6, 6, 3},
		{"SOC2", 82, 5, 5, 3},
		{"NIST_CSF", 75, 5, 5, 3},
		{"GDPR", 68, 4, 4, 4},
		{"PCI_DSS", 72, 4, 4, 3},
		{"HIPAA", 70, 3, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.framework, func(t *testing.T) {
			result := StaticAnalysis(tt.framework, nil)
			assert.Equal(t, tt.score, result.ComplianceScore)
			assert.Len(t, result.CoveredControls, tt.covered)
			assert.Len(t, result.MissingControls, tt.missing)
			assert.Len(t, result.Gaps, tt.gaps)
			assert.Equal(t, domain.AnalysisSourceStatic, result.Source)
			assert.Len(t, result.FrameworkControls, tt.covered+tt.missing)
		})
	}
}

func TestGapAnalyzer_UnknownFrameworkUsesGenericRule(t *testing.T) {
	analyzer := NewGapAnalyzer(newTestKB(t), nil, nil, time.Second, nil)

	result := analyzer.Analyze(context.Background(), "ACME_STANDARD", nil)

	assert.Equal(t, 72, result.ComplianceScore)
	assert.LessOrEqual(t, len(result.CoveredControls), 5)
	assert.LessOrEqual(t, len(result.MissingControls), 5)
	assert.Len(t, result.Gaps, 3)
	assert.Equal(t, domain.AnalysisSourceGeneric, result.Source)
	assert.Equal(t, []string{"Control-1", "Control-2", "Control-3", "Control-4", "Control-5"}, result.CoveredControls)
	assert.Equal(t, []string{"Security-1", "Audit-1", "Review-1"}, result.MissingControls)
}

func TestStaticAnalysis_GenericRuleSplitsLongCatalogs(t *testing.T) {
	controls := []string{"X-1", "X-2", "X-3", "X-4", "X-5", "X-6", "X-7", "X-8", "X-9", "X-10", "X-11", "X-12"}

	result := StaticAnalysis("CUSTOM", controls)

	assert.Equal(t, controls[:5], result.CoveredControls)
	assert.Equal(t, controls[5:10], result.MissingControls)
	assert.Equal(t, controls, result.FrameworkControls)
}

func TestDefaultAnalysis(t *testing.T) {
	result := DefaultAnalysis()

	assert.Equal(t, 70, result.ComplianceScore)
	assert.Len(t, result.CoveredControls, 2)
	assert.Len(t, result.MissingControls, 2)
	assert.Len(t, result.Gaps, 3)
	assert.Empty(t, result.FrameworkControls)
	assert.Equal(t, DefaultAnalysis(), result)
}

func TestGapAnalyzer_FrameworkControls(t *testing.T) {
	analyzer := NewGapAnalyzer(newTestKB(t), nil, nil, time.Second, nil)

	assert.Equal(t, []string{"A.5.1.1", "A.9.1.1", "A.12.1.1", "A.8.1.1", "A.16.1.1"}, analyzer.FrameworkControls("ISO27001"))
	assert.Equal(t, []string{"Art. 5", "Art. 6", "Art. 13", "Art. 14", "Art. 25", "Art. 32", "Art. 33", "Art. 35"}, analyzer.FrameworkControls("gdpr"))
	assert.Equal(t, genericControlIDs, analyzer.FrameworkControls("ACME"))

	withoutKB := NewGapAnalyzer(nil, nil, nil, time.Second, nil)
	assert.Len(t, withoutKB.FrameworkControls("ISO27001"), 8)
}

func TestGapAnalyzer_DocumentAnalysis(t *testing.T) {
	retriever := &fakeRetriever{
		answer: `Assessment follows. {"compliance_score": 64, "covered_controls": ["A.5.1.1", "A.9.1.1"], ` +
			`"missing_controls": ["A.12.1.1"], "gaps": ["Operations documentation"]} Thanks.`,
	}
	analyzer := NewGapAnalyzer(newTestKB(t), retriever, nil, time.Second, nil)

	result := analyzer.Analyze(context.Background(), "ISO27001", strPtr("doc-1"))

	assert.Equal(t, 64, result.ComplianceScore)
	assert.Equal(t, []string{"A.5.1.1", "A.9.1.1"}, result.CoveredControls)
	assert.Equal(t, []string{"A.12.1.1"}, result.MissingControls)
	assert.Equal(t, []string{"Operations documentation"}, result.Gaps)
	assert.Equal(t, domain.AnalysisSourceDocument, result.Source)

	question := retriever.lastQuestion()
	assert.Contains(t, question, "Framework Controls to Check: A.5.1.1, A.9.1.1, A.12.1.1, A.8.1.1, A.16.1.1")
	assert.Contains(t, question, `"compliance_score"`)
	assert.Contains(t, question, `"gaps"`)
}

func TestGapAnalyzer_DocumentFailuresUseStaticTable(t *testing.T) {
	tests := []struct {
		name      string
		retriever *fakeRetriever
	}{
		{"query error", &fakeRetriever{queryErr: errUpstream}},
		{"unparseable answer", &fakeRetriever{answer: "I could not determine anything useful."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := NewGapAnalyzer(newTestKB(t), tt.retriever, nil, time.Second, nil)
			result := analyzer.Analyze(context.Background(), "SOC2", strPtr("doc-1"))
			assert.Equal(t, StaticAnalysis("SOC2", analyzer.FrameworkControls("SOC2")), result)
		})
	}
}

func TestGapAnalyzer_BlankDocumentIDSkipsRetrieval(t *testing.T) {
	retriever := &fakeRetriever{answer: `{"compliance_score": 10}`}
	analyzer := NewGapAnalyzer(newTestKB(t), retriever, nil, time.Second, nil)

	result := analyzer.Analyze(context.Background(), "SOC2", strPtr("  "))

	assert.Equal(t, 82, result.ComplianceScore)
	assert.Empty(t, retriever.lastQuestion())
}

func TestGapAnalyzer_ExtractionEnrichesCoverage(t *testing.T) {
	chunkText := "All access to production systems is granted through a documented request and approval workflow. " +
		"Access rights are reviewed quarterly by system owners and revoked on termination."
	retriever := &fakeRetriever{
		answer: `{"compliance_score": 60, "covered_controls": ["A.5.1.1"], "missing_controls": ["A.9.1.1", "A.12.1.1"], "gaps": []}`,
		chunks: []domain.DocumentChunk{{Index: 0, Text: chunkText}},
	}
	llm := &scriptedLLM{respond: func(ctx context.Context, prompt string) (string, error) {
		return `{"extracted_statement": "Access rights are reviewed quarterly", ` +
			`"ai_control_summary": "Periodic access review", ` +
			`"mappings": [{"framework": "ISO 27001", "control_id": "A.9.1.1", "confidence": 0.9, "rationale": "access policy"}]}`, nil
	}}
	kb := newTestKB(t)
	extractor := NewControlExtractor(llm, kb, DefaultExtractionConfig(), nil)
	analyzer := NewGapAnalyzer(kb, retriever, extractor, time.Second, nil)

	result := analyzer.Analyze(context.Background(), "ISO27001", strPtr("doc-1"))

	assert.Equal(t, 60, result.ComplianceScore)
	assert.Equal(t, []string{"A.5.1.1", "A.9.1.1"}, result.CoveredControls)
	assert.Equal(t, []string{"A.12.1.1"}, result.MissingControls)
	assert.Contains(t, retriever.lastQuestion(), "- Periodic access review")
}

func TestGapAnalyzer_ExtractionFailureKeepsCoverage(t *testing.T) {
	retriever := &fakeRetriever{
		answer:    `{"compliance_score": 60, "covered_controls": ["A.5.1.1"], "missing_controls": ["A.9.1.1"]}`,
		chunksErr: errUpstream,
	}
	kb := newTestKB(t)
	extractor := NewControlExtractor(failingLLM(errUpstream), kb, DefaultExtractionConfig(), nil)
	analyzer := NewGapAnalyzer(kb, retriever, extractor, time.Second, nil)

	result := analyzer.Analyze(context.Background(), "ISO27001", strPtr("doc-1"))

	assert.Equal(t, []string{"A.5.1.1"}, result.CoveredControls)
	assert.Equal(t, []string{"A.9.1.1"}, result.MissingControls)
	assert.NotContains(t, retriever.lastQuestion(), "Controls already identified")
}

func TestGapAnalyzer_HungExtractionLeavesTimeForCoverage(t *testing.T) {
	chunkText := strings.Repeat("Access to production systems requires a documented approval. ", 4)
	retriever := &fakeRetriever{
		answer: `{"compliance_score": 91, "covered_controls": ["A.5.1.1"], "missing_controls": ["A.9.1.1"]}`,
		chunks: []domain.DocumentChunk{{Index: 0, Text: chunkText}},
		delay:  500 * time.Millisecond,
	}
	kb := newTestKB(t)
	extractor := NewControlExtractor(hangingLLM(), kb, DefaultExtractionConfig(), nil)
	analyzer := NewGapAnalyzer(kb, retriever, extractor, time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result := analyzer.Analyze(ctx, "ISO27001", strPtr("doc-1"))

	require.NoError(t, ctx.Err())
	assert.Equal(t, domain.AnalysisSourceDocument, result.Source)
	assert.Equal(t, 91, result.ComplianceScore)
	assert.Equal(t, []string{"A.5.1.1"}, result.CoveredControls)
}

func TestGapAnalyzer_ExtractionBudget(t *testing.T) {
	analyzer := NewGapAnalyzer(newTestKB(t), nil, nil, time.Minute, nil)

	assert.Equal(t, time.Minute, analyzer.extractionBudget(context.Background()))

	long, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	assert.Equal(t, time.Minute, analyzer.extractionBudget(long))

	mid, cancelMid := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancelMid()
	budget := analyzer.extractionBudget(mid)
	assert.Greater(t, budget, 25*time.Second)
	assert.LessOrEqual(t, budget, 30*time.Second)

	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShort()
	assert.LessOrEqual(t, analyzer.extractionBudget(short), time.Duration(0))
}

func TestGapAnalyzer_SkipsExtractionWithoutBudget(t *testing.T) {
	chunkText := strings.Repeat("Access to production systems requires a documented approval. ", 4)
	retriever := &fakeRetriever{
		answer: `{"compliance_score": 64}`,
		chunks: []domain.DocumentChunk{{Index: 0, Text: chunkText}},
	}
	kb := newTestKB(t)
	llm := hangingLLM()
	extractor := NewControlExtractor(llm, kb, DefaultExtractionConfig(), nil)
	analyzer := NewGapAnalyzer(kb, retriever, extractor, time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	result := analyzer.Analyze(ctx, "ISO27001", strPtr("doc-1"))

	assert.Equal(t, 64, result.ComplianceScore)
	assert.Zero(t, llm.calls.Load())
}

func TestParseCoverage(t *testing.T) {
	controls := []string{"A.5.1.1", "A.9.1.1", "A.12.1.1", "A.8.1.1"}

	t.Run("json with wrong types falls back per field", func(t *testing.T) {
		result, ok := ParseCoverage(`{"compliance_score": "high", "covered_controls": "A.5.1.1", "gaps": 3}`, "ISO27001", controls)
		require.True(t, ok)
		assert.Equal(t, 75, result.ComplianceScore)
		assert.Equal(t, []string{"A.5.1.1", "A.9.1.1"}, result.CoveredControls)
		assert.Equal(t, []string{"A.12.1.1", "A.8.1.1"}, result.MissingControls)
		assert.Equal(t, []string{"Asset management", "Incident response", "Risk assessment"}, result.Gaps)
		assert.Equal(t, domain.AnalysisSourceDocument, result.Source)
	})

	t.Run("json score is clamped", func(t *testing.T) {
		result, ok := ParseCoverage(`{"compliance_score": 180}`, "ISO27001", controls)
		require.True(t, ok)
		assert.Equal(t, 100, result.ComplianceScore)
	})

	t.Run("numeric string score is not a number", func(t *testing.T) {
		result, ok := ParseCoverage(`{"compliance_score": "42%"}`, "ISO27001", controls)
		require.True(t, ok)
		assert.Equal(t, 75, result.ComplianceScore)
	})

	t.Run("free text uses score phrase and control tokens", func(t *testing.T) {
		answer := "Overall compliance score: 64. The ISO27001 document addresses A.5.1.1 and A.9.1.1 but not A.16.1.1 or A.8.1.1."
		result, ok := ParseCoverage(answer, "ISO27001", controls)
		require.True(t, ok)
		assert.Equal(t, 64, result.ComplianceScore)
		assert.Equal(t, []string{"A.5.1.1", "A.9.1.1"}, result.CoveredControls)
		assert.Equal(t, []string{"A.16.1.1", "A.8.1.1"}, result.MissingControls)
		assert.Equal(t, domain.AnalysisSourceHeuristic, result.Source)
	})

	t.Run("free text with only a score", func(t *testing.T) {
		result, ok := ParseCoverage("compliance score 55 is final", "ISO27001", controls)
		require.True(t, ok)
		assert.Equal(t, 55, result.ComplianceScore)
		assert.Equal(t, []string{"A.5.1.1", "A.9.1.1"}, result.CoveredControls)
	})

	t.Run("nothing usable", func(t *testing.T) {
		_, ok := ParseCoverage("no idea", "ISO27001", controls)
		assert.False(t, ok)
	})
}

func TestMergeEvidence(t *testing.T) {
	controls := []string{"A", "B", "C", "D"}

	covered, missing := mergeEvidence([]string{"A"}, []string{"B", "C"}, []string{"C", "Z", "A"}, controls)
	assert.Equal(t, []string{"A", "C"}, covered)
	assert.Equal(t, []string{"B"}, missing)

	covered, missing = mergeEvidence([]string{"A"}, []string{"B"}, []string{"Z"}, controls)
	assert.Equal(t, []string{"A"}, covered)
	assert.Equal(t, []string{"B"}, missing)
}
