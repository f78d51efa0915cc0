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

const minPolicyWords = 100

// PolicyDraft is generated policy text with its citations.
// FallbackReason is set when the template path produced the content.
type PolicyDraft struct {
	Content        string
	Citations      []domain.PolicyCitation
	FallbackReason string
}

// UsedFallback reports whether the content came from a template
func (d PolicyDraft) UsedFallback() bool {
	return d.FallbackReason != ""
}

// PolicySynthesizer turns a gap analysis into policy text
type PolicySynthesizer struct {
	llm    ports.LLMGateway
	kb     ports.KnowledgeBase
	logger logger.Logger
}

// NewPolicySynthesizer creates a new policy synthesizer. llm may be nil.
func NewPolicySynthesizer(llm ports.LLMGateway, kb ports.KnowledgeBase, log logger.Logger) *PolicySynthesizer {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &PolicySynthesizer{llm: llm, kb: kb, logger: log}
}

// Synthesize asks the LLM for the policy and falls back to the framework
// template when the gateway is unavailable, fails or returns too little text.
// The caller's context bounds the LLM call.
func (s *PolicySynthesizer) Synthesize(ctx context.Context, analysis domain.GapAnalysisResult, title, framework string) PolicyDraft {
	framework = domain.NormalizeFramework(framework)
	if s.llm == nil {
		return s.Fallback(analysis, title, framework, "LLM gateway not available")
	}

	start := time.Now()
	content, err := s.llm.Generate(ctx, s.prompt(analysis, title, framework))
	if err != nil {
		s.logger.Warn(ctx, "Policy generation failed, using fallback policy", map[string]interface{}{
			"framework": framework,
			"stage":     "synthesis",
			"provider":  s.llm.Provider(),
			"error":     err.Error(),
		})
		return s.Fallback(analysis, title, framework, err.Error())
	}

	words := domain.WordCount(content)
	if words < minPolicyWords {
		s.logger.Warn(ctx, "Generated policy content too short, using fallback policy", map[string]interface{}{
			"framework": framework,
			"stage":     "synthesis",
			"words":     words,
		})
		return s.Fallback(analysis, title, framework, fmt.Sprintf("generated policy too short (%d words)", words))
	}

	logger.LogPerformance(ctx, s.logger, "policy_synthesis", time.Since(start), map[string]interface{}{
		"framework": framework,
		"words":     words,
	})
	return PolicyDraft{
		Content:   strings.TrimSpace(content),
		Citations: DeriveCitations(analysis, framework, s.kb),
	}
}

// Fallback renders the deterministic template policy; it always succeeds
func (s *PolicySynthesizer) Fallback(analysis domain.GapAnalysisResult, title, framework, reason string) PolicyDraft {
	framework = domain.NormalizeFramework(framework)
	if reason == "" {
		reason = "fallback requested"
	}
	return PolicyDraft{
		Content:        RenderFallbackPolicy(title, framework, analysis),
		Citations:      DeriveCitations(analysis, framework, s.kb),
		FallbackReason: reason,
	}
}

func (s *PolicySynthesizer) prompt(analysis domain.GapAnalysisResult, title, framework string) string {
	displayName, fullName, description := s.frameworkContext(framework)

	var b strings.Builder
	b.WriteString("Generate a comprehensive, audit-ready policy document with the following requirements:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "Target Framework: %s\n\n", framework)
	b.WriteString("Current Coverage Analysis:\n")
	fmt.Fprintf(&b, "- Compliance Score: %d%%\n", analysis.ComplianceScore)
	fmt.Fprintf(&b, "- Covered Controls: %s\n", strings.Join(firstN(analysis.CoveredControls, 10), ", "))
	fmt.Fprintf(&b, "- Missing Controls: %s\n", strings.Join(firstN(analysis.MissingControls, 10), ", "))
	fmt.Fprintf(&b, "- Identified Gaps: %s\n\n", strings.Join(firstN(analysis.Gaps, 5), ", "))
	b.WriteString("Requirements for the generated policy:\n")
	b.WriteString("1. Professional policy structure with clear sections\n")
	b.WriteString("2. Address ALL missing controls with specific implementation guidance\n")
	fmt.Fprintf(&b, "3. Include explicit framework citations in the format: \"Framework Alignment: This section satisfies %s: [Control ID] - [Control Title]\"\n", displayName)
	b.WriteString("4. Map each major section to specific framework controls\n")
	b.WriteString("5. Include roles and responsibilities\n")
	b.WriteString("6. Add compliance monitoring and review procedures\n\n")
	b.WriteString("Framework Context:\n")
	fmt.Fprintf(&b, "%s - %s\n\n", fullName, description)
	fmt.Fprintf(&b, "Generate a complete policy document that clearly demonstrates compliance with %s requirements.\n", framework)
	b.WriteString("Do not include any introductory text - start directly with the policy content.")
	return b.String()
}

// frameworkContext returns the short display name, the full catalog name and the description
func (s *PolicySynthesizer) frameworkContext(framework string) (string, string, string) {
	displayName, fullName, description := framework, framework, "Compliance framework"
	if s.kb == nil {
		return displayName, fullName, description
	}
	for _, info := range s.kb.Frameworks() {
		if info.ID == framework {
			displayName, fullName = info.Name, info.Name
			if info.Description != "" {
				description = info.Description
			}
			break
		}
	}
	if catalog, ok := s.kb.GetCatalog(framework); ok && catalog.Name != "" {
		fullName = catalog.Name
	}
	return displayName, fullName, description
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
