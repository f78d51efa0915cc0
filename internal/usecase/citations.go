package usecase

import (
	"strings"

	"github.com/compliai/auditplanner/internal/domain"
	"github.com/compliai/auditplanner/internal/ports"
)

const maxCitations = 10

// citationRules is matched in order against the control id; unmatched ids use citationDefault
var citationRules = []struct {
	substring     string
	section       string
	policySection string
}{
	{"5.1", "Section 2 - Policy Statement", "Policy Statement"},
	{"9.1", "Section 3 - Access Control", "Access Control Procedures"},
	{"12.1", "Section 4 - Operations", "Operational Procedures"},
}

var citationDefault = struct {
	section       string
	policySection string
}{"Section 1 - Purpose and Scope", "Purpose and Scope"}

// DeriveCitations builds citations for the first distinct covered and missing controls
func DeriveCitations(result domain.GapAnalysisResult, framework string, kb ports.KnowledgeBase) []domain.PolicyCitation {
	var catalog *domain.ControlCatalog
	if kb != nil {
		if c, ok := kb.GetCatalog(framework); ok {
			catalog = c
		}
	}

	ids := append(cloneStrings(result.CoveredControls), result.MissingControls...)
	seen := make(map[string]bool, len(ids))
	citations := []domain.PolicyCitation{}

	for _, id := range ids {
		if len(citations) == maxCitations {
			break
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		citation := domain.PolicyCitation{
			ControlID:    id,
			ControlTitle: "Control " + id,
			Framework:    framework,
			Description:  "Framework control requirement",
		}
		if catalog != nil {
			if ctrl, ok := catalog.Control(id); ok {
				citation.ControlTitle = ctrl.Title
				citation.Description = ctrl.Description
			}
		}
		citation.Section, citation.PolicySection = citationSection(id)
		citations = append(citations, citation)
	}
	return citations
}

func citationSection(controlID string) (string, string) {
	for _, rule := range citationRules {
		if strings.Contains(controlID, rule.substring) {
			return rule.section, rule.policySection
		}
	}
	return citationDefault.section, citationDefault.policySection
}
