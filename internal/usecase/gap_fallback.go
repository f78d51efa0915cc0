package usecase

import (
	"github.com/compliai/auditplanner/internal/domain"
)

// minimalControlIDs is used when the knowledge base has no catalog for a framework
var minimalControlIDs = map[string][]string{
	"ISO27001": {"A.5.1.1", "A.5.1.2", "A.9.1.1", "A.9.2.1", "A.12.1.1", "A.8.1.1", "A.16.1.1", "A.18.1.1"},
	"SOC2":     {"CC1.1", "CC2.1", "CC3.1", "CC4.1", "CC5.1", "CC6.1", "CC7.1", "CC8.1"},
	"NIST_CSF": {"ID.AM-1", "ID.AM-2", "PR.AC-1", "PR.AC-3", "DE.AE-1", "PR.DS-1", "RS.RP-1", "RC.RP-1"},
	"GDPR":     {"Art. 5", "Art. 6", "Art. 13", "Art. 14", "Art. 25", "Art. 32", "Art. 33", "Art. 35"},
	"PCI_DSS":  {"1.1", "2.1", "3.1", "4.1", "5.1", "6.1", "7.1", "8.1"},
	"HIPAA":    {"164.308", "164.310", "164.312", "164.314", "164.316", "164.318"},
}

var genericControlIDs = []string{"Control-1", "Control-2", "Control-3", "Control-4", "Control-5"}

type staticAnalysis struct {
	score   int
	covered []string
	missing []string
	gaps    []string
}

// staticAnalyses are hand-curated results used when no document can be analyzed
var staticAnalyses = map[string]staticAnalysis{
	"ISO27001": {
		score:   78,
		covered: []string{"A.5.1.1", "A.5.1.2", "A.9.1.1", "A.9.2.1", "A.12.1.1", "A.12.1.2"},
		missing: []string{"A.8.1.1", "A.8.1.2", "A.16.1.1", "A.16.1.2", "A.18.1.1", "A.18.1.2"},
		gaps:    []string{"Asset inventory management", "Incident response procedures", "Legal and contractual requirements"},
	},
	"SOC2": {
		score:   82,
		covered: []string{"CC1.1", "CC2.1", "CC3.1", "CC4.1", "CC5.1"},
		missing: []string{"CC6.1", "CC7.1", "CC8.1", "A1.1", "A1.2"},
		gaps:    []string{"Logical access controls", "System monitoring", "Data processing integrity"},
	},
	"NIST_CSF": {
		score:   75,
		covered: []string{"ID.AM-1", "ID.AM-2", "PR.AC-1", "PR.AC-3", "DE.AE-1"},
		missing: []string{"PR.DS-1", "PR.DS-2", "RS.RP-1", "RS.CO-1", "RC.RP-1"},
		gaps:    []string{"Data security controls", "Response planning", "Recovery procedures"},
	},
	"GDPR": {
		score:   68,
		covered: []string{"Art. 5", "Art. 6", "Art. 13", "Art. 14"},
		missing: []string{"Art. 25", "Art. 32", "Art. 33", "Art. 35"},
		gaps:    []string{"Data protection by design", "Security measures", "Breach notification", "Impact assessments"},
	},
	"PCI_DSS": {
		score:   72,
		covered: []string{"1.1", "2.1", "3.1", "4.1"},
		missing: []string{"5.1", "6.1", "7.1", "8.1"},
		gaps:    []string{"Firewall configuration", "Vulnerability management", "Access control"},
	},
	"HIPAA": {
		score:   70,
		covered: []string{"164.308", "164.310", "164.312"},
		missing: []string{"164.314", "164.316", "164.318"},
		gaps:    []string{"Administrative safeguards", "Physical safeguards", "Technical safeguards"},
	},
}

const (
	genericScore    = 72
	validationScore = 75
	defaultScore    = 70
)

var (
	genericGaps       = []string{"Policy completeness", "Implementation procedures", "Monitoring and review"}
	genericCovered    = []string{"Policy-1", "Access-1", "Monitor-1"}
	genericMissing    = []string{"Security-1", "Audit-1", "Review-1"}
	validationGaps    = []string{"Asset management", "Incident response", "Risk assessment"}
	defaultCovered    = []string{"Basic policy structure", "General security principles"}
	defaultMissing    = []string{"Specific control implementations", "Detailed procedures"}
	defaultGapPhrases = []string{"Framework-specific requirements", "Implementation details", "Monitoring procedures"}
)

// StaticAnalysis returns the curated analysis for a known framework, or the
// generic rule over controls for any other. The result depends only on its inputs.
func StaticAnalysis(framework string, controls []string) domain.GapAnalysisResult {
	framework = domain.NormalizeFramework(framework)

	if data, ok := staticAnalyses[framework]; ok {
		result := domain.GapAnalysisResult{
			ComplianceScore: data.score,
			CoveredControls: cloneStrings(data.covered),
			MissingControls: cloneStrings(data.missing),
			Gaps:            cloneStrings(data.gaps),
			Source:          domain.AnalysisSourceStatic,
		}
		result.FrameworkControls = cloneStrings(controls)
		if len(controls) == 0 {
			result.FrameworkControls = append(cloneStrings(data.covered), data.missing...)
		}
		return result
	}

	result := domain.GapAnalysisResult{
		ComplianceScore: genericScore,
		CoveredControls: cloneStrings(genericCovered),
		MissingControls: cloneStrings(genericMissing),
		Gaps:            cloneStrings(genericGaps),
		Source:          domain.AnalysisSourceGeneric,
	}
	if len(controls) > 0 {
		result.CoveredControls = cloneStrings(controls[:min(5, len(controls))])
	}
	if len(controls) > 5 {
		result.MissingControls = cloneStrings(controls[5:min(10, len(controls))])
	}
	result.FrameworkControls = cloneStrings(controls)
	if len(controls) == 0 {
		result.FrameworkControls = append(cloneStrings(result.CoveredControls), result.MissingControls...)
	}
	return result
}

// DefaultAnalysis is the constant result used when nothing else is available
func DefaultAnalysis() domain.GapAnalysisResult {
	return domain.GapAnalysisResult{
		ComplianceScore:   defaultScore,
		CoveredControls:   cloneStrings(defaultCovered),
		MissingControls:   cloneStrings(defaultMissing),
		Gaps:              cloneStrings(defaultGapPhrases),
		FrameworkControls: []string{},
		Source:            domain.AnalysisSourceDefault,
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
