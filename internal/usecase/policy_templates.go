package usecase

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/compliai/auditplanner/internal/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var policyTemplateSet = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type policyTemplate struct {
	name string
	// used when the analysis lists no missing controls
	defaultPriority []string
}

// policyTemplates is the fallback template registry; frameworks not listed use the generic template
var policyTemplates = map[string]policyTemplate{
	"ISO27001": {name: "iso27001.tmpl", defaultPriority: []string{"A.8.1.1", "A.16.1.1"}},
	"SOC2":     {name: "soc2.tmpl", defaultPriority: []string{"CC6.1", "CC7.1"}},
	"NIST_CSF": {name: "nist_csf.tmpl", defaultPriority: []string{"PR.DS-1", "RS.RP-1"}},
	"GDPR":     {name: "gdpr.tmpl", defaultPriority: []string{"Art. 25", "Art. 32"}},
	"PCI_DSS":  {name: "pci_dss.tmpl", defaultPriority: []string{"6.5.1", "8.2.3"}},
}

var genericPolicyTemplate = policyTemplate{name: "generic.tmpl"}

type policyTemplateData struct {
	Title            string
	Framework        string
	Score            int
	PriorityControls string
}

// RenderFallbackPolicy formats the deterministic policy for framework from the analysis
func RenderFallbackPolicy(title, framework string, analysis domain.GapAnalysisResult) string {
	framework = domain.NormalizeFramework(framework)
	tmpl, ok := policyTemplates[framework]
	if !ok {
		tmpl = genericPolicyTemplate
	}

	priority := analysis.MissingControls
	if len(priority) == 0 {
		priority = tmpl.defaultPriority
	}

	data := policyTemplateData{
		Title:            title,
		Framework:        framework,
		Score:            domain.ClampScore(analysis.ComplianceScore),
		PriorityControls: strings.Join(priority, ", "),
	}

	var buf bytes.Buffer
	if err := policyTemplateSet.ExecuteTemplate(&buf, tmpl.name, data); err != nil {
		return fmt.Sprintf("# %s\n\n**Framework Alignment:** This section satisfies %s: Policy Framework\n\nCurrent Status: %d%% compliant\n",
			title, framework, data.Score)
	}
	return buf.String()
}
