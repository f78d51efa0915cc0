package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/compliai/auditplanner/internal/ports"
)

const (
	exportTimeLayout = "2006-01-02 15:04:05"
	exportRuleWidth  = 50
)

// TXTRenderer renders a policy as plain text
type TXTRenderer struct{}

// NewTXTRenderer creates a new plain text renderer
func NewTXTRenderer() *TXTRenderer {
	return &TXTRenderer{}
}

func (r *TXTRenderer) Format() string { return ExportFormatTXT }

func (r *TXTRenderer) ContentType() string { return "text/plain; charset=utf-8" }

// Render writes the title block, the policy body and the optional citation and trail sections
func (r *TXTRenderer) Render(_ context.Context, doc ports.ExportDocument) ([]byte, error) {
	var b strings.Builder
	rule := strings.Repeat("-", exportRuleWidth)

	b.WriteString(doc.Title + "\n")
	b.WriteString(strings.Repeat("=", len([]rune(doc.Title))) + "\n\n")
	fmt.Fprintf(&b, "Framework: %s\n", doc.Framework)
	fmt.Fprintf(&b, "Generated: %s\n\n", doc.Policy.GeneratedAt.Format(exportTimeLayout))

	b.WriteString("POLICY CONTENT\n")
	b.WriteString(rule + "\n\n")
	b.WriteString(doc.Policy.Content)

	if doc.IncludeCitations && len(doc.Policy.Citations) > 0 {
		b.WriteString("\n\nFRAMEWORK CITATIONS\n")
		b.WriteString(rule + "\n\n")
		for _, c := range doc.Policy.Citations {
			fmt.Fprintf(&b, "%s: %s\n", c.ControlID, c.ControlTitle)
			b.WriteString(c.Description + "\n\n")
		}
	}

	if doc.IncludeAuditTrail && len(doc.AuditTrail) > 0 {
		b.WriteString("\n\nAUDIT TRAIL\n")
		b.WriteString(rule + "\n\n")
		for _, e := range doc.AuditTrail {
			fmt.Fprintf(&b, "%s - %s: %s\n", e.Timestamp.Format(exportTimeLayout), e.Action, e.Details)
		}
	}

	return []byte(b.String()), nil
}
