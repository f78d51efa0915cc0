package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/compliai/auditplanner/internal/ports"
)

var (
	mockTitlePattern     = regexp.MustCompile(`(?m)^Title: (.+)$`)
	mockAlignmentPattern = regexp.MustCompile(`satisfies ([^:]+):`)
	mockControlsPattern  = regexp.MustCompile(`(?m)^(\S+) controls: ([^,\n]+)`)
)

// mockSections are the policy sections the mock writes, one alignment line each
var mockSections = []struct {
	heading string
	body    string
	control string
}{
	{"Purpose and Scope", "This policy defines how the organization protects the confidentiality, integrity and availability of its information. It applies to all employees, contractors and third parties with access to organizational systems.", "Information security policy"},
	{"Policy Statement", "Management commits to operating a documented information security program, allocating resources to it and reviewing its effectiveness at planned intervals.", "Management direction"},
	{"Access Control", "Access to systems is granted on the principle of least privilege, approved by the system owner, reviewed quarterly and revoked promptly on role change or termination.", "Access control"},
	{"Operations", "Operating procedures are documented, change controlled and available to the staff who need them. Logs are collected centrally and reviewed for anomalies.", "Operational procedures"},
	{"Incident Management", "Security events are reported through a single channel, triaged within one business day and tracked to closure with lessons learned.", "Incident management"},
	{"Compliance and Review", "Compliance with this policy is monitored continuously and the policy is reviewed at least annually or after significant change.", "Compliance monitoring"},
}

// MockGateway is a deterministic LLMGateway for development and tests.
// Policy prompts get a long policy citing the requested framework;
// extraction prompts get a JSON control object.
type MockGateway struct {
	latency time.Duration
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config ports.AIConfig) *MockGateway {
	return &MockGateway{latency: time.Duration(config.LatencyMs) * time.Millisecond}
}

func (m *MockGateway) Provider() string {
	return "mock"
}

// Generate returns a canned response shaped after the prompt
func (m *MockGateway) Generate(ctx context.Context, prompt string) (string, error) {
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if strings.Contains(prompt, "extracted_statement") {
		return m.extraction(prompt)
	}
	return m.policy(prompt), nil
}

func (m *MockGateway) policy(prompt string) string {
	title := "Information Security Policy"
	if match := mockTitlePattern.FindStringSubmatch(prompt); match != nil {
		title = strings.TrimSpace(match[1])
	}
	framework := "the target framework"
	if match := mockAlignmentPattern.FindStringSubmatch(prompt); match != nil {
		framework = strings.TrimSpace(match[1])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	for i, section := range mockSections {
		fmt.Fprintf(&b, "## %d. %s\n", i+1, strings.ToUpper(section.heading))
		b.WriteString(section.body + "\n\n")
		fmt.Fprintf(&b, "Framework Alignment: This section satisfies %s: Section %d - %s\n\n", framework, i+1, section.control)
	}
	b.WriteString("## Roles and Responsibilities\n")
	b.WriteString("- Information Security Manager: owns this policy and its exceptions\n")
	b.WriteString("- System Owners: approve access and review it quarterly\n")
	b.WriteString("- All Staff: follow this policy and report suspected incidents\n")
	return b.String()
}

func (m *MockGateway) extraction(prompt string) (string, error) {
	excerpt := prompt
	if idx := strings.LastIndex(prompt, "Document excerpt:\n"); idx >= 0 {
		excerpt = prompt[idx+len("Document excerpt:\n"):]
	}
	statement := firstSentence(excerpt)
	if statement == "" {
		return "{}", nil
	}

	mappings := []map[string]interface{}{}
	for _, match := range mockControlsPattern.FindAllStringSubmatch(prompt, -1) {
		mappings = append(mappings, map[string]interface{}{
			"framework":  match[1],
			"control_id": strings.TrimSpace(match[2]),
			"confidence": 0.6,
			"rationale":  "Statement describes a documented security practice",
		})
	}

	out, err := json.Marshal(map[string]interface{}{
		"extracted_statement": statement,
		"ai_control_summary":  "Documented practice: " + statement,
		"mappings":            mappings,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal mock extraction: %w", err)
	}
	return string(out), nil
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if idx := strings.IndexAny(text, ".!?"); idx >= 0 {
		text = text[:idx+1]
	}
	runes := []rune(text)
	if len(runes) > 200 {
		runes = runes[:200]
	}
	return string(runes)
}
