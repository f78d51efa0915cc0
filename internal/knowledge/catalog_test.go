package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuiltin(t *testing.T) *KnowledgeBase {
	t.Helper()
	kb, err := NewKnowledgeBase("")
	require.NoError(t, err)
	return kb
}

func TestBuiltinCatalog(t *testing.T) {
	kb := newBuiltin(t)

	assert.Equal(t, []string{"ISO27001", "SOC2", "NIST_CSF", "PCI_DSS"}, kb.FrameworkNames())

	catalog, ok := kb.GetCatalog("iso 27001")
	require.True(t, ok)
	assert.Equal(t, "ISO27001", catalog.Framework)
	assert.Equal(t, "ISO 27001 - Information Security Management", catalog.Name)
	assert.Equal(t, []string{"A.5.1.1", "A.9.1.1", "A.12.1.1", "A.8.1.1", "A.16.1.1"}, catalog.ControlIDs())

	ctrl, ok := catalog.Control("A.9.1.1")
	require.True(t, ok)
	assert.Equal(t, "Access control policy", ctrl.Title)
	assert.Len(t, ctrl.ImplementationGuidance, 4)

	pci, ok := kb.GetCatalog("PCI_DSS")
	require.True(t, ok)
	assert.Equal(t, []string{"1.1.1", "2.1", "3.4", "6.5.1", "8.2.3"}, pci.ControlIDs())
}

func TestGetCatalog_ListedOnlyFrameworks(t *testing.T) {
	kb := newBuiltin(t)

	_, ok := kb.GetCatalog("GDPR")
	assert.False(t, ok)
	assert.True(t, kb.Supports("gdpr"))
	assert.False(t, kb.Supports("COBIT"))
}

func TestGetCatalog_ReturnsCopy(t *testing.T) {
	kb := newBuiltin(t)

	first, _ := kb.GetCatalog("SOC2")
	first.Controls[0].Title = "changed"
	first.Controls[0].ImplementationGuidance[0] = "changed"

	second, _ := kb.GetCatalog("SOC2")
	assert.Equal(t, "Control Environment", second.Controls[0].Title)
	assert.Equal(t, "Establish code of conduct", second.Controls[0].ImplementationGuidance[0])
}

func TestFrameworks(t *testing.T) {
	kb := newBuiltin(t)

	infos := kb.Frameworks()
	require.Len(t, infos, 6)
	assert.Equal(t, "ISO27001", infos[0].ID)
	assert.Equal(t, "ISO 27001", infos[0].Name)
	assert.Equal(t, "HIPAA", infos[5].ID)
}

func TestSearchControls(t *testing.T) {
	kb := newBuiltin(t)

	matches := kb.SearchControls("ACCESS", "")
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ControlID)
	}
	assert.Contains(t, ids, "A.9.1.1")
	assert.Contains(t, ids, "CC6.1")
	assert.Contains(t, ids, "PR.AC-1")

	scoped := kb.SearchControls("access", "SOC2")
	for _, m := range scoped {
		assert.Equal(t, "SOC2", m.Framework)
	}

	assert.Empty(t, kb.SearchControls("  ", ""))
	assert.Empty(t, kb.SearchControls("access", "UNKNOWN"))
}

func TestMappedControls(t *testing.T) {
	kb := newBuiltin(t)

	assert.Equal(t, []string{"CC1.1", "CC2.1"}, kb.MappedControls("ISO27001", "A.5.1.1", "SOC2"))
	assert.Equal(t, []string{"PR.AC-1"}, kb.MappedControls("iso27001", "A.9.1.1", "nist-csf"))

	// reverse direction
	assert.Equal(t, []string{"A.12.1.1", "A.16.1.1"}, kb.MappedControls("SOC2", "CC7.1", "ISO27001"))

	assert.Empty(t, kb.MappedControls("ISO27001", "A.99", "SOC2"))
	assert.Empty(t, kb.MappedControls("GDPR", "Art. 5", "SOC2"))
}

func TestNewKnowledgeBase_Override(t *testing.T) {
	override := `
frameworks:
  - id: SOC2
    name: SOC 2 Type II
    controls:
      - id: CC9.9
        title: Custom control
  - id: cobit
    name: COBIT
    controls:
      - id: APO01
        title: Managed IT framework
mappings:
  - from: COBIT
    to: SOC2
    controls:
      APO01: [CC9.9]
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(override), 0o600))

	kb, err := NewKnowledgeBase(path)
	require.NoError(t, err)

	soc2, ok := kb.GetCatalog("SOC2")
	require.True(t, ok)
	assert.Equal(t, []string{"CC9.9"}, soc2.ControlIDs())
	assert.Equal(t, "SOC 2 Type II", soc2.Name)

	assert.Equal(t, []string{"ISO27001", "SOC2", "NIST_CSF", "PCI_DSS", "COBIT"}, kb.FrameworkNames())
	assert.Equal(t, []string{"CC9.9"}, kb.MappedControls("COBIT", "APO01", "SOC2"))
}

func TestNewKnowledgeBase_Errors(t *testing.T) {
	_, err := NewKnowledgeBase(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = FromYAML([]byte("frameworks: [unclosed"))
	assert.Error(t, err)

	_, err = FromYAML([]byte(`
frameworks:
  - id: X
    controls:
      - id: C1
      - id: C1
`))
	assert.ErrorContains(t, err, "duplicate control")

	_, err = FromYAML([]byte(`
frameworks:
  - name: nameless
`))
	assert.ErrorContains(t, err, "framework id is required")
}
