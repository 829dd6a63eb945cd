package rules

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocument_AppliesDefaults(t *testing.T) {
	spec, err := ParseDocument([]byte("blocklisted_ips:\n  - 198.51.100.9\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"198.51.100.9"}, spec.BlocklistedIPs)
	assert.Equal(t, DefaultSpec().SeverityLevels, spec.SeverityLevels)
	assert.Equal(t, DefaultSpec().SuspiciousPorts, spec.SuspiciousPorts)
	assert.Equal(t, DefaultSpec().Thresholds, spec.Thresholds)
}

func TestParseDocument_FullDocument(t *testing.T) {
	raw := `
blocklisted_ips: ["10.1.1.1"]
severity_levels:
  low: note
  medium: warn
  high: page
suspicious_ports: [4444]
thresholds:
  cpu_percent: 65.5
`
	spec, err := ParseDocument([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "page", spec.SeverityLevels["high"])
	assert.Equal(t, []int{4444}, spec.SuspiciousPorts)
	assert.Equal(t, 65.5, spec.Thresholds.CPUPercent)
	assert.Equal(t, float64(defaultMemoryMB), spec.Thresholds.MemoryMB)
}

func TestParseDocument_AcceptsJSON(t *testing.T) {
	spec, err := ParseDocument([]byte(`{"blocklisted_ips": ["::1"], "suspicious_ports": []}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"::1"}, spec.BlocklistedIPs)
	assert.Empty(t, spec.SuspiciousPorts)
}

func TestParseDocument_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: "   \n"},
		{name: "not yaml", raw: "blocklisted_ips: [\n"},
		{name: "wrong list type", raw: "blocklisted_ips: 10.0.0.1\n"},
		{name: "port out of range", raw: "suspicious_ports: [0]\n"},
		{name: "negative threshold", raw: "thresholds:\n  memory_mb: -1\n"},
		{name: "scalar root", raw: "just text\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tc.raw))
			require.ErrorIs(t, err, ErrInvalidRules)
		})
	}
}

func TestFileSource_RejectsInvalidIP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, "blocklisted_ips: [\"999.1.1.1\"]\n")

	_, err := FileSource{Path: path}.Load(context.Background())
	require.ErrorIs(t, err, ErrInvalidRules)
}

func TestRuleSet_SummaryAndLabels(t *testing.T) {
	spec := DefaultSpec()
	spec.BlocklistedIPs = []string{"192.0.2.1", "192.0.2.1", "192.0.2.2"}
	spec.SuspiciousPorts = []int{8080, 22}
	rs, err := NewRuleSet(spec, "rules.yaml")
	require.NoError(t, err)

	summary := rs.Summary()
	assert.Equal(t, 2, summary.BlocklistedIPsCount)
	assert.Equal(t, []int{22, 8080}, summary.SuspiciousPorts)
	assert.Equal(t, "rules.yaml", summary.RulesFile)
	assert.False(t, summary.Fallback)

	assert.Equal(t, "warning", rs.Label("medium"))
	assert.Equal(t, "critical", rs.Label("critical"))
}
