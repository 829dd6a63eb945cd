package rules

import (
	"fmt"
	"maps"
	"net"
	"slices"
	"strings"
	"time"

	"sentinel/internal/model"
)

const (
	defaultCPUPercent = 80
	defaultMemoryMB   = 1000
)

var defaultSuspiciousPorts = []int{22, 23, 3389, 5900, 8080, 8443}

// Thresholds are the strict upper bounds for process resource usage.
type Thresholds struct {
	CPUPercent float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb" yaml:"memory_mb"`
}

// Spec is the plain, mutable description a RuleSet is built from.
type Spec struct {
	BlocklistedIPs  []string
	SeverityLevels  map[string]string
	SuspiciousPorts []int
	Thresholds      Thresholds
}

// RuleSet is an immutable snapshot of evaluation parameters.
// Params: built once by NewRuleSet; never mutated afterwards.
// Returns: value safe to share between concurrent evaluations.
type RuleSet struct {
	blocklist  map[string]struct{}
	ports      map[int]struct{}
	levels     map[string]string
	thresholds Thresholds
	source     string
	loadedAt   time.Time
	fallback   bool
	version    int64
}

// DefaultSpec returns the safe rule parameters used when no source can be loaded.
func DefaultSpec() Spec {
	return Spec{
		BlocklistedIPs: nil,
		SeverityLevels: map[string]string{
			"low":    "info",
			"medium": "warning",
			"high":   "critical",
		},
		SuspiciousPorts: slices.Clone(defaultSuspiciousPorts),
		Thresholds: Thresholds{
			CPUPercent: defaultCPUPercent,
			MemoryMB:   defaultMemoryMB,
		},
	}
}

// DefaultRuleSet builds the fallback rule set: empty blocklist, default severities.
// Params: source recorded for status reporting.
// Returns: fallback rule set.
func DefaultRuleSet(source string) *RuleSet {
	rs, _ := NewRuleSet(DefaultSpec(), source)
	rs.fallback = true
	return rs
}

// NewRuleSet validates spec and builds an immutable rule set off to the side.
// Params: spec rule parameters; source location for status reporting.
// Returns: rule set or validation error.
func NewRuleSet(spec Spec, source string) (*RuleSet, error) {
	rs := &RuleSet{
		blocklist:  make(map[string]struct{}, len(spec.BlocklistedIPs)),
		ports:      make(map[int]struct{}, len(spec.SuspiciousPorts)),
		levels:     make(map[string]string, len(spec.SeverityLevels)),
		thresholds: spec.Thresholds,
		source:     source,
		loadedAt:   time.Now().UTC(),
	}

	for idx, raw := range spec.BlocklistedIPs {
		ip := net.ParseIP(strings.TrimSpace(raw))
		if ip == nil {
			return nil, fmt.Errorf("blocklisted_ips[%d]: %q is not an IP literal", idx, raw)
		}
		rs.blocklist[ip.String()] = struct{}{}
	}
	for idx, port := range spec.SuspiciousPorts {
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("suspicious_ports[%d]: %d is out of range", idx, port)
		}
		rs.ports[port] = struct{}{}
	}
	for name, label := range spec.SeverityLevels {
		rs.levels[strings.ToLower(strings.TrimSpace(name))] = label
	}
	if spec.Thresholds.CPUPercent < 0 || spec.Thresholds.MemoryMB < 0 {
		return nil, fmt.Errorf("thresholds must be >= 0")
	}

	return rs, nil
}

// IsBlocklisted reports whether ip is in the blocklist.
// Params: ip textual address; compared in canonical form.
// Returns: true on membership.
func (rs *RuleSet) IsBlocklisted(ip string) bool {
	_, ok := rs.blocklist[canonicalIP(ip)]
	return ok
}

// IsSuspiciousPort reports whether port is in the suspicious set.
func (rs *RuleSet) IsSuspiciousPort(port int) bool {
	_, ok := rs.ports[port]
	return ok
}

// Label returns the display label for severity, or the severity name itself.
func (rs *RuleSet) Label(severity model.Severity) string {
	if label, ok := rs.levels[string(severity)]; ok {
		return label
	}
	return string(severity)
}

// Thresholds returns resource thresholds.
func (rs *RuleSet) Thresholds() Thresholds {
	return rs.thresholds
}

// Version returns the publish sequence number assigned by the engine.
func (rs *RuleSet) Version() int64 {
	return rs.version
}

// Fallback reports whether this is the safe default set.
func (rs *RuleSet) Fallback() bool {
	return rs.fallback
}

// Summary is a read-only projection of a rule set for status reporting.
type Summary struct {
	BlocklistedIPsCount int               `json:"blocklisted_ips_count"`
	SuspiciousPorts     []int             `json:"suspicious_ports"`
	Thresholds          Thresholds        `json:"thresholds"`
	SeverityLevels      map[string]string `json:"severity_levels"`
	RulesFile           string            `json:"rules_file"`
	Version             int64             `json:"version"`
	Fallback            bool              `json:"fallback"`
	LastLoaded          time.Time         `json:"last_loaded"`
}

// Summary projects rule set size and metadata.
// Params: none.
// Returns: copy-safe summary.
func (rs *RuleSet) Summary() Summary {
	ports := slices.Sorted(maps.Keys(rs.ports))
	return Summary{
		BlocklistedIPsCount: len(rs.blocklist),
		SuspiciousPorts:     ports,
		Thresholds:          rs.thresholds,
		SeverityLevels:      maps.Clone(rs.levels),
		RulesFile:           rs.source,
		Version:             rs.version,
		Fallback:            rs.fallback,
		LastLoaded:          rs.loadedAt,
	}
}

// withVersion returns a shallow copy stamped with a publish sequence number.
func (rs *RuleSet) withVersion(version int64) *RuleSet {
	stamped := *rs
	stamped.version = version
	return &stamped
}

func canonicalIP(raw string) string {
	if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
		return ip.String()
	}
	return raw
}
