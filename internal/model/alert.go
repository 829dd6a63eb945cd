package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the ordinal importance of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists the closed severity vocabulary in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity normalizes and validates a severity name.
// Params: raw severity text.
// Returns: severity or error when the name is outside the vocabulary.
func ParseSeverity(raw string) (Severity, error) {
	value := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !value.Valid() {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return value, nil
}

// Valid reports whether severity belongs to the vocabulary.
func (s Severity) Valid() bool {
	for _, known := range Severities {
		if s == known {
			return true
		}
	}
	return false
}

// Alert is one flagged condition produced by matching an event against the rule set.
// Params: Details always embeds the triggering event and the rule identifier.
// Returns: alert payload handed to persistence and fan-out sinks.
type Alert struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// Rule returns the rule identifier recorded in alert details.
// Params: none.
// Returns: rule id or empty string.
func (a Alert) Rule() string {
	rule, _ := a.Details["rule_triggered"].(string)
	return rule
}
