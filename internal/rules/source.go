package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRules marks a rule document that does not match the expected shape.
var ErrInvalidRules = errors.New("invalid rule document")

// Source acquires a complete rule set from external storage.
type Source interface {
	Load(ctx context.Context) (*RuleSet, error)
	Location() string
}

// documentSchema describes the accepted rule document (YAML or JSON).
const documentSchema = `{
  "type": "object",
  "properties": {
    "blocklisted_ips": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "severity_levels": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "suspicious_ports": {
      "type": "array",
      "items": {"type": "integer", "minimum": 1, "maximum": 65535}
    },
    "thresholds": {
      "type": "object",
      "properties": {
        "cpu_percent": {"type": "number", "minimum": 0},
        "memory_mb": {"type": "number", "minimum": 0}
      }
    }
  }
}`

var compiledSchema = mustCompileSchema(documentSchema)

type document struct {
	BlocklistedIPs  []string          `yaml:"blocklisted_ips"`
	SeverityLevels  map[string]string `yaml:"severity_levels"`
	SuspiciousPorts []int             `yaml:"suspicious_ports"`
	Thresholds      *struct {
		CPUPercent *float64 `yaml:"cpu_percent"`
		MemoryMB   *float64 `yaml:"memory_mb"`
	} `yaml:"thresholds"`
}

// FileSource loads rules from a YAML or JSON file.
type FileSource struct {
	Path string
}

// Location returns the rule file path.
func (s FileSource) Location() string {
	return s.Path
}

// Load reads, validates and builds a rule set from the file.
// Params: ctx for cancellation before IO.
// Returns: complete rule set or load error.
func (s FileSource) Load(ctx context.Context) (*RuleSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read rules %q: %w", s.Path, err)
	}
	spec, err := ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rules %q: %w", s.Path, err)
	}
	rs, err := NewRuleSet(spec, s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	return rs, nil
}

// ParseDocument decodes a rule document and applies defaults to omitted fields.
// Params: raw YAML or JSON bytes.
// Returns: rule spec or ErrInvalidRules.
func ParseDocument(raw []byte) (Spec, error) {
	if strings.TrimSpace(string(raw)) == "" {
		return Spec{}, fmt.Errorf("%w: document is empty", ErrInvalidRules)
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return Spec{}, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	result, err := compiledSchema.Validate(gojsonschema.NewGoLoader(generic))
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, problem := range result.Errors() {
			problems = append(problems, problem.String())
		}
		return Spec{}, fmt.Errorf("%w: %s", ErrInvalidRules, strings.Join(problems, "; "))
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Spec{}, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}

	spec := DefaultSpec()
	spec.BlocklistedIPs = doc.BlocklistedIPs
	if len(doc.SeverityLevels) > 0 {
		spec.SeverityLevels = doc.SeverityLevels
	}
	if doc.SuspiciousPorts != nil {
		spec.SuspiciousPorts = doc.SuspiciousPorts
	}
	if doc.Thresholds != nil {
		if doc.Thresholds.CPUPercent != nil {
			spec.Thresholds.CPUPercent = *doc.Thresholds.CPUPercent
		}
		if doc.Thresholds.MemoryMB != nil {
			spec.Thresholds.MemoryMB = *doc.Thresholds.MemoryMB
		}
	}
	return spec, nil
}

func mustCompileSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("compile rule schema: %v", err))
	}
	return schema
}
