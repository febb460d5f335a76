package config

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal wraps decimal.Decimal with YAML support so thresholds written as
// numbers or strings in config files parse exactly, never through float64.
type Decimal struct {
	decimal.Decimal
}

// NewDecimal wraps an existing decimal value.
func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{Decimal: d}
}

// UnmarshalYAML parses the scalar node text with exact decimal semantics.
func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("decimal value must be a scalar, got %v", node.Kind)
	}
	parsed, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", node.Value, err)
	}
	d.Decimal = parsed
	return nil
}

// MarshalYAML emits the canonical decimal string.
func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
