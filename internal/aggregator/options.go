package aggregator

import (
	"fmt"
	"math"
)

// OptionType enumerates the value kinds an aggregator option can take.
type OptionType string

const (
	OptionBoolean  OptionType = "boolean"
	OptionInteger  OptionType = "integer"
	OptionFloat    OptionType = "float"
	OptionString   OptionType = "string"
	OptionPassword OptionType = "password"
	OptionChoice   OptionType = "choice"
)

// Option describes one configurable knob in an aggregator's schema.
type Option struct {
	Type     OptionType  `json:"type"`
	Label    string      `json:"label"`
	HelpText string      `json:"help_text,omitempty"`
	Default  interface{} `json:"default,omitempty"`
	Required bool        `json:"required,omitempty"`
	Min      *float64    `json:"min,omitempty"`
	Max      *float64    `json:"max,omitempty"`
	Choices  []string    `json:"choices,omitempty"`
	Widget   string      `json:"widget,omitempty"`
}

func floatPtr(v float64) *float64 { return &v }

// ValidateOptions checks runtime option values against an aggregator's
// declared schema. Unknown keys are rejected. Numeric values arriving
// from JSON decode as float64; integer options additionally require a
// whole number.
func ValidateOptions(schema map[string]Option, values map[string]interface{}) error {
	for key, value := range values {
		opt, ok := schema[key]
		if !ok {
			return fmt.Errorf("unknown option %q", key)
		}
		if err := validateOptionValue(key, opt, value); err != nil {
			return err
		}
	}

	for key, opt := range schema {
		if opt.Required {
			if _, ok := values[key]; !ok {
				return fmt.Errorf("option %q is required", key)
			}
		}
	}

	return nil
}

func validateOptionValue(key string, opt Option, value interface{}) error {
	switch opt.Type {
	case OptionBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("option %q must be a boolean", key)
		}

	case OptionInteger:
		n, ok := toFloat(value)
		if !ok || n != math.Trunc(n) {
			return fmt.Errorf("option %q must be an integer", key)
		}
		return checkRange(key, opt, n)

	case OptionFloat:
		n, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("option %q must be a number", key)
		}
		return checkRange(key, opt, n)

	case OptionString, OptionPassword:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("option %q must be a string", key)
		}

	case OptionChoice:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("option %q must be a string", key)
		}
		for _, choice := range opt.Choices {
			if s == choice {
				return nil
			}
		}
		return fmt.Errorf("option %q must be one of %v", key, opt.Choices)

	default:
		return fmt.Errorf("option %q has unsupported type %q", key, opt.Type)
	}

	return nil
}

func checkRange(key string, opt Option, n float64) error {
	if opt.Min != nil && n < *opt.Min {
		return fmt.Errorf("option %q must be >= %v", key, *opt.Min)
	}
	if opt.Max != nil && n > *opt.Max {
		return fmt.Errorf("option %q must be <= %v", key, *opt.Max)
	}
	return nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// IntOption reads an integer option from decoded feed options, falling
// back to the schema default when absent or malformed.
func IntOption(values map[string]interface{}, schema map[string]Option, key string) int {
	if v, ok := values[key]; ok {
		if n, ok := toFloat(v); ok {
			return int(n)
		}
	}
	if opt, ok := schema[key]; ok {
		if n, ok := toFloat(opt.Default); ok {
			return int(n)
		}
	}
	return 0
}

// BoolOption reads a boolean option with schema-default fallback.
func BoolOption(values map[string]interface{}, schema map[string]Option, key string) bool {
	if v, ok := values[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	if opt, ok := schema[key]; ok {
		if b, ok := opt.Default.(bool); ok {
			return b
		}
	}
	return false
}

// StringOption reads a string option with schema-default fallback.
func StringOption(values map[string]interface{}, schema map[string]Option, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if opt, ok := schema[key]; ok {
		if s, ok := opt.Default.(string); ok {
			return s
		}
	}
	return ""
}
