package tools

import (
	"fmt"

	xerrors "IntentMCP/internal/errors"
)

// CodeSchemaViolation flags tool arguments that do not match the declared
// input schema. Validation happens before the engine is touched.
const CodeSchemaViolation xerrors.Code = "TOOL_SCHEMA_VIOLATION"

func init() {
	xerrors.Register(CodeSchemaViolation, xerrors.Attributes{
		Message:   "tool arguments do not match the input schema",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// ValidateArguments checks the arguments against the schema: required fields
// must be present and every known field must carry the declared type.
// Unknown fields are rejected so typos surface instead of being ignored.
func ValidateArguments(schema Schema, args map[string]any) error {
	for _, field := range schema.Required {
		if _, ok := args[field]; !ok {
			return xerrors.New(CodeSchemaViolation, fmt.Sprintf("missing required argument %q", field))
		}
	}
	for field, value := range args {
		prop, ok := schema.Properties[field]
		if !ok {
			return xerrors.New(CodeSchemaViolation, fmt.Sprintf("unknown argument %q", field))
		}
		if err := validateValue(field, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(field string, prop Property, value any) error {
	if value == nil {
		return xerrors.New(CodeSchemaViolation, fmt.Sprintf("argument %q must not be null", field))
	}
	switch prop.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			return typeMismatch(field, "string")
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, str) {
			return xerrors.New(CodeSchemaViolation, fmt.Sprintf("argument %q must be one of %v", field, prop.Enum))
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return typeMismatch(field, "boolean")
		}
	case "integer", "number":
		// JSON numbers arrive as float64.
		switch value.(type) {
		case float64, int, int64:
		default:
			return typeMismatch(field, prop.Type)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return typeMismatch(field, "object")
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return typeMismatch(field, "array")
		}
		if prop.Items != nil {
			for i, item := range items {
				if err := validateValue(fmt.Sprintf("%s[%d]", field, i), *prop.Items, item); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func typeMismatch(field, expected string) error {
	return xerrors.New(CodeSchemaViolation, fmt.Sprintf("argument %q must be a %s", field, expected))
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
