package config

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// fileSchema is the structural contract for kiln.yaml. The parsed YAML is
// re-marshaled to JSON and validated against it before any semantic checks
// run, so shape errors surface with field paths instead of decode panics.
const fileSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "package": {"type": "string"},
    "targets": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "sources": {
            "oneOf": [
              {"type": "array", "items": {"type": "string"}},
              {
                "type": "object",
                "additionalProperties": false,
                "properties": {
                  "include": {"type": "array", "items": {"type": "string"}},
                  "exclude": {"type": "array", "items": {"type": "string"}}
                }
              }
            ]
          },
          "builders": {
            "type": "object",
            "additionalProperties": {
              "type": "object",
              "additionalProperties": false,
              "properties": {
                "generate_for": {"type": "array", "items": {"type": "string"}},
                "enabled": {"type": "boolean"},
                "options": {"type": "object"},
                "dev_options": {"type": "object"},
                "release_options": {"type": "object"}
              }
            }
          }
        }
      }
    },
    "builders": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "defaults": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "options": {"type": "object"},
              "dev_options": {"type": "object"},
              "release_options": {"type": "object"}
            }
          }
        }
      }
    },
    "global_options": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "options": {"type": "object"},
          "dev_options": {"type": "object"},
          "release_options": {"type": "object"}
        }
      }
    }
  }
}`

// validateSchema checks the raw decoded document against fileSchema.
func validateSchema(raw any) error {
	doc, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return domain.NewConfigErrorf("config is not JSON-representable: %v", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(fileSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return domain.NewConfigErrorf("schema validation failed: %v", err)
	}
	if result.Valid() {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("invalid configuration:")
	for _, desc := range result.Errors() {
		sb.WriteString("\n  ")
		sb.WriteString(desc.Field())
		sb.WriteString(": ")
		sb.WriteString(desc.Description())
	}
	return &domain.ConfigError{Detail: sb.String()}
}

// normalizeYAML rewrites yaml.v3's map[string]any / map[any]any values into
// JSON-marshalable form.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				continue
			}
			out[key] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
