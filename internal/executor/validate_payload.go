package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var requiredPropsPattern = regexp.MustCompile(`'([^']+)'`)

// ValidatePayload checks payload against a tool's input_schema and returns
// one VALIDATION_{REQUIRED|TYPE|MIN|MAX|ENUM}:{field} code per violation.
// An empty or nil schema always passes.
func ValidatePayload(schema map[string]any, payload map[string]any) ([]string, error) {
	if len(schema) == 0 {
		return nil, nil
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("validate_payload: marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	const resourceURL = "tool-input-schema.json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("validate_payload: add resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("validate_payload: compile schema: %w", err)
	}

	instance := map[string]any(payload)
	if instance == nil {
		instance = map[string]any{}
	}

	err = compiled.Validate(instance)
	if err == nil {
		return nil, nil
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{fmt.Sprintf("VALIDATION_TYPE:%s", "payload")}, nil
	}

	var codes []string
	collectValidationCodes(verr, &codes)
	if len(codes) == 0 {
		codes = append(codes, "VALIDATION_TYPE:payload")
	}
	return codes, nil
}

func collectValidationCodes(verr *jsonschema.ValidationError, out *[]string) {
	if len(verr.Causes) > 0 {
		for _, cause := range verr.Causes {
			collectValidationCodes(cause, out)
		}
		return
	}

	field := instanceField(verr.InstanceLocation)
	kw := strings.ToLower(verr.KeywordLocation)

	switch {
	case strings.Contains(kw, "required"):
		for _, m := range requiredPropsPattern.FindAllStringSubmatch(verr.Message, -1) {
			*out = append(*out, fmt.Sprintf("VALIDATION_REQUIRED:%s", m[1]))
		}
		if len(requiredPropsPattern.FindAllStringSubmatch(verr.Message, -1)) == 0 {
			*out = append(*out, fmt.Sprintf("VALIDATION_REQUIRED:%s", field))
		}
	case strings.Contains(kw, "minimum") || strings.Contains(kw, "minlength") || strings.Contains(kw, "minitems"):
		*out = append(*out, fmt.Sprintf("VALIDATION_MIN:%s", field))
	case strings.Contains(kw, "maximum") || strings.Contains(kw, "maxlength") || strings.Contains(kw, "maxitems"):
		*out = append(*out, fmt.Sprintf("VALIDATION_MAX:%s", field))
	case strings.Contains(kw, "enum"):
		*out = append(*out, fmt.Sprintf("VALIDATION_ENUM:%s", field))
	case strings.Contains(kw, "type"):
		*out = append(*out, fmt.Sprintf("VALIDATION_TYPE:%s", field))
	default:
		*out = append(*out, fmt.Sprintf("VALIDATION_TYPE:%s", field))
	}
}

func instanceField(location string) string {
	trimmed := strings.TrimPrefix(location, "/")
	if trimmed == "" {
		return "payload"
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}
