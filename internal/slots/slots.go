// Package slots implements the per-action slot schema, alias-based
// normalization, and validation used by conversational slot collection.
package slots

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// SlotType is the declared type of one slot's value.
type SlotType string

const (
	TypeString SlotType = "string"
	TypeInteger SlotType = "integer"
	TypeBoolean SlotType = "boolean"
)

// ValidationRule constrains one slot's value.
type ValidationRule struct {
	Type SlotType `json:"type"`
	MinLength *int `json:"min_length,omitempty"`
	MaxLength *int `json:"max_length,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
	Enum []any `json:"enum,omitempty"`
}

// ActionSlotSchema is the slot contract for one action id.
type ActionSlotSchema struct {
	RequiredSlots []string `json:"required_slots"`
	OptionalSlots []string `json:"optional_slots"`
	AutoFillSlots []string `json:"auto_fill_slots"`
	AskOrder []string `json:"ask_order"`
	Aliases map[string][]string `json:"aliases"`
	ValidationRules map[string]ValidationRule `json:"validation_rules"`
}

// Normalizer holds the registered action schemas and performs alias
// resolution and validation against them.
type Normalizer struct {
	schemas map[string]ActionSlotSchema
	// aliasToCanonical is derived per-action from Aliases at registration.
	aliasToCanonical map[string]map[string]string
}

// New creates a normalizer with the given built-in action schemas.
func New(schemas map[string]ActionSlotSchema) *Normalizer {
	n := &Normalizer{
		schemas: make(map[string]ActionSlotSchema),
		aliasToCanonical: make(map[string]map[string]string),
	}
	for action, schema := range schemas {
		n.register(action, schema)
	}
	return n
}

func (n *Normalizer) register(action string, schema ActionSlotSchema) {
	n.schemas[action] = schema
	reverse := make(map[string]string)
	for canonical, aliases := range schema.Aliases {
		for _, alias := range aliases {
			reverse[alias] = canonical
		}
	}
	n.aliasToCanonical[action] = reverse
}

// LoadOverrides merges additional action schemas from an optional JSON
// file into the normalizer at init.
func (n *Normalizer) LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read slot overrides: %w", err)
	}
	var overrides map[string]ActionSlotSchema
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return fmt.Errorf("parse slot overrides: %w", err)
	}
	for action, schema := range overrides {
		n.register(action, schema)
	}
	return nil
}

// Normalize maps every key through the action's alias table to its
// canonical form. When both the canonical key and an alias for it are
// present, the canonical value wins and the alias entry is dropped.
func (n *Normalizer) Normalize(action string, slots map[string]any) map[string]any {
	reverse, ok := n.aliasToCanonical[action]
	out := make(map[string]any, len(slots))
	if !ok {
		for k, v := range slots {
			out[k] = v
		}
		return out
	}

	canonicalPresent := make(map[string]bool)
	for k := range slots {
		if _, isAlias := reverse[k]; !isAlias {
			canonicalPresent[k] = true
		}
	}

	for k, v := range slots {
		canonical, isAlias := reverse[k]
		if !isAlias {
			out[k] = v
			continue
		}
		if canonicalPresent[canonical] {
			// canonical value already wins; drop this alias entirely.
			continue
		}
		out[canonical] = v
	}
	return out
}

// ValidationErrors maps slot name to its ordered rule-violation codes.
type ValidationErrors map[string][]string

// Validate normalizes slots for action, then reports required slots still
// missing (in ask_order) and per-slot rule-violation codes of the form
// "slot:rule:bound". Unknown actions are a no-op pass-through.
func (n *Normalizer) Validate(action string, slots map[string]any) (normalized map[string]any, missing []string, errs ValidationErrors) {
	schema, known := n.schemas[action]
	normalized = n.Normalize(action, slots)
	if !known {
		return normalized, nil, ValidationErrors{}
	}

	errs = ValidationErrors{}
	for slot, rule := range schema.ValidationRules {
		v, present := normalized[slot]
		if !present || isEmpty(v) {
			continue
		}
		if codes := checkRule(slot, rule, v); len(codes) > 0 {
			errs[slot] = codes
		}
	}

	askOrder := schema.AskOrder
	if len(askOrder) == 0 {
		askOrder = append([]string{}, schema.RequiredSlots...)
		sort.Strings(askOrder)
	}
	for _, slot := range askOrder {
		if !contains(schema.RequiredSlots, slot) {
			continue
		}
		v, present := normalized[slot]
		if !present || isEmpty(v) {
			missing = append(missing, slot)
		}
	}
	return normalized, missing, errs
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}

// isInteger treats booleans as non-integers even though Go's JSON decoder
// represents both as float64-compatible values.
func isInteger(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		return 0, false
	case float64:
		return n, n == float64(int64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func checkRule(slot string, rule ValidationRule, v any) []string {
	var codes []string
	switch rule.Type {
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			codes = append(codes, fmt.Sprintf("%s:type:boolean", slot))
		}
	case TypeInteger:
		num, ok := isInteger(v)
		if !ok {
			codes = append(codes, fmt.Sprintf("%s:type:integer", slot))
			break
		}
		if rule.Min != nil && num < *rule.Min {
			codes = append(codes, fmt.Sprintf("%s:min:%v", slot, *rule.Min))
		}
		if rule.Max != nil && num > *rule.Max {
			codes = append(codes, fmt.Sprintf("%s:max:%v", slot, *rule.Max))
		}
		if len(rule.Enum) > 0 && !enumContains(rule.Enum, num) {
			codes = append(codes, fmt.Sprintf("%s:enum", slot))
		}
	case TypeString:
		s, ok := v.(string)
		if !ok {
			codes = append(codes, fmt.Sprintf("%s:type:string", slot))
			break
		}
		if rule.MinLength != nil && len(s) < *rule.MinLength {
			codes = append(codes, fmt.Sprintf("%s:min_length:%d", slot, *rule.MinLength))
		}
		if rule.MaxLength != nil && len(s) > *rule.MaxLength {
			codes = append(codes, fmt.Sprintf("%s:max_length:%d", slot, *rule.MaxLength))
		}
		if rule.Pattern != "" {
			if matched, err := regexp.MatchString(rule.Pattern, s); err != nil || !matched {
				codes = append(codes, fmt.Sprintf("%s:pattern", slot))
			}
		}
		if len(rule.Enum) > 0 && !enumContainsString(rule.Enum, s) {
			codes = append(codes, fmt.Sprintf("%s:enum", slot))
		}
	}
	return codes
}

func enumContains(enum []any, num float64) bool {
	for _, e := range enum {
		if f, ok := e.(float64); ok && f == num {
			return true
		}
	}
	return false
}

func enumContainsString(enum []any, s string) bool {
	for _, e := range enum {
		if v, ok := e.(string); ok && v == s {
			return true
		}
	}
	return false
}
