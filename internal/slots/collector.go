package slots

import (
	"regexp"
	"strconv"
	"strings"
)

// CollectionResult is the outcome of folding one user reply into a pending
// action's collected slots: the re-normalized/re-validated slot set, what's
// still missing, any rule violations, and the next slot to ask for.
type CollectionResult struct {
	CollectedSlots   map[string]any
	MissingSlots     []string
	ValidationErrors ValidationErrors
	AskNextSlot      string
	ConfidenceBySlot map[string]float64
}

// PromptExample builds a human-readable hint for the given slot, using its
// first declared alias as the example key and its declared type to pick an
// example value.
func (n *Normalizer) PromptExample(action, slotName string) string {
	schema, ok := n.schemas[action]
	if !ok {
		return slotName + `: <값>`
	}
	key := slotName
	if aliases := schema.Aliases[slotName]; len(aliases) > 0 {
		key = aliases[0]
	}
	switch schema.ValidationRules[slotName].Type {
	case TypeInteger:
		return key + `: 5`
	case TypeBoolean:
		return key + `: true`
	default:
		return key + `: "값"`
	}
}

var keyedSlotPattern = regexp.MustCompile(`([0-9A-Za-z가-힣_]+)\s*[:=]\s*`)

// CollectFromReply merges one user reply into collectedSlots for action,
// using keyed "key: value"/"key=value" extraction against the action's
// alias table, falling back to treating the whole reply as the value of
// preferredSlot when no keyed form matched it. The merged set is then
// re-normalized and re-validated.
func (n *Normalizer) CollectFromReply(action, userText string, collectedSlots map[string]any, preferredSlot string) CollectionResult {
	merged := make(map[string]any, len(collectedSlots))
	for k, v := range collectedSlots {
		merged[k] = v
	}
	confidence := map[string]float64{}
	raw := strings.TrimSpace(userText)

	if raw != "" {
		keyedUpdates := n.extractKeyedSlotValues(action, raw)
		for key, value := range keyedUpdates {
			merged[key] = value
			confidence[key] = 0.95
		}

		if preferredSlot != "" {
			if _, matched := keyedUpdates[preferredSlot]; !matched {
				if parsed, ok := n.parseSlotValue(action, preferredSlot, raw); ok {
					merged[preferredSlot] = parsed
					confidence[preferredSlot] = 0.75
				}
			}
		}
	}

	normalized, missing, errs := n.Validate(action, merged)
	askNext := ""
	if len(missing) > 0 {
		askNext = missing[0]
	}
	return CollectionResult{
		CollectedSlots:   normalized,
		MissingSlots:     missing,
		ValidationErrors: errs,
		AskNextSlot:      askNext,
		ConfidenceBySlot: confidence,
	}
}

// extractKeyedSlotValues parses chained keyed values like "이슈: OPT-36
// 본문: 로그인 오류" against action's alias table.
func (n *Normalizer) extractKeyedSlotValues(action, text string) map[string]any {
	reverse, ok := n.aliasToCanonical[action]
	schema, known := n.schemas[action]
	if !ok || !known {
		return map[string]any{}
	}
	aliasMap := make(map[string]string, len(reverse))
	for alias, canonical := range reverse {
		aliasMap[strings.ToLower(strings.TrimSpace(alias))] = canonical
	}
	for slot := range schema.ValidationRules {
		if _, present := aliasMap[strings.ToLower(slot)]; !present {
			aliasMap[strings.ToLower(slot)] = slot
		}
	}
	for _, slot := range append(append([]string{}, schema.RequiredSlots...), schema.OptionalSlots...) {
		if _, present := aliasMap[strings.ToLower(slot)]; !present {
			aliasMap[strings.ToLower(slot)] = slot
		}
	}

	updates := map[string]any{}
	marks := keyedSlotPattern.FindAllStringSubmatchIndex(text, -1)
	for idx, mark := range marks {
		rawKey := strings.ToLower(strings.TrimSpace(text[mark[2]:mark[3]]))
		valueStart := mark[1]
		valueEnd := len(text)
		if idx+1 < len(marks) {
			valueEnd = marks[idx+1][0]
		}
		rawValue := strings.Trim(strings.TrimSpace(text[valueStart:valueEnd]), ",")
		slotName, ok := aliasMap[rawKey]
		if !ok {
			continue
		}
		parsed, ok := n.parseSlotValue(action, slotName, rawValue)
		if !ok {
			continue
		}
		updates[slotName] = parsed
	}
	return updates
}

var trueWords = map[string]bool{"true": true, "yes": true, "y": true, "1": true, "네": true, "예": true}
var falseWords = map[string]bool{"false": true, "no": true, "n": true, "0": true, "아니오": true, "아니요": true}

// parseSlotValue coerces raw text to the slot's declared type, mirroring
// the keyed-reply and preferred-slot fallback parsing. The bool return is
// false for an empty or unparseable value, matching the Python sentinel of
// None/"".
func (n *Normalizer) parseSlotValue(action, slotName, text string) (any, bool) {
	raw := strings.Trim(strings.TrimSpace(text), ` "'`+"`")
	if raw == "" {
		return nil, false
	}
	schema, known := n.schemas[action]
	if !known {
		return raw, true
	}
	rule := schema.ValidationRules[slotName]
	switch rule.Type {
	case TypeInteger:
		if digits := integerPattern.FindString(raw); digits != "" {
			if v, err := strconv.Atoi(digits); err == nil {
				return v, true
			}
		}
		return raw, true
	case TypeBoolean:
		lowered := strings.ToLower(raw)
		if trueWords[lowered] {
			return true, true
		}
		if falseWords[lowered] {
			return false, true
		}
	}
	return raw, true
}

var integerPattern = regexp.MustCompile(`-?\d+`)
