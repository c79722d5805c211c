package executor

import (
	"fmt"
	"strconv"
	"strings"
)

var compareOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// evalBoolRule evaluates one verify-node rule string of the form
// "$node.path OP $node.path" or "$node.path OP literal". A rule with no
// recognized operator is treated as a bare truthiness check on the
// resolved left side.
func evalBoolRule(rule string, results map[string]any) (bool, error) {
	rule = strings.TrimSpace(rule)
	for _, op := range compareOps {
		if idx := strings.Index(rule, op); idx >= 0 {
			left := strings.TrimSpace(rule[:idx])
			right := strings.TrimSpace(rule[idx+len(op):])
			lv, err := resolveRuleOperand(left, results)
			if err != nil {
				return false, err
			}
			rv, err := resolveRuleOperand(right, results)
			if err != nil {
				return false, err
			}
			return compareValues(lv, rv, op)
		}
	}

	v, err := resolveRuleOperand(rule, results)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func resolveRuleOperand(token string, results map[string]any) (any, error) {
	if strings.HasPrefix(token, "$") {
		return ResolveRefs(token, results, nil)
	}
	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n, nil
	}
	if b, err := strconv.ParseBool(token); err == nil {
		return b, nil
	}
	return strings.Trim(token, `"'`), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case []any:
		return float64(len(t)), true
	default:
		return 0, false
	}
}

func compareValues(left, right any, op string) (bool, error) {
	if lf, ok1 := asFloat(left); ok1 {
		if rf, ok2 := asFloat(right); ok2 {
			switch op {
			case "==":
				return lf == rf, nil
			case "!=":
				return lf != rf, nil
			case ">":
				return lf > rf, nil
			case ">=":
				return lf >= rf, nil
			case "<":
				return lf < rf, nil
			case "<=":
				return lf <= rf, nil
			}
		}
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	default:
		return false, fmt.Errorf("verify rule: cannot compare %v %s %v", left, op, right)
	}
}
