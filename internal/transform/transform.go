// Package transform implements the pure, deterministic payload transforms
// used by DAG llm_transform and skill nodes. None of these functions
// perform I/O.
package transform

import (
	"fmt"
	"strings"
)

const (
	maxMinutesBlocks = 80
	maxMinutesBlockLen = 1800
	maxMinutesTitleLen = 100
	maxLinearBodyLen = 7800
	maxLinearTitleLen = 200
)

var defaultMeetingKeywords = []string{"회의", "meeting"}

// FilterMeetingEvents implements filter_meeting_events.
func FilterMeetingEvents(events []map[string]any, include, exclude []string) map[string]any {
	if len(include) == 0 {
		include = defaultMeetingKeywords
	}

	var matched []map[string]any
	for _, ev := range events {
		text := strings.ToLower(eventText(ev))
		if !containsAny(text, include) {
			continue
		}
		if containsAny(text, exclude) {
			continue
		}
		matched = append(matched, ev)
	}

	return map[string]any{
		"meeting_events": matched,
		"meeting_count": len(matched),
		"source_count": len(events),
	}
}

func eventText(ev map[string]any) string {
	var parts []string
	for _, key := range []string{"summary", "title", "description"} {
		if v, ok := ev[key].(string); ok {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// FormatDetailedMinutes implements format_detailed_minutes: renders a
// bounded-length Notion block list from a list of meeting events.
func FormatDetailedMinutes(meetingEvents []map[string]any) map[string]any {
	var blocks []map[string]any
	for _, ev := range meetingEvents {
		if len(blocks) >= maxMinutesBlocks {
			break
		}
		title := truncate(fmt.Sprintf("%v", ev["summary"]), maxMinutesTitleLen)
		body := truncate(eventText(ev), maxMinutesBlockLen)
		blocks = append(blocks, map[string]any{
			"type": "heading_3",
			"text": title,
		})
		if body != "" && len(blocks) < maxMinutesBlocks {
			blocks = append(blocks, map[string]any{
				"type": "paragraph",
				"text": body,
			})
		}
	}
	return map[string]any{"blocks": blocks, "block_count": len(blocks)}
}

// FormatLinearMeetingIssue implements format_linear_meeting_issue: renders
// a Linear-compatible title/description pair from meeting events.
func FormatLinearMeetingIssue(meetingEvents []map[string]any) map[string]any {
	var lines []string
	var titleParts []string
	for _, ev := range meetingEvents {
		summary := fmt.Sprintf("%v", ev["summary"])
		titleParts = append(titleParts, summary)
		lines = append(lines, "- "+summary)
	}

	title := truncate(strings.Join(titleParts, ", "), maxLinearTitleLen)
	if title == "" {
		title = "Meeting summary"
	}
	description := truncate(strings.Join(lines, "\n"), maxLinearBodyLen)

	return map[string]any{"title": title, "description": description}
}

// RunTransformContract dispatches by name; unknown names pass the payload
// through unchanged.
func RunTransformContract(name string, payload map[string]any) map[string]any {
	switch name {
	case "filter_meeting_events":
		events := toMapSlice(payload["events"])
		include := toStringSlice(payload["include_keywords"])
		exclude := toStringSlice(payload["exclude_keywords"])
		return FilterMeetingEvents(events, include, exclude)
	case "format_detailed_minutes":
		events := toMapSlice(payload["meeting_events"])
		return FormatDetailedMinutes(events)
	case "format_linear_meeting_issue":
		events := toMapSlice(payload["meeting_events"])
		return FormatLinearMeetingIssue(events)
	default:
		return payload
	}
}

func toMapSlice(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func toStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
