// Package intent implements the Korean/English keyword classifiers and
// structured extractors that turn free text into intents, identifiers,
// quantities, titles, and priorities.
package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Keyword families cover both Korean and English phrasing for each intent.
var (
	createKeywords = []string{"create", "생성", "만들", "추가", "register", "등록"}
	readKeywords = []string{"read", "조회", "보기", "확인", "get", "가져와"}
	summaryKeywords = []string{"summary", "요약", "summarize"}
	updateKeywords = []string{"update", "수정", "변경", "rename", "이동", "move"}
	moveKeywords = []string{"이동", "move"}
	renameKeywords = []string{"rename", "제목을", "제목 변경"}
	deleteKeywords = []string{"delete", "삭제", "archive", "아카이브", "remove", "purge"}
	appendKeywords = []string{"append", "추가", "덧붙"}
	dataSourceKeywords = []string{"data source", "데이터소스", "데이터 소스"}
	issueKeywords = []string{"issue", "이슈", "ticket", "티켓"}
	serviceKeywords = map[string][]string{
		"notion": {"notion", "노션"},
		"linear": {"linear", "리니어"},
		"google": {"google", "구글", "calendar", "캘린더"},
		"github": {"github", "깃헙", "깃허브"},
		"slack": {"slack", "슬랙"},
		"spotify": {"spotify", "스포티파이"},
	}
)

func containsAny(textLower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(textLower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func IsCreateIntent(text string) bool { return containsAny(strings.ToLower(text), createKeywords) }
func IsReadIntent(text string) bool { return containsAny(strings.ToLower(text), readKeywords) }
func IsSummaryIntent(text string) bool { return containsAny(strings.ToLower(text), summaryKeywords) }
func IsUpdateIntent(text string) bool { return containsAny(strings.ToLower(text), updateKeywords) }
func IsMoveIntent(text string) bool { return containsAny(strings.ToLower(text), moveKeywords) }
func IsRenameIntent(text string) bool { return containsAny(strings.ToLower(text), renameKeywords) }
func IsDeleteIntent(text string) bool { return containsAny(strings.ToLower(text), deleteKeywords) }
func IsAppendIntent(text string) bool { return containsAny(strings.ToLower(text), appendKeywords) }
func IsDataSourceIntent(text string) bool { return containsAny(strings.ToLower(text), dataSourceKeywords) }
func IsIssueIntent(text string) bool { return containsAny(strings.ToLower(text), issueKeywords) }

// MatchedServiceKeywords returns every built-in service whose keyword
// family appears in text.
func MatchedServiceKeywords(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for service, keywords := range serviceKeywords {
		if containsAny(lower, keywords) {
			out = append(out, service)
		}
	}
	return out
}

// NormalizeWhitespace collapses runs of whitespace to single spaces and
// trims the result; every extractor in this package operates on this form.
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

var linearRefPattern = regexp.MustCompile(`[A-Z]{2,10}-\d{1,6}`)
var quotedPattern = regexp.MustCompile(`["'“”]([^"'“”]+)["'“”]`)

// ExtractLinearIssueReference returns the first TEAM-123 style reference,
// falling back to the first quoted token; "" when neither is present.
func ExtractLinearIssueReference(text string) string {
	text = NormalizeWhitespace(text)
	if m := linearRefPattern.FindString(text); m != "" {
		return m
	}
	if m := quotedPattern.FindStringSubmatch(text); len(m) == 2 {
		return m[1]
	}
	return ""
}

var titleLabelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`제목\s*[:：]\s*["'“”]([^"'“”]+)["'“”]`),
	regexp.MustCompile(`(?i)title\s+is\s+["'“”]([^"'“”]+)["'“”]`),
	regexp.MustCompile(`(?i)title\s*[:：]\s*["'“”]([^"'“”]+)["'“”]`),
}
var quotedBeforePageKR = regexp.MustCompile(`["'“”]([^"'“”]+)["'“”]\s*페이지`)
var prefixBeforePageCreateKR = regexp.MustCompile(`([\p{L}\p{N} ]{2,100})\s*페이지\s*생성`)

var titleBlocklist = map[string]bool{
	"의": true, "가": true, "이": true, "을": true, "를": true, "은": true, "는": true,
}

func boundedTitle(candidate string, maxLen int) string {
	candidate = strings.TrimSpace(candidate)
	if len([]rune(candidate)) < 2 {
		return ""
	}
	if titleBlocklist[candidate] {
		return ""
	}
	r := []rune(candidate)
	if len(r) > maxLen {
		r = r[:maxLen]
	}
	return string(r)
}

// ExtractNotionPageTitleForCreate extracts a page title to use when
// creating a Notion page, trying labelled forms first, then a quoted
// phrase immediately before "페이지", then a prefix before "페이지 생성".
func ExtractNotionPageTitleForCreate(text string) string {
	text = NormalizeWhitespace(text)
	for _, p := range titleLabelPatterns {
		if m := p.FindStringSubmatch(text); len(m) == 2 {
			if t := boundedTitle(m[1], 100); t != "" {
				return t
			}
		}
	}
	if m := quotedBeforePageKR.FindStringSubmatch(text); len(m) == 2 {
		if t := boundedTitle(m[1], 100); t != "" {
			return t
		}
	}
	if m := prefixBeforePageCreateKR.FindStringSubmatch(text); len(m) == 2 {
		if t := boundedTitle(m[1], 100); t != "" {
			return t
		}
	}
	return ""
}

var notionUpdateTitlePattern = regexp.MustCompile(`(?i)(?:제목을|title to)\s*["'“”]([^"'“”]+)["'“”]`)
var linearUpdateTitlePattern = regexp.MustCompile(`(?i)(?:제목을|title to)\s*["'“”]([^"'“”]+)["'“”]`)
var linearUpdateBodyPattern = regexp.MustCompile(`(?i)(?:내용을|description to)\s*["'“”]([^"'“”]+)["'“”]`)
var priorityPattern = regexp.MustCompile(`priority\s*[:=]?\s*([0-4])`)

// ExtractNotionUpdateNewTitle extracts a new title from an update
// instruction, bounded to 100 characters.
func ExtractNotionUpdateNewTitle(text string) string {
	return extractBounded(notionUpdateTitlePattern, text, 100)
}

// ExtractLinearUpdateTitle extracts a new title from a Linear update
// instruction, bounded to 120 characters.
func ExtractLinearUpdateTitle(text string) string {
	return extractBounded(linearUpdateTitlePattern, text, 120)
}

// ExtractLinearUpdateBody extracts replacement body text for a Linear
// update instruction, bounded to 5000 characters.
func ExtractLinearUpdateBody(text string) string {
	return extractBounded(linearUpdateBodyPattern, text, 5000)
}

func extractBounded(pattern *regexp.Regexp, text string, maxLen int) string {
	text = NormalizeWhitespace(text)
	m := pattern.FindStringSubmatch(text)
	if len(m) != 2 {
		return ""
	}
	r := []rune(strings.TrimSpace(m[1]))
	if len(r) == 0 {
		return ""
	}
	if len(r) > maxLen {
		r = r[:maxLen]
	}
	return string(r)
}

// ExtractPriority extracts a single digit 0-4 priority from text, or -1
// when absent.
func ExtractPriority(text string) int {
	m := priorityPattern.FindStringSubmatch(NormalizeWhitespace(text))
	if len(m) != 2 {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}

// ExampleDataSourceID is the canonical example shown to users when a
// data-source query is missing or carries a malformed id.
const ExampleDataSourceID = "12345678-1234-1234-1234-1234567890ab"

var dashedUUIDPattern = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
var undashedUUIDPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{32}\b`)

// ExtractDataSourceID returns the id referenced by a data-source query,
// accepting both dashed and undashed UUID forms and normalizing to the
// dashed form (Open Question 3, resolved in DESIGN.md). Returns "" when no
// candidate id is present.
func ExtractDataSourceID(text string) string {
	text = NormalizeWhitespace(text)
	if m := dashedUUIDPattern.FindString(text); m != "" {
		return strings.ToLower(m)
	}
	if m := undashedUUIDPattern.FindString(text); m != "" {
		id := strings.ToLower(m)
		return id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32]
	}
	return ""
}

// IsValidDataSourceID reports whether id is a well-formed dashed UUID,
// after normalization through ExtractDataSourceID.
func IsValidDataSourceID(id string) bool {
	return dashedUUIDPattern.FindString(id) == id
}

var countPatternKR = regexp.MustCompile(`(\d+)\s*(?:개|건)`)
var countPatternEN = regexp.MustCompile(`(?i)(?:first\s*[:=]?\s*(\d+)|(\d+)\s*items)`)

// ExtractCountLimit reads "N개"/"N건"/"N items"/"first: N" from text,
// falling back to defaultN when absent, clamped to [min, max].
func ExtractCountLimit(text string, defaultN, min, max int) int {
	text = NormalizeWhitespace(text)
	n := defaultN
	if m := countPatternKR.FindStringSubmatch(text); len(m) == 2 {
		if v, err := strconv.Atoi(m[1]); err == nil {
			n = v
		}
	} else if m := countPatternEN.FindStringSubmatch(text); len(m) == 3 {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if v, err := strconv.Atoi(raw); err == nil {
			n = v
		}
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n
}
