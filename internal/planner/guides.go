package planner

import (
	"os"
	"path/filepath"
	"strings"
)

// GuideLoader reads per-service planning context from API-guide markdown
// files, matched by a "## {service}" (case-insensitive) section header.
// A missing directory or missing section is never an error: it is simply
// absent context, surfaced to the caller as a note.
type GuideLoader struct {
	dir string
}

func NewGuideLoader(dir string) *GuideLoader {
	return &GuideLoader{dir: dir}
}

// Section returns the body of the "## {service}" section of any markdown
// file in dir, or ("", false) if no file/section matches.
func (g *GuideLoader) Section(service string) (string, bool) {
	if g.dir == "" {
		return "", false
	}
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(g.dir, entry.Name()))
		if err != nil {
			continue
		}
		if section, ok := extractSection(string(raw), service); ok {
			return section, true
		}
	}
	return "", false
}

func extractSection(doc, service string) (string, bool) {
	lines := strings.Split(doc, "\n")
	target := strings.ToLower(service)
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		header := strings.ToLower(strings.TrimLeft(trimmed, "# "))
		if strings.Contains(header, target) {
			start = i + 1
			break
		}
	}
	if start == -1 {
		return "", false
	}
	var body []string
	for i := start; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "#") {
			break
		}
		body = append(body, lines[i])
	}
	return strings.TrimSpace(strings.Join(body, "\n")), true
}
