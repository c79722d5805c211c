// Package resolver scores and ranks candidate services for a user request
// by keyword overlap, preferring services the user has already connected.
package resolver

import (
	"sort"
	"strings"

	"github.com/relaycore/orchestrator/internal/intent"
	"github.com/relaycore/orchestrator/internal/registry"
)

// ToolLister is the subset of the registry the resolver needs; satisfied
// by *registry.Registry.
type ToolLister interface {
	ListTools(service string) ([]registry.ToolDefinition, error)
}

// Resolver scores services against free text using a static keyword map
// plus keywords synthesized from each connected service's registered tools.
type Resolver struct {
	tools ToolLister
}

func New(tools ToolLister) *Resolver {
	return &Resolver{tools: tools}
}

var excludedTokens = map[string]bool{"tool": true, "api": true, "call": true}

func synthesizeKeywords(service string, tools []registry.ToolDefinition) []string {
	seen := map[string]bool{strings.ToLower(service): true}
	out := []string{strings.ToLower(service)}
	for _, t := range tools {
		for _, tok := range tokenize(t.ToolName + " " + t.Description) {
			if len(tok) < 3 || excludedTokens[tok] || seen[tok] {
				continue
			}
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

func tokenize(s string) []string {
	lower := strings.ToLower(s)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 0xAC00 && r <= 0xD7A3)
	})
}

// Scored is one candidate service with its overlap score.
type Scored struct {
	Service string
	Score int
}

// ResolveServices scores, ranks, and restricts to connected services
// (when non-empty), defaults to a single connected service when nothing
// scores, and returns the top maxServices.
func (r *Resolver) ResolveServices(text string, connected []string, maxServices int) ([]string, error) {
	lower := strings.ToLower(intent.NormalizeWhitespace(text))
	connectedSet := make(map[string]bool, len(connected))
	for _, c := range connected {
		connectedSet[strings.ToLower(c)] = true
	}

	services, err := r.allServices(connected)
	if err != nil {
		return nil, err
	}

	var scored []Scored
	for _, svc := range services {
		tools, err := r.tools.ListTools(svc)
		if err != nil {
			return nil, err
		}
		keywords := append([]string{}, intent.MatchedServiceKeywords(text)...)
		keywords = append(keywords, synthesizeKeywords(svc, tools)...)
		score := 0
		seen := map[string]bool{}
		for _, kw := range keywords {
			if seen[kw] {
				continue
			}
			seen[kw] = true
			if strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if connectedSet[svc] {
			score++
		}
		if score > 0 {
			scored = append(scored, Scored{Service: svc, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	var ranked []string
	for _, s := range scored {
		if len(connectedSet) > 0 && !connectedSet[s.Service] {
			continue
		}
		ranked = append(ranked, s.Service)
	}

	if len(ranked) == 0 && len(connected) == 1 {
		ranked = []string{strings.ToLower(connected[0])}
	}

	if len(ranked) > maxServices {
		ranked = ranked[:maxServices]
	}
	return ranked, nil
}

func (r *Resolver) allServices(connected []string) ([]string, error) {
	set := map[string]bool{}
	for svc := range serviceKeywordMap() {
		set[svc] = true
	}
	for _, c := range connected {
		set[strings.ToLower(c)] = true
	}
	out := make([]string, 0, len(set))
	for svc := range set {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out, nil
}

func serviceKeywordMap() map[string][]string {
	return map[string][]string{
		"notion": {"notion", "노션"}, "linear": {"linear", "리니어"},
		"google": {"google", "구글"}, "github": {"github"}, "slack": {"slack"}, "spotify": {"spotify"},
	}
}
