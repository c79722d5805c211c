package policy

import "testing"

func TestExpandGroups_ExpandsGroupReferencesAndDeduplicates(t *testing.T) {
	got := ExpandGroups([]string{"group:fs", "read", "websearch"})
	seen := map[string]bool{}
	for _, tool := range got {
		if seen[tool] {
			t.Errorf("expected no duplicate tools, found a repeat of %q in %v", tool, got)
		}
		seen[tool] = true
	}
	if !seen["read"] || !seen["write"] || !seen["websearch"] {
		t.Errorf("expected fs group tools plus websearch, got %v", got)
	}
}

func TestExpandGroups_PassesThroughUnknownNames(t *testing.T) {
	got := ExpandGroups([]string{"mcp:notion.search"})
	if len(got) != 1 || got[0] != "mcp:notion.search" {
		t.Errorf("got %v", got)
	}
}

func TestGetProfilePolicy_ReturnsNamedProfile(t *testing.T) {
	p := GetProfilePolicy("coding")
	if p == nil || p.Profile != ProfileCoding {
		t.Fatalf("got %+v", p)
	}
}

func TestGetProfilePolicy_UnknownNameReturnsNil(t *testing.T) {
	if p := GetProfilePolicy("does-not-exist"); p != nil {
		t.Errorf("expected nil, got %+v", p)
	}
}

func TestIsGroup(t *testing.T) {
	if !IsGroup("group:fs") {
		t.Error("expected group:fs to be a group")
	}
	if IsGroup("read") {
		t.Error("expected read to not be a group")
	}
}

func TestGetGroupTools_ReturnsACopy(t *testing.T) {
	tools := GetGroupTools("group:fs")
	if len(tools) == 0 {
		t.Fatal("expected group:fs to have tools")
	}
	tools[0] = "mutated"
	again := GetGroupTools("group:fs")
	if again[0] == "mutated" {
		t.Error("expected GetGroupTools to return an independent copy")
	}
}

func TestGetGroupTools_UnknownGroupReturnsNil(t *testing.T) {
	if tools := GetGroupTools("group:does-not-exist"); tools != nil {
		t.Errorf("expected nil, got %v", tools)
	}
}

func TestListGroups_IncludesKnownGroup(t *testing.T) {
	groups := ListGroups()
	found := false
	for _, g := range groups {
		if g == "group:fs" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected group:fs among %v", groups)
	}
}

func TestListProfiles_IncludesKnownProfile(t *testing.T) {
	profiles := ListProfiles()
	found := false
	for _, p := range profiles {
		if p == "coding" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected coding among %v", profiles)
	}
}
