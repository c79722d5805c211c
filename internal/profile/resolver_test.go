package policy

import "testing"

func TestResolver_Decide_NilPolicyIsDenied(t *testing.T) {
	r := NewResolver()
	d := r.Decide(nil, "exec")
	if d.Allowed {
		t.Error("expected a nil policy to deny")
	}
	if d.Reason != "no policy configured" {
		t.Errorf("got reason %q", d.Reason)
	}
}

func TestResolver_Decide_FullProfileAllowsEverythingNotDenied(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileFull).WithDeny("exec")

	if r.IsAllowed(p, "read") != true {
		t.Error("expected full profile to allow an undenied tool")
	}
	if r.IsAllowed(p, "exec") != false {
		t.Error("expected full profile's deny to still win")
	}
}

func TestResolver_Decide_ExplicitAllowWins(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileMinimal).WithAllow("exec")

	if !r.IsAllowed(p, "exec") {
		t.Error("expected an explicit allow to permit exec despite the minimal profile")
	}
	if r.IsAllowed(p, "write") {
		t.Error("expected write to remain denied under the minimal profile")
	}
}

func TestResolver_Decide_GroupAllowExpandsToMemberTools(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("group:fs")

	if !r.IsAllowed(p, "read") {
		t.Error("expected group:fs to allow read")
	}
	if r.IsAllowed(p, "exec") {
		t.Error("expected group:fs to not allow exec")
	}
}

func TestResolver_Decide_DenyWildcardBeatsAllow(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileFull).WithDeny("mcp:*")

	if r.IsAllowed(p, "mcp:notion.search") {
		t.Error("expected mcp:* deny to win over full profile allow")
	}
	if !r.IsAllowed(p, "read") {
		t.Error("expected non-mcp tools to remain allowed under full profile")
	}
}

func TestResolver_RegisterMCPServer_CreatesWildcardGroup(t *testing.T) {
	r := NewResolver()
	r.RegisterMCPServer("notion", []string{"search", "create_page"})
	p := NewPolicy("").WithAllow("mcp:notion.*")

	if !r.IsAllowed(p, "mcp:notion.search") {
		t.Error("expected the mcp server wildcard group to allow a registered tool")
	}
	if r.IsAllowed(p, "mcp:linear.create_issue") {
		t.Error("expected an unrelated mcp server's tool to not be allowed")
	}
}

func TestResolver_RegisterEdgeServer_AndUnregister(t *testing.T) {
	r := NewResolver()
	r.RegisterEdgeServer("device1", []string{"camera"})
	p := NewPolicy("").WithAllow("edge:device1.*")

	if !r.IsAllowed(p, "edge:device1.camera") {
		t.Error("expected the edge server wildcard group to allow a registered tool")
	}

	r.UnregisterEdgeServer("device1")
	if r.IsAllowed(p, "edge:device1.camera") {
		t.Error("expected the tool to no longer be allowed after unregistering the edge server")
	}
}

func TestResolver_RegisterAlias_CanonicalizesLookups(t *testing.T) {
	r := NewResolver()
	r.RegisterAlias("grep", "websearch")
	p := NewPolicy("").WithAllow("websearch")

	// "websearch" itself normalizes to the built-in canonical "web_search",
	// and RegisterAlias resolves its canonical argument through the same
	// built-in aliases, so "grep" ends up pointing at "web_search" too.
	if !r.IsAllowed(p, "grep") {
		t.Error("expected the alias grep to resolve to websearch and be allowed")
	}
	if r.CanonicalName("GREP") != "web_search" {
		t.Errorf("got %q", r.CanonicalName("GREP"))
	}
}

func TestResolver_ByProviderOverridesBasePolicy(t *testing.T) {
	r := NewResolver()
	p := &Policy{
		Allow: []string{"read"},
		ByProvider: map[string]*Policy{
			"mcp:notion": {Deny: []string{"mcp:notion.notion_delete_page"}, Allow: []string{"mcp:notion.*"}},
		},
	}
	r.RegisterMCPServer("notion", []string{"search", "notion_delete_page"})

	if !r.IsAllowed(p, "mcp:notion.search") {
		t.Error("expected the provider override's allow to permit mcp:notion.search")
	}
	if r.IsAllowed(p, "mcp:notion.notion_delete_page") {
		t.Error("expected the provider override's deny to win")
	}
}

func TestResolver_FilterAllowed(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithAllow("read", "write")

	got := r.FilterAllowed(p, []string{"read", "write", "exec"})
	if len(got) != 2 {
		t.Errorf("got %v", got)
	}
}

func TestResolver_GetAllowed_IncludesProfileDefaultsAndExplicitAllows(t *testing.T) {
	r := NewResolver()
	p := NewPolicy(ProfileCoding).WithAllow("send_message")

	allowed := r.GetAllowed(p)
	found := map[string]bool{}
	for _, a := range allowed {
		found[a] = true
	}
	if !found["read"] || !found["send_message"] {
		t.Errorf("expected both the coding profile's fs group and the explicit allow, got %v", allowed)
	}
}

func TestResolver_GetDenied(t *testing.T) {
	r := NewResolver()
	p := NewPolicy("").WithDeny("group:fs")

	denied := r.GetDenied(p)
	found := false
	for _, d := range denied {
		if d == "read" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected group:fs to expand to include read, got %v", denied)
	}
}

func TestMerge_LaterProfileWinsAndListsAccumulate(t *testing.T) {
	a := NewPolicy(ProfileMinimal).WithAllow("read")
	b := NewPolicy(ProfileCoding).WithAllow("write").WithDeny("exec")

	merged := Merge(a, b)
	if merged.Profile != ProfileCoding {
		t.Errorf("got profile %q", merged.Profile)
	}
	if len(merged.Allow) != 2 || len(merged.Deny) != 1 {
		t.Errorf("got allow=%v deny=%v", merged.Allow, merged.Deny)
	}
}

func TestMerge_NilPoliciesAreSkipped(t *testing.T) {
	merged := Merge(nil, NewPolicy(ProfileFull))
	if merged.Profile != ProfileFull {
		t.Errorf("got %+v", merged)
	}
}
