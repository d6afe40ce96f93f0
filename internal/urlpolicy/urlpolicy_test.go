package urlpolicy

import "testing"

func TestIsAllowed(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		blocked []string
		url     string
		want    bool
		reason  string
	}{
		{
			name:    "block wins over allow",
			allowed: []string{"gambling.com"},
			blocked: []string{"gambling"},
			url:     "https://gambling.com",
			want:    false,
			reason:  "gambling",
		},
		{
			name:    "subdomain of allowed domain is allowed",
			allowed: []string{"github.com"},
			url:     "https://api.github.com/x",
			want:    true,
		},
		{
			name:    "exact domain match allowed",
			allowed: []string{"github.com"},
			url:     "https://github.com/org/repo",
			want:    true,
		},
		{
			name:    "lookalike domain not allowed by subdomain rule",
			allowed: []string{"google.com"},
			url:     "https://evilgoogle.com",
			want:    false,
		},
		{
			name: "invalid url denied",
			url:  "://not a url",
			want: false,
		},
		{
			name:    "not in allowlist denied",
			allowed: []string{"github.com"},
			url:     "https://example.com",
			want:    false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := New()
			for _, a := range tc.allowed {
				p.AddAllowed(a)
			}
			for _, b := range tc.blocked {
				if err := p.AddBlocked(b); err != nil {
					t.Fatalf("AddBlocked(%q): %v", b, err)
				}
			}
			got := p.IsAllowed(tc.url)
			if got.Allowed != tc.want {
				t.Fatalf("IsAllowed(%q).Allowed = %v, want %v (reason=%q)", tc.url, got.Allowed, tc.want, got.Reason)
			}
			if tc.reason != "" && !contains(got.Reason, tc.reason) {
				t.Fatalf("IsAllowed(%q).Reason = %q, want it to contain %q", tc.url, got.Reason, tc.reason)
			}
		})
	}
}

func TestAddBlockedInvalidPattern(t *testing.T) {
	p := New()
	if err := p.AddBlocked("(["); err == nil {
		t.Fatal("expected error for invalid regex pattern")
	}
}

func TestListAllowedAndBlocked(t *testing.T) {
	p := New()
	p.AddAllowed("Example.COM")
	if err := p.AddBlocked("evil"); err != nil {
		t.Fatalf("AddBlocked: %v", err)
	}

	allowed := p.ListAllowed()
	if len(allowed) != 1 || allowed[0] != "example.com" {
		t.Fatalf("ListAllowed() = %v, want [example.com]", allowed)
	}

	blocked := p.ListBlocked()
	if len(blocked) != 1 || blocked[0] != "evil" {
		t.Fatalf("ListBlocked() = %v, want [evil]", blocked)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
