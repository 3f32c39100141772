package blocklist

import "testing"

func TestPolicyBlocked(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		p := New([]string{"example.org"})
		if p == nil {
			t.Fatalf("expected policy to be created")
		}
		if !p.Blocked("example.org") {
			t.Fatalf("expected example.org to be blocked")
		}
		if !p.Blocked("Example.org:8443") {
			t.Fatalf("expected case and port to be ignored")
		}
		if p.Blocked("sub.example.org") {
			t.Fatalf("did not expect subdomains to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		p := New([]string{"*.ru", ".internal"})
		if p == nil {
			t.Fatalf("expected policy to be created")
		}
		cases := []struct {
			host    string
			blocked bool
		}{
			{"example.ru", true},
			{"sub.domain.ru", true},
			{"ru", true},
			{"jobs.internal", true},
			{"example.com", false},
			{"notru", false},
		}
		for _, tc := range cases {
			if got := p.Blocked(tc.host); got != tc.blocked {
				t.Fatalf("host %q blocked=%v, want %v", tc.host, got, tc.blocked)
			}
		}
	})

	t.Run("empty patterns", func(t *testing.T) {
		if p := New([]string{"", "  ", "*."}); p != nil {
			t.Fatalf("expected nil policy, got %+v", p)
		}
	})

	t.Run("nil policy", func(t *testing.T) {
		var p *Policy
		if p.Blocked("anything") {
			t.Fatalf("nil policy should never block")
		}
		if err := p.AllowTarget("https://anything.example.com"); err != nil {
			t.Fatalf("nil policy should allow every target, got %v", err)
		}
	})
}

func TestPolicyAllowTarget(t *testing.T) {
	t.Parallel()

	p := New([]string{"*.example.org"})
	if err := p.AllowTarget("https://jobs.example.org/careers"); err == nil {
		t.Fatal("expected blocked target to be rejected")
	}
	if err := p.AllowTarget("https://jobs.example.com/careers"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
