package grant

import (
	"testing"
	"time"
)

func TestDurationParser_Parse(t *testing.T) {
	t.Parallel()

	fallback := 15 * time.Minute
	p := NewDurationParser(fallback)

	tests := []struct {
		name  string
		input string
		want  time.Duration
	}{
		{"minutes", "10m", 10 * time.Minute},
		{"hours", "2h", 2 * time.Hour},
		{"uppercase minutes", "45M", 45 * time.Minute},
		{"uppercase hours", "1H", time.Hour},
		{"surrounding whitespace", "  30m  ", 30 * time.Minute},
		{"large magnitude", "100000h", 100000 * time.Hour},
		{"empty", "", fallback},
		{"whitespace only", "   ", fallback},
		{"bare number uses fallback", "90", fallback},
		{"zero", "0m", fallback},
		{"negative", "-5m", fallback},
		{"unknown unit", "10d", fallback},
		{"unit only", "h", fallback},
		{"garbage", "soon", fallback},
		{"embedded space", "1 0m", fallback},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := p.Parse(tc.input); got != tc.want {
				t.Fatalf("Parse(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestNewDurationParser_CoercesFallback(t *testing.T) {
	t.Parallel()

	p := NewDurationParser(0)
	if p.Default() != time.Hour {
		t.Fatalf("Default() = %v, want 1h", p.Default())
	}
	if got := p.Parse(""); got != time.Hour {
		t.Fatalf("Parse(\"\") = %v, want 1h", got)
	}
}

func TestGrant_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	g := Grant{Deadline: now}

	if !g.Expired(now) {
		t.Fatal("grant at its deadline should be expired")
	}
	if !g.Expired(now.Add(time.Second)) {
		t.Fatal("grant past its deadline should be expired")
	}
	if g.Expired(now.Add(-time.Second)) {
		t.Fatal("grant before its deadline should not be expired")
	}
}
