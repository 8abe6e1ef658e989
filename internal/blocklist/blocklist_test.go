package blocklist

import (
	"strings"
	"testing"
)

func TestNewIgnoresCommentsAndBlankLines(t *testing.T) {
	src := strings.NewReader("# comment\n! also a comment\n\n  doubleclick.com  \nADS.EXAMPLE\n")
	l, err := New(src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	if !l.Blocked("doubleclick.com") {
		t.Error("expected doubleclick.com to be blocked")
	}
	if !l.Blocked("ads.example") {
		t.Error("expected ads.example to be blocked (lowercased on insert)")
	}
}

func TestBlockedHierarchicalSuffix(t *testing.T) {
	l, err := New(strings.NewReader("doubleclick.com\n"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		domain string
		want   bool
	}{
		{"doubleclick.com", true},
		{"ads.tracking.doubleclick.com", true},
		{"tracker.doubleclick.com", true},
		{"notdoubleclick.com", false},
		{"doubleclick.com.evil.net", false},
		{"", false},
	}
	for _, c := range cases {
		if got := l.Blocked(c.domain); got != c.want {
			t.Errorf("Blocked(%q) = %v, want %v", c.domain, got, c.want)
		}
	}
}

func TestBlockedSuffixExample(t *testing.T) {
	l, err := New(strings.NewReader("ads.example\n"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Blocked("tracker.ads.example") {
		t.Error("tracker.ads.example should be blocked")
	}
	if l.Blocked("ads.example.net") {
		t.Error("ads.example.net should not be blocked")
	}
}

func TestClosedUnderParentExtension(t *testing.T) {
	l, err := New(strings.NewReader("x\n"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Blocked("x") {
		t.Fatal("expected base domain blocked")
	}
	if !l.Blocked("a.x") {
		t.Error("expected single-label prefix a.x to be blocked")
	}
	if !l.Blocked("b.a.x") {
		t.Error("expected multi-label prefix to be blocked")
	}
}

func TestNewFromDefault(t *testing.T) {
	l, err := NewFromDefault()
	if err != nil {
		t.Fatalf("NewFromDefault: %v", err)
	}
	if l.Len() == 0 {
		t.Error("expected embedded default list to be non-empty")
	}
	if !l.Blocked("doubleclick.net") {
		t.Error("expected embedded default to block doubleclick.net")
	}
}
