// Package blocklist implements domain-level ad/tracker blocking with
// hierarchical parent-suffix matching, built once from one or more
// newline-delimited text sources.
package blocklist

import (
	"bufio"
	_ "embed"
	"io"
	"os"
	"strings"
)

//go:embed default.txt
var defaultList []byte

// List is an immutable, concurrency-safe set of lowercase ASCII domains.
// Construction happens once at startup; lookups never mutate it, so no
// locking is required post-construction.
type List struct {
	domains map[string]struct{}
}

// New builds a List from one or more newline-delimited readers. Lines are
// trimmed; blank lines and lines starting with '#' or '!' are dropped;
// survivors are lowercased and inserted.
func New(readers ...io.Reader) (*List, error) {
	l := &List{domains: make(map[string]struct{})}
	for _, r := range readers {
		if err := l.ingest(r); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// NewFromFile builds a List from a single file path.
func NewFromFile(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return New(f)
}

// NewFromDefault builds a List from the embedded default blocklist.
func NewFromDefault() (*List, error) {
	return New(strings.NewReader(string(defaultList)))
}

func (l *List) ingest(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		l.domains[strings.ToLower(line)] = struct{}{}
	}
	return scanner.Err()
}

// Blocked reports whether domain, or any parent suffix of domain, is in
// the list. domain is assumed to already be lowercase ASCII (the wire
// codec guarantees this for parsed queries). Empty input is never
// blocked. Matching is strictly label-aligned: "notdoubleclick.com" never
// matches an entry for "doubleclick.com".
func (l *List) Blocked(domain string) bool {
	for domain != "" {
		if _, ok := l.domains[domain]; ok {
			return true
		}
		idx := strings.IndexByte(domain, '.')
		if idx < 0 {
			break
		}
		domain = domain[idx+1:]
	}
	return false
}

// Len returns the number of distinct domains held by the list.
func (l *List) Len() int {
	return len(l.domains)
}
