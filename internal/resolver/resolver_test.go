package resolver

import (
	"strings"
	"testing"

	"github.com/miekg/dns"

	"dnsproxy/internal/blocklist"
	"dnsproxy/internal/cache"
)

func newTestResolver(t *testing.T, blocked ...string) *Resolver {
	t.Helper()
	bl, err := blocklist.New(strings.NewReader(strings.Join(blocked, "\n")))
	if err != nil {
		t.Fatalf("blocklist.New: %v", err)
	}
	return New(bl, cache.New())
}

func query(t *testing.T, id uint16, name string) []byte {
	t.Helper()
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.Id = id // SetQuestion assigns a random Id; override it after.
	raw, err := msg.Pack()
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return raw
}

func response(t *testing.T, id uint16, name string, ttl uint32) []byte {
	t.Helper()
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.Id = id // SetQuestion assigns a random Id; override it after.
	msg.Response = true
	msg.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
	}}
	raw, err := msg.Pack()
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return raw
}

func TestProcessQueryInvalid(t *testing.T) {
	r := newTestResolver(t)
	action := r.ProcessQuery([]byte{0x00, 0x01})
	if action.Kind != Invalid {
		t.Fatalf("Kind = %v, want Invalid", action.Kind)
	}
}

func TestProcessQueryBlocked(t *testing.T) {
	r := newTestResolver(t, "doubleclick.com")
	raw := query(t, 0x1234, "ads.doubleclick.com")

	action := r.ProcessQuery(raw)
	if action.Kind != Blocked {
		t.Fatalf("Kind = %v, want Blocked", action.Kind)
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(action.Response); err != nil {
		t.Fatalf("unpack blocked response: %v", err)
	}
	if msg.Id != 0x1234 {
		t.Errorf("Id = %#x, want 0x1234", msg.Id)
	}
	a, ok := msg.Answer[0].(*dns.A)
	if !ok || !a.A.IsUnspecified() {
		t.Errorf("answer = %+v, want A 0.0.0.0", msg.Answer[0])
	}
}

func TestProcessQueryForwardThenCached(t *testing.T) {
	r := newTestResolver(t)
	raw := query(t, 0xAAAA, "example.com")

	action := r.ProcessQuery(raw)
	if action.Kind != Forward {
		t.Fatalf("Kind = %v, want Forward", action.Kind)
	}
	if action.Domain != "example.com" {
		t.Errorf("Domain = %q, want example.com", action.Domain)
	}

	upstreamReply := response(t, 0xAAAA, "example.com", 30)
	r.ProcessResponse(upstreamReply)

	secondQuery := query(t, 0xBBBB, "example.com")
	action = r.ProcessQuery(secondQuery)
	if action.Kind != Cached {
		t.Fatalf("Kind = %v, want Cached", action.Kind)
	}
	if action.Response[0] != 0xBB || action.Response[1] != 0xBB {
		t.Errorf("id bytes = %02x %02x, want BB BB", action.Response[0], action.Response[1])
	}
}

func TestProcessResponseMalformedIsDropped(t *testing.T) {
	r := newTestResolver(t)
	r.ProcessResponse([]byte{0x01, 0x02}) // must not panic

	action := r.ProcessQuery(query(t, 1, "example.com"))
	if action.Kind != Forward {
		t.Fatalf("Kind = %v, want Forward (malformed response must not populate cache)", action.Kind)
	}
}
