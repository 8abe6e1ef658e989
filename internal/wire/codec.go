// Package wire implements the DNS message codec used on the hot path:
// parsing a raw query into the fields the resolver needs, building the
// sinkhole response for blocked domains, rewriting a cached reply's
// transaction id, and scanning a response for its minimum TTL.
package wire

import (
	"errors"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// ErrMalformed is returned by ParseQuery when raw decodes to a message
// with no question. A message that fails to decode at all yields the
// unpack error instead.
var ErrMalformed = errors.New("wire: malformed dns message")

// Query is the immutable, parsed view of a DNS question used throughout
// the resolver and cache. Domain is lowercase ASCII without a trailing
// dot.
type Query struct {
	ID     uint16
	Domain string
	Qtype  uint16
	Qclass uint16
}

// ParseQuery decodes raw into a Query. It tolerates both queries and
// responses, since ProcessResponse reuses it to recover the question
// section for caching.
func ParseQuery(raw []byte) (Query, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		return Query{}, err
	}
	if len(msg.Question) == 0 {
		return Query{}, ErrMalformed
	}
	q := msg.Question[0]
	return Query{
		ID:     msg.Id,
		Domain: normalizeName(q.Name),
		Qtype:  q.Qtype,
		Qclass: q.Qclass,
	}, nil
}

// normalizeName strips the trailing root dot and lowercases ASCII,
// matching the way the resolver and blocklist key domains.
func normalizeName(name string) string {
	name = strings.TrimSuffix(name, ".")
	return strings.ToLower(name)
}

// sinkholeTTL is the TTL attached to a blocked-domain answer. It is
// deliberately short: the answer is a sinkhole, not a durable record.
const sinkholeTTL = 300

// BuildBlockedResponse builds a synthesized answer for a blocked domain:
// the original id, RD+RA set, RCODE success, the original question
// echoed back, and a single A record pointing at 0.0.0.0. Name
// compression is on, so the answer's name is the pointer 0xC0 0x0C to
// the question name at offset 12.
func BuildBlockedResponse(q Query) ([]byte, error) {
	msg := new(dns.Msg)
	msg.Compress = true
	msg.Id = q.ID
	msg.Response = true
	msg.RecursionDesired = true
	msg.RecursionAvailable = true
	msg.Rcode = dns.RcodeSuccess
	msg.Question = []dns.Question{{
		Name:   dns.Fqdn(q.Domain),
		Qtype:  q.Qtype,
		Qclass: q.Qclass,
	}}
	msg.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(q.Domain),
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    sinkholeTTL,
		},
		A: net.IPv4zero,
	}}
	return msg.Pack()
}

// RewriteID returns a copy of cached with its transaction id (bytes 0-1)
// replaced by id. It reports false if cached is too short to contain an
// id.
func RewriteID(cached []byte, id uint16) ([]byte, bool) {
	if len(cached) < 2 {
		return nil, false
	}
	out := make([]byte, len(cached))
	copy(out, cached)
	out[0] = byte(id >> 8)
	out[1] = byte(id)
	return out, true
}

// MinTTL unpacks raw and returns the minimum TTL across the answer,
// authority, and additional sections, skipping OPT pseudo-records (their
// Hdr.Ttl carries EDNS extended-flag bits, not a record lifetime). It
// returns fallback if unpacking fails or no eligible RR is present.
func MinTTL(raw []byte, fallback uint32) uint32 {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		return fallback
	}

	min := fallback
	found := false
	scan := func(rrs []dns.RR) {
		for _, rr := range rrs {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue
			}
			ttl := rr.Header().Ttl
			if !found || ttl < min {
				min = ttl
				found = true
			}
		}
	}
	scan(msg.Answer)
	scan(msg.Ns)
	scan(msg.Extra)

	if !found {
		return fallback
	}
	return min
}
