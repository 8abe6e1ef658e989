// Package resolver implements the synchronous query-decision engine:
// parse -> blocklist -> cache -> forward. It owns no sockets and performs
// no I/O; transports own all sockets, timers, and concurrency, calling
// into a Resolver only for CPU-bound decisions.
package resolver

import (
	"github.com/rs/zerolog/log"

	"dnsproxy/internal/blocklist"
	"dnsproxy/internal/cache"
	"dnsproxy/internal/wire"
)

// Kind identifies which branch of the decision tree ProcessQuery took.
type Kind int

const (
	// Invalid means raw could not be parsed as a DNS query.
	Invalid Kind = iota
	// Blocked means the domain (or a parent suffix) is on the blocklist;
	// Response holds a synthesized sinkhole answer.
	Blocked
	// Cached means a non-expired cache entry satisfied the query;
	// Response holds a copy with the id rewritten.
	Cached
	// Forward means no local answer is available; the caller should
	// dispatch Domain's originating query to the upstream resolvers.
	Forward
)

// Action is the resolver's decision for a single query.
type Action struct {
	Kind     Kind
	Response []byte
	Domain   string
}

// Resolver ties together the blocklist and cache to answer ProcessQuery.
// It is safe for concurrent use: the blocklist is immutable after
// construction and the cache guards its own state.
type Resolver struct {
	blocklist *blocklist.List
	cache     *cache.Cache
}

// New creates a Resolver over the given blocklist and cache.
func New(bl *blocklist.List, c *cache.Cache) *Resolver {
	return &Resolver{blocklist: bl, cache: c}
}

// ProcessQuery decides how a raw client query should be answered.
func (r *Resolver) ProcessQuery(raw []byte) Action {
	q, err := wire.ParseQuery(raw)
	if err != nil {
		return Action{Kind: Invalid}
	}

	if r.blocklist.Blocked(q.Domain) {
		resp, err := wire.BuildBlockedResponse(q)
		if err != nil {
			log.Debug().Err(err).Str("domain", q.Domain).Msg("failed to build blocked response")
			return Action{Kind: Invalid}
		}
		return Action{Kind: Blocked, Response: resp, Domain: q.Domain}
	}

	if resp, ok := r.cache.Get(q); ok {
		return Action{Kind: Cached, Response: resp, Domain: q.Domain}
	}

	return Action{Kind: Forward, Domain: q.Domain}
}

// ProcessResponse re-parses an upstream reply and, if well-formed, caches
// it. Malformed responses are silently dropped; the transport must still
// relay the bytes to the waiting client regardless of caching outcome.
func (r *Resolver) ProcessResponse(raw []byte) {
	q, err := wire.ParseQuery(raw)
	if err != nil {
		log.Debug().Err(err).Msg("dropping malformed upstream response from cache path")
		return
	}
	r.cache.Put(q, raw)
}
