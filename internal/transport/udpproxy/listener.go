// Package udpproxy implements the UDP front end: one listening client
// socket, one ephemeral socket per upstream resolver, a transport-local
// pending-query table keyed by transaction id, and a single
// select-driven loop biased toward client traffic. Each socket gets its
// own reader goroutine feeding a channel; a separate ephemeral socket
// per upstream avoids demultiplexing replies by source address on a
// single shared socket.
package udpproxy

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"dnsproxy/internal/metrics"
	"dnsproxy/internal/resolver"
)

const (
	minDatagram = 12
	maxDatagram = 4096

	// channelDepth bounds how far a slow main loop can lag behind socket
	// reads before datagrams are dropped. Sized generously since a drop
	// here only costs a client retry, never a stuck socket.
	channelDepth = 256
)

type clientDatagram struct {
	data []byte
	addr *net.UDPAddr
}

type upstreamDatagram struct {
	data []byte
}

// pendingQuery is the transport-local record of an in-flight forwarded
// query. It belongs solely to the Listener's single Run loop goroutine
// and is never shared or locked.
type pendingQuery struct {
	clientAddr *net.UDPAddr
	domain     string
	arrival    time.Time
	dispatch   time.Time
}

type upstreamSocket struct {
	addr *net.UDPAddr
	conn *net.UDPConn
}

// Listener is the UDP front end for one bind address and a fixed set of
// upstream resolvers.
type Listener struct {
	client    *net.UDPConn
	upstreams []*upstreamSocket
	resolver  *resolver.Resolver
	counters  *metrics.Counters
}

// NewListener binds the client socket on bind and one ephemeral socket
// per upstream address.
func NewListener(bind string, upstreamAddrs []string, res *resolver.Resolver, counters *metrics.Counters) (*Listener, error) {
	clientAddr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, err
	}
	clientConn, err := net.ListenUDP("udp", clientAddr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		client:   clientConn,
		resolver: res,
		counters: counters,
	}

	for _, raw := range upstreamAddrs {
		addr, err := net.ResolveUDPAddr("udp", raw)
		if err != nil {
			clientConn.Close()
			l.closeUpstreams()
			return nil, err
		}
		conn, err := net.ListenUDP("udp", nil)
		if err != nil {
			clientConn.Close()
			l.closeUpstreams()
			return nil, err
		}
		l.upstreams = append(l.upstreams, &upstreamSocket{addr: addr, conn: conn})
	}

	return l, nil
}

func (l *Listener) closeUpstreams() {
	for _, u := range l.upstreams {
		u.conn.Close()
	}
}

// Close releases the client socket and every upstream socket.
func (l *Listener) Close() error {
	l.client.Close()
	l.closeUpstreams()
	return nil
}

// Run drives the listener until ctx is canceled. Client datagrams are
// processed in arrival order; the select is biased toward the client
// socket by draining it first, non-blockingly, before falling through to
// a blocking select across both client and upstream channels.
func (l *Listener) Run(ctx context.Context) error {
	clientCh := make(chan clientDatagram, channelDepth)
	upstreamCh := make(chan upstreamDatagram, channelDepth)

	pending := make(map[uint16]pendingQuery)

	go l.readClientLoop(ctx, clientCh)
	for _, u := range l.upstreams {
		go l.readUpstreamLoop(ctx, u, upstreamCh)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-clientCh:
			l.handleClientDatagram(d, pending)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case d := <-clientCh:
			l.handleClientDatagram(d, pending)
		case d := <-upstreamCh:
			l.handleUpstreamDatagram(d, pending)
		}
	}
}

func (l *Listener) readClientLoop(ctx context.Context, out chan<- clientDatagram) {
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, addr, err := l.client.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warn().Err(err).Msg("client socket read error")
				continue
			}
		}
		if n < minDatagram {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case out <- clientDatagram{data: data, addr: addr}:
		case <-ctx.Done():
			return
		default:
			log.Warn().Msg("client channel full, dropping datagram")
		}
	}
}

func (l *Listener) readUpstreamLoop(ctx context.Context, u *upstreamSocket, out chan<- upstreamDatagram) {
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warn().Err(err).Str("upstream", u.addr.String()).Msg("upstream socket read error")
				continue
			}
		}
		if n < minDatagram {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case out <- upstreamDatagram{data: data}:
		case <-ctx.Done():
			return
		default:
			log.Warn().Str("upstream", u.addr.String()).Msg("upstream channel full, dropping datagram")
		}
	}
}

func (l *Listener) handleClientDatagram(d clientDatagram, pending map[uint16]pendingQuery) {
	l.counters.AddRequest()
	start := time.Now()
	action := l.resolver.ProcessQuery(d.data)

	switch action.Kind {
	case resolver.Invalid:
		return
	case resolver.Blocked:
		l.writeToClient(action.Response, d.addr)
		l.counters.AddBlocked(uint64(time.Since(start).Microseconds()))
	case resolver.Cached:
		l.writeToClient(action.Response, d.addr)
		l.counters.AddCached(uint64(time.Since(start).Microseconds()))
	case resolver.Forward:
		id := binary.BigEndian.Uint16(d.data[0:2])
		now := time.Now()
		pending[id] = pendingQuery{clientAddr: d.addr, domain: action.Domain, arrival: now, dispatch: now}
		for _, u := range l.upstreams {
			if _, err := u.conn.WriteToUDP(d.data, u.addr); err != nil {
				log.Warn().Err(err).Str("upstream", u.addr.String()).Msg("failed to dispatch query")
			}
		}
	}
}

func (l *Listener) handleUpstreamDatagram(d upstreamDatagram, pending map[uint16]pendingQuery) {
	id := binary.BigEndian.Uint16(d.data[0:2])

	pq, ok := pending[id]
	if !ok {
		// Late or duplicate reply: the first matching upstream already
		// won this race, or the id collided with a newer query.
		return
	}
	delete(pending, id)

	l.writeToClient(d.data, pq.clientAddr)
	l.resolver.ProcessResponse(d.data)
	l.counters.AddForwarded(uint64(time.Since(pq.arrival).Microseconds()))
}

func (l *Listener) writeToClient(data []byte, addr *net.UDPAddr) {
	if _, err := l.client.WriteToUDP(data, addr); err != nil {
		log.Warn().Err(err).Msg("failed to write response to client")
	}
}
