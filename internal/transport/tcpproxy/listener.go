// Package tcpproxy implements the TCP front end: an accept loop, a
// per-connection handler that reads one RFC 1035 length-prefixed
// message, and — on a Forward decision — races independent upstream TCP
// connections using golang.org/x/sync/errgroup, returning the first
// complete reply and canceling the rest.
package tcpproxy

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"dnsproxy/internal/metrics"
	"dnsproxy/internal/resolver"
)

const (
	// maxFrame bounds the total length-prefixed frame (2-byte length
	// plus payload) accepted from a client or an upstream.
	maxFrame = 4096

	defaultDialTimeout = 5 * time.Second
)

// Listener is the TCP front end for one bind address and a fixed set of
// upstream resolvers.
type Listener struct {
	ln          net.Listener
	upstreams   []string
	resolver    *resolver.Resolver
	counters    *metrics.Counters
	dialTimeout time.Duration
}

// NewListener binds a TCP listener on bind.
func NewListener(bind string, upstreamAddrs []string, res *resolver.Resolver, counters *metrics.Counters) (*Listener, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:          ln,
		upstreams:   upstreamAddrs,
		resolver:    res,
		counters:    counters,
		dialTimeout: defaultDialTimeout,
	}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Run accepts connections until ctx is canceled, servicing each on its
// own goroutine.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Warn().Err(err).Msg("tcp accept error")
				continue
			}
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	query, err := readFrame(conn)
	if err != nil {
		log.Debug().Err(err).Msg("failed to read client frame")
		return
	}

	l.counters.AddRequest()
	start := time.Now()
	action := l.resolver.ProcessQuery(query)

	switch action.Kind {
	case resolver.Invalid:
		return
	case resolver.Blocked:
		writeFrame(conn, action.Response)
		l.counters.AddBlocked(uint64(time.Since(start).Microseconds()))
	case resolver.Cached:
		writeFrame(conn, action.Response)
		l.counters.AddCached(uint64(time.Since(start).Microseconds()))
	case resolver.Forward:
		resp, ok := l.raceForward(ctx, query)
		if !ok {
			// All upstreams failed: no reply; the client's own stub
			// retry is the recovery path.
			return
		}
		writeFrame(conn, resp)
		l.resolver.ProcessResponse(resp)
		l.counters.AddForwarded(uint64(time.Since(start).Microseconds()))
	}
}

// raceForward concurrently dials every upstream, sends query, and
// returns the first complete reply. Losing racers are canceled via
// gctx once a winner is found; errgroup's own cancel-on-first-error
// behavior is intentionally not relied on here, since an individual
// dial/write/read failure must not cancel the other, possibly still
// in-flight, racers -- only a winner should do that.
func (l *Listener) raceForward(ctx context.Context, query []byte) ([]byte, bool) {
	raceCtx, cancel := context.WithTimeout(ctx, l.dialTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(raceCtx)
	result := make(chan []byte, 1)

	for _, addr := range l.upstreams {
		addr := addr
		g.Go(func() error {
			resp, err := l.tryUpstream(gctx, addr, query)
			if err != nil {
				log.Debug().Err(err).Str("upstream", addr).Msg("tcp upstream race attempt failed")
				return nil
			}
			select {
			case result <- resp:
				cancel()
			default:
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case resp := <-result:
		return resp, true
	case <-done:
		select {
		case resp := <-result:
			return resp, true
		default:
			return nil, false
		}
	}
}

func (l *Listener) tryUpstream(ctx context.Context, addr string, query []byte) ([]byte, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := writeFrame(conn, query); err != nil {
		return nil, err
	}
	return readFrame(conn)
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n)+2 > maxFrame {
		return nil, io.ErrShortBuffer
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
