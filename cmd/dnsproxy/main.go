// Command dnsproxy runs the recursive-forwarding DNS proxy: it accepts
// queries on UDP and TCP, answers from the blocklist or cache when it
// can, and otherwise races the configured upstream resolvers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dnsproxy/internal/blocklist"
	"dnsproxy/internal/cache"
	"dnsproxy/internal/metrics"
	"dnsproxy/internal/resolver"
	"dnsproxy/internal/transport/tcpproxy"
	"dnsproxy/internal/transport/udpproxy"
)

// stringSlice is a custom flag type for a repeatable option, letting
// --upstream be passed more than once (e.g. --upstream 1.1.1.1:53
// --upstream 8.8.8.8:53).
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	var upstreams stringSlice
	flag.Var(&upstreams, "upstream", "Upstream resolver host:port (repeatable; all are raced)")

	port := flag.Int("port", 53, "Listening port")
	bind := flag.String("bind", "127.0.0.1", "Listening address")
	blocklistPath := flag.String("blocklist", "", "Path to a blocklist file (embedded default used if empty)")
	verbose := flag.Bool("verbose", false, "Enable per-query debug log lines (alias for --log-level=debug)")
	logLevel := flag.String("log-level", "info", "Log level: debug/info/warn/error")
	workers := flag.Int("workers", 2*runtime.NumCPU(), "Worker goroutine budget (GOMAXPROCS), minimum 2")
	memoryLimit := flag.Int("memory-limit", 400, "Soft memory limit in MB")

	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	effectiveLevel := *logLevel
	if *verbose {
		effectiveLevel = "debug"
	}
	switch effectiveLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		log.Fatal().Str("level", effectiveLevel).Msg("invalid log level")
	}

	debug.SetMemoryLimit(int64(*memoryLimit) * 1024 * 1024)

	if len(upstreams) == 0 {
		log.Fatal().Msg("at least one --upstream is required")
	}

	if *workers < 2 {
		*workers = 2
	}
	runtime.GOMAXPROCS(*workers)
	log.Info().Int("workers", *workers).Msg("worker budget set")

	bl, err := loadBlocklist(*blocklistPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load blocklist")
	}
	log.Info().Int("domains", bl.Len()).Msg("blocklist loaded")

	res := resolver.New(bl, cache.New())
	counters := metrics.New()

	bindAddr := fmt.Sprintf("%s:%d", *bind, *port)

	udpListener, err := udpproxy.NewListener(bindAddr, upstreams, res, counters)
	if err != nil {
		log.Fatal().Err(err).Str("addr", bindAddr).Msg("failed to bind UDP listener")
	}
	tcpListener, err := tcpproxy.NewListener(bindAddr, upstreams, res, counters)
	if err != nil {
		log.Fatal().Err(err).Str("addr", bindAddr).Msg("failed to bind TCP listener")
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		log.Info().Str("addr", bindAddr).Int("upstreams", len(upstreams)).Msg("starting UDP listener")
		if err := udpListener.Run(ctx); err != nil {
			log.Error().Err(err).Msg("UDP listener stopped")
		}
	}()
	go func() {
		log.Info().Str("addr", bindAddr).Int("upstreams", len(upstreams)).Msg("starting TCP listener")
		if err := tcpListener.Run(ctx); err != nil {
			log.Error().Err(err).Msg("TCP listener stopped")
		}
	}()

	// Counters are sampled by an external reporter on any cadence; this
	// process does not print statistics itself.
	waitForShutdown()

	cancel()
	udpListener.Close()
	tcpListener.Close()

	final := counters.SnapshotAndReset()
	log.Info().
		Uint64("requests", final.Requests).
		Uint64("forwarded", final.Forwarded).
		Uint64("cached", final.Cached).
		Uint64("blocked", final.Blocked).
		Msg("shutting down")
}

func loadBlocklist(path string) (*blocklist.List, error) {
	if path == "" {
		return blocklist.NewFromDefault()
	}
	return blocklist.NewFromFile(path)
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	// Give in-flight handlers a brief window to finish before the
	// listeners are torn down.
	time.Sleep(50 * time.Millisecond)
}
