package network

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/rs/zerolog"
)

const (
	defaultPingCount   = 3
	defaultPingTimeout = 5 * time.Second
)

// Prober checks whether a host answers ICMP echo requests.
type Prober interface {
	Ping(ctx context.Context, addr string) (bool, error)
}

// PingFunc sends echo requests to addr and returns the number of replies.
type PingFunc func(ctx context.Context, addr string, count int, timeout time.Duration) (int, error)

// ICMPProber implements Prober.
type ICMPProber struct {
	ping    PingFunc
	count   int
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProber creates a prober using raw ICMP sockets (requires root).
func NewProber(logger zerolog.Logger) *ICMPProber {
	return NewProberWithPinger(logger, icmpPing)
}

// NewProberWithPinger creates a prober with a custom ping function (for testing).
func NewProberWithPinger(logger zerolog.Logger, ping PingFunc) *ICMPProber {
	return &ICMPProber{
		ping:    ping,
		count:   defaultPingCount,
		timeout: defaultPingTimeout,
		logger:  logger,
	}
}

// Ping reports whether addr answered at least one echo request.
func (p *ICMPProber) Ping(ctx context.Context, addr string) (bool, error) {
	addr = StripPrefix(addr)

	received, err := p.ping(ctx, addr, p.count, p.timeout)
	if err != nil {
		return false, fmt.Errorf("failed to ping %s: %w", addr, err)
	}

	p.logger.Debug().
		Str("addr", addr).
		Int("sent", p.count).
		Int("received", received).
		Msg("ping finished")
	return received > 0, nil
}

func icmpPing(ctx context.Context, addr string, count int, timeout time.Duration) (int, error) {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		return 0, err
	}

	pinger.SetPrivileged(true)
	pinger.Count = count
	pinger.Interval = 500 * time.Millisecond
	pinger.Timeout = timeout

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, err
	}
	return pinger.Statistics().PacketsRecv, nil
}
