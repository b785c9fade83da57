package discovery

import (
	"bytes"
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bobg/studentsync/metrics"
)

var announcementsTotal = metrics.NewCounter(
	"announcements_total",
	"discovery",
	"Number of announcement cycles, by result",
	[]string{"result"},
)

// Broadcaster periodically announces the host's addresses.
type Broadcaster struct {
	addrs    Addresser
	sender   Sender
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithInterval sets the time between announcements.
// The default is DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		b.interval = d
	}
}

// WithClock sets the clock driving the announcement cycle.
func WithClock(c clockwork.Clock) Option {
	return func(b *Broadcaster) {
		b.clock = c
	}
}

// WithLogger sets the broadcaster's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// NewBroadcaster produces a Broadcaster
// announcing the addresses from addrs through sender.
func NewBroadcaster(addrs Addresser, sender Sender, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		addrs:    addrs,
		sender:   sender,
		interval: DefaultInterval,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("discovery")
	return b
}

// Run announces immediately and then once per interval until ctx is canceled.
// Failures are logged and do not stop the loop.
// It always returns nil.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("fetching host addresses and announcing them", zap.Duration("interval", b.interval))

	var prev []byte
	for first := true; ; first = false {
		prev = b.announce(prev, first)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

// Performs one announcement cycle and returns the payload for comparison with the next.
func (b *Broadcaster) announce(prev []byte, first bool) []byte {
	addrs, err := b.addrs.HostAddrs()
	if err != nil {
		announcementsTotal.WithLabelValues("no_addrs").Inc()
		b.logger.Warn("getting host addresses", zap.Error(err))
		return prev
	}

	payload := EncodeAnnouncement(addrs)
	if first || !bytes.Equal(payload, prev) {
		b.logger.Info("IP list updated", zap.Strings("addrs", addrs))
	}

	if err = b.sender.Send(payload); err != nil {
		announcementsTotal.WithLabelValues("failed").Inc()
		b.logger.Warn("sending announcement", zap.Error(err))
	} else {
		announcementsTotal.WithLabelValues("sent").Inc()
	}

	return payload
}
