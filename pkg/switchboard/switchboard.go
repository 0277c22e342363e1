// Package switchboard owns the active transport and moves between transports
// on demand, falling back to HTTP when a requested one cannot be reached.
package switchboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-rover/pkg/channel"
	"github.com/teslashibe/go-rover/pkg/protocol"
)

// StatusFunc receives human readable transition notices. failed is true for
// notices that describe an error.
type StatusFunc func(msg string, failed bool)

type notice struct {
	msg    string
	failed bool
}

// Switchboard holds the current protocol and its channel. There is no
// background reconnection; transitions happen only inside Ensure.
type Switchboard struct {
	logger   *slog.Logger
	channels map[protocol.Protocol]channel.Channel
	http     channel.Channel

	mu       sync.Mutex
	current  protocol.Protocol
	active   channel.Channel
	onStatus StatusFunc
}

// New creates a switchboard starting on HTTP. channels must include an HTTP
// channel; later channels replace earlier ones with the same protocol.
func New(logger *slog.Logger, channels ...channel.Channel) (*Switchboard, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Switchboard{
		logger:   logger.With("component", "switchboard"),
		channels: make(map[protocol.Protocol]channel.Channel, len(channels)),
	}
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		s.channels[ch.Protocol()] = ch
	}

	httpCh, ok := s.channels[protocol.HTTP]
	if !ok {
		return nil, ErrHTTPRequired
	}
	s.http = httpCh
	s.current = protocol.HTTP
	s.active = httpCh
	return s, nil
}

// OnStatus registers the transition notice callback. The callback runs
// outside the switchboard lock and must not block.
func (s *Switchboard) OnStatus(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = fn
}

// Current returns the active protocol.
func (s *Switchboard) Current() protocol.Protocol {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Active returns the active channel.
func (s *Switchboard) Active() channel.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Ensure makes requested the active protocol and returns its channel. The
// caller sends on the returned channel after Ensure has released the lock,
// so a slow reply never blocks other transitions.
func (s *Switchboard) Ensure(ctx context.Context, requested protocol.Protocol) (channel.Channel, error) {
	var notices []notice

	s.mu.Lock()
	ch, err := s.ensureLocked(ctx, requested, &notices)
	fn := s.onStatus
	s.mu.Unlock()

	if fn != nil {
		for _, n := range notices {
			fn(n.msg, n.failed)
		}
	}
	return ch, err
}

func (s *Switchboard) ensureLocked(ctx context.Context, requested protocol.Protocol, notices *[]notice) (channel.Channel, error) {
	if requested == "" || requested == s.current {
		return s.active, nil
	}

	from := s.current
	parsed, err := protocol.ParseProtocol(string(requested))
	if err != nil {
		return nil, &SwitchError{From: from, To: requested, Err: err}
	}
	requested = parsed
	if requested == s.current {
		return s.active, nil
	}

	next, ok := s.channels[requested]
	if !ok {
		s.logger.Warn("no channel registered for protocol", "protocol", requested)
		return nil, &SwitchError{From: from, To: requested, Err: fmt.Errorf("%w %s", ErrNoChannel, requested)}
	}

	s.logger.Info("switching protocol", "from", from, "to", requested)
	*notices = append(*notices, notice{msg: fmt.Sprintf("Switching to %s protocol", requested)})

	if s.active.IsConnected() {
		if err := s.active.Disconnect(); err != nil {
			s.logger.Warn("error disconnecting", "protocol", from, "error", err)
		}
	}

	if !next.IsConnected() {
		if err := next.Connect(ctx); err != nil {
			s.logger.Error("connect failed, falling back to HTTP", "protocol", requested, "error", err)
			*notices = append(*notices, notice{
				msg:    fmt.Sprintf("Failed to connect via %s, falling back to %s", requested, protocol.HTTP),
				failed: true,
			})
			s.current = protocol.HTTP
			s.active = s.http
			return nil, &SwitchError{From: from, To: requested, Err: err}
		}
	}

	s.current = requested
	s.active = next
	s.logger.Info("protocol active", "protocol", requested)
	*notices = append(*notices, notice{msg: fmt.Sprintf("Connected via %s", requested)})
	return next, nil
}

// Close disconnects every channel that still holds a session, active or
// not. Call on shutdown.
func (s *Switchboard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for proto, ch := range s.channels {
		if !ch.IsConnected() {
			continue
		}
		s.logger.Info("closing channel", "protocol", proto, "active", proto == s.current)
		if err := ch.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", proto, err))
		}
	}
	return errors.Join(errs...)
}
