package channel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-rover/pkg/protocol"
)

// inboxSize bounds replies queued between the transport and the correlator.
const inboxSize = 64

// result is what a pending request resolves to.
type result struct {
	payload []byte
	err     error
}

// pendingRequest is one outstanding asynchronous command.
type pendingRequest struct {
	id        string
	seq       uint64
	createdAt time.Time
	done      chan result // buffered, written exactly once
}

func (p *pendingRequest) resolve(r result) {
	p.done <- r
}

// correlator matches replies arriving on an asynchronous transport to the
// requests that caused them.
//
// Transport callbacks hand raw payloads to deliver, which never blocks. A
// dedicated goroutine drains the inbox and resolves pending requests, so
// callers only ever wait on their own result slot.
//
// A request is removed from the pending set by whoever resolves it (reply,
// timeout, send failure, or teardown), which makes resolution single-shot.
type correlator struct {
	name   string
	logger *slog.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingRequest
	inbox   chan []byte
	stop    chan struct{}
	running bool
	wg      sync.WaitGroup

	dropped atomic.Uint64
}

func newCorrelator(name string, logger *slog.Logger) *correlator {
	return &correlator{
		name:    name,
		logger:  logger,
		pending: make(map[string]*pendingRequest),
	}
}

// start launches the dispatch goroutine if it is not already running.
func (c *correlator) start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.inbox = make(chan []byte, inboxSize)
	c.stop = make(chan struct{})
	c.running = true

	c.wg.Add(1)
	go c.run(c.inbox, c.stop)
}

// halt stops the dispatch goroutine and waits for it to exit.
func (c *correlator) halt() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	close(c.stop)
	c.running = false
	c.inbox = nil
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *correlator) run(inbox <-chan []byte, stop <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-stop:
			return
		case raw := <-inbox:
			c.dispatch(raw)
		}
	}
}

// deliver queues an inbound payload. Safe to call from transport callbacks.
func (c *correlator) deliver(raw []byte) {
	c.mu.Lock()
	inbox := c.inbox
	c.mu.Unlock()

	if inbox == nil {
		c.logger.Debug("reply after shutdown dropped", "transport", c.name)
		return
	}

	select {
	case inbox <- raw:
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("reply inbox full, dropping reply", "transport", c.name, "dropped_total", n)
	}
}

// dispatch resolves the request a reply belongs to.
func (c *correlator) dispatch(raw []byte) {
	id, ok, err := protocol.ExtractID(raw)
	if err != nil {
		c.logger.Warn("unparseable reply", "transport", c.name, "error", err)
		return
	}

	if ok {
		p := c.take(id)
		if p == nil {
			c.logger.Debug("no pending request for reply", "transport", c.name, "id", id)
			return
		}
		p.resolve(result{payload: raw})
		return
	}

	// Firmware that does not echo ids gets best-effort matching: the oldest
	// outstanding request wins. Under concurrent load this can misattribute.
	p := c.takeOldest()
	if p == nil {
		c.logger.Warn("reply without id and nothing pending", "transport", c.name)
		return
	}
	c.logger.Warn("reply without id, resolving oldest pending request",
		"transport", c.name,
		"id", p.id,
		"age", time.Since(p.createdAt),
	)
	p.resolve(result{payload: raw})
}

// register allocates a fresh id and records a pending request for it.
func (c *correlator) register() *pendingRequest {
	seq := c.nextID.Add(1)
	p := &pendingRequest{
		id:        strconv.FormatUint(seq, 10),
		seq:       seq,
		createdAt: time.Now(),
		done:      make(chan result, 1),
	}

	c.mu.Lock()
	c.pending[p.id] = p
	c.mu.Unlock()
	return p
}

// await blocks until p resolves or timeout elapses.
func (c *correlator) await(p *pendingRequest, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		return r.payload, r.err
	case <-timer.C:
		if c.take(p.id) != nil {
			return nil, fmt.Errorf("%w: no reply for id %s after %s", ErrTimeout, p.id, timeout)
		}
		// Someone else took it first and is about to resolve it.
		r := <-p.done
		return r.payload, r.err
	}
}

// cancel drops a pending request without resolving it.
func (c *correlator) cancel(id string) {
	c.take(id)
}

// failAll resolves every pending request with err and clears the set.
func (c *correlator) failAll(err error) int {
	c.mu.Lock()
	victims := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		victims = append(victims, p)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, p := range victims {
		p.resolve(result{err: err})
	}
	if len(victims) > 0 {
		c.logger.Info("failed pending requests", "transport", c.name, "count", len(victims), "reason", err)
	}
	return len(victims)
}

func (c *correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *correlator) take(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

func (c *correlator) takeOldest() *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	var oldest *pendingRequest
	for _, p := range c.pending {
		if oldest == nil || p.seq < oldest.seq {
			oldest = p
		}
	}
	if oldest != nil {
		delete(c.pending, oldest.id)
	}
	return oldest
}

// exchange publishes msg with a fresh correlation id and decodes the reply.
func exchange[T any](c *correlator, timeout time.Duration, publish func([]byte) error, msg protocol.CommandMessage) (*T, error) {
	p := c.register()
	msg.ID = p.id

	data, err := json.Marshal(msg)
	if err != nil {
		c.cancel(p.id)
		return nil, fmt.Errorf("marshal %s command: %w", msg.Command, err)
	}

	if err := publish(data); err != nil {
		c.cancel(p.id)
		return nil, fmt.Errorf("send %s command: %w", msg.Command, err)
	}

	raw, err := c.await(p, timeout)
	if err != nil {
		return nil, fmt.Errorf("%s command: %w", msg.Command, err)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", msg.Command, err)
	}
	return &out, nil
}
