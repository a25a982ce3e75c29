package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/marko911/presale-pulse/internal/purchase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func purchaseAt(tx string, block uint64) purchase.Event {
	return purchase.Event{
		TxHash:        tx,
		BlockNumber:   block,
		Buyer:         common.HexToAddress("0x1111111111111111111111111111111111111111"),
		BaseAmount:    big.NewInt(1000),
		BonusAmount:   big.NewInt(2000),
		PaidAmount:    big.NewInt(1),
		PaymentMethod: purchase.PaymentETH,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// manualClock fires callbacks synchronously from Advance, in deadline order.
type manualClock struct {
	mu        sync.Mutex
	now       time.Duration
	seq       int
	timers    []*manualTimer
	scheduled []time.Duration
}

type manualTimer struct {
	clock *manualClock
	at    time.Duration
	seq   int
	f     func()
	done  bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &manualTimer{clock: c, at: c.now + d, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	c.scheduled = append(c.scheduled, d)
	return t
}

func (t *manualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	c.removeLocked(t)
	return true
}

func (c *manualClock) removeLocked(t *manualTimer) {
	for i, x := range c.timers {
		if x == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// Advance moves time forward by d, running every timer that comes due,
// including timers scheduled by callbacks along the way.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	for {
		sort.Slice(c.timers, func(i, j int) bool {
			if c.timers[i].at == c.timers[j].at {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].at < c.timers[j].at
		})
		if len(c.timers) == 0 || c.timers[0].at > target {
			break
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		t.done = true
		c.now = t.at
		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *manualClock) Scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.scheduled))
	copy(out, c.scheduled)
	return out
}

// fakeChain is an in-memory chain with a settable head.
type fakeChain struct {
	mu sync.Mutex

	head     uint64
	headErr  error
	rangeErr error
	events   []purchase.Event
	ranges   [][2]uint64
	heads    int

	// failFrom, when non-zero, fails range queries starting at or above it
	failFrom uint64

	subscribeErr error
	streams      []*fakeStream
}

func (f *fakeChain) Head(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeChain) QueryRange(ctx context.Context, from, to uint64) ([]purchase.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ranges = append(f.ranges, [2]uint64{from, to})
	if f.rangeErr != nil {
		return nil, f.rangeErr
	}
	if f.failFrom > 0 && from >= f.failFrom {
		return nil, errRPC
	}
	var out []purchase.Event
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeChain) Subscribe(ctx context.Context) (purchase.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeChain) setHead(h uint64) {
	f.mu.Lock()
	f.head = h
	f.mu.Unlock()
}

func (f *fakeChain) setHeadErr(err error) {
	f.mu.Lock()
	f.headErr = err
	f.mu.Unlock()
}

func (f *fakeChain) setRangeErr(err error) {
	f.mu.Lock()
	f.rangeErr = err
	f.mu.Unlock()
}

func (f *fakeChain) setFailFrom(block uint64) {
	f.mu.Lock()
	f.failFrom = block
	f.mu.Unlock()
}

func (f *fakeChain) setSubscribeErr(err error) {
	f.mu.Lock()
	f.subscribeErr = err
	f.mu.Unlock()
}

func (f *fakeChain) addEvents(evs ...purchase.Event) {
	f.mu.Lock()
	f.events = append(f.events, evs...)
	f.mu.Unlock()
}

func (f *fakeChain) queried() [][2]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]uint64, len(f.ranges))
	copy(out, f.ranges)
	return out
}

func (f *fakeChain) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.streams) {
		return nil
	}
	return f.streams[i]
}

func (f *fakeChain) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// fakeStream is a controllable live subscription.
type fakeStream struct {
	events chan purchase.Event
	errc   chan error

	mu     sync.Mutex
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan purchase.Event, 16),
		errc:   make(chan error, 1),
	}
}

func (s *fakeStream) Events() <-chan purchase.Event { return s.events }
func (s *fakeStream) Err() <-chan error             { return s.errc }

func (s *fakeStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

func (s *fakeStream) emit(ev purchase.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- ev
	}
}

func (s *fakeStream) fail(err error) {
	s.errc <- err
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recordingSink collects delivered events.
type recordingSink struct {
	mu        sync.Mutex
	delivered []purchase.Event
	err       error
	panicOn   string
}

func (r *recordingSink) Deliver(ctx context.Context, ev purchase.Event) error {
	if r.panicOn != "" && ev.TxHash == r.panicOn {
		panic("sink exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, ev)
	return r.err
}

func (r *recordingSink) txs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.delivered))
	for i, ev := range r.delivered {
		out[i] = ev.TxHash
	}
	return out
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

func (r *recordingSink) sources() []purchase.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]purchase.Source, len(r.delivered))
	for i, ev := range r.delivered {
		out[i] = ev.Source
	}
	return out
}

var errRPC = errors.New("rpc unavailable")
