package sink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/marko911/presale-pulse/internal/price"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	name string
	err  error

	mu   sync.Mutex
	msgs []Message
}

func (p *recordingPublisher) Name() string { return p.name }

func (p *recordingPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) received() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.msgs...)
}

func TestFanout_DeliversToAll(t *testing.T) {
	a := &recordingPublisher{name: "a"}
	b := &recordingPublisher{name: "b"}
	f := NewFanout(price.Static(3000), time.Second, testLogger(), a, b)

	if err := f.Deliver(context.Background(), testEvent()); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	ma, mb := a.received(), b.received()
	if len(ma) != 1 || len(mb) != 1 {
		t.Fatalf("expected one message per publisher, got %d and %d", len(ma), len(mb))
	}
	if ma[0].DeliveryID != mb[0].DeliveryID {
		t.Error("expected publishers to share one delivery id")
	}
	if ma[0].ETHPrice != 3000 {
		t.Errorf("expected eth price 3000, got %v", ma[0].ETHPrice)
	}
}

func TestFanout_FailureDoesNotBlockOthers(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingPublisher{name: "bad", err: boom}
	good := &recordingPublisher{name: "good"}
	f := NewFanout(price.Static(3000), time.Second, testLogger(), bad, good)

	err := f.Deliver(context.Background(), testEvent())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to wrap boom, got %v", err)
	}
	if len(good.received()) != 1 {
		t.Error("expected healthy publisher to receive the purchase")
	}
}

type slowPublisher struct{}

func (slowPublisher) Name() string { return "slow" }

func (slowPublisher) Publish(ctx context.Context, msg Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFanout_Timeout(t *testing.T) {
	f := NewFanout(price.Static(3000), 20*time.Millisecond, testLogger(), slowPublisher{})

	if err := f.Deliver(context.Background(), testEvent()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestFanout_Names(t *testing.T) {
	f := NewFanout(price.Static(1), 0, nil, &recordingPublisher{name: "x"}, NewLog(testLogger(), "MMV"))
	names := f.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "log" || names[1] != "x" {
		t.Errorf("unexpected names %v", names)
	}
}
