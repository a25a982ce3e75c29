package sink

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/marko911/presale-pulse/internal/config"
	"github.com/marko911/presale-pulse/internal/platform/storage"
)

type fakeSlack struct {
	channel string
	calls   int
	err     error
}

func (f *fakeSlack) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	f.calls++
	return channelID, "1700000000.000100", f.err
}

func TestSlack_Publish(t *testing.T) {
	fs := &fakeSlack{}
	s := newSlack(fs, config.SlackSinkConfig{Channel: "C123", BuyURL: "https://example.com/buy"},
		Formatter{Token: "MMV", BonusPercent: 200})

	if err := s.Publish(context.Background(), NewMessage(testEvent(), 3000, time.Now())); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if fs.calls != 1 || fs.channel != "C123" {
		t.Errorf("expected one post to C123, got %d to %q", fs.calls, fs.channel)
	}

	fs.err = errors.New("channel_not_found")
	if err := s.Publish(context.Background(), NewMessage(testEvent(), 3000, time.Now())); err == nil {
		t.Error("expected slack error to propagate")
	}
}

func TestSlack_Buttons(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.SlackSinkConfig
		wantURL []string
	}{
		{"none", config.SlackSinkConfig{}, nil},
		{"buy only", config.SlackSinkConfig{BuyURL: "https://example.com/buy"}, []string{"https://example.com/buy"}},
		{"buy and lock", config.SlackSinkConfig{
			BuyURL:  "https://example.com/buy",
			LockURL: "https://example.com/lock",
		}, []string{"https://example.com/buy", "https://example.com/lock"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSlack(&fakeSlack{}, tt.cfg, Formatter{Token: "MMV"})
			msg := NewMessage(testEvent(), 3000, time.Now())
			blocks := s.blocks("alert", msg)

			if tt.wantURL == nil {
				if len(blocks) != 1 {
					t.Errorf("expected only the section block, got %d blocks", len(blocks))
				}
				return
			}
			if len(blocks) != 2 {
				t.Fatalf("expected section and action blocks, got %d", len(blocks))
			}
			actions, ok := blocks[1].(*slack.ActionBlock)
			if !ok {
				t.Fatalf("expected *slack.ActionBlock, got %T", blocks[1])
			}

			var urls []string
			for _, el := range actions.Elements.ElementSet {
				btn, ok := el.(*slack.ButtonBlockElement)
				if !ok {
					t.Fatalf("expected button element, got %T", el)
				}
				if btn.Value != msg.TxHash {
					t.Errorf("expected button value %s, got %s", msg.TxHash, btn.Value)
				}
				urls = append(urls, btn.URL)
			}
			if !reflect.DeepEqual(urls, tt.wantURL) {
				t.Errorf("expected urls %v, got %v", tt.wantURL, urls)
			}
		})
	}
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var results kgo.ProduceResults
	for _, r := range rs {
		f.records = append(f.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeProducer) Close() {}

func TestKafka_Publish(t *testing.T) {
	fp := &fakeProducer{}
	k := &Kafka{producer: fp, topic: "presale-purchases", chain: "ethereum"}

	msg := NewMessage(testEvent(), 3000, time.Now())
	if err := k.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(fp.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(fp.records))
	}

	rec := fp.records[0]
	if rec.Topic != "presale-purchases" || string(rec.Key) != "0xfeed" {
		t.Errorf("unexpected topic/key %s/%s", rec.Topic, rec.Key)
	}
	var decoded Message
	if err := json.Unmarshal(rec.Value, &decoded); err != nil {
		t.Fatalf("record value is not json: %v", err)
	}
	if decoded.DeliveryID != msg.DeliveryID {
		t.Errorf("expected delivery id %s, got %s", msg.DeliveryID, decoded.DeliveryID)
	}

	fp.err = errors.New("broker down")
	if err := k.Publish(context.Background(), msg); err == nil {
		t.Error("expected produce error to propagate")
	}
}

type fakeJetStream struct {
	subject string
	msgID   string
}

func (f *fakeJetStream) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.subject = subject
	f.msgID = "set"
	if len(opts) == 0 {
		f.msgID = ""
	}
	return &jetstream.PubAck{Stream: "PURCHASES", Sequence: 1}, nil
}

func TestNATS_Publish(t *testing.T) {
	js := &fakeJetStream{}
	n := NewNATS(js, "purchases", "ethereum")

	if err := n.Publish(context.Background(), NewMessage(testEvent(), 3000, time.Now())); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if js.subject != "purchases.ethereum.shrimp" {
		t.Errorf("unexpected subject %s", js.subject)
	}
	if js.msgID == "" {
		t.Error("expected a message id option")
	}
}

func TestRedis_Publish(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisWithClient(client, "purchases", 2)
	defer r.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ev := testEvent()
		ev.TxHash = []string{"0x1", "0x2", "0x3"}[i]
		if err := r.Publish(ctx, NewMessage(ev, 3000, time.Now())); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	entries, err := client.XRange(ctx, "purchases", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected stream capped at 2, got %d", len(entries))
	}
	if entries[1].Values["tx_hash"] != "0x3" {
		t.Errorf("expected newest entry 0x3, got %v", entries[1].Values["tx_hash"])
	}
	if entries[1].Values["tier"] != "SHRIMP" {
		t.Errorf("expected tier SHRIMP, got %v", entries[1].Values["tier"])
	}
}

type fakeStore struct {
	saved map[string]storage.Purchase
	err   error
}

func (f *fakeStore) SavePurchase(ctx context.Context, p storage.Purchase) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.saved[p.TxHash]; ok {
		return false, nil
	}
	f.saved[p.TxHash] = p
	return true, nil
}

func TestPostgres_Publish(t *testing.T) {
	store := &fakeStore{saved: map[string]storage.Purchase{}}
	p := NewPostgres(store, testLogger())
	ctx := context.Background()

	msg := NewMessage(testEvent(), 3000, time.Now())
	if err := p.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := p.Publish(ctx, msg); err != nil {
		t.Fatalf("repeat Publish() error = %v", err)
	}

	got, ok := store.saved["0xfeed"]
	if !ok {
		t.Fatal("expected purchase saved")
	}
	if got.Tokens.Cmp(testEvent().BaseAmount) != 0 {
		t.Errorf("unexpected tokens %s", got.Tokens)
	}
	if got.BlockNumber != 19_500_000 || got.Tier != "SHRIMP" {
		t.Errorf("unexpected row %+v", got)
	}

	store.err = errors.New("connection refused")
	if err := p.Publish(ctx, msg); err == nil {
		t.Error("expected store error to propagate")
	}
}
