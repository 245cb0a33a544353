package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wyfcoding/feeengine/internal/feeengine/domain"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/messaging"
	"github.com/wyfcoding/feeengine/internal/feeengine/infrastructure/persistence/memory"
	"github.com/wyfcoding/feeengine/pkg/mq"
)

type fakeProducer struct {
	sent []mq.Message
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, msgs ...mq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msgs...)
	return nil
}

type counter struct {
	published int
	failed    int
}

func (c *counter) OutboxPublished(n int) { c.published += n }
func (c *counter) OutboxFailed()         { c.failed++ }

func seed(t *testing.T, store *memory.Store, ids ...string) {
	t.Helper()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, domain.FeeEventTransitionedEvent{
			EventMeta: domain.EventMeta{Type: domain.EventTypeFeeEventTransitioned, Aggregate: id, At: at},
			From:      domain.FeeEventStatusAccrued,
			To:        domain.FeeEventStatusVoided,
		})
	}
	err := store.WithTx(context.Background(), func(ctx context.Context) error {
		return store.Outbox().Append(ctx, events)
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func newRelay(store *memory.Store, p messaging.Producer, c *counter, batch int) *messaging.Relay {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return messaging.NewRelay(store.Outbox(), store, p, c, messaging.RelayConfig{BatchSize: batch}, logger)
}

func TestRelayFlushPublishesAndMarks(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "FE1", "FE2", "FE3")
	p := &fakeProducer{}
	c := &counter{}
	relay := newRelay(store, p, c, 2)
	ctx := context.Background()

	n, err := relay.Flush(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first flush = %d, %v", n, err)
	}
	n, err = relay.Flush(ctx)
	if err != nil || n != 1 {
		t.Fatalf("second flush = %d, %v", n, err)
	}
	n, _ = relay.Flush(ctx)
	if n != 0 {
		t.Fatalf("third flush = %d, want 0", n)
	}

	if len(p.sent) != 3 || c.published != 3 {
		t.Fatalf("sent %d, counted %d", len(p.sent), c.published)
	}
	first := p.sent[0]
	if first.Key != "FE1" || first.Headers["event_type"] != domain.EventTypeFeeEventTransitioned {
		t.Errorf("message = %+v", first)
	}
	var env struct {
		EventType   string          `json:"event_type"`
		AggregateID string          `json:"aggregate_id"`
		Data        json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(first.Value, &env); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if env.AggregateID != "FE1" || len(env.Data) == 0 {
		t.Errorf("envelope = %+v", env)
	}
	for _, r := range store.Outbox().Records(ctx) {
		if r.Status != messaging.StatusPublished || r.PublishedAt == nil {
			t.Errorf("record %s not marked published", r.ID)
		}
	}
}

func TestRelayFlushFailureKeepsPending(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "FE1")
	c := &counter{}
	relay := newRelay(store, &fakeProducer{err: errors.New("broker down")}, c, 10)

	if _, err := relay.Flush(context.Background()); err == nil {
		t.Fatal("expected publish error")
	}
	records := store.Outbox().Records(context.Background())
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	r := records[0]
	if r.Status != messaging.StatusPending || r.Attempts != 1 || r.LastError == "" {
		t.Errorf("record = %+v", r)
	}
	if c.failed != 1 {
		t.Errorf("failed counter = %d", c.failed)
	}
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "FE1")
	p := &fakeProducer{}
	relay := newRelay(store, p, &counter{}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		recs := store.Outbox().Records(context.Background())
		if recs[0].Status == messaging.StatusPublished {
			break
		}
		select {
		case <-deadline:
			t.Fatal("relay did not publish in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

// appendingProducer 在发送过程中向同一存储写入新事件
type appendingProducer struct {
	store *memory.Store
	sent  int
}

func (p *appendingProducer) Publish(ctx context.Context, msgs ...mq.Message) error {
	p.sent += len(msgs)
	return p.store.WithTx(ctx, func(ctx context.Context) error {
		return p.store.Outbox().Append(ctx, []domain.Event{domain.FeeEventTransitionedEvent{
			EventMeta: domain.EventMeta{Type: domain.EventTypeFeeEventTransitioned, Aggregate: "FE-LATE", At: time.Now()},
			From:      domain.FeeEventStatusAccrued,
			To:        domain.FeeEventStatusVoided,
		}})
	})
}

func TestRelayWithoutTxDoesNotBlockWriters(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "FE1", "FE2")
	p := &appendingProducer{store: store}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := messaging.NewRelay(store.Outbox(), nil, p, &counter{}, messaging.RelayConfig{BatchSize: 10}, logger)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := relay.Flush(context.Background())
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		if res.err != nil || res.n != 2 {
			t.Fatalf("flush = %d, %v", res.n, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("flush blocked while producer wrote to the store")
	}

	statuses := map[string]string{}
	for _, r := range store.Outbox().Records(context.Background()) {
		statuses[r.AggregateID] = r.Status
	}
	want := map[string]string{"FE1": messaging.StatusPublished, "FE2": messaging.StatusPublished, "FE-LATE": messaging.StatusPending}
	for id, status := range want {
		if statuses[id] != status {
			t.Errorf("%s status = %q, want %q", id, statuses[id], status)
		}
	}
}

func TestRelayCleanupRemovesExpiredPublished(t *testing.T) {
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name      string
		retention time.Duration
		removed   int64
		remaining int
	}{
		{"disabled", 0, 0, 3},
		{"expired published only", 24 * time.Hour, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			seed(t, store, "FE1", "FE2", "FE3")
			outbox := store.Outbox()
			records := outbox.Records(ctx)
			if err := outbox.MarkPublished(ctx, []string{records[0].ID}, old); err != nil {
				t.Fatal(err)
			}
			if err := outbox.MarkPublished(ctx, []string{records[1].ID}, time.Now()); err != nil {
				t.Fatal(err)
			}

			relay := messaging.NewRelay(outbox, nil, &fakeProducer{}, &counter{}, messaging.RelayConfig{Retention: tt.retention}, logger)
			n, err := relay.Cleanup(ctx)
			if err != nil || n != tt.removed {
				t.Fatalf("cleanup = %d, %v; want %d", n, err, tt.removed)
			}
			left := outbox.Records(ctx)
			if len(left) != tt.remaining {
				t.Fatalf("remaining = %d, want %d", len(left), tt.remaining)
			}
			for _, r := range left {
				if r.ID == records[0].ID && tt.removed > 0 {
					t.Errorf("expired record %s kept", r.ID)
				}
			}
		})
	}
}
