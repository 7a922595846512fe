package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type testEvent struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	t.Cleanup(ns.Shutdown)
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := Connect(ns.ClientURL(), "natsutil-test", quiet())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

type capturePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (c *capturePublisher) PublishMsg(m *nats.Msg) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

func TestNatsHeaderCarrier(t *testing.T) {
	carrier := (*natsHeaderCarrier)(&nats.Msg{})
	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestPublishEncodesJSON(t *testing.T) {
	pub := &capturePublisher{}
	if err := Publish(context.Background(), pub, "memberqa.test", testEvent{Name: "a", Value: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Subject != "memberqa.test" {
		t.Fatalf("unexpected messages: %+v", pub.msgs)
	}
	var got testEvent
	if err := json.Unmarshal(pub.msgs[0].Data, &got); err != nil || got.Value != 1 {
		t.Fatalf("unexpected payload %s: %v", pub.msgs[0].Data, err)
	}
}

func TestPublishWrapsError(t *testing.T) {
	boom := errors.New("boom")
	err := Publish(context.Background(), &capturePublisher{err: boom}, "s", testEvent{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestDecoderDropsMalformed(t *testing.T) {
	called := false
	h := decoder("s", quiet(), func(context.Context, testEvent) { called = true })
	h(&nats.Msg{Data: []byte("{not json")})
	if called {
		t.Fatal("handler must not run for malformed data")
	}
}

func TestDecoderAcceptsEmptyPayload(t *testing.T) {
	var got *testEvent
	h := decoder("s", quiet(), func(_ context.Context, e testEvent) { got = &e })
	h(&nats.Msg{})
	if got == nil || got.Name != "" {
		t.Fatalf("expected zero value, got %+v", got)
	}
}

func TestPubSubRoundTrip(t *testing.T) {
	nc := startNATS(t)

	ch := make(chan testEvent, 1)
	sub, err := Subscribe(nc, "memberqa.roundtrip", quiet(), func(_ context.Context, e testEvent) {
		ch <- e
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := Publish(context.Background(), nc, "memberqa.roundtrip", testEvent{Name: "refresh", Value: 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Name != "refresh" || got.Value != 3 {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
