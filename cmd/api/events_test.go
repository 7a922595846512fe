package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/member-qa/engine/domain"
	"github.com/WessleyAI/member-qa/engine/index"
	"github.com/WessleyAI/member-qa/engine/qa"
	"github.com/WessleyAI/member-qa/pkg/embed"
	"github.com/WessleyAI/member-qa/pkg/natsutil"
)

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
	nc, err := natsutil.Connect(ns.ClientURL(), "api-test", quietLogger())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

type fixedFetcher struct {
	records []domain.Record
	err     error
}

func (f fixedFetcher) Fetch(context.Context) ([]domain.Record, error) { return f.records, f.err }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubscribeRefreshTriggersRefresh(t *testing.T) {
	nc := startNATS(t)
	svc := &fakeService{}
	sub, err := subscribeRefresh(nc, svc, quietLogger())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := natsutil.Publish(context.Background(), nc, subjectRefresh, RefreshRequest{Reason: "upstream changed"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// An empty payload is a valid trigger too.
	if err := nc.Publish(subjectRefresh, nil); err != nil {
		t.Fatalf("publish empty: %v", err)
	}
	nc.Flush()

	waitFor(t, func() bool { return svc.refreshCount() == 2 })
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.refreshes[0] != "nats" {
		t.Fatalf("unexpected trigger %q", svc.refreshes[0])
	}
}

func TestRefreshEventsPublished(t *testing.T) {
	nc := startNATS(t)

	events := make(chan qa.RefreshEvent, 4)
	sub, err := nc.Subscribe(subjectRefreshed, func(m *nats.Msg) {
		var ev qa.RefreshEvent
		if err := json.Unmarshal(m.Data, &ev); err == nil {
			events <- ev
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	fetcher := &fixedFetcher{records: corpus}
	ix := index.New(fetcher, embed.NewHash(), index.WithLogger(quietLogger()))
	svc := qa.New(ix, qa.DefaultOptions(), quietLogger(), qa.WithEvents(natsSink{pub: nc}))

	if _, err := svc.Refresh(context.Background(), "test"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	select {
	case ev := <-events:
		if !ev.OK || ev.Records != len(corpus) || ev.Trigger != "test" || ev.ID == "" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no refresh event")
	}

	fetcher.err = errors.New("connection refused")
	if _, err := svc.Refresh(context.Background(), "test"); err == nil {
		t.Fatal("expected refresh failure")
	}
	select {
	case ev := <-events:
		if ev.OK || ev.Error == "" {
			t.Fatalf("expected failure event, got %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no failure event")
	}
}
