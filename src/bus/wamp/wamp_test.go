package wamp

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/rendezvous/src/common"
)

func newTestBus(t *testing.T) *Bus {
	logger := common.NewTestEntry(t, "wamp")

	hub, err := NewHub("", "office", "", "", logger)
	if err != nil {
		t.Fatal(err)
	}

	b, err := NewLocalBus(hub, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}

	return b
}

func TestWampBus(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	received := make(chan string, 1)
	sub, err := b.Subscribe("peer-callee", func(channel string, payload []byte) {
		received <- channel + ":" + string(payload)
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := b.NumSub("peer-callee")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	if err := b.Publish("peer-callee", []byte(`{"offer":"x"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-received:
		if got != `peer-callee:{"offer":"x"}` {
			t.Fatalf("unexpected event %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatal(err)
	}

	n, err = b.NumSub("peer-callee")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", n)
	}
}

func TestWampBusUnknownTopic(t *testing.T) {
	b := newTestBus(t)
	defer b.Close()

	n, err := b.NumSub("peer-nobody")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}
