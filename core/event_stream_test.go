package core

import (
	"context"
	"testing"
	"time"

	"payai/native/escrow"
)

func TestSubscribeEventsReplaysAfterCursor(t *testing.T) {
	h := newHarness(t, nil)
	h.setup(t)

	_, cancel, backlog := h.node.SubscribeEvents(context.Background(), "")
	cancel()
	if len(backlog) != 2 {
		t.Fatalf("expected 2 retained events, got %d", len(backlog))
	}
	if backlog[0].Event.Type != escrow.EventTypeGlobalInitialized || backlog[1].Event.Type != escrow.EventTypeCounterInitialized {
		t.Fatalf("unexpected backlog order %+v", backlog)
	}

	updates, cancel, backlog := h.node.SubscribeEvents(context.Background(), backlog[0].Cursor)
	defer cancel()
	if len(backlog) != 1 || backlog[0].Event.Type != escrow.EventTypeCounterInitialized {
		t.Fatalf("cursor did not skip delivered events: %+v", backlog)
	}

	agreement := h.start(t, 1000)
	select {
	case update := <-updates:
		if update.Event.Type != escrow.EventTypeAgreementStarted || update.Event.Attributes["agreement"] != agreement.String() {
			t.Fatalf("unexpected update %+v", update)
		}
		if update.Cursor != "3" || update.Hash == "" {
			t.Fatalf("unexpected cursor %q hash %q", update.Cursor, update.Hash)
		}
	case <-time.After(time.Second):
		t.Fatalf("no update delivered")
	}

	cancel()
	if _, ok := <-updates; ok {
		t.Fatalf("channel still open after cancel")
	}
}
