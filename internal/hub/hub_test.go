package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"chat-sync/internal/notify"
)

type testWriter struct {
	mu     sync.Mutex
	writes int
	last   []byte
	fail   bool
}

func (w *testWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	w.last = message
	if w.fail {
		return errTest
	}
	return nil
}

func (w *testWriter) Close() error { return nil }

var errTest = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "test" }

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	c1 := &Connection{UserID: "u", Writer: w1}

	h.Register(c1)
	h.BroadcastAll([]byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected 1 write, got %d", w1.writes)
	}

	h.Unregister(c1)
	h.BroadcastAll([]byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected no more writes, got %d", w1.writes)
	}
}

func TestHub_RemovesFailedConnections(t *testing.T) {
	h := New()
	w1 := &testWriter{fail: true}
	c1 := &Connection{UserID: "u", Writer: w1}
	h.Register(c1)

	h.BroadcastAll([]byte("x"))
	h.BroadcastAll([]byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected only 1 write before removal, got %d", w1.writes)
	}
	if h.Count() != 0 {
		t.Fatalf("expected failed connection to be removed")
	}
}

func TestHub_AttachPushesVersionToAllUsers(t *testing.T) {
	h := New()
	bus := notify.NewLocalBus()
	detach, err := h.Attach(bus)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	w1, w2 := &testWriter{}, &testWriter{}
	h.Register(&Connection{UserID: "a", Writer: w1})
	h.Register(&Connection{UserID: "b", Writer: w2})

	if err := bus.Publish(context.Background(), 12); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, w := range []*testWriter{w1, w2} {
		var msg VersionMessage
		if err := json.Unmarshal(w.last, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != TypeVersion || msg.Version != 12 {
			t.Fatalf("unexpected frame %+v", msg)
		}
	}

	detach()
	if err := bus.Publish(context.Background(), 13); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if w1.writes != 1 {
		t.Fatalf("expected no push after detach, got %d writes", w1.writes)
	}
}
