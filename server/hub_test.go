package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pithecene-io/tributary/runtime"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitQueued(t *testing.T, c *client, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.send) != n {
		if time.Now().After(deadline) {
			t.Fatalf("queued = %d, want %d", len(c.send), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func snapshotRequestID(t *testing.T, data []byte) string {
	t.Helper()
	var msg struct {
		State struct {
			RequestID string `json:"request_id"`
		} `json:"state"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg.State.RequestID
}

func TestHub_Broadcast(t *testing.T) {
	h, _ := startHub(t)
	c := &client{id: "a", send: make(chan []byte, 4)}
	if !h.Register(c, nil) {
		t.Fatal("Register returned false")
	}

	h.OnState(runtime.NewRunState("r1", time.Now()))

	select {
	case data := <-c.send:
		var msg struct {
			Type  string `json:"type"`
			State struct {
				RequestID string `json:"request_id"`
			} `json:"state"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != "snapshot" || msg.State.RequestID != "r1" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, _ := startHub(t)
	slow := &client{id: "slow", send: make(chan []byte, 1)}
	h.Register(slow, nil)
	waitClients(t, h, 1)

	st := runtime.NewRunState("r1", time.Now())
	h.OnState(st)
	waitQueued(t, slow, 1)
	h.OnState(st)
	waitClients(t, h, 0)

	if _, ok := <-slow.send; !ok {
		t.Fatal("first message should still be queued")
	}
	if _, ok := <-slow.send; ok {
		t.Fatal("send queue should be closed after drop")
	}
}

func TestHub_UnregisterUnknownIsNoop(t *testing.T) {
	h, _ := startHub(t)
	h.Unregister(&client{id: "ghost", send: make(chan []byte, 1)})
	if h.Clients() != 0 {
		t.Errorf("clients = %d, want 0", h.Clients())
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	h, cancel := startHub(t)
	c := &client{id: "a", send: make(chan []byte, 1)}
	h.Register(c, nil)
	cancel()

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("expected closed queue")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queue not closed on stop")
	}
	if h.Register(&client{id: "late", send: make(chan []byte, 1)}, nil) {
		t.Error("Register after stop should return false")
	}
	h.Unregister(c)
	h.OnState(runtime.NewRunState("r2", time.Now()))
}

func TestHub_NewestSnapshotSurvivesBurst(t *testing.T) {
	h := NewHub(nil)
	for i := 0; i < 100; i++ {
		h.OnState(runtime.NewRunState(fmt.Sprintf("r%d", i), time.Now()))
	}
	if got := h.Dropped(); got != 99 {
		t.Errorf("Dropped = %d, want 99", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := &client{id: "a", send: make(chan []byte, 4)}
	if !h.Register(c, nil) {
		t.Fatal("Register returned false")
	}
	select {
	case data := <-c.send:
		if id := snapshotRequestID(t, data); id != "r99" {
			t.Errorf("first snapshot = %s, want r99", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
	}
}

func TestHub_BurstEndsOnLastSnapshot(t *testing.T) {
	h, _ := startHub(t)
	const n = 500
	c := &client{id: "a", send: make(chan []byte, n)}
	h.Register(c, nil)
	waitClients(t, h, 1)

	go func() {
		for i := 0; i < n; i++ {
			h.OnState(runtime.NewRunState(fmt.Sprintf("r%d", i), time.Now()))
		}
	}()

	want := fmt.Sprintf("r%d", n-1)
	timeout := time.After(2 * time.Second)
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				t.Fatal("watcher dropped during burst")
			}
			if snapshotRequestID(t, data) == want {
				return
			}
		case <-timeout:
			t.Fatalf("never received %s", want)
		}
	}
}

func TestHub_RegisterSeedsSnapshot(t *testing.T) {
	h, _ := startHub(t)
	initial, err := encodeSnapshot(runtime.NewRunState("idle", time.Now()))
	if err != nil {
		t.Fatal(err)
	}

	c := &client{id: "a", send: make(chan []byte, 4)}
	h.Register(c, func() []byte { return initial })
	select {
	case data := <-c.send:
		if id := snapshotRequestID(t, data); id != "idle" {
			t.Errorf("seed = %s, want idle", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no seed received")
	}

	// Without a snapshot source, late watchers start from the last fan-out.
	h.OnState(runtime.NewRunState("r1", time.Now()))
	waitQueued(t, c, 1)
	late := &client{id: "b", send: make(chan []byte, 4)}
	h.Register(late, nil)
	select {
	case data := <-late.send:
		if id := snapshotRequestID(t, data); id != "r1" {
			t.Errorf("late seed = %s, want r1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no seed received")
	}
}
