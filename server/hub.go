package server

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pithecene-io/tributary/log"
	"github.com/pithecene-io/tributary/runtime"
)

// clientBuffer bounds messages queued for one watcher.
const clientBuffer = 32

// Message is the frame sent to watchers.
type Message struct {
	Type  string            `json:"type"` // always "snapshot"
	State *runtime.RunState `json:"state"`
}

func encodeSnapshot(st *runtime.RunState) ([]byte, error) {
	return json.Marshal(Message{Type: "snapshot", State: st})
}

// client is one watcher connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
}

// registration is a watcher joining the hub. snapshot, when set, is read
// on the hub loop to produce the first message the watcher sees.
type registration struct {
	client   *client
	snapshot func() []byte
}

// Hub fans run snapshots out to watchers.
//
// The client set is owned by the Run loop. Snapshots carry the whole run
// state, so only the newest pending one is kept: OnState never blocks and
// replaces an undelivered snapshot instead of queueing behind it. A watcher
// whose own queue is full is disconnected.
type Hub struct {
	clients    map[*client]struct{}
	register   chan registration
	unregister chan *client
	latest     atomic.Pointer[[]byte]
	pending    chan struct{}
	last       []byte // last snapshot fanned out, owned by Run
	done       chan struct{}
	count      atomic.Int64
	dropped    atomic.Int64
	logger     *log.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan registration),
		unregister: make(chan *client),
		pending:    make(chan struct{}, 1),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's main loop. It returns when ctx ends, after closing
// every watcher's send queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return

		case r := <-h.register:
			// The seed is read after pending snapshots are flushed, so every
			// change after it reaches the new watcher through the queue.
			h.flush()
			c := r.client
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			seed := h.last
			if r.snapshot != nil {
				if b := r.snapshot(); b != nil {
					seed = b
				}
			}
			if seed != nil {
				select {
				case c.send <- seed:
				default:
				}
			}
			h.logger.Debug("watcher connected", map[string]any{"conn_id": c.id})

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.logger.Debug("watcher disconnected", map[string]any{"conn_id": c.id})
			}

		case <-h.pending:
			h.flush()
		}
	}
}

// flush fans the pending snapshot, if any, out to every watcher.
func (h *Hub) flush() {
	p := h.latest.Swap(nil)
	if p == nil {
		return
	}
	h.last = *p
	for c := range h.clients {
		select {
		case c.send <- h.last:
		default:
			h.remove(c)
			h.logger.Warn("slow watcher dropped", map[string]any{"conn_id": c.id})
		}
	}
}

func (h *Hub) remove(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
}

// Register adds a watcher. The watcher is first sent the result of snapshot,
// or the last snapshot fanned out when snapshot is nil or returns nil.
// Register returns false once the hub has stopped.
func (h *Hub) Register(c *client, snapshot func() []byte) bool {
	select {
	case h.register <- registration{client: c, snapshot: snapshot}:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a watcher. It is a no-op once the hub has stopped.
func (h *Hub) Unregister(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// OnState implements runtime.Observer.
func (h *Hub) OnState(st *runtime.RunState) {
	data, err := encodeSnapshot(st)
	if err != nil {
		h.logger.Error("failed to encode snapshot", map[string]any{"error": err.Error()})
		return
	}
	if prev := h.latest.Swap(&data); prev != nil {
		h.dropped.Add(1)
	}
	select {
	case h.pending <- struct{}{}:
	default:
	}
}

// Clients returns the number of connected watchers.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Dropped returns the number of snapshots superseded by a newer one before
// they were fanned out.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Verify Hub implements runtime.Observer.
var _ runtime.Observer = (*Hub)(nil)
