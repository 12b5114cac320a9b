package hub

import (
	"sync"

	"github.com/orcabay/control-plane/gatewayd/internal/metrics"
)

// subscribeReq is sent on subscribeCh to move a client onto a new run
// topic, dropping any prior subscription it held.
type subscribeReq struct {
	client *Client
	runID  string
}

// Hub is the central pub/sub broker for run-watching WebSocket clients.
// Registry mutation is serialized through the Run event loop via channels,
// the same single-writer shape the teacher stack uses for its topic hub,
// generalized so a client's subscription can change after connect instead
// of being fixed at upgrade time.
type Hub struct {
	clients map[*Client]struct{}
	runs    map[string]map[*Client]struct{}

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscribeReq
	stopped    chan struct{}

	metrics *metrics.Metrics
}

// SetMetrics wires the gateway's live-connection gauge, updated on every
// register/unregister processed by Run's event loop. Left nil, the gauge is
// simply never touched.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		runs:       make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		subscribe:  make(chan subscribeReq, 16),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop. It must be called exactly once, in its
// own goroutine, and exits when ctx is cancelled.
func (h *Hub) Run(ctx interface{ Done() <-chan struct{} }) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.setGauge()

		case req := <-h.subscribe:
			h.mu.Lock()
			h.dropSubscriptionLocked(req.client)
			req.client.runID = req.runID
			if req.runID != "" {
				if h.runs[req.runID] == nil {
					h.runs[req.runID] = make(map[*Client]struct{})
				}
				h.runs[req.runID][req.client] = struct{}{}
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.dropSubscriptionLocked(client)
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.setGauge()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]struct{})
			h.runs = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// dropSubscriptionLocked removes client from its current run topic, if any.
// Caller must hold h.mu.
func (h *Hub) dropSubscriptionLocked(client *Client) {
	if client.runID == "" {
		return
	}
	delete(h.runs[client.runID], client)
	if len(h.runs[client.runID]) == 0 {
		delete(h.runs, client.runID)
	}
	client.runID = ""
}

// Broadcast fans msg out to every client currently subscribed to runID,
// preserving the id ordering of the caller's successive calls (§4.5): the
// broker must call Broadcast only after the corresponding append
// transaction has committed.
func (h *Hub) Broadcast(runID string, msg Message) {
	h.mu.RLock()
	targets := h.runs[runID]
	clients := make([]*Client, 0, len(targets))
	for c := range targets {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			h.unregister <- c
		}
	}
}

// Register admits a newly upgraded client.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client and all its subscriptions.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe moves client onto runID, replacing any prior subscription.
// Passing an empty runID just drops the current subscription.
func (h *Hub) Subscribe(client *Client, runID string) {
	h.subscribe <- subscribeReq{client: client, runID: runID}
}

func (h *Hub) setGauge() {
	if h.metrics == nil {
		return
	}
	h.metrics.WebsocketConnected.Set(float64(h.ConnectedCount()))
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
