package poll

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// envelope is the wire framing for every event in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub tracks live connections and their room membership and performs the
// actual fan-out for the engine. It holds no session state; the engine stays
// the only writer of poll data.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]struct{} // code -> connection ids
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

// Unregister forgets the connection and removes it from every room.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	delete(h.clients, connID)
	for code, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, code)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) Join(code, connID string) {
	h.mu.Lock()
	members, ok := h.rooms[code]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[code] = members
	}
	members[connID] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Leave(code, connID string) {
	h.mu.Lock()
	if members, ok := h.rooms[code]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, code)
		}
	}
	h.mu.Unlock()
}

// ToRoom delivers the event to every connection joined to the room. Delivery
// is queue-and-forget per client.
func (h *Hub) ToRoom(code, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	for connID := range h.rooms[code] {
		if c, ok := h.clients[connID]; ok {
			c.Send(data)
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) ToConn(connID, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.Send(data)
	}
}

// PingAll nudges every client's write pump to emit a transport ping.
func (h *Hub) PingAll() {
	h.mu.RLock()
	for _, c := range h.clients {
		c.RequestPing()
	}
	h.mu.RUnlock()
}

// RunPinger keeps connections alive until ctx-style shutdown via closed channel.
func (h *Hub) RunPinger(done <-chan struct{}, tickers PeriodicTickerChannelCreator) {
	ticks := tickers.Create(30 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-ticks:
			h.PingAll()
		}
	}
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}
