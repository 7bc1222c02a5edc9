package poll

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Client is one connected owner or participant. Writes go through a buffered
// outbox so a slow reader never blocks a broadcast; the pumps exit on the
// first transport error.
type Client struct {
	id       string
	socket   NetworkSession
	limiter  *rate.Limiter
	outbox   chan []byte
	pingChan chan struct{}
}

func NewClient(id string, socket NetworkSession) *Client {
	return &Client{
		id:       id,
		socket:   socket,
		limiter:  rate.NewLimiter(10, 20),
		outbox:   make(chan []byte, 256),
		pingChan: make(chan struct{}, 1),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues data for the write pump, dropping when the outbox is full.
func (c *Client) Send(data []byte) {
	select {
	case c.outbox <- data:
	default:
		log.Warn().Str("conn", c.id).Msg("outbox full, dropping message")
	}
}

func (c *Client) RequestPing() {
	select {
	case c.pingChan <- struct{}{}:
	default:
	}
}

// ReadPump feeds inbound frames to handle until the connection dies, then
// runs onClose exactly once.
func (c *Client) ReadPump(handle func(c *Client, data []byte), onClose func(c *Client)) {
	defer onClose(c)

	for {
		data, err := c.socket.Read()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			log.Warn().Str("conn", c.id).Msg("rate limit exceeded, dropping frame")
			continue
		}
		handle(c, data)
	}
}

func (c *Client) WritePump() {
	for {
		select {
		case data, ok := <-c.outbox:
			if !ok {
				return
			}
			if err := c.socket.Write(data); err != nil {
				return
			}
		case _, ok := <-c.pingChan:
			if !ok {
				return
			}
			if err := c.socket.Ping(); err != nil {
				return
			}
		}
	}
}
