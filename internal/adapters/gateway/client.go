// Package gateway is the websocket adapter between the engine and the
// server: it delivers the ordered push-event stream into the EventSink and
// carries outbound requests with per-request correlation ids.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/snacka/presence/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
	// ErrRejected wraps a server-side refusal of a request.
	ErrRejected = errors.New("request rejected")
)

type Config struct {
	URL            string
	ReadLimit      int64
	PingPeriod     time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

type envelope struct {
	Type  string          `json:"type"`
	ReqID string          `json:"req_id,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client maintains one gateway connection with automatic reconnect. Events
// are handed to the sink from a single read goroutine, preserving server
// order.
type Client struct {
	cfg  Config
	sink core.EventSink

	mu      sync.RWMutex
	send    chan []byte
	pending map[string]chan envelope
	online  bool
}

func New(cfg Config) *Client {
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = 32768
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = 54 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ReconnectMin == 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		pending: make(map[string]chan envelope),
	}
}

// SetSink wires the event consumer. Must be called before Run; kept out of
// the constructor because the engine and the client reference each other.
func (c *Client) SetSink(sink core.EventSink) {
	c.sink = sink
}

// Run dials and pumps until ctx is done, reconnecting with backoff. The
// sink sees TransportUp on every (re)connect and TransportDown on loss.
func (c *Client) Run(ctx context.Context) {
	backoff := c.cfg.ReconnectMin
	for {
		if err := c.runOnce(ctx); err != nil {
			log.Warn().Err(err).Str("module", "gateway").Msg("connection lost")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.WriteTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ReadMessage only unblocks when the conn closes, so shutdown must close
	// it; otherwise Run hangs until the next network activity.
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	c.mu.Lock()
	c.send = make(chan []byte, 32)
	c.online = true
	c.mu.Unlock()

	log.Info().Str("module", "gateway").Str("url", c.cfg.URL).Msg("connected")
	c.sink.TransportUp()

	go c.writePump(connCtx, conn)
	err = c.readPump(connCtx, conn)

	c.mu.Lock()
	c.online = false
	c.mu.Unlock()
	cancel()
	_ = conn.Close()
	c.failPending()
	c.sink.TransportDown()
	return err
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	c.mu.RLock()
	send := c.send
	c.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "gateway").Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "gateway").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("bad json")
		return
	}
	if env.Type == "response" {
		c.completeRequest(env)
		return
	}
	evt, err := decodeEvent(env)
	if err != nil {
		log.Warn().Err(err).Str("module", "gateway").Str("type", env.Type).Msg("undecodable event")
		return
	}
	c.sink.HandleEvent(evt)
}

func (c *Client) completeRequest(env envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ReqID]
	if ok {
		delete(c.pending, env.ReqID)
	}
	c.mu.Unlock()
	if !ok {
		// Response for a request whose waiter gave up; drop it.
		log.Debug().Str("module", "gateway").Str("req_id", env.ReqID).Msg("orphan response")
		return
	}
	ch <- env
}

func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan envelope)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.online || c.send == nil {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}
