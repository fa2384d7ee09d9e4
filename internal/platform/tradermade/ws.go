package tradermade

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxSymbolsPerMessage bounds subscribe/unsubscribe control messages to
	// respect the server's message-size limit.
	maxSymbolsPerMessage = 50
)

// StreamClient is a WebSocket client for the TraderMade streaming feed. It
// holds one connection, manages the subscription control messages, and
// delivers parsed ticks on a channel. Reconnection policy is owned by the
// caller: when the read loop dies the client reports once on Err and the
// caller dials a fresh client.
type StreamClient struct {
	wsURL  string
	apiKey string

	mu   sync.Mutex
	conn *websocket.Conn

	ticks chan domain.Quote
	errc  chan error

	closeOnce sync.Once
	done      chan struct{}
}

// NewStreamClient creates a streaming client for the given endpoint and API key.
func NewStreamClient(wsURL, apiKey string) *StreamClient {
	return &StreamClient{
		wsURL:  wsURL,
		apiKey: apiKey,
		ticks:  make(chan domain.Quote, 256),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. A client connects at most once; dial a new client to reconnect.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("tradermade/ws: connect: %w", err)
	}
	c.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop(conn)
	go c.pingLoop(conn)

	return nil
}

// Subscribe sends subscribe control messages for the given symbols, split
// into batches of at most maxSymbolsPerMessage.
func (c *StreamClient) Subscribe(ctx context.Context, symbols []string) error {
	return c.sendControl(ctx, "subscribe", symbols)
}

// Unsubscribe sends unsubscribe control messages for the given symbols.
func (c *StreamClient) Unsubscribe(ctx context.Context, symbols []string) error {
	return c.sendControl(ctx, "unsubscribe", symbols)
}

func (c *StreamClient) sendControl(ctx context.Context, action string, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("tradermade/ws: %s: %w", action, domain.ErrNotConnected)
	}

	for start := 0; start < len(symbols); start += maxSymbolsPerMessage {
		end := start + maxSymbolsPerMessage
		if end > len(symbols) {
			end = len(symbols)
		}

		data, err := json.Marshal(controlMessage{
			Action:  action,
			UserKey: c.apiKey,
			Symbols: symbols[start:end],
		})
		if err != nil {
			return fmt.Errorf("tradermade/ws: marshal %s: %w", action, err)
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("tradermade/ws: %s: %w", action, err)
		}
	}

	return nil
}

// Ticks returns the channel of parsed price ticks.
func (c *StreamClient) Ticks() <-chan domain.Quote {
	return c.ticks
}

// Err reports at most one terminal error: the connection dropping or the
// server rejecting the API key.
func (c *StreamClient) Err() <-chan error {
	return c.errc
}

// Close shuts down the connection and stops the loops. Safe to call more
// than once.
func (c *StreamClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			_ = c.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			err = c.conn.Close()
		}
	})
	return err
}

func (c *StreamClient) fail(err error) {
	select {
	case c.errc <- err:
	default:
	}
}

// readLoop reads messages until the connection dies or the client is closed.
func (c *StreamClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(fmt.Errorf("tradermade/ws: read: %w", domain.ErrWSDisconnect))
			}
			return
		}

		c.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (c *StreamClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses one raw frame. Ticks are forwarded; heartbeats and
// acks are dropped; an auth rejection is surfaced as the terminal error.
// Unparseable frames are silently discarded.
func (c *StreamClient) handleMessage(raw []byte) {
	var status statusMessage
	if err := json.Unmarshal(raw, &status); err == nil && status.Status != "" {
		if status.Status == "error" && strings.Contains(strings.ToLower(status.Message), "key") {
			c.fail(fmt.Errorf("tradermade/ws: %s: %w", status.Message, domain.ErrUnauthorized))
		}
		return
	}

	var tick tickMessage
	if err := json.Unmarshal(raw, &tick); err != nil || tick.Symbol == "" {
		return
	}

	q := tick.toDomainQuote()
	if q.Validate() != nil {
		return
	}

	select {
	case c.ticks <- q:
	case <-c.done:
	}
}
