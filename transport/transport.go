// Package transport implements the duplex control channel over a
// WebSocket connection: text control frames, binary chunk frames,
// heartbeat keep-alive, and bounded automatic reconnection.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"rstransfer/eventbus"
	"rstransfer/protocol"
)

// Event names emitted on the Client's Bus.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
	EventTextFrame    = "text_frame"
	EventBinaryFrame  = "binary_frame"
)

const (
	// HeartbeatInterval is how often a ping is sent while connected.
	HeartbeatInterval = 30 * time.Second
	// ReconnectInterval is the fixed delay between reconnect attempts.
	ReconnectInterval = 5 * time.Second
	// MaxReconnectAttempts bounds automatic reconnection.
	MaxReconnectAttempts = 5
)

// ErrMaxReconnectAttemptsExceeded is emitted via EventError when
// automatic reconnection gives up.
var ErrMaxReconnectAttemptsExceeded = errors.New("transport: max reconnect attempts exceeded")

// ErrNotConnected is returned by Send* when no connection is open.
var ErrNotConnected = errors.New("transport: not connected")

// Options configures a Client.
type Options struct {
	// InsecureSkipVerify disables certificate verification; used only
	// for local development against a self-signed endpoint.
	InsecureSkipVerify bool
}

// Client manages one duplex WebSocket connection with automatic,
// bounded reconnection. All public methods are safe for concurrent use.
type Client struct {
	Bus *eventbus.Bus

	opts Options

	mu          sync.Mutex
	conn        *websocket.Conn
	url         string
	connected   bool
	manualClose bool

	writeMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a disconnected Client.
func New(opts Options) *Client {
	return &Client{Bus: eventbus.New(), opts: opts}
}

// Connect dials url and starts the read and heartbeat loops. Connect
// blocks until the initial dial succeeds or fails; subsequent drops are
// handled by the automatic reconnect loop.
func (c *Client) Connect(ctx context.Context, rawURL string) error {
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("transport: invalid url: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.url = rawURL
	c.manualClose = false
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dial(ctx, rawURL)
	if err != nil {
		cancel()
		return err
	}

	c.setConn(conn)
	c.Bus.Emit(EventConnected, rawURL)

	c.wg.Add(2)
	go c.readLoop(runCtx)
	go c.heartbeatLoop(runCtx)

	return nil
}

func (c *Client) dial(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: c.opts.InsecureSkipVerify},
	}
	conn, _, err := dialer.DialContext(ctx, rawURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return conn, nil
}

// Disconnect closes the connection and stops all background loops
// without triggering a reconnect attempt.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.manualClose = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()

	c.setConn(nil)
	c.Bus.Emit(EventDisconnected, nil)
	return err
}

// EventBus returns the bus events are emitted on.
func (c *Client) EventBus() *eventbus.Bus {
	return c.Bus
}

// IsConnected reports whether a connection is currently established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendText writes a pre-encoded JSON control frame.
func (c *Client) SendText(payload []byte) error {
	return c.send(websocket.TextMessage, payload)
}

// SendBinary writes a pre-encoded chunk frame.
func (c *Client) SendBinary(payload []byte) error {
	return c.send(websocket.BinaryMessage, payload)
}

func (c *Client) send(messageType int, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(messageType, payload); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.connected = conn != nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.handleDrop(ctx, err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.Bus.Emit(EventTextFrame, payload)
		case websocket.BinaryMessage:
			c.Bus.Emit(EventBinaryFrame, payload)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			frame, err := protocol.EncodeControlFrame(protocol.Ping{Type: protocol.TypePing, Timestamp: time.Now()})
			if err != nil {
				continue
			}
			if err := c.SendText(frame); err != nil {
				return
			}
		}
	}
}

// handleDrop runs the bounded reconnect policy after an unexpected read
// error. On success it restarts the read and heartbeat loops; on
// exhaustion it emits EventError with ErrMaxReconnectAttemptsExceeded.
func (c *Client) handleDrop(parentCtx context.Context, cause error) {
	c.mu.Lock()
	manual := c.manualClose
	rawURL := c.url
	c.mu.Unlock()

	c.setConn(nil)
	c.Bus.Emit(EventDisconnected, cause)

	if manual {
		return
	}

	// WithMaxRetries counts retries after the first dial, so this allows
	// MaxReconnectAttempts dials in all.
	policy := backoff.WithMaxRetries(&backoff.ConstantBackOff{Interval: ReconnectInterval}, MaxReconnectAttempts-1)

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		select {
		case <-parentCtx.Done():
			return backoff.Permanent(parentCtx.Err())
		default:
		}
		dialed, dialErr := c.dial(parentCtx, rawURL)
		if dialErr != nil {
			return dialErr
		}
		conn = dialed
		return nil
	}, policy)

	if err != nil {
		c.Bus.Emit(EventError, ErrMaxReconnectAttemptsExceeded)
		return
	}

	c.setConn(conn)
	c.Bus.Emit(EventConnected, rawURL)

	c.wg.Add(2)
	go c.readLoop(parentCtx)
	go c.heartbeatLoop(parentCtx)
}
