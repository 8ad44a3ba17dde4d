package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
)

var ErrNotConnected = errors.New("websocket not connected")

const writeTimeout = 10 * time.Second

// MessageHandler receives every inbound text frame in arrival order.
type MessageHandler func(frame []byte)

// Client owns the one socket shared by every session. Inbound frames are
// delivered from a single reader goroutine; the socket is redialed with
// backoff when it drops. Nothing sent while disconnected is queued.
type Client struct {
	url          string
	token        string
	backoff      []int
	logger       *slog.Logger
	conn         *websocket.Conn
	mu           sync.Mutex
	onMessage    MessageHandler
	onConnect    func()
	onDisconnect func(error)
	done         chan struct{}
	closeOnce    sync.Once
	reconnecting bool
}

func NewClient(url, token string, backoff []int) *Client {
	if len(backoff) == 0 {
		backoff = []int{1000}
	}
	return &Client{
		url:     url,
		token:   token,
		backoff: backoff,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
}

func (c *Client) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

func (c *Client) SetMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Client) SetOnConnect(handler func()) {
	c.onConnect = handler
}

// SetOnDisconnect registers a hook that runs once per dropped connection,
// before any reconnect attempt.
func (c *Client) SetOnDisconnect(handler func(error)) {
	c.onDisconnect = handler
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}

	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, headers)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.reconnecting = false

	go c.reader(conn)

	if c.onConnect != nil {
		go c.onConnect()
	}

	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) reader(conn *websocket.Conn) {
	var readErr error
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		if c.closed() {
			return
		}
		if c.onDisconnect != nil {
			c.onDisconnect(readErr)
		}
		c.reconnect()
	}()

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if !c.closed() {
				c.logger.Warn("WebSocket read error", "error", err)
			}
			readErr = err
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(frame)
		}
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	attempt := 0
	for {
		delay := c.backoff[min(attempt, len(c.backoff)-1)]
		attempt++

		select {
		case <-c.done:
			return
		case <-time.After(time.Duration(delay) * time.Millisecond):
		}

		c.logger.Info("Reconnection attempt", "attempt", attempt)
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info("Reconnected successfully")
			return
		}
		if c.closed() {
			return
		}
		c.logger.Debug("Reconnection failed", "error", err)
	}
}

// Send encodes one action and writes it as a text frame.
func (c *Client) Send(action protocol.Action) error {
	data, err := protocol.Encode(action)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}
