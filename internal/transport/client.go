// Package transport is the client side of the broker's streaming websocket:
// it uploads audio chunks and dispatches the broker's JSON notifications.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Time Close waits for the broker to acknowledge the close frame.
	closeGrace = time.Second

	defaultSendQueueSize = 64
)

var (
	// ErrAlreadyConnected is returned when Connect is called more than once.
	ErrAlreadyConnected = errors.New("transport already connected")
	// ErrClosed is returned when Connect is called after Close.
	ErrClosed = errors.New("transport closed")
)

// Handler receives the notifications pushed by the broker. Calls are made
// from the single read goroutine, in arrival order.
type Handler interface {
	VoiceActivity(status string)
	Transcription(text string)
	ChatResponse(text string)
}

// WriteData is one queued outbound frame.
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Config holds configuration for the transport Client
type Config struct {
	URL           string            // Required: broker websocket endpoint
	SendQueueSize int               // Optional: outbound frames buffered before dropping
	Dialer        *websocket.Dialer // Optional
}

// Client is a single streaming connection. It never reconnects.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	handler Handler
	logger  *zap.Logger

	send      chan WriteData
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	state     entities.TransportState
	conn      *websocket.Conn
	connected bool
}

// NewClient creates a transport client in the Connecting state
func NewClient(config Config, handler Handler, logger *zap.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("transport URL is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	queueSize := config.SendQueueSize
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Client{
		url:     config.URL,
		dialer:  dialer,
		handler: handler,
		logger:  logger,
		send:    make(chan WriteData, queueSize),
		done:    make(chan struct{}),
		state:   entities.TransportStateConnecting,
	}, nil
}

// State returns the current connection state
func (c *Client) State() entities.TransportState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the broker. It may be called once per client.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == entities.TransportStateClosed || c.state == entities.TransportStateClosing {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connected = true
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.logger.Error("Transport connection failed", zap.String("url", c.url), zap.Error(err))
		c.markClosed()
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.state != entities.TransportStateConnecting {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.state = entities.TransportStateOpen
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("Transport connected", zap.String("url", c.url))

	go c.writePump(conn)
	go c.readPump(conn)

	return nil
}

// SendAudioChunk queues one audio chunk. Chunks are dropped silently when the
// connection is not open, when the chunk is empty or when the queue is full.
func (c *Client) SendAudioChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	c.mu.Lock()
	open := c.state.IsOpen()
	c.mu.Unlock()
	if !open {
		return
	}

	select {
	case c.send <- WriteData{Type: websocket.BinaryMessage, Payload: chunk}:
	default:
		c.logger.Warn("Send queue full, dropping audio chunk", zap.Int("size", len(chunk)))
	}
}

// Close shuts the connection down. It always completes; failures are logged.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	if c.state == entities.TransportStateClosed {
		c.mu.Unlock()
		return
	}
	c.state = entities.TransportStateClosing
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			c.logger.Warn("Failed to send close frame", zap.Error(err))
		}

		select {
		case <-c.done:
		case <-time.After(closeGrace):
		}

		if err := conn.Close(); err != nil {
			c.logger.Debug("Failed to close transport connection", zap.Error(err))
		}
	}

	c.markClosed()
	c.logger.Info("Transport closed")
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.state = entities.TransportStateClosed
	c.conn = nil
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump dispatches broker notifications until the connection ends.
func (c *Client) readPump(conn *websocket.Conn) {
	defer c.markClosed()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("Transport error", zap.Error(err))
			} else {
				c.logger.Info("Transport connection closed", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.dispatch(message)
		default:
			c.logger.Debug("Ignoring non-text frame", zap.Int("type", messageType), zap.Int("size", len(message)))
		}
	}
}

func (c *Client) dispatch(message []byte) {
	msg, err := domain.ParseTransportMessage(message)
	if err != nil {
		c.logger.Warn("Dropping malformed transport message", zap.Error(err))
		return
	}

	switch msg.Type {
	case domain.TransportMessageVAD:
		c.logger.Debug("VAD status", zap.String("status", msg.Status))
		c.handler.VoiceActivity(msg.Status)
	case domain.TransportMessageTranscription:
		c.handler.Transcription(msg.Text)
	case domain.TransportMessageChatResponse:
		c.handler.ChatResponse(msg.Text)
	default:
		c.logger.Info("Unknown transport message type", zap.String("type", string(msg.Type)))
	}
}

// writePump is the only goroutine writing data frames to the connection.
func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Failed to write ping", zap.Error(err))
			}

		case <-c.done:
			return
		}
	}
}
