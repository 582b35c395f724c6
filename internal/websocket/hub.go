package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/domain/repositories"
	"github.com/bromscandium/BioGrow/internal/metrics"
	"github.com/bromscandium/BioGrow/internal/vad"
	"github.com/bromscandium/BioGrow/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	sendQueueSize = 256

	// Utterances waiting for a reply on one connection.
	turnQueueSize = 4

	replyTimeout = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HubConfig holds the voice turn pipeline shared by all connections
type HubConfig struct {
	Conversation *usecase.ConversationService
	Chat         *usecase.ChatService
	Metrics      *metrics.Metrics
	VAD          vad.Config
}

// Hub maintains the set of active streaming connections.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// closed when Run returns
	stopped chan struct{}

	mu sync.RWMutex

	conversation *usecase.ConversationService
	chat         *usecase.ChatService
	metrics      *metrics.Metrics
	vadConfig    vad.Config

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(config HubConfig, logger *zap.Logger) (*Hub, error) {
	if config.Conversation == nil {
		return nil, fmt.Errorf("conversation service is required")
	}
	if config.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if config.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if _, err := vad.NewDetector(config.VAD, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("invalid vad config: %w", err)
	}

	return &Hub{
		clients:      make(map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		stopped:      make(chan struct{}),
		conversation: config.Conversation,
		chat:         config.Chat,
		metrics:      config.Metrics,
		vadConfig:    config.VAD,
		logger:       logger,
	}, nil
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.metrics.ConnectionOpened()
			h.logger.Info("Client registered", zap.String("connectionID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				h.metrics.ConnectionClosed()
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("connectionID", client.id))

		case <-ctx.Done():
			h.mu.Lock()
			for _, client := range h.clients {
				client.conn.Close()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Count returns the number of registered clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// closed when the read pump exits
	done      chan struct{}
	closeOnce sync.Once

	id     string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the read pump.
	detector *vad.Detector
	turn     *usecase.Turn

	// Finished utterances, answered in order by respond.
	turns chan *usecase.Turn
	chat  repositories.ChatSession
}

// HandleWebSocket handles websocket requests from the peer.
func HandleWebSocket(hub *Hub, c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	id := uuid.NewString()
	logger := hub.logger.With(zap.String("connectionID", id))
	detector, err := vad.NewDetector(hub.vadConfig, logger)
	if err != nil {
		logger.Error("Failed to create voice activity detector", zap.Error(err))
		conn.Close()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, sendQueueSize),
		done:     make(chan struct{}),
		id:       id,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		detector: detector,
		turns:    make(chan *usecase.Turn, turnQueueSize),
	}

	select {
	case hub.register <- client:
	case <-hub.stopped:
		logger.Warn("Hub is not running, closing connection")
		cancel()
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	go client.respond()

	return nil
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.shutdown()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			c.processAudioChunk(message)
		case websocket.TextMessage:
			c.logger.Debug("Ignoring text frame", zap.Int("size", len(message)))
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// shutdown abandons the utterance in progress and stops the responder
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.turn != nil {
			c.hub.conversation.Abandon(c.turn)
			c.turn = nil
		}
		close(c.turns)
		close(c.done)
		c.conn.Close()
	})
}

// processAudioChunk runs voice activity detection on one PCM16LE chunk and
// streams it to recognition while an utterance is open.
func (c *Client) processAudioChunk(chunk []byte) {
	c.hub.metrics.RecordChunk(len(chunk))

	switch c.detector.Process(chunk) {
	case vad.SpeechStarted:
		c.notify(domain.NewVADMessage(vadStatus(true)))
		turn, err := c.hub.conversation.StartTurn(c.ctx, c.id)
		if err != nil {
			c.logger.Error("Failed to start utterance", zap.Error(err))
			return
		}
		c.turn = turn

	case vad.SpeechStopped:
		c.notify(domain.NewVADMessage(vadStatus(false)))
		if c.turn == nil {
			return
		}
		turn := c.turn
		c.turn = nil
		if err := turn.Write(chunk); err != nil {
			c.logger.Warn("Failed to stream audio data", zap.Error(err))
		}
		select {
		case c.turns <- turn:
		default:
			c.logger.Warn("Reply queue full, dropping utterance")
			c.hub.conversation.Abandon(turn)
		}
		return
	}

	if c.turn == nil {
		return
	}
	if err := c.turn.Write(chunk); err != nil {
		c.logger.Error("Failed to stream audio data", zap.Error(err))
		c.hub.conversation.Abandon(c.turn)
		c.turn = nil
		c.detector.Reset()
	}
}

// respond answers finished utterances in the order they ended
func (c *Client) respond() {
	for turn := range c.turns {
		c.reply(turn)
	}
}

func (c *Client) reply(turn *usecase.Turn) {
	ctx, cancel := context.WithTimeout(c.ctx, replyTimeout)
	defer cancel()

	transcript, err := c.hub.conversation.Transcribe(ctx, turn)
	if err != nil {
		c.logger.Warn("Transcription failed", zap.Error(err))
		return
	}
	if transcript == "" {
		return
	}
	c.notify(domain.NewTranscriptionMessage(transcript))

	if c.chat == nil {
		c.chat, err = c.hub.chat.StartChat(ctx)
		if err != nil {
			c.logger.Error("Failed to create chat session", zap.Error(err))
			return
		}
	}

	response, err := c.hub.chat.Reply(ctx, c.chat, transcript)
	if err != nil {
		c.logger.Error("Failed to send message to chat session", zap.Error(err))
		return
	}
	c.notify(domain.NewChatResponseMessage(response))
}

// notify queues a JSON notification. Messages are dropped when the client
// is gone or too slow.
func (c *Client) notify(msg domain.TransportMessage) {
	frame, err := textFrame(msg)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- frame:
	default:
		c.hub.metrics.RecordDropped()
		c.logger.Warn("Send queue full, dropping message", zap.String("type", string(msg.Type)))
	}
}
