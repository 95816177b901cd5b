// Package session speaks the xiaozhi device protocol over WebSocket and
// turns server messages into bus events.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/normanking/cortexface/internal/bus"
	"github.com/rs/zerolog"
)

var (
	ErrNotConnected = errors.New("session not connected")
	ErrHandshake    = errors.New("session handshake failed")
)

// Options configures a Client
type Options struct {
	URL               string
	Token             string
	DeviceID          string
	ClientID          string // Generated when empty
	ProtocolVersion   int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	Dialer            *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = uuid.NewString()
	}
	if o.ProtocolVersion <= 0 {
		o.ProtocolVersion = 1
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = 30 * time.Second
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		o.MaxReconnectDelay = o.ReconnectDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// Client maintains one device session with reconnection
type Client struct {
	opts   Options
	bus    *bus.EventBus
	logger zerolog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	writeMu sync.Mutex
}

// NewClient creates a session client publishing to eventBus
func NewClient(opts Options, eventBus *bus.EventBus, logger zerolog.Logger) *Client {
	return &Client{
		opts:   opts.withDefaults(),
		bus:    eventBus,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// ClientID returns the id sent in the Client-Id header
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// Connect starts the connection loop in the background
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errors.New("session already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		c.connectLoop(ctx)
	}(c.done)
	return nil
}

// Disconnect stops the loop and waits for it to exit
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SessionID returns the id assigned by the server hello
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// StartListening tells the server the microphone opened and publishes
// EventTypeListeningStarted.
func (c *Client) StartListening(mode ListenMode) error {
	if err := c.SendListen(ListenStart, mode, ""); err != nil {
		return err
	}
	c.publish(bus.EventTypeListeningStarted, nil)
	return nil
}

// StopListening tells the server the microphone closed and publishes
// EventTypeListeningStopped.
func (c *Client) StopListening() error {
	if err := c.SendListen(ListenStop, "", ""); err != nil {
		return err
	}
	c.publish(bus.EventTypeListeningStopped, nil)
	return nil
}

// SendListen writes a listen message
func (c *Client) SendListen(state ListenState, mode ListenMode, text string) error {
	return c.writeJSON(ListenMessage{
		Type:      TypeListen,
		SessionID: c.SessionID(),
		State:     state,
		Mode:      mode,
		Text:      text,
	})
}

// SendAbort asks the server to stop speaking
func (c *Client) SendAbort(reason string) error {
	return c.writeJSON(AbortMessage{Type: TypeAbort, SessionID: c.SessionID(), Reason: reason})
}

func (c *Client) writeJSON(v any) error {
	c.mu.RLock()
	conn, ok := c.conn, c.connected
	c.mu.RUnlock()
	if !ok || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// nextBackoff doubles the delay up to max
func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max || next <= 0 {
		return max
	}
	return next
}

// connectLoop maintains the WebSocket connection with reconnection
func (c *Client) connectLoop(ctx context.Context) {
	backoff := c.opts.ReconnectDelay
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		established, err := c.connectWS(ctx)
		c.setDisconnected(err)
		if ctx.Err() != nil {
			return
		}

		if established {
			// Reset backoff after a session that got past the handshake
			backoff = c.opts.ReconnectDelay
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
		}

		if consecutiveFailures >= 3 {
			if consecutiveFailures == 3 {
				c.logger.Warn().
					Err(err).
					Int("failures", consecutiveFailures).
					Msg("Server not available, will retry less frequently")
			} else {
				c.logger.Debug().Int("failures", consecutiveFailures).Msg("Server still unavailable")
			}
		} else {
			c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Session lost, reconnecting...")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, c.opts.MaxReconnectDelay)
	}
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	}
	h.Set("Protocol-Version", strconv.Itoa(c.opts.ProtocolVersion))
	if c.opts.DeviceID != "" {
		h.Set("Device-Id", c.opts.DeviceID)
	}
	h.Set("Client-Id", c.opts.ClientID)
	return h
}

// connectWS runs one session. established reports whether the server hello
// arrived.
func (c *Client) connectWS(ctx context.Context) (established bool, err error) {
	c.logger.Info().Str("url", c.opts.URL).Msg("Connecting to server")

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.header())
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sessionID, err := c.handshake(conn)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.sessionID = sessionID
	c.mu.Unlock()

	c.logger.Info().Str("session", sessionID).Msg("Connected to server")
	c.publish(bus.EventTypeConnected, map[string]any{bus.KeySessionID: sessionID})

	audioFrames := 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if kind == websocket.BinaryMessage {
			// Opus audio between tts messages
			audioFrames++
			if audioFrames == 1 || audioFrames%100 == 0 {
				c.logger.Debug().Int("frames", audioFrames).Msg("Skipping audio frames")
			}
			continue
		}
		c.handleMessage(data)
	}
}

// handshake sends the client hello and waits for the server's
func (c *Client) handshake(conn *websocket.Conn) (string, error) {
	hello := ClientHello{
		Type:        TypeHello,
		Version:     c.opts.ProtocolVersion,
		Transport:   "websocket",
		AudioParams: defaultAudioParams(),
	}
	c.writeMu.Lock()
	err := conn.SetWriteDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	if err == nil {
		err = conn.WriteJSON(hello)
	}
	c.writeMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: send hello: %w", ErrHandshake, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout)); err != nil {
		return "", err
	}
	var msg ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("%w: read hello: %w", ErrHandshake, err)
	}
	if msg.Type != TypeHello {
		return "", fmt.Errorf("%w: expected hello, got %q", ErrHandshake, msg.Type)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}
	return msg.SessionID, nil
}

func (c *Client) setDisconnected(cause error) {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	if was {
		data := map[string]any{}
		if cause != nil {
			data[bus.KeyError] = cause.Error()
		}
		c.publish(bus.EventTypeDisconnected, data)
	}
}

// handleMessage maps one server message to bus events
func (c *Client) handleMessage(raw []byte) {
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse message")
		return
	}

	switch msg.Type {
	case TypeTTS:
		switch msg.State {
		case TTSStart:
			c.publish(bus.EventTypeSpeakingStarted, nil)
		case TTSSentenceStart:
			c.publish(bus.EventTypeSentence, map[string]any{bus.KeyText: msg.Text})
		case TTSStop:
			c.publish(bus.EventTypeSpeakingStopped, nil)
		default:
			c.logger.Debug().Str("state", msg.State).Msg("Unknown tts state")
		}

	case TypeSTT:
		c.publish(bus.EventTypeTranscript, map[string]any{bus.KeyText: msg.Text})

	case TypeLLM:
		if msg.Emotion != "" {
			c.publish(bus.EventTypeEmotionChanged, map[string]any{
				bus.KeyEmotion: msg.Emotion,
				bus.KeyText:    msg.Text,
			})
		}

	case TypeHello:
		c.logger.Debug().Msg("Ignoring repeated hello")

	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Unknown message type")
	}
}

func (c *Client) publish(t bus.EventType, data map[string]any) {
	if c.bus != nil {
		c.bus.Publish(bus.Event{Type: t, Data: data})
	}
}
