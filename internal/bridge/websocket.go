package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/signstream/internal/audio"
	"github.com/skypro1111/signstream/internal/transport"
)

const writeWait = 10 * time.Second

// Handler serves the processing side of the bridge over websocket.
// Each connection reads Messages and writes Replies as they resolve, so
// replies may arrive in a different order than requests.
type Handler struct {
	processor *Processor
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewHandler creates a websocket bridge handler
func NewHandler(processor *Processor, logger *slog.Logger) *Handler {
	return &Handler{
		processor: processor,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 4 * 1024,
		},
	}
}

// ServeHTTP upgrades the connection and serves it until the peer leaves
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Bridge upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.logger.Info("Bridge peer connected", slog.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writeMu sync.Mutex
	var pending sync.WaitGroup
	respond := func(reply Reply) {
		defer pending.Done()
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			h.logger.Warn("Failed to write bridge reply",
				slog.String("id", reply.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Bridge read ended", slog.String("error", err.Error()))
			}
			break
		}

		pending.Add(1)
		if !h.processor.Handle(ctx, msg, respond) {
			pending.Done()
		}
	}

	// Outstanding requests lose their reader; stop them and drain
	cancel()
	pending.Wait()

	h.logger.Info("Bridge peer disconnected", slog.String("remote", r.RemoteAddr))
}

// WSClient is a Sender that forwards chunks to a remote bridge Handler
type WSClient struct {
	conn   *websocket.Conn
	logger *slog.Logger

	pending map[string]chan Reply
	closed  bool
	err     error
	mu      sync.Mutex
	writeMu sync.Mutex
	done    chan struct{}
}

// Dial connects to a bridge handler at url (ws:// or wss://)
func Dial(ctx context.Context, url string, logger *slog.Logger) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bridge %s: %w", url, err)
	}

	c := &WSClient{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan Reply),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	logger.Info("Connected to bridge", slog.String("url", url))
	return c, nil
}

// Send forwards chunk and waits for the matching reply
func (c *WSClient) Send(ctx context.Context, chunk *audio.AudioChunk) (*transport.TranslationResult, error) {
	if chunk == nil || len(chunk.Data) == 0 {
		return nil, audio.ErrEmptyChunk
	}

	msg := NewMessage(chunk)
	replies := make(chan Reply, 1)

	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return nil, &transport.TransportError{Kind: transport.NetworkFailure, Err: err}
	}
	c.pending[msg.ID] = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return nil, &transport.TransportError{Kind: transport.NetworkFailure, Err: err}
	}

	select {
	case reply := <-replies:
		return ResultOf(reply)
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return nil, &transport.TransportError{Kind: transport.NetworkFailure, Err: err}
	case <-ctx.Done():
		return nil, &transport.TransportError{Kind: transport.NetworkFailure, Err: ctx.Err()}
	}
}

func (c *WSClient) readLoop() {
	var readErr error
	for {
		var reply Reply
		if err := c.conn.ReadJSON(&reply); err != nil {
			readErr = err
			break
		}

		c.mu.Lock()
		ch, ok := c.pending[reply.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("Dropping reply for unknown request", slog.String("id", reply.ID))
			continue
		}
		ch <- reply
	}

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.err = fmt.Errorf("%w: %v", ErrBridgeClosed, readErr)
	}
	c.mu.Unlock()
	close(c.done)
}

// Close closes the connection; pending sends fail with NetworkFailure
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.err = ErrBridgeClosed
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Closing connection"))
	c.writeMu.Unlock()

	closeErr := c.conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}
