package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proptrader/internal/config"
	"proptrader/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // keepalive cadence
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second
	updateBufferSize = 64
)

// Stream consumes the broker's trade_updates WebSocket channel. It handles
// authentication, listen subscription, and automatic reconnection with
// exponential backoff. Consumers read from Updates().
type Stream struct {
	url       string
	apiKey    string
	secretKey string

	conn   *websocket.Conn
	connMu sync.Mutex

	updateCh chan types.TradeUpdate

	log *slog.Logger
}

// NewStream builds a trade-update stream from broker configuration.
func NewStream(cfg config.BrokerConfig, log *slog.Logger) *Stream {
	return &Stream{
		url:       cfg.StreamURL,
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		updateCh:  make(chan types.TradeUpdate, updateBufferSize),
		log:       log.With("component", "broker_stream"),
	}
}

// Updates returns the read-only channel of order lifecycle events.
func (s *Stream) Updates() <-chan types.TradeUpdate { return s.updateCh }

// Run connects and maintains the stream until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.log.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close shuts the current connection.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

type streamMsg struct {
	Action string         `json:"action,omitempty"`
	Key    string         `json:"key,omitempty"`
	Secret string         `json:"secret,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.writeJSON(streamMsg{Action: "auth", Key: s.apiKey, Secret: s.secretKey}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := s.writeJSON(streamMsg{
		Action: "listen",
		Data:   map[string]any{"streams": []string{"trade_updates"}},
	}); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.log.Info("trade update stream connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.dispatch(msg)
	}
}

// dispatch routes one raw message. The broker wraps trade updates in a
// stream envelope; control acks carry a different stream name and are
// ignored.
func (s *Stream) dispatch(data []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.log.Debug("ignoring non-json stream message")
		return
	}
	if envelope.Stream != "trade_updates" {
		s.log.Debug("ignoring stream message", "stream", envelope.Stream)
		return
	}

	var update types.TradeUpdate
	if err := json.Unmarshal(envelope.Data, &update); err != nil {
		s.log.Error("unmarshal trade update", "error", err)
		return
	}

	select {
	case s.updateCh <- update:
	default:
		s.log.Warn("trade update channel full, dropping event", "order_id", update.Order.ID)
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}
