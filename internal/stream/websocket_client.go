package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"ingestd/internal/model"
)

type WebSocketOptions struct {
	URL          string
	Token        string
	TLS          *tls.Config
	InstanceID   string
	WriteTimeout time.Duration
	PingInterval time.Duration
}

type WebSocketClient struct {
	mu sync.Mutex

	logger     *slog.Logger
	opts       WebSocketOptions
	conn       *websocket.Conn
	pingCancel context.CancelFunc
	connected  atomic.Bool
}

func NewWebSocketClient(opts WebSocketOptions, logger *slog.Logger) *WebSocketClient {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketClient{logger: logger, opts: opts}
}

func (c *WebSocketClient) Connected() bool {
	return c.connected.Load()
}

func (c *WebSocketClient) WriteMetrics(ctx context.Context, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	frame := NewMetricsFrame(c.opts.InstanceID, metrics)
	return c.sendEnvelope(ctx, model.Envelope{Type: model.OutcomeMetrics, InstanceID: c.opts.InstanceID, TimestampUnix: frame.TimestampUnix, Payload: frame})
}

func (c *WebSocketClient) WriteState(ctx context.Context, entries []model.StateEntry) error {
	if len(entries) == 0 {
		return nil
	}
	frame := NewStateFrame(c.opts.InstanceID, entries)
	return c.sendEnvelope(ctx, model.Envelope{Type: model.OutcomeState, InstanceID: c.opts.InstanceID, TimestampUnix: frame.TimestampUnix, Payload: frame})
}

func (c *WebSocketClient) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected.Store(false)
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "shutdown")
	c.conn = nil
	return err
}

func (c *WebSocketClient) sendEnvelope(ctx context.Context, envelope model.Envelope) error {
	payload, err := EncodeEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLocked(ctx, payload); err != nil {
		c.logger.Warn("websocket write failed, reconnecting", "error", err)
		c.dropConnLocked()
		if err2 := c.writeLocked(ctx, payload); err2 != nil {
			c.dropConnLocked()
			c.connected.Store(false)
			return fmt.Errorf("write envelope retry: %w", err2)
		}
	}
	c.connected.Store(true)
	return nil
}

// writeLocked dials when needed and writes one frame. Dial and write share one WriteTimeout budget.
func (c *WebSocketClient) writeLocked(ctx context.Context, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := c.ensureConnLocked(wctx); err != nil {
		return err
	}
	return c.conn.Write(wctx, websocket.MessageText, payload)
}

func (c *WebSocketClient) dropConnLocked() {
	if c.pingCancel != nil {
		c.pingCancel()
		c.pingCancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusInternalError, "reconnect")
		c.conn = nil
	}
}

func (c *WebSocketClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	h := http.Header{}
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	}
	opt := &websocket.DialOptions{HTTPHeader: h}
	if c.opts.TLS != nil {
		opt.HTTPClient = &http.Client{Transport: &http.Transport{TLSClientConfig: c.opts.TLS}}
	}
	conn, _, err := websocket.Dial(ctx, c.opts.URL, opt)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.opts.URL, err)
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn
	c.startPingLoopLocked()
	c.logger.Info("websocket stream connected", "url", c.opts.URL)
	return nil
}

func (c *WebSocketClient) startPingLoopLocked() {
	if c.pingCancel != nil {
		c.pingCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pingCancel = cancel
	// Pongs are only processed while something reads the connection.
	ctx = c.conn.CloseRead(ctx)
	go func(conn *websocket.Conn, interval time.Duration) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
				if err := conn.Ping(pingCtx); err != nil {
					c.connected.Store(false)
				}
				pingCancel()
			}
		}
	}(c.conn, c.opts.PingInterval)
}
