package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"ingestd/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type GRPCOptions struct {
	Addr          string
	TLS           *tls.Config
	Token         string
	InstanceID    string
	MetricsMethod string
	StateMethod   string
	// SendTimeout bounds connecting, opening a stream and queueing one frame.
	SendTimeout time.Duration
	DialOptions []grpc.DialOption
}

// GRPCClient keeps one client stream per outcome kind open on a lazily created connection.
type GRPCClient struct {
	mu sync.Mutex

	logger        *slog.Logger
	opts          GRPCOptions
	conn          *grpc.ClientConn
	metricsStream grpc.ClientStream
	stateStream   grpc.ClientStream
	streamCtx     context.Context
	streamCancel  context.CancelFunc
	connected     atomic.Bool
}

func NewGRPCClient(opts GRPCOptions, logger *slog.Logger) *GRPCClient {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	return &GRPCClient{logger: logger, opts: opts}
}

func (c *GRPCClient) Connected() bool {
	return c.connected.Load()
}

func (c *GRPCClient) WriteMetrics(ctx context.Context, metrics []model.Metric) error {
	if len(metrics) == 0 {
		return nil
	}
	return c.send(ctx, &c.metricsStream, c.opts.MetricsMethod, NewMetricsFrame(c.opts.InstanceID, metrics))
}

func (c *GRPCClient) WriteState(ctx context.Context, entries []model.StateEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return c.send(ctx, &c.stateStream, c.opts.StateMethod, NewStateFrame(c.opts.InstanceID, entries))
}

func (c *GRPCClient) send(ctx context.Context, stream *grpc.ClientStream, method string, frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ensureConnLocked(); err != nil {
		return err
	}
	if *stream == nil {
		if err := c.openStreamLocked(ctx, stream, method); err != nil {
			c.connected.Store(false)
			return err
		}
	}
	if err := (*stream).SendMsg(frame); err != nil {
		c.logger.Warn("grpc send failed, reopening stream", "method", method, "error", err)
		*stream = nil
		if err2 := c.openStreamLocked(ctx, stream, method); err2 != nil {
			c.connected.Store(false)
			return fmt.Errorf("reopen stream %s: %w", method, err2)
		}
		if err2 := (*stream).SendMsg(frame); err2 != nil {
			c.connected.Store(false)
			return fmt.Errorf("send frame %s: %w", method, err2)
		}
	}
	c.connected.Store(true)
	return nil
}

func (c *GRPCClient) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected.Store(false)
	for _, s := range []*grpc.ClientStream{&c.metricsStream, &c.stateStream} {
		if *s != nil {
			_ = (*s).CloseSend()
			*s = nil
		}
	}
	if c.streamCancel != nil {
		c.streamCancel()
		c.streamCancel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *GRPCClient) ensureConnLocked() error {
	if c.conn != nil {
		return nil
	}
	var creds credentials.TransportCredentials
	if c.opts.TLS != nil {
		creds = credentials.NewTLS(c.opts.TLS)
	} else {
		creds = insecure.NewCredentials()
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	}, c.opts.DialOptions...)

	conn, err := grpc.NewClient(c.opts.Addr, dialOpts...)
	if err != nil {
		return fmt.Errorf("grpc client %s: %w", c.opts.Addr, err)
	}
	c.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	if c.opts.Token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.opts.Token)
	}
	c.streamCtx, c.streamCancel = ctx, cancel
	c.logger.Info("grpc stream client created", "addr", c.opts.Addr)
	return nil
}

// waitReadyLocked blocks until the connection is ready or ctx ends, so a peer that never completes the
// handshake cannot hold the caller past its deadline.
func (c *GRPCClient) waitReadyLocked(ctx context.Context) error {
	c.conn.Connect()
	for {
		state := c.conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("grpc connect %s (%s): %w", c.opts.Addr, state, ctx.Err())
		}
	}
}

func (c *GRPCClient) openStreamLocked(ctx context.Context, stream *grpc.ClientStream, method string) error {
	if c.conn == nil {
		return errors.New("grpc conn is nil")
	}
	if err := c.waitReadyLocked(ctx); err != nil {
		return err
	}
	s, err := c.conn.NewStream(c.streamCtx, &grpc.StreamDesc{ClientStreams: true}, method)
	if err != nil {
		return fmt.Errorf("open stream %s: %w", method, err)
	}
	*stream = s
	return nil
}
