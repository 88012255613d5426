package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"ingestd/internal/config"
)

// NewSinkFromConfig returns nil, nil when forwarding is disabled. The remote client is wrapped in a
// QueuedSink so a slow or silent peer never blocks the caller.
func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	remote, err := newRemoteSink(cfg, tlsCfg, logger)
	if err != nil || remote == nil {
		return nil, err
	}
	return NewQueuedSink(remote, cfg.ForwardQueueSize, cfg.ForwardTimeout, logger), nil
}

func newRemoteSink(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.ForwardMode {
	case config.StreamModeNone:
		return nil, nil
	case config.StreamModeGRPC:
		return NewGRPCClient(GRPCOptions{
			Addr:          cfg.ForwardGRPCAddr,
			TLS:           tlsCfg,
			Token:         cfg.ForwardToken,
			InstanceID:    cfg.InstanceID,
			MetricsMethod: cfg.GRPCMetricsMethod,
			StateMethod:   cfg.GRPCStateMethod,
			SendTimeout:   cfg.ForwardTimeout,
		}, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(WebSocketOptions{
			URL:          cfg.ForwardWSURL,
			Token:        cfg.ForwardToken,
			TLS:          tlsCfg,
			InstanceID:   cfg.InstanceID,
			WriteTimeout: cfg.WebSocketWriteTimeout,
			PingInterval: cfg.WebSocketPingInterval,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported forward mode %q", cfg.ForwardMode)
	}
}
