package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// Outbound is one event to publish.
type Outbound struct {
	Topic   string
	Payload []byte
}

// Publisher is a gRPC client of the desk's EventBus, used by agents and by
// deskctl.
type Publisher struct {
	conn   *grpc.ClientConn
	addr   string
	md     metadata.MD
	logger *slog.Logger
}

// PublisherConfig holds configuration for the publisher.
type PublisherConfig struct {
	Address          string
	Token            string
	PublisherID      string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultPublisherConfig returns default configuration.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Address:          getEnv("DESK_GRPC_ADDR", "localhost:50061"),
		Token:            os.Getenv("PUBLISH_TOKEN"),
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewPublisher connects to the EventBus and waits until the connection is
// ready, so a bad address fails fast.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultPublisherConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("event bus at %s not ready: %w", cfg.Address, err)
	}

	md := metadata.MD{}
	if cfg.Token != "" {
		md.Set(tokenMetadataKey, cfg.Token)
	}
	if cfg.PublisherID != "" {
		md.Set(publisherMetadataKey, cfg.PublisherID)
	}

	logger.Info("Connected to desk event bus", "address", cfg.Address)

	return &Publisher{conn: conn, addr: cfg.Address, md: md, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Publish sends events on one Publish stream.
func (p *Publisher) Publish(ctx context.Context, events ...Outbound) error {
	_, err := p.PublishSeq(ctx, func(yield func(Outbound) bool) {
		for _, ev := range events {
			if !yield(ev) {
				return
			}
		}
	})
	return err
}

// PublishSeq streams events from seq and returns how many were sent before
// the server acknowledged the stream.
func (p *Publisher) PublishSeq(ctx context.Context, seq iter.Seq[Outbound]) (int, error) {
	if len(p.md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, p.md)
	}
	stream, err := p.conn.NewStream(ctx, &eventBusDesc.Streams[0], publishMethod)
	if err != nil {
		return 0, fmt.Errorf("open publish stream: %w", err)
	}

	sent := 0
	for ev := range seq {
		frame, err := frameFromEnvelope(ev.Topic, ev.Payload)
		if err != nil {
			_ = stream.CloseSend()
			return sent, fmt.Errorf("event %d (%s): %w", sent, ev.Topic, err)
		}
		if err := stream.SendMsg(frame); err != nil {
			return sent, fmt.Errorf("send event %d: %w", sent, err)
		}
		sent++
	}

	if err := stream.CloseSend(); err != nil {
		return sent, fmt.Errorf("close publish stream: %w", err)
	}
	if err := stream.RecvMsg(new(emptypb.Empty)); err != nil {
		return sent, fmt.Errorf("publish stream ack: %w", err)
	}
	p.logger.Debug("Published events", "address", p.addr, "count", sent)
	return sent, nil
}

// Helper function.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
