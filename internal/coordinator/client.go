// Package coordinator notifies an external power/telemetry system of GIP
// client and dongle lifecycle events over gRPC.
//
// There is no .proto-generated service for this integration: the
// coordinator is a small internal system with a JSON-over-gRPC wire
// contract, so this package hand-registers a JSON encoding.Codec rather
// than carrying generated protobuf message types for a single RPC.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the gRPC content-subtype this package registers.
const jsonCodecName = "json"

// jsonCodec implements encoding.Codec by delegating to encoding/json. It
// lets the coordinator client speak a plain JSON wire format without a
// generated protobuf schema.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// -------------------------------------------------------------------------
// Event types
// -------------------------------------------------------------------------

// EventType identifies the kind of lifecycle transition being reported.
type EventType string

// Event types reported to the coordinator.
const (
	EventIdentified    EventType = "identified"
	EventDisconnected  EventType = "disconnected"
	EventAssociated    EventType = "associated"
	EventDisassociated EventType = "disassociated"
)

// Event describes a single client or dongle lifecycle transition.
type Event struct {
	AdapterID int       `json:"adapter_id"`
	ClientID  uint8     `json:"client_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the dampening key for this event's entity.
func (e Event) Key() string {
	return fmt.Sprintf("%d:%d", e.AdapterID, e.ClientID)
}

// notifyRequest is the JSON body sent for a Notify RPC.
type notifyRequest struct {
	Event Event `json:"event"`
}

// notifyResponse is the JSON body returned by a Notify RPC.
type notifyResponse struct {
	Accepted bool `json:"accepted"`
}

// -------------------------------------------------------------------------
// Sentinel errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("coordinator client is closed")

	// ErrDialFailed indicates the gRPC dial to the coordinator failed.
	ErrDialFailed = errors.New("coordinator gRPC dial failed")

	// ErrNotAccepted indicates the coordinator rejected the notification.
	ErrNotAccepted = errors.New("coordinator did not accept notification")
)

// -------------------------------------------------------------------------
// Client interface
// -------------------------------------------------------------------------

// Client abstracts the coordinator RPC needed by Handler. This enables
// testing without a running coordinator instance.
type Client interface {
	Notify(ctx context.Context, ev Event) error
	Close() error
}

// -------------------------------------------------------------------------
// GRPCClient — production coordinator gRPC client
// -------------------------------------------------------------------------

const notifyMethod = "/gip.coordinator.v1.Coordinator/Notify"

// GRPCClient connects to the coordinator's gRPC API over plaintext and
// implements the Client interface using a hand-registered JSON codec.
type GRPCClient struct {
	conn   *grpc.ClientConn
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewGRPCClient creates a new coordinator gRPC client and establishes a
// connection. Uses lazy connection establishment; connectivity is verified
// on the first RPC call.
func NewGRPCClient(addr string, logger *slog.Logger) (*GRPCClient, error) {
	if addr == "" {
		return nil, fmt.Errorf("create coordinator client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create coordinator client to %s: %w: %w", addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn: conn,
		logger: logger.With(
			slog.String("component", "coordinator.client"),
			slog.String("addr", addr),
		),
	}

	client.logger.Info("coordinator gRPC client created", slog.String("target", addr))

	return client, nil
}

// Notify reports a single lifecycle event to the coordinator.
func (c *GRPCClient) Notify(ctx context.Context, ev Event) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("notify %s: %w", ev.Key(), ErrClientClosed)
	}
	c.mu.RUnlock()

	req := &notifyRequest{Event: ev}
	resp := &notifyResponse{}

	if err := c.conn.Invoke(ctx, notifyMethod, req, resp); err != nil {
		return fmt.Errorf("notify %s: %w", ev.Key(), err)
	}
	if !resp.Accepted {
		return fmt.Errorf("notify %s: %w", ev.Key(), ErrNotAccepted)
	}

	c.logger.Debug("notified coordinator",
		slog.String("entity", ev.Key()),
		slog.String("type", string(ev.Type)),
	)

	return nil
}

// Close releases the underlying gRPC connection. After Close, Notify
// returns ErrClientClosed; a repeated Close returns nil.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close coordinator client: %w", err)
	}

	c.logger.Info("coordinator gRPC client closed")

	return nil
}
