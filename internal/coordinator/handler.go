package coordinator

import (
	"context"
	"log/slog"
)

// -------------------------------------------------------------------------
// Handler — lifecycle event consumer
// -------------------------------------------------------------------------

// Handler consumes lifecycle events and forwards them to the coordinator,
// applying flap dampening to association/disassociation churn so a
// radio-noise-induced flap doesn't spam the external system.
//
// Identified/Disconnected transitions always pass through undamped: those
// reflect the GIP handshake completing or a client leaving for good, not a
// radio-layer flap.
type Handler struct {
	client   Client
	dampener *Dampener
	logger   *slog.Logger
}

// HandlerConfig holds the configuration for a Handler.
type HandlerConfig struct {
	// Client is the coordinator gRPC client.
	Client Client

	// Dampening configures association/disassociation flap dampening.
	Dampening DampeningConfig

	// Logger is the parent logger. The handler adds its own component tag.
	Logger *slog.Logger
}

// NewHandler creates a new lifecycle-event handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		client:   cfg.Client,
		dampener: NewDampener(cfg.Dampening, cfg.Logger),
		logger:   cfg.Logger.With(slog.String("component", "coordinator.handler")),
	}
}

// Run consumes lifecycle events and notifies the coordinator. It blocks
// until the context is cancelled or the events channel is closed.
//
// Designed to run as an errgroup goroutine:
//
//	g.Go(func() error {
//	    return handler.Run(gCtx, events)
//	})
func (h *Handler) Run(ctx context.Context, events <-chan Event) error {
	h.logger.Info("handler started, consuming lifecycle events")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("handler stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				h.logger.Info("event channel closed, handler stopping")
				return nil
			}
			h.handleEvent(ctx, ev)
		}
	}
}

// handleEvent processes a single lifecycle event.
func (h *Handler) handleEvent(ctx context.Context, ev Event) {
	key := ev.Key()

	switch ev.Type {
	case EventDisassociated:
		if h.dampener.ShouldSuppress(key) {
			h.logger.Warn("disassociation suppressed by flap dampening", slog.String("entity", key))
			return
		}
	case EventAssociated:
		if h.dampener.ShouldSuppressAssociate(key) {
			h.logger.Warn("association suppressed by flap dampening", slog.String("entity", key))
			return
		}
	}

	h.logger.Debug("forwarding lifecycle event",
		slog.String("entity", key),
		slog.String("type", string(ev.Type)),
	)

	if err := h.client.Notify(ctx, ev); err != nil {
		h.logger.Error("failed to notify coordinator",
			slog.String("entity", key),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
