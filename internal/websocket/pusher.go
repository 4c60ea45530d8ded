// Package websocket pushes the entitlement state to connected pages so they
// can lock or unlock without reloading.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"shopmgr/internal/entitlement"
	"shopmgr/internal/infrastructure"
	"shopmgr/pkg/contracts/events"
)

// StateSource resolves the current entitlement.
type StateSource interface {
	Resolve(ctx context.Context) entitlement.AccessState
}

// Pusher upgrades connections and sends them an entitlement:state message on
// connect, on every interval tick and whenever Notify is called.
type Pusher struct {
	source   StateSource
	hub      *Hub
	interval time.Duration
	upgrader websocket.Upgrader
	notify   chan struct{}
	logger   *slog.Logger
}

// NewPusher creates a Pusher. Run must be started before connections are
// served.
func NewPusher(source StateSource, interval time.Duration, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Pusher{
		source:   source,
		hub:      NewHub(logger),
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// nil CheckOrigin rejects cross-origin upgrades.
		},
		notify: make(chan struct{}, 1),
		logger: logger.With(slog.String("component", "entitlement_push")),
	}
}

// Run drives the hub and the periodic push until ctx is cancelled.
func (p *Pusher) Run(ctx context.Context) error {
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		p.hub.Run(ctx)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-hubDone
			return nil
		case <-ticker.C:
			p.push(ctx)
		case <-p.notify:
			p.push(ctx)
		}
	}
}

// Notify schedules an immediate push. Calls made while one is pending are
// coalesced.
func (p *Pusher) Notify(context.Context) {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Clients returns the number of connected pages.
func (p *Pusher) Clients(ctx context.Context) int {
	return p.hub.ClientCount(ctx)
}

func (p *Pusher) push(ctx context.Context) {
	if p.hub.ClientCount(ctx) == 0 {
		return
	}
	msg, err := p.snapshot(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode entitlement state", slog.String("error", err.Error()))
		return
	}
	p.hub.Broadcast(ctx, msg)
}

func (p *Pusher) snapshot(ctx context.Context) ([]byte, error) {
	state := p.source.Resolve(ctx)
	return json.Marshal(events.NewMessage(events.MessageTypeEntitlement, state))
}

// ServeHTTP upgrades the request and registers the connection.
func (p *Pusher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.GetTraceID(ctx)

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		p.logger.WarnContext(ctx, "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := newClient(p.hub, conn, traceID, p.logger)

	msg, err := p.snapshot(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode entitlement state", slog.String("error", err.Error()))
		_ = conn.Close()
		return
	}
	client.send <- msg

	if !p.hub.add(ctx, client) {
		_ = conn.Close()
		return
	}

	p.logger.InfoContext(ctx, "entitlement websocket connected", slog.String("client_id", client.id))

	go client.writePump()
	go client.readPump()
}
