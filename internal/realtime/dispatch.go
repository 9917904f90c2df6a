package realtime

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/karyadesign/karya-api/internal/models"
	"github.com/karyadesign/karya-api/internal/observability"
)

// Viewer is the opaque identity of the session owner.
type Viewer struct {
	ID   string
	Role string
}

// IsStaff reports whether the viewer manages orders.
func (v Viewer) IsStaff() bool {
	return v.Role == models.RoleDesigner || v.Role == models.RoleAdmin
}

// AlertKind labels dispatched payloads.
const (
	AlertNewMessage   = "new_message"
	AlertStatusChange = "status_change"
)

// Alert is the human-readable payload handed to delivery sinks.
type Alert struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	OrderID string `json:"order_id"`
}

// Sink delivers alerts to the viewer: an in-app stream, a push channel, a
// badge counter. The dispatcher's contract ends at Deliver.
type Sink interface {
	Deliver(ctx context.Context, alert Alert) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, alert Alert) error

// Deliver calls the wrapped function.
func (f SinkFunc) Deliver(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// statusAlerts templates status-change alerts by target status. Unlisted
// statuses produce no alert.
var statusAlerts = map[string]string{
	models.OrderStatusInProgress: "design work started",
	models.OrderStatusCompleted:  "design completed",
	models.OrderStatusDelivered:  "design delivered",
}

// Dispatcher decides, per reconciled event, whether the viewer should be
// alerted, and forwards the payload to every sink. Sink failures are logged
// and absorbed; they never unwind the reconciliation that triggered them.
type Dispatcher struct {
	viewer Viewer
	sinks  []Sink
	logger zerolog.Logger
}

// NewDispatcher constructs a dispatcher for the viewer.
func NewDispatcher(viewer Viewer, sinks []Sink, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		viewer: viewer,
		sinks:  sinks,
		logger: logger.With().Str("component", "dispatcher").Str("viewer_id", viewer.ID).Logger(),
	}
}

// DispatchMessage routes a freshly merged chat message. Self-origin messages
// are never alerts to their own author; clients hear only about their own
// orders, staff only about client-originated traffic.
func (d *Dispatcher) DispatchMessage(ctx context.Context, message models.ChatMessage, orderOwnerID string) {
	if message.SenderID == d.viewer.ID {
		return
	}

	if d.viewer.IsStaff() {
		if message.SenderRole != models.RoleClient {
			return
		}
	} else if orderOwnerID != d.viewer.ID {
		return
	}

	alert := Alert{
		Kind:    AlertNewMessage,
		Title:   fmt.Sprintf("New message from %s", message.SenderName),
		Body:    message.Content,
		OrderID: message.OrderID,
	}
	d.deliver(ctx, alert)
}

// DispatchOrderStatus routes a status change merged into the cache. Only the
// order's owner is alerted; unknown statuses fail silently.
func (d *Dispatcher) DispatchOrderStatus(ctx context.Context, order models.DesignOrder) {
	if d.viewer.IsStaff() || order.ClientID != d.viewer.ID {
		return
	}

	body, ok := statusAlerts[order.Status]
	if !ok {
		return
	}

	alert := Alert{
		Kind:    AlertStatusChange,
		Title:   fmt.Sprintf("Order %s updated", order.DesignType),
		Body:    body,
		OrderID: order.ID,
	}
	d.deliver(ctx, alert)
}

func (d *Dispatcher) deliver(ctx context.Context, alert Alert) {
	for _, sink := range d.sinks {
		d.deliverOne(ctx, sink, alert)
	}
	observability.RealtimeAlertsDispatched().WithLabelValues(alert.Kind).Inc()
}

// deliverOne isolates one sink call, absorbing both errors and panics.
func (d *Dispatcher) deliverOne(ctx context.Context, sink Sink, alert Alert) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error().Interface("panic", recovered).Str("kind", alert.Kind).Msg("alert sink panicked")
		}
	}()

	if err := sink.Deliver(ctx, alert); err != nil {
		d.logger.Warn().Err(err).Str("kind", alert.Kind).Str("order_id", alert.OrderID).Msg("alert delivery failed")
	}
}
