package realtime

import (
	"github.com/rs/zerolog"

	"github.com/karyadesign/karya-api/internal/observability"
)

// MergeOutcome describes what applying a change event did to the cache.
type MergeOutcome int

// Merge outcomes.
const (
	OutcomeIgnored MergeOutcome = iota
	OutcomeMessageAppended
	OutcomeDuplicateMessage
	OutcomeOrderInserted
	OutcomeOrderReplaced
	OutcomeUnknownOrder
)

// Reconciler applies validated change events to a session cache without
// creating duplicates or regressing state. Every merge is a whole-record
// operation; partial row images never reach this layer.
type Reconciler struct {
	cache  *SessionCache
	scope  FilterFunc
	logger zerolog.Logger
}

// NewReconciler constructs a reconciler over the session's cache. The scope
// filter decides whether order inserts belong to this viewer.
func NewReconciler(cache *SessionCache, scope FilterFunc, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		cache:  cache,
		scope:  scope,
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
}

// Apply merges the event into the cache and reports the outcome.
func (r *Reconciler) Apply(event ChangeEvent) MergeOutcome {
	switch event.Table {
	case TableMessages:
		return r.applyMessage(event)
	case TableOrders:
		return r.applyOrder(event)
	default:
		observability.RealtimeEventsReconciled().WithLabelValues(event.Table, "ignored").Inc()
		return OutcomeIgnored
	}
}

func (r *Reconciler) applyMessage(event ChangeEvent) MergeOutcome {
	// Messages are immutable after creation; only inserts matter.
	if event.Type != EventInsert {
		observability.RealtimeEventsReconciled().WithLabelValues(TableMessages, "ignored").Inc()
		return OutcomeIgnored
	}

	message, err := event.MessageRow()
	if err != nil {
		r.logger.Warn().Err(err).Msg("message event rejected at merge")
		observability.RealtimeEventsReconciled().WithLabelValues(TableMessages, "rejected").Inc()
		return OutcomeIgnored
	}

	if !r.cache.AppendMessage(message) {
		observability.RealtimeEventsReconciled().WithLabelValues(TableMessages, "duplicate").Inc()
		return OutcomeDuplicateMessage
	}

	observability.RealtimeEventsReconciled().WithLabelValues(TableMessages, "applied").Inc()
	return OutcomeMessageAppended
}

func (r *Reconciler) applyOrder(event ChangeEvent) MergeOutcome {
	switch event.Type {
	case EventInsert:
		order, err := event.OrderRow()
		if err != nil {
			r.logger.Warn().Err(err).Msg("order event rejected at merge")
			observability.RealtimeEventsReconciled().WithLabelValues(TableOrders, "rejected").Inc()
			return OutcomeIgnored
		}
		if r.scope != nil && !r.scope(event) {
			observability.RealtimeEventsReconciled().WithLabelValues(TableOrders, "filtered").Inc()
			return OutcomeIgnored
		}
		r.cache.UpsertOrder(order)
		observability.RealtimeEventsReconciled().WithLabelValues(TableOrders, "applied").Inc()
		return OutcomeOrderInserted

	case EventUpdate:
		order, err := event.OrderRow()
		if err != nil {
			r.logger.Warn().Err(err).Msg("order event rejected at merge")
			observability.RealtimeEventsReconciled().WithLabelValues(TableOrders, "rejected").Inc()
			return OutcomeIgnored
		}
		if !r.cache.ReplaceOrder(order) {
			observability.RealtimeEventsReconciled().WithLabelValues(TableOrders, "unknown").Inc()
			return OutcomeUnknownOrder
		}
		observability.RealtimeEventsReconciled().WithLabelValues(TableOrders, "applied").Inc()
		return OutcomeOrderReplaced

	default:
		observability.RealtimeEventsReconciled().WithLabelValues(TableOrders, "ignored").Inc()
		return OutcomeIgnored
	}
}
