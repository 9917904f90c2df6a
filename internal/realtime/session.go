package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/karyadesign/karya-api/internal/models"
	"github.com/karyadesign/karya-api/internal/observability"
	"github.com/karyadesign/karya-api/internal/repository"
)

const (
	defaultBootstrapTimeout = 5 * time.Second
	defaultRetryBaseDelay   = 200 * time.Millisecond
	profileLookupAttempts   = 3
)

// ErrSessionUnauthenticated is returned when the viewer profile cannot be
// resolved during bootstrap; the session degrades to "not restored" instead
// of hanging.
var ErrSessionUnauthenticated = errors.New("viewer profile could not be resolved")

// SessionDeps wires the external collaborators of one viewer session.
type SessionDeps struct {
	Orders   repository.OrderRepository
	Chat     repository.ChatRepository
	Profiles repository.ProfileRepository
	Feed     Feed
	Sinks    []Sink
	Logger   zerolog.Logger

	// TopicBase prefixes feed topics, usually the application channel base.
	TopicBase string
	// BootstrapTimeout bounds the initial fetch; zero means the default.
	BootstrapTimeout time.Duration
	// RetryBaseDelay is the first backoff step for profile lookups.
	RetryBaseDelay time.Duration
}

// Session is one authenticated viewer's live sync state: one cache, one set
// of subscriptions, one dispatcher. It replaces the module-level singletons
// of a browser client with an explicitly constructed object whose lifecycle
// is Init at session start and Dispose at session end.
type Session struct {
	viewer     Viewer
	deps       SessionDeps
	cache      *SessionCache
	manager    *Manager
	reconciler *Reconciler
	dispatcher *Dispatcher
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewSession constructs a session for the viewer id. The role is resolved
// from the profile store during Init.
func NewSession(viewerID string, deps SessionDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		viewer: Viewer{ID: viewerID},
		deps:   deps,
		cache:  NewSessionCache(),
		logger: deps.Logger.With().Str("component", "sync_session").Str("viewer_id", viewerID).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Init resolves the viewer, performs the initial full fetch, and opens the
// order subscription. The whole bootstrap is bounded by a hard timeout.
func (s *Session) Init(ctx context.Context) error {
	timeout := s.deps.BootstrapTimeout
	if timeout <= 0 {
		timeout = defaultBootstrapTimeout
	}
	bootCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	profile, err := s.resolveProfile(bootCtx)
	if err != nil {
		return err
	}
	s.viewer.Role = profile.Role

	orders, err := s.fetchOrders(bootCtx)
	if err != nil {
		return fmt.Errorf("session bootstrap fetch failed: %w", err)
	}
	s.cache.ReplaceOrders(orders)

	s.manager = NewManager(s.deps.Feed, s.logger)
	s.reconciler = NewReconciler(s.cache, s.orderScope(), s.logger)
	s.dispatcher = NewDispatcher(s.viewer, s.deps.Sinks, s.logger)

	ordersKey := "orders:" + s.scopeLabel()
	if _, err := s.manager.Subscribe(s.ctx, ordersKey, OrdersTopic(s.deps.TopicBase), s.orderEventFilter(), s.handleOrderEvent); err != nil {
		return fmt.Errorf("order subscription failed: %w", err)
	}

	observability.SyncSessionsActive().Inc()
	s.logger.Info().Str("role", s.viewer.Role).Int("orders", len(orders)).Msg("sync session initialised")
	return nil
}

// WatchOrder loads the order's message history into the cache and subscribes
// to its message feed. Watching an already-watched order replaces the
// previous subscription.
func (s *Session) WatchOrder(ctx context.Context, orderID string) error {
	if s.manager == nil {
		return errors.New("session not initialised")
	}

	if _, tracked := s.cache.Order(orderID); !tracked {
		order, err := s.deps.Orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !s.viewer.IsStaff() && order.ClientID != s.viewer.ID {
			return repository.ErrOrderNotFound
		}
		s.cache.UpsertOrder(order)
	}

	history, err := s.deps.Chat.ListByOrder(ctx, orderID, time.Time{}, 0)
	if err != nil {
		return fmt.Errorf("message history fetch failed: %w", err)
	}
	s.cache.SetMessages(orderID, history)

	key := "messages:" + orderID
	topic := MessagesTopic(s.deps.TopicBase, orderID)
	filter := func(event ChangeEvent) bool { return event.Table == TableMessages }

	if _, err := s.manager.Subscribe(s.ctx, key, topic, filter, s.messageEventHandler(orderID)); err != nil {
		return fmt.Errorf("message subscription failed: %w", err)
	}
	return nil
}

// UnwatchOrder closes the order's message subscription. Unknown orders are a
// no-op.
func (s *Session) UnwatchOrder(orderID string) {
	if s.manager != nil {
		s.manager.Unsubscribe("messages:" + orderID)
	}
}

// Dispose closes every subscription the session opened. It is idempotent.
func (s *Session) Dispose() {
	s.once.Do(func() {
		s.cancel()
		if s.manager != nil {
			s.manager.Close()
		}
		observability.SyncSessionsActive().Dec()
		s.logger.Info().Msg("sync session disposed")
	})
}

// Viewer returns the resolved viewer identity.
func (s *Session) Viewer() Viewer {
	return s.viewer
}

// Orders lists the cached orders, newest first.
func (s *Session) Orders() []models.DesignOrder {
	return s.cache.Orders()
}

// Order returns one cached order.
func (s *Session) Order(id string) (models.DesignOrder, bool) {
	return s.cache.Order(id)
}

// Messages returns the cached sequence for a watched order.
func (s *Session) Messages(orderID string) []models.ChatMessage {
	return s.cache.Messages(orderID)
}

// resolveProfile looks the viewer up with a bounded backoff loop. The retry
// state is local, so concurrent bootstraps cannot interfere.
func (s *Session) resolveProfile(ctx context.Context) (models.Profile, error) {
	baseDelay := s.deps.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt < profileLookupAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return models.Profile{}, ErrSessionUnauthenticated
			}
			delay *= 2
		}

		profile, err := s.deps.Profiles.FindByID(ctx, s.viewer.ID)
		if err == nil {
			return profile, nil
		}
		if errors.Is(err, repository.ErrProfileNotFound) {
			return models.Profile{}, ErrSessionUnauthenticated
		}
		lastErr = err
	}

	s.logger.Warn().Err(lastErr).Msg("profile lookup exhausted retries")
	return models.Profile{}, ErrSessionUnauthenticated
}

func (s *Session) fetchOrders(ctx context.Context) ([]models.DesignOrder, error) {
	if s.viewer.IsStaff() {
		return s.deps.Orders.ListAll(ctx, 0)
	}
	return s.deps.Orders.ListByClient(ctx, s.viewer.ID, 0)
}

func (s *Session) scopeLabel() string {
	if s.viewer.IsStaff() {
		return "all"
	}
	return s.viewer.ID
}

// orderScope bounds which order inserts this session tracks.
func (s *Session) orderScope() FilterFunc {
	if s.viewer.IsStaff() {
		return func(event ChangeEvent) bool { return true }
	}

	viewerID := s.viewer.ID
	return func(event ChangeEvent) bool {
		order, err := event.OrderRow()
		if err != nil {
			return false
		}
		return order.ClientID == viewerID
	}
}

func (s *Session) orderEventFilter() FilterFunc {
	scope := s.orderScope()
	return func(event ChangeEvent) bool {
		if event.Table != TableOrders {
			return false
		}
		// Updates pass through: the merge engine ignores untracked ids.
		if event.Type == EventUpdate {
			return true
		}
		return scope(event)
	}
}

func (s *Session) handleOrderEvent(event ChangeEvent) {
	outcome := s.reconciler.Apply(event)
	if outcome != OutcomeOrderReplaced {
		return
	}

	order, err := event.OrderRow()
	if err != nil {
		return
	}
	s.dispatcher.DispatchOrderStatus(s.ctx, order)
}

func (s *Session) messageEventHandler(orderID string) HandlerFunc {
	return func(event ChangeEvent) {
		outcome := s.reconciler.Apply(event)
		if outcome != OutcomeMessageAppended {
			return
		}

		message, err := event.MessageRow()
		if err != nil {
			return
		}

		ownerID := ""
		if order, tracked := s.cache.Order(orderID); tracked {
			ownerID = order.ClientID
		}
		s.dispatcher.DispatchMessage(s.ctx, message, ownerID)
	}
}
