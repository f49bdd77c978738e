package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/celo-runner/internal/domain"
)

// Callbacks are the contract operations views may trigger. They are
// registered by the service once it is built.
type Callbacks struct {
	ClaimTokens    func(ctx context.Context, stage int64) error
	ClaimNFT       func(ctx context.Context, stage int64) error
	PurchaseItem   func(ctx context.Context, itemType string, cost int64) error
	LoadPlayerData func(ctx context.Context) error
}

// Store is the single application state container. Mutations go through
// Dispatch and are serialized.
type Store struct {
	defaultTimeout time.Duration
	logger         *slog.Logger

	mu          sync.Mutex
	state       State
	subscribers map[int]func(State)
	nextSubID   int
	callbacks   Callbacks
	dialogCh    chan bool
	noteTimer   *time.Timer
	refreshers  map[string]*time.Timer
	closed      bool
}

// New creates an empty store. defaultTimeout applies to notifications
// posted without a timeout.
func New(defaultTimeout time.Duration, logger *slog.Logger) *Store {
	return &Store{
		defaultTimeout: defaultTimeout,
		logger:         logger,
		subscribers:    make(map[int]func(State)),
		refreshers:     make(map[string]*time.Timer),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive every new state and returns a
// function that removes it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Dispatch applies a and notifies subscribers.
func (s *Store) Dispatch(a Action) State {
	next, _ := s.Apply(a)
	return next
}

// Apply is Dispatch that also reports whether a changed the state.
func (s *Store) Apply(a Action) (State, bool) {
	s.mu.Lock()
	next, subs := s.applyLocked(a)
	s.mu.Unlock()

	if subs == nil {
		return next, false
	}
	publish(subs, next)
	return next, true
}

func (s *Store) applyLocked(a Action) (State, []func(State)) {
	prev := s.state
	s.state = Reduce(s.state, a)
	if s.state.Version == prev.Version {
		return s.state, nil
	}
	if s.state.Notification != nil && (prev.Notification == nil || prev.Notification.ID != s.state.Notification.ID) {
		s.armNotificationLocked(*s.state.Notification)
	}

	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return s.state, subs
}

func publish(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}

// armNotificationLocked schedules the dismissal of the visible notification.
func (s *Store) armNotificationLocked(n domain.Notification) {
	if s.noteTimer != nil {
		s.noteTimer.Stop()
	}
	if s.closed {
		return
	}
	s.noteTimer = time.AfterFunc(n.Timeout, func() {
		s.Dispatch(DismissNotification{ID: n.ID})
	})
}

// Notify shows n in the notification slot or queues it.
func (s *Store) Notify(n domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timeout <= 0 {
		n.Timeout = s.defaultTimeout
	}
	s.logger.Debug("notification", "kind", n.Kind, "title", n.Title)
	s.Dispatch(PushNotification{Notification: n})
}

// DismissCurrent hides the visible notification.
func (s *Store) DismissCurrent() {
	s.mu.Lock()
	current := s.state.Notification
	s.mu.Unlock()
	if current != nil {
		s.Dispatch(DismissNotification{ID: current.ID})
	}
}

// Confirm opens the dialog and blocks until it is resolved or ctx is done.
func (s *Store) Confirm(ctx context.Context, title, message string) (bool, error) {
	ch := make(chan bool, 1)

	s.mu.Lock()
	if s.dialogCh != nil {
		s.mu.Unlock()
		return false, domain.ErrDialogOpen
	}
	s.dialogCh = ch
	next, subs := s.applyLocked(OpenDialog{Title: title, Message: message})
	s.mu.Unlock()
	publish(subs, next)

	select {
	case confirmed := <-ch:
		return confirmed, nil
	case <-ctx.Done():
		s.mu.Lock()
		if s.dialogCh != ch {
			// Resolved concurrently with the cancellation.
			s.mu.Unlock()
			return <-ch, nil
		}
		s.dialogCh = nil
		next, subs := s.applyLocked(CloseDialog{})
		s.mu.Unlock()
		publish(subs, next)
		return false, ctx.Err()
	}
}

// ResolveDialog answers the open dialog.
func (s *Store) ResolveDialog(confirmed bool) error {
	s.mu.Lock()
	ch := s.dialogCh
	if ch == nil {
		s.mu.Unlock()
		return domain.ErrNoDialog
	}
	s.dialogCh = nil
	ch <- confirmed
	next, subs := s.applyLocked(CloseDialog{})
	s.mu.Unlock()

	publish(subs, next)
	return nil
}

// SetCallbacks registers the contract operations.
func (s *Store) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = cb
}

// Callbacks returns the registered contract operations.
func (s *Store) Callbacks() Callbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callbacks
}

// CachedPlayer returns the stored player when it belongs to addr.
func (s *Store) CachedPlayer(addr string) (*domain.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.state.Player
	if p == nil || !strings.EqualFold(p.Address, addr) {
		return nil, false
	}
	return p, true
}

// InvalidatePlayer marks the stored player stale when it belongs to addr.
func (s *Store) InvalidatePlayer(addr string) {
	if !strings.EqualFold(s.Snapshot().Address, addr) {
		return
	}
	s.Dispatch(InvalidatePlayer{})
}

// ScheduleRefresh reloads the player after delay through the registered
// LoadPlayerData callback. A newer request for addr replaces a pending one.
func (s *Store) ScheduleRefresh(addr string, delay time.Duration) {
	key := strings.ToLower(addr)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.refreshers[key]; ok {
		t.Stop()
	}
	s.refreshers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.refreshers, key)
		load := s.callbacks.LoadPlayerData
		current := s.state.Address
		s.mu.Unlock()

		if load == nil || !strings.EqualFold(current, addr) {
			return
		}
		if err := load(context.Background()); err != nil {
			s.logger.Warn("scheduled player refresh failed", "address", addr, "error", err)
		}
	})
}

// Close stops pending timers.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.noteTimer != nil {
		s.noteTimer.Stop()
	}
	for key, t := range s.refreshers {
		t.Stop()
		delete(s.refreshers, key)
	}
}
