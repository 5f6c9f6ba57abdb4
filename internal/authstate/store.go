// Package authstate keeps a live snapshot of the signed-in user for a client
// and republishes it to watchers as the session changes.
package authstate

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/authclient"
	"github.com/spec-kit/access-gate/internal/events"
)

// Provider is the auth backend the store reads from and delegates to.
// *authclient.Client satisfies it.
type Provider interface {
	GetSession(ctx context.Context) (*authclient.Session, error)
	OnAuthStateChange(fn func(authclient.Change)) events.Subscription
	SignInWithPassword(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	SignInWithOAuth(ctx context.Context, provider string) error
}

// Refresher reloads whatever server-rendered state depends on the session.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) error

func (f RefresherFunc) Refresh(ctx context.Context) error { return f(ctx) }

// State is one immutable snapshot.
type State struct {
	User      *authclient.User
	Session   *authclient.Session
	IsLoading bool
	IsAdmin   bool
}

// Option configures a Store.
type Option func(*Store)

// WithRefresher sets what runs after SIGNED_IN and SIGNED_OUT.
func WithRefresher(r Refresher) Option {
	return func(s *Store) { s.refresher = r }
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAdminRole overrides the role that makes IsAdmin true.
func WithAdminRole(role string) Option {
	return func(s *Store) { s.adminRole = role }
}

// Store holds the current State. Events always win over the initial fetch:
// once any change has been applied, a late fetch result is discarded.
type Store struct {
	provider  Provider
	refresher Refresher
	logger    *zap.Logger
	adminRole string

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	sub    events.Subscription

	mu       sync.Mutex
	state    State
	applied  uint64
	closed   bool
	nextID   uint64
	watchers map[uint64]func(State)

	closeOnce sync.Once
}

// Mount subscribes to provider changes and starts the initial session fetch.
// The store lives until Close or until ctx is done.
func Mount(ctx context.Context, provider Provider, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(ctx)
	s := &Store{
		provider:  provider,
		logger:    zap.NewNop(),
		adminRole: "admin",
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
		state:     State{IsLoading: true},
		watchers:  make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sub = provider.OnAuthStateChange(s.onChange)
	go s.initialFetch()
	return s
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready is closed once the initial fetch has finished.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Watch calls fn with every new state until the returned subscription is
// released or the store is closed.
func (s *Store) Watch(fn func(State)) events.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &watch{}
	}
	s.nextID++
	id := s.nextID
	s.watchers[id] = fn
	return &watch{release: func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}}
}

// Close releases the provider subscription and all watchers. Safe to call
// more than once.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.watchers = map[uint64]func(State){}
		s.mu.Unlock()

		s.sub.Unsubscribe()
		s.cancel()
	})
}

// SignIn signs in with email and password.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	return s.provider.SignInWithPassword(ctx, email, password)
}

// SignUp creates an account.
func (s *Store) SignUp(ctx context.Context, email, password string) error {
	return s.provider.SignUp(ctx, email, password)
}

// SignOut ends the session.
func (s *Store) SignOut(ctx context.Context) error {
	return s.provider.SignOut(ctx)
}

// SignInWithProvider starts a provider sign-in. Success only means the
// redirect was started; the session arrives later as a change event.
func (s *Store) SignInWithProvider(ctx context.Context, name string) error {
	switch name {
	case "google", "apple":
		return s.provider.SignInWithOAuth(ctx, name)
	default:
		return &authclient.AuthError{
			Op:      "sign_in_with_provider",
			Code:    authclient.CodeUnsupportedProvider,
			Message: fmt.Sprintf("provider %q is not supported", name),
		}
	}
}

func (s *Store) initialFetch() {
	defer close(s.ready)

	sess, err := s.provider.GetSession(s.ctx)
	if err != nil {
		s.logger.Warn("initial session fetch failed", zap.Error(err))
		sess = nil
	}

	s.mu.Lock()
	if s.closed || s.applied > 0 {
		s.mu.Unlock()
		return
	}
	s.state = s.stateFor(sess)
	state, watchers := s.state, s.watcherList()
	s.mu.Unlock()

	notify(watchers, state)
}

func (s *Store) onChange(change authclient.Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.applied++
	s.state = s.stateFor(change.Session)
	state, watchers := s.state, s.watcherList()
	s.mu.Unlock()

	s.logger.Debug("auth state changed", zap.String("event", string(change.Event)))
	notify(watchers, state)

	if s.refresher == nil {
		return
	}
	switch change.Event {
	case events.EventSignedIn, events.EventSignedOut:
		if err := s.refresher.Refresh(s.ctx); err != nil {
			s.logger.Warn("refresh after auth change failed", zap.String("event", string(change.Event)), zap.Error(err))
		}
	}
}

func (s *Store) stateFor(sess *authclient.Session) State {
	if sess == nil {
		return State{}
	}
	return State{
		User:    sess.User,
		Session: sess,
		IsAdmin: sess.User != nil && sess.User.Role() == s.adminRole,
	}
}

// watcherList must be called with mu held.
func (s *Store) watcherList() []func(State) {
	out := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func(State), state State) {
	for _, fn := range watchers {
		fn(state)
	}
}

type watch struct {
	once    sync.Once
	release func()
}

func (w *watch) Unsubscribe() {
	w.once.Do(func() {
		if w.release != nil {
			w.release()
		}
	})
}
