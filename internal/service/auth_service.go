package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/auth"
	"github.com/spec-kit/access-gate/internal/config"
	"github.com/spec-kit/access-gate/internal/domain"
	"github.com/spec-kit/access-gate/internal/events"
	"github.com/spec-kit/access-gate/internal/gate"
	"github.com/spec-kit/access-gate/internal/oauth"
	"github.com/spec-kit/access-gate/internal/repository"
	"github.com/spec-kit/access-gate/internal/session"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidState       = errors.New("oauth state is invalid or expired")
	ErrInvalidAuthCode    = errors.New("auth code is invalid or expired")
	ErrAccountConflict    = errors.New("an account with this email already exists")
	ErrProviderFailed     = errors.New("identity provider rejected the sign-in")
	ErrInvalidSession     = errors.New("session is invalid or expired")
	ErrUserNotFound       = errors.New("user not found")
)

// AppCallbackPath receives the one-time code after a provider round trip.
const AppCallbackPath = "/auth/callback"

// AuthResult is a freshly opened session.
type AuthResult struct {
	User    *domain.User
	Session *domain.Session
	Token   string
}

// OAuthStart is the first leg of a provider sign-in. Verifier must be kept by
// the browser that follows URL and presented on both callbacks.
type OAuthStart struct {
	URL      string
	Verifier string
}

type oauthState struct {
	Provider     domain.AuthProvider `json:"provider"`
	RedirectTo   string              `json:"redirect_to"`
	VerifierHash string              `json:"verifier_hash"`
}

type authCode struct {
	UserID       string              `json:"user_id"`
	Provider     domain.AuthProvider `json:"provider"`
	VerifierHash string              `json:"verifier_hash"`
}

// AuthService opens, inspects and closes sessions.
type AuthService struct {
	users           repository.UserRepository
	identities      repository.IdentityRepository
	sessions        session.Store
	states          oauth.TicketStore
	codes           oauth.TicketStore
	providers       oauth.Registry
	dispatcher      events.Dispatcher
	logger          *zap.Logger
	tokenMgr        *auth.TokenManager
	bcryptCost      int
	stateTTL        time.Duration
	codeTTL         time.Duration
	defaultRedirect string
	now             func() time.Time
}

// AuthDependencies encapsulates the stores the auth service needs.
type AuthDependencies struct {
	Users      repository.UserRepository
	Identities repository.IdentityRepository
	Sessions   session.Store
	States     oauth.TicketStore
	Codes      oauth.TicketStore
	Providers  oauth.Registry
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	providers := deps.Providers
	if providers == nil {
		providers = oauth.Registry{}
	}
	return &AuthService{
		users:           deps.Users,
		identities:      deps.Identities,
		sessions:        deps.Sessions,
		states:          deps.States,
		codes:           deps.Codes,
		providers:       providers,
		dispatcher:      deps.Dispatcher,
		logger:          logger,
		tokenMgr:        auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL()),
		bcryptCost:      cfg.Auth.BcryptCost,
		stateTTL:        cfg.OAuth.StateTTL(),
		codeTTL:         cfg.Auth.AuthCodeTTL(),
		defaultRedirect: cfg.Gate.DefaultPostAuthRedirect,
		now:             time.Now,
	}
}

// SignUp creates a password account and opens a session for it.
func (s *AuthService) SignUp(ctx context.Context, email, password string) (*AuthResult, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{Email: email, PasswordHash: hash, Metadata: map[string]any{}}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.openSession(ctx, user, domain.ProviderPassword, events.EventSignedIn)
}

// SignInWithPassword verifies the credentials and opens a session.
func (s *AuthService) SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.HasPassword() {
		return nil, ErrInvalidCredentials
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.openSession(ctx, user, domain.ProviderPassword, events.EventSignedIn)
}

// RefreshSession rotates a live session: a new one is opened and the old one revoked.
func (s *AuthService) RefreshSession(ctx context.Context, token string) (*AuthResult, error) {
	current, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrInvalidSession
	}
	user, err := s.loadUser(ctx, current.Subject)
	if err != nil {
		return nil, err
	}

	result, err := s.openSession(ctx, user, current.Provider, events.EventTokenRefreshed)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Delete(ctx, current.ID); err != nil {
		s.logger.Warn("revoke rotated session", zap.String("session_id", current.ID), zap.Error(err))
	}
	return result, nil
}

// SignOut revokes a session. Unknown sessions are ignored.
func (s *AuthService) SignOut(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.publish(ctx, events.NewEvent(events.EventSignedOut, sess.Subject, sessionID, nil))
	return nil
}

// BeginOAuth records a one-time state for provider and returns the
// provider's authorize URL with a fresh verifier. redirectTo is kept with the
// state and replayed to the app callback once the provider returns.
func (s *AuthService) BeginOAuth(ctx context.Context, provider domain.AuthProvider, redirectTo string) (*OAuthStart, error) {
	p, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}
	state, err := oauth.NewTicket()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	verifier, hash, err := oauth.NewVerifier()
	if err != nil {
		return nil, fmt.Errorf("generate verifier: %w", err)
	}
	st := oauthState{
		Provider:     provider,
		RedirectTo:   gate.SafeRedirect(redirectTo, s.defaultRedirect),
		VerifierHash: hash,
	}
	if err := s.states.Put(ctx, state, st, s.stateTTL); err != nil {
		return nil, fmt.Errorf("store state: %w", err)
	}
	return &OAuthStart{URL: p.AuthCodeURL(state), Verifier: verifier}, nil
}

// CheckProvider reports whether provider can be used to sign in.
func (s *AuthService) CheckProvider(provider domain.AuthProvider) error {
	_, err := s.providers.Get(provider)
	return err
}

// OAuthStateTTL is how long a started provider sign-in stays redeemable.
func (s *AuthService) OAuthStateTTL() time.Duration {
	return s.stateTTL
}

// CompleteOAuth handles the provider's return: it consumes the state,
// checks verifier against it, identifies the caller, finds or creates the
// account and mints a one-time auth code bound to the same verifier. The
// returned URL is the app callback carrying that code.
func (s *AuthService) CompleteOAuth(ctx context.Context, state, code, verifier string) (string, error) {
	var st oauthState
	if err := s.states.Take(ctx, state, &st); err != nil {
		if errors.Is(err, oauth.ErrTicketNotFound) {
			return "", ErrInvalidState
		}
		return "", fmt.Errorf("redeem state: %w", err)
	}
	if !oauth.VerifierMatches(verifier, st.VerifierHash) {
		return "", fmt.Errorf("%w: verifier mismatch", ErrInvalidState)
	}

	p, err := s.providers.Get(st.Provider)
	if err != nil {
		return "", err
	}
	identity, err := p.Identify(ctx, code)
	if err != nil {
		s.logger.Warn("oauth identify failed", zap.String("provider", string(st.Provider)), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	user, err := s.findOrCreateUser(ctx, identity)
	if err != nil {
		return "", err
	}

	ticket, err := oauth.NewTicket()
	if err != nil {
		return "", fmt.Errorf("generate auth code: %w", err)
	}
	ac := authCode{UserID: user.ID, Provider: identity.Provider, VerifierHash: st.VerifierHash}
	if err := s.codes.Put(ctx, ticket, ac, s.codeTTL); err != nil {
		return "", fmt.Errorf("store auth code: %w", err)
	}

	query := url.Values{"code": {ticket}, "redirectTo": {st.RedirectTo}}
	return AppCallbackPath + "?" + query.Encode(), nil
}

func (s *AuthService) findOrCreateUser(ctx context.Context, identity oauth.Identity) (*domain.User, error) {
	linked, err := s.identities.Get(ctx, identity.Provider, identity.ProviderUserID)
	if err == nil {
		return s.loadUser(ctx, linked.UserID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("%w: no email released", ErrProviderFailed)
	}

	user, err := s.users.GetByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		// Linking to an existing account needs proof the caller owns the address.
		if !identity.EmailVerified {
			return nil, ErrAccountConflict
		}
	case errors.Is(err, repository.ErrNotFound):
		user = &domain.User{Email: identity.Email, Metadata: map[string]any{}}
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, ErrAccountConflict
			}
			return nil, fmt.Errorf("create user: %w", err)
		}
	default:
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	link := &domain.Identity{
		UserID:         user.ID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderUserID,
		Email:          identity.Email,
	}
	if err := s.identities.Create(ctx, link); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("link identity: %w", err)
	}
	return user, nil
}

// ExchangeCodeForSession redeems a one-time auth code for a session. The
// code is spent even when verifier does not match.
func (s *AuthService) ExchangeCodeForSession(ctx context.Context, code, verifier string) (*AuthResult, error) {
	if code == "" {
		return nil, ErrInvalidAuthCode
	}
	var ac authCode
	if err := s.codes.Take(ctx, code, &ac); err != nil {
		if errors.Is(err, oauth.ErrTicketNotFound) {
			return nil, ErrInvalidAuthCode
		}
		return nil, fmt.Errorf("redeem auth code: %w", err)
	}
	if !oauth.VerifierMatches(verifier, ac.VerifierHash) {
		return nil, fmt.Errorf("%w: verifier mismatch", ErrInvalidAuthCode)
	}

	user, err := s.loadUser(ctx, ac.UserID)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, user, ac.Provider, events.EventSignedIn)
}

// GetSession returns the live session behind token. Unknown, expired and
// revoked tokens yield (nil, nil); only store failures are errors.
func (s *AuthService) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	claims, err := s.tokenMgr.ParseToken(token)
	if err != nil {
		return nil, nil
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Subject != claims.Subject || sess.Expired(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// GetUser returns the account behind token, or (nil, nil) when there is no
// live session.
func (s *AuthService) GetUser(ctx context.Context, token string) (*domain.User, error) {
	sess, err := s.GetSession(ctx, token)
	if err != nil || sess == nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, sess.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// SetRole writes the role claim into the user's metadata. An empty role
// removes it.
func (s *AuthService) SetRole(ctx context.Context, email, role string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	metadata := maps.Clone(user.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	if role == "" {
		delete(metadata, domain.MetadataRole)
	} else {
		metadata[domain.MetadataRole] = role
	}
	if err := s.users.UpdateMetadata(ctx, user.ID, metadata); err != nil {
		return nil, fmt.Errorf("update metadata: %w", err)
	}
	user.Metadata = metadata

	s.publish(ctx, events.NewEvent(events.EventUserUpdated, user.ID, "", map[string]any{"role": role}))
	return user, nil
}

// SessionTTL is the lifetime of newly opened sessions.
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokenMgr.TTL()
}

func (s *AuthService) openSession(ctx context.Context, user *domain.User, provider domain.AuthProvider, eventType events.EventType) (*AuthResult, error) {
	now := s.now().UTC()
	claims := map[string]any{"email": user.Email}
	if role := user.Role(); role != "" {
		claims[domain.MetadataRole] = role
	}
	sess := &domain.Session{
		ID:        uuid.NewString(),
		Subject:   user.ID,
		Claims:    claims,
		Provider:  provider,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokenMgr.TTL()),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	token, err := s.tokenMgr.GenerateToken(sess)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}

	s.publish(ctx, events.NewEvent(eventType, user.ID, sess.ID, map[string]any{
		"email":    user.Email,
		"provider": string(provider),
	}))
	return &AuthResult{User: user, Session: sess, Token: token}, nil
}

func (s *AuthService) loadUser(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("auth event handler failed", zap.String("event", string(event.Type)), zap.Error(err))
	}
}
