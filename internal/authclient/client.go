package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/access-gate/internal/events"
)

// AuthError is the structured failure of an auth action.
type AuthError struct {
	Op      string
	Code    string
	Message string
	Status  int
}

func (e *AuthError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (%d %s)", e.Op, e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
}

// Error codes produced on the client side. Server codes are passed through.
const (
	CodeNetwork             = "NETWORK_ERROR"
	CodeBadResponse         = "BAD_RESPONSE"
	CodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	CodeNoBrowser           = "NO_BROWSER"
)

// SupportedProviders are the accepted SignInWithOAuth provider names.
var SupportedProviders = []string{"google", "apple"}

// User is the client view of an account.
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"user_metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Role returns the role claim, or "".
func (u *User) Role() string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	role, _ := u.Metadata["role"].(string)
	return role
}

// Session is the client view of a session.
type Session struct {
	AccessToken string    `json:"access_token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	Provider    string    `json:"provider"`
	User        *User     `json:"user,omitempty"`
}

// Change is one auth state transition pushed to subscribers. Session is nil
// after sign-out.
type Change struct {
	Event   events.EventType
	Session *Session
}

// URLOpener hands an authorize URL to a browser.
type URLOpener func(ctx context.Context, url string) error

// Client talks to the /auth/v1 API and emits a Change for every session
// transition it causes.
type Client struct {
	base       *url.URL
	http       *http.Client
	opener     URLOpener
	redirectTo string
	dispatcher events.Dispatcher

	mu      sync.RWMutex
	session *Session
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithURLOpener sets how SignInWithOAuth opens the provider page.
func WithURLOpener(open URLOpener) Option {
	return func(c *Client) { c.opener = open }
}

// WithRedirectTo sets the path to land on after a provider sign-in.
func WithRedirectTo(path string) Option {
	return func(c *Client) { c.redirectTo = path }
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("authclient: base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("authclient: base url %q is not absolute", baseURL)
	}
	c := &Client{
		base:       base,
		http:       &http.Client{Timeout: 15 * time.Second},
		redirectTo: "/dashboard",
		dispatcher: events.NewInMemoryDispatcher(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OnAuthStateChange registers fn for every session transition.
func (c *Client) OnAuthStateChange(fn func(Change)) events.Subscription {
	return c.dispatcher.SubscribeAll(func(_ context.Context, e events.Event) error {
		sess, _ := e.Payload.(*Session)
		fn(Change{Event: e.Type, Session: sess})
		return nil
	})
}

// GetSession returns the current session as the server sees it, or nil.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	token := c.token()
	if token == "" {
		return nil, nil
	}
	var sess *Session
	if err := c.do(ctx, "get_session", http.MethodGet, "/auth/v1/session", nil, &sess); err != nil {
		return nil, err
	}
	if sess == nil {
		c.setSession(nil)
		return nil, nil
	}
	sess.AccessToken = token
	c.setSession(sess)
	return sess, nil
}

// SignInWithPassword opens a session with email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) error {
	body := map[string]string{"grant_type": "password", "email": email, "password": password}
	return c.openSession(ctx, "sign_in", "/auth/v1/token", body, events.EventSignedIn)
}

// SignUp creates an account and opens a session for it.
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	return c.openSession(ctx, "sign_up", "/auth/v1/signup", body, events.EventSignedIn)
}

// RefreshSession rotates the current session.
func (c *Client) RefreshSession(ctx context.Context) error {
	body := map[string]string{"grant_type": "refresh_token"}
	return c.openSession(ctx, "refresh_session", "/auth/v1/token", body, events.EventTokenRefreshed)
}

// SignOut revokes the current session. The local session is dropped even
// when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.do(ctx, "sign_out", http.MethodPost, "/auth/v1/logout", nil, nil)
	c.setSession(nil)
	c.emit(ctx, events.EventSignedOut, nil)
	if err != nil {
		return err
	}
	return nil
}

// SignInWithOAuth starts a provider sign-in by opening the authorize URL in
// the browser. A URL relative to the service is resolved against the base
// URL. A nil result only means the flow was started.
func (c *Client) SignInWithOAuth(ctx context.Context, provider string) error {
	const op = "sign_in_with_oauth"
	if !supported(provider) {
		return &AuthError{Op: op, Code: CodeUnsupportedProvider, Message: fmt.Sprintf("provider %q is not supported", provider)}
	}
	if c.opener == nil {
		return &AuthError{Op: op, Code: CodeNoBrowser, Message: "no URL opener configured"}
	}

	q := url.Values{
		"provider":           {provider},
		"redirect_to":        {c.redirectTo},
		"skip_http_redirect": {"true"},
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, op, http.MethodGet, "/auth/v1/authorize?"+q.Encode(), nil, &out); err != nil {
		return err
	}
	if out.URL == "" {
		return &AuthError{Op: op, Code: CodeBadResponse, Message: "authorize response has no url"}
	}
	target, err := url.Parse(out.URL)
	if err != nil {
		return &AuthError{Op: op, Code: CodeBadResponse, Message: "authorize response has a malformed url"}
	}
	if !target.IsAbs() {
		out.URL = c.base.String() + "/" + strings.TrimLeft(out.URL, "/")
	}
	if err := c.opener(ctx, out.URL); err != nil {
		return &AuthError{Op: op, Code: CodeNoBrowser, Message: err.Error()}
	}
	return nil
}

func (c *Client) openSession(ctx context.Context, op, path string, body any, event events.EventType) error {
	var sess Session
	if err := c.do(ctx, op, http.MethodPost, path, body, &sess); err != nil {
		return err
	}
	if sess.AccessToken == "" {
		return &AuthError{Op: op, Code: CodeBadResponse, Message: "response has no access token"}
	}
	c.setSession(&sess)
	c.emit(ctx, event, &sess)
	return nil
}

func (c *Client) emit(ctx context.Context, eventType events.EventType, sess *Session) {
	var userID string
	if sess != nil && sess.User != nil {
		userID = sess.User.ID
	}
	_ = c.dispatcher.Publish(ctx, events.NewEvent(eventType, userID, "", sess))
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) setSession(sess *Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do sends one API request and decodes the "data" member into out. Every
// failure comes back as an *AuthError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &AuthError{Op: op, Code: CodeBadResponse, Message: err.Error()}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return &AuthError{Op: op, Code: CodeNetwork, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &AuthError{Op: op, Code: CodeNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return &AuthError{Op: op, Code: CodeBadResponse, Message: err.Error(), Status: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		aerr := &AuthError{Op: op, Code: http.StatusText(resp.StatusCode), Message: "request failed", Status: resp.StatusCode}
		if env.Error != nil {
			aerr.Code, aerr.Message = env.Error.Code, env.Error.Message
		}
		return aerr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &AuthError{Op: op, Code: CodeBadResponse, Message: err.Error(), Status: resp.StatusCode}
	}
	return nil
}

func supported(provider string) bool {
	for _, p := range SupportedProviders {
		if p == provider {
			return true
		}
	}
	return false
}
