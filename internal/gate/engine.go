package gate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/access-gate/internal/domain"
	"github.com/spec-kit/access-gate/internal/routes"
)

// Resolver answers session questions for a single request. Both calls may
// fail; the engine treats any failure as "no session" or "no role".
type Resolver interface {
	GetSession(ctx context.Context) (*domain.Session, error)
	GetUser(ctx context.Context) (*domain.User, error)
}

// Recorder receives decision and resolver failure counts.
type Recorder interface {
	RecordDecision(decision string)
	RecordResolverError(call string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(string)      {}
func (nopRecorder) RecordResolverError(string) {}

// Engine decides, per request, whether to allow it or where to redirect it.
type Engine struct {
	classifier    *routes.Classifier
	loginPath     string
	fallbackPath  string
	redirectParam string
	adminRole     string
	timeout       time.Duration
	logger        *zap.Logger
	recorder      Recorder
	tracer        trace.Tracer
	now           func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLoginPath sets where unauthenticated callers are sent.
func WithLoginPath(path string) Option {
	return func(e *Engine) { e.loginPath = path }
}

// WithFallbackPath sets where authenticated non-admins are sent from admin routes.
func WithFallbackPath(path string) Option {
	return func(e *Engine) { e.fallbackPath = path }
}

// WithRedirectParam names the query parameter carrying the original path.
func WithRedirectParam(name string) Option {
	return func(e *Engine) { e.redirectParam = name }
}

// WithAdminRole sets the role claim value required on admin routes.
func WithAdminRole(role string) Option {
	return func(e *Engine) { e.adminRole = role }
}

// WithResolverTimeout bounds each resolver call. Zero disables the bound.
func WithResolverTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger sets the logger used for fail-closed reports.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine builds an engine over classifier. Redirect targets are checked
// here so a bad target fails startup rather than a request.
func NewEngine(classifier *routes.Classifier, opts ...Option) (*Engine, error) {
	if classifier == nil {
		return nil, errors.New("gate: classifier is required")
	}
	e := &Engine{
		classifier:    classifier,
		loginPath:     "/auth/login",
		fallbackPath:  "/dashboard",
		redirectParam: "redirectTo",
		adminRole:     "admin",
		timeout:       5 * time.Second,
		logger:        zap.NewNop(),
		recorder:      nopRecorder{},
		tracer:        otel.Tracer("github.com/spec-kit/access-gate/internal/gate"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := validateTarget(e.loginPath); err != nil {
		return nil, fmt.Errorf("gate: login path: %w", err)
	}
	if err := validateTarget(e.fallbackPath); err != nil {
		return nil, fmt.Errorf("gate: fallback path: %w", err)
	}
	if e.redirectParam == "" {
		return nil, errors.New("gate: redirect parameter name is empty")
	}
	if e.adminRole == "" {
		return nil, errors.New("gate: admin role is empty")
	}
	return e, nil
}

// Classifier exposes the route classifier the engine was built with.
func (e *Engine) Classifier() *routes.Classifier {
	return e.classifier
}

// Decide runs Start -> Classified -> Resolved -> Decided for one request path.
// path is the request path as sent; it is decoded once and classified in
// canonical form. A malformed path is refused.
// Unprotected paths never reach the resolver.
func (e *Engine) Decide(ctx context.Context, path string, resolver Resolver) Decision {
	d := e.decide(ctx, path, resolver)
	e.recorder.RecordDecision(d.Reason)
	return d
}

func (e *Engine) decide(ctx context.Context, path string, resolver Resolver) Decision {
	path, err := CanonicalPath(path)
	if err != nil {
		return RedirectTo(e.loginPath, nil, ReasonMalformedPath)
	}

	class := e.classifier.Classify(path)
	if !class.IsProtected {
		return Allow(ReasonUnprotected)
	}

	sess := e.resolveSession(ctx, path, resolver)
	if sess == nil {
		return RedirectTo(e.loginPath, url.Values{e.redirectParam: {path}}, ReasonNoSession)
	}

	if class.IsAdmin && e.resolveRole(ctx, path, resolver) != e.adminRole {
		d := RedirectTo(e.fallbackPath, nil, ReasonNotAdmin)
		d.Session = sess
		return d
	}

	d := Allow(ReasonAuthenticated)
	d.Session = sess
	return d
}

// resolveSession returns nil for every failure mode: missing resolver,
// resolver error, timeout, panic, or an already expired session.
func (e *Engine) resolveSession(ctx context.Context, path string, resolver Resolver) *domain.Session {
	if resolver == nil {
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "gate.GetSession", trace.WithAttributes(attribute.String("http.path", path)))
	defer span.End()

	sess, err := bounded(ctx, e.timeout, resolver.GetSession)
	if err != nil {
		e.failClosed(span, "get_session", path, err)
		return nil
	}
	if sess == nil || sess.Expired(e.now()) {
		return nil
	}
	return sess
}

// resolveRole returns "" for every failure mode.
func (e *Engine) resolveRole(ctx context.Context, path string, resolver Resolver) string {
	ctx, span := e.tracer.Start(ctx, "gate.GetUser", trace.WithAttributes(attribute.String("http.path", path)))
	defer span.End()

	user, err := bounded(ctx, e.timeout, resolver.GetUser)
	if err != nil {
		e.failClosed(span, "get_user", path, err)
		return ""
	}
	return user.Role()
}

func (e *Engine) failClosed(span trace.Span, call, path string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "resolver failed")
	e.recorder.RecordResolverError(call)
	e.logger.Warn("session resolver failed; denying",
		zap.String("call", call),
		zap.String("path", path),
		zap.Error(err),
	)
}

var errResolverPanic = errors.New("resolver panicked")

// bounded runs fn under timeout. fn runs on its own goroutine so a resolver
// that ignores ctx still cannot hold the request past the deadline.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{val: zero, err: fmt.Errorf("%w: %v", errResolverPanic, r)}
			}
		}()
		val, err := fn(ctx)
		done <- result{val: val, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func validateTarget(target string) error {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return fmt.Errorf("%q is not an absolute path", target)
	}
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	if u.Scheme != "" || u.Host != "" || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%q must be a bare path", target)
	}
	return nil
}
