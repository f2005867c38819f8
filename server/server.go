package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/notify"
	"github.com/SamandarAlimov/accounts-sub001/security"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// tokenLogLength is the number of characters of a credential allowed in logs
const tokenLogLength = 8

// Server implements the authorization server flows against a storage.Store.
type Server struct {
	store    storage.Store
	signer   IDTokenSigner
	auditor  *security.Auditor
	queue    *notify.Queue
	notifier notify.Notifier
	tracer   trace.Tracer
	metrics  *instrumentation.Metrics
	now      func() time.Time

	Logger *slog.Logger
	Config *Config
}

// New creates a new OAuth server
func New(store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	applyDefaults(config)
	logSecurityWarnings(config, logger)

	key := config.IDTokenSigningKey
	if len(key) == 0 {
		key = []byte(oauth2.GenerateVerifier())
		logger.Warn("CONFIGURATION WARNING: IDTokenSigningKey not configured",
			"risk", "id_tokens are signed with a per-process key and cannot be verified after restart",
			"recommendation", "Set IDTokenSigningKey or install a signer with SetIDTokenSigner")
	}

	return &Server{
		store:  store,
		signer: NewHMACSigner(key),
		now:    time.Now,
		Logger: logger,
		Config: config,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(a *security.Auditor) {
	s.auditor = a
}

// SetIDTokenSigner replaces the default HS256 signer.
func (s *Server) SetIDTokenSigner(signer IDTokenSigner) {
	if signer != nil {
		s.signer = signer
	}
}

// SetNotifier enables asynchronous event delivery. Events are submitted to q
// and delivered by n; the request path never waits for them.
func (s *Server) SetNotifier(q *notify.Queue, n notify.Notifier) {
	s.queue = q
	s.notifier = n
}

// SetInstrumentation enables tracing and metrics for server flows.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
}

// SetClock overrides the time source. Intended for tests.
func (s *Server) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Metrics returns the metrics recorder, which may be nil.
func (s *Server) Metrics() *instrumentation.Metrics {
	return s.metrics
}

// generateToken returns 256 bits of crypto/rand output, base64url encoded.
func generateToken() string {
	return oauth2.GenerateVerifier()
}

func newID() string {
	return uuid.NewString()
}

// startSpan starts an "oauth.server.<name>" span if tracing is enabled.
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "oauth.server."+name)
}

func (s *Server) endSpan(span trace.Span, err error) {
	if err != nil {
		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) {
			instrumentation.SetSpanError(span, oauthErr.Code)
		} else {
			instrumentation.RecordError(span, err)
		}
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if s.tracer != nil {
		span.End()
	}
}

// emit hands an event to the notification queue without blocking.
func (s *Server) emit(kind string, clientID, userID, scope string, attrs map[string]string) {
	if s.queue == nil || s.notifier == nil {
		return
	}
	s.queue.Publish(s.notifier, notify.Event{
		Kind:       kind,
		ClientID:   clientID,
		UserID:     userID,
		Scope:      scope,
		OccurredAt: s.now(),
		Attributes: attrs,
	})
}

// errStoreTimeout is returned by the bounded store wrappers when the call
// does not complete within Config.StoreTimeout.
var errStoreTimeout = errors.New("store call timed out")

// bounded runs fn under Config.StoreTimeout. If fn ignores its context and
// keeps running, the caller still gets errStoreTimeout once the deadline passes.
func bounded[T any](ctx context.Context, s *Server, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Config.StoreTimeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, errStoreTimeout
		}
		return zero, ctx.Err()
	}
}

// storeFailure logs an unexpected store error and returns the opaque server_error.
func (s *Server) storeFailure(ctx context.Context, op string, err error) *OAuthError {
	security.LoggerFromContext(ctx, s.Logger).Error("Storage operation failed",
		"operation", op,
		"error", err)
	if errors.Is(err, errStoreTimeout) {
		return ErrServerError("storage timed out")
	}
	return ErrServerError("internal storage error")
}
