package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/educ8africa/authcore/internal/audit"
	"github.com/educ8africa/authcore/internal/rate"
	"github.com/educ8africa/authcore/session"
	"github.com/educ8africa/authcore/token"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine orchestrates login, refresh, logout and revocation. It is safe for
// concurrent use once built.
type Engine struct {
	config      Config
	codec       *token.Codec
	ledger      *session.Ledger
	credentials CredentialStore
	limits      *limiters
	audit       *audit.Dispatcher
	metrics     *Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Close drains the audit dispatcher. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Ping checks the session store.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.ledger == nil {
		return ErrEngineNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.OperationTimeout)
	defer cancel()
	return unavailable(e.ledger.Ping(ctx))
}

// PurgeExpired deletes session records past their refresh lifetime and
// drops elapsed in-memory rate buckets. It returns the number of records
// deleted.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	if e == nil || e.ledger == nil {
		return 0, ErrEngineNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.OperationTimeout)
	defer cancel()

	var purged int
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		purged, err = e.ledger.Purge(ctx)
		return err
	})
	now := e.now()
	for _, l := range e.limits.all() {
		if m, ok := l.(*rate.Memory); ok {
			m.Sweep(now)
		}
	}
	return purged, unavailable(err)
}

// ResetRateLimits empties every rate-limit budget.
func (e *Engine) ResetRateLimits(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	var errs []error
	for _, l := range e.limits.all() {
		errs = append(errs, l.Flush(ctx))
	}
	return unavailable(errors.Join(errs...))
}

// begin starts the span and deadline shared by every operation.
func (e *Engine) begin(ctx context.Context, op string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.config.OperationTimeout)
	ctx, span := e.tracer.Start(ctx, "authcore."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("authcore.tenant", tenantIDFromContext(ctx))),
	)
	return ctx, func(errp *error) {
		err := *errp
		span.SetAttributes(attribute.String("authcore.outcome", outcome(err)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome(err))
		}
		span.End()
		cancel()
		e.metrics.observe(op, start, err)
	}
}

// classified carries an engine sentinel alongside the lower-level cause so
// errors.Is matches both.
type classified struct {
	kind  error
	cause error
}

func (c *classified) Error() string {
	msg := c.cause.Error()
	if strings.HasPrefix(msg, c.kind.Error()) {
		return msg
	}
	return c.kind.Error() + ": " + msg
}

func (c *classified) Unwrap() []error {
	return []error{c.kind, c.cause}
}

func classify(kind, cause error) error {
	return &classified{kind: kind, cause: cause}
}

// translate maps token and session errors onto engine sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRateLimited):
		return err
	case errors.Is(err, session.ErrTokenReuseDetected):
		return classify(ErrTokenReuseDetected, err)
	case errors.Is(err, session.ErrSessionRevoked), errors.Is(err, session.ErrSessionNotFound):
		return classify(ErrSessionRevoked, err)
	case errors.Is(err, session.ErrDeviceMismatch):
		return classify(ErrDeviceMismatch, err)
	case errors.Is(err, session.ErrFingerprintRequired):
		return classify(ErrFingerprintRequired, err)
	case errors.Is(err, token.ErrMalformedToken):
		return classify(ErrMalformedToken, err)
	case errors.Is(err, token.ErrInvalidSignature), errors.Is(err, token.ErrExpired):
		return classify(ErrInvalidToken, err)
	}
	return unavailable(err)
}

func (e *Engine) ready() error {
	if e == nil || e.codec == nil || e.ledger == nil || e.credentials == nil {
		return ErrEngineNotReady
	}
	return nil
}

// issuePair signs an access and a refresh token for an already minted
// session ID.
func (e *Engine) issuePair(identityID, sessionID string) (*TokenPair, [32]byte, error) {
	access, accessExp, err := e.codec.Issue(identityID, sessionID, token.KindAccess)
	if err != nil {
		return nil, [32]byte{}, err
	}
	refresh, refreshExp, err := e.codec.Issue(identityID, sessionID, token.KindRefresh)
	if err != nil {
		return nil, [32]byte{}, err
	}
	return &TokenPair{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessExpiry:  accessExp,
		RefreshExpiry: refreshExp,
		SessionID:     sessionID,
		TokenType:     "Bearer",
	}, token.HashToken(refresh), nil
}
