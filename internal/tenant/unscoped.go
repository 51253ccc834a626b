package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrReasonRequired is returned when an unscoped call does not say why it needs to cross tenants.
var ErrReasonRequired = errors.New("tenant: unscoped access requires a reason")

// escape records why and from where tenant scoping was suspended.
type escape struct {
	Reason    string
	Timestamp time.Time
	Previous  *models.Organization
}

// WithoutScope runs fn with tenant scoping suspended.
//
// fn receives a derived context in which no organization is bound and IsUnscoped reports true.
// The caller's ctx is never modified, so its binding is in effect again as soon as fn returns,
// whether fn succeeds, fails or panics. Only administrative bootstrap and cross-tenant reporting
// code may call it; reason must be a stable identifier (for example "bootstrap-organization")
// because every call is written to the audit log.
func WithoutScope(ctx context.Context, reason string, fn func(ctx context.Context) error) error {
	_, err := Unscoped(ctx, reason, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Unscoped is WithoutScope for functions that return a value.
func Unscoped[T any](ctx context.Context, reason string, fn func(ctx context.Context) (T, error)) (T, error) {
	if reason == "" {
		var zero T
		return zero, ErrReasonRequired
	}

	info := escape{
		Reason:    reason,
		Timestamp: time.Now(),
	}
	if org, ok := Current(ctx); ok {
		info.Previous = &org
	}

	audit(ctx, info)

	unscopedCtx := context.WithValue(Clear(ctx), unscopedContextKey, info)
	return fn(unscopedCtx)
}

// IsUnscoped reports whether ctx was derived inside WithoutScope.
func IsUnscoped(ctx context.Context) bool {
	_, ok := ctx.Value(unscopedContextKey).(escape)
	return ok
}

// UnscopedReason returns the reason given to the enclosing WithoutScope call.
func UnscopedReason(ctx context.Context) (string, bool) {
	info, ok := ctx.Value(unscopedContextKey).(escape)
	if !ok {
		return "", false
	}
	return info.Reason, true
}

func audit(ctx context.Context, info escape) {
	evt := zerolog.Ctx(ctx).Info().
		Str("audit", "tenant-unscoped").
		Str("reason", info.Reason).
		Time("at", info.Timestamp)
	if info.Previous != nil {
		evt = evt.Str("previous_org_id", info.Previous.ID.String()).Str("previous_org_name", info.Previous.Name)
	}
	evt.Msg("Tenant scoping suspended")

	telemetry.GetMetrics().UnscopedEscapesTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", info.Reason)))
}
