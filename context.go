package authcore

import (
	"context"
	"net"
	"strings"
)

const defaultTenant = "0"

type ctxKey int

const (
	ctxClientIP ctxKey = iota
	ctxTenantID
	ctxUserAgent
)

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for per-IP rate limiting and audit records. A host:port value is reduced
// to the host.
func WithClientIP(ctx context.Context, ip string) context.Context {
	ip = strings.TrimSpace(ip)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return context.WithValue(ctx, ctxClientIP, ip)
}

// WithTenantID sets the tenant the caller claims. Login rejects identities
// of any other tenant, and audit records carry it. Without it the tenant is
// "0".
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxTenantID, strings.TrimSpace(tenantID))
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit records.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, ctxUserAgent, userAgent)
}

func stringFromContext(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func clientIPFromContext(ctx context.Context) string { return stringFromContext(ctx, ctxClientIP) }

func userAgentFromContext(ctx context.Context) string { return stringFromContext(ctx, ctxUserAgent) }

func tenantIDFromContext(ctx context.Context) string {
	if t := stringFromContext(ctx, ctxTenantID); t != "" {
		return t
	}
	return defaultTenant
}
