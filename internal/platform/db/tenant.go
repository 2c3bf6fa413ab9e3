package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/platform/auth"
)

type contextKey string

const (
	TenantIDKey   contextKey = "tenant_id"
	DBConnKey     contextKey = "db_conn"
	DBConnLockKey contextKey = "db_conn_lock"
)

// TenantHeader carries the tenant when the token does not.
const TenantHeader = "X-Tenant-ID"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the schema holding a tenant's claim tables.
func SchemaName(tenantID string) string {
	return "tenant_" + tenantID
}

// ValidTenantID reports whether id is safe to interpolate into a schema name.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// TenantMiddleware pins a pooled connection to the request's tenant schema
// and stores it in the request context for the lifetime of the request.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)

			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer release(conn)

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID)))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			ctx = withConn(ctx, tenantID, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

func extractTenantID(c echo.Context, defaultTenant string) string {
	// 1. JWT claim (set by auth middleware)
	if tid, ok := c.Get(auth.TenantClaimKey).(string); ok && tid != "" {
		return tid
	}

	// 2. Header
	if tid := c.Request().Header.Get(TenantHeader); tid != "" {
		return tid
	}

	return defaultTenant
}

// WithTenantConn acquires a connection scoped to tenantID for callers outside
// the HTTP stack. The returned release must be called when done.
func WithTenantConn(ctx context.Context, pool *pgxpool.Pool, tenantID string) (context.Context, func(), error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return ctx, nil, fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(tenantID))); err != nil {
		release(conn)
		return ctx, nil, fmt.Errorf("set search_path: %w", err)
	}
	return withConn(ctx, tenantID, conn), func() { release(conn) }, nil
}

// release returns conn to the pool without leaking its tenant search path.
func release(conn *pgxpool.Conn) {
	_, _ = conn.Exec(context.Background(), "RESET search_path")
	conn.Release()
}

func withConn(ctx context.Context, tenantID string, conn *pgxpool.Conn) context.Context {
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return context.WithValue(ctx, DBConnLockKey, &sync.Mutex{})
}

// LockConn serialises use of the context's pinned connection, which runs
// one statement at a time. Call the returned func when done; it is a no-op
// when ctx carries no lock.
func LockConn(ctx context.Context) func() {
	mu, ok := ctx.Value(DBConnLockKey).(*sync.Mutex)
	if !ok {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates the tenant's schema and applies every migration
// in migrations to it. A nil migrations skips the apply step.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrations fs.FS) (int, error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return 0, fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	schema := SchemaName(tenantID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrations == nil {
		return 0, nil
	}
	n, err := NewMigrator(pool, migrations).Up(ctx, schema)
	if err != nil {
		return n, fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return n, nil
}
