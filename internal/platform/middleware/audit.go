package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/internal/platform/db"
)

const apiPrefix = "/api/v1/"

// AuditEntry records who touched which claim resource and how.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	TenantID   string
	ClaimID    string
	Action     string
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries beyond the structured log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request after it completes, with the
// authenticated actor and the claim it addressed. Recorder failures are
// logged and never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			ctx := c.Request().Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				TenantID:   db.TenantFromContext(ctx),
				ClaimID:    extractClaimID(path),
				Action:     auditAction(req.Method, path),
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				Path:       path,
				Method:     req.Method,
				Timestamp:  time.Now().UTC(),
				RequestID:  requestID(c),
				StatusCode: c.Response().Status,
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("tenant_id", entry.TenantID).
				Str("claim_id", entry.ClaimID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("claim_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, apiPrefix)
}

// auditAction classifies a request. EDI and report endpoints get their own
// actions; everything else follows the HTTP method.
func auditAction(method, path string) string {
	rest := strings.TrimPrefix(path, apiPrefix+"claims/")
	switch {
	case strings.HasPrefix(rest, "edi/276"):
		return "edi_inquiry"
	case strings.HasPrefix(rest, "edi/277"):
		return "edi_response"
	case strings.HasPrefix(rest, "reports/"):
		return "report"
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractClaimID returns the claim id from /api/v1/claims/<uuid>/...
func extractClaimID(path string) string {
	if !strings.HasPrefix(path, apiPrefix+"claims/") {
		return ""
	}
	seg := strings.SplitN(strings.TrimPrefix(path, apiPrefix+"claims/"), "/", 2)[0]
	if _, err := uuid.Parse(seg); err != nil {
		return ""
	}
	return seg
}
