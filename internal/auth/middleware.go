package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"experimentservice/internal/config"
)

const (
	HeaderUserID      = "X-User-Id"
	HeaderProjectID   = "X-Project-Id"
	HeaderProjectRole = "X-Project-Role"
)

const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// IngestPath authenticates with sensor tokens instead of a user identity.
const IngestPath = "/api/v1/telemetry"

// RequireIdentityMiddleware resolves the caller for every /api/ route. A bearer
// JWT wins when a secret is configured; otherwise gateway headers are used
// when trusted. With auth disabled headers are read but not required.
func RequireIdentityMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	verifier := JWT{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer}
	useJWT := strings.TrimSpace(cfg.JWTSecret) != ""

	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if !strings.HasPrefix(p, "/api/") {
			c.Next()
			return
		}
		if p == IngestPath && c.Request.Method == http.MethodPost {
			c.Next()
			return
		}

		var id Identity
		var ok bool
		if tok := BearerToken(c.GetHeader("Authorization")); useJWT && tok != "" {
			claims, err := verifier.Verify(tok)
			if err != nil {
				abort(c, http.StatusUnauthorized, "invalid token")
				return
			}
			id = Identity{UserID: claims.Subject, ProjectID: claims.ProjectID, Role: claims.Role}
			ok = true
		} else if cfg.TrustHeaders || cfg.Disabled {
			id = Identity{
				UserID:    strings.TrimSpace(c.GetHeader(HeaderUserID)),
				ProjectID: strings.TrimSpace(c.GetHeader(HeaderProjectID)),
				Role:      strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderProjectRole))),
			}
			ok = id.UserID != "" && id.ProjectID != ""
		}

		if !ok {
			if cfg.Disabled {
				c.Next()
				return
			}
			abort(c, http.StatusUnauthorized, "missing identity")
			return
		}
		if _, err := uuid.Parse(id.ProjectID); err != nil {
			abort(c, http.StatusUnauthorized, "invalid project id")
			return
		}
		if _, err := uuid.Parse(id.UserID); err != nil {
			abort(c, http.StatusUnauthorized, "invalid user id")
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequireRole admits callers whose project role is one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[strings.ToLower(r)] = struct{}{}
	}
	return func(c *gin.Context) {
		id, ok := FromGin(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "missing identity")
			return
		}
		if _, ok := allowed[id.Role]; !ok {
			abort(c, http.StatusForbidden, "role not allowed")
			return
		}
		c.Next()
	}
}

// AccessLogMiddleware logs writes at info and reads at debug.
func AccessLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		method := strings.ToUpper(c.Request.Method)
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if id, ok := FromGin(c); ok {
			fields = append(fields, zap.String("user_id", id.UserID), zap.String("project_id", id.ProjectID))
		}
		switch {
		case status >= 500:
			logger.Warn("http request", fields...)
		case method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions:
			logger.Debug("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message})
}

func BearerToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
