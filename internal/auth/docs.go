package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Experiment Service

Tracks experiments, runs, capture sessions, sensors and their telemetry.

## Auth

/api/* routes need a caller identity: either a bearer JWT (HS256, claims sub,
project_id, role) or the gateway headers X-User-Id, X-Project-Id and
X-Project-Role. POST /api/v1/telemetry authenticates with the sensor token.
Webhook management requires role owner or editor.

Mutating routes accept Idempotency-Key. A replayed response carries
Idempotent-Replayed: true.

## Routes

- GET /healthz, GET /readyz, GET /metrics, GET /swagger/index.html
- POST/GET /api/v1/experiments, GET/PATCH /api/v1/experiments/{id}
- POST/GET /api/v1/runs, GET/PATCH /api/v1/runs/{id}, GET /api/v1/runs/{id}/events
- POST /api/v1/runs/batch-status, POST /api/v1/runs/bulk-tags
- POST/GET /api/v1/runs/{id}/capture-sessions
- GET/PATCH/DELETE /api/v1/runs/{id}/capture-sessions/{capture_id}
- POST /api/v1/runs/{id}/capture-sessions/{capture_id}/stop
- POST /api/v1/runs/{id}/capture-sessions/{capture_id}/backfill/start|complete
- POST/GET /api/v1/sensors, GET/PATCH/DELETE /api/v1/sensors/{id}
- POST /api/v1/sensors/{id}/rotate-token, GET /api/v1/sensors/{id}/projects
- POST/DELETE /api/v1/sensors/{id}/projects/{project_id}
- POST/GET /api/v1/sensors/{id}/conversion-profiles, POST .../{profile_id}/publish|deprecate
- POST /api/v1/telemetry, GET /api/v1/telemetry/query, GET /api/v1/telemetry/rollups
- GET /api/v1/telemetry/stream (SSE), GET /api/v1/telemetry/ws (WebSocket)
- GET /api/v1/sensors/{id}/archives
- GET /api/v1/{experiments|runs|sensors}/{id}/events, GET /api/v1/runs/{id}/capture-sessions/{capture_id}/events
- POST/GET /api/v1/webhooks, GET/DELETE /api/v1/webhooks/{id}
- GET /api/v1/webhooks/deliveries, POST /api/v1/webhooks/deliveries/{id}/retry
`)
	})
}
