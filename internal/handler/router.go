package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"experimentservice/internal/auth"
	"experimentservice/internal/config"
	"experimentservice/internal/metrics"
)

// API is a group of /api/v1 routes.
type API interface {
	Register(r gin.IRouter)
}

type RouterOptions struct {
	Env         string
	Auth        config.AuthConfig
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	MetricsPath string
	Swagger     bool
}

// NewRouter builds the engine: recovery, CORS, metrics, access log and the
// identity middleware wrap every route; apis are mounted under /api/v1.
func NewRouter(opts RouterOptions, health *HealthHandler, apis ...API) *gin.Engine {
	if strings.EqualFold(opts.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(opts.Metrics.Middleware())
	engine.Use(auth.AccessLogMiddleware(opts.Logger))
	engine.Use(auth.RequireIdentityMiddleware(opts.Auth))

	if health != nil {
		health.Register(engine)
	}
	auth.RegisterDocs(engine)
	opts.Metrics.Register(engine, opts.MetricsPath)
	if opts.Swagger {
		engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := engine.Group("/api/v1")
	v1.Use(uuidParams())
	for _, api := range apis {
		api.Register(v1)
	}
	return engine
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization,Idempotency-Key,Last-Event-ID,X-User-Id,X-Project-Id,X-Project-Role")
		h.Set("Access-Control-Expose-Headers", "Idempotent-Replayed")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
