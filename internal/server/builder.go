package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pdftrans-go/internal/config"
	mw "pdftrans-go/internal/middleware"
	"pdftrans-go/internal/processor"
	"pdftrans-go/internal/ratelimit"
)

// Dependencies encapsulates the runtime services required to build the HTTP
// engine.
type Dependencies struct {
	Processor *processor.Service
	Limiter   *ratelimit.Limiter
}

// pollScope keeps status-polling quota separate from submission quota in the
// shared limiter.
const (
	pollScope  = "poll"
	pollLimit  = 120
	pollWindow = time.Minute
)

// Build constructs the gin engine with the full middleware chain and all
// processing routes mounted.
func Build(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(mw.RequestID())
	engine.Use(mw.Recovery())
	engine.Use(mw.CORS())
	engine.Use(mw.RequestLogger())
	engine.Use(mw.Metrics())
	if cfg.RateLimit.Enabled {
		engine.Use(mw.GlobalGuard(cfg.RateLimit.GlobalRPS, cfg.RateLimit.GlobalBurst))
	}

	h := newHandler(deps.Processor)

	pdf := engine.Group("/v1/pdf")
	pdf.POST("/process-async", h.processAsync)

	polled := pdf.Group("")
	if cfg.RateLimit.Enabled {
		polled.Use(mw.RateLimit(deps.Limiter, pollScope, pollLimit, pollWindow))
	}
	polled.GET("/status/:id", h.taskStatus)
	polled.DELETE("/cancel/:id", h.cancelTask)
	polled.GET("/stats", h.stats)

	engine.GET("/health", h.health)
	engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.GET("/metrics", mw.MetricsHandler)

	return engine
}
