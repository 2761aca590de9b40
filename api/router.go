// Package api wires the HTTP routes of the dispatch service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apiaudit "github.com/kilianp07/villadispatch/api/audit"
	"github.com/kilianp07/villadispatch/api/middleware"
	"github.com/kilianp07/villadispatch/api/offers"
	"github.com/kilianp07/villadispatch/config"
	coreaudit "github.com/kilianp07/villadispatch/core/audit"
	"github.com/kilianp07/villadispatch/core/dispatch"
	"github.com/kilianp07/villadispatch/core/logger"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Manager *dispatch.Manager
	Sweeper offers.Trigger
	Audit   coreaudit.Store
	Limiter *middleware.RateLimiter
	Logger  logger.Logger
}

// NewRouter builds the gin engine serving /api and /healthz.
func NewRouter(cfg config.HTTPConfig, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(d.Logger))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api", middleware.Auth(cfg.JWTSecret))
	if d.Limiter != nil {
		api.Use(d.Limiter.Middleware())
	}
	offers.NewHandler(d.Manager, d.Sweeper).Register(api)
	if d.Audit != nil {
		apiaudit.Register(api, d.Audit)
	}
	return r
}

func requestLog(log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.NopLogger{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugw("http request", map[string]any{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"staff_id": middleware.StaffID(c),
		})
		for _, e := range c.Errors {
			log.Errorf("http %s %s: %v", c.Request.Method, c.FullPath(), e.Err)
		}
	}
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
