// Package api exposes post listing, search and embedding sync over HTTP
// with gin. Every response uses the {code, message, data} envelope.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig configures middleware
type RouterConfig struct {
	GinMode            string   // debug, test, release (default)
	AllowedOrigins     []string // "*" allows all
	RateLimitPerMinute int      // 0 disables rate limiting
}

// NewRouter wires middleware and routes
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(Recovery(h.logger), RequestLogger(h.logger))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	if cfg.RateLimitPerMinute > 0 {
		v1.Use(NewRateLimiter(cfg.RateLimitPerMinute).Middleware())
	}
	{
		v1.GET("/posts", h.ListPosts)
		v1.GET("/posts/search", h.SearchPosts)
		v1.POST("/posts", h.CreatePost)
		v1.GET("/posts/:id", h.GetPost)
		v1.PATCH("/posts/:id", h.UpdatePost)
		v1.DELETE("/posts/:id", h.DeletePost)
		v1.GET("/posts/:id/similar", h.SimilarPosts)
		v1.POST("/posts/:id/embedding/sync", h.SyncEmbedding)
	}

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, CodeNotFound, "route not found")
	})
	return r
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
