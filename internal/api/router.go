package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/lydonator/rust-plus-web-sub002/config"
	"github.com/lydonator/rust-plus-web-sub002/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg config.ServerConfig, handler *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger())

	limiters := mw.NewClientLimiters(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 10*time.Minute)
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/healthz", handler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/events", handler.StreamEvents)

	limited := api.Group("")
	limited.Use(mw.RateLimiter(limiters))
	{
		limited.GET("/servers", handler.ListServers)
		limited.GET("/servers/:server_id/info", handler.GetServerInfo)
		limited.GET("/sessions", handler.GetSessions)

		limited.GET("/subscriptions", handler.GetSubscriptions)
		limited.PUT("/subscriptions", handler.PutSubscription)
		limited.DELETE("/subscriptions", handler.DeleteSubscription)
		limited.GET("/vapid_public_key", caching, handler.GetVAPIDPublicKey)

		limited.POST("/users/:user_id/push/register", handler.RegisterPush)
		limited.POST("/push/rotate", handler.RotateDeviceIdentity)
	}

	return r
}
