package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"labreserve-backend/internal/engine"
	"labreserve-backend/internal/mw"
	"labreserve-backend/internal/store"
)

// RouterConfig carries the tunables the router needs from the config
// file.
type RouterConfig struct {
	RateLimitPerSec float64
	RateLimitBurst  int
	CacheTTL        time.Duration
}

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, eng *engine.Engine, webpushOptions *webpush.Options, cfg RouterConfig) *gin.Engine {
	r := gin.Default()

	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	responseCache := mw.NewResponseCache(cfg.CacheTTL)
	caching := responseCache.Middleware()

	handler := NewHandler(s, eng, webpushOptions, responseCache)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Read side (cached, display-only)
		api.GET("/labs", caching, handler.GetLabs)
		api.GET("/labs/:lab_id/computers", caching, handler.GetLabComputers)

		// Reservation lifecycle
		api.POST("/reservations", handler.PostReservation)
		api.POST("/computers/:computer_id/release", handler.PostRelease)

		// Fault reporting and the two-phase fix flow
		api.POST("/computers/:computer_id/faults", handler.PostFault)
		api.POST("/computers/:computer_id/fix", handler.PostMarkFixed)
		api.POST("/computers/:computer_id/fix/approve", handler.PostApproveFix)
		api.POST("/computers/:computer_id/fix/reject", handler.PostRejectFix)

		// Agent liveness
		api.POST("/computers/:computer_id/heartbeat", handler.PostHeartbeat)

		// Users (role records; authentication is upstream)
		api.POST("/users", handler.PostUser)
		api.GET("/users/:user_id", handler.GetUser)

		// Push subscriptions
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
