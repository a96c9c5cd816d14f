package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"labreserve-backend/internal/engine"
	"labreserve-backend/internal/mw"
	"labreserve-backend/internal/store"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	engine  *engine.Engine
	webpush *webpush.Options
	cache   *mw.ResponseCache
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, eng *engine.Engine, webpushOptions *webpush.Options, cache *mw.ResponseCache) *Handler {
	return &Handler{
		store:   s,
		engine:  eng,
		webpush: webpushOptions,
		cache:   cache,
	}
}

// invalidateComputerCache drops cached lab/computer listings after a
// state-changing operation so clients never see a stale status for
// longer than one request.
func (h *Handler) invalidateComputerCache() {
	if h.cache != nil {
		h.cache.Invalidate("/api/labs")
	}
}

// statusForKind maps engine error kinds onto HTTP status codes.
func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindOutsideBusinessHours,
		engine.KindInvalidDuration,
		engine.KindInvalidStartTime:
		return http.StatusBadRequest
	case engine.KindResourceUnavailable,
		engine.KindSlotConflict,
		engine.KindHolderLimitExceeded:
		return http.StatusConflict
	case engine.KindNotAuthorized:
		return http.StatusForbidden
	case engine.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// abortWithEngineError renders an engine failure. The user sees the
// human-readable message plus the machine-readable kind; internal
// causes are logged by the engine and never leak into the response.
func abortWithEngineError(c *gin.Context, err error) {
	var admErr *engine.Error
	if errors.As(err, &admErr) {
		c.AbortWithStatusJSON(statusForKind(admErr.Kind), gin.H{
			"error": admErr.Message,
			"kind":  string(admErr.Kind),
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
