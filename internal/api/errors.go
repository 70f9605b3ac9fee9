package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/duet/internal/arbiter"
	"github.com/goodtune/duet/internal/identity"
	"github.com/goodtune/duet/internal/storage"
	"github.com/rs/zerolog"
)

// apiError is the JSON rendering of a failed operation.
type apiError struct {
	status  int
	code    string
	message string
}

func classify(err error) apiError {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		return apiError{http.StatusUnauthorized, "unauthenticated", "Invalid or expired token"}
	case errors.Is(err, identity.ErrForbidden):
		return apiError{http.StatusForbidden, "forbidden", "Not a member of this pair"}
	case errors.Is(err, storage.ErrQuotaExceeded):
		return apiError{http.StatusForbidden, "quota_exceeded", "No actions left on this plan"}
	case errors.Is(err, storage.ErrNotFound):
		return apiError{http.StatusNotFound, "not_found", "Pair not found"}
	case errors.Is(err, storage.ErrNotReady):
		return apiError{http.StatusConflict, "not_ready", "Both members must press within the readiness window"}
	case errors.Is(err, storage.ErrAlreadyExists):
		return apiError{http.StatusConflict, "conflict", "Pair already exists"}
	case errors.Is(err, arbiter.ErrInvalidRequest):
		return apiError{http.StatusBadRequest, "bad_request", err.Error()}
	default:
		return apiError{http.StatusInternalServerError, "server_error", "Internal server error"}
	}
}

// respondError writes err as a JSON error and logs unexpected failures.
func respondError(ctx *gin.Context, logger zerolog.Logger, err error, msg string) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg(msg)
	}
	ctx.JSON(e.status, gin.H{
		"error":   e.code,
		"message": e.message,
	})
}

func badRequest(ctx *gin.Context, message string) {
	ctx.JSON(http.StatusBadRequest, gin.H{
		"error":   "bad_request",
		"message": message,
	})
}
