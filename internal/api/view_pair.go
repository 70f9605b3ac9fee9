package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/duet/internal/arbiter"
	"github.com/rs/zerolog"
)

// PairViews handles the member endpoints of a pair.
type PairViews struct {
	arbiter *arbiter.Service
	logger  zerolog.Logger
}

// NewPairViews creates a new pair views instance.
func NewPairViews(svc *arbiter.Service, logger zerolog.Logger) *PairViews {
	return &PairViews{
		arbiter: svc,
		logger:  logger.With().Str("handler", "pair").Logger(),
	}
}

// Press records the caller's press.
func (v *PairViews) Press(ctx *gin.Context) {
	snap, err := v.arbiter.Press(ctx.Request.Context(), currentIdentity(ctx))
	if err != nil {
		respondError(ctx, v.logger, err, "Failed to press")
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// Reset clears both presses.
func (v *PairViews) Reset(ctx *gin.Context) {
	snap, err := v.arbiter.Reset(ctx.Request.Context(), currentIdentity(ctx))
	if err != nil {
		respondError(ctx, v.logger, err, "Failed to reset")
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// Consume consumes the current both-ready occurrence.
func (v *PairViews) Consume(ctx *gin.Context) {
	c, err := v.arbiter.Consume(ctx.Request.Context(), currentIdentity(ctx))
	if err != nil {
		respondError(ctx, v.logger, err, "Failed to consume")
		return
	}
	ctx.JSON(http.StatusOK, c)
}

// Fetch returns the snapshot of the pair named in the path.
func (v *PairViews) Fetch(ctx *gin.Context) {
	snap, err := v.arbiter.Fetch(ctx.Request.Context(), currentIdentity(ctx), ctx.Param("id"))
	if err != nil {
		respondError(ctx, v.logger, err, "Failed to fetch pair")
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// FetchOwn returns the snapshot of the caller's pair.
func (v *PairViews) FetchOwn(ctx *gin.Context) {
	id := currentIdentity(ctx)
	snap, err := v.arbiter.Fetch(ctx.Request.Context(), id, id.PairID)
	if err != nil {
		respondError(ctx, v.logger, err, "Failed to fetch pair")
		return
	}
	ctx.JSON(http.StatusOK, snap)
}

// PushSubscriptionRequest is a browser push subscription.
type PushSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// RegisterPush stores the caller's push subscription.
func (v *PairViews) RegisterPush(ctx *gin.Context) {
	var req PushSubscriptionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request body")
		return
	}

	err := v.arbiter.RegisterPush(ctx.Request.Context(), currentIdentity(ctx), req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err != nil {
		respondError(ctx, v.logger, err, "Failed to register push subscription")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "registered"})
}

// ContactRequest carries an SMS phone number.
type ContactRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// RegisterContact stores the caller's SMS phone number.
func (v *PairViews) RegisterContact(ctx *gin.Context) {
	var req ContactRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request body")
		return
	}

	if err := v.arbiter.RegisterContact(ctx.Request.Context(), currentIdentity(ctx), req.Phone); err != nil {
		respondError(ctx, v.logger, err, "Failed to register contact")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "registered"})
}
