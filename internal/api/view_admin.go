package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/duet/internal/arbiter"
	"github.com/goodtune/duet/internal/identity"
	"github.com/goodtune/duet/internal/storage"
	"github.com/rs/zerolog"
)

// AdminViews handles the pairing and billing collaborator endpoints.
type AdminViews struct {
	arbiter  *arbiter.Service
	resolver *identity.Resolver
	logger   zerolog.Logger
}

// NewAdminViews creates a new admin views instance.
func NewAdminViews(svc *arbiter.Service, resolver *identity.Resolver, logger zerolog.Logger) *AdminViews {
	return &AdminViews{
		arbiter:  svc,
		resolver: resolver,
		logger:   logger.With().Str("handler", "admin").Logger(),
	}
}

// CreatePair creates a pair on the trial plan.
func (v *AdminViews) CreatePair(ctx *gin.Context) {
	pair, err := v.arbiter.CreatePair(ctx.Request.Context())
	if err != nil {
		respondError(ctx, v.logger, err, "Failed to create pair")
		return
	}
	ctx.JSON(http.StatusCreated, pair)
}

// GetPair returns the full pair record.
func (v *AdminViews) GetPair(ctx *gin.Context) {
	pair, err := v.arbiter.GetPair(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, v.logger, err, "Failed to get pair")
		return
	}
	ctx.JSON(http.StatusOK, pair)
}

// PlanRequest overwrites a pair's plan.
type PlanRequest struct {
	PlanTier         storage.PlanTier `json:"plan_tier" binding:"required"`
	ActionsRemaining *int             `json:"actions_remaining"`
}

// SetPlan overwrites plan tier and remaining actions.
func (v *AdminViews) SetPlan(ctx *gin.Context) {
	var req PlanRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request body")
		return
	}

	actions := storage.UnlimitedActions
	if req.PlanTier != storage.PlanUnlimited {
		if req.ActionsRemaining == nil {
			badRequest(ctx, "actions_remaining is required for this plan")
			return
		}
		actions = *req.ActionsRemaining
	}

	pair, err := v.arbiter.SetPlan(ctx.Request.Context(), ctx.Param("id"), req.PlanTier, actions)
	if err != nil {
		respondError(ctx, v.logger, err, "Failed to set plan")
		return
	}
	ctx.JSON(http.StatusOK, pair)
}

// TokenResponse is one issued member session token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueTokens issues session tokens for both members of a pair.
func (v *AdminViews) IssueTokens(ctx *gin.Context) {
	pairID := ctx.Param("id")
	if _, err := v.arbiter.GetPair(ctx.Request.Context(), pairID); err != nil {
		respondError(ctx, v.logger, err, "Failed to get pair")
		return
	}

	tokens := make(map[storage.Role]TokenResponse, len(storage.Roles))
	for _, role := range storage.Roles {
		token, expiresAt, err := v.resolver.IssueToken(pairID, role)
		if err != nil {
			respondError(ctx, v.logger, err, "Failed to issue token")
			return
		}
		tokens[role] = TokenResponse{Token: token, ExpiresAt: expiresAt}
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"pair_id": pairID,
		"tokens":  tokens,
	})
}
