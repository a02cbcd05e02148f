package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/aman-churiwal/chatguard/internal/models"
	"github.com/aman-churiwal/chatguard/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

type AuditReader interface {
	List(ctx context.Context, identifier string, limit int) ([]models.ReputationEvent, error)
}

// Admin endpoints over limiter state. Everything here sits behind operator auth.
type RateLimitHandler struct {
	admin *ratelimit.Admin
	audit AuditReader // nil when the audit trail is disabled
}

func NewRateLimitHandler(admin *ratelimit.Admin, audit AuditReader) *RateLimitHandler {
	return &RateLimitHandler{admin: admin, audit: audit}
}

type identifierRequest struct {
	Identifier string `json:"identifier" form:"identifier" binding:"required"`
}

func (h *RateLimitHandler) Stats(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *RateLimitHandler) Status(c *gin.Context) {
	id, err := ratelimit.ParseIdentifier(c.Param("identifier"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.admin.Status(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *RateLimitHandler) Reset(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		LimitType  string `json:"limit_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := ratelimit.ParseIdentifier(req.Identifier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var lt *ratelimit.LimitType
	if req.LimitType != "" {
		parsed, err := ratelimit.ParseLimitType(req.LimitType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		lt = &parsed
	}

	if err := h.admin.Reset(c.Request.Context(), id, lt, actor(c)); err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Rate limit reset",
		"identifier": id,
	})
}

func (h *RateLimitHandler) WhitelistAdd(c *gin.Context) {
	id, ok := bindIdentifier(c)
	if !ok {
		return
	}

	added, err := h.admin.WhitelistAdd(c.Request.Context(), id, actor(c))
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"identifier": id, "added": added})
}

func (h *RateLimitHandler) WhitelistRemove(c *gin.Context) {
	id, ok := bindIdentifier(c)
	if !ok {
		return
	}

	removed, err := h.admin.WhitelistRemove(c.Request.Context(), id, actor(c))
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"identifier": id, "removed": removed})
}

func (h *RateLimitHandler) BlacklistAdd(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		Reason     string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := ratelimit.ParseIdentifier(req.Identifier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added, err := h.admin.BlacklistAdd(c.Request.Context(), id, req.Reason, actor(c))
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"identifier": id, "added": added})
}

func (h *RateLimitHandler) BlacklistRemove(c *gin.Context) {
	var req struct {
		Identifier      string `json:"identifier" form:"identifier" binding:"required"`
		ClearViolations bool   `json:"clear_violations" form:"clear_violations"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := ratelimit.ParseIdentifier(req.Identifier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removed, err := h.admin.BlacklistRemove(c.Request.Context(), id, req.ClearViolations, actor(c))
	if err != nil {
		respondStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identifier":         id,
		"removed":            removed,
		"violations_cleared": req.ClearViolations,
	})
}

func (h *RateLimitHandler) Audit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Audit trail is not configured"})
		return
	}

	identifier := c.Query("identifier")
	if identifier != "" {
		id, err := ratelimit.ParseIdentifier(identifier)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		identifier = id.String()
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.audit.List(c.Request.Context(), identifier, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *RateLimitHandler) Policies(c *gin.Context) {
	policies := h.admin.Policies()

	out := make([]gin.H, 0, len(policies))
	for _, p := range policies {
		out = append(out, gin.H{
			"name":           p.Name,
			"points":         p.Points,
			"window_seconds": int(p.Window.Seconds()),
			"block_seconds":  int(p.Block.Seconds()),
		})
	}

	c.JSON(http.StatusOK, gin.H{"policies": out})
}

// Accepts the identifier from a JSON body or, for DELETE without a body, the query string
func bindIdentifier(c *gin.Context) (ratelimit.Identifier, bool) {
	var req identifierRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}

	id, err := ratelimit.ParseIdentifier(req.Identifier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}

	return id, true
}

func respondStoreError(c *gin.Context, err error) {
	switch {
	case ratelimit.IsConfigurationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ratelimit.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rate limit store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func actor(c *gin.Context) string {
	if email := c.GetString("email"); email != "" {
		return email
	}
	return c.GetString("user_id")
}
