package lists

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumapay/riskengine/internal/idgen"
	"github.com/lumapay/riskengine/internal/validation"
)

// Handler provides HTTP endpoints for the lockout lists.
type Handler struct {
	store Store
}

// NewHandler creates a new lists handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up list management routes (admin auth applied upstream).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/blacklist", h.ListBlacklist)
	r.POST("/blacklist", h.AddBlacklist)
	r.DELETE("/blacklist/:id", h.RemoveBlacklist)
	r.GET("/whitelist", h.ListWhitelist)
	r.POST("/whitelist", h.AddWhitelist)
	r.DELETE("/whitelist/:id", h.RemoveWhitelist)
}

type addBlacklistRequest struct {
	Type      string `json:"type" binding:"required"`
	Value     string `json:"value" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
	Permanent bool   `json:"permanent"`
	ExpiresAt string `json:"expiresAt"` // RFC3339, required unless permanent
	CreatedBy string `json:"createdBy" binding:"required"`
}

// AddBlacklist creates a blacklist entry.
func (h *Handler) AddBlacklist(c *gin.Context) {
	var req addBlacklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	entryType := EntryType(req.Type)
	if !entryType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_type",
			"message": "type must be one of CPF, IP, DEVICE, BIN, EMAIL",
		})
		return
	}

	var expiresAt *time.Time
	if !req.Permanent {
		if req.ExpiresAt == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "temporary entries require expiresAt",
			})
			return
		}
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "expiresAt must be RFC3339"})
			return
		}
		expiresAt = &t
	}

	now := time.Now()
	entry := &BlacklistEntry{
		ID:        idgen.WithPrefix("bl_"),
		Type:      entryType,
		Value:     validation.SanitizeString(req.Value, 128),
		Reason:    validation.SanitizeString(req.Reason, 500),
		Permanent: req.Permanent,
		ExpiresAt: expiresAt,
		Active:    true,
		CreatedBy: validation.SanitizeString(req.CreatedBy, 100),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.AddBlacklist(c.Request.Context(), entry); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "message": "entry already blacklisted"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// RemoveBlacklist deactivates a blacklist entry.
func (h *Handler) RemoveBlacklist(c *gin.Context) {
	if err := h.store.DeactivateBlacklist(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

// ListBlacklist returns blacklist entries, newest first.
func (h *Handler) ListBlacklist(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.store.ListBlacklist(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

type addWhitelistRequest struct {
	Type   string `json:"type" binding:"required"`
	Value  string `json:"value" binding:"required"`
	Origin string `json:"origin"`
}

// AddWhitelist creates a manual or VIP whitelist entry.
func (h *Handler) AddWhitelist(c *gin.Context) {
	var req addWhitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	entryType := EntryType(req.Type)
	if !entryType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_type",
			"message": "type must be one of CPF, IP, DEVICE, BIN, EMAIL",
		})
		return
	}

	origin := Origin(req.Origin)
	if origin == "" {
		origin = OriginManual
	}
	if origin != OriginManual && origin != OriginVIP {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_origin",
			"message": "origin must be MANUAL or VIP (AUTO entries are system-created)",
		})
		return
	}

	now := time.Now()
	entry := &WhitelistEntry{
		ID:             idgen.WithPrefix("wl_"),
		Type:           entryType,
		Value:          validation.SanitizeString(req.Value, 128),
		Origin:         origin,
		LastApprovalAt: now,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.store.AddWhitelist(c.Request.Context(), entry); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "message": "entry already whitelisted"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// RemoveWhitelist deactivates a whitelist entry.
func (h *Handler) RemoveWhitelist(c *gin.Context) {
	if err := h.store.DeactivateWhitelist(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

// ListWhitelist returns whitelist entries, newest first.
func (h *Handler) ListWhitelist(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.store.ListWhitelist(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
