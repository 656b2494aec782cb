package activity

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the investigation surface over recorded activities.
type Handlers struct {
	store Store
}

func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts the activity endpoints on rg.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/activities", h.list)
	rg.GET("/activities/:id", h.get)
	rg.POST("/activities/:id/resolve", h.resolve)
}

func (h *Handlers) list(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	status := Status(c.Query("status"))
	if status != "" && status != StatusPending && !status.Resolvable() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "unknown activity status"})
		return
	}

	as, err := h.store.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list activities"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": as, "count": len(as)})
}

func (h *Handlers) get(c *gin.Context) {
	a, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "activity not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load activity"})
		return
	}
	c.JSON(http.StatusOK, a)
}

type resolveRequest struct {
	Status     string `json:"status" binding:"required"`
	ResolvedBy string `json:"resolvedBy" binding:"required"`
}

func (h *Handlers) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	status := Status(req.Status)
	if !status.Resolvable() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status",
			"message": "status must be INVESTIGATED, BLOCKED, FALSE_POSITIVE, or IGNORED"})
		return
	}

	a, err := h.store.Resolve(c.Request.Context(), c.Param("id"), status, req.ResolvedBy, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "activity not found"})
		case errors.Is(err, ErrAlreadyResolved):
			c.JSON(http.StatusConflict, gin.H{"error": "already_resolved", "message": "activity status is terminal"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to resolve activity"})
		}
		return
	}
	c.JSON(http.StatusOK, a)
}
