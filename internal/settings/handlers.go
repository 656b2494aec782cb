package settings

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lumapay/riskengine/internal/validation"
)

// Handler provides HTTP endpoints for the configuration surface.
type Handler struct {
	store Store
}

// NewHandler creates a new settings handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up configuration routes (admin auth applied upstream).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/config", h.List)
	r.GET("/config/category/:category", h.ListByCategory)
	r.GET("/config/:key", h.Get)
	r.PUT("/config/:key", h.Put)
	r.GET("/config/:key/audit", h.Audit)
}

// List returns all settings.
func (h *Handler) List(c *gin.Context) {
	out, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": out, "count": len(out)})
}

// ListByCategory returns settings in one category.
func (h *Handler) ListByCategory(c *gin.Context) {
	out, err := h.store.ListByCategory(c.Request.Context(), c.Param("category"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": out, "count": len(out)})
}

// Get returns a single setting by key.
func (h *Handler) Get(c *gin.Context) {
	s, err := h.store.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown configuration key"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, s)
}

type putSettingRequest struct {
	Value       string `json:"value" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Category    string `json:"category"`
	Description string `json:"description"`
	ChangedBy   string `json:"changedBy" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
}

// Put creates or updates a setting, recording who changed it and why.
func (h *Handler) Put(c *gin.Context) {
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	vt := ValueType(req.Type)
	if !vt.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_type",
			"message": "type must be one of INT, FLOAT, BOOL, STRING, JSON",
		})
		return
	}

	s := &Setting{
		Key:         c.Param("key"),
		Category:    validation.SanitizeString(req.Category, 100),
		Type:        vt,
		Value:       req.Value,
		Description: validation.SanitizeString(req.Description, 500),
	}

	// Reject values that cannot be read back as their declared type.
	if err := validateTyped(s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_value", "message": err.Error()})
		return
	}

	if err := h.store.Upsert(c.Request.Context(), s,
		validation.SanitizeString(req.ChangedBy, 100),
		validation.SanitizeString(req.Reason, 500),
	); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": s.Key, "updated": true})
}

// Audit returns the change trail for a key.
func (h *Handler) Audit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.store.Audit(c.Request.Context(), c.Param("key"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries, "count": len(entries)})
}

func validateTyped(s *Setting) error {
	switch s.Type {
	case TypeInt:
		_, err := s.Int()
		return err
	case TypeFloat:
		_, err := s.Float()
		return err
	case TypeBool:
		_, err := s.Bool()
		return err
	case TypeJSON:
		var v any
		return s.JSON(&v)
	default:
		return nil
	}
}
