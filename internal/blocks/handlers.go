package blocks

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumapay/riskengine/internal/idgen"
	"github.com/lumapay/riskengine/internal/validation"
)

// Handlers exposes block management and the validate surface.
type Handlers struct {
	store     Store
	validator *Validator
}

func NewHandlers(store Store, validator *Validator) *Handlers {
	return &Handlers{store: store, validator: validator}
}

// RegisterRoutes mounts validate on rg and block management on admin.
func (h *Handlers) RegisterRoutes(rg, admin *gin.RouterGroup) {
	rg.GET("/validate", h.validate)

	admin.POST("/blocks", h.create)
	admin.GET("/blocks", h.list)
	admin.GET("/blocks/:id", h.get)
	admin.POST("/blocks/:id/unblock", h.unblock)
}

func (h *Handlers) validate(c *gin.Context) {
	ip := c.Query("ip")
	cpf := c.Query("cpf")
	if ip == "" && cpf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "ip or cpf is required"})
		return
	}
	if ip != "" && !validation.IsValidIPv4(ip) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_ip", "message": "malformed ip address"})
		return
	}
	c.JSON(http.StatusOK, h.validator.Validate(c.Request.Context(), ip, cpf))
}

type createBlockRequest struct {
	Type      string         `json:"type" binding:"required"`
	Value     string         `json:"value" binding:"required"`
	Reason    string         `json:"reason" binding:"required"`
	CreatedBy string         `json:"createdBy" binding:"required"`
	Portal    string         `json:"portal"`
	Evidence  map[string]any `json:"evidence"`
}

func (h *Handlers) create(c *gin.Context) {
	var req createBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	t := BlockType(req.Type)
	if !t.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type", "message": "type must be IP or CPF"})
		return
	}
	if t == BlockIP && !validation.IsValidIPv4(req.Value) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_ip", "message": "malformed ip address"})
		return
	}
	if t == BlockCPF && !validation.IsValidCPF(req.Value) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cpf", "message": "malformed cpf"})
		return
	}

	b := &SecurityBlock{
		ID:        idgen.WithPrefix("blk_"),
		Type:      t,
		Value:     req.Value,
		Reason:    req.Reason,
		CreatedBy: req.CreatedBy,
		Portal:    req.Portal,
		Evidence:  req.Evidence,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), b); err != nil {
		if errors.Is(err, ErrAlreadyBlocked) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_blocked", "message": "subject already has an active block"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create block"})
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handlers) list(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	activeOnly := c.Query("active") != "false"

	bs, err := h.store.List(c.Request.Context(), activeOnly, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list blocks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": bs, "count": len(bs)})
}

func (h *Handlers) get(c *gin.Context) {
	b, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "block not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load block"})
		return
	}
	c.JSON(http.StatusOK, b)
}

type unblockRequest struct {
	UnblockedBy string `json:"unblockedBy" binding:"required"`
}

func (h *Handlers) unblock(c *gin.Context) {
	var req unblockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	b, err := h.store.Unblock(c.Request.Context(), c.Param("id"), req.UnblockedBy, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "block not found"})
		case errors.Is(err, ErrNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "not_active", "message": "block is already inactive"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to unblock"})
		}
		return
	}
	c.JSON(http.StatusOK, b)
}
