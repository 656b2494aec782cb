package rules

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumapay/riskengine/internal/idgen"
)

// Handlers exposes the rule catalog CRUD surface.
type Handlers struct {
	store Store
}

func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes mounts the rule endpoints on rg.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/rules", h.create)
	rg.GET("/rules", h.list)
	rg.GET("/rules/:id", h.get)
	rg.PUT("/rules/:id", h.update)
	rg.DELETE("/rules/:id", h.deactivate)
}

type ruleRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Kind        string          `json:"kind"`
	Params      json.RawMessage `json:"params"`
	Weight      int             `json:"weight"`
	Action      string          `json:"action"`
	Active      *bool           `json:"active"`
	Priority    int             `json:"priority"`
}

func (h *Handlers) create(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	now := time.Now().UTC()
	r := &Rule{
		ID:          idgen.WithPrefix("rule_"),
		Name:        req.Name,
		Description: req.Description,
		Kind:        Kind(req.Kind),
		Params:      req.Params,
		Weight:      req.Weight,
		Action:      Action(req.Action),
		Active:      true,
		Priority:    req.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Active != nil {
		r.Active = *req.Active
	}
	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rule", "message": err.Error()})
		return
	}
	// Decoding the params up front surfaces bad JSON shapes at write time
	// instead of silently skipping the rule during evaluation.
	if _, err := NewEvaluator(r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_params", "message": err.Error()})
		return
	}
	if err := h.store.Create(c.Request.Context(), r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create rule"})
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handlers) list(c *gin.Context) {
	rs, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list rules"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rs, "count": len(rs)})
}

func (h *Handlers) get(c *gin.Context) {
	r, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load rule"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handlers) update(c *gin.Context) {
	existing, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load rule"})
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	existing.Name = req.Name
	existing.Description = req.Description
	existing.Kind = Kind(req.Kind)
	existing.Params = req.Params
	existing.Weight = req.Weight
	existing.Action = Action(req.Action)
	existing.Priority = req.Priority
	if req.Active != nil {
		existing.Active = *req.Active
	}
	existing.UpdatedAt = time.Now().UTC()
	if err := existing.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rule", "message": err.Error()})
		return
	}
	if _, err := NewEvaluator(existing); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_params", "message": err.Error()})
		return
	}
	if err := h.store.Update(c.Request.Context(), existing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update rule"})
		return
	}
	c.JSON(http.StatusOK, existing)
}

func (h *Handlers) deactivate(c *gin.Context) {
	existing, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load rule"})
		return
	}
	existing.Active = false
	existing.UpdatedAt = time.Now().UTC()
	if err := h.store.Update(c.Request.Context(), existing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to deactivate rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated", "id": existing.ID})
}
