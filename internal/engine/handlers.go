package engine

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumapay/riskengine/internal/pagination"
	"github.com/lumapay/riskengine/internal/threeds"
	"github.com/lumapay/riskengine/internal/transaction"
)

// Handlers exposes transaction analysis and the manual-review surface.
type Handlers struct {
	txns      transaction.Store
	engine    *Engine
	decisions Store
	gateway   threeds.Gateway
	logger    *slog.Logger
}

func NewHandlers(txns transaction.Store, eng *Engine, decisions Store, gateway threeds.Gateway, logger *slog.Logger) *Handlers {
	if gateway == nil {
		gateway = threeds.Nop{}
	}
	return &Handlers{txns: txns, engine: eng, decisions: decisions, gateway: gateway, logger: logger}
}

// RegisterRoutes mounts the analysis endpoints on rg and the review
// endpoints on admin.
func (h *Handlers) RegisterRoutes(rg, admin *gin.RouterGroup) {
	rg.POST("/analyze", h.analyze)
	rg.GET("/decisions/:id", h.getDecision)
	rg.GET("/transactions/:id/decision", h.latestDecision)

	admin.GET("/reviews/pending", h.pendingReviews)
	admin.POST("/decisions/:id/review", h.review)
}

func (h *Handlers) analyze(c *gin.Context) {
	var in transaction.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	txn, err := transaction.Normalize(&in, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_transaction", "message": err.Error()})
		return
	}

	if err := h.txns.Create(c.Request.Context(), txn); err != nil {
		if errors.Is(err, transaction.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_transaction", "message": "external id already analyzed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to store transaction"})
		return
	}

	d, err := h.engine.Evaluate(c.Request.Context(), txn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to record decision"})
		return
	}

	h.postProcess3DS(c, txn, d)

	c.JSON(http.StatusOK, gin.H{
		"decision":      d,
		"transactionId": txn.ID,
		"cpf":           txn.MaskedCPF(),
	})
}

// postProcess3DS rewrites a frictionless approval to a step-up requirement
// when the recommendation policy asks for it. The gateway call is
// best-effort; the rewrite happens with or without a challenge id.
func (h *Handlers) postProcess3DS(c *gin.Context, txn *transaction.Transaction, d *Decision) {
	if d.Outcome != OutcomeApproved {
		return
	}
	rec := threeds.Recommend(d.Score, txn.Amount)
	if !rec.Required {
		return
	}

	ctx := c.Request.Context()
	challengeID, err := h.gateway.Initiate(ctx, txn.ID, txn.CardBIN, txn.Amount)
	if err != nil {
		h.logger.Warn("3ds gateway unavailable, escalating without challenge",
			slog.String("decision_id", d.ID), slog.String("error", err.Error()))
		challengeID = ""
	}
	if err := h.decisions.SetRequires3DS(ctx, d.ID, rec.Reason, challengeID); err != nil {
		h.logger.Error("failed to record 3ds escalation",
			slog.String("decision_id", d.ID), slog.String("error", err.Error()))
		return
	}
	d.Outcome = OutcomeRequires3DS
	d.ThreeDSReason = rec.Reason
	d.ThreeDSChallenge = challengeID
}

func (h *Handlers) getDecision(c *gin.Context) {
	d, err := h.decisions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "decision not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load decision"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handlers) latestDecision(c *gin.Context) {
	d, err := h.decisions.LatestByTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no decision for transaction"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load decision"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handlers) pendingReviews(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "malformed pagination cursor"})
		return
	}
	ds, err := h.decisions.ListPendingReview(c.Request.Context(), after, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list pending reviews"})
		return
	}
	ds, next, hasMore := pagination.ComputePage(ds, limit, func(d *Decision) (time.Time, string) {
		return d.CreatedAt, d.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"decisions":  ds,
		"count":      len(ds),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

type reviewRequest struct {
	Verdict    string `json:"verdict" binding:"required"`
	ReviewedBy string `json:"reviewedBy" binding:"required"`
	Notes      string `json:"notes"`
}

func (h *Handlers) review(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	verdict := Outcome(req.Verdict)
	if verdict != OutcomeApproved && verdict != OutcomeRejected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_verdict", "message": "verdict must be APPROVED or REJECTED"})
		return
	}

	d, err := h.decisions.Review(c.Request.Context(), c.Param("id"), req.ReviewedBy, verdict, req.Notes, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "decision not found"})
		case errors.Is(err, ErrAlreadyReviewed):
			c.JSON(http.StatusConflict, gin.H{"error": "already_reviewed", "message": "decision was already reviewed"})
		case errors.Is(err, ErrNotReviewable):
			c.JSON(http.StatusConflict, gin.H{"error": "not_reviewable", "message": "decision is not pending review"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to record review"})
		}
		return
	}

	h.logger.Info("decision reviewed",
		slog.String("decision_id", d.ID),
		slog.String("verdict", string(verdict)),
		slog.String("reviewed_by", req.ReviewedBy))
	c.JSON(http.StatusOK, d)
}
