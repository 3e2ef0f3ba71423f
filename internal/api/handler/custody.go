package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forensicedr/forensicedr/internal/custody"
	"github.com/forensicedr/forensicedr/internal/identity"
)

// CustodyHandler serves custody chain retrieval, verification, and manual
// operator entries.
type CustodyHandler struct {
	ledger *custody.Ledger
	tokens *identity.TokenIssuer // nil = no auth enforcement
	logger *zap.Logger
}

// NewCustodyHandler creates a CustodyHandler.
func NewCustodyHandler(ledger *custody.Ledger, tokens *identity.TokenIssuer, logger *zap.Logger) *CustodyHandler {
	return &CustodyHandler{ledger: ledger, tokens: tokens, logger: logger}
}

func (h *CustodyHandler) requireToken() gin.HandlerFunc {
	if h.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireToken(h.tokens)
}

// Register mounts custody routes on the given router group.
func (h *CustodyHandler) Register(rg *gin.RouterGroup) {
	chain := rg.Group("/custody")
	{
		chain.GET("/:event_id", h.GetChain)
		chain.POST("/:event_id/verify", h.VerifyChain)
		chain.POST("/:event_id/entries", h.requireToken(), h.AppendEntry)
	}
}

// GetChain handles GET /custody/:event_id — returns the full custody chain
// for an event together with its current verification result.
func (h *CustodyHandler) GetChain(c *gin.Context) {
	eventID := c.Param("event_id")

	entries, err := h.ledger.GetChain(c.Request.Context(), eventID)
	if err != nil {
		h.logger.Error("get custody chain", zap.String("event_id", eventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load custody chain"})
		return
	}
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no custody chain for event"})
		return
	}

	result := custody.VerifyEntries(entries)

	c.JSON(http.StatusOK, gin.H{
		"event_id":     eventID,
		"chain":        entries,
		"chain_length": len(entries),
		"verification": result,
	})
}

// VerifyChain handles POST /custody/:event_id/verify — re-walks the chain
// and records the verification itself as a VERIFICATION custody entry when
// the chain is intact.
func (h *CustodyHandler) VerifyChain(c *gin.Context) {
	eventID := c.Param("event_id")
	ctx := c.Request.Context()

	result, err := h.ledger.Verify(ctx, eventID)
	if err != nil {
		h.logger.Error("verify custody chain", zap.String("event_id", eventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	RecordChainVerification(result.Valid)

	// Verifying a tampered chain must not append to it.
	if result.Valid {
		verifier := "CLOUD_API"
		if sub := c.GetString(identity.SubjectKey); sub != "" {
			verifier = sub
		}
		if _, err := h.ledger.Append(ctx, eventID, custody.ActionVerification, verifier, "CLOUD_SERVER",
			map[string]any{"chain_length": float64(result.ChainLength), "result": "intact"}); err != nil {
			h.logger.Warn("verification entry not recorded",
				zap.String("event_id", eventID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id":     eventID,
		"verification": result,
	})
}

type appendEntryRequest struct {
	Action   string         `json:"action" binding:"required"`
	Actor    string         `json:"actor" binding:"required"`
	Location string         `json:"location"`
	Details  map[string]any `json:"details"`
}

// AppendEntry handles POST /custody/:event_id/entries — records a manual
// custody event (transfer, access, export, deletion) performed by a human
// operator.
func (h *CustodyHandler) AppendEntry(c *gin.Context) {
	eventID := c.Param("event_id")

	var req appendEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	location := req.Location
	if location == "" {
		location = "CLOUD_SERVER"
	}

	entry, err := h.ledger.Append(c.Request.Context(), eventID, custody.Action(req.Action),
		req.Actor, location, req.Details,
		custody.WithActorType(custody.ActorHumanOperator))
	if err != nil {
		if errors.Is(err, custody.ErrInvalidAction) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown custody action"})
			return
		}
		h.logger.Error("append custody entry", zap.String("event_id", eventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append custody entry"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}
