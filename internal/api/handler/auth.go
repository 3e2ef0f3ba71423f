package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/forensicedr/forensicedr/internal/custody"
	"github.com/forensicedr/forensicedr/internal/identity"
)

// DeviceCredential is one pre-shared API credential for an edge device or
// operator workstation.
type DeviceCredential struct {
	DeviceID  string
	APIKey    string
	ActorType string // AUTOMATED_SYSTEM, HUMAN_OPERATOR, or EDGE_DEVICE
}

// AuthHandler exchanges pre-shared device API keys for short-lived JWTs.
type AuthHandler struct {
	tokens *identity.TokenIssuer
	creds  map[string]DeviceCredential // keyed by device ID
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler over the configured credential set.
func NewAuthHandler(tokens *identity.TokenIssuer, creds []DeviceCredential, logger *zap.Logger) *AuthHandler {
	byID := make(map[string]DeviceCredential, len(creds))
	for _, cr := range creds {
		if cr.ActorType == "" {
			cr.ActorType = custody.ActorEdgeDevice
		}
		byID[cr.DeviceID] = cr
	}
	return &AuthHandler{tokens: tokens, creds: byID, logger: logger}
}

// Register mounts auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

type tokenRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
	APIKey   string `json:"api_key" binding:"required"`
}

// IssueToken handles POST /auth/token — validates a device credential and
// returns a bearer token for the upload and custody endpoints.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cred, ok := h.creds[req.DeviceID]
	if !ok || subtle.ConstantTimeCompare([]byte(cred.APIKey), []byte(req.APIKey)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tok, err := h.tokens.Issue(cred.DeviceID, cred.ActorType)
	if err != nil {
		h.logger.Error("issue device token", zap.String("device_id", cred.DeviceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      tok,
		"token_type": "Bearer",
		"actor_type": cred.ActorType,
	})
}
