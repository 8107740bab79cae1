package server

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type attestVerifyRequest struct {
	KeyID       string `json:"keyId"`
	Attestation string `json:"attestation"`
	Challenge   string `json:"challenge"`
}

func (s *Server) handleAttestChallenge(c *gin.Context) {
	challenge, err := s.attestSvc.IssueChallenge(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", challenge)
}

func (s *Server) handleAttestVerify(c *gin.Context) {
	var req attestVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, withDetails(ErrInvalidRequest, "malformed json body"))
		return
	}

	req.KeyID = strings.TrimSpace(req.KeyID)
	if req.KeyID == "" || req.Attestation == "" || req.Challenge == "" {
		AbortWithError(c, withDetails(ErrInvalidRequest, "keyId, attestation and challenge are required"))
		return
	}

	attestation, err := base64.StdEncoding.DecodeString(req.Attestation)
	if err != nil {
		AbortWithError(c, withDetails(ErrInvalidRequest, "attestation is not valid base64"))
		return
	}
	challenge, err := base64.StdEncoding.DecodeString(req.Challenge)
	if err != nil {
		AbortWithError(c, withDetails(ErrInvalidRequest, "challenge is not valid base64"))
		return
	}

	if err := s.attestSvc.RegisterKey(c.Request.Context(), req.KeyID, attestation, challenge); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
