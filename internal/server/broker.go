package server

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/voxguard/voxguard/internal/broker"
)

type oauthTokenRequest struct {
	Code         string `json:"code"`
	RedirectURI  string `json:"redirectUri"`
	CodeVerifier string `json:"codeVerifier,omitempty"`
}

type oauthRefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleVoiceCredentials(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAssertionBodySize))
	if err != nil {
		AbortWithError(c, ErrInternal)
		return
	}

	resp, err := s.broker.VoiceCredentials(c.Request.Context(), body)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	relayResponse(c, resp)
}

func (s *Server) handleOAuthToken(c *gin.Context) {
	var req oauthTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, withDetails(ErrInvalidRequest, "malformed json body"))
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		AbortWithError(c, withDetails(ErrInvalidRequest, "code is required"))
		return
	}

	resp, err := s.broker.ExchangeToken(c.Request.Context(), req.Code, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	relayResponse(c, resp)
}

func (s *Server) handleOAuthRefresh(c *gin.Context) {
	var req oauthRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, withDetails(ErrInvalidRequest, "malformed json body"))
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		AbortWithError(c, withDetails(ErrInvalidRequest, "refreshToken is required"))
		return
	}

	resp, err := s.broker.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	relayResponse(c, resp)
}

func relayResponse(c *gin.Context, resp *broker.Response) {
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}
