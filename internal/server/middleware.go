package server

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	attestservice "github.com/voxguard/voxguard/internal/attest/service"
	obscontext "github.com/voxguard/voxguard/internal/observability/context"
)

const (
	HeaderAttestKeyID    = "X-Apple-Attest-Key-Id"
	HeaderAttestAssert   = "X-Apple-Attest-Assertion"
	HeaderUserID         = "X-User-Id"
	contextUserIDKey     = "user_id"
	maxAssertionBodySize = 1 << 20
)

// PreAuthRateLimit throttles unauthenticated endpoints by source IP.
func (s *Server) PreAuthRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := requestPath(c)
		if !s.limiter.AllowPreAuth(c.Request.Context(), c.ClientIP(), path) {
			s.metrics.RecordRateLimitDenied(c.Request.Context(), "pre_auth", path)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// PostAuthRateLimit throttles per user; it must run after RequireUser.
func (s *Server) PostAuthRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := requestPath(c)
		if !s.limiter.AllowPostAuth(c.Request.Context(), c.GetString(contextUserIDKey), path) {
			s.metrics.RecordRateLimitDenied(c.Request.Context(), "post_auth", path)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// RequireUser resolves the caller identity header.
func (s *Server) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			AbortWithError(c, withDetails(ErrUnauthorized, "missing "+HeaderUserID+" header"))
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// AttestGuard verifies the per-request device assertion. The signature
// covers path, query, method and body, so the body is read here and
// restored for the handler.
func (s *Server) AttestGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID := strings.TrimSpace(c.GetHeader(HeaderAttestKeyID))
		encoded := strings.TrimSpace(c.GetHeader(HeaderAttestAssert))
		if keyID == "" || encoded == "" {
			AbortWithError(c, withDetails(ErrUnauthorized, "missing device attestation headers"))
			return
		}

		assertion, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			AbortWithError(c, withDetails(ErrForbidden, "assertion is not valid base64"))
			return
		}

		body, err := readAndRestoreBody(c)
		if err != nil {
			AbortWithError(c, ErrInternal)
			return
		}

		hash := attestservice.ClientDataHash(
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.URL.RawQuery,
			body,
		)
		if err := s.attestSvc.VerifyAssertion(c.Request.Context(), keyID, assertion, hash); err != nil {
			AbortWithError(c, err)
			return
		}

		c.Next()
	}
}

func readAndRestoreBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAssertionBodySize))
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func requestPath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
