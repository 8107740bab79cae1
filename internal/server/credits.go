package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/voxguard/voxguard/internal/ledger/domain"
	usagedomain "github.com/voxguard/voxguard/internal/usage/domain"
)

type syncRequest struct {
	Transactions []ledgerdomain.Transaction `json:"transactions"`
}

type trackUsageRequest struct {
	Service string                  `json:"service"`
	Usage   usagedomain.UsageFields `json:"usage"`
}

func (s *Server) handleTransactionsSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, withDetails(ErrInvalidRequest, "malformed json body"))
		return
	}
	if req.Transactions == nil {
		AbortWithError(c, withDetails(ErrInvalidRequest, "transactions is required"))
		return
	}

	userID := c.GetString(contextUserIDKey)
	result, err := s.ledgerSvc.SyncTransactions(c.Request.Context(), userID, req.Transactions)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}

func (s *Server) handleUsageTrack(c *gin.Context) {
	var req trackUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, withDetails(ErrInvalidRequest, "malformed json body"))
		return
	}
	if strings.TrimSpace(req.Service) == "" {
		AbortWithError(c, withDetails(ErrInvalidRequest, "service is required"))
		return
	}

	userID := c.GetString(contextUserIDKey)
	result, err := s.usageSvc.TrackUsage(c.Request.Context(), userID, req.Service, req.Usage)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleBalance(c *gin.Context) {
	userID := c.GetString(contextUserIDKey)
	balance, err := s.ledgerSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"userId":    userID,
		"spent":     balance.Spent,
		"total":     balance.Total,
		"remaining": balance.Remaining,
	})
}
