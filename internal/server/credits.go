package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	creditdomain "github.com/smallbiznis/autora/internal/credit/domain"
	"github.com/smallbiznis/autora/pkg/db/pagination"
)

type purchaseCreditsRequest struct {
	Amount    int64  `json:"amount" binding:"required"`
	Reference string `json:"reference"`
}

func (s *Server) PurchaseCredits(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req purchaseCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tx, err := s.creditSvc.Purchase(c.Request.Context(), userID, req.Amount, strings.TrimSpace(req.Reference))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.creditSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": tx.ID.String(),
		"amount":         tx.Amount,
		"balance":        balance,
	})
}

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.creditSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (s *Server) ListTransactions(c *gin.Context) {
	userID, ok := s.currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.creditSvc.ListTransactions(c.Request.Context(), creditdomain.ListTransactionsRequest{
		Pagination: page,
		UserID:     userID,
		Kind:       creditdomain.TransactionKind(strings.TrimSpace(c.Query("kind"))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	transactions := make([]gin.H, 0, len(resp.Transactions))
	for _, tx := range resp.Transactions {
		view := gin.H{
			"id":          tx.ID.String(),
			"kind":        string(tx.Kind),
			"amount":      tx.Amount,
			"signed":      tx.Signed(),
			"description": tx.Description,
			"created_at":  tx.CreatedAt,
		}
		if tx.ReportID != nil {
			view["report_id"] = tx.ReportID.String()
		}
		if tx.Reference != "" {
			view["reference"] = tx.Reference
		}
		transactions = append(transactions, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"page_info":    resp.PageInfo,
	})
}
