package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/autora/pkg/db/pagination"
)

type ListTransactionsRequest struct {
	pagination.Pagination
	UserID snowflake.ID
	Kind   TransactionKind
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []CreditTransaction `json:"transactions"`
}

// Service is the credit ledger. Reserve and Refund are the two halves
// of the billing compensation pair used by analysis orchestration.
type Service interface {
	// EnsureAccount creates a zero-balance account if none exists.
	EnsureAccount(ctx context.Context, userID snowflake.ID) (CreditAccount, error)

	// Purchase tops up the balance and records a purchase transaction.
	Purchase(ctx context.Context, userID snowflake.ID, amount int64, reference string) (CreditTransaction, error)

	// Reserve atomically checks balance >= amount and decrements it,
	// recording a usage transaction tied to reportID. Returns
	// ErrInsufficientCredits without side effects when the balance is
	// too low.
	Reserve(ctx context.Context, userID, reportID snowflake.ID, amount int64, description string) (CreditTransaction, error)

	// Refund credits amount back for a failed report. Idempotent per
	// reportID: a second call returns the existing refund transaction
	// without moving the balance again.
	Refund(ctx context.Context, userID, reportID snowflake.ID, amount int64, reason string) (CreditTransaction, error)

	Balance(ctx context.Context, userID snowflake.ID) (int64, error)

	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidReport       = errors.New("invalid_report")
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
