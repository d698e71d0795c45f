package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/autora/pkg/db/pagination"
)

type CreateReportRequest struct {
	UserID      snowflake.ID
	ReportID    snowflake.ID // pre-allocated so the credit reservation can reference it
	ModuleType  ModuleType
	CostCharged int64
	InputRefs   []string
}

type ListReportsRequest struct {
	pagination.Pagination
	UserID     snowflake.ID
	ModuleType ModuleType
	Status     ReportStatus
}

type ListReportsResponse struct {
	pagination.PageInfo
	Reports []Report `json:"reports"`
}

// Service owns report rows and enforces the lifecycle state machine.
// Every operation is scoped to the owning user; reports of other users
// surface as ErrNotFound so existence is never leaked.
type Service interface {
	// Create inserts a report directly in processing state. The caller
	// has already reserved credits for ReportID.
	Create(ctx context.Context, req CreateReportRequest) (Report, error)

	// Complete stores a validated, non-empty payload and transitions
	// processing -> completed.
	Complete(ctx context.Context, userID, reportID snowflake.ID, payload map[string]any) error

	// Fail transitions processing -> failed with a human-readable note.
	// Used from error-recovery paths; callers rely on it never being
	// silently skipped.
	Fail(ctx context.Context, userID, reportID snowflake.ID, note string) error

	Get(ctx context.Context, userID, reportID snowflake.ID) (Report, error)

	List(ctx context.Context, req ListReportsRequest) (ListReportsResponse, error)

	// MarkPDFExported stamps the export marker on a completed report.
	MarkPDFExported(ctx context.Context, userID, reportID snowflake.ID) error
}

var (
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidModule     = errors.New("invalid_module")
	ErrInvalidCost       = errors.New("invalid_cost")
	ErrNotFound          = errors.New("report_not_found")
	ErrEmptyPayload      = errors.New("empty_payload")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrNotCompleted      = errors.New("report_not_completed")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
)
