package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

// AnalysisRequest starts one single-module analysis for a user.
type AnalysisRequest struct {
	UserID snowflake.ID
	Module reportdomain.ModuleType
	Input  evaluatordomain.InputPayload
}

// Outcome is the terminal result of one analysis run. Status is always
// completed or failed; a failed outcome reports whether the reserved
// credits made it back to the user.
type Outcome struct {
	ReportID       snowflake.ID              `json:"report_id"`
	Status         reportdomain.ReportStatus `json:"status"`
	CostCharged    int64                     `json:"cost_charged"`
	Refunded       bool                      `json:"refunded"`
	AmountRefunded int64                     `json:"amount_refunded"`
	Message        string                    `json:"message,omitempty"`
	Result         map[string]any            `json:"result,omitempty"`
}

// Service orchestrates the billing and lifecycle of single-module
// analyses: reserve credits, run the evaluator, then complete the
// report or compensate with a refund and a failed report.
type Service interface {
	Run(ctx context.Context, req AnalysisRequest) (Outcome, error)

	// Get is a pass-through to the report store, scoped to the owner.
	Get(ctx context.Context, userID, reportID snowflake.ID) (reportdomain.Report, error)
}

var (
	ErrUnknownModule = errors.New("unknown_analysis_module")
	ErrInvalidUser   = errors.New("invalid_user")
)
