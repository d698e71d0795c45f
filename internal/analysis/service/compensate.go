package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/autora/internal/analysis/domain"
	creditdomain "github.com/smallbiznis/autora/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/autora/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

const supportNote = "refund could not be posted automatically, please contact support"

// Compensator runs the refund-then-fail pair for an analysis that
// cannot complete. The comprehensive orchestrator shares it with the
// single-module one so both failure paths behave identically.
type Compensator struct {
	Log        *zap.Logger
	Credits    creditdomain.Service
	Reports    reportdomain.Service
	ObsMetrics *obsmetrics.Metrics
}

// FailWithRefund refunds the reserved credits and marks the report
// failed. The failure transition is attempted unconditionally: a refund
// error changes the note and the outcome, never skips the transition.
func (c Compensator) FailWithRefund(ctx context.Context, userID, reportID snowflake.ID, module string, cost int64, cause error) domain.Outcome {
	outcome := domain.Outcome{
		ReportID:    reportID,
		Status:      reportdomain.StatusFailed,
		CostCharged: cost,
	}

	note := fmt.Sprintf("analysis failed: %v", cause)
	_, refundErr := c.Credits.Refund(ctx, userID, reportID, cost, "analysis failed")
	if refundErr != nil {
		c.Log.Error("refund failed for failed analysis",
			zap.String("report_id", reportID.String()),
			zap.String("module", module),
			zap.Error(refundErr),
		)
		if c.ObsMetrics != nil {
			c.ObsMetrics.RecordRefundFailure(ctx, module)
		}
		note += "; " + supportNote
		outcome.Message = supportNote
	} else {
		outcome.Refunded = true
		outcome.AmountRefunded = cost
		note += fmt.Sprintf("; %d credits refunded", cost)
		outcome.Message = fmt.Sprintf("%d credits refunded", cost)
	}

	if failErr := c.Reports.Fail(ctx, userID, reportID, note); failErr != nil {
		c.Log.Error("report failure transition rejected",
			zap.String("report_id", reportID.String()),
			zap.Error(failErr),
		)
	}

	if c.ObsMetrics != nil {
		c.ObsMetrics.RecordAnalysisFailed(ctx, module, "evaluator_error")
	}
	return outcome
}
