package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/autora/internal/analysis/domain"
	auditdomain "github.com/smallbiznis/autora/internal/audit/domain"
	"github.com/smallbiznis/autora/internal/config"
	creditdomain "github.com/smallbiznis/autora/internal/credit/domain"
	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	obsmetrics "github.com/smallbiznis/autora/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Policy     *config.AnalysisConfigHolder
	Credits    creditdomain.Service
	Reports    reportdomain.Service
	Evaluator  evaluatordomain.Gateway
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type analysisService struct {
	log        *zap.Logger
	genID      *snowflake.Node
	policy     *config.AnalysisConfigHolder
	credits    creditdomain.Service
	reports    reportdomain.Service
	evaluator  evaluatordomain.Gateway
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &analysisService{
		log:        p.Log.Named("analysis.service"),
		genID:      p.GenID,
		policy:     p.Policy,
		credits:    p.Credits,
		reports:    p.Reports,
		evaluator:  p.Evaluator,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Run executes the billed analysis pipeline for one module:
//
//	reserve credits -> create report (processing) -> evaluate
//	  -> complete on success
//	  -> refund, then fail, on evaluator error
//
// The refund attempt never suppresses the report failure: even when the
// refund cannot be posted the report still ends up failed, with a note
// telling the user where their credits went.
func (s *analysisService) Run(ctx context.Context, req domain.AnalysisRequest) (domain.Outcome, error) {
	if req.UserID == 0 {
		return domain.Outcome{}, domain.ErrInvalidUser
	}
	if !req.Module.Valid() || req.Module == reportdomain.ModuleComprehensive {
		return domain.Outcome{}, domain.ErrUnknownModule
	}

	cost, ok := s.policy.Get().CostFor(string(req.Module))
	if !ok {
		return domain.Outcome{}, domain.ErrUnknownModule
	}

	reportID := s.genID.Generate()
	if _, err := s.credits.Reserve(ctx, req.UserID, reportID, cost, "analysis: "+string(req.Module)); err != nil {
		return domain.Outcome{}, err
	}

	report, err := s.reports.Create(ctx, reportdomain.CreateReportRequest{
		UserID:      req.UserID,
		ReportID:    reportID,
		ModuleType:  req.Module,
		CostCharged: cost,
		InputRefs:   inputRefs(req.Input),
	})
	if err != nil {
		// Credits are already gone; give them back before bailing out.
		if _, refundErr := s.credits.Refund(ctx, req.UserID, reportID, cost, "report creation failed"); refundErr != nil {
			s.log.Error("refund after failed report creation",
				zap.String("report_id", reportID.String()),
				zap.Error(refundErr),
			)
			return domain.Outcome{}, fmt.Errorf("create report: %w", err)
		}
		return domain.Outcome{}, fmt.Errorf("create report: %w", err)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordAnalysisStarted(ctx, string(req.Module))
	}
	s.audit(ctx, req.UserID, "analysis.started", report.ID, map[string]any{
		"module": string(req.Module),
		"cost":   cost,
	})

	result, evalErr := s.evaluator.Invoke(ctx, req.Module, req.Input)
	if evalErr != nil {
		return s.compensate(ctx, req.UserID, report.ID, string(req.Module), cost, evalErr)
	}

	payload := result.ToMap()
	if err := s.reports.Complete(ctx, req.UserID, report.ID, payload); err != nil {
		return s.compensate(ctx, req.UserID, report.ID, string(req.Module), cost, fmt.Errorf("complete report: %w", err))
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordAnalysisCompleted(ctx, string(req.Module))
	}
	s.audit(ctx, req.UserID, "analysis.completed", report.ID, map[string]any{
		"module": string(req.Module),
		"score":  result.Score(),
	})

	return domain.Outcome{
		ReportID:    report.ID,
		Status:      reportdomain.StatusCompleted,
		CostCharged: cost,
		Result:      payload,
	}, nil
}

func (s *analysisService) Get(ctx context.Context, userID, reportID snowflake.ID) (reportdomain.Report, error) {
	return s.reports.Get(ctx, userID, reportID)
}

// compensate delegates to the shared refund-then-fail helper and writes
// the failure audit row.
func (s *analysisService) compensate(ctx context.Context, userID, reportID snowflake.ID, module string, cost int64, cause error) (domain.Outcome, error) {
	outcome := Compensator{
		Log:        s.log,
		Credits:    s.credits,
		Reports:    s.reports,
		ObsMetrics: s.obsMetrics,
	}.FailWithRefund(ctx, userID, reportID, module, cost, cause)

	s.audit(ctx, userID, "analysis.failed", reportID, map[string]any{
		"module":   module,
		"refunded": outcome.Refunded,
		"cause":    cause.Error(),
	})
	return outcome, nil
}

func (s *analysisService) audit(ctx context.Context, userID snowflake.ID, action string, reportID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := reportID.String()
	if err := s.auditSvc.AuditLog(ctx, userID, action, "report", &target, metadata); err != nil {
		s.log.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func inputRefs(input evaluatordomain.InputPayload) []string {
	refs := make([]string, 0, len(input.ImageRefs)+1)
	refs = append(refs, input.ImageRefs...)
	if input.AudioRef != "" {
		refs = append(refs, input.AudioRef)
	}
	return refs
}
