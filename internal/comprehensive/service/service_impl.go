package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	analysisdomain "github.com/smallbiznis/autora/internal/analysis/domain"
	analysisservice "github.com/smallbiznis/autora/internal/analysis/service"
	auditdomain "github.com/smallbiznis/autora/internal/audit/domain"
	"github.com/smallbiznis/autora/internal/comprehensive/domain"
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

type comprehensiveService struct {
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
	return &comprehensiveService{
		log:        p.Log.Named("comprehensive.service"),
		genID:      p.GenID,
		policy:     p.Policy,
		credits:    p.Credits,
		reports:    p.Reports,
		evaluator:  p.Evaluator,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Start bills the flat comprehensive price once, creates a single
// report and fans the present modules out to the evaluator in parallel.
// One successful module is enough to complete the report; only a total
// wipeout refunds the reservation, as a unit.
func (s *comprehensiveService) Start(ctx context.Context, req domain.Request) (analysisdomain.Outcome, error) {
	if req.UserID == 0 {
		return analysisdomain.Outcome{}, domain.ErrInvalidUser
	}
	modules := presentModules(req.Input)
	if len(modules) == 0 {
		return analysisdomain.Outcome{}, domain.ErrNoInputs
	}

	cfg := s.policy.Get()
	cost, ok := cfg.CostFor(string(reportdomain.ModuleComprehensive))
	if !ok {
		return analysisdomain.Outcome{}, analysisdomain.ErrUnknownModule
	}

	reportID := s.genID.Generate()
	if _, err := s.credits.Reserve(ctx, req.UserID, reportID, cost, "analysis: comprehensive"); err != nil {
		return analysisdomain.Outcome{}, err
	}

	report, err := s.reports.Create(ctx, reportdomain.CreateReportRequest{
		UserID:      req.UserID,
		ReportID:    reportID,
		ModuleType:  reportdomain.ModuleComprehensive,
		CostCharged: cost,
		InputRefs:   inputRefs(req.Input),
	})
	if err != nil {
		if _, refundErr := s.credits.Refund(ctx, req.UserID, reportID, cost, "report creation failed"); refundErr != nil {
			s.log.Error("refund after failed report creation",
				zap.String("report_id", reportID.String()),
				zap.Error(refundErr),
			)
		}
		return analysisdomain.Outcome{}, fmt.Errorf("create report: %w", err)
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordAnalysisStarted(ctx, string(reportdomain.ModuleComprehensive))
	}
	s.audit(ctx, req.UserID, "analysis.started", report.ID, map[string]any{
		"module":  "comprehensive",
		"cost":    cost,
		"fan_out": len(modules),
	})

	results, failures := s.fanOut(ctx, modules, req.Input)

	if len(results) == 0 {
		outcome := s.compensator().FailWithRefund(ctx, req.UserID, report.ID, string(reportdomain.ModuleComprehensive), cost, fmt.Errorf("all %d modules failed", len(modules)))
		s.audit(ctx, req.UserID, "analysis.failed", report.ID, map[string]any{
			"module":   "comprehensive",
			"refunded": outcome.Refunded,
		})
		return outcome, nil
	}

	missing := missingModules(results)
	verdict := domain.Aggregate(cfg, results, missing)
	payload := buildPayload(verdict, results, failures)

	if err := s.reports.Complete(ctx, req.UserID, report.ID, payload); err != nil {
		outcome := s.compensator().FailWithRefund(ctx, req.UserID, report.ID, string(reportdomain.ModuleComprehensive), cost, fmt.Errorf("complete report: %w", err))
		return outcome, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordAnalysisCompleted(ctx, string(reportdomain.ModuleComprehensive))
	}
	s.audit(ctx, req.UserID, "analysis.completed", report.ID, map[string]any{
		"module":          "comprehensive",
		"overall_score":   verdict.OverallScore,
		"missing_modules": len(missing),
	})

	return analysisdomain.Outcome{
		ReportID:    report.ID,
		Status:      reportdomain.StatusCompleted,
		CostCharged: cost,
		Result:      payload,
	}, nil
}

// fanOut invokes the evaluator for every module concurrently. Modules
// are data-independent, so failures stay per-module and never cancel
// the siblings.
func (s *comprehensiveService) fanOut(ctx context.Context, modules []reportdomain.ModuleType, input evaluatordomain.InputPayload) (map[reportdomain.ModuleType]evaluatordomain.ModuleResult, map[reportdomain.ModuleType]error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		results  = make(map[reportdomain.ModuleType]evaluatordomain.ModuleResult, len(modules))
		failures = make(map[reportdomain.ModuleType]error)
	)

	for _, module := range modules {
		wg.Add(1)
		go func(module reportdomain.ModuleType) {
			defer wg.Done()

			result, err := s.evaluator.Invoke(ctx, module, input)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Warn("module evaluation failed in comprehensive run",
					zap.String("module", string(module)),
					zap.Error(err),
				)
				failures[module] = err
				return
			}
			results[module] = result
		}(module)
	}
	wg.Wait()

	return results, failures
}

func (s *comprehensiveService) compensator() analysisservice.Compensator {
	return analysisservice.Compensator{
		Log:        s.log,
		Credits:    s.credits,
		Reports:    s.reports,
		ObsMetrics: s.obsMetrics,
	}
}

func (s *comprehensiveService) audit(ctx context.Context, userID snowflake.ID, action string, reportID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := reportID.String()
	if err := s.auditSvc.AuditLog(ctx, userID, action, "report", &target, metadata); err != nil {
		s.log.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

// presentModules derives the fan-out set from the inputs: image-based
// modules need at least one image, the engine-sound module needs audio.
func presentModules(input evaluatordomain.InputPayload) []reportdomain.ModuleType {
	modules := make([]reportdomain.ModuleType, 0, len(domain.EvaluableModules))
	for _, module := range domain.EvaluableModules {
		switch module {
		case reportdomain.ModuleAudio:
			if input.AudioRef != "" {
				modules = append(modules, module)
			}
		default:
			if len(input.ImageRefs) > 0 {
				modules = append(modules, module)
			}
		}
	}
	return modules
}

// missingModules lists every evaluable module absent from the results,
// whether its input was never provided or its evaluation failed.
func missingModules(results map[reportdomain.ModuleType]evaluatordomain.ModuleResult) []string {
	missing := make([]string, 0, len(domain.EvaluableModules))
	for _, module := range domain.EvaluableModules {
		if _, ok := results[module]; ok {
			continue
		}
		missing = append(missing, string(module))
	}
	return missing
}

func buildPayload(verdict domain.ComprehensiveVerdict, results map[reportdomain.ModuleType]evaluatordomain.ModuleResult, failures map[reportdomain.ModuleType]error) map[string]any {
	moduleResults := make(map[string]any, len(results))
	for module, result := range results {
		moduleResults[string(module)] = result.ToMap()
	}
	moduleFailures := make(map[string]any, len(failures))
	for module, err := range failures {
		moduleFailures[string(module)] = err.Error()
	}

	payload := verdict.ToMap()
	payload["module"] = string(reportdomain.ModuleComprehensive)
	payload["modules"] = moduleResults
	if len(moduleFailures) > 0 {
		payload["module_failures"] = moduleFailures
	}
	return payload
}

func inputRefs(input evaluatordomain.InputPayload) []string {
	refs := make([]string, 0, len(input.ImageRefs)+1)
	refs = append(refs, input.ImageRefs...)
	if input.AudioRef != "" {
		refs = append(refs, input.AudioRef)
	}
	return refs
}
