package gateway

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/autora/internal/config"
	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	obsmetrics "github.com/smallbiznis/autora/internal/observability/metrics"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
	"github.com/smallbiznis/autora/pkg/retry"
)

type Params struct {
	fx.In

	Client     evaluatordomain.Client
	Log        *zap.Logger
	Policy     *config.AnalysisConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Gateway is the retrying, validating wrapper around the evaluator
// client. It performs no ledger or report writes.
type Gateway struct {
	client     evaluatordomain.Client
	log        *zap.Logger
	policy     *config.AnalysisConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) evaluatordomain.Gateway {
	return &Gateway{
		client:     p.Client,
		log:        p.Log.Named("evaluator.gateway"),
		policy:     p.Policy,
		obsMetrics: p.ObsMetrics,
	}
}

// Invoke calls the evaluator for one module with bounded retry. Each
// attempt carries its own timeout; transient failures (timeout,
// rate-limit, empty or schema-incomplete responses) consume an attempt,
// permanent input errors stop the loop immediately. The last error is
// returned once attempts are exhausted.
func (g *Gateway) Invoke(ctx context.Context, module reportdomain.ModuleType, payload evaluatordomain.InputPayload) (evaluatordomain.ModuleResult, error) {
	cfg := g.policy.Get()

	var result evaluatordomain.ModuleResult
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Delay:       cfg.RetryDelay(),
	}, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.EvaluatorTimeout())
		defer cancel()

		raw, err := g.client.Evaluate(attemptCtx, module, payload)
		if err != nil {
			return g.classify(ctx, module, attempt, err)
		}

		parsed, err := evaluatordomain.Parse(module, raw)
		if err != nil {
			return g.classify(ctx, module, attempt, err)
		}

		if g.obsMetrics != nil {
			g.obsMetrics.RecordEvaluatorAttempt(ctx, string(module), "success")
		}
		result = parsed
		return nil
	})
	if err != nil {
		return evaluatordomain.ModuleResult{}, err
	}
	return result, nil
}

func (g *Gateway) classify(ctx context.Context, module reportdomain.ModuleType, attempt int, err error) error {
	permanent := errors.Is(err, evaluatordomain.ErrInvalidInput) ||
		errors.Is(err, evaluatordomain.ErrUnsupportedModule)

	outcome := "transient_error"
	if permanent {
		outcome = "permanent_error"
	}
	if g.obsMetrics != nil {
		g.obsMetrics.RecordEvaluatorAttempt(ctx, string(module), outcome)
	}

	g.log.Warn("evaluator attempt failed",
		zap.String("module", string(module)),
		zap.Int("attempt", attempt),
		zap.Bool("permanent", permanent),
		zap.Error(err),
	)

	if permanent {
		return retry.Stop(err)
	}
	return err
}
