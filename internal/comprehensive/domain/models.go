package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	analysisdomain "github.com/smallbiznis/autora/internal/analysis/domain"
	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

// Request starts a comprehensive analysis. The modules actually run are
// derived from which inputs are present: image-based modules need image
// references, the engine-sound module needs an audio reference.
type Request struct {
	UserID snowflake.ID
	Input  evaluatordomain.InputPayload
}

// ComprehensiveVerdict is the aggregated judgement over the per-module
// results. It is derived from the stored module payloads on write; the
// module payloads stay the source of truth.
type ComprehensiveVerdict struct {
	OverallScore       float64  `json:"overall_score"`
	Grade              string   `json:"grade"`
	Recommendation     string   `json:"recommendation"`
	RiskLevel          string   `json:"risk_level"`
	InvestmentDecision string   `json:"investment_decision"`
	MissingModules     []string `json:"missing_modules"`
}

// Service bills a flat comprehensive price, fans the present modules
// out to the evaluator concurrently and aggregates whatever succeeded
// into one report.
type Service interface {
	Start(ctx context.Context, req Request) (analysisdomain.Outcome, error)
}

// EvaluableModules are the modules a comprehensive run can fan out to,
// in aggregation order.
var EvaluableModules = []reportdomain.ModuleType{
	reportdomain.ModulePaint,
	reportdomain.ModuleDamage,
	reportdomain.ModuleAudio,
	reportdomain.ModuleValue,
}

var (
	ErrInvalidUser = errors.New("invalid_user")
	ErrNoInputs    = errors.New("no_module_inputs")
)
