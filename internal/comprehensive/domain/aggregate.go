package domain

import (
	"github.com/smallbiznis/autora/internal/config"
	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

const (
	RecommendationBuy     = "buy"
	RecommendationNeutral = "neutral"
	RecommendationAvoid   = "avoid"

	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
	RiskSevere   = "severe"
)

// Aggregate folds the successful module results into one verdict. The
// overall score is the weighted mean over the modules that actually
// produced a result, with weights renormalized over that subset so a
// missing module shifts no weight onto failure.
func Aggregate(cfg config.AnalysisConfig, results map[reportdomain.ModuleType]evaluatordomain.ModuleResult, missing []string) ComprehensiveVerdict {
	var weightedSum, weightTotal float64
	for module, result := range results {
		weight := cfg.WeightFor(string(module))
		weightedSum += weight * result.Score()
		weightTotal += weight
	}

	var score float64
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}

	critical := hasCriticalFinding(results)
	grade := cfg.GradeFor(score)
	recommendation := recommend(grade, critical, marketPosition(results))

	if missing == nil {
		missing = []string{}
	}
	return ComprehensiveVerdict{
		OverallScore:       score,
		Grade:              grade,
		Recommendation:     recommendation,
		RiskLevel:          riskLevel(grade, critical),
		InvestmentDecision: investmentDecision(recommendation),
		MissingModules:     missing,
	}
}

func hasCriticalFinding(results map[reportdomain.ModuleType]evaluatordomain.ModuleResult) bool {
	damage, ok := results[reportdomain.ModuleDamage]
	if !ok || damage.Damage == nil {
		return false
	}
	return damage.Damage.HasCriticalFinding() || damage.Damage.StructuralCompromise
}

func marketPosition(results map[reportdomain.ModuleType]evaluatordomain.ModuleResult) evaluatordomain.MarketPosition {
	value, ok := results[reportdomain.ModuleValue]
	if !ok || value.Value == nil {
		return ""
	}
	return value.Value.MarketPosition
}

// recommend derives the buy signal from the grade, then applies two
// demotions: overpriced vehicles lose one step, and any critical or
// structural finding caps the result at neutral no matter the score.
func recommend(grade string, critical bool, market evaluatordomain.MarketPosition) string {
	recommendation := RecommendationAvoid
	switch grade {
	case "excellent", "good":
		recommendation = RecommendationBuy
	case "fair":
		recommendation = RecommendationNeutral
	}

	if market == evaluatordomain.MarketAbove && recommendation == RecommendationBuy {
		recommendation = RecommendationNeutral
	}
	if critical && recommendation == RecommendationBuy {
		recommendation = RecommendationNeutral
	}
	return recommendation
}

func riskLevel(grade string, critical bool) string {
	if critical {
		return RiskSevere
	}
	switch grade {
	case "excellent", "good":
		return RiskLow
	case "fair":
		return RiskModerate
	case "poor":
		return RiskHigh
	default:
		return RiskSevere
	}
}

func investmentDecision(recommendation string) string {
	switch recommendation {
	case RecommendationBuy:
		return "sound_purchase"
	case RecommendationNeutral:
		return "inspect_before_purchase"
	default:
		return "walk_away"
	}
}

// ToMap renders the verdict for storage inside the report payload.
func (v ComprehensiveVerdict) ToMap() map[string]any {
	missing := make([]any, 0, len(v.MissingModules))
	for _, m := range v.MissingModules {
		missing = append(missing, m)
	}
	return map[string]any{
		"overall_score":       v.OverallScore,
		"grade":               v.Grade,
		"recommendation":      v.Recommendation,
		"risk_level":          v.RiskLevel,
		"investment_decision": v.InvestmentDecision,
		"missing_modules":     missing,
	}
}
