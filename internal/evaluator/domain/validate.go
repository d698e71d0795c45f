package domain

import (
	"encoding/json"
	"fmt"

	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

// Parse decodes raw evaluator output for the given module and runs the
// schema check. The error is ErrMalformedResponse or
// ErrIncompleteResult, both retryable.
func Parse(module reportdomain.ModuleType, raw []byte) (ModuleResult, error) {
	if len(raw) == 0 {
		return ModuleResult{}, ErrEmptyResponse
	}

	result := ModuleResult{Module: module}
	var decodeErr error
	switch module {
	case reportdomain.ModulePaint:
		result.Paint, decodeErr = decodeInto[PaintResult](raw)
	case reportdomain.ModuleDamage:
		result.Damage, decodeErr = decodeInto[DamageResult](raw)
	case reportdomain.ModuleAudio:
		result.Audio, decodeErr = decodeInto[AudioResult](raw)
	case reportdomain.ModuleValue:
		result.Value, decodeErr = decodeInto[ValueResult](raw)
	default:
		return ModuleResult{}, ErrUnsupportedModule
	}
	if decodeErr != nil {
		return ModuleResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}

	if err := result.Validate(); err != nil {
		return ModuleResult{}, err
	}
	return result, nil
}

// Validate checks the module-required top-level fields. A result that
// passes is safe to store and aggregate; anything else is treated as an
// untrustworthy evaluator response.
func (r ModuleResult) Validate() error {
	switch r.Module {
	case reportdomain.ModulePaint:
		return r.Paint.validate()
	case reportdomain.ModuleDamage:
		return r.Damage.validate()
	case reportdomain.ModuleAudio:
		return r.Audio.validate()
	case reportdomain.ModuleValue:
		return r.Value.validate()
	default:
		return ErrUnsupportedModule
	}
}

func (r *PaintResult) validate() error {
	if r == nil {
		return incomplete("paint result missing")
	}
	if err := checkScore(r.Score); err != nil {
		return err
	}
	if r.Condition == "" {
		return incomplete("condition missing")
	}
	if r.Commentary == "" {
		return incomplete("expert commentary missing")
	}
	return nil
}

func (r *DamageResult) validate() error {
	if r == nil {
		return incomplete("damage result missing")
	}
	if err := checkScore(r.Score); err != nil {
		return err
	}

	sections := map[string]string{
		"vehicle_summary":      r.VehicleSummary,
		"visual_findings":      r.VisualFindings,
		"technical_condition":  r.TechnicalCondition,
		"cost_breakdown":       r.CostBreakdown,
		"insurance_assessment": r.InsuranceAssessment,
		"expert_commentary":    r.Commentary,
		"decision_summary":     r.DecisionSummary,
	}
	for name, value := range sections {
		if value == "" {
			return incomplete(name + " missing")
		}
	}

	// An empty area list is only trustworthy when the evaluator
	// explicitly asserts a damage-free vehicle.
	if len(r.DamageAreas) == 0 && !r.DamageFree {
		return incomplete("no damage areas listed and vehicle not asserted damage-free")
	}
	for i, area := range r.DamageAreas {
		if area.Position == "" || area.Type == "" {
			return incomplete(fmt.Sprintf("damage area %d missing position or type", i))
		}
		switch area.Severity {
		case SeverityMinor, SeverityModerate, SeveritySevere, SeverityCritical:
		default:
			return incomplete(fmt.Sprintf("damage area %d has unknown severity %q", i, area.Severity))
		}
		if len(area.AffectedParts) == 0 {
			return incomplete(fmt.Sprintf("damage area %d missing affected parts", i))
		}
		if area.RepairCost < 0 {
			return incomplete(fmt.Sprintf("damage area %d has negative repair cost", i))
		}
	}
	return nil
}

func (r *AudioResult) validate() error {
	if r == nil {
		return incomplete("audio result missing")
	}
	if err := checkScore(r.Score); err != nil {
		return err
	}
	if r.EngineCondition == "" {
		return incomplete("engine condition missing")
	}
	if r.Commentary == "" {
		return incomplete("expert commentary missing")
	}
	return nil
}

func (r *ValueResult) validate() error {
	if r == nil {
		return incomplete("value result missing")
	}
	if err := checkScore(r.Score); err != nil {
		return err
	}
	if r.EstimatedValue <= 0 {
		return incomplete("estimated value missing")
	}
	if r.Currency == "" {
		return incomplete("currency missing")
	}
	switch r.MarketPosition {
	case MarketBelow, MarketFair, MarketAbove:
	default:
		return incomplete(fmt.Sprintf("unknown market position %q", r.MarketPosition))
	}
	return nil
}

func checkScore(score float64) error {
	if score < 0 || score > 100 {
		return incomplete(fmt.Sprintf("score %v out of range", score))
	}
	return nil
}

func incomplete(detail string) error {
	return fmt.Errorf("%w: %s", ErrIncompleteResult, detail)
}

func decodeInto[T any](raw []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
