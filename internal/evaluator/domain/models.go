package domain

import (
	"context"
	"encoding/json"
	"errors"

	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

// VehicleInfo is optional metadata forwarded to the evaluator.
type VehicleInfo struct {
	Make    string `json:"make,omitempty"`
	Model   string `json:"model,omitempty"`
	Year    int    `json:"year,omitempty"`
	Mileage int64  `json:"mileage,omitempty"`
}

// InputPayload carries the uploaded media references plus vehicle
// metadata for one module evaluation. Media storage itself is an
// external collaborator; only references travel through here.
type InputPayload struct {
	ImageRefs []string    `json:"image_refs,omitempty"`
	AudioRef  string      `json:"audio_ref,omitempty"`
	Vehicle   VehicleInfo `json:"vehicle,omitempty"`
}

// Client is the boundary to the external AI evaluator. Implementations
// perform exactly one network call per Evaluate; retry and validation
// live in the Gateway.
type Client interface {
	Evaluate(ctx context.Context, module reportdomain.ModuleType, payload InputPayload) (json.RawMessage, error)
}

// Gateway wraps the evaluator with bounded retry and response-schema
// validation for one module invocation.
type Gateway interface {
	Invoke(ctx context.Context, module reportdomain.ModuleType, payload InputPayload) (ModuleResult, error)
}

// DamageSeverity grades a single damage finding.
type DamageSeverity string

const (
	SeverityMinor    DamageSeverity = "minor"
	SeverityModerate DamageSeverity = "moderate"
	SeveritySevere   DamageSeverity = "severe"
	SeverityCritical DamageSeverity = "critical"
)

// MarketPosition is the value module's pricing signal.
type MarketPosition string

const (
	MarketBelow MarketPosition = "below_market"
	MarketFair  MarketPosition = "fair"
	MarketAbove MarketPosition = "above_market"
)

// PaintResult is the paint module's evaluator output.
type PaintResult struct {
	Score      float64  `json:"score"`
	Condition  string   `json:"condition"`
	GlossLevel string   `json:"gloss_level"`
	Defects    []string `json:"defects"`
	Commentary string   `json:"expert_commentary"`
}

// DamageArea is one localized finding in a damage report.
type DamageArea struct {
	Position      string         `json:"position"`
	Type          string         `json:"type"`
	Severity      DamageSeverity `json:"severity"`
	AffectedParts []string       `json:"affected_parts"`
	RepairCost    float64        `json:"repair_cost"`
}

// DamageResult is the damage module's evaluator output. All top-level
// sections are required; DamageFree must be asserted explicitly for an
// empty area list to be trusted.
type DamageResult struct {
	Score                float64      `json:"score"`
	VehicleSummary       string       `json:"vehicle_summary"`
	VisualFindings       string       `json:"visual_findings"`
	TechnicalCondition   string       `json:"technical_condition"`
	CostBreakdown        string       `json:"cost_breakdown"`
	InsuranceAssessment  string       `json:"insurance_assessment"`
	Commentary           string       `json:"expert_commentary"`
	DecisionSummary      string       `json:"decision_summary"`
	DamageAreas          []DamageArea `json:"damage_areas"`
	DamageFree           bool         `json:"damage_free"`
	StructuralCompromise bool         `json:"structural_compromise"`
}

// HasCriticalFinding reports whether any damage area is critical.
func (r DamageResult) HasCriticalFinding() bool {
	for _, area := range r.DamageAreas {
		if area.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// AudioResult is the engine-sound module's evaluator output.
type AudioResult struct {
	Score           float64  `json:"score"`
	EngineCondition string   `json:"engine_condition"`
	Anomalies       []string `json:"anomalies"`
	Commentary      string   `json:"expert_commentary"`
}

// ValueResult is the value-estimation module's evaluator output.
type ValueResult struct {
	Score          float64        `json:"score"`
	EstimatedValue int64          `json:"estimated_value"`
	Currency       string         `json:"currency"`
	MarketPosition MarketPosition `json:"market_position"`
	Commentary     string         `json:"expert_commentary"`
}

// ModuleResult is the tagged union of per-module payloads. Exactly one
// branch matching Module is set.
type ModuleResult struct {
	Module reportdomain.ModuleType `json:"module"`
	Paint  *PaintResult            `json:"paint,omitempty"`
	Damage *DamageResult           `json:"damage,omitempty"`
	Audio  *AudioResult            `json:"audio,omitempty"`
	Value  *ValueResult            `json:"value,omitempty"`
}

// Score returns the module's own 0-100 score.
func (r ModuleResult) Score() float64 {
	switch r.Module {
	case reportdomain.ModulePaint:
		if r.Paint != nil {
			return r.Paint.Score
		}
	case reportdomain.ModuleDamage:
		if r.Damage != nil {
			return r.Damage.Score
		}
	case reportdomain.ModuleAudio:
		if r.Audio != nil {
			return r.Audio.Score
		}
	case reportdomain.ModuleValue:
		if r.Value != nil {
			return r.Value.Score
		}
	}
	return 0
}

// ToMap renders the result for storage inside Report.ResultPayload.
func (r ModuleResult) ToMap() map[string]any {
	raw, err := json.Marshal(r)
	if err != nil {
		return map[string]any{"module": string(r.Module)}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"module": string(r.Module)}
	}
	return out
}

var (
	// Transient: the evaluator produced nothing or garbage; retried.
	ErrEmptyResponse     = errors.New("evaluator_empty_response")
	ErrMalformedResponse = errors.New("evaluator_malformed_response")
	ErrIncompleteResult  = errors.New("evaluator_incomplete_result")
	ErrRateLimited       = errors.New("evaluator_rate_limited")
	ErrUnavailable       = errors.New("evaluator_unavailable")

	// Permanent: retrying cannot help.
	ErrInvalidInput      = errors.New("evaluator_invalid_input")
	ErrUnsupportedModule = errors.New("evaluator_unsupported_module")
)
