package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AnalysisConfig is the tunable policy table for analysis billing and
// aggregation: module prices, aggregation weights, grade thresholds and
// the evaluator retry/timeout envelope.
type AnalysisConfig struct {
	Costs                   map[string]int64   `mapstructure:"costs"`
	Weights                 map[string]float64 `mapstructure:"weights"`
	GradeThresholds         []GradeThreshold   `mapstructure:"gradeThresholds"`
	Retry                   RetryConfig        `mapstructure:"retry"`
	EvaluatorTimeoutSeconds int                `mapstructure:"evaluatorTimeoutSeconds"`
}

type GradeThreshold struct {
	Grade    string  `mapstructure:"grade"`
	MinScore float64 `mapstructure:"minScore"`
}

type RetryConfig struct {
	MaxAttempts  int `mapstructure:"maxAttempts"`
	DelaySeconds int `mapstructure:"delaySeconds"`
}

func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Costs: map[string]int64{
			"paint":         10,
			"damage":        15,
			"audio":         10,
			"value":         10,
			"comprehensive": 35,
		},
		Weights: map[string]float64{
			"paint":  0.25,
			"damage": 0.35,
			"audio":  0.15,
			"value":  0.25,
		},
		GradeThresholds: []GradeThreshold{
			{Grade: "excellent", MinScore: 90},
			{Grade: "good", MinScore: 75},
			{Grade: "fair", MinScore: 60},
			{Grade: "poor", MinScore: 40},
			{Grade: "critical", MinScore: 0},
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			DelaySeconds: 2,
		},
		EvaluatorTimeoutSeconds: 90,
	}
}

// CostFor returns the credit price of a module.
func (c AnalysisConfig) CostFor(module string) (int64, bool) {
	cost, ok := c.Costs[strings.ToLower(strings.TrimSpace(module))]
	return cost, ok
}

// WeightFor returns the aggregation weight of a module, defaulting to 1
// so an unlisted module still contributes to the mean.
func (c AnalysisConfig) WeightFor(module string) float64 {
	w, ok := c.Weights[strings.ToLower(strings.TrimSpace(module))]
	if !ok || w <= 0 {
		return 1
	}
	return w
}

// GradeFor discretizes a score through the threshold table. Thresholds
// are evaluated highest first; the last entry is the floor.
func (c AnalysisConfig) GradeFor(score float64) string {
	grade := "critical"
	best := -1.0
	for _, t := range c.GradeThresholds {
		if score >= t.MinScore && t.MinScore > best {
			best = t.MinScore
			grade = t.Grade
		}
	}
	return grade
}

func (c AnalysisConfig) RetryDelay() time.Duration {
	return time.Duration(c.Retry.DelaySeconds) * time.Second
}

func (c AnalysisConfig) EvaluatorTimeout() time.Duration {
	return time.Duration(c.EvaluatorTimeoutSeconds) * time.Second
}

// AnalysisConfigHolder exposes the current policy table and swaps it
// atomically on config file reload.
type AnalysisConfigHolder struct {
	current atomic.Value // holds AnalysisConfig
}

func NewAnalysisConfigHolder() (*AnalysisConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("analysis")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/autora/config") // Volume-mounted config
	v.AddConfigPath("/etc/autora")            // System config
	v.AddConfigPath(".")                      // Current directory (dev mode)

	v.SetEnvPrefix("AUTORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAnalysisConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		v.SetDefault("analysis.costs", defaults.Costs)
		v.SetDefault("analysis.weights", defaults.Weights)
		v.SetDefault("analysis.gradeThresholds", defaults.GradeThresholds)
		v.SetDefault("analysis.retry", defaults.Retry)
		v.SetDefault("analysis.evaluatorTimeoutSeconds", defaults.EvaluatorTimeoutSeconds)
	}

	var cfg AnalysisConfig
	if err := v.UnmarshalKey("analysis", &cfg); err != nil {
		return nil, err
	}
	applyAnalysisDefaults(&cfg, defaults)
	if err := validateAnalysisConfig(cfg); err != nil {
		return nil, err
	}

	holder := &AnalysisConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AnalysisConfig
		if err := v.UnmarshalKey("analysis", &updated); err != nil {
			log.Printf("[analysis-config] reload failed: %v", err)
			return
		}
		applyAnalysisDefaults(&updated, defaults)
		if err := validateAnalysisConfig(updated); err != nil {
			log.Printf("[analysis-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[analysis-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *AnalysisConfigHolder) Get() AnalysisConfig {
	return h.current.Load().(AnalysisConfig)
}

// NewStaticAnalysisConfigHolder wraps a fixed config, used by tests.
func NewStaticAnalysisConfigHolder(cfg AnalysisConfig) *AnalysisConfigHolder {
	holder := &AnalysisConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func applyAnalysisDefaults(cfg *AnalysisConfig, defaults AnalysisConfig) {
	if len(cfg.Costs) == 0 {
		cfg.Costs = defaults.Costs
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = defaults.Weights
	}
	if len(cfg.GradeThresholds) == 0 {
		cfg.GradeThresholds = defaults.GradeThresholds
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if cfg.Retry.DelaySeconds < 0 {
		cfg.Retry.DelaySeconds = defaults.Retry.DelaySeconds
	}
	if cfg.EvaluatorTimeoutSeconds <= 0 {
		cfg.EvaluatorTimeoutSeconds = defaults.EvaluatorTimeoutSeconds
	}
}

func validateAnalysisConfig(cfg AnalysisConfig) error {
	if len(cfg.Costs) == 0 {
		return errors.New("analysis.costs cannot be empty")
	}
	for module, cost := range cfg.Costs {
		if cost <= 0 {
			return errors.New("analysis.costs." + module + " must be positive")
		}
	}
	if len(cfg.GradeThresholds) == 0 {
		return errors.New("analysis.gradeThresholds cannot be empty")
	}
	return nil
}
