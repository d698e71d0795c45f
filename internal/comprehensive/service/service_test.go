package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/autora/internal/clock"
	"github.com/smallbiznis/autora/internal/comprehensive/domain"
	"github.com/smallbiznis/autora/internal/config"
	creditdomain "github.com/smallbiznis/autora/internal/credit/domain"
	creditservice "github.com/smallbiznis/autora/internal/credit/service"
	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
	reportservice "github.com/smallbiznis/autora/internal/report/service"
)

// moduleGateway scripts one result or error per module and records
// which modules were invoked.
type moduleGateway struct {
	mu      sync.Mutex
	results map[reportdomain.ModuleType]evaluatordomain.ModuleResult
	errs    map[reportdomain.ModuleType]error
	invoked []reportdomain.ModuleType
}

func (g *moduleGateway) Invoke(_ context.Context, module reportdomain.ModuleType, _ evaluatordomain.InputPayload) (evaluatordomain.ModuleResult, error) {
	g.mu.Lock()
	g.invoked = append(g.invoked, module)
	g.mu.Unlock()

	if err, ok := g.errs[module]; ok {
		return evaluatordomain.ModuleResult{}, err
	}
	if result, ok := g.results[module]; ok {
		return result, nil
	}
	return evaluatordomain.ModuleResult{}, evaluatordomain.ErrUnavailable
}

func (g *moduleGateway) invokedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.invoked)
}

func moduleResult(module reportdomain.ModuleType, score float64) evaluatordomain.ModuleResult {
	result := evaluatordomain.ModuleResult{Module: module}
	switch module {
	case reportdomain.ModulePaint:
		result.Paint = &evaluatordomain.PaintResult{Score: score}
	case reportdomain.ModuleDamage:
		result.Damage = &evaluatordomain.DamageResult{Score: score}
	case reportdomain.ModuleAudio:
		result.Audio = &evaluatordomain.AudioResult{Score: score}
	case reportdomain.ModuleValue:
		result.Value = &evaluatordomain.ValueResult{Score: score, MarketPosition: evaluatordomain.MarketFair}
	}
	return result
}

type testEnv struct {
	comprehensive domain.Service
	credits       creditdomain.Service
	reports       reportdomain.Service
	gateway       *moduleGateway
	db            *gorm.DB
}

func newTestEnv(t *testing.T, gateway *moduleGateway) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&creditdomain.CreditAccount{},
		&creditdomain.CreditTransaction{},
		&reportdomain.Report{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	credits := creditservice.NewService(creditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	reports := reportservice.NewService(reportservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})

	comprehensive := New(Params{
		Log:       zap.NewNop(),
		GenID:     node,
		Policy:    config.NewStaticAnalysisConfigHolder(config.DefaultAnalysisConfig()),
		Credits:   credits,
		Reports:   reports,
		Evaluator: gateway,
	})

	return &testEnv{
		comprehensive: comprehensive,
		credits:       credits,
		reports:       reports,
		gateway:       gateway,
		db:            db,
	}
}

func (e *testEnv) seed(t *testing.T, userID snowflake.ID, amount int64) {
	t.Helper()
	_, err := e.credits.Purchase(context.Background(), userID, amount, "seed")
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID snowflake.ID) int64 {
	t.Helper()
	balance, err := e.credits.Balance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func fullInput() evaluatordomain.InputPayload {
	return evaluatordomain.InputPayload{
		ImageRefs: []string{"img-1", "img-2"},
		AudioRef:  "audio-1",
	}
}

func TestStart_AllModulesSucceed(t *testing.T) {
	gateway := &moduleGateway{results: map[reportdomain.ModuleType]evaluatordomain.ModuleResult{
		reportdomain.ModulePaint:  moduleResult(reportdomain.ModulePaint, 90),
		reportdomain.ModuleDamage: moduleResult(reportdomain.ModuleDamage, 80),
		reportdomain.ModuleAudio:  moduleResult(reportdomain.ModuleAudio, 85),
		reportdomain.ModuleValue:  moduleResult(reportdomain.ModuleValue, 88),
	}}
	env := newTestEnv(t, gateway)
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 100)

	outcome, err := env.comprehensive.Start(ctx, domain.Request{UserID: userID, Input: fullInput()})
	require.NoError(t, err)

	assert.Equal(t, reportdomain.StatusCompleted, outcome.Status)
	assert.Equal(t, int64(35), outcome.CostCharged)
	assert.Equal(t, 4, gateway.invokedCount())

	// Flat comprehensive price, one debit.
	assert.Equal(t, int64(65), env.balance(t, userID))

	report, err := env.reports.Get(ctx, userID, outcome.ReportID)
	require.NoError(t, err)
	assert.Equal(t, reportdomain.ModuleComprehensive, report.ModuleType)
	assert.Equal(t, reportdomain.StatusCompleted, report.Status)

	modules, ok := report.ResultPayload["modules"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, modules, 4)
	assert.Empty(t, report.ResultPayload["missing_modules"])
}

func TestStart_PartialFailureCompletesWithoutPartialRefund(t *testing.T) {
	gateway := &moduleGateway{
		results: map[reportdomain.ModuleType]evaluatordomain.ModuleResult{
			reportdomain.ModulePaint:  moduleResult(reportdomain.ModulePaint, 90),
			reportdomain.ModuleDamage: moduleResult(reportdomain.ModuleDamage, 80),
			reportdomain.ModuleValue:  moduleResult(reportdomain.ModuleValue, 88),
		},
		errs: map[reportdomain.ModuleType]error{
			reportdomain.ModuleAudio: evaluatordomain.ErrIncompleteResult,
		},
	}
	env := newTestEnv(t, gateway)
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 100)

	outcome, err := env.comprehensive.Start(ctx, domain.Request{UserID: userID, Input: fullInput()})
	require.NoError(t, err)

	assert.Equal(t, reportdomain.StatusCompleted, outcome.Status)
	assert.False(t, outcome.Refunded)
	assert.Equal(t, int64(65), env.balance(t, userID))

	report, err := env.reports.Get(ctx, userID, outcome.ReportID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"audio"}, report.ResultPayload["missing_modules"])
	assert.Contains(t, report.ResultPayload, "module_failures")
}

func TestStart_TotalFailureRefundsAsUnit(t *testing.T) {
	gateway := &moduleGateway{errs: map[reportdomain.ModuleType]error{
		reportdomain.ModulePaint:  evaluatordomain.ErrUnavailable,
		reportdomain.ModuleDamage: evaluatordomain.ErrUnavailable,
		reportdomain.ModuleAudio:  evaluatordomain.ErrUnavailable,
		reportdomain.ModuleValue:  evaluatordomain.ErrUnavailable,
	}}
	env := newTestEnv(t, gateway)
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 100)

	outcome, err := env.comprehensive.Start(ctx, domain.Request{UserID: userID, Input: fullInput()})
	require.NoError(t, err)

	assert.Equal(t, reportdomain.StatusFailed, outcome.Status)
	assert.True(t, outcome.Refunded)
	assert.Equal(t, int64(35), outcome.AmountRefunded)
	assert.Equal(t, int64(100), env.balance(t, userID))

	report, err := env.reports.Get(ctx, userID, outcome.ReportID)
	require.NoError(t, err)
	assert.Equal(t, reportdomain.StatusFailed, report.Status)
}

func TestStart_AudioOnlyInputRunsAudioOnly(t *testing.T) {
	gateway := &moduleGateway{results: map[reportdomain.ModuleType]evaluatordomain.ModuleResult{
		reportdomain.ModuleAudio: moduleResult(reportdomain.ModuleAudio, 77),
	}}
	env := newTestEnv(t, gateway)
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 100)

	outcome, err := env.comprehensive.Start(ctx, domain.Request{
		UserID: userID,
		Input:  evaluatordomain.InputPayload{AudioRef: "audio-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, reportdomain.StatusCompleted, outcome.Status)
	assert.Equal(t, 1, gateway.invokedCount())

	report, err := env.reports.Get(ctx, userID, outcome.ReportID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"paint", "damage", "value"}, report.ResultPayload["missing_modules"])
}

func TestStart_NoInputsBillsNothing(t *testing.T) {
	env := newTestEnv(t, &moduleGateway{})
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 100)

	_, err := env.comprehensive.Start(ctx, domain.Request{UserID: userID})
	assert.ErrorIs(t, err, domain.ErrNoInputs)
	assert.Equal(t, int64(100), env.balance(t, userID))
	assert.Zero(t, env.gateway.invokedCount())
}

func TestStart_InsufficientCredits(t *testing.T) {
	env := newTestEnv(t, &moduleGateway{})
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 20)

	_, err := env.comprehensive.Start(ctx, domain.Request{UserID: userID, Input: fullInput()})
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)
	assert.Equal(t, int64(20), env.balance(t, userID))
	assert.Zero(t, env.gateway.invokedCount())
}
