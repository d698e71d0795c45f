package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/autora/internal/analysis/domain"
	"github.com/smallbiznis/autora/internal/clock"
	"github.com/smallbiznis/autora/internal/config"
	creditdomain "github.com/smallbiznis/autora/internal/credit/domain"
	creditservice "github.com/smallbiznis/autora/internal/credit/service"
	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
	reportservice "github.com/smallbiznis/autora/internal/report/service"
)

// stubGateway returns a fixed result or error for every Invoke.
type stubGateway struct {
	result evaluatordomain.ModuleResult
	err    error
	calls  int
}

func (g *stubGateway) Invoke(_ context.Context, _ reportdomain.ModuleType, _ evaluatordomain.InputPayload) (evaluatordomain.ModuleResult, error) {
	g.calls++
	if g.err != nil {
		return evaluatordomain.ModuleResult{}, g.err
	}
	return g.result, nil
}

// failingRefunds delegates everything to the wrapped ledger except
// Refund, which always errors.
type failingRefunds struct {
	creditdomain.Service
}

func (f failingRefunds) Refund(context.Context, snowflake.ID, snowflake.ID, int64, string) (creditdomain.CreditTransaction, error) {
	return creditdomain.CreditTransaction{}, errors.New("ledger write rejected")
}

type testEnv struct {
	analysis domain.Service
	credits  creditdomain.Service
	reports  reportdomain.Service
	gateway  *stubGateway
	db       *gorm.DB
}

func newTestEnv(t *testing.T, gateway *stubGateway, wrapCredits func(creditdomain.Service) creditdomain.Service) *testEnv {
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

	wiredCredits := credits
	if wrapCredits != nil {
		wiredCredits = wrapCredits(credits)
	}

	analysis := New(Params{
		Log:       zap.NewNop(),
		GenID:     node,
		Policy:    config.NewStaticAnalysisConfigHolder(config.DefaultAnalysisConfig()),
		Credits:   wiredCredits,
		Reports:   reports,
		Evaluator: gateway,
	})

	return &testEnv{
		analysis: analysis,
		credits:  credits,
		reports:  reports,
		gateway:  gateway,
		db:       db,
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

func paintResult(t *testing.T, score float64) evaluatordomain.ModuleResult {
	t.Helper()
	raw, err := json.Marshal(evaluatordomain.PaintResult{
		Score:      score,
		Condition:  "very good",
		GlossLevel: "high",
		Commentary: "light swirl marks on the hood",
	})
	require.NoError(t, err)
	result, err := evaluatordomain.Parse(reportdomain.ModulePaint, raw)
	require.NoError(t, err)
	return result
}

func TestRun_SuccessfulAnalysis(t *testing.T) {
	env := newTestEnv(t, &stubGateway{result: paintResult(t, 87)}, nil)
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 100)

	outcome, err := env.analysis.Run(ctx, domain.AnalysisRequest{
		UserID: userID,
		Module: reportdomain.ModulePaint,
		Input:  evaluatordomain.InputPayload{ImageRefs: []string{"img-1", "img-2"}},
	})
	require.NoError(t, err)

	assert.Equal(t, reportdomain.StatusCompleted, outcome.Status)
	assert.Equal(t, int64(10), outcome.CostCharged)
	assert.False(t, outcome.Refunded)
	assert.Equal(t, "paint", outcome.Result["module"])

	// Paint costs 10, so 100 - 10 remains.
	assert.Equal(t, int64(90), env.balance(t, userID))

	report, err := env.reports.Get(ctx, userID, outcome.ReportID)
	require.NoError(t, err)
	assert.Equal(t, reportdomain.StatusCompleted, report.Status)
	assert.Equal(t, int64(10), report.CostCharged)
	assert.NotEmpty(t, report.ResultPayload)
	assert.Equal(t, []string{"img-1", "img-2"}, []string(report.InputRefs))
}

func TestRun_InsufficientCreditsLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t, &stubGateway{result: paintResult(t, 87)}, nil)
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 5)

	_, err := env.analysis.Run(ctx, domain.AnalysisRequest{
		UserID: userID,
		Module: reportdomain.ModulePaint,
	})
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)

	assert.Equal(t, int64(5), env.balance(t, userID))
	assert.Equal(t, 0, env.gateway.calls)

	var reportCount int64
	require.NoError(t, env.db.Model(&reportdomain.Report{}).Count(&reportCount).Error)
	assert.Zero(t, reportCount)
}

func TestRun_EvaluatorFailureRefundsAndFails(t *testing.T) {
	env := newTestEnv(t, &stubGateway{err: evaluatordomain.ErrUnavailable}, nil)
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 100)

	outcome, err := env.analysis.Run(ctx, domain.AnalysisRequest{
		UserID: userID,
		Module: reportdomain.ModuleDamage,
	})
	require.NoError(t, err)

	assert.Equal(t, reportdomain.StatusFailed, outcome.Status)
	assert.True(t, outcome.Refunded)
	assert.Equal(t, int64(15), outcome.AmountRefunded)
	assert.Contains(t, outcome.Message, "refunded")

	// Reserve and refund cancel out.
	assert.Equal(t, int64(100), env.balance(t, userID))

	report, err := env.reports.Get(ctx, userID, outcome.ReportID)
	require.NoError(t, err)
	assert.Equal(t, reportdomain.StatusFailed, report.Status)
	assert.Contains(t, report.FailureNote, "refunded")

	var refunds []creditdomain.CreditTransaction
	require.NoError(t, env.db.Where("user_id = ? AND kind = ?", userID, creditdomain.TransactionKindRefund).Find(&refunds).Error)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(15), refunds[0].Amount)
}

func TestRun_RefundFailureStillFailsReport(t *testing.T) {
	env := newTestEnv(t, &stubGateway{err: evaluatordomain.ErrUnavailable}, func(s creditdomain.Service) creditdomain.Service {
		return failingRefunds{Service: s}
	})
	ctx := context.Background()
	userID := snowflake.ID(42)
	env.seed(t, userID, 100)

	outcome, err := env.analysis.Run(ctx, domain.AnalysisRequest{
		UserID: userID,
		Module: reportdomain.ModulePaint,
	})
	require.NoError(t, err)

	assert.Equal(t, reportdomain.StatusFailed, outcome.Status)
	assert.False(t, outcome.Refunded)
	assert.Zero(t, outcome.AmountRefunded)
	assert.Contains(t, outcome.Message, "support")

	// The debit sticks until support intervenes, but the report is
	// never left dangling in processing.
	assert.Equal(t, int64(90), env.balance(t, userID))

	report, err := env.reports.Get(ctx, userID, outcome.ReportID)
	require.NoError(t, err)
	assert.Equal(t, reportdomain.StatusFailed, report.Status)
	assert.Contains(t, report.FailureNote, "support")
}

func TestRun_RejectsUnknownOrComprehensiveModule(t *testing.T) {
	env := newTestEnv(t, &stubGateway{}, nil)
	ctx := context.Background()

	_, err := env.analysis.Run(ctx, domain.AnalysisRequest{
		UserID: 42,
		Module: "xray",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownModule)

	// The comprehensive package has its own orchestrator.
	_, err = env.analysis.Run(ctx, domain.AnalysisRequest{
		UserID: 42,
		Module: reportdomain.ModuleComprehensive,
	})
	assert.ErrorIs(t, err, domain.ErrUnknownModule)

	_, err = env.analysis.Run(ctx, domain.AnalysisRequest{
		Module: reportdomain.ModulePaint,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}
