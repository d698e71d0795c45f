package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/autora/internal/config"
	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

// scriptedClient returns one canned response per call, in order. Extra
// calls repeat the last entry so exhaustion bugs show up as assertion
// failures on the call count, not panics.
type scriptedClient struct {
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	raw json.RawMessage
	err error
}

func (c *scriptedClient) Evaluate(_ context.Context, _ reportdomain.ModuleType, _ evaluatordomain.InputPayload) (json.RawMessage, error) {
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	r := c.responses[idx]
	return r.raw, r.err
}

func newTestGateway(t *testing.T, client evaluatordomain.Client) evaluatordomain.Gateway {
	t.Helper()

	cfg := config.AnalysisConfig{
		Retry:                   config.RetryConfig{MaxAttempts: 3, DelaySeconds: 0},
		EvaluatorTimeoutSeconds: 5,
	}
	return New(Params{
		Client: client,
		Log:    zap.NewNop(),
		Policy: config.NewStaticAnalysisConfigHolder(cfg),
	})
}

func validPaintRaw(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(evaluatordomain.PaintResult{
		Score:      88,
		Condition:  "very good",
		GlossLevel: "high",
		Commentary: "minor swirl marks",
	})
	require.NoError(t, err)
	return raw
}

func TestInvoke_SucceedsFirstAttempt(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{raw: validPaintRaw(t)},
	}}
	gw := newTestGateway(t, client)

	result, err := gw.Invoke(context.Background(), reportdomain.ModulePaint, evaluatordomain.InputPayload{})
	require.NoError(t, err)
	assert.Equal(t, 88.0, result.Score())
	assert.Equal(t, 1, client.calls)
}

func TestInvoke_RetriesTransientThenSucceeds(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{err: evaluatordomain.ErrUnavailable},
		{err: evaluatordomain.ErrEmptyResponse},
		{raw: validPaintRaw(t)},
	}}
	gw := newTestGateway(t, client)

	result, err := gw.Invoke(context.Background(), reportdomain.ModulePaint, evaluatordomain.InputPayload{})
	require.NoError(t, err)
	assert.Equal(t, 88.0, result.Score())
	assert.Equal(t, 3, client.calls)
}

func TestInvoke_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{err: evaluatordomain.ErrUnavailable},
		{err: evaluatordomain.ErrUnavailable},
		{err: evaluatordomain.ErrRateLimited},
	}}
	gw := newTestGateway(t, client)

	_, err := gw.Invoke(context.Background(), reportdomain.ModulePaint, evaluatordomain.InputPayload{})
	assert.ErrorIs(t, err, evaluatordomain.ErrRateLimited)
	assert.Equal(t, 3, client.calls)
}

func TestInvoke_IncompleteResultConsumesAttempt(t *testing.T) {
	// Parses fine but fails schema validation, so it burns attempts
	// like any transient failure.
	incomplete, err := json.Marshal(evaluatordomain.PaintResult{Score: 88})
	require.NoError(t, err)

	client := &scriptedClient{responses: []scriptedResponse{
		{raw: incomplete},
	}}
	gw := newTestGateway(t, client)

	_, err = gw.Invoke(context.Background(), reportdomain.ModulePaint, evaluatordomain.InputPayload{})
	assert.ErrorIs(t, err, evaluatordomain.ErrIncompleteResult)
	assert.Equal(t, 3, client.calls)
}

func TestInvoke_PermanentErrorStopsImmediately(t *testing.T) {
	client := &scriptedClient{responses: []scriptedResponse{
		{err: evaluatordomain.ErrInvalidInput},
	}}
	gw := newTestGateway(t, client)

	_, err := gw.Invoke(context.Background(), reportdomain.ModulePaint, evaluatordomain.InputPayload{})
	assert.ErrorIs(t, err, evaluatordomain.ErrInvalidInput)
	assert.Equal(t, 1, client.calls)
}

func TestInvoke_CanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{responses: []scriptedResponse{
		{err: evaluatordomain.ErrUnavailable},
	}}
	gw := newTestGateway(t, client)

	_, err := gw.Invoke(ctx, reportdomain.ModulePaint, evaluatordomain.InputPayload{})
	assert.ErrorIs(t, err, context.Canceled)
}
