package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/autora/internal/config"
	evaluatordomain "github.com/smallbiznis/autora/internal/evaluator/domain"
	reportdomain "github.com/smallbiznis/autora/internal/report/domain"
)

const maxResponseBytes = 4 << 20

type evaluateRequest struct {
	Module  string                       `json:"module"`
	Payload evaluatordomain.InputPayload `json:"payload"`
}

// Client posts evaluation requests to the external AI evaluator. One
// HTTP round-trip per Evaluate; the gateway owns retries.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	log     *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) evaluatordomain.Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.EvaluatorBaseURL, "/"),
		apiKey:  cfg.EvaluatorAPIKey,
		// Per-call deadlines come from the caller's context.
		httpc: &http.Client{},
		log:   log.Named("evaluator.httpclient"),
	}
}

func (c *Client) Evaluate(ctx context.Context, module reportdomain.ModuleType, payload evaluatordomain.InputPayload) (json.RawMessage, error) {
	body, err := json.Marshal(evaluateRequest{
		Module:  string(module),
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evaluatordomain.ErrInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/evaluations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evaluatordomain.ErrInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Timeouts and transport failures are transient by contract.
		return nil, fmt.Errorf("%w: %v", evaluatordomain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", evaluatordomain.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, evaluatordomain.ErrEmptyResponse
		}
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, evaluatordomain.ErrRateLimited
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		return nil, fmt.Errorf("%w: status %d", evaluatordomain.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: status %d", evaluatordomain.ErrInvalidInput, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", evaluatordomain.ErrUnavailable, resp.StatusCode)
	}
}
