package sig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/seligo/rxquant-api/dosage"
	"github.com/seligo/rxquant-api/metrics"
	"github.com/seligo/rxquant-api/resilience"
)

// Doer abstracts the HTTP client so tests can substitute transports.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FallbackConfig points the interpreter at a chat-completions style
// text-understanding service.
type FallbackConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// fallbackSystemPrompt pins the model to the strict JSON contract the
// client validates against.
const fallbackSystemPrompt = `You extract structured dosing information from prescription directions. ` +
	`Respond with one JSON object of the form {"unit":"tablet|capsule|milliliter|actuation|unit","perDay":number,"confidence":number} and nothing else. ` +
	`perDay is the total amount taken per day in the given unit; confidence is between 0 and 1.`

// FallbackClient asks an external language model to interpret a SIG the
// deterministic stages could not.
type FallbackClient struct {
	cfg     FallbackConfig
	http    Doer
	retrier *resilience.Retrier
}

// NewFallbackClient creates a fallback client. A nil doer falls back to
// a default HTTP client with the configured timeout.
func NewFallbackClient(cfg FallbackConfig, doer Doer) *FallbackClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout}
	}
	return &FallbackClient{
		cfg:  cfg,
		http: doer,
		// One retry, transient failures only.
		retrier: resilience.NewRetrier(2, 200*time.Millisecond, time.Second),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// fallbackResult is the strict answer contract.
type fallbackResult struct {
	Unit       string          `json:"unit"`
	PerDay     decimal.Decimal `json:"perDay"`
	Confidence decimal.Decimal `json:"confidence"`
}

// Interpret sends the raw SIG to the fallback service and validates the
// structured answer. Transport-level failures are retried once; a
// malformed or out-of-bounds answer fails immediately.
func (f *FallbackClient) Interpret(ctx context.Context, sigText string) (Dose, decimal.Decimal, error) {
	body, err := json.Marshal(chatRequest{
		Model: f.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: fallbackSystemPrompt},
			{Role: "user", Content: sigText},
		},
		Temperature:    0,
		ResponseFormat: &chatResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return Dose{}, decimal.Decimal{}, fmt.Errorf("failed to encode fallback request: %w", err)
	}

	var result fallbackResult
	err = f.retrier.Do(ctx, func(ctx context.Context) error {
		parsed, err := f.callOnce(ctx, body)
		if err != nil {
			return err
		}
		result = parsed
		return nil
	})
	if err != nil {
		metrics.FallbackRequestsTotal.WithLabelValues("error").Inc()
		return Dose{}, decimal.Decimal{}, err
	}

	unit, ok := dosage.ParseUnit(result.Unit)
	if !ok {
		metrics.FallbackRequestsTotal.WithLabelValues("invalid").Inc()
		return Dose{}, decimal.Decimal{}, fmt.Errorf("fallback returned unknown unit %q", result.Unit)
	}
	if !validPerDay(result.PerDay) {
		metrics.FallbackRequestsTotal.WithLabelValues("invalid").Inc()
		return Dose{}, decimal.Decimal{}, fmt.Errorf("fallback returned daily dose %s outside supported range", result.PerDay)
	}
	if result.Confidence.IsNegative() || result.Confidence.GreaterThan(decimal.NewFromInt(1)) {
		metrics.FallbackRequestsTotal.WithLabelValues("invalid").Inc()
		return Dose{}, decimal.Decimal{}, fmt.Errorf("fallback returned confidence %s outside [0,1]", result.Confidence)
	}

	metrics.FallbackRequestsTotal.WithLabelValues("success").Inc()
	return Dose{Unit: unit, PerDay: result.PerDay}, result.Confidence, nil
}

func (f *FallbackClient) callOnce(ctx context.Context, body []byte) (fallbackResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fallbackResult{}, fmt.Errorf("failed to create fallback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return fallbackResult{}, fmt.Errorf("fallback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fallbackResult{}, &resilience.StatusError{Status: resp.StatusCode}
	}

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return fallbackResult{}, fmt.Errorf("failed to decode fallback response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return fallbackResult{}, fmt.Errorf("fallback response contained no choices")
	}

	content := strings.TrimSpace(wire.Choices[0].Message.Content)
	var result fallbackResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return fallbackResult{}, fmt.Errorf("fallback answer does not match the expected contract: %w", err)
	}
	return result, nil
}
