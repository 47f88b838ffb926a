package sig

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/seligo/rxquant-api/dosage"
	apperrors "github.com/seligo/rxquant-api/errors"
)

// fallbackUpstream fakes the chat-completions service.
type fallbackUpstream struct {
	hits      atomic.Int64
	failFirst atomic.Int64
	content   atomic.Value // string
	lastAuth  atomic.Value // string
	lastUser  atomic.Value // string
	server    *httptest.Server
}

func newFallbackUpstream(t *testing.T) *fallbackUpstream {
	t.Helper()
	up := &fallbackUpstream{}
	up.content.Store(`{"unit":"tablet","perDay":3,"confidence":0.9}`)

	up.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit := up.hits.Add(1)
		up.lastAuth.Store(r.Header.Get("Authorization"))

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(req.Messages) == 2 {
			up.lastUser.Store(req.Messages[1].Content)
		}

		if hit <= up.failFirst.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		answer := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": up.content.Load()}},
			},
		}
		json.NewEncoder(w).Encode(answer)
	}))
	t.Cleanup(up.server.Close)
	return up
}

func newTestFallback(up *fallbackUpstream) *FallbackClient {
	return NewFallbackClient(FallbackConfig{
		Endpoint: up.server.URL,
		Model:    "sig-parser-small",
		APIKey:   "test-key",
	}, up.server.Client())
}

func TestFallbackClientInterpret(t *testing.T) {
	up := newFallbackUpstream(t)
	client := newTestFallback(up)

	dose, confidence, err := client.Interpret(context.Background(), "use as directed")
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if dose.Unit != dosage.UnitTablet {
		t.Errorf("Expected tablet, got %s", dose.Unit)
	}
	if !dose.PerDay.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected perDay 3, got %s", dose.PerDay)
	}
	if !confidence.Equal(decimal.RequireFromString("0.9")) {
		t.Errorf("Expected confidence 0.9, got %s", confidence)
	}

	if got := up.lastAuth.Load(); got != "Bearer test-key" {
		t.Errorf("Expected bearer auth, got %v", got)
	}
	if got := up.lastUser.Load(); got != "use as directed" {
		t.Errorf("Expected the raw sig as the user message, got %v", got)
	}
}

func TestFallbackClientRetriesOnce(t *testing.T) {
	up := newFallbackUpstream(t)
	up.failFirst.Store(1)
	client := newTestFallback(up)

	if _, _, err := client.Interpret(context.Background(), "use as directed"); err != nil {
		t.Fatalf("Expected the retry to recover, got %v", err)
	}
	if got := up.hits.Load(); got != 2 {
		t.Errorf("Expected 2 attempts, got %d", got)
	}
}

func TestFallbackClientGivesUpAfterOneRetry(t *testing.T) {
	up := newFallbackUpstream(t)
	up.failFirst.Store(10)
	client := newTestFallback(up)

	if _, _, err := client.Interpret(context.Background(), "use as directed"); err == nil {
		t.Fatal("Expected failure when the upstream keeps failing")
	}
	if got := up.hits.Load(); got != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", got)
	}
}

func TestFallbackClientRejectsBadAnswers(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		errPart string
	}{
		{name: "unknown unit", content: `{"unit":"sachet","perDay":2,"confidence":0.8}`, errPart: "unknown unit"},
		{name: "per day too high", content: `{"unit":"tablet","perDay":500,"confidence":0.8}`, errPart: "outside supported range"},
		{name: "per day zero", content: `{"unit":"tablet","perDay":0,"confidence":0.8}`, errPart: "outside supported range"},
		{name: "confidence above one", content: `{"unit":"tablet","perDay":2,"confidence":1.5}`, errPart: "outside [0,1]"},
		{name: "not json", content: `take two tablets`, errPart: "expected contract"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			up := newFallbackUpstream(t)
			up.content.Store(tc.content)
			client := newTestFallback(up)

			_, _, err := client.Interpret(context.Background(), "use as directed")
			if err == nil {
				t.Fatal("Expected a validation failure")
			}
			if !strings.Contains(err.Error(), tc.errPart) {
				t.Errorf("Expected error containing %q, got %q", tc.errPart, err.Error())
			}
			if got := up.hits.Load(); got != 1 {
				t.Errorf("Expected malformed answers not to be retried, got %d attempts", got)
			}
		})
	}
}

func TestInterpretUsesFallbackWhenRulesFail(t *testing.T) {
	up := newFallbackUpstream(t)
	interpreter := NewInterpreter(newTestFallback(up))

	got, err := interpreter.Interpret(context.Background(), "use as directed by your physician", "")
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if got.Source != SourceFallback {
		t.Errorf("Expected fallback source, got %s", got.Source)
	}
	if !got.Dose.PerDay.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected perDay 3, got %s", got.Dose.PerDay)
	}
	if !got.Confidence.Equal(decimal.RequireFromString("0.9")) {
		t.Errorf("Expected model confidence 0.9, got %s", got.Confidence)
	}
	if len(got.Notes) == 0 || !strings.Contains(got.Notes[0], "fallback") {
		t.Errorf("Expected a fallback note, got %v", got.Notes)
	}
}

func TestInterpretFallbackFailureBecomesParseError(t *testing.T) {
	up := newFallbackUpstream(t)
	up.failFirst.Store(10)
	interpreter := NewInterpreter(newTestFallback(up))

	_, err := interpreter.Interpret(context.Background(), "use as directed", "")
	if err == nil {
		t.Fatal("Expected a parse error")
	}
	if !apperrors.IsKind(err, apperrors.KindParse) {
		t.Errorf("Expected parse_error, got %v", apperrors.KindOf(err))
	}
}

func TestInterpretOverrideAppliesToFallback(t *testing.T) {
	up := newFallbackUpstream(t)
	interpreter := NewInterpreter(newTestFallback(up))

	got, err := interpreter.Interpret(context.Background(), "use as directed", dosage.UnitCapsule)
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if got.Dose.Unit != dosage.UnitCapsule {
		t.Errorf("Expected the override to win, got %s", got.Dose.Unit)
	}
	if !got.Dose.PerDay.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected perDay unchanged at 3, got %s", got.Dose.PerDay)
	}
}
