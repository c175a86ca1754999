package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	llmerrors "github.com/aktagon/llmkit/errors"
)

// anthropicError builds the error llmkit returns for a non-200 reply
func anthropicError(status int, body string) error {
	return fmt.Errorf("calling Anthropic API: %w", &llmerrors.APIError{
		Provider:   "Anthropic",
		StatusCode: status,
		Message:    body,
		Endpoint:   "https://api.anthropic.com/v1/messages",
	})
}

func TestClassifyServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   error
		wantStatus int
	}{
		{
			name:       "authentication",
			err:        anthropicError(401, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`),
			wantKind:   ErrFatalService,
			wantStatus: 401,
		},
		{
			name:       "permission",
			err:        anthropicError(403, `{"type":"error","error":{"type":"permission_error","message":"no access"}}`),
			wantKind:   ErrFatalService,
			wantStatus: 403,
		},
		{
			name:       "credit balance",
			err:        anthropicError(400, `{"type":"error","error":{"type":"invalid_request_error","message":"Your credit balance is too low to access the Anthropic API."}}`),
			wantKind:   ErrFatalService,
			wantStatus: 400,
		},
		{
			name:       "rate limited",
			err:        anthropicError(429, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`),
			wantKind:   ErrTransientService,
			wantStatus: 429,
		},
		{
			name:       "overloaded",
			err:        anthropicError(529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`),
			wantKind:   ErrTransientService,
			wantStatus: 529,
		},
		{
			name:       "bad gateway with html body",
			err:        anthropicError(502, "<html>502 Bad Gateway</html>"),
			wantKind:   ErrTransientService,
			wantStatus: 502,
		},
		{
			name:       "prompt too long",
			err:        anthropicError(400, `{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long"}}`),
			wantKind:   ErrRequestRejected,
			wantStatus: 400,
		},
		{
			name:       "unwrapped api error",
			err:        &llmerrors.APIError{Provider: "Anthropic", StatusCode: 413, Message: `{"type":"error","error":{"type":"request_too_large"}}`},
			wantKind:   ErrRequestRejected,
			wantStatus: 413,
		},
		{
			name:     "sending request",
			err:      fmt.Errorf("calling Anthropic API: %w", &llmerrors.RequestError{Operation: "sending request", Err: errors.New("dial tcp 10.0.0.1:443: connect: connection refused")}),
			wantKind: ErrTransientService,
		},
		{
			name:     "reading response",
			err:      &llmerrors.RequestError{Operation: "reading response", Err: io.ErrUnexpectedEOF},
			wantKind: ErrTransientService,
		},
		{
			name:     "marshaling request",
			err:      fmt.Errorf("building request body: %w", &llmerrors.RequestError{Operation: "marshaling request body", Err: errors.New("json: unsupported value: NaN")}),
			wantKind: ErrRequestRejected,
		},
		{
			name:     "missing api key",
			err:      &llmerrors.ValidationError{Field: "apiKey", Message: "API key is required"},
			wantKind: ErrFatalService,
		},
		{
			name:     "invalid schema",
			err:      fmt.Errorf("building user prompt: %w", &llmerrors.SchemaError{Field: "type", Message: "schema must have type 'object'"}),
			wantKind: ErrFatalService,
		},
		{
			name:       "status in text from another client",
			err:        errors.New("HTTP 400: invalid_request_error: prompt is too long"),
			wantKind:   ErrRequestRejected,
			wantStatus: 400,
		},
		{
			name:       "reason phrase",
			err:        errors.New("503 Service Unavailable"),
			wantKind:   ErrTransientService,
			wantStatus: 503,
		},
		{
			name:     "deadline",
			err:      fmt.Errorf("reading body: %w", context.DeadlineExceeded),
			wantKind: ErrTransientService,
		},
		{
			name:     "unrecognized",
			err:      errors.New("something odd happened"),
			wantKind: ErrTransientService,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyServiceError(tt.err)

			var svcErr *ServiceError
			if !errors.As(got, &svcErr) {
				t.Fatalf("classifyServiceError() = %T, want *ServiceError", got)
			}
			if !errors.Is(got, tt.wantKind) {
				t.Errorf("kind = %v, want %v", svcErr.Kind, tt.wantKind)
			}
			if svcErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", svcErr.StatusCode, tt.wantStatus)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error does not wrap the original")
			}
		})
	}
}

func TestClassifyServiceErrorPassesThrough(t *testing.T) {
	if got := classifyServiceError(context.Canceled); got != context.Canceled {
		t.Errorf("classifyServiceError(Canceled) = %v, want context.Canceled", got)
	}

	existing := &ServiceError{Kind: ErrFatalService, Err: errors.New("x")}
	if got := classifyServiceError(existing); got != existing {
		t.Errorf("classifyServiceError(ServiceError) = %v, want it unchanged", got)
	}
}

func newTestClassifier(t *testing.T, timeout time.Duration, call promptFunc) *AnthropicClassifier {
	t.Helper()
	prompts, err := NewPromptBuilder(defaultSystemPrompt, defaultUserPrompt, testCatalog(t), nil, NewContentNormalizer(0))
	if err != nil {
		t.Fatalf("NewPromptBuilder() error = %v", err)
	}
	return &AnthropicClassifier{prompts: prompts, timeout: timeout, call: call, slot: make(chan struct{}, 1)}
}

func TestAnthropicClassifierClassify(t *testing.T) {
	var gotSystem, gotUser string
	c := newTestClassifier(t, time.Second, func(systemPrompt, userPrompt string) (string, error) {
		gotSystem, gotUser = systemPrompt, userPrompt
		return `{"neighborhood":"Mission"}`, nil
	})

	text, err := c.Classify(context.Background(), Record{ID: "1", Title: "Fair", Body: "On 24th"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if text != `{"neighborhood":"Mission"}` {
		t.Errorf("Classify() = %q", text)
	}
	if !strings.Contains(gotSystem, "Bernal Heights") {
		t.Errorf("system prompt missing catalog: %q", gotSystem)
	}
	if !strings.Contains(gotUser, "ARTICLE TITLE: Fair") {
		t.Errorf("user prompt = %q", gotUser)
	}
}

func TestAnthropicClassifierMapsErrors(t *testing.T) {
	c := newTestClassifier(t, time.Second, func(string, string) (string, error) {
		return "", anthropicError(403, `{"type":"error","error":{"type":"permission_error","message":"no access"}}`)
	})

	_, err := c.Classify(context.Background(), Record{ID: "1", Title: "t"})
	if !IsFatal(err) {
		t.Errorf("Classify() error = %v, want fatal", err)
	}
}

func TestAnthropicClassifierTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := newTestClassifier(t, 20*time.Millisecond, func(string, string) (string, error) {
		<-release
		return "late", nil
	})

	_, err := c.Classify(context.Background(), Record{ID: "1", Title: "t"})
	if !IsTransient(err) {
		t.Errorf("Classify() error = %v, want transient timeout", err)
	}
}

func TestAnthropicClassifierWaitsForAbandonedCall(t *testing.T) {
	release := make(chan struct{})
	var active, peak, calls atomic.Int32

	c := newTestClassifier(t, 20*time.Millisecond, func(string, string) (string, error) {
		n := active.Add(1)
		defer active.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		if calls.Add(1) == 1 {
			<-release
			return "late", nil
		}
		return `{"neighborhood":"Mission"}`, nil
	})

	if _, err := c.Classify(context.Background(), Record{ID: "1", Title: "t"}); !IsTransient(err) {
		t.Fatalf("first Classify() error = %v, want transient timeout", err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()

	text, err := c.Classify(context.Background(), Record{ID: "1", Title: "t"})
	if err != nil {
		t.Fatalf("second Classify() error = %v", err)
	}
	if text != `{"neighborhood":"Mission"}` {
		t.Errorf("second Classify() = %q", text)
	}
	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrent calls = %d, want 1", got)
	}
}

func TestAnthropicClassifierCanceled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := newTestClassifier(t, time.Minute, func(string, string) (string, error) {
		<-release
		return "late", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, Record{ID: "1", Title: "t"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Classify() error = %v, want context.Canceled", err)
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		t.Errorf("cancellation reported as service error: %v", err)
	}
}

func TestNewAnthropicClassifierRequiresKey(t *testing.T) {
	config := &Config{Settings: mustDefaultSettings(t)}

	if _, err := NewAnthropicClassifier("  ", config, nil); !IsFatal(err) {
		t.Errorf("NewAnthropicClassifier(empty key) error = %v, want fatal", err)
	}

	c, err := NewAnthropicClassifier("sk-test", config, nil)
	if err != nil {
		t.Fatalf("NewAnthropicClassifier() error = %v", err)
	}
	if c.Model() != config.Settings.Classifier.Model {
		t.Errorf("Model() = %q, want %q", c.Model(), config.Settings.Classifier.Model)
	}
}
