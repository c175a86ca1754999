package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
	llmerrors "github.com/aktagon/llmkit/errors"
)

// Classifier sends one record to the classification service and returns the
// raw response text. Validity of the text is the parser's concern.
type Classifier interface {
	Classify(ctx context.Context, record Record) (string, error)
}

var errMissingAPIKey = errors.New("API key required: use --api-key flag or ANTHROPIC_API_KEY environment variable")

// promptFunc performs one blocking exchange with the model
type promptFunc func(systemPrompt, userPrompt string) (string, error)

// AnthropicClassifier classifies records with an Anthropic model
type AnthropicClassifier struct {
	prompts *PromptBuilder
	timeout time.Duration
	model   string
	call    promptFunc
	// slot holds at most one outstanding call, including one abandoned on timeout
	slot chan struct{}
}

// NewAnthropicClassifier creates a classifier using the configured request parameters
func NewAnthropicClassifier(apiKey string, config *Config, prompts *PromptBuilder) (*AnthropicClassifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ServiceError{Kind: ErrFatalService, Err: errMissingAPIKey}
	}

	agent := config.Settings.Classifier
	settings := types.RequestSettings{
		Model:       agent.Model,
		MaxTokens:   agent.MaxTokens,
		Temperature: agent.Temperature,
	}
	schema := config.GetSchema()
	boundTransport(config.Settings.RequestTimeout)

	call := func(systemPrompt, userPrompt string) (string, error) {
		response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, schema, apiKey, settings)
		if err != nil {
			return "", err
		}
		if len(response.Content) == 0 {
			return "", nil
		}
		return response.Content[0].Text, nil
	}

	return &AnthropicClassifier{
		prompts: prompts,
		timeout: config.Settings.RequestTimeout,
		model:   agent.Model,
		call:    call,
		slot:    make(chan struct{}, 1),
	}, nil
}

// boundTransport caps how long a request waits for response headers. llmkit
// sends through http.DefaultTransport with no timeout of its own, so this is
// what ends a call abandoned by Classify.
func boundTransport(timeout time.Duration) {
	t, ok := http.DefaultTransport.(*http.Transport)
	if !ok || timeout <= 0 {
		return
	}
	t.ResponseHeaderTimeout = timeout
}

// Model returns the configured model name
func (c *AnthropicClassifier) Model() string {
	return c.model
}

// Classify sends the record and waits at most the configured timeout.
// llmkit calls are not context-aware, so a call abandoned on timeout finishes
// in the background and its reply is discarded. The next call waits for it,
// keeping a single request in flight.
func (c *AnthropicClassifier) Classify(ctx context.Context, record Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	userPrompt, err := c.prompts.User(record)
	if err != nil {
		return "", &ServiceError{Kind: ErrRequestRejected, Err: err}
	}

	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() { <-c.slot }()
		text, err := c.call(c.prompts.System(), userPrompt)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", classifyServiceError(r.err)
		}
		debugLog("raw response for %s: %q", record.ID, r.text)
		return r.text, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &ServiceError{Kind: ErrTransientService, Err: fmt.Errorf("request timed out after %s: %w", c.timeout, ctx.Err())}
		}
		return "", ctx.Err()
	}
}

// Patterns for status codes in errors that do not come from llmkit
var (
	statusPattern = regexp.MustCompile(`(?i)(?:status(?:\s*code)?|http)\s*[:=]?\s*([1-5]\d{2})\b`)
	reasonPattern = regexp.MustCompile(`(?i)\b([45]\d{2})\s+(?:bad request|unauthorized|payment required|forbidden|not found|request timeout|conflict|payload too large|too many requests|internal server error|bad gateway|service unavailable|gateway timeout)`)
)

// Anthropic error types and account-level messages, matched against the
// lowercased response body
var (
	fatalMarkers     = []string{"authentication_error", "permission_error", "invalid x-api-key", "credit balance", "quota", "billing", "not_found_error"}
	transientMarkers = []string{"rate_limit_error", "overloaded_error", "api_error", "timeout", "connection reset", "connection refused", "eof", "temporarily unavailable"}
	rejectedMarkers  = []string{"invalid_request_error", "request_too_large"}
)

// transientOperations are the llmkit request stages that fail on the network
var transientOperations = map[string]bool{
	"sending request":  true,
	"reading response": true,
}

// classifyServiceError maps a vendor client error onto the service error taxonomy.
// llmkit reports non-200 replies as *errors.APIError carrying the status and
// body, and transport failures as *errors.RequestError.
func classifyServiceError(err error) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var (
		apiErr      *llmerrors.APIError
		reqErr      *llmerrors.RequestError
		validateErr *llmerrors.ValidationError
		schemaErr   *llmerrors.SchemaError
		netErr      net.Error
	)
	status := 0
	var kind error
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.StatusCode
		kind = statusKind(status, strings.ToLower(apiErr.Message))
	case errors.As(err, &validateErr), errors.As(err, &schemaErr):
		kind = ErrFatalService
	case errors.As(err, &reqErr):
		kind = ErrRequestRejected
		if transientOperations[reqErr.Operation] {
			kind = ErrTransientService
		}
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		kind = ErrTransientService
	default:
		status = extractStatusCode(err.Error())
		kind = statusKind(status, strings.ToLower(err.Error()))
	}

	if kind == ErrFatalService {
		log.Printf("✗ Classification service refused the account: %v", err)
	}
	return &ServiceError{Kind: kind, StatusCode: status, Err: err}
}

// statusKind maps an HTTP status and lowercased response body to an error kind.
// Account problems reported with a 400 are fatal.
func statusKind(status int, body string) error {
	switch {
	case containsAny(body, fatalMarkers):
		return ErrFatalService
	case status == 401 || status == 402 || status == 403 || status == 404:
		return ErrFatalService
	case status == 408 || status == 409 || status == 429 || status >= 500:
		return ErrTransientService
	case containsAny(body, transientMarkers):
		return ErrTransientService
	case containsAny(body, rejectedMarkers), status >= 400:
		return ErrRequestRejected
	}
	return ErrTransientService
}

// extractStatusCode finds an HTTP status code in an error message, or returns 0
func extractStatusCode(msg string) int {
	for _, re := range []*regexp.Regexp{statusPattern, reasonPattern} {
		if m := re.FindStringSubmatch(msg); m != nil {
			code, err := strconv.Atoi(m[1])
			if err == nil {
				return code
			}
		}
	}
	return 0
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
