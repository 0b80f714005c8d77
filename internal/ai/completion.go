package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sami/medbank/internal/logger"
)

// maxTokenCeiling is the hard output ceiling used by the truncation retry.
const maxTokenCeiling = 16384

// jsonDirective is appended to a caller prompt that does not already demand
// JSON output. The structured-output mode also requires the word "json" to
// appear in the conversation.
const jsonDirective = "\n\nRespond with a single valid JSON object and nothing else. Do not wrap it in markdown."

// ClientConfig holds configuration for the completion client.
type ClientConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // per-attempt wall clock
	MaxRetries  int           // transient retry budget
}

// Client issues one chat-completion call per batch against an
// OpenAI-compatible endpoint and enforces the strict-JSON response contract.
type Client struct {
	http        *resty.Client
	model       string
	endpoint    string
	apiKey      string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	maxRetries  int
}

// NewClient creates a new completion client.
func NewClient(cfg *ClientConfig) *Client {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		http:        client,
		model:       cfg.Model,
		endpoint:    strings.TrimSuffix(baseURL, "/") + "/chat/completions",
		apiKey:      cfg.APIKey,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		maxRetries:  retries,
	}
}

// OpenAI-compatible chat completion request/response structures.
type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []chatMessage   `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// batchPayload is the user message body listing the items to correct.
type batchPayload struct {
	Items []BatchItem `json:"items"`
}

// batchEnvelope is the strict response contract.
type batchEnvelope struct {
	Results []BatchResult `json:"results"`
}

// ladder tracks which one-shot downgrade steps have been consumed. Each step
// is applied at most once per Complete call.
type ladder struct {
	droppedTemperature bool
	renamedTokenParam  bool
	raisedCeiling      bool
	droppedJSONMode    bool
}

// Complete sends one batch and returns one result per submitted item id.
//
// A response that is not valid JSON degrades the whole batch to per-item
// error results with a nil error; only exhausted transport retries or
// configuration failures return a *ServiceError.
func (c *Client) Complete(ctx context.Context, items []BatchItem, systemPrompt string) (map[string]BatchResult, error) {
	if c.apiKey == "" || c.model == "" {
		return nil, &ServiceError{Kind: KindUnavailable, Message: "completion service not configured"}
	}
	if len(items) == 0 {
		return map[string]BatchResult{}, nil
	}

	prompt := systemPrompt
	if !strings.Contains(strings.ToLower(prompt), "json") {
		prompt += jsonDirective
	}

	userBody, err := json.Marshal(batchPayload{Items: items})
	if err != nil {
		return nil, &ServiceError{Kind: KindUnavailable, Message: "failed to encode batch", Err: err}
	}

	var st ladder
	transientLeft := c.maxRetries
	backoff := 250 * time.Millisecond

	for {
		req := c.buildRequest(prompt, string(userBody), &st)

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		var parsed chatResponse
		resp, err := c.http.R().
			SetContext(attemptCtx).
			SetBody(req).
			SetResult(&parsed).
			SetError(&parsed).
			// some gateways serve JSON bodies under text/plain
			ForceContentType("application/json").
			Post(c.endpoint)
		cancel()

		if err != nil {
			// Network failure or the per-attempt timeout fired; either way it
			// consumes one transient retry.
			if transientLeft > 0 {
				transientLeft--
				logger.CtxWarn(ctx, "completion request failed, retrying in %s: %v", backoff, err)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, &ServiceError{Kind: KindTransient, Message: "completion request abandoned", Err: ctx.Err()}
				}
				backoff *= 2
				continue
			}
			return nil, &ServiceError{Kind: KindTransient, Message: "completion request failed after retries", Err: err}
		}

		if resp.StatusCode() >= 400 {
			msg := strings.ToLower(errorMessage(&parsed, resp))

			switch {
			case resp.StatusCode() == http.StatusUnauthorized,
				resp.StatusCode() == http.StatusForbidden,
				resp.StatusCode() == http.StatusNotFound:
				return nil, &ServiceError{
					Kind:    KindUnavailable,
					Message: fmt.Sprintf("completion service rejected credentials or endpoint (HTTP %d)", resp.StatusCode()),
				}
			case !st.droppedTemperature && strings.Contains(msg, "temperature"):
				st.droppedTemperature = true
				logger.CtxWarn(ctx, "completion service rejected temperature, retrying without it")
				continue
			case !st.renamedTokenParam && strings.Contains(msg, "max_tokens"):
				st.renamedTokenParam = true
				logger.CtxWarn(ctx, "completion service rejected max_tokens, retrying with max_completion_tokens")
				continue
			case !st.droppedJSONMode && strings.Contains(msg, "response_format"):
				st.droppedJSONMode = true
				logger.CtxWarn(ctx, "completion service rejected structured output, retrying without it")
				continue
			case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
				if transientLeft > 0 {
					transientLeft--
					logger.CtxWarn(ctx, "completion service returned HTTP %d, retrying in %s", resp.StatusCode(), backoff)
					select {
					case <-time.After(backoff):
					case <-ctx.Done():
						return nil, &ServiceError{Kind: KindTransient, Message: "completion request abandoned", Err: ctx.Err()}
					}
					backoff *= 2
					continue
				}
				return nil, &ServiceError{
					Kind:    KindTransient,
					Message: fmt.Sprintf("completion service unavailable (HTTP %d)", resp.StatusCode()),
				}
			default:
				return nil, &ServiceError{
					Kind:    KindUnavailable,
					Message: fmt.Sprintf("completion service rejected request (HTTP %d): %s", resp.StatusCode(), errorMessage(&parsed, resp)),
				}
			}
		}

		if parsed.Error != nil {
			return nil, &ServiceError{Kind: KindUnavailable, Message: "completion service error: " + parsed.Error.Message}
		}
		if len(parsed.Choices) == 0 {
			return c.degradeBatch(items, "empty completion response"), nil
		}

		choice := parsed.Choices[0]
		if choice.FinishReason == "length" && !st.raisedCeiling {
			st.raisedCeiling = true
			logger.CtxWarn(ctx, "completion response truncated, retrying at the maximum token ceiling")
			continue
		}

		return c.mapResults(items, choice.Message.Content), nil
	}
}

func (c *Client) buildRequest(systemPrompt, userBody string, st *ladder) *chatRequest {
	req := &chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userBody},
		},
	}

	if !st.droppedTemperature {
		t := c.temperature
		req.Temperature = &t
	}

	tokens := c.maxTokens
	if st.raisedCeiling {
		tokens = maxTokenCeiling
	}
	if st.renamedTokenParam {
		req.MaxCompletionTokens = tokens
	} else {
		req.MaxTokens = tokens
	}

	if !st.droppedJSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	return req
}

// mapResults applies the strict-JSON contract to the model output. Submitted
// ids with no matching entry become error results; content that fails to
// parse as JSON degrades the entire batch.
func (c *Client) mapResults(items []BatchItem, content string) map[string]BatchResult {
	var envelope batchEnvelope
	if err := json.Unmarshal([]byte(stripFences(content)), &envelope); err != nil {
		return c.degradeBatch(items, "unparsable completion response")
	}

	byID := make(map[string]BatchResult, len(envelope.Results))
	for _, r := range envelope.Results {
		if r.Status == "" {
			if r.Error != "" {
				r.Status = StatusError
			} else {
				r.Status = StatusOK
			}
		}
		byID[r.ID] = r
	}

	out := make(map[string]BatchResult, len(items))
	for _, item := range items {
		if r, ok := byID[item.ID]; ok {
			out[item.ID] = r
			continue
		}
		out[item.ID] = BatchResult{
			ID:     item.ID,
			Status: StatusError,
			Error:  "no response for this item",
		}
	}
	return out
}

func (c *Client) degradeBatch(items []BatchItem, reason string) map[string]BatchResult {
	out := make(map[string]BatchResult, len(items))
	for _, item := range items {
		out[item.ID] = BatchResult{ID: item.ID, Status: StatusError, Error: reason}
	}
	return out
}

// stripFences tolerates models that wrap the JSON object in a markdown code
// block despite the directive.
func stripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func errorMessage(parsed *chatResponse, resp *resty.Response) string {
	if parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(resp.Body())
}
