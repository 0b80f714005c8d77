package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testItems() []BatchItem {
	return []BatchItem{
		{ID: "q-1", QuestionText: "Question une", Options: []string{"a", "b", "c"}},
		{ID: "q-2", QuestionText: "Question deux", Options: []string{"a", "b"}},
	}
}

// recordingServer captures decoded chat requests and serves canned handlers in
// sequence, repeating the last one.
type recordingServer struct {
	mu       sync.Mutex
	requests []chatRequest
	handlers []http.HandlerFunc
	srv      *httptest.Server
}

func newRecordingServer(t *testing.T, handlers ...http.HandlerFunc) *recordingServer {
	t.Helper()
	rs := &recordingServer{handlers: handlers}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		rs.mu.Lock()
		rs.requests = append(rs.requests, req)
		n := len(rs.requests) - 1
		rs.mu.Unlock()
		if n >= len(rs.handlers) {
			n = len(rs.handlers) - 1
		}
		rs.handlers[n](w, r)
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *recordingServer) request(i int) chatRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests[i]
}

func (rs *recordingServer) count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.requests)
}

func newTestClient(baseURL string, maxRetries int) *Client {
	return NewClient(&ClientConfig{
		Model:       "test-model",
		APIKey:      "test-key",
		BaseURL:     baseURL,
		MaxTokens:   512,
		Temperature: 0.2,
		Timeout:     5 * time.Second,
		MaxRetries:  maxRetries,
	})
}

func serveContent(content, finishReason string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message":       map[string]string{"content": content},
					"finish_reason": finishReason,
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func serveAPIError(status int, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": message},
		})
	}
}

func TestCompleteSuccess(t *testing.T) {
	envelope := `{"results":[` +
		`{"id":"q-1","status":"ok","correct_answers":[0,2],"global_explanation":"parce que"},` +
		`{"id":"q-2","status":"ok","no_answer":true}]}`
	rs := newRecordingServer(t, serveContent(envelope, "stop"))

	client := newTestClient(rs.srv.URL, 0)
	results, err := client.Complete(context.Background(), testItems(), "Corrige ces questions. Reponds en JSON.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r1 := results["q-1"]
	if r1.Status != StatusOK || len(r1.CorrectAnswers) != 2 || r1.GlobalExplanation != "parce que" {
		t.Errorf("unexpected q-1 result: %+v", r1)
	}
	if r2 := results["q-2"]; !r2.NoAnswer {
		t.Errorf("expected no_answer flag on q-2: %+v", r2)
	}

	req := rs.request(0)
	if req.Model != "test-model" {
		t.Errorf("model = %q", req.Model)
	}
	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("temperature not sent: %+v", req.Temperature)
	}
	if req.MaxTokens != 512 || req.MaxCompletionTokens != 0 {
		t.Errorf("token params = (%d, %d)", req.MaxTokens, req.MaxCompletionTokens)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
		t.Errorf("response format not sent: %+v", req.ResponseFormat)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
}

func TestCompleteTextPlainResponseStillDecodes(t *testing.T) {
	envelope := `{"results":[{"id":"q-1","status":"ok"},{"id":"q-2","status":"ok"}]}`
	rs := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message":       map[string]string{"content": envelope},
					"finish_reason": "stop",
				},
			},
		})
	})

	client := newTestClient(rs.srv.URL, 0)
	results, err := client.Complete(context.Background(), testItems(), "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results["q-1"].Status != StatusOK || results["q-2"].Status != StatusOK {
		t.Errorf("mistyped response body must still decode: %+v", results)
	}
}

func TestCompleteFencedContent(t *testing.T) {
	envelope := "```json\n{\"results\":[{\"id\":\"q-1\",\"status\":\"ok\"},{\"id\":\"q-2\",\"status\":\"ok\"}]}\n```"
	rs := newRecordingServer(t, serveContent(envelope, "stop"))

	client := newTestClient(rs.srv.URL, 0)
	results, err := client.Complete(context.Background(), testItems(), "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results["q-1"].Status != StatusOK {
		t.Errorf("fenced content should still parse: %+v", results["q-1"])
	}
}

func TestCompleteUnparsableContentDegrades(t *testing.T) {
	rs := newRecordingServer(t, serveContent("je ne peux pas repondre", "stop"))

	client := newTestClient(rs.srv.URL, 0)
	results, err := client.Complete(context.Background(), testItems(), "json")
	if err != nil {
		t.Fatalf("degradation must not return an error, got %v", err)
	}
	for _, item := range testItems() {
		r := results[item.ID]
		if r.Status != StatusError || r.Error == "" {
			t.Errorf("item %s should be degraded, got %+v", item.ID, r)
		}
	}
}

func TestCompleteMissingIDBecomesError(t *testing.T) {
	envelope := `{"results":[{"id":"q-1","status":"ok"}]}`
	rs := newRecordingServer(t, serveContent(envelope, "stop"))

	client := newTestClient(rs.srv.URL, 0)
	results, err := client.Complete(context.Background(), testItems(), "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results["q-1"].Status != StatusOK {
		t.Errorf("q-1 should succeed: %+v", results["q-1"])
	}
	if r := results["q-2"]; r.Status != StatusError {
		t.Errorf("q-2 should come back as error: %+v", r)
	}
}

func TestCompleteTemperatureDowngrade(t *testing.T) {
	envelope := `{"results":[{"id":"q-1","status":"ok"},{"id":"q-2","status":"ok"}]}`
	rs := newRecordingServer(t,
		serveAPIError(http.StatusBadRequest, "Unsupported value: 'temperature' does not support 0.2 with this model"),
		serveContent(envelope, "stop"),
	)

	client := newTestClient(rs.srv.URL, 0)
	if _, err := client.Complete(context.Background(), testItems(), "json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.count() != 2 {
		t.Fatalf("expected 2 requests, got %d", rs.count())
	}
	if rs.request(0).Temperature == nil {
		t.Error("first request should carry temperature")
	}
	if rs.request(1).Temperature != nil {
		t.Error("retry should drop temperature")
	}
}

func TestCompleteTokenParamRename(t *testing.T) {
	envelope := `{"results":[{"id":"q-1","status":"ok"},{"id":"q-2","status":"ok"}]}`
	rs := newRecordingServer(t,
		serveAPIError(http.StatusBadRequest, "Unsupported parameter: 'max_tokens' is not supported with this model"),
		serveContent(envelope, "stop"),
	)

	client := newTestClient(rs.srv.URL, 0)
	if _, err := client.Complete(context.Background(), testItems(), "json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, second := rs.request(0), rs.request(1)
	if first.MaxTokens != 512 || first.MaxCompletionTokens != 0 {
		t.Errorf("first request params = (%d, %d)", first.MaxTokens, first.MaxCompletionTokens)
	}
	if second.MaxTokens != 0 || second.MaxCompletionTokens != 512 {
		t.Errorf("retry params = (%d, %d)", second.MaxTokens, second.MaxCompletionTokens)
	}
}

func TestCompleteJSONModeDowngrade(t *testing.T) {
	envelope := `{"results":[{"id":"q-1","status":"ok"},{"id":"q-2","status":"ok"}]}`
	rs := newRecordingServer(t,
		serveAPIError(http.StatusBadRequest, "Invalid parameter: 'response_format' of type 'json_object' is not supported"),
		serveContent(envelope, "stop"),
	)

	client := newTestClient(rs.srv.URL, 0)
	if _, err := client.Complete(context.Background(), testItems(), "json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.request(0).ResponseFormat == nil {
		t.Error("first request should carry response_format")
	}
	if rs.request(1).ResponseFormat != nil {
		t.Error("retry should drop response_format")
	}
}

func TestCompleteTruncationRaisesCeiling(t *testing.T) {
	envelope := `{"results":[{"id":"q-1","status":"ok"},{"id":"q-2","status":"ok"}]}`
	rs := newRecordingServer(t,
		serveContent(`{"results":[`, "length"),
		serveContent(envelope, "stop"),
	)

	client := newTestClient(rs.srv.URL, 0)
	if _, err := client.Complete(context.Background(), testItems(), "json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs.count() != 2 {
		t.Fatalf("expected 2 requests, got %d", rs.count())
	}
	if rs.request(1).MaxTokens != maxTokenCeiling {
		t.Errorf("retry should use the token ceiling, got %d", rs.request(1).MaxTokens)
	}
}

func TestCompleteAuthFailureIsUnavailable(t *testing.T) {
	rs := newRecordingServer(t, serveAPIError(http.StatusUnauthorized, "invalid api key"))

	client := newTestClient(rs.srv.URL, 3)
	_, err := client.Complete(context.Background(), testItems(), "json")
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if rs.count() != 1 {
		t.Errorf("auth failures must not be retried, got %d requests", rs.count())
	}
}

func TestCompleteServerErrorRetries(t *testing.T) {
	envelope := `{"results":[{"id":"q-1","status":"ok"},{"id":"q-2","status":"ok"}]}`
	rs := newRecordingServer(t,
		serveAPIError(http.StatusInternalServerError, "upstream hiccup"),
		serveContent(envelope, "stop"),
	)

	client := newTestClient(rs.srv.URL, 1)
	results, err := client.Complete(context.Background(), testItems(), "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results["q-1"].Status != StatusOK {
		t.Errorf("retry should recover: %+v", results["q-1"])
	}
	if rs.count() != 2 {
		t.Errorf("expected 2 requests, got %d", rs.count())
	}
}

func TestCompleteRetriesExhausted(t *testing.T) {
	rs := newRecordingServer(t, serveAPIError(http.StatusServiceUnavailable, "down"))

	client := newTestClient(rs.srv.URL, 1)
	_, err := client.Complete(context.Background(), testItems(), "json")

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Kind != KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
	if rs.count() != 2 {
		t.Errorf("expected initial attempt plus one retry, got %d", rs.count())
	}
}

func TestCompleteUnconfigured(t *testing.T) {
	client := NewClient(&ClientConfig{})
	_, err := client.Complete(context.Background(), testItems(), "json")
	if !IsUnavailable(err) {
		t.Fatalf("unconfigured client must be unavailable, got %v", err)
	}
}
