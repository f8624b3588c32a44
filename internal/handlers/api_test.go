package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prompt-refiner-go/internal/config"
	"github.com/prompt-refiner-go/internal/i18n"
	"github.com/prompt-refiner-go/internal/middleware"
	"github.com/prompt-refiner-go/internal/models"
	"github.com/prompt-refiner-go/internal/orchestrator"
	"github.com/prompt-refiner-go/internal/prompts"
	"github.com/prompt-refiner-go/internal/services/ai"
	"github.com/prompt-refiner-go/internal/services/auth"
	"github.com/prompt-refiner-go/internal/services/storage"
	"github.com/prompt-refiner-go/internal/services/usage"
	"github.com/prompt-refiner-go/pkg/logger"
)

const testSecret = "test-secret"

type scriptedCompleter struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *scriptedCompleter) Complete(ctx context.Context, instruction string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", fmt.Errorf("%w: status 502", ai.ErrUpstream)
	}
	s.calls++
	return fmt.Sprintf("**Question set %d**", s.calls), nil
}

func (s *scriptedCompleter) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }
func (allowAll) Reset(string)      {}

type stack struct {
	orch      *orchestrator.Orchestrator
	completer *scriptedCompleter
	localizer *i18n.Localizer
}

func newStack(t *testing.T) *stack {
	t.Helper()
	log := logger.Discard()
	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en", "zh"}})
	if err != nil {
		t.Fatal(err)
	}
	completer := &scriptedCompleter{}
	orch := orchestrator.New(
		storage.NewMemoryStore(&config.ConversationsConfig{}, log),
		usage.NewLimiter(usage.NewMemoryStore(), 5, log),
		completer,
		prompts.Default(),
		nil,
		log,
	)
	return &stack{orch: orch, completer: completer, localizer: localizer}
}

func newTestServer(t *testing.T, limiter middleware.RateLimiter) (*httptest.Server, *stack) {
	t.Helper()
	s := newStack(t)
	h := NewAPIHandler(s.orch, auth.NewHMACVerifier(testSecret, "", ""), limiter, s.localizer, nil, logger.Discard())
	srv := httptest.NewServer(h.Router([]string{"*"}))
	t.Cleanup(srv.Close)
	return srv, s
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueHMACToken(testSecret, userID, userID+"@example.com", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func do(t *testing.T, srv *httptest.Server, method, path, bearer string, body interface{}, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, srv.URL+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func chat(t *testing.T, srv *httptest.Server, bearer, message string) (int, models.ChatResponse, models.ErrorResponse) {
	t.Helper()
	var raw json.RawMessage
	code := do(t, srv, http.MethodPost, "/api/prompt-chat", bearer, models.ChatRequest{Message: message}, &raw)
	var ok models.ChatResponse
	var fail models.ErrorResponse
	if code == http.StatusOK {
		json.Unmarshal(raw, &ok)
	} else {
		json.Unmarshal(raw, &fail)
	}
	return code, ok, fail
}

func TestChatFlowOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, allowAll{})
	tok := token(t, "alice")

	code, reply, _ := chat(t, srv, tok, "I need a prompt for a marketing email")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if reply.CurrentRound != 2 || reply.IsFinalGeneration || reply.RemainingPrompts != 5 {
		t.Errorf("round 1 = %+v", reply)
	}
	if reply.ReplyHTML != "<p><strong>Question set 1</strong></p>" {
		t.Errorf("replyHtml = %q", reply.ReplyHTML)
	}

	chat(t, srv, tok, "small business owners")
	code, reply, _ = chat(t, srv, tok, "Generate")
	if code != http.StatusOK || !reply.IsFinalGeneration || reply.CurrentRound != 3 || reply.RemainingPrompts != 4 {
		t.Errorf("final = %d %+v", code, reply)
	}

	var remaining models.RemainingResponse
	if code := do(t, srv, http.MethodGet, "/api/remaining-prompts", tok, nil, &remaining); code != http.StatusOK || remaining.Remaining != 4 {
		t.Errorf("remaining = %d %+v", code, remaining)
	}

	code, reply, _ = chat(t, srv, tok, "a new idea")
	if code != http.StatusOK || reply.CurrentRound != 2 {
		t.Errorf("after final, next message should start over: %+v", reply)
	}
}

func TestChatErrors(t *testing.T) {
	srv, s := newTestServer(t, allowAll{})
	tok := token(t, "bob")

	code, _, fail := chat(t, srv, tok, strings.Repeat("a", 7001))
	if code != http.StatusBadRequest || fail.Error != "Message is required or too long" {
		t.Errorf("too long = %d %+v", code, fail)
	}
	if s.orch.ActiveConversations() != 0 {
		t.Error("invalid input created a conversation")
	}

	code, _, _ = chat(t, srv, tok, "")
	if code != http.StatusBadRequest {
		t.Errorf("empty = %d", code)
	}

	s.completer.setFail(true)
	code, _, fail = chat(t, srv, tok, "idea")
	if code != http.StatusInternalServerError || fail.Error != "Failed to fetch response from AI" {
		t.Errorf("upstream = %d %+v", code, fail)
	}
}

func TestChatQuotaExceeded(t *testing.T) {
	srv, _ := newTestServer(t, allowAll{})
	tok := token(t, "carol")

	for i := 0; i < 5; i++ {
		chat(t, srv, tok, "idea")
		if code, reply, _ := chat(t, srv, tok, "make it"); code != http.StatusOK || !reply.IsFinalGeneration {
			t.Fatalf("generation %d = %d %+v", i+1, code, reply)
		}
	}

	chat(t, srv, tok, "idea")
	code, _, fail := chat(t, srv, tok, "generate")
	if code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", code)
	}
	if fail.LimitReached == nil || !*fail.LimitReached {
		t.Errorf("limitReached = %v", fail.LimitReached)
	}
	if fail.Error != "Daily limit reached. You can generate 5 prompts per day. Try again tomorrow!" {
		t.Errorf("error = %q", fail.Error)
	}
}

func TestResetConversation(t *testing.T) {
	srv, _ := newTestServer(t, allowAll{})
	tok := token(t, "dave")

	chat(t, srv, tok, "idea")
	chat(t, srv, tok, "answers")

	var resp models.ResetResponse
	if code := do(t, srv, http.MethodPost, "/api/reset-conversation", tok, nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Message != "Conversation reset successfully" {
		t.Errorf("message = %q", resp.Message)
	}

	if _, reply, _ := chat(t, srv, tok, "fresh idea"); reply.CurrentRound != 2 {
		t.Errorf("round after reset = %d", reply.CurrentRound)
	}
}

func TestAuthentication(t *testing.T) {
	srv, _ := newTestServer(t, allowAll{})

	var fail models.ErrorResponse
	if code := do(t, srv, http.MethodPost, "/api/prompt-chat", "", models.ChatRequest{Message: "x"}, &fail); code != http.StatusUnauthorized {
		t.Errorf("no token = %d", code)
	}
	if fail.Error != "Unauthorized: No token provided" {
		t.Errorf("no token error = %q", fail.Error)
	}

	if code := do(t, srv, http.MethodGet, "/api/remaining-prompts", "garbage", nil, &fail); code != http.StatusUnauthorized {
		t.Errorf("bad token = %d", code)
	}
	if fail.Error != "Unauthorized: Invalid token" {
		t.Errorf("bad token error = %q", fail.Error)
	}
}

func TestSecretKey(t *testing.T) {
	srv, _ := newTestServer(t, allowAll{})

	var resp models.SecretResponse
	if code := do(t, srv, http.MethodGet, "/api/get-secret-key", token(t, "erin"), nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Message != "Access Granted" || resp.UserEmail != "erin@example.com" || resp.SecretInfo != "This data is secure." {
		t.Errorf("response = %+v", resp)
	}
}

func TestLocalizedErrors(t *testing.T) {
	srv, _ := newTestServer(t, allowAll{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/remaining-prompts", nil)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var fail models.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&fail)
	if fail.Error != "未授权：未提供令牌" {
		t.Errorf("error = %q", fail.Error)
	}
}

func TestRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}, logger.Discard())
	defer limiter.Stop()
	srv, _ := newTestServer(t, limiter)
	tok := token(t, "frank")

	var remaining models.RemainingResponse
	if code := do(t, srv, http.MethodGet, "/api/remaining-prompts", tok, nil, &remaining); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}

	var fail models.ErrorResponse
	if code := do(t, srv, http.MethodGet, "/api/remaining-prompts", tok, nil, &fail); code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", code)
	}
	if fail.LimitReached == nil || *fail.LimitReached {
		t.Errorf("limitReached = %v, want false", fail.LimitReached)
	}
}

func TestHealthAndCORS(t *testing.T) {
	srv, _ := newTestServer(t, allowAll{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d", resp.StatusCode)
	}
	if resp.Header.Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/prompt-chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{fmt.Errorf("wrap: %w", orchestrator.ErrInvalidInput), http.StatusBadRequest, i18n.MsgInvalidInput},
		{orchestrator.ErrInvalidState, http.StatusBadRequest, i18n.MsgInvalidState},
		{orchestrator.ErrQuotaExceeded, http.StatusTooManyRequests, i18n.MsgDailyLimitReached},
		{auth.ErrMissingToken, http.StatusUnauthorized, i18n.MsgInvalidToken},
		{fmt.Errorf("%w: timeout", ai.ErrUpstream), http.StatusInternalServerError, i18n.MsgUpstreamFailure},
		{fmt.Errorf("%w: redis down", usage.ErrStorage), http.StatusInternalServerError, i18n.MsgInternalError},
		{fmt.Errorf("something else"), http.StatusInternalServerError, i18n.MsgInternalError},
	}
	for _, tt := range tests {
		status, msg, _ := errorStatus(tt.err, 5)
		if status != tt.status || msg != tt.msg {
			t.Errorf("errorStatus(%v) = %d %s, want %d %s", tt.err, status, msg, tt.status, tt.msg)
		}
	}
}
