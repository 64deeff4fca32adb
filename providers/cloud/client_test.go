package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kardelitaitu/auto-ai-sub007/ai"
	"github.com/kardelitaitu/auto-ai-sub007/providers"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func okResponse(content string) chatResponse {
	return chatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []chatChoice{
			{Index: 0, FinishReason: "stop", Message: chatMessage{Role: "assistant", Content: content}},
		},
		Usage: chatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSend_Success(t *testing.T) {
	var got chatRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(okResponse("这是云端回复"))
	})

	c := New(providers.CloudConfig{APIKey: "sk-test", BaseURL: srv.URL}, zap.NewNop())
	resp, err := c.Send(context.Background(), &ai.BackendRequest{
		System: "you are a helpful bot",
		Prompt: "写一条回复",
	})
	require.NoError(t, err)

	assert.Equal(t, "这是云端回复", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 10, resp.PromptTokens)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestSend_NoSystemMessage(t *testing.T) {
	var got chatRequest
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(okResponse("ok"))
	})

	c := New(providers.CloudConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.Send(context.Background(), &ai.BackendRequest{Prompt: "hi"})
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

// ---------------------------------------------------------------------------
// 错误分类
// ---------------------------------------------------------------------------

func TestSend_UnauthorizedNotRetryable(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid api key", "type": "auth"}}`))
	})

	c := New(providers.CloudConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.Send(context.Background(), &ai.BackendRequest{Prompt: "hi"})
	require.Error(t, err)

	var aiErr *ai.Error
	require.ErrorAs(t, err, &aiErr)
	assert.Equal(t, ai.KindProvider, aiErr.Kind)
	assert.False(t, aiErr.Retryable)
	assert.Contains(t, aiErr.Message, "invalid api key")
}

func TestSend_RateLimitedRetryable(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limit exceeded"}}`))
	})

	c := New(providers.CloudConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.Send(context.Background(), &ai.BackendRequest{Prompt: "hi"})
	require.Error(t, err)

	var aiErr *ai.Error
	require.ErrorAs(t, err, &aiErr)
	assert.True(t, aiErr.Retryable)
}

func TestSend_EmptyChoices(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{Model: "gpt-4o-mini"})
	})

	c := New(providers.CloudConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.Send(context.Background(), &ai.BackendRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, ai.KindProvider, ai.KindOf(err))
}

// ---------------------------------------------------------------------------
// 客户端限速
// ---------------------------------------------------------------------------

func TestSend_RateLimiterSmoothsBurst(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(okResponse("ok"))
	})

	c := New(providers.CloudConfig{
		BaseURL:           srv.URL,
		RequestsPerSecond: 20,
		Burst:             1,
	}, zap.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Send(context.Background(), &ai.BackendRequest{Prompt: "hi"})
		require.NoError(t, err)
	}
	// 1 个突发 + 2 次等待，每次约 50ms
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSend_RateLimiterContextCancelled(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(okResponse("ok"))
	})

	c := New(providers.CloudConfig{
		BaseURL:           srv.URL,
		RequestsPerSecond: 0.001,
		Burst:             1,
	}, zap.NewNop())

	// 耗尽突发额度
	_, err := c.Send(context.Background(), &ai.BackendRequest{Prompt: "hi"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Send(ctx, &ai.BackendRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, ai.IsTimeout(err))
}
