// Package cloud implements the OpenAI-compatible cloud inference client.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kardelitaitu/auto-ai-sub007/ai"
	"github.com/kardelitaitu/auto-ai-sub007/providers"
)

// Client calls an OpenAI-compatible /chat/completions endpoint.
// An optional client-side rate limiter smooths request bursts before
// they hit the provider's quota.
type Client struct {
	cfg     providers.CloudConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a cloud client.
func New(cfg providers.CloudConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

func (c *Client) Name() string { return "openai" }

// OpenAI-compatible types
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type errResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Send posts a chat completion request. Images on the request are
// ignored: the cloud path is text only.
func (c *Client) Send(ctx context.Context, req *ai.BackendRequest) (*ai.BackendResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, ai.NewError(ai.KindTimeout, c.Name(), fmt.Sprintf("rate limit wait: %v", err))
		}
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       providers.ChooseModel(req.Model, c.cfg.Model, "gpt-4o-mini"),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	payload, _ := json.Marshal(body)

	endpoint := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapStatus(resp.StatusCode, readErrMsg(resp.Body), c.Name())
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, ai.NewError(ai.KindParse, c.Name(), fmt.Sprintf("decode response: %v", err))
	}
	if len(cr.Choices) == 0 {
		return nil, ai.NewError(ai.KindProvider, c.Name(), "empty choices in response")
	}

	return &ai.BackendResponse{
		Content:          cr.Choices[0].Message.Content,
		Model:            cr.Model,
		Provider:         c.Name(),
		PromptTokens:     cr.Usage.PromptTokens,
		CompletionTokens: cr.Usage.CompletionTokens,
	}, nil
}

func mapStatus(status int, msg, provider string) *ai.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e := ai.NewError(ai.KindProvider, provider, msg)
		e.Retryable = false
		return e
	case http.StatusTooManyRequests:
		return ai.NewError(ai.KindProvider, provider, msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ai.NewError(ai.KindProvider, provider, msg)
	default:
		e := ai.NewError(ai.KindProvider, provider, msg)
		e.Retryable = status >= 500
		return e
	}
}

func transportError(provider string, err error) *ai.Error {
	var nerr interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &nerr) && nerr.Timeout():
		return ai.NewError(ai.KindTimeout, provider, err.Error())
	case errors.Is(err, context.Canceled):
		return ai.NewError(ai.KindTimeout, provider, err.Error())
	default:
		return ai.NewError(ai.KindNetwork, provider, err.Error())
	}
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var er errResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return string(data)
}
