// Package local implements the Ollama-compatible local inference client.
package local

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

	"github.com/kardelitaitu/auto-ai-sub007/ai"
	"github.com/kardelitaitu/auto-ai-sub007/providers"
)

// Client calls a local Ollama-compatible /api/generate endpoint.
type Client struct {
	cfg    providers.LocalConfig
	name   string
	model  string
	client *http.Client
	logger *zap.Logger
}

// NewText creates a client for the local text model.
func NewText(cfg providers.LocalConfig, logger *zap.Logger) *Client {
	return newClient(cfg, "ollama-text", cfg.TextModel, logger)
}

// NewVision creates a client for the local vision model.
func NewVision(cfg providers.LocalConfig, logger *zap.Logger) *Client {
	return newClient(cfg, "ollama-vision", cfg.VisionModel, logger)
}

func newClient(cfg providers.LocalConfig, name, model string, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		name:   name,
		model:  model,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *Client) Name() string { return c.name }

// Ollama generate API types
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Images  []string        `json:"images,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Send posts a generate request and maps transport failures to tagged errors.
func (c *Client) Send(ctx context.Context, req *ai.BackendRequest) (*ai.BackendResponse, error) {
	body := generateRequest{
		Model:  providers.ChooseModel(req.Model, c.model, "llama3.2"),
		Prompt: req.Prompt,
		System: req.System,
		Images: req.Images,
		Options: generateOptions{
			NumPredict:  req.MaxTokens,
			Temperature: req.Temperature,
		},
	}
	payload, _ := json.Marshal(body)

	endpoint := fmt.Sprintf("%s/api/generate", strings.TrimRight(c.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, transportError(c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, ai.NewError(ai.KindProvider, c.name,
			fmt.Sprintf("local backend status=%d msg=%s", resp.StatusCode, readErrMsg(resp.Body)))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, ai.NewError(ai.KindParse, c.name, fmt.Sprintf("decode response: %v", err))
	}

	return &ai.BackendResponse{
		Content:          gr.Response,
		Model:            gr.Model,
		Provider:         c.name,
		PromptTokens:     gr.PromptEvalCount,
		CompletionTokens: gr.EvalCount,
	}, nil
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

type errResponse struct {
	Error string `json:"error"`
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var er errResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error != "" {
		return er.Error
	}
	return string(data)
}
