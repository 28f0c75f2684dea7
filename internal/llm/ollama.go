package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noesis-ai/noesis/internal/retry"
)

// OllamaClient classifies dissonance pairs using a local Ollama chat model.
// Mirrors the teacher's OllamaValidator: same keep_alive warmup strategy,
// same CPU-thread cap, same request/response shapes.
type OllamaClient struct {
	baseURL    string
	model      string
	numThreads int
	httpClient *http.Client
	retryCfg   retry.Config
	meter      CostRecorder
}

// NewOllamaClient creates a classifier against a local Ollama instance.
// numThreads caps inference CPU threads (0 = Ollama's default). meter may be
// nil, in which case calls aren't cost-logged.
func NewOllamaClient(baseURL, model string, numThreads int, meter CostRecorder) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		numThreads: numThreads,
		httpClient: &http.Client{
			Timeout: ollamaPerCallTimeout + 5*time.Second,
		},
		retryCfg: retry.Config{
			APIName:  "ollama",
			Classify: retry.ClassifyHTTPError,
		},
		meter: meter,
	}
}

func (c *OllamaClient) ollamaOpts() *ollamaOptions {
	if c.numThreads > 0 {
		return &ollamaOptions{NumThread: c.numThreads}
	}
	return nil
}

// Warmup loads the model into Ollama's memory so the first real
// classification call doesn't pay the cold-start disk-load penalty.
// Non-fatal if it fails.
func (c *OllamaClient) Warmup(ctx context.Context) error {
	warmCtx, cancel := context.WithTimeout(ctx, ollamaPerCallTimeout)
	defer cancel()

	body, _ := json.Marshal(ollamaChatRequest{
		Model:     c.model,
		Messages:  []ollamaChatMessage{{Role: "user", Content: "hi"}},
		Stream:    false,
		KeepAlive: "72h",
		Options:   c.ollamaOpts(),
	})
	req, err := http.NewRequestWithContext(warmCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollama warmup: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama warmup: request: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama warmup: status %d", resp.StatusCode)
	}
	return nil
}

type ollamaChatRequest struct {
	Model     string              `json:"model"`
	Messages  []ollamaChatMessage `json:"messages"`
	Stream    bool                `json:"stream"`
	KeepAlive string              `json:"keep_alive,omitempty"`
	Options   *ollamaOptions      `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumThread   int     `json:"num_thread,omitempty"`
	Temperature float64 `json:"temperature"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (c *OllamaClient) chat(ctx context.Context, prompt string) (string, Usage, error) {
	callCtx, cancel := context.WithTimeout(ctx, ollamaPerCallTimeout)
	defer cancel()

	opts := c.ollamaOpts()
	if opts == nil {
		opts = &ollamaOptions{}
	}
	opts.Temperature = 0 // classification must be deterministic (§4.F)

	body, err := json.Marshal(ollamaChatRequest{
		Model:     c.model,
		Messages:  []ollamaChatMessage{{Role: "user", Content: prompt}},
		Stream:    false,
		KeepAlive: "72h",
		Options:   opts,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("ollama client: marshal: %w", err)
	}

	var content string
	var usage Usage
	err = retry.Do(ctx, c.retryCfg, nil, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("ollama client: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("ollama client: request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("ollama client: status %d: %s", resp.StatusCode, string(respBody))}
		}

		var result ollamaChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("ollama client: decode response: %w", err)
		}
		content = result.Message.Content
		usage = Usage{InputTokens: result.PromptEvalCount, OutputTokens: result.EvalCount}
		return nil
	})
	if err != nil {
		return "", Usage{}, err
	}
	return content, usage, nil
}

// recordCost logs a chat call's cost via the injected meter. Local model
// rates are typically zero, but the call is still logged for the token
// accounting §4.M requires of every external call.
func (c *OllamaClient) recordCost(ctx context.Context, usage Usage) float64 {
	if c.meter == nil {
		return 0
	}
	return c.meter.RecordChatCall(ctx, "ollama", usage.InputTokens, usage.OutputTokens)
}

func (c *OllamaClient) Classify(ctx context.Context, input ClassifyInput) (ClassifyResult, error) {
	raw, usage, err := c.chat(ctx, formatClassifyPrompt(input))
	if err != nil {
		return ClassifyResult{}, err
	}
	cost := c.recordCost(ctx, usage)
	result, err := ParseClassifyResponse(raw)
	if err != nil {
		return ClassifyResult{}, err
	}
	result.Usage = usage
	result.EstimatedCost = cost
	return result, nil
}

func (c *OllamaClient) Evaluate(ctx context.Context, input EvaluateInput) (EvaluateResult, error) {
	raw, usage, err := c.chat(ctx, input.Prompt)
	if err != nil {
		return EvaluateResult{}, err
	}
	cost := c.recordCost(ctx, usage)
	return EvaluateResult{Raw: raw, Usage: usage, EstimatedCost: cost}, nil
}
