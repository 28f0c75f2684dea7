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

// OpenAIClient classifies dissonance pairs using the OpenAI chat completions
// API. Mirrors the teacher's OpenAIValidator shape, with temperature pinned
// to 0 for deterministic classification.
type OpenAIClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
	retryCfg   retry.Config
	meter      CostRecorder
}

// NewOpenAIClient creates a classifier against the OpenAI API. Fails fast:
// a missing or placeholder key is a construction-time error, not a
// first-call surprise. meter may be nil, in which case calls aren't cost-
// logged (e.g. the probe client constructed before a Meter exists).
func NewOpenAIClient(apiKey, model string, meter CostRecorder) (*OpenAIClient, error) {
	if apiKey == "" || apiKey == "changeme" || apiKey == "sk-placeholder" {
		return nil, fmt.Errorf("llm: openai client requires a real API key")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second,
		},
		retryCfg: retry.Config{
			APIName:  "openai",
			Classify: retry.ClassifyHTTPError,
		},
		meter: meter,
	}, nil
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) chat(ctx context.Context, prompt string) (string, Usage, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	body, err := json.Marshal(openAIChatRequest{
		Model:       c.model,
		Messages:    []openAIChatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("openai client: marshal: %w", err)
	}

	var content string
	var usage Usage
	err = retry.Do(ctx, c.retryCfg, nil, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(callCtx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("openai client: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("openai client: request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("openai client: status %d: %s", resp.StatusCode, string(respBody))}
		}

		var result openAIChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("openai client: decode response: %w", err)
		}
		if len(result.Choices) == 0 {
			return fmt.Errorf("openai client: no choices in response")
		}
		content = result.Choices[0].Message.Content
		usage = Usage{InputTokens: result.Usage.PromptTokens, OutputTokens: result.Usage.CompletionTokens}
		return nil
	})
	if err != nil {
		return "", Usage{}, err
	}
	return content, usage, nil
}

// recordCost logs a chat call's cost via the injected meter, returning the
// computed cost (0 if no meter is wired).
func (c *OpenAIClient) recordCost(ctx context.Context, usage Usage) float64 {
	if c.meter == nil {
		return 0
	}
	return c.meter.RecordChatCall(ctx, "openai", usage.InputTokens, usage.OutputTokens)
}

func (c *OpenAIClient) Classify(ctx context.Context, input ClassifyInput) (ClassifyResult, error) {
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

func (c *OpenAIClient) Evaluate(ctx context.Context, input EvaluateInput) (EvaluateResult, error) {
	raw, usage, err := c.chat(ctx, input.Prompt)
	if err != nil {
		return EvaluateResult{}, err
	}
	cost := c.recordCost(ctx, usage)
	return EvaluateResult{Raw: raw, Usage: usage, EstimatedCost: cost}, nil
}
