package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embedder produces an embedding vector for arbitrary text. Implements
// internal/search.NodeEmbedder so NearestInsightStrength can embed a node's
// name/label text without this package knowing about Qdrant.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// defaultMaxEmbedChars bounds request size the same way the teacher's
// embedding providers do: truncate at a word boundary rather than let the
// provider reject an oversized request outright.
const defaultMaxEmbedChars = 2000

func truncateText(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	truncated := text[:maxChars]
	if idx := strings.LastIndexByte(truncated, ' '); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated
}

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
	meter      CostRecorder
}

// NewOllamaEmbedder creates an embedder against a local Ollama instance.
// meter may be nil, in which case embed calls aren't cost-logged.
func NewOllamaEmbedder(baseURL, model string, meter CostRecorder) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEmbedder{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		meter:      meter,
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncateText(text, defaultMaxEmbedChars)

	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal ollama embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llm: create ollama embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: send ollama embed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("llm: ollama embed status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm: decode ollama embed response: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("llm: ollama returned empty embedding")
	}
	if e.meter != nil {
		e.meter.RecordEmbeddingCall(ctx, "ollama-embed", result.PromptEvalCount)
	}
	return result.Embeddings[0], nil
}

// OpenAIEmbedder calls OpenAI's /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	httpClient *http.Client
	meter      CostRecorder
}

// NewOpenAIEmbedder creates an embedder against the OpenAI embeddings API.
// meter may be nil, in which case embed calls aren't cost-logged.
func NewOpenAIEmbedder(apiKey, model string, meter CostRecorder) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		meter:      meter,
	}
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncateText(text, defaultMaxEmbedChars)

	reqBody, err := json.Marshal(openAIEmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal openai embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llm: create openai embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: send openai embed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("llm: openai embed status %d: %s", resp.StatusCode, string(body))
	}

	var result openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("llm: decode openai embed response: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("llm: openai returned empty embedding")
	}
	if e.meter != nil {
		e.meter.RecordEmbeddingCall(ctx, "openai-embed", result.Usage.PromptTokens)
	}
	return result.Data[0].Embedding, nil
}

// NoopEmbedder always fails, for configurations with no embedding provider
// set up — NearestInsightStrength's best-effort contract treats this the
// same as any other embedding failure.
type NoopEmbedder struct{}

func (NoopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("llm: no embedding provider configured")
}
