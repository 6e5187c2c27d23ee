package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/moltworks/colony/pkg/models"
)

type wireEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type wireEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int64 `json:"prompt_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EmbedResult carries the vectors plus token accounting.
type EmbedResult struct {
	Vectors     [][]float32
	InputTokens int64
}

// Embed calls the provider's embeddings endpoint with the same error
// classification as Complete.
func (c *Client) Embed(ctx context.Context, model string, inputs []string) (*EmbedResult, error) {
	payload, err := json.Marshal(wireEmbeddingRequest{Model: model, Input: inputs})
	if err != nil {
		return nil, &CallError{Provider: c.provider, Model: model, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Provider: c.provider, Model: model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &CallError{Provider: c.provider, Model: model, Err: err, transient: true}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &CallError{Provider: c.provider, Model: model, Err: err, transient: true}
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		var wr wireEmbeddingResponse
		if json.Unmarshal(raw, &wr) == nil && wr.Error != nil {
			msg = wr.Error.Message
		}
		return nil, &CallError{
			Provider:   c.provider,
			Model:      model,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", msg),
			transient:  transientStatus(resp.StatusCode),
		}
	}

	var wr wireEmbeddingResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, &CallError{Provider: c.provider, Model: model, Err: fmt.Errorf("decode response: %w", err), transient: true}
	}
	if len(wr.Data) == 0 {
		return nil, &CallError{Provider: c.provider, Model: model, Err: fmt.Errorf("response has no embeddings"), transient: true}
	}

	out := &EmbedResult{
		Vectors:     make([][]float32, len(wr.Data)),
		InputTokens: wr.Usage.PromptTokens,
	}
	for _, d := range wr.Data {
		if d.Index < 0 || d.Index >= len(out.Vectors) {
			return nil, &CallError{Provider: c.provider, Model: model, Err: fmt.Errorf("embedding index %d out of range", d.Index), transient: true}
		}
		out.Vectors[d.Index] = d.Embedding
	}
	return out, nil
}

// Embed runs one embeddings call for the given catalog model. The call
// sits behind its own breaker endpoint so a broken embeddings path
// never darkens the provider's chat path.
func (g *Gateway) Embed(ctx context.Context, modelID string, inputs []string) (*EmbedResult, error) {
	catalog := g.cfg.Current()
	spec, err := catalog.Model(modelID)
	if err != nil {
		return nil, err
	}
	providerSpec, err := catalog.Provider(spec.Provider)
	if err != nil {
		return nil, err
	}

	breaker := g.breakers.Get(spec.Provider + "/embeddings")
	if err := breaker.Allow(); err != nil {
		return nil, fmt.Errorf("model %s: %w", modelID, err)
	}

	client := g.client(spec.Provider, providerSpec)
	start := time.Now()
	result, callErr := client.Embed(ctx, spec.ID, inputs)
	latency := time.Since(start).Milliseconds()
	switch {
	case callErr == nil:
		breaker.Mark(nil)
	case IsTransient(callErr):
		breaker.Mark(callErr)
	default:
		// Invariant rejections say nothing about provider health.
		breaker.Release()
	}

	usage := &models.ModelUsage{
		Model:     spec.ID,
		Provider:  spec.Provider,
		LatencyMS: latency,
		Success:   callErr == nil,
	}
	if callErr != nil {
		usage.ErrorMessage = callErr.Error()
	} else {
		usage.InputTokens = result.InputTokens
		usage.CostUSD = Cost(spec, result.InputTokens, 0)
	}
	if recordErr := g.usage.RecordUsage(ctx, usage); recordErr != nil {
		slog.Error("Failed to record model usage", "model", spec.ID, "error", recordErr)
	}

	if callErr != nil {
		return nil, callErr
	}
	return result, nil
}
