package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/grouping"
	"github.com/applyline/applyline/internal/llm"
)

const (
	stageNormalize = "normalize"
	stageEmbed     = "embed"
)

const systemPrompt = `You are an expert resume parsing AI. Analyze the provided resume text and ` +
	`produce a single valid JSON object that strictly follows the provided schema. ` +
	`Calculate durationMonths for every work experience and project yourself (ceiling of fractional months; ` +
	`treat CURRENT/PRESENT/NOW as today). Expand common technical acronyms (AWS, GCP, ERP, CRM, SQL, CI/CD, API) ` +
	`in all text fields. Identify domains of expertise dynamically for monthsOfWorkExperienceByDomain, ` +
	`counting work experience only. Never invent information: use "" or [] when something is missing. ` +
	`Output nothing but the JSON object.`

// Normalize implements llm.Normalizer via chat/completions with a JSON
// response constraint. The caller validates the returned document against
// the resume schema.
func (c *Client) Normalize(ctx context.Context, grouped grouping.Sections) (json.RawMessage, error) {
	rid := uuid.New().String()
	start := time.Now()
	text := grouped.Flatten()

	c.logger.Info("llm.normalize.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"sections", len(grouped),
		"text_len", len(text),
	)

	schema := llm.BuildResumeJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
			{"role": "user", "content": "RESUME_TEXT:\n---\n" + text + "\n---"},
		},
	}

	raw, err := c.post(ctx, stageNormalize, "/chat/completions", body)
	if err != nil {
		c.logger.Error("llm.normalize.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, common.Transient(stageNormalize, "decode provider response", err)
	}
	if len(cc.Choices) == 0 {
		return nil, common.Transient(stageNormalize, "no choices in provider response", nil)
	}

	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		// Ill-formed output is retryable; the model may do better next time.
		return nil, common.Transient(stageNormalize, "provider returned non-JSON content", nil)
	}

	c.logger.Info("llm.normalize.done",
		"req_id", rid,
		"bytes", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return json.RawMessage(content), nil
}

// Embed implements llm.Embedder via the embeddings endpoint.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	rid := uuid.New().String()
	start := time.Now()

	if strings.TrimSpace(text) == "" {
		return nil, common.Permanent(stageEmbed, "empty input text", nil)
	}

	body := map[string]any{
		"model": c.cfg.EmbeddingModel,
		"input": text,
	}
	raw, err := c.post(ctx, stageEmbed, "/embeddings", body)
	if err != nil {
		c.logger.Error("llm.embed.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var er struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, common.Transient(stageEmbed, "decode provider response", err)
	}
	if len(er.Data) == 0 || len(er.Data[0].Embedding) == 0 {
		return nil, common.Transient(stageEmbed, "no embedding in provider response", nil)
	}

	c.logger.Info("llm.embed.done",
		"req_id", rid,
		"dims", len(er.Data[0].Embedding),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return er.Data[0].Embedding, nil
}

// post sends a JSON request and classifies non-2xx responses: 4xx other
// than 408/429 is a content-level rejection (permanent), everything else
// is transient.
func (c *Client) post(ctx context.Context, stage, path string, body any) ([]byte, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, common.Permanent(stage, "encode request", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, common.Permanent(stage, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, common.Transient(stage, "send request", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 == 2 {
		return raw, nil
	}

	msg := fmt.Sprintf("provider status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return nil, common.Transient(stage, msg, nil)
	case resp.StatusCode/100 == 4:
		return nil, common.Permanent(stage, msg, nil)
	default:
		return nil, common.Transient(stage, msg, nil)
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
