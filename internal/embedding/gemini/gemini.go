// Package gemini embeds text with the Google Generative Language API.
package gemini

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

	"dtkrag/internal/domain"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "text-embedding-004"
)

var modelDimensions = map[string]int{
	"text-embedding-004":   768,
	"embedding-001":        768,
	"gemini-embedding-001": 3072,
}

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	Dimensions int
	HTTPClient *http.Client
}

// Client calls models/{model}:batchEmbedContents.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &domain.ConfigError{Field: "gemini api key", Reason: "missing (set GOOGLE_GENERATIVE_AI_API_KEY)"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.Model = strings.TrimPrefix(cfg.Model, "models/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	dim := cfg.Dimensions
	if dim == 0 {
		dim = modelDimensions[cfg.Model]
	}
	if dim == 0 {
		return nil, &domain.ConfigError{Field: "embedding model", Value: cfg.Model, Reason: "unknown vector size, set embedder.dimensions"}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		model:     cfg.Model,
		dimension: dim,
		client:    httpClient,
	}, nil
}

func (c *Client) Name() string      { return "gemini" }
func (c *Client) Model() string     { return c.model }
func (c *Client) Dimension() int    { return c.dimension }
func (c *Client) modelPath() string { return "models/" + c.model }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type embedRequest struct {
	Model                string  `json:"model"`
	Content              content `json:"content"`
	OutputDimensionality int     `json:"outputDimensionality,omitempty"`
}

type batchRequest struct {
	Requests []embedRequest `json:"requests"`
}

type batchResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Embed sends one batchEmbedContents call. The API answers in request order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	body := batchRequest{Requests: make([]embedRequest, len(texts))}
	for i, t := range texts {
		body.Requests[i] = embedRequest{Model: c.modelPath(), Content: content{Parts: []part{{Text: t}}}}
		if c.model == "gemini-embedding-001" {
			body.Requests[i].OutputDimensionality = c.dimension
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, c.fail(0, "encode request", err)
	}
	endpoint := fmt.Sprintf("%s/%s:batchEmbedContents", c.baseURL, c.modelPath())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, c.fail(0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.fail(0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(resp.StatusCode, "read response", err)
	}
	var out batchResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		if msg == "" {
			msg = resp.Status
		}
		return nil, c.fail(resp.StatusCode, msg, nil)
	}
	if decodeErr != nil {
		return nil, c.fail(resp.StatusCode, "decode response", decodeErr)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, c.fail(resp.StatusCode, fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(out.Embeddings)), nil)
	}
	vectors := make([][]float32, len(out.Embeddings))
	for i, e := range out.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (c *Client) fail(status int, msg string, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "request timed out"
	}
	return &domain.ProviderError{Provider: c.Name(), StatusCode: status, Message: msg, Cause: cause}
}
