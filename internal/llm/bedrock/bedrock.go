// Package bedrock implements the provider interface for the Amazon Bedrock
// Converse API using bearer token authentication (AWS_BEARER_TOKEN_BEDROCK).
// SigV4 request signing is not implemented; callers holding only access-key
// or profile credentials get a constructor error they can classify.
package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/nerudite/modelgate/internal/llm"
)

const defaultRegion = "us-east-1"

// ErrNoBearerToken is returned by NewClient when the bearer token is missing.
var ErrNoBearerToken = errors.New("bearer token authentication required: AWS_BEARER_TOKEN_BEDROCK is not set")

// Client implements llm.Provider using the Bedrock Converse API.
type Client struct {
	token      string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Bedrock client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Bedrock provider for the given region.
// Fails with ErrNoBearerToken when token is empty.
func NewClient(token, model, region string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrNoBearerToken
	}
	if region == "" {
		region = defaultRegion
	}
	c := &Client{
		token:      token,
		model:      model,
		baseURL:    fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region),
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Name() string { return "bedrock" }

// Generate sends the prompt to the Bedrock Converse API.
func (c *Client) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	apiReq := apiRequest{
		Messages: []apiMessage{
			{Role: "user", Content: []apiContentBlock{{Text: req.Prompt}}},
		},
		InferenceConfig: &apiInferenceConfig{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		},
	}
	if req.System != "" {
		apiReq.System = []apiContentBlock{{Text: req.System}}
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/model/%s/converse", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	resp := c.toResponse(&apiResp)

	c.logger.DebugContext(ctx, "generation completed",
		slog.String("provider", "bedrock"),
		slog.String("model", resp.Model),
		slog.Int("total_tokens", resp.Usage.TotalTokens()),
	)

	return resp, nil
}

func (c *Client) toResponse(apiResp *apiResponse) *llm.Response {
	var text string
	if apiResp.Output != nil {
		for _, b := range apiResp.Output.Message.Content {
			text += b.Text
		}
	}

	resp := &llm.Response{Text: text, Model: c.model}
	if apiResp.Usage != nil {
		resp.Usage = &llm.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		}
	}
	return resp
}

// --- Bedrock Converse API wire types (unexported) ---

type apiRequest struct {
	Messages        []apiMessage        `json:"messages"`
	System          []apiContentBlock   `json:"system,omitempty"`
	InferenceConfig *apiInferenceConfig `json:"inferenceConfig,omitempty"`
}

type apiInferenceConfig struct {
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Text string `json:"text"`
}

type apiResponse struct {
	Output *apiOutput `json:"output,omitempty"`
	Usage  *apiUsage  `json:"usage,omitempty"`
}

type apiOutput struct {
	Message apiMessage `json:"message"`
}

type apiUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}
