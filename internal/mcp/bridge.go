// Package mcp provides an MCP (Model Context Protocol) client bridge that
// connects to external MCP servers, discovers their tools, and exposes them
// through the gateway's tools endpoints.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nerudite/modelgate/internal/config"
)

// ErrToolNotFound reports a call to a tool no connected server exposes.
var ErrToolNotFound = errors.New("unknown tool")

// Tool describes one tool discovered from a connected MCP server.
type Tool struct {
	Name        string         `json:"name"` // "mcp__<server>__<tool>", unique across all servers.
	Server      string         `json:"server"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// CallResult is the outcome of a tool invocation.
type CallResult struct {
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

type toolRef struct {
	server   string
	original string
	client   mcpclient.MCPClient
}

// Bridge manages the lifecycle of MCP client connections.
type Bridge struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients []mcpclient.MCPClient
	tools   []Tool
	byName  map[string]toolRef
}

// NewBridge creates a bridge with no connections.
func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{
		logger: logger,
		byName: make(map[string]toolRef),
	}
}

// ConnectAll connects to every configured server. A failing server is
// logged and skipped; the others stay usable.
func (b *Bridge) ConnectAll(ctx context.Context, cfgs []config.MCPServerConfig) {
	for _, cfg := range cfgs {
		if err := b.Connect(ctx, cfg); err != nil && b.logger != nil {
			b.logger.Error("MCP server connection failed",
				slog.String("server", cfg.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Connect connects to one MCP server, performs the initialization
// handshake, and registers its discovered tools.
func (b *Bridge) Connect(ctx context.Context, cfg config.MCPServerConfig) error {
	c, err := createClient(cfg)
	if err != nil {
		return fmt.Errorf("creating MCP client for %q: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "modelgate",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("MCP initialize for %q: %w", cfg.Name, err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("MCP list tools for %q: %w", cfg.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients = append(b.clients, c)
	for _, t := range listResp.Tools {
		name := fmt.Sprintf("mcp__%s__%s", cfg.Name, t.Name)
		b.tools = append(b.tools, Tool{
			Name:        name,
			Server:      cfg.Name,
			Description: t.Description,
			InputSchema: convertInputSchema(t.InputSchema),
		})
		b.byName[name] = toolRef{server: cfg.Name, original: t.Name, client: c}
	}

	if b.logger != nil {
		b.logger.Info("MCP server connected",
			slog.String("server", cfg.Name),
			slog.String("transport", cfg.Transport),
			slog.Int("tools_discovered", len(listResp.Tools)),
		)
	}
	return nil
}

// Tools returns all discovered tools across connected servers.
func (b *Bridge) Tools() []Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Tool, len(b.tools))
	copy(out, b.tools)
	return out
}

// Call invokes a tool by its namespaced name.
func (b *Bridge) Call(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	b.mu.RLock()
	ref, ok := b.byName[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	if b.logger != nil {
		b.logger.Info("mcp tool executing",
			slog.String("server", ref.server),
			slog.String("tool", ref.original),
		)
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = ref.original
	callReq.Params.Arguments = args

	callResult, err := ref.client.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("MCP call to %s/%s failed: %w", ref.server, ref.original, err)
	}

	return &CallResult{
		Output:  formatContent(callResult.Content),
		IsError: callResult.IsError,
	}, nil
}

// Close shuts down all MCP client connections.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		if err := c.Close(); err != nil && b.logger != nil {
			b.logger.Error("closing MCP client", slog.String("error", err.Error()))
		}
	}
	b.clients = nil
}

// formatContent converts MCP content items to a single string.
func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
		} else {
			// Non-text content (image, audio, resource) serializes as JSON.
			data, _ := json.Marshal(c)
			sb.WriteString(string(data))
		}
	}
	return sb.String()
}

// createClient creates the appropriate MCP client based on transport type.
func createClient(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		env := expandEnvSlice(cfg.Env)
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandEnvMap(cfg.Headers)))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandEnvMap(cfg.Headers)))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// convertInputSchema converts the MCP ToolInputSchema to a plain map.
func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	result := map[string]any{
		"type": schema.Type,
	}
	if schema.Properties != nil {
		result["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		reqAny := make([]any, len(schema.Required))
		for i, r := range schema.Required {
			reqAny[i] = r
		}
		result["required"] = reqAny
	}
	return result
}

// expandEnvSlice converts a map of key→value to a []string of "KEY=expanded_value".
func expandEnvSlice(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

// expandEnvMap returns a new map with values expanded via os.ExpandEnv.
func expandEnvMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
