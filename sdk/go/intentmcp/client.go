package intentmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 30 * time.Second

// Client speaks the JSON-RPC tool surface of an intentmcpd server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	nextID     atomic.Int64
}

// RPCError is a JSON-RPC level fault.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("intentmcp rpc error %d: %s", e.Code, e.Message)
}

// ToolError is a tool-level failure carried inside a successful RPC response.
type ToolError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("intentmcp tool error [%s]: %s", e.Code, e.Message)
}

// Intent mirrors the server's intent record.
type Intent struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Specification map[string]any `json:"specification"`
	State         string         `json:"state"`
	BackendRef    string         `json:"backend_reference,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
}

// ToolDefinition is one entry of the server's tool catalogue.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// NewClient builds a client for the given server. A nil httpClient gets a
// default with a timeout.
func NewClient(rawURL, token string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("intentmcp: invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, token: token}, nil
}

// Initialize performs the MCP handshake and returns the raw server info.
func (c *Client) Initialize(ctx context.Context) (map[string]any, error) {
	var result map[string]any
	if err := c.call(ctx, "initialize", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTools fetches the tool catalogue.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var result struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a tool and returns its structured payload. A tool-level
// failure is returned as *ToolError, with the partial payload when present.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (map[string]any, error) {
	params := map[string]any{"name": name}
	if arguments != nil {
		params["arguments"] = arguments
	}
	var result struct {
		Structured map[string]any `json:"structuredContent"`
		IsError    bool           `json:"isError"`
	}
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	if result.IsError {
		toolErr := &ToolError{Code: "UNKNOWN", Message: "tool call failed"}
		if raw, ok := result.Structured["error"]; ok {
			if data, err := json.Marshal(raw); err == nil {
				_ = json.Unmarshal(data, toolErr)
			}
		}
		return result.Structured, toolErr
	}
	return result.Structured, nil
}

// CreateIntent creates a Draft intent.
func (c *Client) CreateIntent(ctx context.Context, name, description string, specification map[string]any) (*Intent, error) {
	payload, err := c.CallTool(ctx, "create_intent", map[string]any{
		"name":          name,
		"description":   description,
		"specification": specification,
	})
	if err != nil {
		return nil, err
	}
	return intentFromPayload(payload)
}

// SubmitIntent submits an intent to the backend. On rejection or an
// unavailable backend the persisted record is returned alongside the error.
func (c *Client) SubmitIntent(ctx context.Context, id string) (*Intent, error) {
	payload, err := c.CallTool(ctx, "submit_intent", map[string]any{"id": id})
	in, parseErr := intentFromPayload(payload)
	if err != nil {
		return in, err
	}
	return in, parseErr
}

// GetIntent fetches an intent; with refresh it reconciles against the backend first.
func (c *Client) GetIntent(ctx context.Context, id string, refresh bool) (*Intent, error) {
	args := map[string]any{"id": id}
	if refresh {
		args["refresh"] = true
	}
	payload, err := c.CallTool(ctx, "get_intent", args)
	if err != nil {
		return nil, err
	}
	return intentFromPayload(payload)
}

// ListIntents lists intents with raw filter arguments.
func (c *Client) ListIntents(ctx context.Context, filters map[string]any) ([]Intent, error) {
	payload, err := c.CallTool(ctx, "list_intents", filters)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload["intents"])
	if err != nil {
		return nil, fmt.Errorf("intentmcp: decode intent list: %w", err)
	}
	var intents []Intent
	if err := json.Unmarshal(data, &intents); err != nil {
		return nil, fmt.Errorf("intentmcp: decode intent list: %w", err)
	}
	return intents, nil
}

// UpdateIntent mutates a Draft intent with the given raw arguments.
func (c *Client) UpdateIntent(ctx context.Context, id string, fields map[string]any) (*Intent, error) {
	args := map[string]any{"id": id}
	for k, v := range fields {
		args[k] = v
	}
	payload, err := c.CallTool(ctx, "update_intent", args)
	if err != nil {
		return nil, err
	}
	return intentFromPayload(payload)
}

// TerminateIntent terminates an Active intent.
func (c *Client) TerminateIntent(ctx context.Context, id string) (*Intent, error) {
	payload, err := c.CallTool(ctx, "terminate_intent", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return intentFromPayload(payload)
}

// DeleteIntent deletes a Draft, Failed or Terminated intent.
func (c *Client) DeleteIntent(ctx context.Context, id string) error {
	_, err := c.CallTool(ctx, "delete_intent", map[string]any{"id": id})
	return err
}

func intentFromPayload(payload map[string]any) (*Intent, error) {
	raw, ok := payload["intent"]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("intentmcp: decode intent: %w", err)
	}
	var in Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("intentmcp: decode intent: %w", err)
	}
	return &in, nil
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	request := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	}
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("intentmcp: encode request: %w", err)
	}

	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/rpc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("intentmcp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("intentmcp: perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("intentmcp: server returned %s", resp.Status)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("intentmcp: decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("intentmcp: decode result: %w", err)
	}
	return nil
}
