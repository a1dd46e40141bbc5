package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "IntentMCP/internal/errors"
	"IntentMCP/pkg/logger"
)

// CodeBackendUnreachable flags connectivity failures on the diagnostic
// endpoints, as opposed to a classified submission outcome.
const CodeBackendUnreachable xerrors.Code = "BACKEND_UNREACHABLE"

func init() {
	xerrors.Register(CodeBackendUnreachable, xerrors.Attributes{
		Message:   "backend unreachable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// Status classifies the outcome of a backend call.
type Status string

const (
	// StatusAccepted means the backend acknowledged the operation.
	StatusAccepted Status = "accepted"
	// StatusRejected means the backend refused the operation terminally.
	StatusRejected Status = "rejected"
	// StatusUnavailable means the backend could not be reached after
	// exhausting the retry budget. The operation may not have happened.
	StatusUnavailable Status = "unavailable"
	// StatusUnknown means the call ended ambiguously, for example on a
	// timeout after the request may already have been delivered.
	StatusUnknown Status = "unknown"
)

// Result carries the classified outcome of a backend call.
type Result struct {
	Status      Status
	Reference   string
	RemoteState string
	Reason      string
}

// SubmitRequest carries everything needed to create a backend intent.
type SubmitRequest struct {
	IntentID      string
	Name          string
	Description   string
	Specification map[string]any
}

// Config holds backend client parameters.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	RetryBackoffCap time.Duration
}

// Client talks to a TMF921-style intent backend over HTTP. Retries cover
// transport errors and 5xx responses only; 4xx responses are terminal.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenSource
	attempts   int
	backoff    time.Duration
	backoffCap time.Duration
	log        *slog.Logger
}

// NewClient builds a backend client. A nil tokens source disables the
// Authorization header, which only the tests use.
func NewClient(cfg Config, tokens TokenSource, log *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid backend base URL %q", cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	backoffCap := cfg.RetryBackoffCap
	if backoffCap <= 0 {
		backoffCap = 5 * time.Second
	}
	if log == nil {
		log = logger.Named("backend")
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		attempts:   attempts,
		backoff:    backoff,
		backoffCap: backoffCap,
		log:        log,
	}, nil
}

// Submit creates the intent on the backend. The intent id doubles as the
// idempotency key so a retried submission can never create a second entity.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Result, error) {
	payload := buildIntentPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Status: StatusRejected, Reason: "encode intent payload: " + err.Error()}, nil
	}

	resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := c.newRequest(ctx, http.MethodPost, "/intent/", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Idempotency-Key", req.IntentID)
		return httpReq, nil
	})
	if err != nil {
		return classifyTransportFailure(ctx, err), nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		ref := referenceFromResponse(resp)
		if ref == "" {
			return Result{Status: StatusUnknown, Reason: "backend accepted but returned no reference"}, nil
		}
		return Result{Status: StatusAccepted, Reference: ref}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{Status: StatusRejected, Reason: readReason(resp)}, nil
	default:
		return Result{Status: StatusUnavailable, Reason: fmt.Sprintf("backend returned %s", resp.Status)}, nil
	}
}

// FetchStatus queries the backend's view of an intent.
func (c *Client) FetchStatus(ctx context.Context, ref string) (Result, error) {
	if strings.TrimSpace(ref) == "" {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "backend reference must not be empty")
	}
	resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, "/intent/"+url.PathEscape(ref), nil)
	})
	if err != nil {
		return classifyTransportFailure(ctx, err), nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var payload struct {
			ID    string `json:"id"`
			State string `json:"state"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return Result{Status: StatusUnknown, Reference: ref, Reason: "undecodable status response"}, nil
		}
		return Result{Status: StatusAccepted, Reference: ref, RemoteState: payload.State}, nil
	case resp.StatusCode == http.StatusNotFound:
		return Result{Status: StatusRejected, Reference: ref, Reason: "intent not known to backend"}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{Status: StatusRejected, Reference: ref, Reason: readReason(resp)}, nil
	default:
		return Result{Status: StatusUnavailable, Reference: ref, Reason: fmt.Sprintf("backend returned %s", resp.Status)}, nil
	}
}

// Cancel asks the backend to stop fulfilling an intent.
func (c *Client) Cancel(ctx context.Context, ref string) (Result, error) {
	if strings.TrimSpace(ref) == "" {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "backend reference must not be empty")
	}
	resp, err := c.doWithRetry(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodDelete, "/intent/"+url.PathEscape(ref), nil)
	})
	if err != nil {
		return classifyTransportFailure(ctx, err), nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return Result{Status: StatusAccepted, Reference: ref}, nil
	case resp.StatusCode == http.StatusNotFound:
		return Result{Status: StatusRejected, Reference: ref, Reason: "intent not known to backend"}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{Status: StatusRejected, Reference: ref, Reason: readReason(resp)}, nil
	default:
		return Result{Status: StatusUnavailable, Reference: ref, Reason: fmt.Sprintf("backend returned %s", resp.Status)}, nil
	}
}

// Ping checks backend liveness via the health endpoint. No retries.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(CodeBackendUnreachable, err, "backend health check failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return xerrors.New(CodeBackendUnreachable, fmt.Sprintf("backend health returned %s", resp.Status))
	}
	return nil
}

// Mappings fetches the backend's stub catalogue for connectivity diagnostics.
func (c *Client) Mappings(ctx context.Context) ([]map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/__admin/mappings", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(CodeBackendUnreachable, err, "fetch backend mappings")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(CodeBackendUnreachable, fmt.Sprintf("mappings endpoint returned %s", resp.Status))
	}
	var payload struct {
		Mappings []map[string]any `json:"mappings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, xerrors.Wrap(CodeBackendUnreachable, err, "decode backend mappings")
	}
	return payload.Mappings, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build backend request")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// doWithRetry runs the request, retrying transport failures and 5xx
// responses with exponential backoff. The request is rebuilt per attempt so
// bodies are re-readable.
func (c *Client) doWithRetry(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	delay := c.backoff
	for attempt := 1; attempt <= c.attempts; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("backend returned %s", resp.Status)
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if attempt == c.attempts {
				return nil, lastErr
			}
		} else {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == c.attempts {
				return nil, lastErr
			}
		}
		c.log.Warn("backend call failed, retrying",
			"attempt", attempt,
			"max_attempts", c.attempts,
			"delay", delay.String(),
			"error", lastErr.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.backoffCap {
			delay = c.backoffCap
		}
	}
	return nil, lastErr
}

// classifyTransportFailure distinguishes an exhausted retry budget from an
// ambiguous in-flight failure. A cancelled or timed out context means the
// request may have reached the backend, so the outcome is unknown.
func classifyTransportFailure(ctx context.Context, err error) Result {
	if ctx.Err() != nil {
		return Result{Status: StatusUnknown, Reason: err.Error()}
	}
	return Result{Status: StatusUnavailable, Reason: err.Error()}
}

func referenceFromResponse(resp *http.Response) string {
	if loc := resp.Header.Get("Location"); loc != "" {
		parts := strings.Split(strings.TrimRight(loc, "/"), "/")
		return parts[len(parts)-1]
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		return payload.ID
	}
	return ""
}

func readReason(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	reason := strings.TrimSpace(string(data))
	if reason == "" {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, reason)
}

// buildIntentPayload folds the opaque specification into the TMF921 intent
// document. Known attributes are lifted to their canonical positions and the
// EventLiveBroadcast intent type gets the JSON-LD expression the backend
// expects, including the service area folded into property expectations.
func buildIntentPayload(req SubmitRequest) map[string]any {
	spec := req.Specification

	payload := map[string]any{
		"name":        req.Name,
		"description": req.Description,
		"type":        "Intent",
	}

	delivery, ok := spec["deliveryExpectations"]
	if !ok {
		delivery = []any{
			map[string]any{
				"target": "_:service",
				"params": map[string]any{
					"targetDescription": "cat:EventWirelessAccess",
				},
			},
		}
	}
	payload["deliveryExpectations"] = delivery

	if validFor, ok := spec["validFor"]; ok {
		payload["validFor"] = validFor
	}

	propertyExpectations, _ := spec["propertyExpectations"].([]any)

	intentType, _ := spec["intentType"].(string)
	if intentType == "" {
		intentType = "EventLiveBroadcast"
	}
	if intentType == "EventLiveBroadcast" {
		payload["expression"] = map[string]any{
			"context": map[string]any{
				"icm":  "http://www.models.tmforum.org/tio/v1.0/IntentCommonModel#",
				"cat":  "http://www.operator.com/Catalog#",
				"idan": "http://www.idan-tmforum-catalyst.org/IntentDrivenAutonomousNetworks#",
				"geo":  "https://tmforum.org/2020/07/geographicPoint#",
			},
			"idan": map[string]any{
				"EventLiveBroadcast": map[string]any{
					"@type":              "icm:Intent",
					"icm:intentOwner":    "idan:ABCEvents",
					"icm:hasExpectation": []any{},
				},
			},
		}
		if area := serviceAreaPoints(spec["serviceArea"]); len(area) > 0 {
			propertyExpectations = append(propertyExpectations, map[string]any{
				"target": "_:service",
				"params": map[string]any{
					"elb:areaOfService": area,
				},
			})
		}
	}
	if len(propertyExpectations) > 0 {
		payload["propertyExpectations"] = propertyExpectations
	}
	return payload
}

func serviceAreaPoints(raw any) []any {
	points, ok := raw.([]any)
	if !ok {
		return nil
	}
	geo := make([]any, 0, len(points))
	for _, item := range points {
		point, ok := item.(map[string]any)
		if !ok {
			continue
		}
		geo = append(geo, map[string]any{
			"geo:longitude": point["longitude"],
			"geo:latitude":  point["latitude"],
		})
	}
	return geo
}
