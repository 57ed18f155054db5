// Package remote talks to the AI analysis and protocol generation services
// over JSON HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"casewizard/internal/domain"
)

// DefaultTimeout bounds one remote request.
const DefaultTimeout = 60 * time.Second

const maxErrorBody = 512

// ErrNoBaseURL is returned when the client has no service URL.
var ErrNoBaseURL = errors.New("remote: base url not configured")

// StatusError is a non-2xx response. It implements domain.StatusCoder so the
// workflow classifies it by status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// StatusCode returns the HTTP status.
func (e *StatusError) StatusCode() int { return e.Code }

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// Client calls the analyzer and protocol endpoints under one base URL.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
}

// NewClient returns a client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type analyzeRequest struct {
	Image string `json:"image_base64"`
}

// Analyze sends the photo to the analyzer. An empty item list is reported as
// a no-data error so it is retried and classified like a 204.
func (c *Client) Analyze(ctx context.Context, image []byte) (domain.AnalysisResult, error) {
	var out domain.AnalysisResult
	req := analyzeRequest{Image: base64.StdEncoding.EncodeToString(image)}
	if err := c.postJSON(ctx, "analyze", "/v1/analyze", req, &out); err != nil {
		return domain.AnalysisResult{}, err
	}
	if len(out.DetectedItems) == 0 {
		return domain.AnalysisResult{}, domain.NewError(domain.KindNoData, "analyze", errors.New("no items detected"))
	}
	out.TreatmentIndication = domain.NormalizeTreatment(string(out.TreatmentIndication))
	for i := range out.DetectedItems {
		item := &out.DetectedItems[i]
		item.TreatmentIndication = domain.NormalizeTreatment(string(item.TreatmentIndication))
		if item.Region == "" {
			item.Region = domain.RegionForTooth(item.ItemID)
		}
	}
	return out, nil
}

// GenerateResinProtocol requests a layered resin protocol.
func (c *Client) GenerateResinProtocol(ctx context.Context, req domain.ProtocolRequest) (domain.ProtocolContent, error) {
	return c.generate(ctx, "resin_protocol", "/v1/protocols/resin", req)
}

// GenerateCementationProtocol requests a cementation protocol.
func (c *Client) GenerateCementationProtocol(ctx context.Context, req domain.ProtocolRequest) (domain.ProtocolContent, error) {
	return c.generate(ctx, "cementation_protocol", "/v1/protocols/cementation", req)
}

func (c *Client) generate(ctx context.Context, op, path string, req domain.ProtocolRequest) (domain.ProtocolContent, error) {
	var out domain.ProtocolContent
	if err := c.postJSON(ctx, op, path, req, &out); err != nil {
		return domain.ProtocolContent{}, err
	}
	if out.Empty() {
		return domain.ProtocolContent{}, domain.NewError(domain.KindNoData, op, errors.New("empty protocol"))
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNoContent {
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
