package responses

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

	"github.com/rhuss/verlauf/pkg/debug"
	"github.com/rhuss/verlauf/pkg/provider"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// Provider implements provider.Provider for backends that support the
// OpenAI Responses API.
type Provider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// Ensure Provider implements provider.Provider at compile time.
var _ provider.Provider = (*Provider)(nil)

// Config holds configuration for the Responses API provider.
type Config struct {
	// BaseURL is the API root, with or without a trailing /v1.
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// SkipProbe disables the startup check of the /responses endpoint.
	SkipProbe bool
}

// New creates a Provider. Unless cfg.SkipProbe is set, it verifies that
// the backend serves the Responses API before returning.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	p := &Provider{
		endpoint: endpointURL(cfg.BaseURL),
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}

	if !cfg.SkipProbe {
		if err := p.probeEndpoint(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// endpointURL appends the responses path to base, adding /v1 when the
// base is a bare host.
func endpointURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/responses"
	}
	return base + "/v1/responses"
}

// probeEndpoint sends a request that the backend will reject, to prove the
// endpoint exists. Connection errors and plain 404s mean it does not; a
// JSON error body (bad model, missing auth) means it does.
func (p *Provider) probeEndpoint() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	probe := []byte(`{"model":"_probe","input":"probe","store":false}`)
	resp, err := p.post(ctx, probe, false)
	if err != nil {
		return fmt.Errorf("responses: backend at %s is not reachable: %w", p.endpoint, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound && !isAPIError(body) {
		return fmt.Errorf("responses: backend at %s does not support the Responses API (404)", p.endpoint)
	}

	slog.Info("responses provider: backend probe successful",
		"url", p.endpoint,
		"status", resp.StatusCode,
	)
	return nil
}

// isAPIError checks whether body is a JSON error document rather than a
// framework's plain "Not Found" page.
func isAPIError(body []byte) bool {
	var obj struct {
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &obj) != nil {
		return false
	}
	return obj.Message != "" || (obj.Error != nil && obj.Error.Message != "")
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "openai"
}

// Stream starts a streaming call via POST /responses. Non-2xx statuses are
// returned as errors; everything after the headers arrives on the channel.
func (p *Provider) Stream(ctx context.Context, req *provider.Request) (<-chan provider.RawEvent, error) {
	body, err := json.Marshal(translateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("responses: marshal request: %w", err)
	}

	debug.Log("providers", "request", "method", "POST",
		"url", p.endpoint, "model", req.Model, "items", len(req.Input), "tools", len(req.Tools))
	if debug.TraceIsEnabled("providers") {
		debug.Raw("providers", string(body))
	}

	resp, err := p.post(ctx, body, true)
	if err != nil {
		return nil, fmt.Errorf("responses: HTTP request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error != nil && eb.Error.Message != "" {
			return nil, fmt.Errorf("responses: backend error (%d): %s", resp.StatusCode, eb.Error.Message)
		}
		return nil, fmt.Errorf("responses: backend returned %d: %s", resp.StatusCode, debug.Truncate(string(respBody), 256))
	}

	ch := make(chan provider.RawEvent, 32)
	go func() {
		defer resp.Body.Close()
		parseSSEStream(ctx, resp.Body, ch)
	}()

	return ch, nil
}

func (p *Provider) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.httpClient.Do(httpReq)
}

// Close releases provider resources.
func (p *Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
