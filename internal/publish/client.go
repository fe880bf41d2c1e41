package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cidwatch/internal/logging"
)

// HTTPStore uploads payloads to an IPFS-compatible add endpoint
// (POST /api/v0/add). The node computes the CID from the payload bytes.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the HTTPStore during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	token      string
}

// NewHTTPStore creates a store for the node API at baseURL.
func NewHTTPStore(baseURL string, opts ...Option) (*HTTPStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("publish: baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &HTTPStore{
		baseURL:    baseURL,
		token:      cfg.token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		cfg.timeout = d
		return nil
	}
}

// WithBearerToken sends an Authorization header on every request
// (pinning services).
func WithBearerToken(token string) Option {
	return func(cfg *clientConfig) error {
		cfg.token = token
		return nil
	}
}

// addResponse is the JSON body returned by /api/v0/add.
type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Put uploads payload and returns the CID assigned by the node.
func (s *HTTPStore) Put(ctx context.Context, payload []byte) (string, error) {
	const operation = "add"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "evidence.json")
	if err != nil {
		return "", &permanentError{fmt.Errorf("%s: build form: %w", operation, err)}
	}
	if _, err := part.Write(payload); err != nil {
		return "", &permanentError{fmt.Errorf("%s: build form: %w", operation, err)}
	}
	if err := mw.Close(); err != nil {
		return "", &permanentError{fmt.Errorf("%s: build form: %w", operation, err)}
	}

	params := url.Values{}
	params.Set("cid-version", "1")
	params.Set("raw-leaves", "true")
	params.Set("pin", "true")
	u := fmt.Sprintf("%s/api/v0/add?%s", s.baseURL, params.Encode())

	var out addResponse
	if err := s.doJSON(ctx, http.MethodPost, u, operation, mw.FormDataContentType(), &body, &out); err != nil {
		return "", err
	}
	if out.Hash == "" {
		return "", &permanentError{fmt.Errorf("%s: response missing Hash", operation)}
	}
	return out.Hash, nil
}

// doJSON executes an HTTP request and decodes the JSON response into dst.
// If the response has an error status, it returns an *APIError.
func (s *HTTPStore) doJSON(ctx context.Context, method, u, operation, contentType string, body io.Reader, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &permanentError{fmt.Errorf("%s: create request: %w", operation, err)}
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	s.logger.DebugContext(ctx, "API request", "operation", operation, "method", method, "url", u)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", operation, err)
	}
	defer resp.Body.Close()

	s.logger.DebugContext(ctx, "API response", "operation", operation, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = resp.Status
		}
		return newAPIError(operation, resp.StatusCode, msg)
	}

	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("%s: decode response: %w", operation, err)
		}
	}
	return nil
}
