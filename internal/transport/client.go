package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skypro1111/signstream/internal/audio"
)

const (
	// DefaultEndpoint is the local processing endpoint chunks are posted to
	DefaultEndpoint = "http://localhost:5000/process-audio"

	// FieldName and FileName identify the single multipart part
	FieldName = "audio_chunk"
	FileName  = "chunk.webm"

	userAgent = "signstream/1.0"
)

// Client sends audio chunks to the translation backend.
// Each Send is one request: no retry, and no deadline beyond the caller's context.
type Client struct {
	config     Config
	httpClient *http.Client
	schema     *jsonschema.Schema

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	failuresByKind  map[ErrorKind]uint64
	activeRequests  int
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains transport client configuration
type Config struct {
	Endpoint string
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests     uint64        `json:"total_requests"`
	SuccessRequests   uint64        `json:"success_requests"`
	FailedRequests    uint64        `json:"failed_requests"`
	NetworkFailures   uint64        `json:"network_failures"`
	BackendErrors     uint64        `json:"backend_errors"`
	MalformedResponse uint64        `json:"malformed_responses"`
	SuccessRate       float64       `json:"success_rate"`
	AvgResponseTime   time.Duration `json:"avg_response_time"`
	ActiveRequests    int           `json:"active_requests"`
}

// NewClient creates a new transport client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}

	u, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint must be http or https, got %q", config.Endpoint)
	}

	schema, err := compileResultSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare response schema: %w", err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:         config,
		httpClient:     httpClient,
		schema:         schema,
		failuresByKind: make(map[ErrorKind]uint64),
	}, nil
}

// Endpoint returns the configured endpoint address
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// Send posts one chunk and waits for the backend's structured answer.
// A well-formed body with success=false is returned as a result, not an error.
func (c *Client) Send(ctx context.Context, chunk *audio.AudioChunk) (*TranslationResult, error) {
	if chunk == nil || len(chunk.Data) == 0 {
		return nil, audio.ErrEmptyChunk
	}

	startTime := time.Now()
	c.beginRequest()

	result, err := c.doRequest(ctx, chunk)
	if err != nil {
		kind, _ := KindOf(err)
		c.endRequest(false, kind, time.Since(startTime))
		return nil, err
	}

	c.endRequest(true, 0, time.Since(startTime))
	return result, nil
}

// doRequest performs a single HTTP request to the backend
func (c *Client) doRequest(ctx context.Context, chunk *audio.AudioChunk) (*TranslationResult, error) {
	body, contentType, err := createMultipartBody(chunk)
	if err != nil {
		return nil, &TransportError{Kind: NetworkFailure, Err: fmt.Errorf("failed to create multipart body: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, &TransportError{Kind: NetworkFailure, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	httpReq.Header.Set("X-Chunk-Sequence", strconv.FormatUint(chunk.Sequence, 10))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Kind: NetworkFailure, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Kind: NetworkFailure, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Kind:       BackendError,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", truncate(string(respBody), 256)),
		}
	}

	result, err := ParseResult(c.schema, respBody)
	if err != nil {
		return nil, &TransportError{Kind: MalformedResponse, Err: err}
	}

	return result, nil
}

// createMultipartBody builds the single-part form carrying the chunk payload
func createMultipartBody(chunk *audio.AudioChunk) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	mimeType := chunk.MimeType
	if mimeType == "" {
		mimeType = audio.MimeType
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FieldName, FileName))
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(chunk.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Statistics methods
func (c *Client) beginRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.activeRequests++
}

func (c *Client) endRequest(success bool, kind ErrorKind, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activeRequests--
	if success {
		c.successRequests++
	} else {
		c.failedRequests++
		c.failuresByKind[kind]++
	}

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:     c.totalRequests,
		SuccessRequests:   c.successRequests,
		FailedRequests:    c.failedRequests,
		NetworkFailures:   c.failuresByKind[NetworkFailure],
		BackendErrors:     c.failuresByKind[BackendError],
		MalformedResponse: c.failuresByKind[MalformedResponse],
		SuccessRate:       successRate,
		AvgResponseTime:   c.avgResponseTime,
		ActiveRequests:    c.activeRequests,
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
