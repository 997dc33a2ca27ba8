// Package tinify is a client for the TinyPNG compression API.
package tinify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://api.tinify.com"

// Client wraps the shrink endpoint with rate limiting and error classification.
// The credential is supplied per call; the client holds no key state.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    Limiter
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter throttles every outgoing request.
func WithLimiter(l Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient creates a new provider client.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "tinify-dashboard/1.0 Go",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateRateLimit updates the rate limiter target
func (c *Client) UpdateRateLimit(limit int) {
	if c.limiter != nil {
		c.limiter.SetLimit(limit)
	}
}

// ImageInfo describes one side of a shrink.
type ImageInfo struct {
	Size   int64   `json:"size"`
	Type   string  `json:"type"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	Ratio  float64 `json:"ratio,omitempty"`
	URL    string  `json:"url,omitempty"`
}

// ShrinkResponse is the body of a successful POST /shrink.
type ShrinkResponse struct {
	Input  ImageInfo `json:"input"`
	Output ImageInfo `json:"output"`
}

// Result is a completed compression.
type Result struct {
	Input  ImageInfo
	Output ImageInfo
	Data   []byte

	// CompressionCount is the provider's own count for this key this month,
	// or -1 when the header was missing.
	CompressionCount int
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Validate confirms the provider currently accepts key. It posts an empty
// shrink request: the provider answers "input missing" for a good key.
func (c *Client) Validate(ctx context.Context, key string) error {
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/shrink", key, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	apiErr := decodeError(resp)
	if apiErr.Kind == KindClient && isInputMissing(apiErr.Code) {
		return nil
	}
	return apiErr
}

// Compress shrinks data with key and returns the compressed bytes.
func (c *Client) Compress(ctx context.Context, key string, data []byte) ([]byte, error) {
	res, err := c.Shrink(ctx, key, data)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Shrink uploads data, then downloads the compressed output.
func (c *Client) Shrink(ctx context.Context, key string, data []byte) (*Result, error) {
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/shrink", key, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var shrink ShrinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&shrink); err != nil {
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode, Message: "failed to parse response: " + err.Error(), Err: err}
	}

	location := resp.Header.Get("Location")
	if location == "" {
		location = shrink.Output.URL
	}
	if location == "" {
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode, Message: "response has no output location"}
	}
	outputURL, err := c.resolve(location)
	if err != nil {
		return nil, &Error{Kind: KindServer, Status: resp.StatusCode, Message: "invalid output location: " + err.Error(), Err: err}
	}

	out, err := c.download(ctx, key, outputURL)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Input:            shrink.Input,
		Output:           shrink.Output,
		Data:             out,
		CompressionCount: compressionCount(resp.Header),
	}

	log.Debug().
		Int64("input_size", shrink.Input.Size).
		Int64("output_size", shrink.Output.Size).
		Int("compression_count", result.CompressionCount).
		Msg("Shrink completed")

	return result, nil
}

func (c *Client) download(ctx context.Context, key, outputURL string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, outputURL, key, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connectionError(fmt.Errorf("failed to read output: %w", err))
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, target, key string, body []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, connectionError(err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &Error{Kind: KindClient, Message: "failed to create request: " + err.Error(), Err: err}
	}
	req.SetBasicAuth("api", key)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connectionError(err)
	}
	return resp, nil
}

func (c *Client) resolve(location string) (string, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if loc.IsAbs() {
		return loc.String(), nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(loc).String(), nil
}

func decodeError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(resp.Body)
	apiErr := &Error{
		Kind:   kindForStatus(resp.StatusCode),
		Status: resp.StatusCode,
	}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && (body.Error != "" || body.Message != "") {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func isInputMissing(code string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(code, " ", ""))
	return normalized == "inputmissing"
}

func compressionCount(h http.Header) int {
	v := h.Get("Compression-Count")
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
