// Package client is a Go client for the listing workflow HTTP API.
//
// Usage:
//
//	c := client.New("http://localhost:3000")
//	if _, err := c.Login(ctx, "me@example.com", "secret"); err != nil { ... }
//	rec, err := c.Recognize(ctx, "ebay", client.File{Name: "photo.png", Content: f})
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/szaher/designs/listingmock/internal/auth"
	"github.com/szaher/designs/listingmock/internal/fixtures"
)

// ErrNoCredential is returned by authorized calls made before a token is set.
var ErrNoCredential = errors.New("no credential: log in first")

// APIError is an error response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// File is one upload.
type File struct {
	Name    string
	Content io.Reader
}

// HealthResponse is the response from the health check endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Version     string `json:"version"`
	Backend     string `json:"backend"`
	Artifacts   int64  `json:"artifacts"`
	StrictOrder bool   `json:"strict_order"`
}

// Option configures the Client.
type Option func(*Client)

// WithToken sets the bearer token used for authorized calls.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// Client calls the workflow endpoints. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the bearer token in use, if any.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token; an empty token logs the client out.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Credential, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return auth.Credential{}, fmt.Errorf("marshal request: %w", err)
	}

	var cred auth.Credential
	if err := c.do(ctx, http.MethodPost, "/auth/login", "application/json", bytes.NewReader(body), false, &cred); err != nil {
		return auth.Credential{}, err
	}
	c.SetToken(cred.Token)
	return cred, nil
}

// Recognize uploads one product image and returns the recognition result.
func (c *Client) Recognize(ctx context.Context, marketplace string, image File) (*fixtures.Recognition, error) {
	body, contentType, err := encodeForm(map[string][]File{"image": {image}}, nil)
	if err != nil {
		return nil, err
	}
	var result fixtures.Recognition
	if err := c.do(ctx, http.MethodPost, productPath(marketplace, "recognize"), contentType, body, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Aspects fetches the aspect schema for a marketplace.
func (c *Client) Aspects(ctx context.Context, marketplace string) (*fixtures.AspectSchema, error) {
	var result fixtures.AspectSchema
	if err := c.do(ctx, http.MethodPost, productPath(marketplace, "aspects"), "", nil, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Publish submits the item, JSON-encoded, together with its images.
func (c *Client) Publish(ctx context.Context, marketplace string, item any, images []File) error {
	encoded, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	return c.PublishRaw(ctx, marketplace, string(encoded), images)
}

// PublishRaw is Publish with an item already encoded by the caller.
func (c *Client) PublishRaw(ctx context.Context, marketplace, item string, images []File) error {
	body, contentType, err := encodeForm(map[string][]File{"images": images}, map[string]string{"item": item})
	if err != nil {
		return err
	}
	var result struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, productPath(marketplace, "publish"), contentType, body, true, &result); err != nil {
		return err
	}
	if result.Status != "success" {
		return fmt.Errorf("publish: unexpected status %q", result.Status)
	}
	return nil
}

// Settings fetches the settings map for a marketplace.
func (c *Client) Settings(ctx context.Context, marketplace string) (fixtures.Settings, error) {
	var result struct {
		Settings fixtures.Settings `json:"settings"`
	}
	if err := c.do(ctx, http.MethodGet, "/settings/"+url.PathEscape(marketplace), "", nil, true, &result); err != nil {
		return nil, err
	}
	return result.Settings, nil
}

// Health checks the server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var result HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", "", nil, false, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func productPath(marketplace, step string) string {
	return "/product/" + url.PathEscape(marketplace) + "/" + step
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, authorized bool, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authorized {
		token := c.Token()
		if token == "" {
			return ErrNoCredential
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// encodeForm builds a multipart/form-data body.
func encodeForm(files map[string][]File, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, list := range files {
		for _, f := range list {
			w, err := mw.CreateFormFile(field, f.Name)
			if err != nil {
				return nil, "", fmt.Errorf("encode %s: %w", field, err)
			}
			if _, err := io.Copy(w, f.Content); err != nil {
				return nil, "", fmt.Errorf("read %s: %w", f.Name, err)
			}
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("encode %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
