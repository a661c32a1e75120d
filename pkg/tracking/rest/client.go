// Package rest talks to a tracking platform over its REST API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the connection settings for one platform.
type Config struct {
	BaseURL   string
	APIKey    string
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
	Timeout   time.Duration
}

// Client implements tracking.Source, tracking.Destination and the archive
// and asset maintenance calls.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *RetryPolicy
}

// New creates a client for the platform at config.BaseURL.
func New(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
		retry:      DefaultRetryPolicy(),
	}
}

// SetRetryPolicy replaces the default retry policy.
func (c *Client) SetRetryPolicy(p *RetryPolicy) {
	c.retry = p
}

// request describes one API call. Body is re-read on every attempt.
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

// do sends req with rate limiting and retries and returns the open response
// for a 2xx status. The caller closes the body.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	target := c.config.BaseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var resp *http.Response
	err := c.retry.Execute(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		var body io.Reader
		if req.body != nil {
			body = bytes.NewReader(req.body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		if req.contentType != "" {
			httpReq.Header.Set("Content-Type", req.contentType)
		}
		if c.config.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		}

		r, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			data, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return &StatusError{Method: req.method, Path: req.path, Code: r.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// getJSON decodes the response of a GET request into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// getBytes reads the full response of a GET request.
func (c *Client) getBytes(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}

// stream opens a GET response for the caller to read.
func (c *Client) stream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// postJSON sends in as a JSON body and decodes the response into out when
// out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	resp, err := c.do(ctx, request{method: http.MethodPost, path: path, body: body, contentType: "application/json"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// postFile uploads content as the "file" part of a multipart form, with
// fields sent as query parameters.
func (c *Client) postFile(ctx context.Context, path string, fields url.Values, fileName string, content io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("buffering upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing form: %w", err)
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		query:       fields,
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func keyQuery(key string) url.Values {
	return url.Values{"experimentKey": {key}}
}
