package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/manash/vardash/pkg/models"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	defaultTimeout = 30 * time.Second

	csrfCookieName = "XSRF-TOKEN"
	csrfHeaderName = "X-XSRF-TOKEN"
)

type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	verbose    bool
}

// New returns a client bound to one backend origin. Each client owns its cookie jar,
// so one client corresponds to one browser session.
func New(cfg *Config) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		return nil, ErrBaseURLRequired
	}

	baseURL, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", raw)
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		verbose: cfg.Verbose,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/user", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	status, body, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(status, ErrRequestFailed); err != nil {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &user, nil
}

func (c *Client) UserImages(ctx context.Context, userID int64) ([]models.ImageRef, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/user-images/"+strconv.FormatInt(userID, 10), nil)
	if err != nil {
		return nil, err
	}

	status, body, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(status, ErrRequestFailed); err != nil {
		return nil, err
	}

	var list models.ImageList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return list.Data, nil
}

// AcquireCSRFCookie primes the jar with the XSRF-TOKEN cookie that later
// state-changing requests echo back in the X-XSRF-TOKEN header.
func (c *Client) AcquireCSRFCookie(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/sanctum/csrf-cookie", nil)
	if err != nil {
		return err
	}

	status, _, err := c.send(req)
	if err != nil {
		return err
	}
	return checkStatus(status, ErrRequestFailed)
}

func (c *Client) UploadImage(ctx context.Context, sel *models.Selection) (int64, error) {
	if sel == nil || len(sel.Data) == 0 {
		return 0, models.ErrEmptySelection
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreatePart(imagePartHeader(sel))
	if err != nil {
		return 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(sel.Data); err != nil {
		return 0, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload-image", &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	if c.verbose {
		slog.DebugContext(ctx, "backend upload",
			"filename", sel.Filename, "content_type", sel.ContentType, "bytes", len(sel.Data))
	}

	status, body, err := c.send(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := checkStatus(status, ErrUploadFailed); err != nil {
		return 0, err
	}

	var resp models.UploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: %v: %v", ErrUploadFailed, ErrMalformedResponse, err)
	}
	id, err := resp.ImageID()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return id, nil
}

func (c *Client) StartGeneration(ctx context.Context, imageID int64) (*models.GenerationResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/generate-variations/"+strconv.FormatInt(imageID, 10), nil)
	if err != nil {
		return nil, err
	}

	status, body, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if err := checkStatus(status, ErrGenerationFailed); err != nil {
		return nil, err
	}

	var resp models.GenerationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrGenerationFailed, ErrMalformedResponse, err)
	}
	return &resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if method != http.MethodGet && method != http.MethodHead {
		if token := c.csrfToken(); token != "" {
			req.Header.Set(csrfHeaderName, token)
		}
	}
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func (c *Client) csrfToken() string {
	for _, cookie := range c.httpClient.Jar.Cookies(c.baseURL) {
		if cookie.Name != csrfCookieName {
			continue
		}
		if v, err := url.QueryUnescape(cookie.Value); err == nil {
			return v
		}
		return cookie.Value
	}
	return ""
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	c.logRequest(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logResponse(req, resp.StatusCode, body)
	return resp.StatusCode, body, nil
}

func checkStatus(status int, failure error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w: status %d", failure, ErrUnauthorized, status)
	case status < 200 || status > 299:
		return fmt.Errorf("%w: status %d", failure, status)
	}
	return nil
}

func imagePartHeader(sel *models.Selection) textproto.MIMEHeader {
	filename := sel.Filename
	if filename == "" {
		filename = "image"
	}
	contentType := sel.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="image"; filename=%q`, filename)},
		"Content-Type":        {contentType},
	}
}

func (c *Client) logRequest(req *http.Request) {
	if !c.verbose {
		return
	}
	slog.DebugContext(req.Context(), "backend request",
		"method", req.Method,
		"url", req.URL.String(),
		"headers", redactHeaders(req.Header))
}

func (c *Client) logResponse(req *http.Request, status int, body []byte) {
	if !c.verbose {
		return
	}
	slog.DebugContext(req.Context(), "backend response",
		"method", req.Method,
		"url", req.URL.String(),
		"status", status,
		"body", truncate(body, 512))
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		value := strings.Join(values, ", ")
		switch strings.ToLower(key) {
		case "authorization", "cookie", strings.ToLower(csrfHeaderName):
			value = "[REDACTED]"
		}
		out[key] = value
	}
	return out
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "... [truncated]"
}
