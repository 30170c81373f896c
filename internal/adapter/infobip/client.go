// Package infobip provides the WhatsApp BSP transport client.
package infobip

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/replygrid/replygrid/internal/port/transport"
	"github.com/replygrid/replygrid/internal/resilience"
)

// MaxMediaBytes caps inbound attachment downloads.
const MaxMediaBytes = 5 << 20

// imageContentTypes are the attachment content types accepted for download.
var imageContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// Client sends WhatsApp messages through the Infobip API on behalf of one
// business number. A process hosting several tenants holds one Client per
// sender.
type Client struct {
	baseURL    string
	apiKey     string
	sender     string
	httpClient *http.Client
	retry      resilience.RetryPolicy
	breaker    *resilience.Breaker
}

// NewClient creates a transport client for the given sender MSISDN.
func NewClient(baseURL, apiKey, sender string, timeout time.Duration, maxRetries int) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		sender:  sender,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry: resilience.DefaultRetryPolicy(maxRetries),
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Sender returns the MSISDN this client sends from.
func (c *Client) Sender() string {
	return c.sender
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Status    struct {
		GroupName string `json:"groupName"`
		Name      string `json:"name"`
	} `json:"status"`
}

// apiError is a failed BSP call. 5xx and 429 responses are retryable; 4xx
// responses other than 429 are not.
type apiError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bsp api error %d: %s", e.status, e.body)
}

func (e *apiError) Retryable() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

func (e *apiError) RetryAfter() (time.Duration, bool) {
	if e.status != http.StatusTooManyRequests {
		return 0, false
	}
	return e.retryAfter, e.retryAfter > 0
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, to, text string) (*transport.SendResult, error) {
	body := map[string]any{
		"from": c.sender,
		"to":   to,
		"content": map[string]any{
			"text": text,
		},
	}
	return c.send(ctx, "/whatsapp/1/message/text", body)
}

// SendImage delivers an image by URL with an optional caption.
func (c *Client) SendImage(ctx context.Context, to, imageURL, caption string) (*transport.SendResult, error) {
	content := map[string]any{
		"mediaUrl": imageURL,
	}
	if caption != "" {
		content["caption"] = caption
	}
	body := map[string]any{
		"from":    c.sender,
		"to":      to,
		"content": content,
	}
	return c.send(ctx, "/whatsapp/1/message/image", body)
}

// SendLocation delivers a location pin.
func (c *Client) SendLocation(ctx context.Context, to string, lat, lon float64, name, address string) (*transport.SendResult, error) {
	content := map[string]any{
		"latitude":  lat,
		"longitude": lon,
	}
	if name != "" {
		content["name"] = name
	}
	if address != "" {
		content["address"] = address
	}
	body := map[string]any{
		"from":    c.sender,
		"to":      to,
		"content": content,
	}
	return c.send(ctx, "/whatsapp/1/message/location", body)
}

// SendTemplate delivers a pre-approved template message.
func (c *Client) SendTemplate(ctx context.Context, to string, tpl transport.Template) (*transport.SendResult, error) {
	language := tpl.Language
	if language == "" {
		language = "en"
	}
	templateData := map[string]any{
		"body": map[string]any{
			"placeholders": emptyNotNil(tpl.Variables),
		},
	}
	if len(tpl.Buttons) > 0 {
		btns := make([]map[string]any, 0, len(tpl.Buttons))
		for _, b := range tpl.Buttons {
			btns = append(btns, map[string]any{"type": "QUICK_REPLY", "parameter": b})
		}
		templateData["buttons"] = btns
	}
	content := map[string]any{
		"templateName": tpl.Name,
		"templateData": templateData,
		"language":     language,
	}
	body := map[string]any{
		"messages": []map[string]any{
			{
				"from":    c.sender,
				"to":      to,
				"content": content,
			},
		},
	}

	raw, err := c.doJSON(ctx, http.MethodPost, "/whatsapp/1/message/template", body)
	if err != nil {
		return nil, fmt.Errorf("send template: %w", err)
	}
	var resp struct {
		Messages []sendResponse `json:"messages"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode template response: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("template response carried no messages")
	}
	return &transport.SendResult{
		ProviderMessageID: resp.Messages[0].MessageID,
		Status:            resp.Messages[0].Status.Name,
	}, nil
}

// ProbeMedia issues a HEAD request and reports the advertised size and
// content type without transferring the payload.
func (c *Client) ProbeMedia(ctx context.Context, mediaURL string) (int64, string, error) {
	head, err := http.NewRequestWithContext(ctx, http.MethodHead, mediaURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("media probe: %w", err)
	}
	c.authorize(head)

	resp, err := c.httpClient.Do(head)
	if err != nil {
		return 0, "", fmt.Errorf("media probe: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, "", &apiError{status: resp.StatusCode, body: "media probe rejected"}
	}
	return resp.ContentLength, mediaType(resp.Header.Get("Content-Type")), nil
}

// DownloadMedia fetches an inbound attachment. A HEAD probe rejects
// oversized or non-image content before any bytes transfer; the GET body
// is additionally capped in case the probe lied.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) (*transport.Media, error) {
	size, ct, err := c.ProbeMedia(ctx, mediaURL)
	if err != nil {
		return nil, err
	}
	if size > MaxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d bytes: %d", MaxMediaBytes, size)
	}
	if ct != "" && !imageContentTypes[ct] {
		return nil, fmt.Errorf("unsupported media content type %q", ct)
	}

	get, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}
	c.authorize(get)

	resp, err := c.httpClient.Do(get)
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &apiError{status: resp.StatusCode, body: "media download rejected"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}
	if len(data) > MaxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", MaxMediaBytes)
	}

	return &transport.Media{
		Data:        data,
		ContentType: mediaType(resp.Header.Get("Content-Type")),
		Size:        int64(len(data)),
	}, nil
}

// Ping verifies the API is reachable with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/account/1/balance", nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("ping: credentials rejected with %d", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ping: api unavailable with %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) send(ctx context.Context, path string, body map[string]any) (*transport.SendResult, error) {
	raw, err := c.doJSON(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", path, err)
	}
	var resp sendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	return &transport.SendResult{
		ProviderMessageID: resp.MessageID,
		Status:            resp.Status.Name,
	}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var result []byte
	attempt := func(ctx context.Context) error {
		call := func() error {
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			c.authorize(req)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return &transportError{err: err}
			}
			defer func() { _ = resp.Body.Close() }()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return &transportError{err: err}
			}

			if resp.StatusCode >= 400 {
				return &apiError{
					status:     resp.StatusCode,
					body:       trimBody(data),
					retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				}
			}

			result = data
			return nil
		}

		if c.breaker != nil {
			return c.breaker.Execute(call)
		}
		return call()
	}

	if err := c.retry.Retry(ctx, attempt); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "App "+c.apiKey)
}

// transportError wraps connection-level failures, which are always worth a
// retry.
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return "bsp unreachable: " + e.err.Error() }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Retryable() bool { return true }

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func mediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

func trimBody(data []byte) string {
	const max = 512
	if len(data) > max {
		data = data[:max]
	}
	return string(data)
}

func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
