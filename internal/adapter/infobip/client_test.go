package infobip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/replygrid/replygrid/internal/port/transport"
	"github.com/replygrid/replygrid/internal/resilience"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := NewClient(srv.URL, "test-key", "385912345678", 5*time.Second, 3)
	c.retry = resilience.RetryPolicy{
		MaxRetries:        3,
		Initial:           time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		FreeRateLimitHits: 2,
	}
	return c
}

func TestSendTextPostsWireBody(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messageId": "prov-1",
			"status":    map[string]any{"groupName": "PENDING", "name": "PENDING_ENROUTE"},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	res, err := c.SendText(context.Background(), "385998765432", "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.ProviderMessageID != "prov-1" {
		t.Errorf("provider message id = %q, want prov-1", res.ProviderMessageID)
	}
	if gotPath != "/whatsapp/1/message/text" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "App test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["from"] != "385912345678" || gotBody["to"] != "385998765432" {
		t.Errorf("from/to = %v/%v", gotBody["from"], gotBody["to"])
	}
	content, _ := gotBody["content"].(map[string]any)
	if content["text"] != "hello" {
		t.Errorf("content.text = %v", content["text"])
	}
}

func TestSendTextRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messageId": "prov-2"})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	res, err := c.SendText(context.Background(), "385998765432", "hi")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.ProviderMessageID != "prov-2" {
		t.Errorf("provider message id = %q", res.ProviderMessageID)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestSendTextDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestError":"invalid destination"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if _, err := c.SendText(context.Background(), "not-a-number", "hi"); err == nil {
		t.Fatal("expected error for 400")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestSendTextHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messageId": "prov-3"})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	start := time.Now()
	if _, err := c.SendText(context.Background(), "385998765432", "hi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	// Retry-After of 1s with -25% jitter waits at least 750ms.
	if elapsed := time.Since(start); elapsed < 700*time.Millisecond {
		t.Errorf("elapsed = %v, expected Retry-After to be honored", elapsed)
	}
}

func TestSendTemplateParsesBatchResponse(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"messageId": "tpl-1", "status": map[string]any{"name": "PENDING_ACCEPTED"}},
			},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	res, err := c.SendTemplate(context.Background(), "385998765432", transport.Template{
		Name:      "order_update",
		Variables: []string{"#1234"},
		Language:  "en",
	})
	if err != nil {
		t.Fatalf("SendTemplate: %v", err)
	}
	if res.ProviderMessageID != "tpl-1" {
		t.Errorf("provider message id = %q", res.ProviderMessageID)
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", gotBody["messages"])
	}
}

func TestProbeMediaReportsAdvertisedSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, probe must not transfer the payload", r.Method)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "2048")
	}))
	defer srv.Close()

	c := testClient(t, srv)
	size, ct, err := c.ProbeMedia(context.Background(), srv.URL+"/media/9")
	if err != nil {
		t.Fatalf("ProbeMedia: %v", err)
	}
	if size != 2048 || ct != "image/jpeg" {
		t.Errorf("size = %d content type = %q", size, ct)
	}
}

func TestDownloadMediaEnforcesSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "10485760")
		if r.Method == http.MethodHead {
			return
		}
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if _, err := c.DownloadMedia(context.Background(), srv.URL+"/media/1"); err == nil {
		t.Fatal("expected oversize media to be rejected")
	}
}

func TestDownloadMediaRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if _, err := c.DownloadMedia(context.Background(), srv.URL+"/media/2"); err == nil {
		t.Fatal("expected non-image media to be rejected")
	}
}

func TestDownloadMediaReturnsBytes(t *testing.T) {
	payload := strings.Repeat("x", 128)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	m, err := c.DownloadMedia(context.Background(), srv.URL+"/media/3")
	if err != nil {
		t.Fatalf("DownloadMedia: %v", err)
	}
	if m.Size != 128 || m.ContentType != "image/png" {
		t.Errorf("size = %d content type = %q", m.Size, m.ContentType)
	}
}

func TestPingRejectsBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail on 401")
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	c.retry = resilience.RetryPolicy{MaxRetries: 0, Initial: time.Millisecond, MaxDelay: time.Millisecond}
	c.SetBreaker(resilience.NewBreaker(2, time.Minute))

	_, _ = c.SendText(context.Background(), "385998765432", "a")
	_, _ = c.SendText(context.Background(), "385998765432", "b")
	_, err := c.SendText(context.Background(), "385998765432", "c")
	if err == nil || !strings.Contains(err.Error(), "circuit") {
		t.Fatalf("expected open circuit, got %v", err)
	}
}
