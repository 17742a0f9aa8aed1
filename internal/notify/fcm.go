package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const fcmDefaultBaseURL = "https://fcm.googleapis.com"

// TokenSource supplies OAuth2 bearer tokens for the FCM v1 API. Production
// wiring derives these from service-account credentials; tests use a static
// source.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token forever.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// FCMClient sends web-push alerts through the Firebase Cloud Messaging v1
// messages:send endpoint.
type FCMClient struct {
	httpClient *http.Client
	baseURL    string
	projectID  string
	tokens     TokenSource
}

// FCMOption configures the client.
type FCMOption func(*FCMClient)

// WithFCMHTTPClient overrides the underlying HTTP client.
func WithFCMHTTPClient(c *http.Client) FCMOption {
	return func(f *FCMClient) {
		f.httpClient = c
	}
}

// WithFCMBaseURL points the client at a different endpoint. Tests use this
// with httptest servers.
func WithFCMBaseURL(base string) FCMOption {
	return func(f *FCMClient) {
		f.baseURL = strings.TrimRight(base, "/")
	}
}

// NewFCMClient constructs a client for one Firebase project.
func NewFCMClient(projectID string, tokens TokenSource, opts ...FCMOption) *FCMClient {
	f := &FCMClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    fcmDefaultBaseURL,
		projectID:  projectID,
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type fcmEnvelope struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string          `json:"token"`
	Notification fcmNotification `json:"notification"`
	Webpush      *fcmWebpush     `json:"webpush,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmWebpush struct {
	FCMOptions fcmWebpushOptions `json:"fcm_options"`
}

type fcmWebpushOptions struct {
	Link string `json:"link"`
}

// Send implements PushSender.
func (f *FCMClient) Send(ctx context.Context, msg PushMessage) error {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fcm access token: %w", err)
	}

	envelope := fcmEnvelope{Message: fcmMessage{
		Token:        msg.Token,
		Notification: fcmNotification{Title: msg.Title, Body: msg.Body},
	}}
	if msg.Link != "" {
		envelope.Message.Webpush = &fcmWebpush{FCMOptions: fcmWebpushOptions{Link: msg.Link}}
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal fcm message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/messages:send", f.baseURL, f.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fcm request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fcm send: http %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
