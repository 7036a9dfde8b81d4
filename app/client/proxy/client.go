package proxy

import (
	"bytes"
	"context"
	"critiquebar/app/config"
	"critiquebar/app/service/chat"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/do"
)

const (
	chatPath          = "/api/chat"
	chatStreamPath    = "/api/chat/stream"
	settingsPath      = "/api/settings"
	conversationsPath = "/api/conversations"

	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 64 * 1024
)

var (
	_ chat.Poster               = (*Client)(nil)
	_ chat.StreamPoster         = (*Client)(nil)
	_ chat.SettingsProvider     = (*Client)(nil)
	_ chat.ConversationRegistry = (*Client)(nil)
)

// Client talks to the LLM proxy and its settings and conversation endpoints.
type Client struct {
	baseURL string
	client  *http.Client
	// stream bodies outlive any fixed request timeout, only headers are bounded
	streamClient *http.Client
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return New(cfg.Proxy.BaseURL, cfg.Proxy.Timeout), nil
}

func New(baseURL string, timeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{
			Transport: transport,
		},
	}
}

func (c *Client) PostChat(ctx context.Context, payload *chat.Payload) (*chat.Response, error) {
	return c.post(ctx, c.client, chatPath, payload, payload.RequestID)
}

func (c *Client) PostChatStream(ctx context.Context, payload *chat.Payload) (*chat.Response, error) {
	streamPayload := *payload
	streamPayload.Stream = true

	return c.post(ctx, c.streamClient, chatStreamPath, &streamPayload, payload.RequestID)
}

func (c *Client) LoadSettings(ctx context.Context, userID string) (*chat.Settings, error) {
	endpoint, err := c.endpoint(settingsPath)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("user_id", userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching settings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("settings endpoint returned status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var settings chat.Settings
	if err = json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}

	return &settings, nil
}

type createConversationRequest struct {
	UserID string `json:"user_id"`
}

type createConversationResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateConversation(ctx context.Context, userID string) (string, error) {
	resp, err := c.post(ctx, c.client, conversationsPath, createConversationRequest{UserID: userID}, "")
	if err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.Status != http.StatusOK && resp.Status != http.StatusCreated {
		return "", fmt.Errorf("conversation endpoint returned status %d: %s", resp.Status, readSnippet(resp.Body))
	}

	var decoded createConversationResponse
	if err = json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding conversation: %w", err)
	}
	if decoded.ID == "" {
		return "", fmt.Errorf("conversation endpoint returned an empty id")
	}

	return decoded.ID, nil
}

// post returns the raw reply; network errors come back unclassified so the
// transports can decide what is worth retrying.
func (c *Client) post(ctx context.Context, client *http.Client, path string, body any, requestID string) (*chat.Response, error) {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, chat.WrapError(chat.ErrEncoding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, chat.WrapError(chat.ErrInvalidEndpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if path == chatStreamPath {
		req.Header.Set("Accept", "text/event-stream")
	}
	if requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	return &chat.Response{
		Status: resp.StatusCode,
		Body:   resp.Body,
	}, nil
}

func (c *Client) endpoint(path string) (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", chat.WrapError(chat.ErrInvalidEndpoint, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", chat.NewError(chat.ErrInvalidEndpoint, "unsupported scheme %q", parsed.Scheme)
	}
	if host, _, splitErr := net.SplitHostPort(parsed.Host); parsed.Host == "" || (splitErr == nil && host == "") {
		return "", chat.NewError(chat.ErrInvalidEndpoint, "missing host in %q", c.baseURL)
	}

	return c.baseURL + path, nil
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	return strings.TrimSpace(string(data))
}
