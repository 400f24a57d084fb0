package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/yifany-github/intellispark-chat/internal/domain/model"
	"github.com/yifany-github/intellispark-chat/internal/domain/ports/adapter"
)

// Compile-time assurance this client satisfies the port
var _ adapter.GenerationClient = (*Client)(nil)

// Client issues generation requests against the product's REST backend.
// The caller's context is the only timeout authority: the orchestrator
// bounds and cancels attempts, so no http.Client timeout is set here.
type Client struct {
	base   string // e.g., https://api.intellispark.app
	token  string // service bearer token
	client *http.Client
}

func NewClient(baseURL, serviceToken string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend base url empty")
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		token:  serviceToken,
		client: &http.Client{},
	}, nil
}

func (c *Client) Generate(ctx context.Context, chatID string) (*model.GenerationResult, error) {
	body, _ := json.Marshal(struct {
		ChatID string `json:"chat_id"`
	}{ChatID: chatID})

	url := fmt.Sprintf("%s/api/chats/%s/generate", c.base, chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Unwrap url.Error so the orchestrator sees context.Canceled as-is.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, c.classify(resp)
	}

	var result model.GenerationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// classify reduces a non-2xx response to a structured payload. Backend
// codes pass through unchanged; an unparseable body becomes a generic
// upstream_error carrying the status.
func (c *Client) classify(resp *http.Response) *model.ErrorPayload {
	var envelope struct {
		Error model.ErrorPayload `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		p := envelope.Error
		if p.MessageKey == "" {
			p.MessageKey = model.MsgKeyUpstream
		}
		if p.RetryAfterSeconds == 0 {
			p.RetryAfterSeconds = retryAfterHint(resp)
		}
		return &p
	}
	return &model.ErrorPayload{
		Code:              model.ErrCodeUpstream,
		MessageKey:        model.MsgKeyUpstream,
		RetryAfterSeconds: retryAfterHint(resp),
	}
}

func retryAfterHint(resp *http.Response) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}
