package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samsaffron/relaychat/internal/relay"
	"github.com/samsaffron/relaychat/internal/store"
	"github.com/samsaffron/relaychat/internal/usage"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a relaychat server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient; the
// chat stream has no overall timeout, so callers bound it with ctx.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Upload is a file attached to a chat request.
type Upload struct {
	Name    string
	Content []byte
}

// SendRequest is one chat turn.
type SendRequest struct {
	// ChatID enables persistence of the user and assistant messages.
	ChatID    string
	Model     string
	Reasoning bool
	// Turns is the full conversation; the last turn is the new user message.
	Turns []relay.Turn
	Files []Upload
	// Prices are optional; the server falls back to its catalog.
	Prices   *usage.Prices
	OnUpdate func(relay.Event, *Assistant)
}

// Send streams one chat turn. When ChatID is set, the user message is stored
// first and the finished assistant message afterwards. A persistence failure
// is returned together with the complete assistant message.
func (c *Client) Send(ctx context.Context, req SendRequest) (*Assistant, error) {
	if len(req.Turns) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	if req.ChatID != "" {
		last := req.Turns[len(req.Turns)-1]
		if _, err := c.AppendMessage(ctx, req.ChatID, store.Message{Role: last.Role, Content: last.Content}); err != nil {
			return nil, fmt.Errorf("save user message: %w", err)
		}
	}

	body, contentType, err := buildChatForm(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	a, err := Consume(ctx, resp.Body, req.OnUpdate)
	if err != nil {
		return a, err
	}

	if req.ChatID != "" {
		_, err := c.AppendMessage(ctx, req.ChatID, store.Message{
			Role:         store.RoleAssistant,
			Content:      a.Content,
			InputTokens:  a.TotalInputTokens,
			OutputTokens: a.TotalOutputTokens,
			InputCost:    a.InputCost,
			OutputCost:   a.OutputCost,
			TotalCost:    a.TotalCost,
		})
		if err != nil {
			return a, fmt.Errorf("save assistant message: %w", err)
		}
	}
	return a, nil
}

func buildChatForm(req SendRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	turns, err := json.Marshal(req.Turns)
	if err != nil {
		return nil, "", fmt.Errorf("encode messages: %w", err)
	}
	fields := [][2]string{
		{"messages", string(turns)},
		{"model", req.Model},
		{"reasoningModel", strconv.FormatBool(req.Reasoning)},
	}
	if req.Prices != nil {
		fields = append(fields,
			[2]string{"inputCost", strconv.FormatFloat(req.Prices.InputPerMillion, 'f', -1, 64)},
			[2]string{"outputCost", strconv.FormatFloat(req.Prices.OutputPerMillion, 'f', -1, 64)},
		)
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	for _, f := range req.Files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// CreateChat creates a chat titled from firstPrompt by the server.
func (c *Client) CreateChat(ctx context.Context, firstPrompt string) (*store.Chat, error) {
	var chat store.Chat
	if err := c.doJSON(ctx, http.MethodPost, "/api/chats", map[string]string{"prompt": firstPrompt}, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *Client) ListChats(ctx context.Context) ([]store.Chat, error) {
	var out struct {
		Chats []store.Chat `json:"chats"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

func (c *Client) AppendMessage(ctx context.Context, chatID string, msg store.Message) (*store.Message, error) {
	var saved store.Message
	path := "/api/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, msg, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (c *Client) Messages(ctx context.Context, chatID string) ([]store.Message, error) {
	var out struct {
		Messages []store.Message `json:"messages"`
	}
	path := "/api/chats/" + url.PathEscape(chatID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) Models(ctx context.Context) ([]usage.Model, error) {
	var out struct {
		Models []usage.Model `json:"models"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Usage returns the caller's cumulative cost.
func (c *Client) Usage(ctx context.Context) (float64, error) {
	var out struct {
		TotalCost float64 `json:"totalCost"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/usage", nil, &out); err != nil {
		return 0, err
	}
	return out.TotalCost, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(data))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
