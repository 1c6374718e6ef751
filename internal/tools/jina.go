package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samsaffron/relaychat/internal/llm"
)

const (
	WebsiteContentToolName = "get_website_content"
	JinaSearchToolName     = "jina_search"

	maxWebContentLength = 50000
)

// JinaClient fetches page text and search results from the Jina reader API.
type JinaClient struct {
	apiKey    string
	readerURL string
	searchURL string
	http      *http.Client
}

func NewJinaClient(apiKey, readerURL, searchURL string, client *http.Client) *JinaClient {
	if readerURL == "" {
		readerURL = "https://r.jina.ai"
	}
	if searchURL == "" {
		searchURL = "https://s.jina.ai"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &JinaClient{
		apiKey:    apiKey,
		readerURL: strings.TrimRight(readerURL, "/"),
		searchURL: strings.TrimRight(searchURL, "/"),
		http:      client,
	}
}

// Read returns the text content of pageURL.
func (c *JinaClient) Read(ctx context.Context, pageURL string) (string, error) {
	return c.get(ctx, c.readerURL+"/"+pageURL)
}

// Search returns the search results page for query.
func (c *JinaClient) Search(ctx context.Context, query string) (string, error) {
	return c.get(ctx, c.searchURL+"/"+url.PathEscape(query))
}

func (c *JinaClient) get(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Return-Format", "text")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP error! status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWebContentLength+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	content := string(body)
	if len(content) > maxWebContentLength {
		content = content[:maxWebContentLength] + "\n\n[Content truncated...]"
	}
	return content, nil
}

// WebsiteContentTool fetches a URL through the reader proxy.
type WebsiteContentTool struct {
	client *JinaClient
}

func NewWebsiteContentTool(client *JinaClient) *WebsiteContentTool {
	return &WebsiteContentTool{client: client}
}

func (t *WebsiteContentTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WebsiteContentToolName,
		Description: "Retrieves the content of a given URL using Jina AI Reader which will return the markdown content of the website.",
		Schema: objectSchema(map[string]interface{}{
			"url": prop("string", "The URL to retrieve the content from."),
		}, "url"),
	}
}

func (t *WebsiteContentTool) Execute(ctx context.Context, args json.RawMessage, userID string) (string, error) {
	var a struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "failed to parse arguments: %v", err)
	}
	if strings.TrimSpace(a.URL) == "" {
		return "", NewToolError(ErrInvalidParams, "url is required")
	}
	content, err := t.client.Read(ctx, a.URL)
	if err != nil {
		return fmt.Sprintf("Error: Unable to fetch URL content. %v", err), nil
	}
	return content, nil
}

// JinaSearchTool runs a web search through the search proxy.
type JinaSearchTool struct {
	client *JinaClient
}

func NewJinaSearchTool(client *JinaClient) *JinaSearchTool {
	return &JinaSearchTool{client: client}
}

func (t *JinaSearchTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        JinaSearchToolName,
		Description: "Performs a web search using Jina AI Reader API and returns the top results.  When using the jina_search tool, please include the query in your response. Also include the URL of the search results.",
		Schema: objectSchema(map[string]interface{}{
			"query": prop("string", "The search query to perform."),
		}, "query"),
	}
}

func (t *JinaSearchTool) Execute(ctx context.Context, args json.RawMessage, userID string) (string, error) {
	var a struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "failed to parse arguments: %v", err)
	}
	results, err := t.client.Search(ctx, a.Query)
	if err != nil {
		return fmt.Sprintf("Error: Unable to perform Jina search. %v", err), nil
	}
	return results, nil
}
