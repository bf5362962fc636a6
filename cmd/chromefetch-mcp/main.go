// Command chromefetch-mcp exposes a running chromefetch API to MCP clients
// over stdio.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/chromefetch/models"
)

// apiClient calls the chromefetch HTTP API.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	apiURL := os.Getenv("CHROMEFETCH_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("CHROMEFETCH_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "CHROMEFETCH_API_KEY is required")
		os.Exit(1)
	}

	// A fetch may back off through several attempts, so the timeout is generous.
	c := &apiClient{baseURL: apiURL, apiKey: apiKey, http: &http.Client{Timeout: 10 * time.Minute}}

	if err := server.ServeStdio(newServer(c)); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(c *apiClient) *server.MCPServer {
	s := server.NewMCPServer(
		"chromefetch",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	fetchPageTool := mcp.NewTool("fetch_page",
		mcp.WithDescription("Fetch a web page with a real browser through rotating proxies and return its rendered HTML. Proxy error pages are retried with exponential backoff."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to fetch"),
		),
		mcp.WithNumber("max_attempts",
			mcp.Description("Maximum fetch attempts (default: server setting, max: 10)"),
		),
		mcp.WithBoolean("require_ok",
			mcp.Description("Treat a non-200 navigation status as a failed attempt"),
		),
	)
	s.AddTool(fetchPageTool, handleFetchPage(c))

	resolveDriverTool := mcp.NewTool("resolve_driver",
		mcp.WithDescription("Find or download the chromedriver build matching the browser installed on the server, and return its path."),
	)
	s.AddTool(resolveDriverTool, handleResolveDriver(c))

	return s
}

// post sends payload to path and returns the body whatever the status code,
// since error responses carry a structured error.
func (c *apiClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleFetchPage(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		payload := models.FetchRequest{
			URL:         url,
			MaxAttempts: request.GetInt("max_attempts", 0),
			RequireOK:   request.GetBool("require_ok", false),
		}
		body, err := c.post(ctx, "/api/v1/fetch", payload)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp models.FetchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(describeError("fetch failed", resp.Error)), nil
		}

		header := fmt.Sprintf("Title: %s\nAttempts: %d\n", resp.Title, resp.Attempts)
		if resp.Proxy != "" {
			header += fmt.Sprintf("Proxy: %s\n", resp.Proxy)
		}
		return mcp.NewToolResultText(header + "\n" + resp.HTML), nil
	}
}

func handleResolveDriver(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, err := c.post(ctx, "/api/v1/driver/resolve", struct{}{})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp models.ResolveResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(describeError("driver resolution failed", resp.Error)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s (%s)", resp.Path, resp.Platform)), nil
	}
}

func describeError(fallback string, e *models.ErrorDetail) string {
	if e == nil {
		return fallback
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
