package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/use-agent/chromefetch/models"
)

func fakeAPI(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *apiClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return &apiClient{baseURL: srv.URL, apiKey: "k1", http: srv.Client()}
}

func callTool(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", res.Content[0])
	}
	return tc.Text
}

func TestFetchPage(t *testing.T) {
	var got models.FetchRequest
	c := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/fetch" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(models.FetchResponse{
			Success: true, URL: got.URL, HTML: "<html>ok</html>", Title: "OK", Attempts: 3,
			Proxy: "http://u:xxxxx@p:1",
		})
	})

	res, err := handleFetchPage(c)(context.Background(), callTool(map[string]any{
		"url": "https://example.com/", "max_attempts": 5, "require_ok": true,
	}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if res.IsError || !strings.Contains(text, "<html>ok</html>") || !strings.Contains(text, "Attempts: 3") {
		t.Errorf("result = %q", text)
	}
	if got.URL != "https://example.com/" || got.MaxAttempts != 5 || !got.RequireOK {
		t.Errorf("request = %+v", got)
	}
}

func TestFetchPageErrors(t *testing.T) {
	c := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(models.FetchResponse{
			Error: &models.ErrorDetail{Code: models.ErrCodeExhausted, Message: "no usable page"},
		})
	})

	res, _ := handleFetchPage(c)(context.Background(), callTool(map[string]any{"url": "https://example.com/"}))
	if !res.IsError || !strings.Contains(resultText(t, res), models.ErrCodeExhausted) {
		t.Errorf("result = %+v", res)
	}

	res, _ = handleFetchPage(c)(context.Background(), callTool(map[string]any{}))
	if !res.IsError {
		t.Error("missing url accepted")
	}
}

func TestResolveDriver(t *testing.T) {
	c := fakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.ResolveResponse{Success: true, Path: "/cache/120/chromedriver", Platform: "linux"})
	})
	res, err := handleResolveDriver(c)(context.Background(), callTool(nil))
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, res); res.IsError || text != "/cache/120/chromedriver (linux)" {
		t.Errorf("result = %q", text)
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	s := newServer(&apiClient{})
	msg := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"fetch_page", "resolve_driver"} {
		if !strings.Contains(string(out), `"name":"`+name+`"`) {
			t.Errorf("tool %s not listed: %s", name, out)
		}
	}
}
