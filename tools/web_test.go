package tools

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebToolCheckURL(t *testing.T) {
	wt := NewWebTool(Options{AllowedDomains: []string{"example.com"}})
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/page", ""},
		{"https://docs.example.com/page", ""},
		{"ftp://example.com/file", "Invalid scheme: ftp"},
		{"http://localhost:8080/admin", "Blocked domain: localhost"},
		{"http://127.0.0.1/", "Blocked domain: 127.0.0.1"},
		{"http://[::1]:80/", "Blocked domain: ::1"},
		{"https://other.org/", "Domain not in whitelist: other.org"},
		{"https://notexample.com/", "Domain not in whitelist: notexample.com"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := wt.checkURL(tt.url); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

// testWebTool allows the loopback test server.
func testWebTool(opts Options) *WebTool {
	opts.BlockedDomains = []string{"blocked.invalid"}
	return NewWebTool(opts)
}

func TestWebToolJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"method":       r.Method,
			"content_type": r.Header.Get("Content-Type"),
			"token":        r.Header.Get("X-Token"),
			"body":         string(body),
		})
	}))
	defer srv.Close()

	res := invoke(testWebTool(Options{}), map[string]any{
		"url":       srv.URL,
		"method":    "post",
		"headers":   map[string]any{"X-Token": "abc"},
		"json_body": map[string]any{"n": 1},
	})
	if !res.Success {
		t.Fatalf("unexpected %+v", res)
	}
	out := res.Output.(map[string]any)
	if out["method"] != "POST" || out["content_type"] != "application/json" || out["token"] != "abc" || out["body"] != `{"n":1}` {
		t.Errorf("unexpected echo %v", out)
	}
	if res.Metadata["status_code"] != 200 {
		t.Errorf("unexpected metadata %v", res.Metadata)
	}
}

func TestWebToolHTMLToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, `<html><head><title>T</title><style>p{}</style></head>
<body><h1>Hello</h1><script>var x = 1;</script><p>First   paragraph
with <b>bold</b> text.</p><ul><li>one</li><li>two</li></ul></body></html>`)
	}))
	defer srv.Close()

	res := invoke(testWebTool(Options{}), map[string]any{"url": srv.URL})
	want := "Hello\nFirst paragraph with bold text.\none\ntwo"
	if !res.Success || res.Output != want {
		t.Errorf("expected %q, got %+v", want, res.Output)
	}
}

func TestWebToolErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			io.WriteString(w, strings.Repeat("x", 100))
			return
		}
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	res := invoke(testWebTool(Options{}), map[string]any{"url": srv.URL + "/missing"})
	if res.Success || res.Error != "HTTP 404" || res.Metadata["status_code"] != 404 {
		t.Errorf("404: %+v", res)
	}

	res = invoke(testWebTool(Options{MaxResponseSize: 10}), map[string]any{"url": srv.URL + "/big"})
	if res.Success || !strings.HasPrefix(res.Error, "Response too large") {
		t.Errorf("size cap: %+v", res)
	}

	res = invoke(testWebTool(Options{}), map[string]any{"url": srv.URL, "method": "TRACE"})
	if res.Success || res.Error != "Unsupported method: TRACE" {
		t.Errorf("method: %+v", res)
	}
}
