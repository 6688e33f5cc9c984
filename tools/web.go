package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/martinemde/openwork/agentloop"
)

var defaultBlockedDomains = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
	"::1",
}

var webMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

// WebTool makes HTTP requests.
type WebTool struct {
	client          *http.Client
	timeout         time.Duration
	maxResponseSize int64
	allowedDomains  []string
	blockedDomains  []string
}

// NewWebTool creates the web tool.
func NewWebTool(opts Options) *WebTool {
	opts = opts.withDefaults()
	return &WebTool{
		client:          opts.HTTPClient,
		timeout:         opts.WebTimeout,
		maxResponseSize: opts.MaxResponseSize,
		allowedDomains:  opts.AllowedDomains,
		blockedDomains:  opts.BlockedDomains,
	}
}

func (t *WebTool) Name() string { return "web" }

func (t *WebTool) Description() string {
	return "Make HTTP requests to fetch web content or interact with APIs. HTML pages are returned as plain text."
}

func (t *WebTool) Parameters() agentloop.Schema {
	return agentloop.Schema{Params: []agentloop.Param{
		{Name: "url", Type: "string", Description: "The URL to request", Required: true},
		{Name: "method", Type: "string", Description: "HTTP method (default: GET)", Enum: webMethods, Default: "GET"},
		{Name: "headers", Type: "object", Description: "HTTP headers to include"},
		{Name: "body", Type: "string", Description: "Request body (for POST/PUT/PATCH)"},
		{Name: "json_body", Type: "object", Description: "JSON request body (for POST/PUT/PATCH)"},
		{Name: "timeout", Type: "integer", Description: fmt.Sprintf("Request timeout in seconds (default: %d)", int(t.timeout.Seconds())),
			Default: int(t.timeout.Seconds())},
	}}
}

func (t *WebTool) RequiresPathCheck() bool { return false }

// checkURL reports why raw may not be fetched, or "" when it may.
func (t *WebTool) checkURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("Invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "Invalid scheme: " + u.Scheme
	}
	host := strings.ToLower(u.Hostname())
	for _, b := range t.blockedDomains {
		if matchDomain(host, b) {
			return "Blocked domain: " + host
		}
	}
	if len(t.allowedDomains) > 0 && !slices.ContainsFunc(t.allowedDomains, func(d string) bool { return matchDomain(host, d) }) {
		return "Domain not in whitelist: " + host
	}
	return ""
}

func matchDomain(host, domain string) bool {
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func (t *WebTool) Invoke(ctx context.Context, params map[string]any) agentloop.ToolResult {
	rawURL, _ := agentloop.GetStringArg(params, "url")
	if rawURL == "" {
		return agentloop.Failure("url is required")
	}
	if reason := t.checkURL(rawURL); reason != "" {
		return agentloop.Failure("%s", reason)
	}

	method := "GET"
	if m, ok := agentloop.GetStringArg(params, "method"); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if !slices.Contains(webMethods, method) {
		return agentloop.Failure("Unsupported method: %s", method)
	}
	timeout := t.timeout
	if secs, ok := agentloop.GetIntArg(params, "timeout"); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	var body io.Reader
	contentType := ""
	if jb, ok := params["json_body"]; ok && jb != nil {
		b, err := json.Marshal(jb)
		if err != nil {
			return agentloop.Failure("encode json_body: %v", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	} else if s, ok := agentloop.GetStringArg(params, "body"); ok {
		body = strings.NewReader(s)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return agentloop.Failure("%v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := agentloop.GetStringMapArg(params, "headers"); ok {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return agentloop.Failure("Request timed out after %d seconds", int(timeout.Seconds()))
		}
		return agentloop.Failure("%v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResponseSize+1))
	if err != nil {
		return agentloop.Failure("read response: %v", err)
	}
	if int64(len(data)) > t.maxResponseSize {
		return agentloop.Failure("Response too large: more than %d bytes", t.maxResponseSize)
	}

	respType := resp.Header.Get("Content-Type")
	var output any = string(data)
	switch {
	case strings.Contains(respType, "application/json"):
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			output = v
		}
	case strings.Contains(respType, "text/html"):
		if text, err := htmlToText(data); err == nil {
			output = text
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	meta := map[string]any{
		"status_code":    resp.StatusCode,
		"headers":        headers,
		"content_type":   respType,
		"content_length": len(data),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return agentloop.ToolResult{Success: false, Output: output, Error: fmt.Sprintf("HTTP %d", resp.StatusCode), Metadata: meta}
	}
	return agentloop.Success(output, meta)
}

// skipElements hold no readable text.
var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true, "svg": true, "template": true,
}

// blockElements end a line of text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "table": true,
	"td": true, "th": true,
	"ul": true, "ol": true, "header": true, "footer": true, "blockquote": true,
}

// htmlToText extracts the readable text of an HTML document, one block per
// line, with runs of whitespace collapsed.
func htmlToText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	var lines []string
	var cur strings.Builder
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
			return
		case html.ElementNode:
			if skipElements[n.Data] {
				return
			}
			if blockElements[n.Data] {
				flush()
				defer flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	flush()
	return strings.Join(lines, "\n"), nil
}
