package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/martinemde/openwork/agentloop"
)

const matchContentLimit = 500

var errResultLimit = errors.New("result limit reached")

// SearchMatch is one matching line.
type SearchMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
	Matches int    `json:"matches"`
}

// SearchTool finds regex matches in text files.
type SearchTool struct {
	maxFileSize int64
	maxResults  int
}

// NewSearchTool creates the search tool.
func NewSearchTool(opts Options) *SearchTool {
	opts = opts.withDefaults()
	return &SearchTool{maxFileSize: opts.SearchMaxFileSize, maxResults: opts.SearchMaxResults}
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Search for content in files. Supports regex patterns and file type filtering."
}

func (t *SearchTool) Parameters() agentloop.Schema {
	return agentloop.Schema{Params: []agentloop.Param{
		{Name: "pattern", Type: "string", Description: "Search pattern (supports regex)", Required: true},
		{Name: "path", Type: "string", Description: "Directory or file to search in", Required: true},
		{Name: "recursive", Type: "boolean", Description: "Search recursively in subdirectories", Default: true},
		{Name: "file_pattern", Type: "string", Description: "File pattern to match (e.g., '*.py', '*.txt')", Default: "*"},
		{Name: "case_sensitive", Type: "boolean", Description: "Case sensitive search", Default: false},
		{Name: "max_results", Type: "integer", Description: "Maximum number of results to return", Default: t.maxResults},
	}}
}

func (t *SearchTool) RequiresPathCheck() bool { return true }

func (t *SearchTool) Invoke(ctx context.Context, params map[string]any) agentloop.ToolResult {
	pattern, _ := agentloop.GetStringArg(params, "pattern")
	raw, _ := agentloop.GetStringArg(params, "path")
	if pattern == "" || raw == "" {
		return agentloop.Failure("pattern and path are required")
	}
	root, err := filepath.Abs(raw)
	if err != nil {
		return agentloop.Failure("%v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return agentloop.Failure("Path not found: %s", root)
	}

	recursive := true
	if v, ok := agentloop.GetBoolArg(params, "recursive"); ok {
		recursive = v
	}
	filePattern := "*"
	if v, ok := agentloop.GetStringArg(params, "file_pattern"); ok && v != "" {
		filePattern = v
	}
	if _, err := filepath.Match(filePattern, ""); err != nil {
		return agentloop.Failure("Invalid file pattern: %v", err)
	}
	caseSensitive, _ := agentloop.GetBoolArg(params, "case_sensitive")
	maxResults := t.maxResults
	if v, ok := agentloop.GetIntArg(params, "max_results"); ok && v > 0 {
		maxResults = v
	}

	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return agentloop.Failure("Invalid regex pattern: %v", err)
	}

	s := &searcher{re: re, maxFileSize: t.maxFileSize, maxResults: maxResults}
	if !info.IsDir() {
		s.searchFile(root)
	} else {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable entries are skipped.
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if path != root && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if ok, _ := filepath.Match(filePattern, d.Name()); !ok || !d.Type().IsRegular() {
				return nil
			}
			return s.searchFile(path)
		})
		if err != nil && !errors.Is(err, errResultLimit) {
			return agentloop.Failure("%v", err)
		}
	}

	return agentloop.Success(s.results, map[string]any{
		"files_searched": s.filesSearched,
		"matches_found":  len(s.results),
		"truncated":      len(s.results) >= maxResults,
	})
}

type searcher struct {
	re            *regexp.Regexp
	maxFileSize   int64
	maxResults    int
	results       []SearchMatch
	filesSearched int
}

// searchFile appends the matching lines of path. Oversized, unreadable and
// binary files are skipped. It returns errResultLimit once the result cap
// is reached.
func (s *searcher) searchFile(path string) error {
	if len(s.results) >= s.maxResults {
		return errResultLimit
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() > s.maxFileSize {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if len(data) > 0 && !isText(mimetype.Detect(data)) {
		return nil
	}
	s.filesSearched++

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		n := len(s.re.FindAllStringIndex(text, -1))
		if n == 0 {
			continue
		}
		s.results = append(s.results, SearchMatch{
			File:    path,
			Line:    line,
			Content: truncateRunes(strings.TrimSpace(text), matchContentLimit),
			Matches: n,
		})
		if len(s.results) >= s.maxResults {
			return errResultLimit
		}
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
