package tools

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/martinemde/openwork/agentloop"
)

// Options tunes the built-in tools. Zero values fall back to
// DefaultOptions.
type Options struct {
	// bash
	BashTimeout     time.Duration
	MaxOutputLength int
	AllowedCommands []string // empty allows any command that passes the block lists
	BlockedCommands []string // replaces the default block list when set

	// code
	CodeTimeout     time.Duration
	Python          string
	AllowFileAccess bool // skips the blocked-pattern screen

	// search
	SearchMaxFileSize int64
	SearchMaxResults  int

	// web
	WebTimeout      time.Duration
	MaxResponseSize int64
	AllowedDomains  []string
	BlockedDomains  []string
	HTTPClient      *http.Client

	Logger *slog.Logger
}

// DefaultOptions returns the default tool settings.
func DefaultOptions() Options {
	return Options{
		BashTimeout:       60 * time.Second,
		MaxOutputLength:   50000,
		BlockedCommands:   defaultBlockedCommands,
		CodeTimeout:       30 * time.Second,
		Python:            "python3",
		SearchMaxFileSize: 10 * 1024 * 1024,
		SearchMaxResults:  100,
		WebTimeout:        30 * time.Second,
		MaxResponseSize:   10 * 1024 * 1024,
		BlockedDomains:    defaultBlockedDomains,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BashTimeout <= 0 {
		o.BashTimeout = def.BashTimeout
	}
	if o.MaxOutputLength <= 0 {
		o.MaxOutputLength = def.MaxOutputLength
	}
	if len(o.BlockedCommands) == 0 {
		o.BlockedCommands = def.BlockedCommands
	}
	if o.CodeTimeout <= 0 {
		o.CodeTimeout = def.CodeTimeout
	}
	if o.Python == "" {
		o.Python = def.Python
	}
	if o.SearchMaxFileSize <= 0 {
		o.SearchMaxFileSize = def.SearchMaxFileSize
	}
	if o.SearchMaxResults <= 0 {
		o.SearchMaxResults = def.SearchMaxResults
	}
	if o.WebTimeout <= 0 {
		o.WebTimeout = def.WebTimeout
	}
	if o.MaxResponseSize <= 0 {
		o.MaxResponseSize = def.MaxResponseSize
	}
	if len(o.BlockedDomains) == 0 {
		o.BlockedDomains = def.BlockedDomains
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Default returns the built-in tool set: file, bash, search, web and code.
func Default(opts Options) []agentloop.Tool {
	opts = opts.withDefaults()
	return []agentloop.Tool{
		NewFileTool(),
		NewBashTool(opts),
		NewSearchTool(opts),
		NewWebTool(opts),
		NewCodeTool(opts),
	}
}
