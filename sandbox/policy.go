package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// DefaultMaxFileSize is the largest existing file a tool may touch.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// Config describes what a Policy permits.
type Config struct {
	AllowedPaths      []string `json:"allowed_paths" yaml:"allowed_paths" toml:"allowed_paths"`
	MaxFileSize       int64    `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
	AllowedExtensions []string `json:"allowed_extensions" yaml:"allowed_extensions" toml:"allowed_extensions"`
	BlockedExtensions []string `json:"blocked_extensions" yaml:"blocked_extensions" toml:"blocked_extensions"`
}

// DefaultConfig returns a Config with no allowed roots and the stock
// extension lists.
func DefaultConfig() Config {
	return Config{
		MaxFileSize: DefaultMaxFileSize,
		AllowedExtensions: []string{
			".txt", ".md", ".json", ".yaml", ".yml",
			".py", ".js", ".ts", ".html", ".css",
			".csv", ".xml", ".log", ".sh", ".bat", ".go",
		},
		BlockedExtensions: []string{".exe", ".dll", ".so", ".dylib", ".bin", ".dat"},
	}
}

// WithAllowedPaths returns a copy of c whose roots are paths.
func (c Config) WithAllowedPaths(paths []string) Config {
	c.AllowedPaths = slices.Clone(paths)
	return c
}

// Policy decides whether a filesystem path may be touched by a tool. A
// Policy with no allowed roots denies everything. It is safe for
// concurrent use.
type Policy struct {
	mu          sync.RWMutex
	roots       []string
	maxFileSize int64
	allowedExt  map[string]bool
	blockedExt  map[string]bool
}

// New builds a Policy from cfg. Roots are resolved once.
func New(cfg Config) *Policy {
	p := &Policy{
		maxFileSize: cfg.MaxFileSize,
		allowedExt:  extSet(cfg.AllowedExtensions),
		blockedExt:  extSet(cfg.BlockedExtensions),
	}
	if p.maxFileSize <= 0 {
		p.maxFileSize = DefaultMaxFileSize
	}
	for _, root := range cfg.AllowedPaths {
		p.AddAllowedPath(root)
	}
	return p
}

func extSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// AddAllowedPath adds a root. Adding an already present root is a no-op.
func (p *Policy) AddAllowedPath(path string) {
	if path == "" {
		return
	}
	root := resolve(path)
	if root == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.roots, root) {
		p.roots = append(p.roots, root)
	}
}

// RemoveAllowedPath removes a root if present.
func (p *Policy) RemoveAllowedPath(path string) {
	root := resolve(path)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roots = slices.DeleteFunc(p.roots, func(r string) bool { return r == root })
}

// AllowedPaths returns the resolved roots.
func (p *Policy) AllowedPaths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.roots)
}

// IsPathAllowed reports whether path equals or descends from an allowed
// root after resolution.
func (p *Policy) IsPathAllowed(path string) bool {
	return p.isResolvedAllowed(resolve(path))
}

func (p *Policy) isResolvedAllowed(resolved string) bool {
	if resolved == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, root := range p.roots {
		if within(root, resolved) {
			return true
		}
	}
	return false
}

// IsExtensionAllowed applies the extension lists to path's suffix. A
// blocked suffix always loses; an empty suffix passes.
func (p *Policy) IsExtensionAllowed(path string) bool {
	ext := Ext(path)
	if p.blockedExt[ext] {
		return false
	}
	if len(p.allowedExt) == 0 || ext == "" {
		return true
	}
	return p.allowedExt[ext]
}

// Validate checks path containment, then for existing regular files the
// extension and size limits. The first failing check supplies the reason.
func (p *Policy) Validate(path string) (bool, string) {
	resolved := resolve(path)
	if !p.isResolvedAllowed(resolved) {
		return false, fmt.Sprintf("path not in allowed directories: %s", resolved)
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return true, ""
	}
	if !p.IsExtensionAllowed(resolved) {
		return false, fmt.Sprintf("file extension not allowed: %s", Ext(resolved))
	}
	if info.Size() > p.maxFileSize {
		return false, fmt.Sprintf("file exceeds size limit: %d bytes", info.Size())
	}
	return true, ""
}

// Status is a diagnostic snapshot of a Policy.
type Status struct {
	AllowedPaths      []string `json:"allowed_paths"`
	MaxFileSize       int64    `json:"max_file_size"`
	AllowedExtensions []string `json:"allowed_extensions"`
	BlockedExtensions []string `json:"blocked_extensions"`
}

// Status returns the current configuration.
func (p *Policy) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		AllowedPaths:      slices.Clone(p.roots),
		MaxFileSize:       p.maxFileSize,
		AllowedExtensions: sortedKeys(p.allowedExt),
		BlockedExtensions: sortedKeys(p.blockedExt),
	}
}

// Config returns a Config equivalent to the policy's current state.
func (p *Policy) Config() Config {
	s := p.Status()
	return Config{
		AllowedPaths:      s.AllowedPaths,
		MaxFileSize:       s.MaxFileSize,
		AllowedExtensions: s.AllowedExtensions,
		BlockedExtensions: s.BlockedExtensions,
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Ext returns the lower-cased final suffix of path. Only a dot after the
// first character starts a suffix, so ".bashrc" has none and "..exe" has
// ".exe".
func Ext(path string) string {
	base := filepath.Base(path)
	i := strings.LastIndex(base, ".")
	if i <= 0 || i == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[i:])
}

func within(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// maxLinkHops bounds symlink chains followed by resolve.
const maxLinkHops = 40

// resolve returns the absolute, cleaned path with symlinks evaluated for
// the longest existing prefix, so paths that do not exist yet still resolve
// against their real parent. Dangling links are followed to their target.
// An unreadable link or a chain longer than maxLinkHops resolves to "",
// which no root contains.
func resolve(path string) string {
	return resolveLinks(path, 0)
}

func resolveLinks(path string, hops int) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs
	}
	realParent := resolveLinks(parent, hops)
	if realParent == "" {
		return ""
	}

	info, err := os.Lstat(abs)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return filepath.Join(realParent, filepath.Base(abs))
	}
	if hops >= maxLinkHops {
		return ""
	}
	target, err := os.Readlink(abs)
	if err != nil {
		return ""
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(realParent, target)
	}
	return resolveLinks(target, hops+1)
}
