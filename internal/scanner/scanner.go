// Package scanner walks a repository root and yields the file records the
// chunker consumes. The walk order is lexicographic by relative path, so
// unchanged content produces identical chunk boundaries run after run.
package scanner

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileRecord is one reviewable file. Path is relative to the scan root and
// is the stable identifier used in fingerprints.
type FileRecord struct {
	Path     string
	Content  string
	Size     int64
	Language string
}

// Stats counts what the walk saw and what it skipped.
type Stats struct {
	Scanned int
	Skipped int
}

// ScanError means the scan root itself is unusable. It is the only fatal
// scanner failure; individual file problems are skipped and logged.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan root %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// defaultExcludes covers VCS metadata, dependency trees and build output.
var defaultExcludes = []string{
	"**/.git/**",
	"**/.hg/**",
	"**/.svn/**",
	"**/.idea/**",
	"**/.vscode/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/venv/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/*.min.js",
	"**/*.lock",
	"**/.DS_Store",
	"**/.env",
	"**/.env.*",
}

// binaryExtensions is the extension denylist applied before content
// sniffing.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".pdf": true, ".zip": true, ".gz": true,
	".tar": true, ".bz2": true, ".xz": true, ".7z": true, ".jar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true,
	".o": true, ".wasm": true, ".woff": true, ".woff2": true, ".ttf": true,
	".eot": true, ".otf": true, ".mp3": true, ".mp4": true, ".mov": true,
	".avi": true, ".sqlite": true, ".db": true, ".pyc": true, ".pyo": true,
	".class": true,
}

var languageHints = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript", ".java": "java", ".rb": "ruby",
	".rs": "rust", ".c": "c", ".h": "c", ".cpp": "cpp", ".cc": "cpp",
	".hpp": "cpp", ".cs": "csharp", ".php": "php", ".kt": "kotlin",
	".swift": "swift", ".scala": "scala", ".sh": "shell", ".bash": "shell",
	".sql": "sql", ".html": "html", ".css": "css", ".scss": "css",
	".yaml": "yaml", ".yml": "yaml", ".json": "json", ".toml": "toml",
	".md": "markdown", ".proto": "protobuf", ".tf": "terraform",
}

type Scanner struct {
	root        string
	includes    []string
	excludes    []string
	maxFileSize int64
}

type Options struct {
	Includes    []string
	Excludes    []string
	MaxFileSize int64
}

func New(root string, opts Options) *Scanner {
	includes := opts.Includes
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	excludes := append([]string{}, defaultExcludes...)
	excludes = append(excludes, opts.Excludes...)

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = 512 * 1024
	}

	return &Scanner{
		root:        root,
		includes:    includes,
		excludes:    excludes,
		maxFileSize: maxSize,
	}
}

// Scan walks the root and returns the matching file records in
// lexicographic path order. Re-running Scan over unchanged content yields
// an identical sequence.
func (s *Scanner) Scan() ([]FileRecord, *Stats, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, nil, &ScanError{Root: s.root, Err: err}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, &ScanError{Root: s.root, Err: err}
	}
	if !info.IsDir() {
		return nil, nil, &ScanError{Root: s.root, Err: fmt.Errorf("not a directory")}
	}

	var records []FileRecord
	stats := &Stats{}

	// WalkDir visits entries in lexical order, which makes the sequence
	// deterministic without an extra sort.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			slog.Warn("skipped: unreadable", "path", path, "error", err)
			stats.Skipped++
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && s.matchesAny(s.excludes, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !s.matchesAny(s.includes, rel) || s.matchesAny(s.excludes, rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			slog.Warn("skipped: unreadable", "path", rel, "error", err)
			stats.Skipped++
			return nil
		}

		if fi.Size() > s.maxFileSize {
			slog.Warn("skipped: too large", "path", rel, "size", fi.Size(), "max", s.maxFileSize)
			stats.Skipped++
			return nil
		}

		ext := strings.ToLower(filepath.Ext(rel))
		if binaryExtensions[ext] {
			stats.Skipped++
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("skipped: unreadable", "path", rel, "error", err)
			stats.Skipped++
			return nil
		}

		if isBinary(data) {
			slog.Debug("skipped: binary content", "path", rel)
			stats.Skipped++
			return nil
		}

		records = append(records, FileRecord{
			Path:     rel,
			Content:  string(data),
			Size:     fi.Size(),
			Language: languageHints[ext],
		})
		stats.Scanned++
		return nil
	})
	if err != nil {
		return nil, nil, &ScanError{Root: s.root, Err: err}
	}

	return records, stats, nil
}

func (s *Scanner) matchesAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}

// isBinary uses the NUL-byte heuristic over the first 8000 bytes, same as
// git's content sniff.
func isBinary(data []byte) bool {
	sniff := data
	if len(sniff) > 8000 {
		sniff = sniff[:8000]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}
