// Package parser is the reference core.Parser adapter wired by
// cmd/codegraphsync. spec.md keeps the language-specific source parser an
// opaque, out-of-scope collaborator; this package is a minimal filesystem
// parser (one Entity per file, hashed by content) so the CLI has a working
// default rather than requiring a language toolchain integration before it
// can run end to end. A real multi-language parser is still a pluggable
// core.Parser — swap the implementation passed into internal/app without
// touching the sync engine.
package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
)

// Config configures a FileParser.
type Config struct {
	// Root is stripped from absolute paths to produce the Entity.Path
	// recorded in the graph.
	Root string
}

// FileParser implements core.Parser over the local filesystem: each
// ParseFile call reads one file, hashes its contents, and emits a single
// file Entity plus a matching ChangeFragment.
type FileParser struct {
	root string
}

// New returns a FileParser rooted at cfg.Root.
func New(cfg Config) *FileParser {
	return &FileParser{root: cfg.Root}
}

// ParseFile reads path and produces the file Entity and its change fragment.
// Read errors are returned as a recoverable core.ParseError rather than a Go
// error, so the batch coordinator can skip the file and continue (§ per-item
// parser errors do not halt the batch).
func (p *FileParser) ParseFile(ctx context.Context, path string) (core.ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return core.ParseResult{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return core.ParseResult{
			Errors: []core.ParseError{{
				File:        path,
				Type:        "read_error",
				Message:     err.Error(),
				Recoverable: true,
				Timestamp:   time.Now().Unix(),
			}},
		}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return core.ParseResult{
			Errors: []core.ParseError{{
				File:        path,
				Type:        "stat_error",
				Message:     err.Error(),
				Recoverable: true,
				Timestamp:   time.Now().Unix(),
			}},
		}, nil
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	relPath := p.relativePath(path)
	entityID := entityID(relPath)

	entity := core.Entity{
		ID:           entityID,
		Kind:         core.EntityKindFile,
		Path:         relPath,
		Language:     languageOf(path),
		Hash:         hash,
		LastModified: info.ModTime().UTC(),
		Attrs: map[string]any{
			"size_bytes": info.Size(),
		},
	}

	fragment := core.ChangeFragment{
		ID:         "frag_" + uuid.NewString(),
		Kind:       core.FragmentKindEntity,
		Op:         core.FragmentOpUpdate,
		Data:       entity,
		Confidence: 1,
	}

	return core.ParseResult{
		Entities:  []core.Entity{entity},
		Fragments: []core.ChangeFragment{fragment},
	}, nil
}

func (p *FileParser) relativePath(path string) string {
	if p.root == "" {
		return path
	}
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// entityID derives a stable id from a relative path so the same file always
// resolves to the same graph entity across syncs.
func entityID(relPath string) string {
	sum := sha256.Sum256([]byte(relPath))
	return fmt.Sprintf("file_%s", hex.EncodeToString(sum[:8]))
}

func languageOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".md":
		return "markdown"
	default:
		return ""
	}
}
