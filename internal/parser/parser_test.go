package parser_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/codegraph-sync/internal/core"
	"github.com/vitaliisemenov/codegraph-sync/internal/parser"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileParser_ParseFileEmitsFileEntity(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", "package main\n")

	p := parser.New(parser.Config{Root: dir})
	result, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Entities, 1)

	entity := result.Entities[0]
	assert.Equal(t, core.EntityKindFile, entity.Kind)
	assert.Equal(t, "main.go", entity.Path)
	assert.Equal(t, "go", entity.Language)
	assert.NotEmpty(t, entity.Hash)
	require.Len(t, result.Fragments, 1)
	assert.Equal(t, core.FragmentKindEntity, result.Fragments[0].Kind)
}

func TestFileParser_ParseFileIsStableAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "print('hi')\n")

	p := parser.New(parser.Config{Root: dir})
	first, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	second, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first.Entities[0].ID, second.Entities[0].ID)
	assert.Equal(t, first.Entities[0].Hash, second.Entities[0].Hash)
}

func TestFileParser_ParseFileMissingFileReturnsRecoverableError(t *testing.T) {
	p := parser.New(parser.Config{Root: t.TempDir()})
	result, err := p.ParseFile(context.Background(), "/nonexistent/path/file.go")
	require.NoError(t, err)
	require.Empty(t, result.Entities)
	require.Len(t, result.Errors, 1)
	assert.True(t, result.Errors[0].Recoverable)
}
