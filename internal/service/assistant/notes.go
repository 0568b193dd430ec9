package assistant

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

const maxNotesRunes = 8000

var notesExtensions = []string{".txt", ".md", ".srt", ".vtt"}

// notesReader extracts text from a companion notes or subtitle file.
type notesReader struct {
	loader *file.FileLoader
}

func newNotesReader(ctx context.Context) (*notesReader, error) {
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init notes parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("init notes loader: %w", err)
	}
	return &notesReader{loader: loader}, nil
}

func notesSuffix(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range notesExtensions {
		if ext == allowed {
			return ext, true
		}
	}
	return "", false
}

// read returns the text of the file at path, truncated to maxNotesRunes.
func (n *notesReader) read(ctx context.Context, path string) (string, error) {
	docs, err := n.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		return "", fmt.Errorf("load notes: %w", err)
	}
	var b strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	text := strings.TrimSpace(b.String())
	if runes := []rune(text); len(runes) > maxNotesRunes {
		text = string(runes[:maxNotesRunes])
	}
	return text, nil
}
