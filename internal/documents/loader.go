package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

// partSeparator joins the pages or rows of a multi-part file.
const partSeparator = "\n\n"

// Load reads the file at path and returns its text. The loader is chosen by
// extension: PDF, HTML and CSV are parsed, anything else is read as text.
func Load(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var loader documentloaders.Loader
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", filepath.Base(path), err)
		}
		loader = documentloaders.NewPDF(f, info.Size())
	case ".html", ".htm":
		loader = documentloaders.NewHTML(f)
	case ".csv":
		loader = documentloaders.NewCSV(f)
	default:
		loader = documentloaders.NewText(f)
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return join(docs), nil
}

func join(docs []schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if text := strings.TrimSpace(d.PageContent); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, partSeparator)
}
