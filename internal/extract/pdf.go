package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/storage"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoText is returned when a PDF has pages but no extractable text.
var ErrNoText = errors.New("no extractable text in document")

var pageFileRe = regexp.MustCompile(`(?i)page_(\d+)`)

// PDFExtractor turns a stored PDF into plain text using pdfcpu content extraction.
type PDFExtractor struct {
	store   storage.Storage
	tempDir string
}

func NewPDFExtractor(store storage.Storage, tempDir string) *PDFExtractor {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &PDFExtractor{store: store, tempDir: tempDir}
}

// Extract loads the object at storageKey and returns its text, pages separated by blank lines.
func (e *PDFExtractor) Extract(ctx context.Context, storageKey string) (string, error) {
	data, err := e.store.Get(ctx, storageKey)
	if err != nil {
		return "", fmt.Errorf("failed to get PDF from storage: %w", err)
	}
	return e.ExtractBytes(ctx, data)
}

func (e *PDFExtractor) ExtractBytes(ctx context.Context, data []byte) (string, error) {
	workDir, err := os.MkdirTemp(e.tempDir, "pdf-extract-")
	if err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inFile := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(inFile, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(inFile)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	outDir := filepath.Join(workDir, "content")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create content dir: %w", err)
	}
	if err := api.ExtractContentFile(inFile, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("failed to extract PDF content: %w", err)
	}

	pages, err := readPageStreams(outDir)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text := ContentStreamText(p.content)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}

	logger.Debug("Extracted PDF text", map[string]interface{}{
		"page_count": pdfCtx.PageCount,
		"streams":    len(pages),
		"chars":      b.Len(),
	})

	if b.Len() == 0 {
		return "", ErrNoText
	}
	return b.String(), nil
}

type pageStream struct {
	page    int
	content []byte
}

func readPageStreams(dir string) ([]pageStream, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted content: %w", err)
	}
	var pages []pageStream
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		m := pageFileRe.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		content, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read page content: %w", err)
		}
		pages = append(pages, pageStream{page: n, content: content})
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].page < pages[j].page })
	return pages, nil
}
