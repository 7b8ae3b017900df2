package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

type Kind string

const (
	KindUnsupported Kind = ""
	KindPDF         Kind = "pdf"
	KindSpreadsheet Kind = "spreadsheet"
	KindWord        Kind = "word"
	KindText        Kind = "text"
	KindImage       Kind = "image"
)

var kinds = map[string]Kind{
	".pdf":  KindPDF,
	".xlsx": KindSpreadsheet,
	".docx": KindWord,
	".txt":  KindText,
	".md":   KindText,
	".csv":  KindText,
	".json": KindText,
	".log":  KindText,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".webp": KindImage,
}

// KindOf returns the kind of document judging by the file name extension
func KindOf(name string) Kind {
	return kinds[strings.ToLower(filepath.Ext(name))]
}

func Supported(name string) bool {
	return KindOf(name) != KindUnsupported
}

// ImageDescriber turns an image on disk into a textual description
type ImageDescriber interface {
	DescribeImage(ctx context.Context, path string) (string, error)
}

type Extractor struct {
	Images ImageDescriber
}

func New(images ImageDescriber) *Extractor {
	return &Extractor{Images: images}
}

// Extract converts the file at path to plain text. The original file name decides
// which parser is used since uploads are stored under generated names.
func (e *Extractor) Extract(ctx context.Context, path, originalName string) (string, error) {
	kind := KindOf(originalName)
	log.WithField("file", originalName).WithField("kind", kind).Debug("extracting")

	switch kind {
	case KindPDF:
		return readPDF(ctx, path)
	case KindSpreadsheet:
		return SheetCSV(path)
	case KindWord:
		return readDocx(path)
	case KindText:
		return readText(ctx, path)
	case KindImage:
		if e.Images == nil {
			return "", fmt.Errorf("%w: image analysis is not configured", ErrUnsupportedFileType)
		}
		analysis, err := e.Images.DescribeImage(ctx, path)
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("Image analysis result: %q", analysis), nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(originalName))
}

func readPDF(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	docs, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to parse pdf: %w", err)
	}

	return joinDocuments(docs), nil
}

func readText(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	docs, err := documentloaders.NewText(f).Load(ctx)
	if err != nil {
		return "", err
	}

	return joinDocuments(docs), nil
}

func joinDocuments(docs []schema.Document) string {
	pages := make([]string, 0, len(docs))
	for _, d := range docs {
		if len(strings.TrimSpace(d.PageContent)) == 0 {
			continue
		}
		pages = append(pages, d.PageContent)
	}

	return strings.Join(pages, "\n")
}
