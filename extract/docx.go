package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/fumiama/go-docx"
)

// readDocx returns the text of a Word document, one line per paragraph.
// Tables are rendered as markdown tables.
func readDocx(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}

	items := doc.Document.Body.Items
	if len(items) == 0 {
		return "", fmt.Errorf("failed to open docx: no document body")
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case *docx.Paragraph:
			lines = append(lines, it.String())
		case *docx.Table:
			lines = append(lines, it.String())
		}
	}

	return strings.TrimRight(strings.Join(lines, "\n"), "\n"), nil
}
