// Package extract pulls text and table rows out of PDF files for the
// extraction agents. It leans on pdfcpu for validation and content
// access; the text itself comes from a small content-stream scanner that
// collects the show-text operators. Extraction is best effort: fonts
// with custom encodings lose fidelity, and the caller is expected to
// degrade rather than fail when a file yields nothing useful.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFExtractor reads text and tabular rows from PDF files on disk.
type PDFExtractor struct {
	conf   *pdfmodel.Configuration
	logger *slog.Logger
}

// NewPDFExtractor creates a PDFExtractor with relaxed validation, so
// slightly malformed files from real scanners still process.
func NewPDFExtractor(logger *slog.Logger) *PDFExtractor {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return &PDFExtractor{conf: conf, logger: logger}
}

// PageCount reports the number of pages, validating the file in passing.
func (e *PDFExtractor) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("extract: page count %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// Text extracts the visible text of every page, pages separated by
// newlines. The content streams are materialized into a temp dir by
// pdfcpu and scanned for show-text operators.
func (e *PDFExtractor) Text(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", "kiroku-extract-*")
	if err != nil {
		return "", fmt.Errorf("extract: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := api.ExtractContentFile(path, dir, nil, e.conf); err != nil {
		return "", fmt.Errorf("extract: content %s: %w", filepath.Base(path), err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("extract: read content dir: %w", err)
	}

	var pages []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stream, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			e.logger.Warn("skipping unreadable content stream", "file", entry.Name(), "error", err)
			continue
		}
		if page := parseContent(stream); page != "" {
			pages = append(pages, page)
		}
	}
	return strings.Join(pages, "\n"), nil
}

// Tables implements agent.TableExtractor: it derives row groups from
// lines of the extracted text that look columnar.
func (e *PDFExtractor) Tables(ctx context.Context, path string) ([][][]string, error) {
	text, err := e.Text(ctx, path)
	if err != nil {
		return nil, err
	}
	return tablesFromText(text), nil
}

// parseContent scans a PDF page content stream and collects the string
// literals fed to show-text operators. Escaped parens and octal escapes
// are honored; hex strings and ToUnicode remapping are not, which is
// acceptable for keyword and amount scanning.
func parseContent(stream []byte) string {
	var (
		out     strings.Builder
		lit     strings.Builder
		depth   int
		started bool
	)

	flushLine := func() {
		if started {
			out.WriteByte('\n')
			started = false
		}
	}

	for i := 0; i < len(stream); i++ {
		c := stream[i]

		if depth > 0 {
			switch c {
			case '\\':
				if i+1 >= len(stream) {
					break
				}
				i++
				switch esc := stream[i]; esc {
				case 'n':
					lit.WriteByte('\n')
				case 't':
					lit.WriteByte('\t')
				case '(', ')', '\\':
					lit.WriteByte(esc)
				default:
					if esc >= '0' && esc <= '7' {
						j := i
						for j < len(stream) && j-i < 3 && stream[j] >= '0' && stream[j] <= '7' {
							j++
						}
						if v, err := strconv.ParseUint(string(stream[i:j]), 8, 16); err == nil && v < 256 {
							lit.WriteByte(byte(v))
						}
						i = j - 1
					}
				}
			case '(':
				depth++
				lit.WriteByte(c)
			case ')':
				depth--
				if depth == 0 {
					if s := lit.String(); s != "" {
						if started {
							out.WriteByte(' ')
						}
						out.WriteString(s)
						started = true
					}
					lit.Reset()
				} else {
					lit.WriteByte(c)
				}
			default:
				lit.WriteByte(c)
			}
			continue
		}

		switch c {
		case '(':
			depth = 1
		case 'T':
			// Td, TD and T* move to a new text line.
			if i+1 < len(stream) {
				switch stream[i+1] {
				case 'd', 'D', '*':
					flushLine()
					i++
				}
			}
		case 'E':
			if i+1 < len(stream) && stream[i+1] == 'T' {
				flushLine()
				i++
			}
		}
	}
	flushLine()
	return strings.TrimRight(out.String(), "\n")
}

// minTableColumns is the narrowest line still treated as a table row.
const minTableColumns = 3

// tablesFromText groups consecutive columnar lines into tables. A line
// is columnar when splitting it on tabs or runs of two-plus spaces
// yields at least minTableColumns cells.
func tablesFromText(text string) [][][]string {
	var (
		tables  [][][]string
		current [][]string
	)

	flush := func() {
		if len(current) > 0 {
			tables = append(tables, current)
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		cells := splitColumns(line)
		if len(cells) >= minTableColumns {
			current = append(current, cells)
		} else {
			flush()
		}
	}
	flush()
	return tables
}

func splitColumns(line string) []string {
	var (
		cells []string
		cur   strings.Builder
		run   int
	)
	flush := func() {
		if cell := strings.TrimSpace(cur.String()); cell != "" {
			cells = append(cells, cell)
		}
		cur.Reset()
	}
	for _, r := range line {
		switch {
		case r == '\t':
			flush()
			run = 0
		case r == ' ':
			run++
			if run >= 2 {
				flush()
			} else {
				cur.WriteRune(r)
			}
		default:
			if run >= 2 {
				cur.Reset()
			}
			run = 0
			cur.WriteRune(r)
		}
	}
	flush()
	return cells
}
