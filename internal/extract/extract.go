// Package extract turns uploaded files into plain text for chunking.
package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"dtkrag/internal/domain"
)

const (
	wordsPerPage = 500
	rowsPerPage  = 50
)

// Supported lists the file types FromFile understands.
var Supported = []string{"txt", "md", "csv", "html"}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Result is the extracted text with an estimated page count.
type Result struct {
	Text      string
	FileType  string
	PageCount int
}

// DetectFileType normalizes an explicit type or derives it from the file
// extension.
func DetectFileType(path, explicit string) (string, error) {
	t := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(explicit), "."))
	if t == "" {
		t = strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	}
	switch t {
	case "txt", "text":
		return "txt", nil
	case "md", "markdown":
		return "md", nil
	case "csv":
		return "csv", nil
	case "html", "htm":
		return "html", nil
	case "":
		return "", fmt.Errorf("%w: cannot detect type of %q, supported: %s",
			domain.ErrUnsupportedFileType, filepath.Base(path), strings.Join(Supported, ", "))
	default:
		return "", fmt.Errorf("%w: %s, supported: %s", domain.ErrUnsupportedFileType, t, strings.Join(Supported, ", "))
	}
}

// FromFile extracts text from path according to fileType. A file without
// readable content fails with domain.ErrEmptyContent.
func FromFile(path, fileType string) (Result, error) {
	ft, err := DetectFileType(path, fileType)
	if err != nil {
		return Result{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	var res Result
	switch ft {
	case "csv":
		res, err = CSV(f)
	case "html":
		var text string
		_, text, err = HTML(f)
		res = Result{Text: text, PageCount: estimatePages(text)}
	default:
		res, err = Plain(f)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s extraction failed: %w", strings.ToUpper(ft), err)
	}
	if res.Text == "" {
		return Result{}, fmt.Errorf("%w: no text could be extracted from %s", domain.ErrEmptyContent, filepath.Base(path))
	}
	res.FileType = ft
	return res, nil
}

// Plain reads UTF-8 text (txt, md) and trims it.
func Plain(r io.Reader) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, err
	}
	text := strings.TrimSpace(string(data))
	return Result{Text: text, PageCount: estimatePages(text)}, nil
}

// CSV renders each row as its non-empty trimmed cells joined by " | ".
// Ragged rows are accepted.
func CSV(r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var (
		b    strings.Builder
		rows int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, err
		}
		cells := make([]string, 0, len(record))
		for _, c := range record {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) == 0 {
			continue
		}
		if rows > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(cells, " | "))
		rows++
	}
	pages := (rows + rowsPerPage - 1) / rowsPerPage
	if pages < 1 {
		pages = 1
	}
	return Result{Text: b.String(), PageCount: pages}, nil
}

// HTML drops scripts, styles and page chrome, and returns the document title
// and its whitespace-collapsed body text.
func HTML(r io.Reader) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	title = CollapseWhitespace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, nav, footer, aside, head").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	// block elements would otherwise glue neighbouring words together
	root.Find("p, div, li, br, h1, h2, h3, h4, h5, h6, tr, td, th, section, article").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	text = CollapseWhitespace(root.Text())
	return title, text, nil
}

// CollapseWhitespace replaces whitespace runs with one space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func estimatePages(text string) int {
	words := len(strings.Fields(text))
	pages := (words + wordsPerPage - 1) / wordsPerPage
	if pages < 1 {
		pages = 1
	}
	return pages
}
