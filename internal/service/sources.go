package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"dtkrag/internal/crawler"
	"dtkrag/internal/domain"
	"dtkrag/internal/extract"
)

// FileRequest asks for a local file to be uploaded and ingested.
type FileRequest struct {
	Path     string
	FileName string // defaults to the base name of Path
	FileType string // detected from the extension when empty
	Chunking *ChunkParams
}

type FileResult struct {
	DocumentID  string `json:"documentId"`
	FileName    string `json:"fileName"`
	FilePath    string `json:"filePath"`
	FileType    string `json:"fileType"`
	PageCount   int    `json:"pageCount"`
	ChunksCount int    `json:"chunksCount"`
	UploadedAt  string `json:"uploadedAt"`
	Preview     string `json:"preview,omitempty"`
}

// IngestFile extracts a file, keeps a copy under the upload directory as
// {documentId}{ext} and ingests it under a fresh document id.
func (s *RAGService) IngestFile(ctx context.Context, req FileRequest) (*FileResult, error) {
	if _, err := os.Stat(req.Path); err != nil {
		return nil, fmt.Errorf("file not found: %w", err)
	}
	fileName := req.FileName
	if fileName == "" {
		fileName = filepath.Base(req.Path)
	}
	detectFrom := fileName
	if filepath.Ext(detectFrom) == "" {
		detectFrom = req.Path
	}
	fileType, err := extract.DetectFileType(detectFrom, req.FileType)
	if err != nil {
		return nil, err
	}
	extracted, err := extract.FromFile(req.Path, fileType)
	if err != nil {
		return nil, err
	}

	documentID := uuid.NewString()
	uploadedAt := s.now().UTC().Format(time.RFC3339)
	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = "." + fileType
	}
	storedPath := filepath.Join(s.uploadDir(), documentID+ext)
	if err := copyFile(req.Path, storedPath); err != nil {
		return nil, fmt.Errorf("store upload copy: %w", err)
	}
	s.log.Debug("upload stored", "document_id", documentID, "path", storedPath)

	res, err := s.Ingest(ctx, IngestRequest{
		Text: extracted.Text,
		Metadata: domain.DocumentMetadata{
			DocumentID: documentID,
			FileName:   fileName,
			FilePath:   storedPath,
			FileType:   fileType,
			UploadedAt: uploadedAt,
		},
		Chunking: req.Chunking,
	})
	if err != nil {
		if rmErr := os.Remove(storedPath); rmErr != nil {
			s.log.Warn("failed to remove upload copy", "path", storedPath, "error", rmErr)
		}
		return nil, err
	}

	return &FileResult{
		DocumentID:  res.DocumentID,
		FileName:    fileName,
		FilePath:    storedPath,
		FileType:    fileType,
		PageCount:   extracted.PageCount,
		ChunksCount: res.ChunksCount,
		UploadedAt:  uploadedAt,
		Preview:     s.preview(extracted.Text),
	}, nil
}

// URLRequest asks for a web page to be crawled and ingested.
type URLRequest struct {
	URL      string
	NoSave   bool
	Chunking *ChunkParams
}

type URLResult struct {
	DocumentID    string `json:"documentId"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	ContentLength int    `json:"contentLength"`
	ChunksCount   int    `json:"chunksCount"`
	FilePath      string `json:"filePath"`
}

// IngestURL fetches a page and ingests its text with file type "web". The
// text is saved under the crawl directory unless NoSave is set; the stored
// file path is then the URL itself.
func (s *RAGService) IngestURL(ctx context.Context, req URLRequest) (*URLResult, error) {
	if s.fetcher == nil {
		return nil, &domain.ConfigError{Field: "fetcher", Reason: "web crawling is not configured"}
	}
	page, err := s.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	documentID := uuid.NewString()
	filePath := page.URL
	if !req.NoSave {
		dir := s.crawlDir()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create crawl directory: %w", err)
		}
		filePath = filepath.Join(dir, crawler.FileName(documentID, page.Title))
		if err := os.WriteFile(filePath, []byte(page.Text), 0o644); err != nil {
			return nil, fmt.Errorf("save crawled page: %w", err)
		}
		s.log.Debug("crawled page saved", "document_id", documentID, "path", filePath)
	}

	res, err := s.Ingest(ctx, IngestRequest{
		Text: page.Text,
		Metadata: domain.DocumentMetadata{
			DocumentID: documentID,
			FileName:   page.Title,
			FilePath:   filePath,
			FileType:   "web",
		},
		Chunking: req.Chunking,
	})
	if err != nil {
		if !req.NoSave {
			if rmErr := os.Remove(filePath); rmErr != nil {
				s.log.Warn("failed to remove crawled page", "path", filePath, "error", rmErr)
			}
		}
		return nil, err
	}
	return &URLResult{
		DocumentID:    res.DocumentID,
		URL:           page.URL,
		Title:         page.Title,
		ContentLength: utf8.RuneCountInString(page.Text),
		ChunksCount:   res.ChunksCount,
		FilePath:      filePath,
	}, nil
}

func (s *RAGService) preview(text string) string {
	if s.summarizer == nil {
		return ""
	}
	summary, err := s.summarizer.Summarize(text, s.opts.PreviewSentences)
	if err != nil {
		s.log.Warn("preview failed", "error", err)
		return ""
	}
	return strings.TrimSpace(summary)
}

func (s *RAGService) uploadDir() string {
	if s.opts.UploadDir == "" {
		return "uploads"
	}
	return s.opts.UploadDir
}

func (s *RAGService) crawlDir() string {
	if s.opts.CrawlDir == "" {
		return "crawled_data"
	}
	return s.opts.CrawlDir
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
