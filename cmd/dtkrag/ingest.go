package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"dtkrag/internal/service"
)

var (
	ingestType         string
	ingestName         string
	ingestChunkSize    int
	ingestChunkOverlap int
	ingestJSON         bool

	crawlChunkSize    int
	crawlChunkOverlap int
	crawlNoSave       bool
	crawlJSON         bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Upload a document into the vector store",
	Long: `Extracts text from a txt, md, csv or html file, splits it into overlapping
chunks, embeds them and stores them under a new document id. A copy of the
file is kept in the upload directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [url]",
	Short: "Crawl a web page into the vector store",
	Args:  cobra.ExactArgs(1),
	RunE:  runCrawl,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestType, "type", "t", "", "file type (txt, md, csv, html); detected from the extension by default")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "display file name (default: base name of the path)")
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", 1000, "chunk size in characters")
	ingestCmd.Flags().IntVar(&ingestChunkOverlap, "chunk-overlap", 200, "overlap between chunks in characters")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output result as JSON")
	rootCmd.AddCommand(ingestCmd)

	crawlCmd.Flags().IntVar(&crawlChunkSize, "chunk-size", 1000, "chunk size in characters")
	crawlCmd.Flags().IntVar(&crawlChunkOverlap, "chunk-overlap", 200, "overlap between chunks in characters")
	crawlCmd.Flags().BoolVar(&crawlNoSave, "no-save", false, "do not keep the crawled text in the crawl directory")
	crawlCmd.Flags().BoolVar(&crawlJSON, "json", false, "output result as JSON")
	rootCmd.AddCommand(crawlCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	res, err := app.svc.IngestFile(cmd.Context(), service.FileRequest{
		Path:     args[0],
		FileName: ingestName,
		FileType: ingestType,
		Chunking: chunkParams(cmd, ingestChunkSize, ingestChunkOverlap),
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	if ingestJSON {
		return printJSON(cmd, res)
	}
	cmd.Printf("Document %q uploaded and processed: %d chunks stored.\n", res.FileName, res.ChunksCount)
	cmd.Printf("  Document ID: %s\n", res.DocumentID)
	cmd.Printf("  Stored at:   %s\n", res.FilePath)
	cmd.Printf("  Type:        %s (~%d pages)\n", res.FileType, res.PageCount)
	if res.Preview != "" {
		cmd.Println()
		cmd.Println("Preview:")
		cmd.Printf("  %s\n", res.Preview)
	}
	return nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	res, err := app.svc.IngestURL(cmd.Context(), service.URLRequest{
		URL:      args[0],
		NoSave:   crawlNoSave,
		Chunking: chunkParams(cmd, crawlChunkSize, crawlChunkOverlap),
	})
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	if crawlJSON {
		return printJSON(cmd, res)
	}
	cmd.Printf("Crawled %s: %d characters, %d chunks stored.\n", res.URL, res.ContentLength, res.ChunksCount)
	cmd.Printf("  Title:       %s\n", res.Title)
	cmd.Printf("  Document ID: %s\n", res.DocumentID)
	cmd.Printf("  File path:   %s\n", res.FilePath)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
