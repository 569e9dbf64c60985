package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"dtkrag/internal/service"
	"dtkrag/internal/tui"
)

var (
	searchLimit     int
	searchThreshold float64
	searchJSON      bool

	getJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over ingested documents",
	Long: `Embeds the query and returns the most similar chunks. Only chunks whose
cosine similarity reaches the threshold are shown.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var getCmd = &cobra.Command{
	Use:   "get [documentId]",
	Short: "Print a stored document in chunk order",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [documentId]",
	Short: "Delete every chunk of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive search console",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0.7, "minimum cosine similarity")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	getCmd.Flags().BoolVar(&getJSON, "json", false, "output document as JSON")
	rootCmd.AddCommand(searchCmd, getCmd, deleteCmd, tuiCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	var opts service.RetrieveOptions
	if cmd.Flags().Changed("limit") {
		opts.Limit = searchLimit
	}
	threshold := app.svc.Threshold()
	if cmd.Flags().Changed("threshold") {
		threshold = searchThreshold
		opts.Threshold = &threshold
	}

	results, err := app.svc.Retrieve(cmd.Context(), query, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if searchJSON {
		return printJSON(cmd, results)
	}

	cmd.Println(service.Describe(query, results, threshold))
	for i, r := range results {
		cmd.Println()
		cmd.Printf("  [%d] %s (%.3f)\n", i+1, r.FileName, r.Score)
		cmd.Printf("      %s  chunk #%d  document %s\n", r.FilePath, r.ChunkIndex, r.DocumentID)
		cmd.Printf("      %s\n", snippet(r.ChunkText, 200))
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	doc, err := app.svc.GetDocument(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if getJSON {
		return printJSON(cmd, doc)
	}
	cmd.Printf("%s (%s): %d chunks\n", doc.FileName, doc.FilePath, doc.TotalChunks)
	if doc.Truncated {
		cmd.Printf("warning: only the first %d chunks were read\n", doc.TotalChunks)
	}
	for _, c := range doc.Chunks {
		cmd.Printf("\n--- chunk %d ---\n%s\n", c.ChunkIndex, c.ChunkText)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := app.svc.DeleteDocument(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	cmd.Printf("Document %s deleted.\n", args[0])
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	subtitle := fmt.Sprintf("store=%s  threshold=%.2f", app.cfg.VectorStore.Type, app.svc.Threshold())
	m := tui.New(app.svc, subtitle, app.cfg.Retrieval.Limit)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	return err
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
