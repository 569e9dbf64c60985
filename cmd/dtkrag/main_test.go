package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtkrag/internal/config"
	"dtkrag/internal/domain"
	"dtkrag/internal/embedding/local"
	"dtkrag/internal/logger"
	"dtkrag/internal/vectorstore/memory"
)

// setupTestApp swaps the real assembly for a local embedder and a shared
// in-memory store so state survives across commands.
func setupTestApp(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.VectorStore.Type = "memory"
	cfg.Embedder.Provider = "local"
	cfg.Retrieval.Threshold = 0.2
	cfg.Storage.UploadDir = filepath.Join(t.TempDir(), "uploads")
	cfg.Storage.CrawlDir = filepath.Join(t.TempDir(), "crawled")

	emb := local.NewEmbedder(128)
	store := memory.NewStorage(emb.Dimension())
	orig := buildApp
	buildApp = func(string, bool) (*application, error) {
		return assemble(cfg, logger.Nop(), emb, store)
	}
	t.Cleanup(func() {
		buildApp = orig
		resetFlags(rootCmd)
	})
	return cfg
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

var docIDRe = regexp.MustCompile(`Document ID: (\S+)`)

func TestIngestSearchGetDelete(t *testing.T) {
	cfg := setupTestApp(t)
	src := filepath.Join(t.TempDir(), "access-control.txt")
	require.NoError(t, os.WriteFile(src, []byte(
		"Access control policy. User access rights are reviewed every quarter by the security officer. "+
			"Privileged access requires multi factor authentication."), 0o644))

	out, err := run(t, "ingest", src)
	require.NoError(t, err)
	assert.Contains(t, out, `Document "access-control.txt" uploaded and processed: 1 chunks stored.`)
	assert.Contains(t, out, "Preview:")
	m := docIDRe.FindStringSubmatch(out)
	require.Len(t, m, 2)
	id := m[1]
	assert.FileExists(t, filepath.Join(cfg.Storage.UploadDir, id+".txt"))

	out, err = run(t, "search", "--json", "user", "access", "rights", "review")
	require.NoError(t, err)
	var results []domain.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].DocumentID)
	assert.Equal(t, "access-control.txt", results[0].FileName)

	out, err = run(t, "search", "access rights")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 relevant results from 1 documents")
	assert.Contains(t, out, "[1] access-control.txt")

	out, err = run(t, "get", id)
	require.NoError(t, err)
	assert.Contains(t, out, "access-control.txt")
	assert.Contains(t, out, "--- chunk 0 ---")

	out, err = run(t, "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")
	_, err = run(t, "delete", id)
	require.NoError(t, err)

	_, err = run(t, "get", id)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestIngestChunkFlags(t *testing.T) {
	setupTestApp(t)
	src := filepath.Join(t.TempDir(), "long.md")
	text := make([]byte, 0, 3000)
	for len(text) < 3000 {
		text = append(text, "encryption keys are rotated annually. "...)
	}
	require.NoError(t, os.WriteFile(src, text, 0o644))

	out, err := run(t, "ingest", "--chunk-size", "1500", "--json", src)
	require.NoError(t, err)
	var res struct {
		ChunksCount int    `json:"chunksCount"`
		FileType    string `json:"fileType"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	// 1500 window, 200 overlap: starts at 0, 1300, 2600
	assert.Equal(t, 3, res.ChunksCount)
	assert.Equal(t, "md", res.FileType)

	_, err = run(t, "ingest", "--chunk-size", "100", "--chunk-overlap", "100", src)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestSearchNoResults(t *testing.T) {
	setupTestApp(t)
	out, err := run(t, "search", "--threshold", "0.99", "anything")
	require.NoError(t, err)
	assert.Contains(t, out, `No relevant documents found for "anything" (similarity threshold 0.99)`)
}

func TestCommandArgs(t *testing.T) {
	setupTestApp(t)
	_, err := run(t, "get")
	assert.Error(t, err)
	_, err = run(t, "ingest", "a.txt", "b.txt")
	assert.Error(t, err)

	flag := searchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "n", flag.Shorthand)
	assert.Equal(t, "10", flag.DefValue)
}

func TestSearchLimitFromConfig(t *testing.T) {
	cfg := setupTestApp(t)
	cfg.Retrieval.Limit = 2
	dir := t.TempDir()
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		src := filepath.Join(dir, name)
		body := "access review policy number " + string(rune('a'+i))
		require.NoError(t, os.WriteFile(src, []byte(body), 0o644))
		_, err := run(t, "ingest", src)
		require.NoError(t, err)
	}

	out, err := run(t, "search", "--json", "--threshold", "0", "access review")
	require.NoError(t, err)
	var results []domain.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results, 2)

	out, err = run(t, "search", "--json", "--threshold", "0", "-n", "3", "access review")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results, 3)
}

// offlineApp fails the test if a command tries to assemble the pipeline.
func offlineApp(t *testing.T) {
	t.Helper()
	orig := buildApp
	buildApp = func(string, bool) (*application, error) {
		t.Fatal("pipeline assembled for an offline command")
		return nil, nil
	}
	t.Cleanup(func() {
		buildApp = orig
		resetFlags(rootCmd)
	})
}

func TestScoreCommand(t *testing.T) {
	offlineApp(t)
	dir := t.TempDir()
	bench := filepath.Join(dir, "bench.json")
	require.NoError(t, os.WriteFile(bench, []byte(`{
  "name": "CIS Windows 11",
  "version": "4.0.0",
  "recommendations": {
    "Password Policy": {
      "Minimum password length": {"value": "14 or more"},
      "Maximum password age": {"value": "365 or less", "id": "1.1.2"}
    },
    "Security Options": {
      "Accounts: Guest account status": {"value": "Disabled"}
    }
  }
}`), 0o644))
	host := filepath.Join(dir, "host.yaml")
	require.NoError(t, os.WriteFile(host, []byte(
		"Password Policy:\n  Minimum password length: 8\n  Maximum password age: 90\nSecurity Options:\n  \"Accounts: Guest account status\": false\n"), 0o644))

	out, err := run(t, "score", "--benchmark", bench, host)
	require.NoError(t, err)
	assert.Contains(t, out, "CIS Windows 11 (4.0.0) scored 67% (Fair)")
	assert.Contains(t, out, "[Non-Compliant] Password Policy / Minimum password length (PAS-Mpl, Critical)")
	assert.Contains(t, out, "[Compliant] Password Policy / Maximum password age (1.1.2, Critical)")
	assert.Contains(t, out, "1. [Critical, 15-30 minutes] Current value (8) is below the recommended minimum (14)")

	out, err = run(t, "score", "-b", bench, "--focus", "security", "--json", host)
	require.NoError(t, err)
	var rep struct {
		OverallScore    int    `json:"overallScore"`
		ComplianceLevel string `json:"complianceLevel"`
		TotalChecks     int    `json:"totalChecks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.TotalChecks)
	assert.Equal(t, 100, rep.OverallScore)
	assert.Equal(t, "Excellent", rep.ComplianceLevel)

	_, err = run(t, "score", host)
	assert.Error(t, err)
}

func TestChecklistCommand(t *testing.T) {
	offlineApp(t)
	orig := checklistNow
	checklistNow = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { checklistNow = orig })

	out, err := run(t, "checklist", "iso27001", "--domain", "access")
	require.NoError(t, err)
	assert.Contains(t, out, "ISO27001 checklist: 4 requirements, 2 critical, 2 high priority. (domain: Access Control)")
	assert.Contains(t, out, "A.9.2")
	assert.NotContains(t, out, "A.10.1")

	extra := filepath.Join(t.TempDir(), "deadlines.yaml")
	require.NoError(t, os.WriteFile(extra, []byte(
		"- title: \"PCI DSS: Firewall rule review\"\n  date: 2026-02-20\n  type: Remediation\n  priority: Medium\n"), 0o644))
	out, err = run(t, "checklist", "pci-dss", "--deadlines", "--deadline-file", extra, "--gaps", "--focus", "encryption", "--json")
	require.NoError(t, err)
	var res struct {
		Checklist struct {
			Total int `json:"totalRequirements"`
		} `json:"checklist"`
		Deadlines []struct {
			Title     string `json:"title"`
			DaysUntil int    `json:"daysUntil"`
			Status    string `json:"status"`
		} `json:"deadlines"`
		Gaps struct {
			FocusArea string `json:"focusArea"`
			TotalGaps int    `json:"totalGaps"`
		} `json:"gapAnalysis"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 12, res.Checklist.Total)
	require.Len(t, res.Deadlines, 2)
	assert.Equal(t, "PCI DSS: Annual Assessment", res.Deadlines[0].Title)
	assert.Equal(t, 180, res.Deadlines[0].DaysUntil)
	assert.Equal(t, "Overdue", res.Deadlines[1].Status)
	assert.Equal(t, "Encryption", res.Gaps.FocusArea)
	assert.Equal(t, 2, res.Gaps.TotalGaps)

	out, err = run(t, "checklist", "both", "--deadlines")
	require.NoError(t, err)
	assert.Contains(t, out, "Deadlines:")
	assert.Contains(t, out, "Staff Training Completion")
	assert.NotContains(t, out, "checklist:")

	_, err = run(t, "checklist", "soc2")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
