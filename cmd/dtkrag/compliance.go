package main

import (
	"time"

	"github.com/spf13/cobra"

	"dtkrag/internal/compliance"
)

// offlineAnnotation marks commands that run without the embedder and store.
const offlineAnnotation = "dtkrag/offline"

var (
	scoreBenchmark string
	scoreFocus     []string
	scoreJSON      bool

	checklistDomain       string
	checklistDeadlines    bool
	checklistDeadlineFile string
	checklistGaps         bool
	checklistCurrentState string
	checklistGapFocusArea string
	checklistJSON         bool
)

// checklistNow is replaced in tests.
var checklistNow = time.Now

var scoreCmd = &cobra.Command{
	Use:   "score [configuration-file]",
	Short: "Score a host configuration against a hardening benchmark",
	Long: `Compares each setting of a configuration file ({category: {control: value}},
YAML or JSON) with the recommendation in the benchmark file and reports the
compliance score, grade and the most urgent fixes.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{offlineAnnotation: "true"},
	RunE:        runScore,
}

var checklistCmd = &cobra.Command{
	Use:         "checklist [iso27001|pci-dss|both]",
	Short:       "List framework requirements, audit deadlines and common gaps",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{offlineAnnotation: "true"},
	RunE:        runChecklist,
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreBenchmark, "benchmark", "b", "", "benchmark file (YAML or JSON)")
	scoreCmd.Flags().StringSliceVar(&scoreFocus, "focus", nil, "only score categories containing one of these names")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "output the report as JSON")
	_ = scoreCmd.MarkFlagRequired("benchmark")

	checklistCmd.Flags().StringVar(&checklistDomain, "domain", "", "only list requirements of this domain")
	checklistCmd.Flags().BoolVar(&checklistDeadlines, "deadlines", false, "also list audit deadlines")
	checklistCmd.Flags().StringVar(&checklistDeadlineFile, "deadline-file", "", "extra deadlines (YAML or JSON list of title, date, type, priority)")
	checklistCmd.Flags().BoolVar(&checklistGaps, "gaps", false, "also run a gap analysis")
	checklistCmd.Flags().StringVar(&checklistCurrentState, "state", "", "description of the current state for the gap analysis")
	checklistCmd.Flags().StringVar(&checklistGapFocusArea, "focus", "", "gap analysis focus area")
	checklistCmd.Flags().BoolVar(&checklistJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(scoreCmd, checklistCmd)
}

func isOffline(cmd *cobra.Command) bool {
	return cmd.Annotations[offlineAnnotation] == "true"
}

func runScore(cmd *cobra.Command, args []string) error {
	bench, err := compliance.LoadBenchmark(scoreBenchmark)
	if err != nil {
		return err
	}
	cfg, err := compliance.LoadConfiguration(args[0])
	if err != nil {
		return err
	}
	rep := compliance.Score(bench, cfg, scoreFocus)
	if scoreJSON {
		return printJSON(cmd, rep)
	}

	cmd.Println(rep.Summary)
	for _, r := range rep.Results {
		cmd.Printf("  [%s] %s / %s (%s, %s)\n", r.Status, r.Category, r.ControlName, r.ControlID, r.Severity)
		cmd.Printf("      current %q, recommended %q\n", r.CurrentValue, r.RecommendedValue)
	}
	if len(rep.PriorityActions) > 0 {
		cmd.Println()
		cmd.Println("Priority actions:")
		for i, a := range rep.PriorityActions {
			cmd.Printf("  %d. [%s, %s] %s\n", i+1, a.Priority, a.EstimatedEffort, a.Action)
		}
	}
	return nil
}

type checklistOutput struct {
	Checklist *compliance.Checklist        `json:"checklist,omitempty"`
	Deadlines []compliance.TrackedDeadline `json:"deadlines,omitempty"`
	Gaps      *compliance.GapReport        `json:"gapAnalysis,omitempty"`
}

func runChecklist(cmd *cobra.Command, args []string) error {
	fw, err := compliance.ParseFramework(args[0])
	if err != nil {
		return err
	}
	var out checklistOutput
	if fw != compliance.Both || !checklistDeadlines {
		if out.Checklist, err = compliance.BuildChecklist(fw, checklistDomain); err != nil {
			return err
		}
	}
	if checklistDeadlines {
		now := checklistNow()
		deadlines := compliance.DefaultDeadlines(now)
		if checklistDeadlineFile != "" {
			extra, err := compliance.LoadDeadlines(checklistDeadlineFile)
			if err != nil {
				return err
			}
			deadlines = append(deadlines, extra...)
		}
		if out.Deadlines, err = compliance.TrackDeadlines(fw, deadlines, now); err != nil {
			return err
		}
	}
	if checklistGaps {
		if out.Gaps, err = compliance.AnalyzeGaps(fw, checklistCurrentState, checklistGapFocusArea); err != nil {
			return err
		}
	}
	if checklistJSON {
		return printJSON(cmd, out)
	}

	if c := out.Checklist; c != nil {
		cmd.Printf("%s (domain: %s)\n", c.Summary, c.Domain)
		for _, r := range c.Requirements {
			cmd.Printf("  %-9s %-8s %s [%s]\n", r.ID, r.Priority, r.Title, r.Status)
		}
	}
	if checklistDeadlines {
		cmd.Println()
		cmd.Println("Deadlines:")
		for _, d := range out.Deadlines {
			cmd.Printf("  %s  %-9s %-8s %s (%d days)\n", d.Date, d.Status, d.Priority, d.Title, d.DaysUntil)
		}
	}
	if g := out.Gaps; g != nil {
		cmd.Println()
		cmd.Println(g.Summary)
		for _, gap := range g.Gaps {
			cmd.Printf("  [%s] %s: %s\n", gap.Severity, gap.Requirement, gap.Description)
			cmd.Printf("      %s (%s)\n", gap.Recommendation, gap.EstimatedEffort)
		}
	}
	return nil
}
