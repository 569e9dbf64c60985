// Package compliance scores host configuration against hardening benchmarks
// and serves the ISO 27001 and PCI DSS requirement catalogs.
package compliance

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"dtkrag/internal/domain"
)

// Status is the outcome of one control check.
type Status string

const (
	StatusCompliant    Status = "Compliant"
	StatusNonCompliant Status = "Non-Compliant"
	StatusVerify       Status = "Needs Verification"
)

// Severity ranks controls, requirements and gaps.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Level is the overall compliance grade of a report.
type Level string

const (
	LevelExcellent Level = "Excellent"
	LevelGood      Level = "Good"
	LevelFair      Level = "Fair"
	LevelPoor      Level = "Poor"
	LevelCritical  Level = "Critical"
)

const (
	DefaultBenchmarkURL = "https://www.cisecurity.org/cis-benchmarks/"
	maxPriorityActions  = 10
)

// Control is one benchmark recommendation.
type Control struct {
	Value       string   `yaml:"value" json:"value"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
	ID          string   `yaml:"id,omitempty" json:"id,omitempty"`
	Section     string   `yaml:"section,omitempty" json:"section,omitempty"`
	SourceURL   string   `yaml:"sourceUrl,omitempty" json:"sourceUrl,omitempty"`
}

// Benchmark maps category -> control name -> recommendation.
type Benchmark struct {
	Name            string                        `yaml:"name" json:"name"`
	Version         string                        `yaml:"version" json:"version"`
	Source          string                        `yaml:"source" json:"source"`
	OfficialURL     string                        `yaml:"officialUrl" json:"officialUrl"`
	DocumentURL     string                        `yaml:"documentUrl" json:"documentUrl"`
	Recommendations map[string]map[string]Control `yaml:"recommendations" json:"recommendations"`
}

// Setting is one observed configuration value.
type Setting struct {
	Name  string
	Value string
}

// Category groups settings in file order.
type Category struct {
	Name     string
	Settings []Setting
}

// Configuration is the observed state of a host, in file order.
type Configuration []Category

// LoadBenchmark reads a benchmark from a YAML or JSON file.
func LoadBenchmark(path string) (*Benchmark, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read benchmark: %w", err)
	}
	var b Benchmark
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, &domain.ConfigError{Field: "benchmark", Value: path, Reason: err.Error()}
	}
	if b.OfficialURL == "" {
		b.OfficialURL = DefaultBenchmarkURL
	}
	if b.DocumentURL == "" {
		b.DocumentURL = b.OfficialURL
	}
	if b.Version == "" {
		b.Version = "Unknown"
	}
	return &b, nil
}

// LoadConfiguration reads observed settings from a YAML or JSON file shaped
// as {category: {control: value}}. Categories that are not mappings are skipped.
func LoadConfiguration(path string) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	return ParseConfiguration(data)
}

// ParseConfiguration decodes settings keeping the document order.
func ParseConfiguration(data []byte) (Configuration, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &domain.ConfigError{Field: "configuration", Reason: err.Error()}
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &domain.ConfigError{Field: "configuration", Reason: "expected a mapping of categories"}
	}
	var cfg Configuration
	for i := 0; i+1 < len(doc.Content); i += 2 {
		name, body := doc.Content[i].Value, doc.Content[i+1]
		if body.Kind != yaml.MappingNode {
			continue
		}
		cat := Category{Name: name}
		for j := 0; j+1 < len(body.Content); j += 2 {
			v := body.Content[j+1]
			value := v.Value
			if v.Kind != yaml.ScalarNode || v.Tag == "!!null" {
				value = ""
			}
			cat.Settings = append(cat.Settings, Setting{Name: body.Content[j].Value, Value: value})
		}
		cfg = append(cfg, cat)
	}
	return cfg, nil
}

// Result is the outcome of one control.
type Result struct {
	Category         string   `json:"category"`
	ControlID        string   `json:"controlId"`
	ControlName      string   `json:"controlName"`
	CurrentValue     string   `json:"currentValue"`
	RecommendedValue string   `json:"recommendedValue"`
	Status           Status   `json:"status"`
	Severity         Severity `json:"severity"`
	Description      string   `json:"description"`
	Recommendation   string   `json:"recommendation"`
	Impact           string   `json:"impact,omitempty"`
	Reference        string   `json:"benchmarkReference"`
	SourceURL        string   `json:"sourceUrl"`
}

// Action is a remediation step for a failed control.
type Action struct {
	Action          string   `json:"action"`
	Priority        Severity `json:"priority"`
	EstimatedEffort string   `json:"estimatedEffort"`
}

// Report is the scored benchmark run.
type Report struct {
	Benchmark        string   `json:"benchmark"`
	BenchmarkVersion string   `json:"benchmarkVersion"`
	OfficialURL      string   `json:"officialUrl"`
	DocumentURL      string   `json:"documentUrl"`
	OverallScore     int      `json:"overallScore"`
	ComplianceLevel  Level    `json:"complianceLevel"`
	TotalChecks      int      `json:"totalChecks"`
	PassedChecks     int      `json:"passedChecks"`
	FailedChecks     int      `json:"failedChecks"`
	CriticalFindings int      `json:"criticalFindings"`
	Results          []Result `json:"detailedResults"`
	PriorityActions  []Action `json:"priorityActions"`
	Summary          string   `json:"summary"`
}

// Score checks every setting against the benchmark. When focus is not
// empty only categories containing one of its entries are scored.
func Score(b *Benchmark, cfg Configuration, focus []string) *Report {
	if b == nil {
		b = &Benchmark{}
	}
	rep := &Report{
		Benchmark:        b.Name,
		BenchmarkVersion: b.Version,
		OfficialURL:      nonEmpty(b.OfficialURL, DefaultBenchmarkURL),
		DocumentURL:      nonEmpty(b.DocumentURL, b.OfficialURL, DefaultBenchmarkURL),
		Results:          []Result{},
		PriorityActions:  []Action{},
	}
	for _, cat := range cfg {
		if !inFocus(cat.Name, focus) {
			continue
		}
		controls := b.Recommendations[cat.Name]
		for _, s := range cat.Settings {
			r := check(b, cat.Name, s, controls)
			switch r.Status {
			case StatusCompliant:
				rep.PassedChecks++
			case StatusNonCompliant:
				rep.FailedChecks++
				if r.Severity == SeverityCritical {
					rep.CriticalFindings++
				}
			}
			rep.Results = append(rep.Results, r)
		}
	}

	rep.TotalChecks = len(rep.Results)
	rep.OverallScore = OverallScore(rep.PassedChecks, rep.TotalChecks)
	rep.ComplianceLevel = ComplianceLevel(rep.OverallScore, rep.CriticalFindings)
	rep.PriorityActions = PriorityActions(rep.Results)
	rep.Summary = fmt.Sprintf("%s (%s) scored %d%% (%s): %d of %d controls compliant, %d non-compliant, %d critical findings.",
		nonEmpty(b.Name, "Benchmark"), rep.BenchmarkVersion, rep.OverallScore, rep.ComplianceLevel,
		rep.PassedChecks, rep.TotalChecks, rep.FailedChecks, rep.CriticalFindings)
	return rep
}

func check(b *Benchmark, category string, s Setting, controls map[string]Control) Result {
	ctl, known := controls[s.Name]
	severity := ctl.Severity
	if severity == "" {
		severity = DetermineSeverity(s.Name, category)
	}
	id := ctl.ID
	if id == "" {
		id = ControlID(category, s.Name)
	}
	desc := nonEmpty(ctl.Description, fmt.Sprintf("Benchmark recommendation for %s", s.Name))
	r := Result{
		Category:         category,
		ControlID:        id,
		ControlName:      s.Name,
		CurrentValue:     s.Value,
		RecommendedValue: ctl.Value,
		Severity:         severity,
		Description:      desc,
		Reference:        nonEmpty(ctl.Section, "Section "+id),
		SourceURL:        nonEmpty(ctl.SourceURL, b.OfficialURL, DefaultBenchmarkURL),
	}

	if !known || strings.TrimSpace(ctl.Value) == "" {
		r.Status = StatusVerify
		r.Recommendation = fmt.Sprintf("No benchmark value for %q; verify it manually.", s.Name)
		return r
	}
	cmp := CompareValues(s.Value, ctl.Value)
	r.Status = cmp.Status
	r.Recommendation = cmp.Recommendation
	if r.Recommendation == "" {
		r.Recommendation = fmt.Sprintf("Change %q from %q to %q. %s", s.Name, s.Value, ctl.Value, desc)
	}
	if r.Status == StatusNonCompliant {
		r.Impact = Impact(severity)
	}
	return r
}

// Comparison is the verdict for one value pair.
type Comparison struct {
	Status         Status
	Recommendation string
}

var numberRe = regexp.MustCompile(`[+-]?(?:\d+\.?\d*|\.\d+)`)

// CompareValues matches an observed value against a recommendation such as
// "24 or more", "60 or less", "Enabled" or an exact string.
func CompareValues(current, recommended string) Comparison {
	cur := strings.ToLower(strings.TrimSpace(current))
	rec := strings.ToLower(strings.TrimSpace(recommended))
	if cur == "" || cur == "not configured" || cur == "not found" {
		return Comparison{Status: StatusVerify}
	}
	if cur == rec {
		return Comparison{Status: StatusCompliant}
	}

	// bounds run before the substring check so "4" does not satisfy "24 or more"
	curNum, curOK := firstNumber(cur)
	recNum, recOK := firstNumber(rec)
	if curOK && recOK {
		switch {
		case hasAny(rec, "or more", "atau lebih", "≥"):
			if curNum >= recNum {
				return Comparison{Status: StatusCompliant}
			}
			return Comparison{
				Status:         StatusNonCompliant,
				Recommendation: fmt.Sprintf("Current value (%s) is below the recommended minimum (%s)", formatNumber(curNum), formatNumber(recNum)),
			}
		case hasAny(rec, "or less", "atau kurang", "≤"):
			if curNum <= recNum {
				return Comparison{Status: StatusCompliant}
			}
			return Comparison{
				Status:         StatusNonCompliant,
				Recommendation: fmt.Sprintf("Current value (%s) exceeds the recommended maximum (%s)", formatNumber(curNum), formatNumber(recNum)),
			}
		}
	}

	if strings.Contains(cur, rec) || strings.Contains(rec, cur) {
		return Comparison{Status: StatusCompliant}
	}
	if strings.Contains(rec, "enabled") && (strings.Contains(cur, "enabled") || cur == "true") {
		return Comparison{Status: StatusCompliant}
	}
	if strings.Contains(rec, "disabled") && (strings.Contains(cur, "disabled") || cur == "false") {
		return Comparison{Status: StatusCompliant}
	}
	return Comparison{Status: StatusNonCompliant}
}

func firstNumber(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	return f, err == nil
}

func formatNumber(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

var (
	criticalKeywords = []string{"reversible encryption", "password", "authentication", "encryption", "rdp", "remote desktop"}
	highKeywords     = []string{"lockout", "access", "guest", "administrator"}
)

// DetermineSeverity guesses a severity for controls the benchmark does not rate.
func DetermineSeverity(control, category string) Severity {
	control, category = strings.ToLower(control), strings.ToLower(category)
	matches := func(keywords []string) bool {
		for _, kw := range keywords {
			if strings.Contains(control, kw) || strings.Contains(category, kw) {
				return true
			}
		}
		return false
	}
	switch {
	case matches(criticalKeywords):
		return SeverityCritical
	case matches(highKeywords):
		return SeverityHigh
	}
	return SeverityMedium
}

// ControlID builds a stand-in id such as "PAS-Mpl" from the category prefix
// and the initials of the control name.
func ControlID(category, control string) string {
	prefix := []rune(strings.ToUpper(category))
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	var initials []rune
	for _, w := range strings.Fields(control) {
		initials = append(initials, []rune(w)[0])
		if len(initials) == 3 {
			break
		}
	}
	return string(prefix) + "-" + string(initials)
}

// OverallScore is the rounded percentage of passed checks.
func OverallScore(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(passed) / float64(total) * 100))
}

// ComplianceLevel grades a score. Critical findings cap the grade at Fair;
// below 60 they turn Poor into Critical.
func ComplianceLevel(score, criticalFindings int) Level {
	switch {
	case score >= 90 && criticalFindings == 0:
		return LevelExcellent
	case score >= 75 && criticalFindings == 0:
		return LevelGood
	case score >= 60:
		return LevelFair
	case criticalFindings > 0:
		return LevelCritical
	}
	return LevelPoor
}

// PriorityActions returns up to ten failed controls, most severe first.
func PriorityActions(results []Result) []Action {
	var failed []Result
	for _, r := range results {
		if r.Status == StatusNonCompliant {
			failed = append(failed, r)
		}
	}
	sort.SliceStable(failed, func(i, j int) bool {
		return failed[i].Severity.rank() > failed[j].Severity.rank()
	})
	if len(failed) > maxPriorityActions {
		failed = failed[:maxPriorityActions]
	}
	actions := make([]Action, 0, len(failed))
	for _, r := range failed {
		actions = append(actions, Action{Action: r.Recommendation, Priority: r.Severity, EstimatedEffort: effort(r.Severity)})
	}
	return actions
}

func effort(s Severity) string {
	switch s {
	case SeverityCritical:
		return "15-30 minutes"
	case SeverityHigh:
		return "30-60 minutes"
	}
	return "1-2 hours"
}

// Impact describes the risk of leaving a control non-compliant.
func Impact(s Severity) string {
	switch s {
	case SeverityCritical:
		return "Very high security risk. The host is highly exposed to attack and fails the compliance baseline. Fix immediately."
	case SeverityHigh:
		return "High security risk. The host is exposed to attack and fails the compliance baseline."
	case SeverityLow:
		return "Low security risk. Fixing it improves the compliance posture."
	}
	return "Moderate security risk. Fix it to raise the compliance level."
}

func inFocus(category string, focus []string) bool {
	if len(focus) == 0 {
		return true
	}
	category = strings.ToLower(category)
	for _, f := range focus {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" && strings.Contains(category, f) {
			return true
		}
	}
	return false
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func nonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
