package compliance

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dtkrag/internal/domain"
)

// Framework names a compliance standard.
type Framework string

const (
	ISO27001 Framework = "ISO27001"
	PCIDSS   Framework = "PCIDSS"
	// Both only applies to deadlines.
	Both Framework = "BOTH"
)

// ParseFramework accepts spellings like "iso27001", "ISO-27001", "pci-dss" or "PCI DSS".
func ParseFramework(s string) (Framework, error) {
	norm := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToUpper(strings.TrimSpace(s)))
	switch norm {
	case "ISO27001", "ISO":
		return ISO27001, nil
	case "PCIDSS", "PCI":
		return PCIDSS, nil
	case "BOTH", "ALL":
		return Both, nil
	}
	return "", &domain.ConfigError{Field: "framework", Value: s, Reason: "expected iso27001, pci-dss or both"}
}

// RequirementStatus tracks implementation progress.
type RequirementStatus string

const (
	NotStarted     RequirementStatus = "Not Started"
	InProgress     RequirementStatus = "In Progress"
	Completed      RequirementStatus = "Completed"
	RequiresReview RequirementStatus = "Requires Review"
)

// Requirement is one catalog entry.
type Requirement struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Category string            `json:"category"`
	Priority Severity          `json:"priority"`
	Status   RequirementStatus `json:"status"`
}

type requirementDomain struct {
	name         string
	requirements []Requirement
}

func req(id, title, category string, p Severity) Requirement {
	return Requirement{ID: id, Title: title, Category: category, Priority: p}
}

var iso27001Catalog = []requirementDomain{
	{"Access Control", []Requirement{
		req("A.9.1", "Business requirements of access control", "Access Control", SeverityHigh),
		req("A.9.2", "User access management", "Access Control", SeverityCritical),
		req("A.9.3", "User responsibilities", "Access Control", SeverityHigh),
		req("A.9.4", "System and application access control", "Access Control", SeverityCritical),
	}},
	{"Cryptography", []Requirement{
		req("A.10.1", "Cryptographic controls", "Cryptography", SeverityCritical),
		req("A.10.1.1", "Policy on the use of cryptographic controls", "Cryptography", SeverityHigh),
		req("A.10.1.2", "Key management", "Cryptography", SeverityCritical),
	}},
	{"Physical Security", []Requirement{
		req("A.11.1", "Secure areas", "Physical Security", SeverityHigh),
		req("A.11.2", "Equipment", "Physical Security", SeverityMedium),
	}},
	{"Network Security", []Requirement{
		req("A.9.4.4", "Access control to program source code", "Network Security", SeverityHigh),
		req("A.13.1", "Network security management", "Network Security", SeverityCritical),
	}},
}

var pciDSSCatalog = []requirementDomain{
	{"Build and Maintain Secure Network", []Requirement{
		req("Req 1", "Install and maintain network security controls", "Network Security", SeverityCritical),
		req("Req 2", "Apply secure configurations to all system components", "Configuration Management", SeverityCritical),
	}},
	{"Protect Cardholder Data", []Requirement{
		req("Req 3", "Protect stored cardholder data", "Data Protection", SeverityCritical),
		req("Req 4", "Protect cardholder data with strong cryptography during transmission", "Encryption", SeverityCritical),
	}},
	{"Maintain Vulnerability Management", []Requirement{
		req("Req 5", "Protect all systems and networks from malicious software", "Anti-Malware", SeverityCritical),
		req("Req 6", "Develop and maintain secure systems and software", "Secure Development", SeverityHigh),
	}},
	{"Implement Strong Access Control", []Requirement{
		req("Req 7", "Restrict access to cardholder data by business need to know", "Access Control", SeverityCritical),
		req("Req 8", "Identify users and authenticate access to system components", "Authentication", SeverityCritical),
		req("Req 9", "Restrict physical access to cardholder data", "Physical Security", SeverityHigh),
	}},
	{"Monitor and Test Networks", []Requirement{
		req("Req 10", "Log and monitor all access to system components and cardholder data", "Logging & Monitoring", SeverityCritical),
		req("Req 11", "Test security of systems and networks regularly", "Testing", SeverityHigh),
	}},
	{"Maintain Information Security Policy", []Requirement{
		req("Req 12", "Support information security with organizational policies and programs", "Policy", SeverityHigh),
	}},
}

// Checklist is a catalog slice for one framework.
type Checklist struct {
	Framework    Framework     `json:"framework"`
	Domain       string        `json:"domain"`
	Requirements []Requirement `json:"requirements"`
	Total        int           `json:"totalRequirements"`
	Critical     int           `json:"critical"`
	High         int           `json:"high"`
	Summary      string        `json:"summary"`
}

// BuildChecklist lists the requirements of a framework. A domain matches
// when either name contains the other; an unknown domain yields the whole
// catalog.
func BuildChecklist(fw Framework, domainName string) (*Checklist, error) {
	var catalog []requirementDomain
	switch fw {
	case ISO27001:
		catalog = iso27001Catalog
	case PCIDSS:
		catalog = pciDSSCatalog
	default:
		return nil, &domain.ConfigError{Field: "framework", Value: string(fw), Reason: "checklist needs iso27001 or pci-dss"}
	}

	list := &Checklist{Framework: fw, Domain: "All"}
	var picked []Requirement
	if d := strings.ToLower(strings.TrimSpace(domainName)); d != "" {
		for _, rd := range catalog {
			name := strings.ToLower(rd.name)
			if strings.Contains(name, d) || strings.Contains(d, name) {
				picked = rd.requirements
				list.Domain = rd.name
				break
			}
		}
	}
	if picked == nil {
		for _, rd := range catalog {
			picked = append(picked, rd.requirements...)
		}
	}

	list.Requirements = make([]Requirement, len(picked))
	for i, r := range picked {
		r.Status = NotStarted
		list.Requirements[i] = r
		switch r.Priority {
		case SeverityCritical:
			list.Critical++
		case SeverityHigh:
			list.High++
		}
	}
	list.Total = len(list.Requirements)
	list.Summary = fmt.Sprintf("%s checklist: %d requirements, %d critical, %d high priority.", fw, list.Total, list.Critical, list.High)
	return list, nil
}

// DeadlineStatus classifies a deadline relative to today.
type DeadlineStatus string

const (
	Upcoming DeadlineStatus = "Upcoming"
	DueSoon  DeadlineStatus = "Due Soon"
	Overdue  DeadlineStatus = "Overdue"
)

const dueSoonDays = 30

// Deadline is an audit milestone. Date is YYYY-MM-DD.
type Deadline struct {
	Title    string   `yaml:"title" json:"title"`
	Date     string   `yaml:"date" json:"date"`
	Type     string   `yaml:"type" json:"type"`
	Priority Severity `yaml:"priority" json:"priority"`
}

// TrackedDeadline is a deadline with its countdown.
type TrackedDeadline struct {
	Deadline
	DaysUntil int            `json:"daysUntil"`
	Status    DeadlineStatus `json:"status"`
}

// DefaultDeadlines are the standard milestones counted from now.
func DefaultDeadlines(now time.Time) []Deadline {
	in := func(days int) string { return now.AddDate(0, 0, days).UTC().Format(time.DateOnly) }
	return []Deadline{
		{Title: "ISO 27001: Initial Certification Audit", Date: in(90), Type: "Audit", Priority: SeverityCritical},
		{Title: "PCI DSS: Annual Assessment", Date: in(180), Type: "Audit", Priority: SeverityCritical},
		{Title: "Documentation Review", Date: in(30), Type: "Documentation", Priority: SeverityHigh},
		{Title: "Staff Training Completion", Date: in(45), Type: "Training", Priority: SeverityHigh},
	}
}

// LoadDeadlines reads a YAML or JSON list of deadlines.
func LoadDeadlines(path string) ([]Deadline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deadlines: %w", err)
	}
	var out []Deadline
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, &domain.ConfigError{Field: "deadlines", Value: path, Reason: err.Error()}
	}
	return out, nil
}

// StatusFor returns the countdown in whole days, rounded up, and its status.
// Anything within thirty days is due soon.
func StatusFor(date, now time.Time) (int, DeadlineStatus) {
	days := int(math.Ceil(date.Sub(now).Hours() / 24))
	switch {
	case days < 0:
		return days, Overdue
	case days <= dueSoonDays:
		return days, DueSoon
	}
	return days, Upcoming
}

// TrackDeadlines filters deadlines by framework title and orders them by
// priority, then by how soon they fall.
func TrackDeadlines(fw Framework, deadlines []Deadline, now time.Time) ([]TrackedDeadline, error) {
	out := make([]TrackedDeadline, 0, len(deadlines))
	for _, d := range deadlines {
		switch fw {
		case ISO27001:
			if !strings.Contains(d.Title, "ISO") {
				continue
			}
		case PCIDSS:
			if !strings.Contains(d.Title, "PCI") {
				continue
			}
		}
		date, err := time.Parse(time.DateOnly, strings.TrimSpace(d.Date))
		if err != nil {
			return nil, &domain.ConfigError{Field: "deadline date", Value: d.Date, Reason: "expected YYYY-MM-DD"}
		}
		days, status := StatusFor(date, now)
		out = append(out, TrackedDeadline{Deadline: d, DaysUntil: days, Status: status})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.rank(), out[j].Priority.rank(); ri != rj {
			return ri > rj
		}
		return out[i].DaysUntil < out[j].DaysUntil
	})
	return out, nil
}

// Gap is a common shortfall against a framework.
type Gap struct {
	Requirement     string   `json:"requirement"`
	Description     string   `json:"gapDescription"`
	Severity        Severity `json:"severity"`
	Recommendation  string   `json:"recommendation"`
	EstimatedEffort string   `json:"estimatedEffort"`
}

// GapReport is the result of a gap analysis.
type GapReport struct {
	Framework    Framework `json:"framework"`
	FocusArea    string    `json:"focusArea"`
	Gaps         []Gap     `json:"gaps"`
	TotalGaps    int       `json:"totalGaps"`
	CriticalGaps int       `json:"criticalGaps"`
	Summary      string    `json:"summary"`
}

var commonGaps = []struct {
	area string
	gaps []Gap
}{
	{"Access Control", []Gap{
		{"User Access Management", "No formal documentation for user access provisioning and deprovisioning", SeverityCritical,
			"Implement an access control policy and procedure for the user lifecycle", "2-3 weeks"},
		{"Privileged Access Control", "Privileged accounts are not reviewed periodically", SeverityHigh,
			"Set up a documented quarterly review of privileged access", "1-2 weeks"},
	}},
	{"Encryption", []Gap{
		{"Data Encryption at Rest", "Not all stored cardholder data is encrypted", SeverityCritical,
			"Encrypt all stored cardholder data with AES-256", "4-6 weeks"},
		{"Data Encryption in Transit", "Some connections still use TLS 1.1 or lower", SeverityHigh,
			"Upgrade all connections to TLS 1.2 or higher", "2-3 weeks"},
	}},
	{"Logging & Monitoring", []Gap{
		{"Audit Logging", "Logs are not retained for the minimum required period", SeverityHigh,
			"Set a log retention policy that meets the requirement (at least one year)", "1-2 weeks"},
	}},
}

var policyGap = Gap{
	Requirement:     "Information Security Policy",
	Description:     "Policies and procedures are not fully documented",
	Severity:        SeverityHigh,
	Recommendation:  "Document all policies and procedures according to the applicable standard",
	EstimatedEffort: "3-4 weeks",
}

// AnalyzeGaps lists common gaps for a focus area (all areas when it matches
// none). A current state mentioning documentation or policy adds the policy gap.
func AnalyzeGaps(fw Framework, currentState, focusArea string) (*GapReport, error) {
	if fw != ISO27001 && fw != PCIDSS {
		return nil, &domain.ConfigError{Field: "framework", Value: string(fw), Reason: "gap analysis needs iso27001 or pci-dss"}
	}
	rep := &GapReport{Framework: fw, FocusArea: "All Areas", Gaps: []Gap{}}
	matched := false
	if f := strings.ToLower(strings.TrimSpace(focusArea)); f != "" {
		for _, g := range commonGaps {
			if strings.Contains(strings.ToLower(g.area), f) {
				rep.Gaps = append(rep.Gaps, g.gaps...)
				rep.FocusArea = g.area
				matched = true
				break
			}
		}
	}
	if !matched {
		for _, g := range commonGaps {
			rep.Gaps = append(rep.Gaps, g.gaps...)
		}
	}
	state := strings.ToLower(currentState)
	if strings.Contains(state, "documentation") || strings.Contains(state, "policy") {
		rep.Gaps = append(rep.Gaps, policyGap)
	}

	for _, g := range rep.Gaps {
		if g.Severity == SeverityCritical {
			rep.CriticalGaps++
		}
	}
	rep.TotalGaps = len(rep.Gaps)
	rep.Summary = fmt.Sprintf("%s gap analysis: %d gaps, %d critical. Close critical gaps before the audit.", fw, rep.TotalGaps, rep.CriticalGaps)
	return rep, nil
}
